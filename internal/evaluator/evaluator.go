package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"support-bot/internal/llm"
	"support-bot/internal/retrieval"
)

const defaultTimeout = 30 * time.Second

const fallbackCasualReply = "Hey! 👋 I'm here if you have any questions about the product."

// Persona describes the support agent voice used in every prompt.
type Persona struct {
	Name            string
	Role            string
	Goal            string
	SensitiveTopics []string
}

func DefaultPersona() Persona {
	return Persona{
		Name:            "Support Agent",
		Role:            "community support agent for the product",
		Goal:            "answer product questions accurately using only the provided context",
		SensitiveTopics: []string{"funds", "tokens", "wallets", "private keys", "withdrawals"},
	}
}

// Evaluator wraps the external reasoning service. Every method degrades to a
// safe value on failure and never returns an error.
type Evaluator struct {
	client  llm.Client
	persona Persona
	timeout time.Duration
}

func New(client llm.Client, persona Persona, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Evaluator{client: client, persona: persona, timeout: timeout}
}

func (e *Evaluator) generate(ctx context.Context, step string, msgs []llm.Message) (string, error) {
	if e.client == nil {
		return "", fmt.Errorf("no llm client configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	resp, err := e.client.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	log.Printf("LLM %s [model=%s, tokens: prompt=%d, completion=%d, total=%d]",
		step, resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	return strings.TrimSpace(resp.Content), nil
}

// IsCasual classifies query as small talk. Any failure or unexpected label
// counts as a product question.
func (e *Evaluator) IsCasual(ctx context.Context, query string) bool {
	if strings.TrimSpace(query) == "" {
		return false
	}
	out, err := e.generate(ctx, "classify", llm.Prompt(classifyPrompt, query))
	if err != nil {
		log.Printf("⚠️ Casual classification failed, treating as product: %v", err)
		return false
	}
	label := strings.ToLower(strings.Trim(out, " \t\n.\"'`"))
	return label == "casual"
}

// CasualReply produces a short friendly answer to small talk.
func (e *Evaluator) CasualReply(ctx context.Context, query string) string {
	sys := fmt.Sprintf("You are %s, a friendly %s. Reply to the user's small talk in one short, warm sentence. "+
		"Do not make any claims about the product.", e.persona.Name, e.persona.Role)
	out, err := e.generate(ctx, "casual_reply", llm.Prompt(sys, query))
	if err != nil || out == "" {
		if err != nil {
			log.Printf("⚠️ Casual reply failed, using static reply: %v", err)
		}
		return fallbackCasualReply
	}
	return out
}

// DraftAnswer writes a short answer grounded in passages; "" on failure.
func (e *Evaluator) DraftAnswer(ctx context.Context, query string, passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return ""
	}
	sys := fmt.Sprintf("You are %s, a %s. Your goal: %s.\n"+
		"Answer ONLY the question that was asked, in at most 2 sentences, using only the context below. "+
		"If the context does not contain the answer, reply with an empty message. "+
		"When the question involves %s, be extra clear and precise and never guess.\n\nContext:\n%s",
		e.persona.Name, e.persona.Role, e.persona.Goal,
		strings.Join(e.persona.SensitiveTopics, ", "), formatPassages(passages))
	out, err := e.generate(ctx, "draft", llm.Prompt(sys, query))
	if err != nil {
		log.Printf("⚠️ Draft generation failed: %v", err)
		return ""
	}
	return out
}

// ScoreConfidence rates answer in [0,1]; 0 on any failure.
func (e *Evaluator) ScoreConfidence(ctx context.Context, query, answer string, passages []retrieval.Passage) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	user := fmt.Sprintf("Question: %s\n\nProposed answer: %s\n\nContext:\n%s", query, answer, formatPassages(passages))
	out, err := e.generate(ctx, "score", llm.Prompt(scorePrompt, user))
	if err != nil {
		log.Printf("⚠️ Confidence scoring failed: %v", err)
		return 0
	}
	score, err := ParseScore(out)
	if err != nil {
		log.Printf("⚠️ Confidence parse failed (%q): %v", out, err)
		return 0
	}
	return score
}

const classifyPrompt = "Classify the user's message for a product support channel. " +
	"Reply with exactly one word: 'casual' for greetings, thanks or small talk, " +
	"'product' for anything that asks about the product, its features, tokens, funds or accounts."

const scorePrompt = "You review answers given by a support bot. Rate how safe it is to send the proposed answer, considering: " +
	"(1) accuracy against the context, (2) risk if the topic involves funds, tokens or security, " +
	"(3) impact on the community if the answer is wrong. " +
	`Respond with only a JSON object: {"score": <float between 0.0 and 1.0>}`

func formatPassages(passages []retrieval.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, p.Category, p.Text)
	}
	return b.String()
}

var numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// ParseScore extracts a score from a model response. It accepts a JSON object
// (optionally fenced) with a "score" field or a bare number. Values outside
// [0,1] are rejected.
func ParseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	var score float64
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start != -1 && end > start {
		var obj struct {
			Score *float64 `json:"score"`
		}
		if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
			return 0, fmt.Errorf("unmarshal score: %w", err)
		}
		if obj.Score == nil {
			return 0, fmt.Errorf("no score field")
		}
		score = *obj.Score
	} else {
		m := numberRe.FindString(s)
		if m == "" {
			return 0, fmt.Errorf("no number in response")
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, fmt.Errorf("parse number: %w", err)
		}
		score = v
	}

	if math.IsNaN(score) || score < 0 || score > 1 {
		return 0, fmt.Errorf("score %v out of range", score)
	}
	return score, nil
}
