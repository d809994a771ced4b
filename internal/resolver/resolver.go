package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"support-bot/internal/notify"
	"support-bot/internal/retrieval"
)

// Source tells where an answer came from.
type Source string

const (
	SourceNone       Source = "none"
	SourceCache      Source = "cache"
	SourceMessageLog Source = "message_log"
	SourceCasual     Source = "casual"
	SourceMemory     Source = "memory"
	SourceKnowledge  Source = "knowledge"
)

// Band is the confidence partition of [0,1] that picks the response shape.
type Band string

const (
	BandConfident Band = "confident" // [high, 1]
	BandCaveat    Band = "caveat"    // [caveat, high)
	BandLow       Band = "low"       // (0, caveat)
	BandNone      Band = "none"      // 0 or no answer
)

const (
	CaveatSuffix     = "\n\nFor more detail, please ask in the support channel."
	DisclaimerPrefix = "I'm not fully sure about this one, so the team will double-check it. My best understanding: "
	DeferralMessage  = "Thanks for your question! I don't have a confident answer right now, but the team will help you shortly."
	EmptyQueryReply  = "Could you type your question? I'm happy to help."
)

type Query struct {
	Text   string
	UserID string
	// Channel is the inbound source (telegram, mcp, ...). Informational only.
	Channel string
}

type Result struct {
	Answer     string
	Uncertain  bool
	Source     Source
	Band       Band
	Confidence float64
}

// Attempt is the outcome of memory/knowledge retrieval plus draft and score.
type Attempt struct {
	Answer     string
	Confidence float64
	Source     Source
	Passages   []retrieval.Passage
}

type Store interface {
	Answer(query string) (string, bool, error)
	Messages() ([]string, error)
	AddUnanswered(query, userID string) (bool, error)
	RemoveAnswered(query string) (bool, error)
	Resolve(query, answer string) error
}

type Evaluator interface {
	IsCasual(ctx context.Context, query string) bool
	CasualReply(ctx context.Context, query string) string
	DraftAnswer(ctx context.Context, query string, passages []retrieval.Passage) string
	ScoreConfidence(ctx context.Context, query, answer string, passages []retrieval.Passage) float64
}

// Corpus supplies the static knowledge-base text.
type Corpus interface {
	Text() string
}

type Policy struct {
	HighConfidence   float64
	CaveatConfidence float64
	// Answers at or above this confidence are written to the answer cache.
	CacheMinConfidence float64
}

func DefaultPolicy() Policy {
	return Policy{HighConfidence: 0.8, CaveatConfidence: 0.5, CacheMinConfidence: 0.8}
}

// Classify maps a confidence score to its band.
func (p Policy) Classify(score float64) Band {
	switch {
	case score >= p.HighConfidence:
		return BandConfident
	case score >= p.CaveatConfidence:
		return BandCaveat
	case score > 0:
		return BandLow
	default:
		return BandNone
	}
}

type Pipeline struct {
	store     Store
	retriever *retrieval.Retriever
	eval      Evaluator
	kb        Corpus
	notifier  notify.Notifier
	policy    Policy

	wg sync.WaitGroup
}

func New(store Store, retriever *retrieval.Retriever, eval Evaluator, kb Corpus, notifier notify.Notifier, policy Policy) *Pipeline {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Pipeline{
		store:     store,
		retriever: retriever,
		eval:      eval,
		kb:        kb,
		notifier:  notifier,
		policy:    policy,
	}
}

// Resolve answers one incoming query. It always returns a reply; failures of
// the store, the reasoning service or the notifier only degrade the result.
func (p *Pipeline) Resolve(ctx context.Context, q Query) Result {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return Result{Answer: EmptyQueryReply, Source: SourceNone, Band: BandNone}
	}

	if ans, ok, err := p.store.Answer(text); err != nil {
		log.Printf("⚠️ Answer cache lookup failed: %v", err)
	} else if ok {
		return Result{Answer: ans, Source: SourceCache, Band: BandConfident, Confidence: 1}
	}

	messages, err := p.store.Messages()
	if err != nil {
		log.Printf("⚠️ Message log read failed: %v", err)
	}
	if msg, ok := FindInLog(text, messages); ok {
		return Result{Answer: msg, Source: SourceMessageLog, Band: BandConfident, Confidence: 1}
	}

	if p.eval.IsCasual(ctx, text) {
		return Result{Answer: p.eval.CasualReply(ctx, text), Source: SourceCasual, Band: BandConfident, Confidence: 1}
	}

	at := p.attempt(ctx, text, messages)
	band := p.policy.Classify(at.Confidence)
	if at.Answer == "" {
		band = BandNone
	}
	log.Printf("🔎 Resolved %q via %s: confidence=%.2f band=%s", text, at.Source, at.Confidence, band)

	switch band {
	case BandConfident, BandCaveat:
		reply := at.Answer
		if band == BandCaveat {
			reply += CaveatSuffix
		}
		p.settle(text, reply, at.Confidence)
		return Result{Answer: reply, Source: at.Source, Band: band, Confidence: at.Confidence}
	case BandLow:
		p.escalate(ctx, q, fmt.Sprintf("⚠️ [low confidence %.2f] Query from user %s: %q\nDraft answer: %s",
			at.Confidence, q.UserID, text, at.Answer))
		return Result{Answer: DisclaimerPrefix + at.Answer, Uncertain: true, Source: at.Source, Band: band, Confidence: at.Confidence}
	default:
		p.escalate(ctx, q, fmt.Sprintf("🆕 New unanswered query from user %s: %q. Please update the knowledge base if possible.",
			q.UserID, text))
		return Result{Answer: DeferralMessage, Uncertain: true, Source: SourceNone, Band: BandNone}
	}
}

// SimulateAgentAnswer runs retrieval, drafting and scoring for query.
func (p *Pipeline) SimulateAgentAnswer(ctx context.Context, query string) Attempt {
	messages, err := p.store.Messages()
	if err != nil {
		log.Printf("⚠️ Message log read failed: %v", err)
	}
	return p.attempt(ctx, query, messages)
}

func (p *Pipeline) attempt(ctx context.Context, query string, messages []string) Attempt {
	var at Attempt
	if mem, ok := p.retriever.SearchMemory(query, messages); ok {
		at.Source = SourceMemory
		at.Passages = []retrieval.Passage{mem}
	} else {
		at.Source = SourceKnowledge
		if p.kb != nil {
			at.Passages = p.retriever.Search(query, p.kb.Text(), p.retriever.Categorize(query))
		}
	}
	if len(at.Passages) == 0 {
		return Attempt{Source: SourceNone}
	}
	at.Answer = p.eval.DraftAnswer(ctx, query, at.Passages)
	if at.Answer == "" {
		return at
	}
	at.Confidence = p.eval.ScoreConfidence(ctx, query, at.Answer, at.Passages)
	return at
}

// settle records a successful resolution: the answer is cached when confident
// enough, and the query never stays in the pending queue.
func (p *Pipeline) settle(query, reply string, confidence float64) {
	if confidence >= p.policy.CacheMinConfidence {
		if err := p.store.Resolve(query, reply); err != nil {
			log.Printf("⚠️ Failed to cache answer for %q: %v", query, err)
		}
		return
	}
	if _, err := p.store.RemoveAnswered(query); err != nil {
		log.Printf("⚠️ Failed to clear pending query %q: %v", query, err)
	}
}

func (p *Pipeline) escalate(ctx context.Context, q Query, escalation string) {
	if _, err := p.store.AddUnanswered(strings.TrimSpace(q.Text), q.UserID); err != nil {
		log.Printf("⚠️ Failed to enqueue unanswered query %q: %v", q.Text, err)
	}
	p.notifyAsync(ctx, escalation)
}

// notifyAsync sends without delaying the reply to the user.
func (p *Pipeline) notifyAsync(ctx context.Context, text string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		notify.Send(context.WithoutCancel(ctx), p.notifier, text)
	}()
}

// Wait blocks until in-flight escalation notifications finish.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// MinLogMatchRunes is the shortest query the message log is searched for.
const MinLogMatchRunes = 3

// FindInLog returns the newest message containing query as whole words,
// case-insensitively. Queries shorter than MinLogMatchRunes never match.
func FindInLog(query string, messages []string) (string, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	if utf8.RuneCountInString(q) < MinLogMatchRunes {
		return "", false
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if containsWords(strings.ToLower(messages[i]), q) {
			return messages[i], true
		}
	}
	return "", false
}

// containsWords reports whether q occurs in s without splitting a word at
// either end.
func containsWords(s, q string) bool {
	for from := 0; from <= len(s)-len(q); {
		i := strings.Index(s[from:], q)
		if i < 0 {
			return false
		}
		start, end := from+i, from+i+len(q)
		before, _ := utf8.DecodeLastRuneInString(s[:start])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (start == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		from = start + size
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
