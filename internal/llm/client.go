package llm

import "context"

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the external reasoning/generation service. Callers must treat
// every call as fallible and supply their own fallback value.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// Prompt is a convenience for the common system+user exchange.
func Prompt(system, user string) []Message {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: system})
	}
	return append(msgs, Message{Role: RoleUser, Content: user})
}
