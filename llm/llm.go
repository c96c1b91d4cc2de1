// Package llm provides chat-completion backends behind one interface.
package llm

import "context"

// Roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string
	Content string
}

// Completer answers a conversation given a system prompt.
type Completer interface {
	Chat(ctx context.Context, systemPrompt string, history []Message) (string, error)
}

// Complete is a single-turn convenience wrapper.
func Complete(ctx context.Context, c Completer, systemPrompt, userPrompt string) (string, error) {
	return c.Chat(ctx, systemPrompt, []Message{{Role: RoleUser, Content: userPrompt}})
}
