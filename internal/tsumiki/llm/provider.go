// Package llm gives Tsumiki its conversational voice: chat text that is not a
// device command is relayed to an OpenAI-compatible chat completions API and
// the reply is sent back to the room.
package llm

import "context"

// Role is the role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Provider is the interface all chat backends implement. It is a black box
// that may fail; callers translate failures into persona apologies.
type Provider interface {
	// Chat returns the assistant's reply to text from the given requester.
	Chat(ctx context.Context, requesterID, text string) (string, error)
}
