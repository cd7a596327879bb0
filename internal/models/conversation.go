package models

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	// Assistant message kinds. A plain user message carries no type.
	MessageTypeThinking = "thinking"
	MessageTypeFinal    = "final"
)

// Message is a single chat turn. Thinking messages hold a completed
// reasoning segment and are never replayed to the completion provider.
type Message struct {
	Role    string `json:"role"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
	ID      string `json:"id,omitempty"`
	Loading bool   `json:"loading,omitempty"`
}

// Conversation is the persistence unit: one record per conversation,
// rewritten whole on every mutation. Timestamp is milliseconds since
// epoch and doubles as the newest-first sort key.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// LastMessage returns the final message of the conversation, or nil
// when the conversation is empty.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}
