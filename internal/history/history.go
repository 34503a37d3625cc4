// Package history stores short per-conversation chat transcripts used for
// follow-up resolution. Transcripts are bounded both in turns and in
// per-message length so prompts stay small.
package history

import (
	"context"
	"strings"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

const (
	// DefaultMaxTurns is how many question/answer exchanges a conversation
	// retains.
	DefaultMaxTurns = 8
	// DefaultMaxMessageChars truncates oversized messages before storage.
	DefaultMaxMessageChars = 1200
)

// Store persists conversation transcripts.
type Store interface {
	// Append records one exchange, truncating and evicting as needed.
	Append(ctx context.Context, conversationID, userMsg, assistantMsg string) error
	// Messages returns the retained transcript, oldest first. Unknown
	// conversations return an empty slice, not an error.
	Messages(ctx context.Context, conversationID string) ([]Message, error)
	// Clear forgets a conversation.
	Clear(ctx context.Context, conversationID string) error
}

// FormatForPrompt renders a transcript as alternating USER/ASSISTANT lines
// for inclusion in LLM prompts.
func FormatForPrompt(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		switch m.Role {
		case RoleAssistant:
			b.WriteString("ASSISTANT: ")
		default:
			b.WriteString("USER: ")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}

// clamp truncates a message to max runes.
func clamp(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
