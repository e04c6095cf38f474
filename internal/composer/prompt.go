package composer

import (
	"strings"

	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

const (
	defaultMaxHistoryTokens = 8000

	// DefaultSystemPrompt opens every chat transcript.
	DefaultSystemPrompt = "You are a helpful, friendly AI assistant. Provide clear and concise responses."
)

// Composer assembles the message list sent to a provider: one system message
// carrying the base prompt and the user's personalization context, followed by
// the conversation history in chronological order.
type Composer struct {
	SystemPrompt     string
	MaxHistoryTokens int
}

// New creates a Composer with the given token budget for history.
// If maxHistoryTokens <= 0, the default (8000) is used.
func New(maxHistoryTokens int) *Composer {
	if maxHistoryTokens <= 0 {
		maxHistoryTokens = defaultMaxHistoryTokens
	}
	return &Composer{SystemPrompt: DefaultSystemPrompt, MaxHistoryTokens: maxHistoryTokens}
}

// Compose builds the provider transcript. History beyond the token budget is
// dropped oldest first; the newest message is always kept.
func (c *Composer) Compose(history []storage.Message, personalization string) []provider.Message {
	kept := c.fitHistory(history)

	msgs := make([]provider.Message, 0, len(kept)+1)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: c.buildSystem(personalization)})
	for _, m := range kept {
		msgs = append(msgs, provider.Message{Role: Role(m.Sender), Content: m.Content})
	}
	return msgs
}

func (c *Composer) buildSystem(personalization string) string {
	var sb strings.Builder
	sb.WriteString(c.SystemPrompt)
	if personalization != "" {
		sb.WriteString("\n\n[User Profile]\n")
		sb.WriteString(personalization)
	}
	return sb.String()
}

func (c *Composer) fitHistory(history []storage.Message) []storage.Message {
	remaining := c.MaxHistoryTokens
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens := EstimateTokens(history[i].Content)
		if tokens > remaining && i != len(history)-1 {
			break
		}
		remaining -= tokens
		start = i
	}
	return history[start:]
}

// Role maps a stored sender to a provider role.
func Role(sender string) string {
	if sender == storage.SenderUser {
		return provider.RoleUser
	}
	return provider.RoleAssistant
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
