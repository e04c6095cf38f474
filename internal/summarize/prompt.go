package summarize

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

const (
	summarySystemPrompt = "You are a helpful assistant that summarizes conversations concisely."
	topicsSystemPrompt  = "You are an expert at identifying key topics. Return a comma-separated list only."
	answerSystemPrompt  = "You are a helpful assistant that answers questions about past conversations. " +
		"Use the provided conversation data to give accurate, specific answers."

	maxMessagesPerConversation = 10
	maxMessageChars            = 200
)

// transcript renders messages as "sender: content" lines.
func transcript(msgs []storage.Message) string {
	lines := make([]string, len(msgs))
	for i, m := range msgs {
		lines[i] = m.Sender + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

// BuildSummaryPrompt constructs the messages asking for a conversation summary.
func BuildSummaryPrompt(msgs []storage.Message) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: summarySystemPrompt},
		{Role: provider.RoleUser, Content: "Please provide a concise summary of the following conversation, " +
			"highlighting key topics, decisions, and action items:\n\n" + transcript(msgs)},
	}
}

// BuildTopicsPrompt constructs the messages asking for 3-5 key topics.
func BuildTopicsPrompt(msgs []storage.Message) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: topicsSystemPrompt},
		{Role: provider.RoleUser, Content: "Extract 3-5 key topics from this conversation as a comma-separated list:\n\n" + transcript(msgs)},
	}
}

// Source is one past conversation offered as context for a question.
type Source struct {
	Conversation storage.Conversation
	Messages     []storage.Message
}

// BuildAnswerPrompt constructs the messages for answering a question over
// past conversations. Each conversation contributes at most 10 messages of
// at most 200 characters.
func BuildAnswerPrompt(query string, sources []Source) []provider.Message {
	var sb strings.Builder
	for _, src := range sources {
		c := src.Conversation
		fmt.Fprintf(&sb, "\n\nConversation %d (Started: %s):\n", c.ID, c.StartedAt.UTC().Format(time.RFC3339))
		if c.Summary != "" {
			fmt.Fprintf(&sb, "Summary: %s\n", c.Summary)
		}
		if len(src.Messages) > 0 {
			sb.WriteString("Messages:\n")
			for i, m := range src.Messages {
				if i == maxMessagesPerConversation {
					break
				}
				fmt.Fprintf(&sb, "  %s: %s\n", m.Sender, truncate(m.Content, maxMessageChars))
			}
		}
	}
	return []provider.Message{
		{Role: provider.RoleSystem, Content: answerSystemPrompt},
		{Role: provider.RoleUser, Content: fmt.Sprintf("Question: %s\n\nConversation Data:%s\n\n"+
			"Please answer the question based on the conversation data provided.", query, sb.String())},
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
