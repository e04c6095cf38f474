package summarize

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

func TestBuildSummaryPrompt(t *testing.T) {
	msgs := BuildSummaryPrompt([]storage.Message{
		{Sender: storage.SenderUser, Content: "hi"},
		{Sender: storage.SenderAI, Content: "hello"},
	})
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != provider.RoleSystem || msgs[1].Role != provider.RoleUser {
		t.Errorf("roles = %q, %q", msgs[0].Role, msgs[1].Role)
	}
	if !strings.HasSuffix(msgs[1].Content, "\n\nuser: hi\nai: hello") {
		t.Errorf("transcript not appended: %q", msgs[1].Content)
	}
}

func TestBuildTopicsPrompt(t *testing.T) {
	msgs := BuildTopicsPrompt([]storage.Message{{Sender: storage.SenderUser, Content: "docker"}})
	if msgs[0].Content != topicsSystemPrompt {
		t.Errorf("system = %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[1].Content, "3-5 key topics") {
		t.Errorf("user prompt = %q", msgs[1].Content)
	}
}

func TestBuildAnswerPrompt_Limits(t *testing.T) {
	var many []storage.Message
	for i := 0; i < 15; i++ {
		many = append(many, storage.Message{Sender: storage.SenderUser, Content: strings.Repeat("z", 300)})
	}
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msgs := BuildAnswerPrompt("what?", []Source{{
		Conversation: storage.Conversation{ID: 9, StartedAt: started, Summary: "a summary"},
		Messages:     many,
	}})
	body := msgs[1].Content

	if !strings.HasPrefix(body, "Question: what?\n\nConversation Data:") {
		t.Errorf("unexpected prefix: %q", body[:60])
	}
	if !strings.Contains(body, "Conversation 9 (Started: 2026-01-02T03:04:05Z):\nSummary: a summary\nMessages:\n") {
		t.Errorf("conversation header missing:\n%s", body)
	}
	if n := strings.Count(body, "  user: "); n != maxMessagesPerConversation {
		t.Errorf("included %d messages, want %d", n, maxMessagesPerConversation)
	}
	if strings.Contains(body, strings.Repeat("z", maxMessageChars+1)) {
		t.Error("message content not truncated")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncate("héllo", 2); got != "hé" {
		t.Errorf("truncate = %q, want hé", got)
	}
	if got := truncate("ab", 5); got != "ab" {
		t.Errorf("truncate = %q, want ab", got)
	}
}
