package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    [][]provider.Message
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messages)
	return f.response, f.err
}

func (f *fakeGenerator) last() []provider.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakePersonalizer struct{ context string }

func (f fakePersonalizer) Context(string) (string, error) { return f.context, nil }

type fakeAnalyzer struct{ ids []int64 }

func (f *fakeAnalyzer) Analyze(ctx context.Context, id int64) (intelligence.Analysis, error) {
	f.ids = append(f.ids, id)
	return intelligence.Analysis{}, nil
}

func testSettings() provider.Settings {
	return provider.Settings{Default: provider.OpenAI, OpenAIKey: "sk-test"}
}

func newTestService(t *testing.T, gen *fakeGenerator, p Personalizer, a Analyzer, every int) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, Config{
		Providers:    testSettings(),
		AnalyzeEvery: every,
		NewGenerator: func(ctx context.Context, cfg provider.Config) (provider.Generator, error) {
			return gen, nil
		},
	}, p, a)
	return svc, store
}

func TestCreateConversation_DefaultTitle(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, nil, nil, 0)

	c, err := svc.CreateConversation("u1", "  ", nil)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	want := "Conversation " + strconv.FormatInt(c.ID, 10)
	if c.Title != want {
		t.Errorf("title = %q, want %q", c.Title, want)
	}
	got, _, err := svc.Conversation(c.ID)
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if got.Title != want {
		t.Errorf("stored title = %q, want %q", got.Title, want)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)

	cases := []struct {
		name string
		req  SendRequest
	}{
		{"missing conversation", SendRequest{Content: "hi"}},
		{"blank content", SendRequest{ConversationID: c.ID, Content: "  "}},
		{"unknown provider", SendRequest{ConversationID: c.ID, Content: "hi", Provider: "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(context.Background(), tc.req)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestSendMessage_UnknownConversation(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{}, nil, nil, 0)
	_, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: 404, Content: "hi"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSendMessage_PersistsBothSides(t *testing.T) {
	gen := &fakeGenerator{response: "Hello there"}
	svc, store := newTestService(t, gen, fakePersonalizer{context: "User prefers code examples."}, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)

	res, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.AIMessage.Content != "Hello there" {
		t.Errorf("ai content = %q", res.AIMessage.Content)
	}
	if res.AIMessage.ParentID == nil || *res.AIMessage.ParentID != res.UserMessage.ID {
		t.Errorf("ai parent = %v, want %d", res.AIMessage.ParentID, res.UserMessage.ID)
	}

	msgs, _ := store.ListMessages(c.ID)
	var senders []string
	for _, m := range msgs {
		senders = append(senders, m.Sender)
	}
	if diff := cmp.Diff([]string{storage.SenderUser, storage.SenderAI}, senders); diff != "" {
		t.Errorf("senders mismatch (-want +got):\n%s", diff)
	}

	sent := gen.last()
	if len(sent) != 2 {
		t.Fatalf("provider got %d messages, want 2", len(sent))
	}
	if !strings.HasSuffix(sent[0].Content, "[User Profile]\nUser prefers code examples.") {
		t.Errorf("system prompt missing personalization: %q", sent[0].Content)
	}
	if sent[1] != (provider.Message{Role: provider.RoleUser, Content: "hi"}) {
		t.Errorf("history = %+v", sent[1])
	}
}

func TestSendMessage_ProviderFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("rate limited")}
	svc, _ := newTestService(t, gen, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)

	res, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !strings.HasPrefix(res.AIMessage.Content, "Error generating response: ") {
		t.Errorf("ai content = %q", res.AIMessage.Content)
	}
	if !strings.Contains(res.AIMessage.Content, "rate limited") {
		t.Errorf("ai content lacks cause: %q", res.AIMessage.Content)
	}
}

func TestSendMessage_UnconfiguredProvider(t *testing.T) {
	gen := &fakeGenerator{response: "unused"}
	svc, _ := newTestService(t, gen, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)

	res, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi", Provider: provider.Anthropic})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !strings.HasPrefix(res.AIMessage.Content, "Error generating response: ") {
		t.Errorf("ai content = %q", res.AIMessage.Content)
	}
	if gen.last() != nil {
		t.Error("generator called for unconfigured provider")
	}
}

func TestSendMessage_EndedConversation(t *testing.T) {
	svc, store := newTestService(t, &fakeGenerator{response: "ok"}, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)
	if _, err := svc.EndConversation(context.Background(), c.ID); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}

	_, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"})
	if !errors.Is(err, ErrConversationEnded) {
		t.Errorf("expected ErrConversationEnded, got %v", err)
	}
	if n, _ := store.CountMessages(c.ID); n != 0 {
		t.Errorf("stored %d messages in ended conversation", n)
	}
}

func TestSendMessage_ParentChecks(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{response: "ok"}, nil, nil, 0)
	a, _ := svc.CreateConversation("u1", "a", nil)
	b, _ := svc.CreateConversation("u1", "b", nil)

	first, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: a.ID, Content: "hi"})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	_, err = svc.SendMessage(context.Background(), SendRequest{ConversationID: b.ID, Content: "reply", ParentID: &first.AIMessage.ID})
	if !errors.Is(err, ErrParentMismatch) {
		t.Errorf("expected ErrParentMismatch, got %v", err)
	}

	missing := int64(9999)
	_, err = svc.SendMessage(context.Background(), SendRequest{ConversationID: a.ID, Content: "reply", ParentID: &missing})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for missing parent, got %v", err)
	}

	res, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: a.ID, Content: "reply", ParentID: &first.AIMessage.ID})
	if err != nil {
		t.Fatalf("SendMessage with parent: %v", err)
	}
	replies, err := svc.Replies(first.AIMessage.ID)
	if err != nil {
		t.Fatalf("Replies: %v", err)
	}
	if len(replies) != 1 || replies[0].ID != res.UserMessage.ID {
		t.Errorf("replies = %+v", replies)
	}
}

func TestSendMessage_AnalyzesEveryN(t *testing.T) {
	an := &fakeAnalyzer{}
	svc, _ := newTestService(t, &fakeGenerator{response: "ok"}, nil, an, 4)
	c, _ := svc.CreateConversation("u1", "t", nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"}); err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
	}
	// 6 messages stored: analysis ran once, after the fourth.
	if diff := cmp.Diff([]int64{c.ID}, an.ids); diff != "" {
		t.Errorf("analyzed ids mismatch (-want +got):\n%s", diff)
	}
}

func TestEndConversation(t *testing.T) {
	gen := &fakeGenerator{response: "docker, compose"}
	svc, store := newTestService(t, gen, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", map[string]any{"source": "web"})
	if _, err := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ended, err := svc.EndConversation(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	if ended.Status != storage.StatusEnded || ended.EndedAt == nil {
		t.Errorf("conversation not ended: %+v", ended)
	}

	got, err := store.GetConversation(c.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Summary != "docker, compose" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.Metadata["source"] != "web" {
		t.Errorf("existing metadata lost: %v", got.Metadata)
	}
	if got.Metadata["message_count"] != float64(2) {
		t.Errorf("message_count = %v", got.Metadata["message_count"])
	}
	if diff := cmp.Diff([]any{"docker", "compose"}, got.Metadata["topics"]); diff != "" {
		t.Errorf("topics mismatch (-want +got):\n%s", diff)
	}
	if _, ok := got.Metadata["duration_seconds"]; !ok {
		t.Error("duration_seconds missing")
	}

	if n, _ := store.PendingJobs(); n != 1 {
		t.Errorf("pending jobs = %d, want 1", n)
	}

	if _, err := svc.EndConversation(context.Background(), c.ID); !errors.Is(err, ErrConversationEnded) {
		t.Errorf("second end: expected ErrConversationEnded, got %v", err)
	}
}

func TestEndConversation_ProviderFailureStillEnds(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("down")}
	svc, store := newTestService(t, gen, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)
	store.AddMessage(storage.Message{ConversationID: c.ID, Sender: storage.SenderUser, Content: "hi"})

	if _, err := svc.EndConversation(context.Background(), c.ID); err != nil {
		t.Fatalf("EndConversation: %v", err)
	}
	got, _ := store.GetConversation(c.ID)
	if got.Status != storage.StatusEnded || got.Summary != "" {
		t.Errorf("status=%q summary=%q", got.Status, got.Summary)
	}
}

func TestToggleBookmarkAndReact(t *testing.T) {
	svc, _ := newTestService(t, &fakeGenerator{response: "ok"}, nil, nil, 0)
	c, _ := svc.CreateConversation("u1", "t", nil)
	res, _ := svc.SendMessage(context.Background(), SendRequest{ConversationID: c.ID, Content: "hi"})

	m, err := svc.ToggleBookmark(res.AIMessage.ID)
	if err != nil {
		t.Fatalf("ToggleBookmark: %v", err)
	}
	if !m.Bookmarked || m.BookmarkedAt == nil {
		t.Errorf("first toggle: %+v", m)
	}
	m, _ = svc.ToggleBookmark(res.AIMessage.ID)
	if m.Bookmarked || m.BookmarkedAt != nil {
		t.Errorf("second toggle: %+v", m)
	}

	svc.React(res.AIMessage.ID, "like")
	counts, err := svc.React(res.AIMessage.ID, "like")
	if err != nil {
		t.Fatalf("React: %v", err)
	}
	if counts["like"] != 2 {
		t.Errorf("like count = %d, want 2", counts["like"])
	}
	if _, err := svc.React(res.AIMessage.ID, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("blank reaction: %v", err)
	}
	if _, err := svc.ToggleBookmark(9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing message: %v", err)
	}
}

func TestQuery(t *testing.T) {
	gen := &fakeGenerator{response: "summary"}
	svc, store := newTestService(t, gen, nil, nil, 0)

	for _, title := range []string{"docker notes", "cooking"} {
		c, _ := svc.CreateConversation("u1", title, nil)
		store.AddMessage(storage.Message{ConversationID: c.ID, Sender: storage.SenderUser, Content: "about " + title})
		if _, err := svc.EndConversation(context.Background(), c.ID); err != nil {
			t.Fatalf("EndConversation: %v", err)
		}
	}

	gen.response = "You talked about docker."
	res, err := svc.Query(context.Background(), "what did I learn?", "docker")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Answer != "You talked about docker." {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0].Title != "docker notes" {
		t.Errorf("sources = %+v", res.Sources)
	}
	prompt := gen.last()[1].Content
	if !strings.Contains(prompt, "about docker notes") || strings.Contains(prompt, "cooking") {
		t.Errorf("prompt used wrong conversations:\n%s", prompt)
	}

	if _, err := svc.Query(context.Background(), " ", ""); !errors.Is(err, ErrValidation) {
		t.Errorf("blank query: %v", err)
	}
}
