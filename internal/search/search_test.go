package search

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/chatty/internal/storage"
)

// keywordEmbedder maps text onto a 2-d space: docker-ish and cooking-ish.
type keywordEmbedder struct {
	calls atomic.Int32
	err   error
}

func (e *keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	t := strings.ToLower(text)
	var v [2]float32
	if strings.Contains(t, "docker") {
		v[0] = 1
	}
	if strings.Contains(t, "pasta") {
		v[1] = 1
	}
	return v[:], nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *storage.Store, user, title, summary string, contents ...string) storage.Conversation {
	t.Helper()
	c, err := s.CreateConversation(storage.Conversation{UserID: user, Title: title, Summary: summary})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	for _, content := range contents {
		if _, err := s.AddMessage(storage.Message{ConversationID: c.ID, Sender: storage.SenderUser, Content: content}); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	return c
}

func TestConversationText(t *testing.T) {
	got := ConversationText(
		storage.Conversation{Title: "Docker", Summary: "containers"},
		[]storage.Message{
			{Sender: "user", Content: "hi"},
			{Sender: "ai", Content: strings.Repeat("x", 300)},
		},
	)
	want := "Title: Docker Summary: containers Recent messages: user: hi ai: " + strings.Repeat("x", 200)
	if got != want {
		t.Errorf("ConversationText() =\n%q\nwant\n%q", got, want)
	}
	if got := ConversationText(storage.Conversation{}, nil); got != "" {
		t.Errorf("empty conversation text = %q", got)
	}
}

func TestKeywordScoring(t *testing.T) {
	s := openTestStore(t)
	svc := NewService(s, NewVectors(s.DB()), nil, "")

	title := seed(t, s, "u1", "Docker tips", "", "unrelated")
	msgs := seed(t, s, "u1", "misc", "", "docker one", "docker two")
	summary := seed(t, s, "u1", "misc", "about docker", "")
	seed(t, s, "u1", "pasta", "", "boil water")
	seed(t, s, "u2", "docker for someone else", "", "docker")

	got, err := svc.Search(context.Background(), "u1", "DOCKER", 0, false)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	type hit struct {
		id    int64
		score float64
	}
	var hits []hit
	for _, r := range got {
		hits = append(hits, hit{r.Conversation.ID, r.Score})
		if r.Method != MethodKeyword {
			t.Errorf("method = %q", r.Method)
		}
	}
	// Ties keep the store order, newest first.
	want := []hit{{title.ID, 0.3}, {summary.ID, 0.2}, {msgs.ID, 0.2}}
	if len(hits) != len(want) {
		t.Fatalf("hits = %v, want %v", hits, want)
	}
	for i := range want {
		if hits[i].id != want[i].id || !approx(hits[i].score, want[i].score) {
			t.Errorf("hit %d = %v, want %v", i, hits[i], want[i])
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	s := openTestStore(t)
	svc := NewService(s, NewVectors(s.DB()), nil, "")
	if _, err := svc.Search(context.Background(), "u1", "  ", 10, true); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestSemanticSearch(t *testing.T) {
	s := openTestStore(t)
	emb := &keywordEmbedder{}
	svc := NewService(s, NewVectors(s.DB()), emb, "test-embed")

	dock := seed(t, s, "u1", "containers", "", "how do I use docker compose")
	pasta := seed(t, s, "u1", "dinner", "", "pasta recipe")
	for _, id := range []int64{dock.ID, pasta.ID} {
		if err := svc.Index(context.Background(), id); err != nil {
			t.Fatalf("Index(%d): %v", id, err)
		}
	}

	got, err := svc.Search(context.Background(), "u1", "docker networking", 10, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Conversation.ID != dock.ID {
		t.Fatalf("results = %+v, want only %d", got, dock.ID)
	}
	if got[0].Method != MethodSemantic || got[0].MessageCount != 1 {
		t.Errorf("result = %+v", got[0])
	}
}

func TestSemanticFallsBackOnEmbedError(t *testing.T) {
	s := openTestStore(t)
	emb := &keywordEmbedder{err: errors.New("quota")}
	svc := NewService(s, NewVectors(s.DB()), emb, "")
	c := seed(t, s, "u1", "docker", "", "")

	got, err := svc.Search(context.Background(), "u1", "docker", 10, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Conversation.ID != c.ID || got[0].Method != MethodKeyword {
		t.Errorf("results = %+v", got)
	}
}

func TestIndexWithoutEmbedder(t *testing.T) {
	s := openTestStore(t)
	svc := NewService(s, NewVectors(s.DB()), nil, "")
	c := seed(t, s, "u1", "t", "")
	if err := svc.Index(context.Background(), c.ID); !errors.Is(err, ErrNoEmbedder) {
		t.Errorf("expected ErrNoEmbedder, got %v", err)
	}
}

func TestIndexReplacesVector(t *testing.T) {
	s := openTestStore(t)
	vecs := NewVectors(s.DB())
	svc := NewService(s, vecs, &keywordEmbedder{}, "m")
	c := seed(t, s, "u1", "pasta", "")

	if err := svc.Index(context.Background(), c.ID); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := s.SetSummary(c.ID, "docker later"); err != nil {
		t.Fatalf("SetSummary: %v", err)
	}
	if err := svc.Index(context.Background(), c.ID); err != nil {
		t.Fatalf("re-Index: %v", err)
	}

	if n, _ := vecs.Count(); n != 1 {
		t.Errorf("vector count = %d, want 1", n)
	}
	v, err := vecs.Get(c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if v.Embedding[0] != 1 || !strings.Contains(v.Text, "Summary: docker later") || v.Model != "m" {
		t.Errorf("vector not replaced: %+v", v)
	}
}

func TestIndexAll(t *testing.T) {
	s := openTestStore(t)
	vecs := NewVectors(s.DB())
	emb := &keywordEmbedder{}
	svc := NewService(s, vecs, emb, "")
	for i := 0; i < 6; i++ {
		seed(t, s, "u1", "docker", "")
	}
	seed(t, s, "u2", "other", "")

	n, err := svc.IndexAll(context.Background(), "u1", 50)
	if err != nil {
		t.Fatalf("IndexAll: %v", err)
	}
	if n != 6 || emb.calls.Load() != 6 {
		t.Errorf("indexed %d with %d embed calls, want 6", n, emb.calls.Load())
	}
	if got, _ := vecs.Count(); got != 6 {
		t.Errorf("vector count = %d", got)
	}
}

func TestDeletingConversationDropsVector(t *testing.T) {
	s := openTestStore(t)
	vecs := NewVectors(s.DB())
	svc := NewService(s, vecs, &keywordEmbedder{}, "")
	c := seed(t, s, "u1", "docker", "")
	if err := svc.Index(context.Background(), c.ID); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := s.DeleteConversation(c.ID); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if n, _ := vecs.Count(); n != 0 {
		t.Errorf("vector count after delete = %d", n)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
