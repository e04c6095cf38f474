package share

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/chatty/internal/storage"
)

func setup(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s, NewSQLiteCache(s)), s
}

func TestCreateAndGet(t *testing.T) {
	svc, store := setup(t)
	c, _ := store.CreateConversation(storage.Conversation{Title: "shared"})
	store.AddMessage(storage.Message{ConversationID: c.ID, Sender: storage.SenderUser, Content: "hi"})

	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	link, err := svc.Create(context.Background(), c.ID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if link.URL != "/shared/"+link.Token || link.Token == "" {
		t.Errorf("link = %+v", link)
	}
	if !link.ExpiresAt.Equal(fixed.AddDate(0, 0, DefaultExpiryDays)) {
		t.Errorf("ExpiresAt = %v", link.ExpiresAt)
	}

	raw, err := store.CacheGet("shared_conversation:" + link.Token)
	if err != nil {
		t.Fatalf("token not stored under prefixed key: %v", err)
	}
	if !strings.Contains(string(raw), `"conversation_id":`) {
		t.Errorf("cache value = %s", raw)
	}

	got, err := svc.Get(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Conversation.ID != c.ID || len(got.Messages) != 1 {
		t.Errorf("shared = %+v", got)
	}
	if !got.Metadata.CreatedAt.Equal(fixed) {
		t.Errorf("CreatedAt = %v", got.Metadata.CreatedAt)
	}
}

func TestCreateUnknownConversation(t *testing.T) {
	svc, _ := setup(t)
	if _, err := svc.Create(context.Background(), 42, 1); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Create(context.Background(), 42, -1); !errors.Is(err, ErrInvalidExpiry) {
		t.Errorf("expected ErrInvalidExpiry, got %v", err)
	}
}

func TestGetUnknownToken(t *testing.T) {
	svc, _ := setup(t)
	if _, err := svc.Get(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	svc, store := setup(t)
	c, _ := store.CreateConversation(storage.Conversation{})
	link, _ := svc.Create(context.Background(), c.ID, 1)

	if err := svc.Revoke(context.Background(), link.Token); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Get(context.Background(), link.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoked token still resolves: %v", err)
	}
	if err := svc.Revoke(context.Background(), link.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second revoke: expected ErrNotFound, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	svc, store := setup(t)
	c, _ := store.CreateConversation(storage.Conversation{})
	link, _ := svc.Create(context.Background(), c.ID, 1)

	if _, err := store.DB().Exec(`UPDATE cache_entries SET expires_at = ?`, time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("expiring entry: %v", err)
	}
	if _, err := svc.Get(context.Background(), link.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expired token resolves: %v", err)
	}
}

func TestDeletedConversation(t *testing.T) {
	svc, store := setup(t)
	c, _ := store.CreateConversation(storage.Conversation{})
	link, _ := svc.Create(context.Background(), c.ID, 1)
	store.DeleteConversation(c.ID)

	if _, err := svc.Get(context.Background(), link.Token); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound for deleted conversation, got %v", err)
	}
}

func TestSetDefaultExpiry(t *testing.T) {
	svc, store := setup(t)
	c, _ := store.CreateConversation(storage.Conversation{Title: "shared"})
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.SetDefaultExpiry(30)
	svc.SetDefaultExpiry(-1)

	link, err := svc.Create(context.Background(), c.ID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !link.ExpiresAt.Equal(fixed.AddDate(0, 0, 30)) {
		t.Errorf("ExpiresAt = %v, want 30 days out", link.ExpiresAt)
	}
}
