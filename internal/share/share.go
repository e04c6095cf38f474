// Package share issues expiring read-only links to conversations.
package share

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/chatty/internal/storage"
)

const (
	keyPrefix         = "shared_conversation:"
	DefaultExpiryDays = 7
)

// ErrInvalidExpiry is returned for non-positive expiry periods.
var ErrInvalidExpiry = errors.New("expiry_days must be positive")

// Store is the conversation access sharing needs.
type Store interface {
	GetConversation(id int64) (storage.Conversation, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
}

// Link is a newly issued share.
type Link struct {
	Token     string    `json:"share_token"`
	URL       string    `json:"share_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Metadata is what the cache holds for a token.
type Metadata struct {
	ConversationID int64     `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Shared is a conversation resolved from a token.
type Shared struct {
	Conversation storage.Conversation
	Messages     []storage.Message
	Metadata     Metadata
}

type Service struct {
	store       Store
	cache       Cache
	defaultDays int
	now         func() time.Time
}

func NewService(store Store, cache Cache) *Service {
	return &Service{
		store:       store,
		cache:       cache,
		defaultDays: DefaultExpiryDays,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetDefaultExpiry changes the period used when Create is given zero days.
// Non-positive values are ignored.
func (s *Service) SetDefaultExpiry(days int) {
	if days > 0 {
		s.defaultDays = days
	}
}

// Create issues a token for the conversation valid for expiryDays days.
// Zero means the default expiry.
func (s *Service) Create(ctx context.Context, conversationID int64, expiryDays int) (Link, error) {
	if expiryDays == 0 {
		expiryDays = s.defaultDays
	}
	if expiryDays < 0 {
		return Link{}, ErrInvalidExpiry
	}
	if _, err := s.store.GetConversation(conversationID); err != nil {
		return Link{}, err
	}

	now := s.now().Truncate(time.Second)
	ttl := time.Duration(expiryDays) * 24 * time.Hour
	meta := Metadata{ConversationID: conversationID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	value, err := json.Marshal(meta)
	if err != nil {
		return Link{}, err
	}

	token := uuid.New().String()
	if err := s.cache.Set(ctx, keyPrefix+token, value, ttl); err != nil {
		return Link{}, fmt.Errorf("storing share token: %w", err)
	}
	return Link{Token: token, URL: "/shared/" + token, ExpiresAt: meta.ExpiresAt}, nil
}

// Get resolves a token. Unknown, expired and revoked tokens, and tokens of
// deleted conversations, all return storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, token string) (Shared, error) {
	raw, err := s.cache.Get(ctx, keyPrefix+token)
	if err != nil {
		return Shared{}, err
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Shared{}, fmt.Errorf("decoding share token: %w", err)
	}

	c, err := s.store.GetConversation(meta.ConversationID)
	if err != nil {
		return Shared{}, err
	}
	msgs, err := s.store.ListMessages(c.ID)
	if err != nil {
		return Shared{}, fmt.Errorf("loading messages: %w", err)
	}
	return Shared{Conversation: c, Messages: msgs, Metadata: meta}, nil
}

// Revoke deletes a token. It returns storage.ErrNotFound when the token
// was not live.
func (s *Service) Revoke(ctx context.Context, token string) error {
	ok, err := s.cache.Delete(ctx, keyPrefix+token)
	if err != nil {
		return fmt.Errorf("revoking share token: %w", err)
	}
	if !ok {
		return storage.ErrNotFound
	}
	return nil
}
