// Package search finds past conversations by embedding similarity, falling
// back to weighted keyword matching when no embedder is available.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/chatty/internal/provider"
	"github.com/kalambet/chatty/internal/storage"
)

const (
	DefaultLimit = 10
	// MinSimilarity is the cosine score a semantic hit must exceed.
	MinSimilarity = 0.3

	recentMessages  = 5
	maxMessageChars = 200
	keywordScan     = 500
	embedWorkers    = 4
)

const (
	MethodSemantic = "semantic"
	MethodKeyword  = "keyword"
)

var (
	ErrEmptyQuery = errors.New("search query is required")
	ErrNoEmbedder = errors.New("no embedding provider configured")
)

// Store is the conversation access search needs.
type Store interface {
	GetConversation(id int64) (storage.Conversation, error)
	ListConversations(userID string, limit, offset int) ([]storage.Conversation, error)
	SearchConversations(userID, query string, limit int) ([]storage.Conversation, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
	RecentMessages(conversationID int64, n int) ([]storage.Message, error)
}

// Result is one ranked conversation.
type Result struct {
	Conversation storage.Conversation
	Score        float64
	MessageCount int
	Method       string
}

// Service indexes and searches conversations.
type Service struct {
	store    Store
	vectors  *Vectors
	embedder provider.Embedder
	model    string
}

// NewService creates a Service. embedder may be nil, in which case every
// search uses keyword matching and Index returns ErrNoEmbedder.
func NewService(store Store, vectors *Vectors, embedder provider.Embedder, model string) *Service {
	return &Service{store: store, vectors: vectors, embedder: embedder, model: model}
}

// ConversationText is the text embedded for a conversation: its title, its
// summary and up to five recent messages truncated to 200 characters each.
func ConversationText(c storage.Conversation, recent []storage.Message) string {
	var parts []string
	if c.Title != "" {
		parts = append(parts, "Title: "+c.Title)
	}
	if c.Summary != "" {
		parts = append(parts, "Summary: "+c.Summary)
	}
	if len(recent) > 0 {
		texts := make([]string, 0, len(recent))
		for _, m := range recent {
			texts = append(texts, m.Sender+": "+truncate(m.Content, maxMessageChars))
		}
		parts = append(parts, "Recent messages: "+strings.Join(texts, " "))
	}
	return strings.Join(parts, " ")
}

// Index embeds one conversation and replaces its vector.
func (s *Service) Index(ctx context.Context, conversationID int64) error {
	if s.embedder == nil {
		return ErrNoEmbedder
	}
	c, text, err := s.document(conversationID)
	if err != nil {
		return err
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embedding conversation %d: %w", conversationID, err)
	}
	_, err = s.vectors.Upsert(Vector{ConversationID: c.ID, UserID: c.UserID, Text: text, Embedding: vec, Model: s.model})
	return err
}

// IndexAll re-embeds up to limit of the user's conversations concurrently.
// It returns how many were indexed.
func (s *Service) IndexAll(ctx context.Context, userID string, limit int) (int, error) {
	if s.embedder == nil {
		return 0, ErrNoEmbedder
	}
	convs, err := s.store.ListConversations(userID, limit, 0)
	if err != nil {
		return 0, fmt.Errorf("listing conversations: %w", err)
	}

	texts := make([]string, len(convs))
	for i, c := range convs {
		if _, texts[i], err = s.document(c.ID); err != nil {
			return 0, err
		}
	}

	vecs := make([][]float32, len(convs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedWorkers)
	for i := range convs {
		g.Go(func() error {
			vec, err := s.embedder.Embed(gCtx, texts[i])
			if err != nil {
				return fmt.Errorf("embedding conversation %d: %w", convs[i].ID, err)
			}
			vecs[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	for i, c := range convs {
		if _, err := s.vectors.Upsert(Vector{ConversationID: c.ID, UserID: c.UserID, Text: texts[i], Embedding: vecs[i], Model: s.model}); err != nil {
			return i, err
		}
	}
	return len(convs), nil
}

func (s *Service) document(id int64) (storage.Conversation, string, error) {
	c, err := s.store.GetConversation(id)
	if err != nil {
		return storage.Conversation{}, "", err
	}
	recent, err := s.store.RecentMessages(id, recentMessages)
	if err != nil {
		return storage.Conversation{}, "", fmt.Errorf("loading messages of %d: %w", id, err)
	}
	return c, ConversationText(c, recent), nil
}

// Search ranks the user's conversations against query. With semantic set
// and an embedder available it uses the vector index; otherwise, or when
// embedding the query fails, it falls back to keyword scoring.
func (s *Service) Search(ctx context.Context, userID, query string, limit int, semantic bool) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if semantic && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.semantic(userID, vec, limit)
		}
		slog.Warn("embedding query failed, using keyword search", "error", err)
	}
	return s.Keyword(userID, query, limit)
}

func (s *Service) semantic(userID string, vec []float32, limit int) ([]Result, error) {
	matches, err := s.vectors.Nearest(userID, vec, limit, MinSimilarity)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		c, err := s.store.GetConversation(m.ConversationID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		msgs, err := s.store.ListMessages(c.ID)
		if err != nil {
			return nil, fmt.Errorf("loading messages of %d: %w", c.ID, err)
		}
		results = append(results, Result{Conversation: c, Score: float64(m.Score), MessageCount: len(msgs), Method: MethodSemantic})
	}
	return results, nil
}

// Keyword scores case-insensitive substring hits: 3 for the title, 2 for the
// summary and 1 per matching message, divided by 10.
func (s *Service) Keyword(userID, query string, limit int) ([]Result, error) {
	convs, err := s.store.SearchConversations(userID, query, keywordScan)
	if err != nil {
		return nil, fmt.Errorf("searching conversations: %w", err)
	}
	q := strings.ToLower(query)

	var results []Result
	for _, c := range convs {
		msgs, err := s.store.ListMessages(c.ID)
		if err != nil {
			return nil, fmt.Errorf("loading messages of %d: %w", c.ID, err)
		}
		score := 0
		if strings.Contains(strings.ToLower(c.Title), q) {
			score += 3
		}
		if strings.Contains(strings.ToLower(c.Summary), q) {
			score += 2
		}
		for _, m := range msgs {
			if strings.Contains(strings.ToLower(m.Content), q) {
				score++
			}
		}
		if score == 0 {
			continue
		}
		results = append(results, Result{Conversation: c, Score: float64(score) / 10, MessageCount: len(msgs), Method: MethodKeyword})
	}

	slices.SortStableFunc(results, func(a, b Result) int { return cmp.Compare(b.Score, a.Score) })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
