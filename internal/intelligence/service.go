package intelligence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/chatty/internal/insight"
	"github.com/kalambet/chatty/internal/storage"
)

// HighConfidence is the threshold reported as "high confidence" in stats.
const HighConfidence = 0.7

// Store is everything the Service reads and writes.
type Store interface {
	insight.Store
	RecordStore
	ListIntelligence(userID string) ([]storage.Intelligence, error)
	ResetUser(userID string) (storage.ResetCounts, error)
	ListEvents(userID, kind string, limit int) ([]storage.LearningEvent, error)
	CountInsights(userID string) (int, error)
	CountEvents(userID string) (int, error)
	RecentlyEnded(limit int) ([]storage.Conversation, error)
	ListConversations(userID string, limit, offset int) ([]storage.Conversation, error)
}

// Invalidator is notified when a user's profile changes.
type Invalidator interface {
	Invalidate(userID string)
}

// Analysis is the outcome of analyzing one conversation.
type Analysis struct {
	Insight storage.Insight
	Events  []storage.LearningEvent
}

// Entry is one learned fact as exposed in a profile.
type Entry struct {
	Value      any       `json:"value"`
	Confidence float64   `json:"confidence"`
	LearnedAt  time.Time `json:"learned_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Profile groups a user's records by category.
type Profile struct {
	UserID      string           `json:"user_id"`
	Preferences map[string]Entry `json:"preferences"`
	Patterns    map[string]Entry `json:"patterns"`
	Topics      map[string]Entry `json:"topics"`
	Styles      map[string]Entry `json:"styles"`
	Contexts    map[string]Entry `json:"contexts"`
	LastUpdated *time.Time       `json:"last_updated"`
}

// Stats summarizes how much has been learned about a user.
type Stats struct {
	TotalRecords          int `json:"total_intelligence_records"`
	HighConfidenceRecords int `json:"high_confidence_records"`
	ConversationsAnalyzed int `json:"conversations_analyzed"`
	LearningEvents        int `json:"learning_events"`
}

// Service runs the extract-then-aggregate pipeline and serves profiles.
type Service struct {
	store       Store
	extractor   *insight.Extractor
	aggregator  *Aggregator
	invalidator Invalidator
}

// NewService wires an extractor and aggregator over store. A nil classifier
// uses the default heuristic.
func NewService(store Store, classifier insight.Classifier) *Service {
	return &Service{
		store:      store,
		extractor:  insight.NewExtractor(store, classifier),
		aggregator: NewAggregator(store, nil),
	}
}

// SetInvalidator registers a listener for profile changes.
func (s *Service) SetInvalidator(inv Invalidator) {
	s.invalidator = inv
}

// Aggregator exposes the underlying aggregator for direct adjustments.
func (s *Service) Aggregator() *Aggregator {
	return s.aggregator
}

// Analyze extracts the insight of a conversation and folds it into the
// conversation owner's profile. Conversations with fewer than two messages
// return insight.ErrTooFewMessages.
func (s *Service) Analyze(ctx context.Context, conversationID int64) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	in, err := s.extractor.Extract(conversationID)
	if err != nil {
		return Analysis{}, err
	}
	events, err := s.aggregator.Fold(in)
	if s.invalidator != nil {
		s.invalidator.Invalidate(in.UserID)
	}
	if err != nil {
		return Analysis{Insight: in, Events: events}, fmt.Errorf("updating profile of %s: %w", in.UserID, err)
	}
	return Analysis{Insight: in, Events: events}, nil
}

// AnalyzeRecent analyzes the most recently ended conversations, newest first.
// Per-conversation failures are logged and skipped. It returns how many
// conversations were analyzed.
func (s *Service) AnalyzeRecent(ctx context.Context, limit int) (int, error) {
	convs, err := s.store.RecentlyEnded(limit)
	if err != nil {
		return 0, fmt.Errorf("listing ended conversations: %w", err)
	}
	return s.analyzeEach(ctx, convs), ctx.Err()
}

// AnalyzeUser analyzes every conversation owned by userID, up to limit.
func (s *Service) AnalyzeUser(ctx context.Context, userID string, limit int) (int, error) {
	convs, err := s.store.ListConversations(userID, limit, 0)
	if err != nil {
		return 0, fmt.Errorf("listing conversations of %s: %w", userID, err)
	}
	return s.analyzeEach(ctx, convs), ctx.Err()
}

func (s *Service) analyzeEach(ctx context.Context, convs []storage.Conversation) int {
	analyzed := 0
	for _, c := range convs {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Analyze(ctx, c.ID); err != nil {
			if !errors.Is(err, insight.ErrTooFewMessages) {
				slog.Warn("analyzing conversation failed", "conversation_id", c.ID, "error", err)
			}
			continue
		}
		analyzed++
	}
	return analyzed
}

// Profile returns userID's records grouped by category.
func (s *Service) Profile(userID string) (Profile, error) {
	records, err := s.store.ListIntelligence(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("listing intelligence: %w", err)
	}
	return GroupProfile(userID, records), nil
}

// GroupProfile builds a Profile from raw records.
func GroupProfile(userID string, records []storage.Intelligence) Profile {
	p := Profile{
		UserID:      userID,
		Preferences: map[string]Entry{},
		Patterns:    map[string]Entry{},
		Topics:      map[string]Entry{},
		Styles:      map[string]Entry{},
		Contexts:    map[string]Entry{},
	}
	groups := map[string]map[string]Entry{
		CategoryPreference: p.Preferences,
		CategoryPattern:    p.Patterns,
		CategoryTopic:      p.Topics,
		CategoryStyle:      p.Styles,
		CategoryContext:    p.Contexts,
	}
	for _, r := range records {
		g, ok := groups[r.Category]
		if !ok {
			continue
		}
		g[r.Key] = Entry{Value: r.Value, Confidence: r.Confidence, LearnedAt: r.LearnedAt, UpdatedAt: r.UpdatedAt}
		if p.LastUpdated == nil || r.UpdatedAt.After(*p.LastUpdated) {
			t := r.UpdatedAt
			p.LastUpdated = &t
		}
	}
	return p
}

// Stats reports record and event counts for userID.
func (s *Service) Stats(userID string) (Stats, error) {
	records, err := s.store.ListIntelligence(userID)
	if err != nil {
		return Stats{}, fmt.Errorf("listing intelligence: %w", err)
	}
	st := Stats{TotalRecords: len(records)}
	for _, r := range records {
		if r.Confidence >= HighConfidence {
			st.HighConfidenceRecords++
		}
	}
	if st.ConversationsAnalyzed, err = s.store.CountInsights(userID); err != nil {
		return Stats{}, fmt.Errorf("counting insights: %w", err)
	}
	if st.LearningEvents, err = s.store.CountEvents(userID); err != nil {
		return Stats{}, fmt.Errorf("counting events: %w", err)
	}
	return st, nil
}

// Reset deletes everything learned about userID.
func (s *Service) Reset(userID string) (storage.ResetCounts, error) {
	counts, err := s.store.ResetUser(userID)
	if err != nil {
		return storage.ResetCounts{}, fmt.Errorf("resetting %s: %w", userID, err)
	}
	if s.invalidator != nil {
		s.invalidator.Invalidate(userID)
	}
	return counts, nil
}

// History returns the newest learning events for userID, optionally
// filtered by kind.
func (s *Service) History(userID, kind string, limit int) ([]storage.LearningEvent, error) {
	return s.store.ListEvents(userID, kind, limit)
}
