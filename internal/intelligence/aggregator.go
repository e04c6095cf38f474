// Package intelligence folds conversation insights into durable per-user
// profiles and records an audit trail of what was learned.
package intelligence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/kalambet/chatty/internal/metrics"
	"github.com/kalambet/chatty/internal/storage"
)

// RecordStore persists intelligence records and learning events.
type RecordStore interface {
	GetIntelligence(userID, category, key string) (storage.Intelligence, error)
	SaveIntelligence(in storage.Intelligence) (storage.Intelligence, error)
	AppendEvent(e storage.LearningEvent) (storage.LearningEvent, error)
}

// Aggregator applies a signal table to insights. Updates to the same
// (user, category, key) are last-writer-wins.
type Aggregator struct {
	store   RecordStore
	signals []Signal
}

// NewAggregator creates an Aggregator. A nil table uses DefaultSignals.
func NewAggregator(store RecordStore, signals []Signal) *Aggregator {
	if signals == nil {
		signals = DefaultSignals
	}
	return &Aggregator{store: store, signals: signals}
}

// Fold applies every signal present in the insight to the owner's profile and
// returns the learning events it recorded, in signal table order.
func (a *Aggregator) Fold(in storage.Insight) ([]storage.LearningEvent, error) {
	var events []storage.LearningEvent
	for _, sig := range a.signals {
		v, ok := sig.Value(in)
		if !ok {
			continue
		}
		e, err := a.Observe(in.UserID, sig, v, in.ConversationID)
		if err != nil {
			return events, fmt.Errorf("applying %s: %w", sig.Name, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Observe records one observation of sig for userID from a conversation.
// A new record starts at InitialConfidence. An existing one has its value
// merged (list union) or replaced, gains the source conversation once, and
// has its confidence moved by sig.Increment.
func (a *Aggregator) Observe(userID string, sig Signal, value any, conversationID int64) (storage.LearningEvent, error) {
	rec, err := a.store.GetIntelligence(userID, sig.Category, sig.Key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = storage.Intelligence{
			UserID:     userID,
			Category:   sig.Category,
			Key:        sig.Key,
			Value:      value,
			Confidence: InitialConfidence,
			Sources:    []int64{conversationID},
		}
	case err != nil:
		return storage.LearningEvent{}, fmt.Errorf("loading %s/%s: %w", sig.Category, sig.Key, err)
	default:
		rec.Value = merge(rec.Value, value)
		rec.Sources = addSource(rec.Sources, conversationID)
		rec.Confidence = clamp(rec.Confidence + sig.Increment)
	}

	saved, err := a.store.SaveIntelligence(rec)
	if err != nil {
		return storage.LearningEvent{}, fmt.Errorf("saving %s/%s: %w", sig.Category, sig.Key, err)
	}
	metrics.RecordIntelligenceUpdate(sig.Category)

	e, err := a.store.AppendEvent(storage.LearningEvent{
		UserID:      userID,
		Kind:        sig.EventKind(),
		Description: fmt.Sprintf("Learned %s from conversation %d", sig.Key, conversationID),
		Data:        map[string]any{"category": sig.Category, "key": sig.Key, "value": value},
		Confidence:  saved.Confidence,
	})
	if err != nil {
		return storage.LearningEvent{}, fmt.Errorf("recording learning event: %w", err)
	}
	return e, nil
}

// Adjust moves the confidence of an existing record by delta, clamped to [0,1].
func (a *Aggregator) Adjust(userID, category, key string, delta float64) (storage.Intelligence, error) {
	rec, err := a.store.GetIntelligence(userID, category, key)
	if err != nil {
		return storage.Intelligence{}, err
	}
	rec.Confidence = clamp(rec.Confidence + delta)
	return a.store.SaveIntelligence(rec)
}

func clamp(c float64) float64 {
	return math.Max(0, math.Min(1, c))
}

func addSource(sources []int64, id int64) []int64 {
	for _, s := range sources {
		if s == id {
			return sources
		}
	}
	return append(sources, id)
}

// merge unions two list values keeping first-seen order. Anything else is
// replaced by the new value.
func merge(old, next any) any {
	a, okA := AsList(old)
	b, okB := AsList(next)
	if !okA || !okB {
		return next
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]any, 0, len(a)+len(b))
	for _, list := range [][]any{a, b} {
		for _, v := range list {
			k := identity(v)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, v)
		}
	}
	return out
}

// AsList accepts both freshly computed string lists and lists decoded from
// storage.
func AsList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func identity(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T:%v", v, v)
	}
	return string(b)
}
