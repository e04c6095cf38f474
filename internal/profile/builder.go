// Package profile turns a user's learned intelligence into a short
// natural-language context for system prompts.
package profile

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/chatty/internal/intelligence"
	"github.com/kalambet/chatty/internal/storage"
)

const (
	preferenceThreshold = 0.6
	topicThreshold      = 0.5
	maxTopics           = 5
	conciseBelow        = 50
	detailedAbove       = 200
)

// RecordStore defines the storage operations the Builder needs.
// Implemented by storage.Store.
type RecordStore interface {
	ListIntelligence(userID string) ([]storage.Intelligence, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	records  []storage.Intelligence
	cachedAt time.Time
}

// Builder provides cached per-user access to intelligence records and the
// context string derived from them.
type Builder struct {
	store RecordStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewBuilder creates a Builder with a 60-second cache TTL.
func NewBuilder(store RecordStore) *Builder {
	return NewBuilderWithClock(store, realClock{}, 60*time.Second)
}

// NewBuilderWithClock creates a Builder with a custom clock (for testing).
func NewBuilderWithClock(store RecordStore, clock Clock, ttl time.Duration) *Builder {
	return &Builder{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

func (b *Builder) records(userID string) ([]storage.Intelligence, error) {
	b.mu.RLock()
	e, ok := b.cache[userID]
	if ok && b.clock.Now().Before(e.cachedAt.Add(b.ttl)) {
		b.mu.RUnlock()
		return e.records, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.cache[userID]; ok && b.clock.Now().Before(e.cachedAt.Add(b.ttl)) {
		return e.records, nil
	}

	records, err := b.store.ListIntelligence(userID)
	if err != nil {
		return nil, fmt.Errorf("loading intelligence for %s: %w", userID, err)
	}
	b.cache[userID] = cacheEntry{records: records, cachedAt: b.clock.Now()}
	return records, nil
}

// Invalidate drops the cached records of userID.
func (b *Builder) Invalidate(userID string) {
	b.mu.Lock()
	delete(b.cache, userID)
	b.mu.Unlock()
}

// Context returns the personalization text for userID, or "" when nothing
// qualifies.
func (b *Builder) Context(userID string) (string, error) {
	records, err := b.records(userID)
	if err != nil {
		return "", err
	}
	return Compose(records), nil
}

// AverageConfidence returns the mean confidence over all of userID's records,
// rounded to two decimals. It is 0 for an empty profile.
func (b *Builder) AverageConfidence(userID string) (float64, error) {
	records, err := b.records(userID)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range records {
		sum += r.Confidence
	}
	return math.Round(sum/float64(len(records))*100) / 100, nil
}

// Compose builds the context from records in their stored order. Each clause
// is gated independently: preferences above 0.6 confidence with a truthy
// value, favorite topics above 0.5 (first five), and a style note from the
// average message length.
func Compose(records []storage.Intelligence) string {
	var prefs []string
	var topics, style string

	for _, r := range records {
		switch {
		case r.Category == intelligence.CategoryPreference:
			if r.Confidence > preferenceThreshold && truthy(r.Value) {
				prefs = append(prefs, "prefers "+strings.ReplaceAll(r.Key, "_", " "))
			}
		case r.Category == intelligence.CategoryTopic && r.Key == intelligence.KeyFavoriteTopics:
			if r.Confidence > topicThreshold {
				topics = topicClause(r.Value)
			}
		case r.Category == intelligence.CategoryStyle && r.Key == intelligence.KeyAvgMessageLength:
			style = styleClause(r.Value)
		}
	}

	var parts []string
	if len(prefs) > 0 {
		parts = append(parts, "User "+strings.Join(prefs, ", ")+".")
	}
	if topics != "" {
		parts = append(parts, topics)
	}
	if style != "" {
		parts = append(parts, style)
	}
	return strings.Join(parts, " ")
}

func topicClause(v any) string {
	list, ok := intelligence.AsList(v)
	if !ok {
		return ""
	}
	var names []string
	for _, item := range list {
		if len(names) == maxTopics {
			break
		}
		if s, ok := item.(string); ok && s != "" {
			names = append(names, s)
		}
	}
	if len(names) == 0 {
		return ""
	}
	return "User is interested in: " + strings.Join(names, ", ") + "."
}

// styleClause reads the stored average length.
func styleClause(v any) string {
	avg, ok := number(v)
	if !ok {
		return ""
	}
	switch {
	case avg < conciseBelow:
		return "User prefers concise communication."
	case avg > detailedAbove:
		return "User provides detailed context in messages."
	}
	return ""
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	if n, ok := number(v); ok {
		return n != 0
	}
	return true
}
