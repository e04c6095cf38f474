// Package insight derives per-conversation behavioral signals from message text.
package insight

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/kalambet/chatty/internal/storage"
)

// ErrTooFewMessages is returned for conversations with fewer than MinMessages
// messages. No insight is written for them.
var ErrTooFewMessages = errors.New("not enough messages to analyze")

// MinMessages is the smallest conversation that gets analyzed.
const MinMessages = 2

// Thresholds are the fractions of user messages that must ask for a kind of
// answer before the matching preference is considered true.
type Thresholds struct {
	Detail     float64
	Code       float64
	StepByStep float64
}

// DefaultThresholds returns the standard preference cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{Detail: 0.2, Code: 0.3, StepByStep: 0.25}
}

// Store is the subset of storage the extractor needs.
type Store interface {
	GetConversation(id int64) (storage.Conversation, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
	UpsertInsight(in storage.Insight) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Extractor computes and stores conversation insights.
type Extractor struct {
	store      Store
	classifier Classifier
	thresholds Thresholds
	clock      Clock
}

// NewExtractor creates an Extractor. A nil classifier uses DefaultHeuristic.
func NewExtractor(store Store, classifier Classifier) *Extractor {
	if classifier == nil {
		classifier = DefaultHeuristic()
	}
	return &Extractor{
		store:      store,
		classifier: classifier,
		thresholds: DefaultThresholds(),
		clock:      realClock{},
	}
}

// NewExtractorWithClock is like NewExtractor with an injected clock.
func NewExtractorWithClock(store Store, classifier Classifier, clock Clock) *Extractor {
	e := NewExtractor(store, classifier)
	e.clock = clock
	return e
}

// Extract analyzes a stored conversation and upserts its insight. Running it
// again on an unchanged conversation rewrites the same values.
func (e *Extractor) Extract(conversationID int64) (storage.Insight, error) {
	conv, err := e.store.GetConversation(conversationID)
	if err != nil {
		return storage.Insight{}, fmt.Errorf("loading conversation %d: %w", conversationID, err)
	}
	msgs, err := e.store.ListMessages(conversationID)
	if err != nil {
		return storage.Insight{}, fmt.Errorf("loading messages of conversation %d: %w", conversationID, err)
	}

	in, err := e.Compute(conv, msgs)
	if err != nil {
		return storage.Insight{}, err
	}
	if err := e.store.UpsertInsight(in); err != nil {
		return storage.Insight{}, fmt.Errorf("saving insight for conversation %d: %w", conversationID, err)
	}
	return in, nil
}

// Compute derives an insight without persisting it.
func (e *Extractor) Compute(conv storage.Conversation, msgs []storage.Message) (storage.Insight, error) {
	if len(msgs) < MinMessages {
		return storage.Insight{}, ErrTooFewMessages
	}

	var user []string
	aiCount := 0
	for _, m := range msgs {
		switch m.Sender {
		case storage.SenderUser:
			user = append(user, m.Content)
		case storage.SenderAI:
			aiCount++
		}
	}

	in := storage.Insight{
		ConversationID:     conv.ID,
		UserID:             conv.UserID,
		AvgMessageLength:   averageLength(user),
		QuestionTypes:      []string{},
		Topics:             []string{},
		ConversationLength: len(msgs),
		SessionSeconds:     int64(conv.Duration(e.clock.Now()).Seconds()),
	}

	questions := newOrderedSet()
	for _, text := range user {
		questions.add(e.classifier.QuestionTypes(text)...)
		if e.classifier.Requests(RequestFollowUp, text) {
			in.FollowUps++
		}
		if e.classifier.Requests(RequestClarification, text) {
			in.Clarifications++
		}
	}
	in.QuestionTypes = questions.items

	topics := newOrderedSet()
	for _, m := range msgs {
		topics.add(e.classifier.Topics(m.Content)...)
	}
	in.Topics = topics.items

	if len(user) > 0 {
		in.PrefersCode = e.prefers(RequestCodeExample, user, e.thresholds.Code)
		in.PrefersStepByStep = e.prefers(RequestStepByStep, user, e.thresholds.StepByStep)
		if aiCount > 0 {
			in.PrefersDetailed = e.prefers(RequestDetail, user, e.thresholds.Detail)
		}
	}
	return in, nil
}

func (e *Extractor) prefers(kind string, user []string, threshold float64) *bool {
	hits := 0
	for _, text := range user {
		if e.classifier.Requests(kind, text) {
			hits++
		}
	}
	v := float64(hits) > float64(len(user))*threshold
	return &v
}

func averageLength(texts []string) int {
	if len(texts) == 0 {
		return 0
	}
	total := 0
	for _, t := range texts {
		total += utf8.RuneCountInString(t)
	}
	return total / len(texts)
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}, items: []string{}}
}

func (s *orderedSet) add(vs ...string) {
	for _, v := range vs {
		if !s.seen[v] {
			s.seen[v] = true
			s.items = append(s.items, v)
		}
	}
}
