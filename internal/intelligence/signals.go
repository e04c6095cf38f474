package intelligence

import "github.com/kalambet/chatty/internal/storage"

// Profile categories.
const (
	CategoryPreference = "preference"
	CategoryPattern    = "pattern"
	CategoryTopic      = "topic"
	CategoryStyle      = "style"
	CategoryContext    = "context"
)

// Learning event kinds.
const (
	EventPatternDetected   = "pattern_detected"
	EventPreferenceLearned = "preference_learned"
)

// Record keys written by the default signal table.
const (
	KeyFavoriteTopics    = "favorite_topics"
	KeyDetailedResponses = "detailed_responses"
	KeyCodeExamples      = "code_examples"
	KeyStepByStep        = "step_by_step"
	KeyAvgMessageLength  = "avg_message_length"
)

// InitialConfidence is the confidence of a record on first observation.
const InitialConfidence = 0.5

// Signal maps one insight field to the profile record it feeds.
type Signal struct {
	Name      string
	Category  string
	Key       string
	Increment float64
	// Value reads the signal from an insight. ok is false when the insight
	// carries no observation for it.
	Value func(in storage.Insight) (v any, ok bool)
}

// EventKind returns the learning event kind recorded for this signal.
func (s Signal) EventKind() string {
	if s.Category == CategoryPreference {
		return EventPreferenceLearned
	}
	return EventPatternDetected
}

// DefaultSignals is the fixed signal table applied to every insight.
var DefaultSignals = []Signal{
	{
		Name: "topics_discussed", Category: CategoryTopic, Key: KeyFavoriteTopics, Increment: 0.05,
		Value: func(in storage.Insight) (any, bool) {
			if len(in.Topics) == 0 {
				return nil, false
			}
			return in.Topics, true
		},
	},
	{
		Name: "prefers_detailed_responses", Category: CategoryPreference, Key: KeyDetailedResponses, Increment: 0.10,
		Value: func(in storage.Insight) (any, bool) { return optionalBool(in.PrefersDetailed) },
	},
	{
		Name: "prefers_code_examples", Category: CategoryPreference, Key: KeyCodeExamples, Increment: 0.10,
		Value: func(in storage.Insight) (any, bool) { return optionalBool(in.PrefersCode) },
	},
	{
		Name: "prefers_step_by_step", Category: CategoryPreference, Key: KeyStepByStep, Increment: 0.10,
		Value: func(in storage.Insight) (any, bool) { return optionalBool(in.PrefersStepByStep) },
	},
	{
		Name: "avg_message_length", Category: CategoryStyle, Key: KeyAvgMessageLength, Increment: 0.05,
		Value: func(in storage.Insight) (any, bool) { return in.AvgMessageLength, true },
	},
}

func optionalBool(b *bool) (any, bool) {
	if b == nil {
		return nil, false
	}
	return *b, true
}
