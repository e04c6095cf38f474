package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

const (
	StatusActive = "active"
	StatusEnded  = "ended"

	SenderUser = "user"
	SenderAI   = "ai"

	// DefaultUserID owns conversations created without an explicit user.
	DefaultUserID = "default_user"
)

type Conversation struct {
	ID        int64
	UserID    string
	Title     string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
	Summary   string
	Metadata  map[string]any
}

// Duration returns end minus start, or now minus start while still active.
func (c Conversation) Duration(now time.Time) time.Duration {
	if c.EndedAt != nil {
		return c.EndedAt.Sub(c.StartedAt)
	}
	return now.Sub(c.StartedAt)
}

type Message struct {
	ID             int64
	ConversationID int64
	Sender         string
	Content        string
	CreatedAt      time.Time
	Reactions      map[string]int
	Bookmarked     bool
	BookmarkedAt   *time.Time
	ParentID       *int64
}

// Insight is the derived behavioral summary of one conversation.
// Nil preference pointers mean the signal could not be determined.
type Insight struct {
	ConversationID     int64
	UserID             string
	AvgMessageLength   int
	QuestionTypes      []string
	Topics             []string
	PrefersDetailed    *bool
	PrefersCode        *bool
	PrefersStepByStep  *bool
	FollowUps          int
	Clarifications     int
	ConversationLength int
	SessionSeconds     int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Intelligence is one learned fact about a user, unique per (UserID, Category, Key).
// Value holds decoded JSON: lists come back as []any and numbers as float64.
type Intelligence struct {
	ID         int64
	UserID     string
	Category   string
	Key        string
	Value      any
	Confidence float64
	Sources    []int64
	LearnedAt  time.Time
	UpdatedAt  time.Time
}

type LearningEvent struct {
	ID          int64
	UserID      string
	Kind        string
	Description string
	Data        map[string]any
	Confidence  float64
	CreatedAt   time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
