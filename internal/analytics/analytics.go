// Package analytics reports activity trends across conversations and
// detailed statistics for a single conversation.
package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kalambet/chatty/internal/storage"
)

const (
	DefaultDays   = 30
	hourlyWindow  = 7 * 24 * time.Hour
	mostActiveTop = 5
)

// Store is the read-only aggregate access analytics needs.
type Store interface {
	DailyConversations(since time.Time) ([]storage.Bucket, error)
	DailyMessages(since time.Time) ([]storage.Bucket, error)
	BusiestDays(since time.Time, n int) ([]storage.Bucket, error)
	HourlyMessages(since time.Time) ([]storage.Bucket, error)
	MessagesBySender(since time.Time) ([]storage.Bucket, error)
	ConversationsByStatus(since time.Time) ([]storage.Bucket, error)
	ConversationTotals(since time.Time) (storage.ConversationTotals, error)

	GetConversation(id int64) (storage.Conversation, error)
	ListMessages(conversationID int64) ([]storage.Message, error)
}

type Period struct {
	Start time.Time `json:"start_date"`
	End   time.Time `json:"end_date"`
	Days  int       `json:"days"`
}

type Summary struct {
	TotalConversations int     `json:"total_conversations"`
	TotalMessages      int     `json:"total_messages"`
	AvgMessages        float64 `json:"avg_messages_per_conversation"`
	AvgDurationSeconds float64 `json:"avg_conversation_duration_seconds"`
	Bookmarked         int     `json:"bookmarked_messages"`
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Trends is the activity report over a window of days.
type Trends struct {
	Period  Period  `json:"period"`
	Summary Summary `json:"summary"`
	Trends  struct {
		DailyConversations []DayCount  `json:"daily_conversations"`
		DailyMessages      []DayCount  `json:"daily_messages"`
		HourlyActivity     []HourCount `json:"hourly_activity"`
	} `json:"trends"`
	Distributions struct {
		BySender []SenderCount `json:"by_sender"`
		ByStatus []StatusCount `json:"by_status"`
	} `json:"distributions"`
	Insights struct {
		MostActiveDays []DayCount `json:"most_active_days"`
	} `json:"insights"`
}

// Counts splits a number between user and AI messages.
type Counts struct {
	Total int `json:"total"`
	User  int `json:"user"`
	AI    int `json:"ai"`
}

// ConversationStats describes one conversation.
type ConversationStats struct {
	ConversationID  int64          `json:"conversation_id"`
	Title           string         `json:"title"`
	DurationSeconds int64          `json:"duration_seconds"`
	Messages        Counts         `json:"message_counts"`
	Words           Counts         `json:"word_counts"`
	Bookmarked      int            `json:"bookmarked_messages"`
	Reactions       map[string]int `json:"reactions"`
	Status          string         `json:"status"`
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Trends reports activity over the last days days. Hourly activity always
// covers the last seven days.
func (s *Service) Trends(days int) (Trends, error) {
	if days <= 0 {
		days = DefaultDays
	}
	now := s.now()
	since := now.AddDate(0, 0, -days)

	var out Trends
	out.Period = Period{Start: since, End: now, Days: days}

	totals, err := s.store.ConversationTotals(since)
	if err != nil {
		return Trends{}, fmt.Errorf("loading totals: %w", err)
	}
	out.Summary = Summary{
		TotalConversations: totals.Conversations,
		TotalMessages:      totals.Messages,
		AvgDurationSeconds: round2(totals.AvgEndedDurationS),
		Bookmarked:         totals.Bookmarked,
	}
	if totals.Conversations > 0 {
		out.Summary.AvgMessages = round2(float64(totals.Messages) / float64(totals.Conversations))
	}

	buckets := []struct {
		name string
		load func() ([]storage.Bucket, error)
		set  func([]storage.Bucket)
	}{
		{"daily conversations", func() ([]storage.Bucket, error) { return s.store.DailyConversations(since) },
			func(b []storage.Bucket) { out.Trends.DailyConversations = dayCounts(b) }},
		{"daily messages", func() ([]storage.Bucket, error) { return s.store.DailyMessages(since) },
			func(b []storage.Bucket) { out.Trends.DailyMessages = dayCounts(b) }},
		{"hourly activity", func() ([]storage.Bucket, error) { return s.store.HourlyMessages(now.Add(-hourlyWindow)) },
			func(b []storage.Bucket) {
				out.Trends.HourlyActivity = make([]HourCount, 0, len(b))
				for _, x := range b {
					out.Trends.HourlyActivity = append(out.Trends.HourlyActivity, HourCount{Hour: x.Key, Count: x.Count})
				}
			}},
		{"sender distribution", func() ([]storage.Bucket, error) { return s.store.MessagesBySender(since) },
			func(b []storage.Bucket) {
				out.Distributions.BySender = make([]SenderCount, 0, len(b))
				for _, x := range b {
					out.Distributions.BySender = append(out.Distributions.BySender, SenderCount{Sender: x.Key, Count: x.Count})
				}
			}},
		{"status distribution", func() ([]storage.Bucket, error) { return s.store.ConversationsByStatus(since) },
			func(b []storage.Bucket) {
				out.Distributions.ByStatus = make([]StatusCount, 0, len(b))
				for _, x := range b {
					out.Distributions.ByStatus = append(out.Distributions.ByStatus, StatusCount{Status: x.Key, Count: x.Count})
				}
			}},
		{"most active days", func() ([]storage.Bucket, error) { return s.store.BusiestDays(since, mostActiveTop) },
			func(b []storage.Bucket) { out.Insights.MostActiveDays = dayCounts(b) }},
	}
	for _, q := range buckets {
		b, err := q.load()
		if err != nil {
			return Trends{}, fmt.Errorf("loading %s: %w", q.name, err)
		}
		q.set(b)
	}
	return out, nil
}

func dayCounts(b []storage.Bucket) []DayCount {
	out := make([]DayCount, 0, len(b))
	for _, x := range b {
		out = append(out, DayCount{Date: x.Key, Count: x.Count})
	}
	return out
}

// ConversationStats counts messages, whitespace-separated words, bookmarks
// and reactions of one conversation.
func (s *Service) ConversationStats(id int64) (ConversationStats, error) {
	c, err := s.store.GetConversation(id)
	if err != nil {
		return ConversationStats{}, err
	}
	msgs, err := s.store.ListMessages(id)
	if err != nil {
		return ConversationStats{}, fmt.Errorf("loading messages: %w", err)
	}

	st := ConversationStats{
		ConversationID:  c.ID,
		Title:           c.Title,
		DurationSeconds: int64(c.Duration(s.now()).Seconds()),
		Reactions:       map[string]int{},
		Status:          c.Status,
	}
	for _, m := range msgs {
		words := len(strings.Fields(m.Content))
		switch m.Sender {
		case storage.SenderUser:
			st.Messages.User++
			st.Words.User += words
		case storage.SenderAI:
			st.Messages.AI++
			st.Words.AI += words
		}
		if m.Bookmarked {
			st.Bookmarked++
		}
		for r, n := range m.Reactions {
			st.Reactions[r] += n
		}
	}
	st.Messages.Total = len(msgs)
	st.Words.Total = st.Words.User + st.Words.AI
	return st, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
