package api

import (
	"time"

	"github.com/kalambet/chatty/internal/search"
	"github.com/kalambet/chatty/internal/storage"
)

type messageView struct {
	ID           int64          `json:"id"`
	Conversation int64          `json:"conversation"`
	Content      string         `json:"content"`
	Sender       string         `json:"sender"`
	Timestamp    time.Time      `json:"timestamp"`
	Reactions    map[string]int `json:"reactions"`
	Bookmarked   bool           `json:"is_bookmarked"`
	BookmarkedAt *time.Time     `json:"bookmarked_at"`
	Parent       *int64         `json:"parent_message"`
}

func newMessageView(m storage.Message) messageView {
	reactions := m.Reactions
	if reactions == nil {
		reactions = map[string]int{}
	}
	return messageView{
		ID:           m.ID,
		Conversation: m.ConversationID,
		Content:      m.Content,
		Sender:       m.Sender,
		Timestamp:    m.CreatedAt,
		Reactions:    reactions,
		Bookmarked:   m.Bookmarked,
		BookmarkedAt: m.BookmarkedAt,
		Parent:       m.ParentID,
	}
}

func newMessageViews(msgs []storage.Message) []messageView {
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageView(m))
	}
	return out
}

type conversationView struct {
	ID           int64          `json:"id"`
	UserID       string         `json:"user_id"`
	Title        string         `json:"title"`
	StartedAt    time.Time      `json:"start_timestamp"`
	EndedAt      *time.Time     `json:"end_timestamp"`
	Status       string         `json:"status"`
	Summary      string         `json:"ai_summary"`
	Metadata     map[string]any `json:"metadata"`
	MessageCount int            `json:"message_count"`
	Duration     float64        `json:"duration"`
}

func newConversationView(c storage.Conversation, messageCount int, now time.Time) conversationView {
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return conversationView{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		StartedAt:    c.StartedAt,
		EndedAt:      c.EndedAt,
		Status:       c.Status,
		Summary:      c.Summary,
		Metadata:     meta,
		MessageCount: messageCount,
		Duration:     c.Duration(now).Seconds(),
	}
}

type conversationDetail struct {
	conversationView
	Messages []messageView `json:"messages"`
}

func newConversationDetail(c storage.Conversation, msgs []storage.Message, now time.Time) conversationDetail {
	return conversationDetail{
		conversationView: newConversationView(c, len(msgs), now),
		Messages:         newMessageViews(msgs),
	}
}

type searchResultView struct {
	conversationView
	Score  float64 `json:"relevance_score"`
	Method string  `json:"search_method"`
}

func newSearchResultView(r search.Result, now time.Time) searchResultView {
	return searchResultView{
		conversationView: newConversationView(r.Conversation, r.MessageCount, now),
		Score:            r.Score,
		Method:           r.Method,
	}
}

type eventView struct {
	ID          int64          `json:"id"`
	EventType   string         `json:"event_type"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data"`
	Confidence  float64        `json:"confidence"`
	Timestamp   time.Time      `json:"timestamp"`
}

func newEventViews(events []storage.LearningEvent) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			ID:          e.ID,
			EventType:   e.Kind,
			Description: e.Description,
			Data:        e.Data,
			Confidence:  e.Confidence,
			Timestamp:   e.CreatedAt,
		})
	}
	return out
}
