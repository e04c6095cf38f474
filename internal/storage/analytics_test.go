package storage

import (
	"testing"
	"time"
)

func TestAnalyticsAggregates(t *testing.T) {
	s := openTestStore(t)

	day1 := time.Date(2026, 3, 1, 9, 15, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)
	end := day1.Add(10 * time.Minute)

	a := mustConversation(t, s, Conversation{StartedAt: day1, Status: StatusEnded, EndedAt: &end})
	b := mustConversation(t, s, Conversation{StartedAt: day2})

	mustMessage(t, s, Message{ConversationID: a.ID, Sender: SenderUser, Content: "q", CreatedAt: day1})
	mustMessage(t, s, Message{ConversationID: a.ID, Sender: SenderAI, Content: "a", CreatedAt: day1.Add(time.Minute), Bookmarked: true, BookmarkedAt: &day1})
	mustMessage(t, s, Message{ConversationID: b.ID, Sender: SenderUser, Content: "q1", CreatedAt: day2})
	mustMessage(t, s, Message{ConversationID: b.ID, Sender: SenderAI, Content: "a1", CreatedAt: day2.Add(time.Minute)})
	mustMessage(t, s, Message{ConversationID: b.ID, Sender: SenderUser, Content: "q2", CreatedAt: day2.Add(time.Hour)})

	since := day1.Add(-time.Hour)

	daily, err := s.DailyConversations(since)
	if err != nil {
		t.Fatalf("DailyConversations: %v", err)
	}
	if len(daily) != 2 || daily[0].Key != "2026-03-01" || daily[0].Count != 1 {
		t.Errorf("DailyConversations = %+v", daily)
	}

	busiest, err := s.BusiestDays(since, 5)
	if err != nil {
		t.Fatalf("BusiestDays: %v", err)
	}
	if len(busiest) != 2 || busiest[0].Key != "2026-03-02" || busiest[0].Count != 3 {
		t.Errorf("BusiestDays = %+v", busiest)
	}

	hourly, err := s.HourlyMessages(since)
	if err != nil {
		t.Fatalf("HourlyMessages: %v", err)
	}
	if len(hourly) != 3 || hourly[0].Key != "2026-03-01T09:00:00Z" {
		t.Errorf("HourlyMessages = %+v", hourly)
	}

	senders, err := s.MessagesBySender(since)
	if err != nil {
		t.Fatalf("MessagesBySender: %v", err)
	}
	if len(senders) != 2 || senders[0].Key != "ai" || senders[0].Count != 2 || senders[1].Count != 3 {
		t.Errorf("MessagesBySender = %+v", senders)
	}

	totals, err := s.ConversationTotals(since)
	if err != nil {
		t.Fatalf("ConversationTotals: %v", err)
	}
	if totals.Conversations != 2 || totals.Messages != 5 || totals.Bookmarked != 1 {
		t.Errorf("ConversationTotals = %+v", totals)
	}
	if totals.AvgEndedDurationS < 599 || totals.AvgEndedDurationS > 601 {
		t.Errorf("AvgEndedDurationS = %v, want ~600", totals.AvgEndedDurationS)
	}
}
