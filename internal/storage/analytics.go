package storage

import "time"

// Bucket is one group of a grouped count.
type Bucket struct {
	Key   string
	Count int
}

func (s *Store) queryBuckets(query string, args ...any) ([]Bucket, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Key, &b.Count); err != nil {
			return nil, err
		}
		results = append(results, b)
	}
	return results, rows.Err()
}

// --- Analytics ---

// DailyConversations counts conversations started per UTC day since the given time.
func (s *Store) DailyConversations(since time.Time) ([]Bucket, error) {
	return s.queryBuckets(`SELECT substr(started_at, 1, 10) AS day, COUNT(*) FROM conversations
		WHERE started_at >= ? GROUP BY day ORDER BY day ASC`, formatTime(since))
}

// DailyMessages counts messages per UTC day since the given time.
func (s *Store) DailyMessages(since time.Time) ([]Bucket, error) {
	return s.queryBuckets(`SELECT substr(created_at, 1, 10) AS day, COUNT(*) FROM messages
		WHERE created_at >= ? GROUP BY day ORDER BY day ASC`, formatTime(since))
}

// BusiestDays returns the top n days by message count.
func (s *Store) BusiestDays(since time.Time, n int) ([]Bucket, error) {
	return s.queryBuckets(`SELECT substr(created_at, 1, 10) AS day, COUNT(*) AS cnt FROM messages
		WHERE created_at >= ? GROUP BY day ORDER BY cnt DESC, day DESC LIMIT ?`, formatTime(since), n)
}

// HourlyMessages counts messages per UTC hour, keyed "YYYY-MM-DDTHH:00:00Z".
func (s *Store) HourlyMessages(since time.Time) ([]Bucket, error) {
	return s.queryBuckets(`SELECT substr(created_at, 1, 13) || ':00:00Z' AS hour, COUNT(*) FROM messages
		WHERE created_at >= ? GROUP BY hour ORDER BY hour ASC`, formatTime(since))
}

func (s *Store) MessagesBySender(since time.Time) ([]Bucket, error) {
	return s.queryBuckets(`SELECT sender, COUNT(*) FROM messages
		WHERE created_at >= ? GROUP BY sender ORDER BY sender ASC`, formatTime(since))
}

func (s *Store) ConversationsByStatus(since time.Time) ([]Bucket, error) {
	return s.queryBuckets(`SELECT status, COUNT(*) FROM conversations
		WHERE started_at >= ? GROUP BY status ORDER BY status ASC`, formatTime(since))
}

// ConversationTotals is the headline summary of conversations started since a point in time.
type ConversationTotals struct {
	Conversations     int
	Messages          int
	Bookmarked        int
	AvgEndedDurationS float64
}

func (s *Store) ConversationTotals(since time.Time) (ConversationTotals, error) {
	ts := formatTime(since)
	var t ConversationTotals
	err := s.db.QueryRow(`SELECT
			(SELECT COUNT(*) FROM conversations WHERE started_at >= ?),
			(SELECT COUNT(*) FROM messages m JOIN conversations c ON c.id = m.conversation_id WHERE c.started_at >= ?),
			(SELECT COUNT(*) FROM messages WHERE is_bookmarked = 1 AND created_at >= ?),
			(SELECT COALESCE(AVG((julianday(ended_at) - julianday(started_at)) * 86400.0), 0)
				FROM conversations WHERE started_at >= ? AND status = 'ended' AND ended_at IS NOT NULL)`,
		ts, ts, ts, ts,
	).Scan(&t.Conversations, &t.Messages, &t.Bookmarked, &t.AvgEndedDurationS)
	return t, err
}
