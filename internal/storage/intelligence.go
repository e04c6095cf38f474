package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// --- Conversation Insights ---

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

// UpsertInsight writes the single insight row for a conversation, replacing any
// previous computation. CreatedAt of an existing row is preserved.
func (s *Store) UpsertInsight(in Insight) error {
	questionTypes, err := marshalJSON(nonNil(in.QuestionTypes))
	if err != nil {
		return fmt.Errorf("encoding question types: %w", err)
	}
	topics, err := marshalJSON(nonNil(in.Topics))
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	now := formatTime(time.Now())
	_, err = s.db.Exec(`
		INSERT INTO conversation_insights (conversation_id, user_id, avg_message_length, question_types, topics_discussed,
			prefers_detailed, prefers_code_examples, prefers_step_by_step, follow_up_questions, clarification_requests,
			conversation_length, session_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			user_id = excluded.user_id,
			avg_message_length = excluded.avg_message_length,
			question_types = excluded.question_types,
			topics_discussed = excluded.topics_discussed,
			prefers_detailed = excluded.prefers_detailed,
			prefers_code_examples = excluded.prefers_code_examples,
			prefers_step_by_step = excluded.prefers_step_by_step,
			follow_up_questions = excluded.follow_up_questions,
			clarification_requests = excluded.clarification_requests,
			conversation_length = excluded.conversation_length,
			session_seconds = excluded.session_seconds,
			updated_at = excluded.updated_at`,
		in.ConversationID, in.UserID, in.AvgMessageLength, questionTypes, topics,
		nullBool(in.PrefersDetailed), nullBool(in.PrefersCode), nullBool(in.PrefersStepByStep),
		in.FollowUps, in.Clarifications, in.ConversationLength, in.SessionSeconds, now, now,
	)
	return err
}

func (s *Store) GetInsight(conversationID int64) (Insight, error) {
	var in Insight
	var questionTypes, topics, createdAt, updatedAt string
	var detailed, code, steps sql.NullBool
	err := s.db.QueryRow(`
		SELECT conversation_id, user_id, avg_message_length, question_types, topics_discussed,
			prefers_detailed, prefers_code_examples, prefers_step_by_step, follow_up_questions, clarification_requests,
			conversation_length, session_seconds, created_at, updated_at
		FROM conversation_insights WHERE conversation_id = ?`, conversationID,
	).Scan(&in.ConversationID, &in.UserID, &in.AvgMessageLength, &questionTypes, &topics,
		&detailed, &code, &steps, &in.FollowUps, &in.Clarifications,
		&in.ConversationLength, &in.SessionSeconds, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Insight{}, ErrNotFound
	}
	if err != nil {
		return Insight{}, err
	}
	if err := json.Unmarshal([]byte(questionTypes), &in.QuestionTypes); err != nil {
		return Insight{}, fmt.Errorf("decoding question types: %w", err)
	}
	if err := json.Unmarshal([]byte(topics), &in.Topics); err != nil {
		return Insight{}, fmt.Errorf("decoding topics: %w", err)
	}
	in.PrefersDetailed = boolPtr(detailed)
	in.PrefersCode = boolPtr(code)
	in.PrefersStepByStep = boolPtr(steps)
	if in.CreatedAt, err = parseTime(createdAt); err != nil {
		return Insight{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Insight{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return in, nil
}

// CountInsights returns how many conversations of userID have been analyzed.
func (s *Store) CountInsights(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversation_insights WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// --- User Intelligence ---

const intelligenceColumns = `id, user_id, category, key, value, confidence, source_conversations, learned_at, updated_at`

func scanIntelligence(row rowScanner) (Intelligence, error) {
	var in Intelligence
	var value, sources, learnedAt, updatedAt string
	if err := row.Scan(&in.ID, &in.UserID, &in.Category, &in.Key, &value, &in.Confidence, &sources, &learnedAt, &updatedAt); err != nil {
		return Intelligence{}, err
	}
	if err := json.Unmarshal([]byte(value), &in.Value); err != nil {
		return Intelligence{}, fmt.Errorf("decoding value of %s/%s: %w", in.Category, in.Key, err)
	}
	if err := json.Unmarshal([]byte(sources), &in.Sources); err != nil {
		return Intelligence{}, fmt.Errorf("decoding sources of %s/%s: %w", in.Category, in.Key, err)
	}
	var err error
	if in.LearnedAt, err = parseTime(learnedAt); err != nil {
		return Intelligence{}, fmt.Errorf("parsing learned_at: %w", err)
	}
	if in.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Intelligence{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return in, nil
}

func (s *Store) GetIntelligence(userID, category, key string) (Intelligence, error) {
	in, err := scanIntelligence(s.db.QueryRow(`SELECT `+intelligenceColumns+` FROM user_intelligence
		WHERE user_id = ? AND category = ? AND key = ?`, userID, category, key))
	if err == sql.ErrNoRows {
		return Intelligence{}, ErrNotFound
	}
	return in, err
}

// SaveIntelligence inserts or overwrites the record for (UserID, Category, Key).
// LearnedAt is kept from the first insert. The stored record is returned.
func (s *Store) SaveIntelligence(in Intelligence) (Intelligence, error) {
	value, err := marshalJSON(in.Value)
	if err != nil {
		return Intelligence{}, fmt.Errorf("encoding value: %w", err)
	}
	if in.Sources == nil {
		in.Sources = []int64{}
	}
	sources, err := marshalJSON(in.Sources)
	if err != nil {
		return Intelligence{}, fmt.Errorf("encoding sources: %w", err)
	}
	now := formatTime(time.Now())
	if _, err := s.db.Exec(`
		INSERT INTO user_intelligence (user_id, category, key, value, confidence, source_conversations, learned_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, category, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source_conversations = excluded.source_conversations,
			updated_at = excluded.updated_at`,
		in.UserID, in.Category, in.Key, value, in.Confidence, sources, now, now,
	); err != nil {
		return Intelligence{}, err
	}
	return s.GetIntelligence(in.UserID, in.Category, in.Key)
}

// ListIntelligence returns every record for userID in insertion order.
func (s *Store) ListIntelligence(userID string) ([]Intelligence, error) {
	rows, err := s.db.Query(`SELECT `+intelligenceColumns+` FROM user_intelligence
		WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Intelligence
	for rows.Next() {
		in, err := scanIntelligence(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, in)
	}
	return results, rows.Err()
}

// ResetCounts reports how many rows ResetUser removed per table.
type ResetCounts struct {
	Intelligence int64
	Insights     int64
	Events       int64
}

// ResetUser deletes all learned intelligence, insights and learning events for userID.
func (s *Store) ResetUser(userID string) (ResetCounts, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return ResetCounts{}, fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	var counts ResetCounts
	for _, step := range []struct {
		query string
		dst   *int64
	}{
		{`DELETE FROM user_intelligence WHERE user_id = ?`, &counts.Intelligence},
		{`DELETE FROM conversation_insights WHERE user_id = ?`, &counts.Insights},
		{`DELETE FROM learning_events WHERE user_id = ?`, &counts.Events},
	} {
		res, err := tx.Exec(step.query, userID)
		if err != nil {
			return ResetCounts{}, err
		}
		if *step.dst, err = res.RowsAffected(); err != nil {
			return ResetCounts{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return ResetCounts{}, err
	}
	return counts, nil
}

// --- Learning Events ---

func (s *Store) AppendEvent(e LearningEvent) (LearningEvent, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	data, err := marshalJSON(e.Data)
	if err != nil {
		return LearningEvent{}, fmt.Errorf("encoding event data: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO learning_events (user_id, event_type, description, data, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Kind, e.Description, data, e.Confidence, formatTime(e.CreatedAt),
	)
	if err != nil {
		return LearningEvent{}, err
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return LearningEvent{}, err
	}
	return e, nil
}

// ListEvents returns the newest events for userID, optionally filtered by kind.
func (s *Store) ListEvents(userID, kind string, limit int) ([]LearningEvent, error) {
	query := `SELECT id, user_id, event_type, description, data, confidence, created_at
		FROM learning_events WHERE user_id = ?`
	args := []any{userID}
	if kind != "" {
		query += ` AND event_type = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LearningEvent
	for rows.Next() {
		var e LearningEvent
		var data, createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Description, &data, &e.Confidence, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &e.Data); err != nil {
			return nil, fmt.Errorf("decoding data of event %d: %w", e.ID, err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *Store) CountEvents(userID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM learning_events WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
