package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `id, user_id, title, status, started_at, ended_at, ai_summary, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var startedAt, metadata string
	var endedAt sql.NullString
	if err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Status, &startedAt, &endedAt, &c.Summary, &metadata); err != nil {
		return Conversation{}, err
	}
	t, err := parseTime(startedAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("parsing started_at: %w", err)
	}
	c.StartedAt = t
	if c.EndedAt, err = parseNullTime(endedAt); err != nil {
		return Conversation{}, fmt.Errorf("parsing ended_at: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return Conversation{}, fmt.Errorf("decoding metadata for conversation %d: %w", c.ID, err)
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return c, nil
}

func (s *Store) queryConversations(query string, args ...any) ([]Conversation, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// --- Conversations ---

// CreateConversation inserts c as a new active conversation and returns it with its ID.
func (s *Store) CreateConversation(c Conversation) (Conversation, error) {
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return Conversation{}, fmt.Errorf("encoding metadata: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO conversations (user_id, title, status, started_at, ended_at, ai_summary, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.UserID, c.Title, c.Status, formatTime(c.StartedAt), nullTime(c.EndedAt), c.Summary, meta,
	)
	if err != nil {
		return Conversation{}, err
	}
	if c.ID, err = res.LastInsertId(); err != nil {
		return Conversation{}, err
	}
	c.StartedAt = c.StartedAt.UTC().Truncate(time.Second)
	return c, nil
}

func (s *Store) GetConversation(id int64) (Conversation, error) {
	c, err := scanConversation(s.db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	return c, err
}

// ListConversations returns conversations newest first. An empty userID lists every user.
func (s *Store) ListConversations(userID string, limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if userID == "" {
		return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations
			ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	}
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
}

// UpdateConversation overwrites the mutable fields of c.
func (s *Store) UpdateConversation(c Conversation) error {
	meta, err := marshalJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	res, err := s.db.Exec(`
		UPDATE conversations SET title = ?, status = ?, ended_at = ?, ai_summary = ?, metadata = ?
		WHERE id = ?`,
		c.Title, c.Status, nullTime(c.EndedAt), c.Summary, meta, c.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSummary stores the AI summary of a conversation.
func (s *Store) SetSummary(id int64, summary string) error {
	res, err := s.db.Exec(`UPDATE conversations SET ai_summary = ? WHERE id = ?`, summary, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// MergeConversationMetadata sets the keys in patch on top of the stored metadata.
func (s *Store) MergeConversationMetadata(id int64, patch map[string]any) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning metadata transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT metadata FROM conversations WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return fmt.Errorf("decoding metadata for conversation %d: %w", id, err)
	}
	for k, v := range patch {
		meta[k] = v
	}
	encoded, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if _, err := tx.Exec(`UPDATE conversations SET metadata = ? WHERE id = ?`, encoded, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) DeleteConversation(id int64) error {
	res, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SummarizationCandidates returns unsummarized conversations that are either
// ended, or active with no message at or after idleSince.
func (s *Store) SummarizationCandidates(idleSince time.Time) ([]Conversation, error) {
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations c
		WHERE c.ai_summary = '' AND (
			c.status = 'ended' OR (
				c.status = 'active' AND NOT EXISTS (
					SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND m.created_at >= ?
				)
			)
		)
		ORDER BY c.id ASC`, formatTime(idleSince))
}

// ArchiveCandidates returns ended conversations started before cutoff that are
// not yet flagged as archived.
func (s *Store) ArchiveCandidates(cutoff time.Time) ([]Conversation, error) {
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		WHERE status = 'ended' AND started_at < ?
		AND COALESCE(json_extract(metadata, '$.archived'), 0) = 0
		ORDER BY id ASC`, formatTime(cutoff))
}

// RecentlyEnded returns up to limit ended conversations, most recently ended first.
func (s *Store) RecentlyEnded(limit int) ([]Conversation, error) {
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations
		WHERE status = 'ended' ORDER BY ended_at DESC, id DESC LIMIT ?`, limit)
}

// SearchConversations returns conversations whose title, summary or any
// message contains query, case-insensitively.
func (s *Store) SearchConversations(userID, query string, limit int) ([]Conversation, error) {
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	args := []any{pattern, pattern, pattern}
	where := ""
	if userID != "" {
		where = "c.user_id = ? AND "
		args = append([]any{userID}, args...)
	}
	args = append(args, limit)
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations c
		WHERE `+where+`(
			lower(c.title) LIKE ? ESCAPE '\' OR lower(c.ai_summary) LIKE ? ESCAPE '\' OR EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND lower(m.content) LIKE ? ESCAPE '\'
			)
		)
		ORDER BY c.started_at DESC, c.id DESC LIMIT ?`, args...)
}

// EndedMatching returns up to limit ended conversations, newest first. A
// non-empty query restricts them like SearchConversations.
func (s *Store) EndedMatching(query string, limit int) ([]Conversation, error) {
	if query == "" {
		return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations c
			WHERE c.status = 'ended' ORDER BY c.started_at DESC, c.id DESC LIMIT ?`, limit)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	return s.queryConversations(`SELECT `+conversationColumns+` FROM conversations c
		WHERE c.status = 'ended' AND (
			lower(c.title) LIKE ? ESCAPE '\' OR lower(c.ai_summary) LIKE ? ESCAPE '\' OR EXISTS (
				SELECT 1 FROM messages m WHERE m.conversation_id = c.id AND lower(m.content) LIKE ? ESCAPE '\'
			)
		)
		ORDER BY c.started_at DESC, c.id DESC LIMIT ?`, pattern, pattern, pattern, limit)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// --- Messages ---

const messageColumns = `id, conversation_id, sender, content, created_at, reactions, is_bookmarked, bookmarked_at, parent_message_id`

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var createdAt, reactions string
	var bookmarkedAt sql.NullString
	var parentID sql.NullInt64
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &createdAt, &reactions, &m.Bookmarked, &bookmarkedAt, &parentID); err != nil {
		return Message{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Message{}, fmt.Errorf("parsing created_at: %w", err)
	}
	m.CreatedAt = t
	if m.BookmarkedAt, err = parseNullTime(bookmarkedAt); err != nil {
		return Message{}, fmt.Errorf("parsing bookmarked_at: %w", err)
	}
	if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
		return Message{}, fmt.Errorf("decoding reactions for message %d: %w", m.ID, err)
	}
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	if parentID.Valid {
		id := parentID.Int64
		m.ParentID = &id
	}
	return m, nil
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// AddMessage appends m to its conversation and returns it with its ID.
func (s *Store) AddMessage(m Message) (Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	reactions, err := marshalJSON(m.Reactions)
	if err != nil {
		return Message{}, fmt.Errorf("encoding reactions: %w", err)
	}
	var parent any
	if m.ParentID != nil {
		parent = *m.ParentID
	}
	res, err := s.db.Exec(`
		INSERT INTO messages (conversation_id, sender, content, created_at, reactions, is_bookmarked, bookmarked_at, parent_message_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.Sender, m.Content, formatTime(m.CreatedAt), reactions, m.Bookmarked, nullTime(m.BookmarkedAt), parent,
	)
	if err != nil {
		return Message{}, err
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Second)
	return m, nil
}

func (s *Store) GetMessage(id int64) (Message, error) {
	m, err := scanMessage(s.db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(conversationID int64) ([]Message, error) {
	return s.queryMessages(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
}

// RecentMessages returns the last n messages of a conversation in chronological order.
func (s *Store) RecentMessages(conversationID int64, n int) ([]Message, error) {
	msgs, err := s.queryMessages(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, conversationID, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) CountMessages(conversationID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&n)
	return n, err
}

// ListReplies returns the direct replies to a message.
func (s *Store) ListReplies(parentID int64) ([]Message, error) {
	return s.queryMessages(`SELECT `+messageColumns+` FROM messages
		WHERE parent_message_id = ? ORDER BY created_at ASC, id ASC`, parentID)
}

// SetBookmark flags or unflags a message. The timestamp is cleared when unflagging.
func (s *Store) SetBookmark(id int64, bookmarked bool, at time.Time) error {
	var ts any
	if bookmarked {
		ts = formatTime(at)
	}
	res, err := s.db.Exec(`UPDATE messages SET is_bookmarked = ?, bookmarked_at = ? WHERE id = ?`, bookmarked, ts, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddReaction increments the named reaction counter and returns the new counts.
func (s *Store) AddReaction(id int64, reaction string) (map[string]int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning reaction transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRow(`SELECT reactions FROM messages WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	if err := json.Unmarshal([]byte(raw), &counts); err != nil {
		return nil, fmt.Errorf("decoding reactions for message %d: %w", id, err)
	}
	counts[reaction]++
	encoded, err := marshalJSON(counts)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE messages SET reactions = ? WHERE id = ?`, encoded, id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return counts, nil
}
