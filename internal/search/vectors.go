package search

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Vector is one row of the conversation index. Each conversation has at
// most one vector; re-indexing replaces it.
type Vector struct {
	ID             string
	ConversationID int64
	UserID         string
	Text           string
	Embedding      []float32
	Model          string
	CreatedAt      time.Time
}

// Match is a conversation id with its cosine similarity to a query.
type Match struct {
	ConversationID int64
	Score          float32
}

// Vectors provides brute-force cosine similarity search over the
// conversation_vectors table.
type Vectors struct {
	db *sql.DB
}

// NewVectors wraps an existing *sql.DB. The table is created by the
// storage migrations.
func NewVectors(db *sql.DB) *Vectors {
	return &Vectors{db: db}
}

// Upsert stores v, replacing any earlier vector of the same conversation.
func (s *Vectors) Upsert(v Vector) (Vector, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO conversation_vectors (id, conversation_id, user_id, text_chunk, embedding, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			id = excluded.id,
			user_id = excluded.user_id,
			text_chunk = excluded.text_chunk,
			embedding = excluded.embedding,
			model = excluded.model,
			created_at = excluded.created_at`,
		v.ID, v.ConversationID, v.UserID, v.Text, encodeFloat32s(v.Embedding), v.Model, v.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return Vector{}, fmt.Errorf("upserting vector for conversation %d: %w", v.ConversationID, err)
	}
	return v, nil
}

// Get returns the vector of a conversation, or sql.ErrNoRows.
func (s *Vectors) Get(conversationID int64) (Vector, error) {
	var v Vector
	var blob []byte
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, conversation_id, user_id, text_chunk, embedding, model, created_at
		FROM conversation_vectors WHERE conversation_id = ?`, conversationID,
	).Scan(&v.ID, &v.ConversationID, &v.UserID, &v.Text, &blob, &v.Model, &createdAt)
	if err != nil {
		return Vector{}, err
	}
	if v.Embedding, err = decodeFloat32s(blob); err != nil {
		return Vector{}, fmt.Errorf("decoding embedding for conversation %d: %w", conversationID, err)
	}
	if v.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Vector{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return v, nil
}

// Delete removes the vector of a conversation. Deleting a missing vector is not an error.
func (s *Vectors) Delete(conversationID int64) error {
	if _, err := s.db.Exec(`DELETE FROM conversation_vectors WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("deleting vector for conversation %d: %w", conversationID, err)
	}
	return nil
}

// Count returns the number of indexed conversations.
func (s *Vectors) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM conversation_vectors`).Scan(&n)
	return n, err
}

// Nearest returns up to topK of the user's conversations whose similarity to
// query is strictly above minScore, best first. An empty userID searches all.
func (s *Vectors) Nearest(userID string, query []float32, topK int, minScore float32) ([]Match, error) {
	queryNorm := norm(query)
	if queryNorm == 0 || topK <= 0 {
		return nil, nil
	}

	q := `SELECT conversation_id, embedding FROM conversation_vectors`
	var args []any
	if userID != "" {
		q += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &matchHeap{}
	var buf []float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for conversation %d: %w", id, err)
		}

		score := cosine(query, buf, queryNorm)
		if score <= minScore {
			continue
		}
		if h.Len() < topK {
			heap.Push(h, Match{ConversationID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = Match{ConversationID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	out := make([]Match, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Match)
	}
	return out, nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto decodes little-endian bytes into buf, growing it when needed.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine returns dot(a,b) / (aNorm * |b|). Vectors of different length score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// matchHeap is a min-heap of Match ordered by Score.
type matchHeap []Match

func (h matchHeap) Len() int           { return len(h) }
func (h matchHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h matchHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *matchHeap) Push(x any)        { *h = append(*h, x.(Match)) }
func (h *matchHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
