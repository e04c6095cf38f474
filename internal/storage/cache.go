package storage

import (
	"database/sql"
	"time"
)

// --- Expiring cache ---

// CacheSet stores value under key until ttl elapses.
func (s *Store) CacheSet(key string, value []byte, ttl time.Duration) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, formatTime(time.Now().Add(ttl)),
	)
	return err
}

// CacheGet returns ErrNotFound for missing and expired keys alike.
func (s *Store) CacheGet(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, formatTime(time.Now())).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return value, err
}

// CacheDelete removes key and reports whether a live entry was removed.
func (s *Store) CacheDelete(key string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ? AND expires_at > ?`, key, formatTime(time.Now()))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PurgeExpiredCache removes expired entries and returns how many were dropped.
func (s *Store) PurgeExpiredCache() (int64, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
