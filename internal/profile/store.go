// Package profile persists conversation settings and the long-lived
// learner profile digest as key-value rows in the shared database.
package profile

import (
	"database/sql"
	"fmt"
	"sync"
)

// DigestMaxChars caps the profile digest so merge calls stay bounded.
const DigestMaxChars = 2000

const digestKey = "profile_digest"

// Store is a small key-value settings store.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore prepares the settings table on an already-open database.
func NewStore(db *sql.DB) (*Store, error) {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create settings table: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the value for key, or "" when unset.
func (s *Store) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set upserts a value.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Digest returns the long-lived learner profile digest.
func (s *Store) Digest() (string, error) {
	return s.Get(digestKey)
}

// SetDigest stores the profile digest, truncated to DigestMaxChars.
func (s *Store) SetDigest(text string) error {
	runes := []rune(text)
	if len(runes) > DigestMaxChars {
		text = string(runes[:DigestMaxChars])
	}
	return s.Set(digestKey, text)
}
