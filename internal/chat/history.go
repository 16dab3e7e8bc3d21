package chat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"lingua/internal/gemini"
	"lingua/internal/logging"
)

// Store persists conversation history in SQLite, keyed by
// conversation-pair identifier. It preserves insertion order and
// message identity across save/load, and its load path reconciles
// messages left mid-generation by a crash or reload.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// NewStore opens (or creates) the database at path. ":memory:" is
// accepted for tests.
func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.L(logging.CategoryHistory).Debug("set busy_timeout failed", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.L(logging.CategoryHistory).Debug("set journal_mode failed", zap.Error(err))
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		pair_id               TEXT NOT NULL,
		id                    TEXT NOT NULL,
		pos                   INTEGER NOT NULL,
		ts                    INTEGER NOT NULL,
		role                  TEXT NOT NULL,
		text                  TEXT NOT NULL DEFAULT '',
		raw_response          TEXT NOT NULL DEFAULT '',
		translations          TEXT NOT NULL DEFAULT '[]',
		reply_suggestions     TEXT NOT NULL DEFAULT '[]',
		chat_summary          TEXT NOT NULL DEFAULT '',
		thinking              INTEGER NOT NULL DEFAULT 0,
		is_generating_image   INTEGER NOT NULL DEFAULT 0,
		image_gen_error       TEXT NOT NULL DEFAULT '',
		generation_started_at INTEGER NOT NULL DEFAULT 0,
		display_media         BLOB,
		display_mime          TEXT NOT NULL DEFAULT '',
		transport_media       BLOB,
		transport_mime        TEXT NOT NULL DEFAULT '',
		remote_uri            TEXT NOT NULL DEFAULT '',
		remote_name           TEXT NOT NULL DEFAULT '',
		remote_mime           TEXT NOT NULL DEFAULT '',
		speech_cache          TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (pair_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(pair_id, pos);
	CREATE TABLE IF NOT EXISTS bookmarks (
		pair_id    TEXT PRIMARY KEY,
		message_id TEXT NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so sidecar stores (settings,
// profile) can share the same database file.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the ordered messages for a pair. Messages left with
// thinking or image-generation markers by a crash are reconciled here,
// before any orchestrator runs: thinking placeholders become error
// messages, interrupted image generations record an error.
func (s *Store) Load(pairID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, ts, role, text, raw_response, translations,
		reply_suggestions, chat_summary, thinking, is_generating_image,
		image_gen_error, generation_started_at, display_media, display_mime,
		transport_media, transport_mime, remote_uri, remote_name, remote_mime,
		speech_cache
		FROM messages WHERE pair_id = ? ORDER BY pos`, pairID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	var reconcile []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		changed := false
		if m.Thinking {
			// Error messages carry no media.
			m.Role = RoleError
			m.Text = "The reply was interrupted."
			m.Thinking = false
			m.Translations = nil
			m.RawResponse = ""
			m.DisplayMedia = nil
			m.TransportMedia = nil
			m.RemoteRef = nil
			changed = true
		}
		if m.IsGeneratingImage {
			m.IsGeneratingImage = false
			m.ImageGenError = "Image generation was interrupted."
			changed = true
		}
		if changed {
			reconcile = append(reconcile, m)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range reconcile {
		if err := s.updateLocked(pairID, m); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", m.ID, err)
		}
		logging.L(logging.CategoryHistory).Info("reconciled interrupted message",
			zap.String("id", m.ID))
	}
	return msgs, nil
}

// Append adds a message at the end of the pair's history.
func (s *Store) Append(pairID string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(pos) FROM messages WHERE pair_id = ?`, pairID).Scan(&next); err != nil {
		return fmt.Errorf("next position: %w", err)
	}
	pos := int64(0)
	if next.Valid {
		pos = next.Int64 + 1
	}
	return s.insertLocked(pairID, m, pos)
}

// AppendOrReplace replaces the pair's entire history with msgs,
// preserving their order.
func (s *Store) AppendOrReplace(pairID string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE pair_id = ?`, pairID); err != nil {
		return fmt.Errorf("clear pair: %w", err)
	}
	for i, m := range msgs {
		if err := insertMessage(tx, pairID, m, int64(i)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateMessage applies fn to the stored message and persists the
// result. This is the only mutation path shared by concurrent
// enrichment writers, so unrelated fields on the same message are never
// clobbered.
func (s *Store) UpdateMessage(pairID, id string, fn func(*Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, ts, role, text, raw_response, translations,
		reply_suggestions, chat_summary, thinking, is_generating_image,
		image_gen_error, generation_started_at, display_media, display_mime,
		transport_media, transport_mime, remote_uri, remote_name, remote_mime,
		speech_cache
		FROM messages WHERE pair_id = ? AND id = ?`, pairID, id)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("message %s not found", id)
	}
	if err != nil {
		return err
	}

	fn(&m)
	m.ID = id // identity is immutable
	return s.updateLocked(pairID, m)
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(pairID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM messages WHERE pair_id = ? AND id = ?`, pairID, id)
	return err
}

// Reset drops the pair's history and bookmark.
func (s *Store) Reset(pairID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM messages WHERE pair_id = ?`, pairID); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM bookmarks WHERE pair_id = ?`, pairID)
	return err
}

// GetBookmark returns the truncation boundary message id, or "".
func (s *Store) GetBookmark(pairID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id string
	err := s.db.QueryRow(`SELECT message_id FROM bookmarks WHERE pair_id = ?`, pairID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// SetBookmark records the truncation boundary. An empty id clears it.
func (s *Store) SetBookmark(pairID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if messageID == "" {
		_, err := s.db.Exec(`DELETE FROM bookmarks WHERE pair_id = ?`, pairID)
		return err
	}
	_, err := s.db.Exec(`INSERT INTO bookmarks (pair_id, message_id) VALUES (?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET message_id = excluded.message_id`, pairID, messageID)
	return err
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertLocked(pairID string, m Message, pos int64) error {
	return insertMessage(s.db, pairID, m, pos)
}

func insertMessage(db execer, pairID string, m Message, pos int64) error {
	cols, err := marshalColumns(m)
	if err != nil {
		return err
	}
	_, err = db.Exec(`INSERT INTO messages (pair_id, id, pos, ts, role, text,
		raw_response, translations, reply_suggestions, chat_summary, thinking,
		is_generating_image, image_gen_error, generation_started_at,
		display_media, display_mime, transport_media, transport_mime,
		remote_uri, remote_name, remote_mime, speech_cache)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pairID, m.ID, pos, m.Timestamp.UnixMilli(), string(m.Role), m.Text,
		m.RawResponse, cols.translations, cols.suggestions, m.ChatSummary,
		boolInt(m.Thinking), boolInt(m.IsGeneratingImage), m.ImageGenError,
		timeMilli(m.GenerationStartedAt), cols.displayData, cols.displayMIME,
		cols.transportData, cols.transportMIME, cols.remoteURI, cols.remoteName,
		cols.remoteMIME, cols.speechCache)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.ID, err)
	}
	return nil
}

func (s *Store) updateLocked(pairID string, m Message) error {
	cols, err := marshalColumns(m)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`UPDATE messages SET ts = ?, role = ?, text = ?,
		raw_response = ?, translations = ?, reply_suggestions = ?,
		chat_summary = ?, thinking = ?, is_generating_image = ?,
		image_gen_error = ?, generation_started_at = ?, display_media = ?,
		display_mime = ?, transport_media = ?, transport_mime = ?,
		remote_uri = ?, remote_name = ?, remote_mime = ?, speech_cache = ?
		WHERE pair_id = ? AND id = ?`,
		m.Timestamp.UnixMilli(), string(m.Role), m.Text, m.RawResponse,
		cols.translations, cols.suggestions, m.ChatSummary, boolInt(m.Thinking),
		boolInt(m.IsGeneratingImage), m.ImageGenError,
		timeMilli(m.GenerationStartedAt), cols.displayData, cols.displayMIME,
		cols.transportData, cols.transportMIME, cols.remoteURI, cols.remoteName,
		cols.remoteMIME, cols.speechCache, pairID, m.ID)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.ID, err)
	}
	return nil
}

type messageColumns struct {
	translations  string
	suggestions   string
	speechCache   string
	displayData   []byte
	displayMIME   string
	transportData []byte
	transportMIME string
	remoteURI     string
	remoteName    string
	remoteMIME    string
}

func marshalColumns(m Message) (messageColumns, error) {
	var cols messageColumns

	translations, err := json.Marshal(orEmptyTranslations(m.Translations))
	if err != nil {
		return cols, err
	}
	suggestions, err := json.Marshal(orEmptySuggestions(m.ReplySuggestions))
	if err != nil {
		return cols, err
	}
	cache := m.SpeechCache
	if cache == nil {
		cache = map[string][]byte{}
	}
	speechCache, err := json.Marshal(cache)
	if err != nil {
		return cols, err
	}

	cols.translations = string(translations)
	cols.suggestions = string(suggestions)
	cols.speechCache = string(speechCache)
	if m.DisplayMedia != nil {
		cols.displayData = m.DisplayMedia.Data
		cols.displayMIME = m.DisplayMedia.MIMEType
	}
	if m.TransportMedia != nil {
		cols.transportData = m.TransportMedia.Data
		cols.transportMIME = m.TransportMedia.MIMEType
	}
	if m.RemoteRef != nil {
		cols.remoteURI = m.RemoteRef.URI
		cols.remoteName = m.RemoteRef.Name
		cols.remoteMIME = m.RemoteRef.MIMEType
	}
	return cols, nil
}

func orEmptyTranslations(t []Translation) []Translation {
	if t == nil {
		return []Translation{}
	}
	return t
}

func orEmptySuggestions(s []ReplySuggestion) []ReplySuggestion {
	if s == nil {
		return []ReplySuggestion{}
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (Message, error) {
	var m Message
	var ts, genStarted int64
	var role, translations, suggestions, speechCache string
	var thinking, generating int
	var displayData, transportData []byte
	var displayMIME, transportMIME string
	var remoteURI, remoteName, remoteMIME string
	err := row.Scan(&m.ID, &ts, &role, &m.Text, &m.RawResponse, &translations,
		&suggestions, &m.ChatSummary, &thinking, &generating, &m.ImageGenError,
		&genStarted, &displayData, &displayMIME, &transportData, &transportMIME,
		&remoteURI, &remoteName, &remoteMIME, &speechCache)
	if err != nil {
		return m, err
	}

	m.Timestamp = time.UnixMilli(ts)
	m.Role = Role(role)
	m.Thinking = thinking != 0
	m.IsGeneratingImage = generating != 0
	if genStarted != 0 {
		m.GenerationStartedAt = time.UnixMilli(genStarted)
	}
	if err := json.Unmarshal([]byte(translations), &m.Translations); err != nil {
		return m, fmt.Errorf("decode translations for %s: %w", m.ID, err)
	}
	if len(m.Translations) == 0 {
		m.Translations = nil
	}
	if err := json.Unmarshal([]byte(suggestions), &m.ReplySuggestions); err != nil {
		return m, fmt.Errorf("decode suggestions for %s: %w", m.ID, err)
	}
	if len(m.ReplySuggestions) == 0 {
		m.ReplySuggestions = nil
	}
	if err := json.Unmarshal([]byte(speechCache), &m.SpeechCache); err != nil {
		return m, fmt.Errorf("decode speech cache for %s: %w", m.ID, err)
	}
	if len(m.SpeechCache) == 0 {
		m.SpeechCache = nil
	}
	if len(displayData) > 0 {
		m.DisplayMedia = &MediaBlob{Data: displayData, MIMEType: displayMIME}
	}
	if len(transportData) > 0 {
		m.TransportMedia = &MediaBlob{Data: transportData, MIMEType: transportMIME}
	}
	if remoteURI != "" {
		m.RemoteRef = &gemini.FileRef{URI: remoteURI, Name: remoteName, MIMEType: remoteMIME}
	}
	return m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
