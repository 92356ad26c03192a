// Package store persists threads in a local SQLite database with debounced
// writes: mutations mark a thread dirty and a single timer batches them to
// disk, while turn boundaries force an immediate flush.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"relay/internal/thread"
)

// ThreadInfo is the index row for one stored thread.
type ThreadInfo struct {
	ID           string
	CreatedAt    time.Time
	ModifiedAt   time.Time
	MessageCount int
}

// Store owns the database plus the in-memory set of live threads it is
// responsible for writing.
type Store struct {
	db       *sql.DB
	debounce time.Duration

	mu        sync.Mutex
	live      map[string]*thread.Thread
	dirty     map[string]bool
	streaming map[string]bool
	timer     *time.Timer
	closed    bool
}

// Open opens (or creates) the database at path and migrates the schema.
// debounce is how long a dirty thread may sit in memory before the batched
// write fires.
func Open(path string, debounce time.Duration) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// between our own goroutines.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	s := &Store{
		db:        db,
		debounce:  debounce,
		live:      make(map[string]*thread.Thread),
		dirty:     make(map[string]bool),
		streaming: make(map[string]bool),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS threads (
			id            TEXT PRIMARY KEY,
			created_at    INTEGER NOT NULL,
			modified_at   INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			payload       BLOB    NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return s.migrateLegacy()
}

// migrateLegacy imports the old single-record format, where every thread
// lived inside one JSON blob in a "state" table. Each thread becomes its
// own row and the old table is dropped.
func (s *Store) migrateLegacy() error {
	var count int
	err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='state'`,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if count == 0 {
		return nil
	}

	var blob []byte
	err = s.db.QueryRow(`SELECT payload FROM state WHERE id = 1`).Scan(&blob)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read legacy state: %w", err)
	}
	if len(blob) > 0 {
		var legacy struct {
			Threads map[string]*thread.Thread `json:"threads"`
		}
		if err := json.Unmarshal(blob, &legacy); err != nil {
			return fmt.Errorf("parse legacy state: %w", err)
		}
		for _, t := range legacy.Threads {
			if err := s.writeThread(t); err != nil {
				return fmt.Errorf("migrate thread %s: %w", t.ID, err)
			}
		}
	}

	if _, err := s.db.Exec(`DROP TABLE state`); err != nil {
		return fmt.Errorf("drop legacy table: %w", err)
	}
	return nil
}

// Register makes the store responsible for persisting t. Registration does
// not write; the first MarkDirty or FlushNow does.
func (s *Store) Register(t *thread.Thread) {
	s.mu.Lock()
	s.live[t.ID] = t
	s.mu.Unlock()
}

// MarkDirty schedules a debounced write of the thread.
func (s *Store) MarkDirty(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.dirty[threadID] = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushDirty)
	}
}

// SetStreaming marks a thread as mid-stream. Debounced flushes skip
// streaming threads; the write happens when the turn ends.
func (s *Store) SetStreaming(threadID string, streaming bool) {
	s.mu.Lock()
	s.streaming[threadID] = streaming
	retry := !streaming && s.dirty[threadID] && s.timer == nil && !s.closed
	if retry {
		s.timer = time.AfterFunc(s.debounce, s.flushDirty)
	}
	s.mu.Unlock()
}

// FlushNow writes one thread immediately, streaming or not. Used at turn
// boundaries where durability matters more than write batching.
func (s *Store) FlushNow(threadID string) error {
	s.mu.Lock()
	t := s.live[threadID]
	delete(s.dirty, threadID)
	s.mu.Unlock()
	if t == nil {
		return fmt.Errorf("thread %s is not registered", threadID)
	}
	return s.writeThread(t)
}

// flushDirty is the debounce timer body: write every dirty thread that is
// not currently streaming.
func (s *Store) flushDirty() {
	s.mu.Lock()
	s.timer = nil
	var pending []*thread.Thread
	for id := range s.dirty {
		if s.streaming[id] {
			continue
		}
		if t := s.live[id]; t != nil {
			pending = append(pending, t)
			delete(s.dirty, id)
		}
	}
	s.mu.Unlock()

	for _, t := range pending {
		// Best effort here; the turn-end FlushNow reports errors to the
		// caller.
		s.writeThread(t)
	}
}

func (s *Store) writeThread(t *thread.Thread) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", t.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO threads (id, created_at, modified_at, message_count, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			modified_at   = excluded.modified_at,
			message_count = excluded.message_count,
			payload       = excluded.payload`,
		t.ID, t.CreatedAt.UnixMilli(), t.ModifiedAt.UnixMilli(), len(t.Messages), payload)
	if err != nil {
		return fmt.Errorf("write thread %s: %w", t.ID, err)
	}
	return nil
}

// Load reads one thread by ID.
func (s *Store) Load(threadID string) (*thread.Thread, error) {
	var payload []byte
	err := s.db.QueryRow(`SELECT payload FROM threads WHERE id = ?`, threadID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	if err != nil {
		return nil, fmt.Errorf("read thread %s: %w", threadID, err)
	}
	var t thread.Thread
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("parse thread %s: %w", threadID, err)
	}
	if t.UserTouchedFiles == nil {
		t.UserTouchedFiles = make(map[string]bool)
	}
	return &t, nil
}

// List returns index rows for all stored threads, newest first.
func (s *Store) List() ([]ThreadInfo, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, modified_at, message_count
		FROM threads ORDER BY modified_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	var infos []ThreadInfo
	for rows.Next() {
		var info ThreadInfo
		var created, modified int64
		if err := rows.Scan(&info.ID, &created, &modified, &info.MessageCount); err != nil {
			return nil, fmt.Errorf("scan thread row: %w", err)
		}
		info.CreatedAt = time.UnixMilli(created)
		info.ModifiedAt = time.UnixMilli(modified)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Delete removes a thread from the database and drops it from the live set.
func (s *Store) Delete(threadID string) error {
	s.mu.Lock()
	delete(s.live, threadID)
	delete(s.dirty, threadID)
	delete(s.streaming, threadID)
	s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// Close flushes everything still dirty and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	var pending []*thread.Thread
	for id := range s.dirty {
		if t := s.live[id]; t != nil {
			pending = append(pending, t)
		}
	}
	s.dirty = make(map[string]bool)
	s.mu.Unlock()

	var firstErr error
	for _, t := range pending {
		if err := s.writeThread(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
