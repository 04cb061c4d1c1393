package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tollboothapp/tollbooth/pkg/domain"
)

// SQLiteStore persists artifacts and selection cursors in a SQLite database.
// It is suitable for single-instance deployments where serve_from_store
// determinism across process restarts matters; the memory stores reset
// cursors to zero on restart instead.
type SQLiteStore struct {
	db *sql.DB
	// SQLite supports a single writer; the mutex serialises the cursor
	// read-modify-write so two concurrent flows matching the same rule
	// advance the cursor exactly twice.
	cursorMu sync.Mutex
}

// NewSQLiteStore opens (or creates) the database at the given path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		key      TEXT PRIMARY KEY,
		artifact TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cursors (
		rule_id   TEXT NOT NULL,
		direction TEXT NOT NULL,
		position  INTEGER NOT NULL,
		PRIMARY KEY (rule_id, direction)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Get retrieves an artifact by exact key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (*domain.StoredArtifact, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT artifact FROM artifacts WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %q: %w", key, err)
	}

	var artifact domain.StoredArtifact
	if err := json.Unmarshal([]byte(raw), &artifact); err != nil {
		return nil, fmt.Errorf("failed to decode artifact %q: %w", key, err)
	}
	return &artifact, nil
}

// Put saves an artifact under the given key, overwriting any existing entry.
func (s *SQLiteStore) Put(ctx context.Context, key string, artifact *domain.StoredArtifact) error {
	if key == "" {
		return fmt.Errorf("artifact key must not be empty")
	}

	raw, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %q: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (key, artifact) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET artifact = excluded.artifact`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("failed to save artifact %q: %w", key, err)
	}
	return nil
}

// Delete removes an artifact. Deleting an absent key is a no-op.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete artifact %q: %w", key, err)
	}
	return nil
}

// Keys returns all artifact keys in sorted order.
func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM artifacts ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// AdvanceRoundRobin returns the position to serve and wraps the cursor.
func (s *SQLiteStore) AdvanceRoundRobin(ruleID string, direction domain.Direction, n int) int {
	if n <= 0 {
		return 0
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	pos := clampCursor(s.loadCursor(ruleID, direction), n)
	s.saveCursor(ruleID, direction, (pos+1)%n)
	return pos
}

// AdvanceSequential returns the position to serve and clamps the cursor.
func (s *SQLiteStore) AdvanceSequential(ruleID string, direction domain.Direction, n int) int {
	if n <= 0 {
		return 0
	}
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	pos := clampCursor(s.loadCursor(ruleID, direction), n)
	next := pos + 1
	if next >= n {
		next = n - 1
	}
	s.saveCursor(ruleID, direction, next)
	return pos
}

// Reset clears the cursor for a rule.
func (s *SQLiteStore) Reset(ruleID string, direction domain.Direction) {
	s.cursorMu.Lock()
	defer s.cursorMu.Unlock()

	_, _ = s.db.Exec(`DELETE FROM cursors WHERE rule_id = ? AND direction = ?`, ruleID, string(direction))
}

func (s *SQLiteStore) loadCursor(ruleID string, direction domain.Direction) int {
	var pos int
	err := s.db.QueryRow(
		`SELECT position FROM cursors WHERE rule_id = ? AND direction = ?`,
		ruleID, string(direction)).Scan(&pos)
	if err != nil {
		return 0
	}
	return pos
}

func (s *SQLiteStore) saveCursor(ruleID string, direction domain.Direction, pos int) {
	_, _ = s.db.Exec(
		`INSERT INTO cursors (rule_id, direction, position) VALUES (?, ?, ?)
		 ON CONFLICT(rule_id, direction) DO UPDATE SET position = excluded.position`,
		ruleID, string(direction), pos)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
