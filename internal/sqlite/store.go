// Package sqlite persists the mirrored app URL of every session so a session can be
// restored after a restart, and keeps a log of issued searches.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

const (
	memoryPath    = ":memory:"
	schemaVersion = 1
)

// Store is a SQLite-backed URL mirror
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
	logger *zap.Logger
	now    func() time.Time
}

// SearchLogEntry is one mirrored URL in the order it was issued
type SearchLogEntry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// New opens or creates a store at dbPath. ":memory:" gives a private in-memory database.
func New(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sqlite")

	if dbPath != memoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	logger.Info("opening database", zap.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == memoryPath {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
		logger: logger,
		now:    time.Now,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if err != nil {
		return s.createSchema()
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);
	INSERT INTO schema_version (version) VALUES (1);

	-- One row per session: the URL currently shown
	CREATE TABLE IF NOT EXISTS last_state (
		session_id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Every mirrored URL, oldest first
	CREATE TABLE IF NOT EXISTS search_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_search_log_session ON search_log(session_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Info("schema initialized", zap.Int("version", schemaVersion))
	return nil
}

// Replace records url as the current URL of the session, overwriting the previous one,
// and appends it to the search log.
func (s *Store) Replace(ctx context.Context, sessionID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert := `INSERT INTO last_state (session_id, url, updated_at) VALUES (?, ?, ?)
	           ON CONFLICT(session_id) DO UPDATE SET url = excluded.url, updated_at = excluded.updated_at`
	if _, err := tx.ExecContext(ctx, upsert, sessionID, url, now); err != nil {
		return fmt.Errorf("failed to store last state: %w", err)
	}

	insert := `INSERT INTO search_log (session_id, url, created_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert, sessionID, url, now); err != nil {
		return fmt.Errorf("failed to append search log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	s.logger.Debug("url mirrored", zap.String("session", sessionID), zap.String("url", url))
	return nil
}

// LastState returns the URL last mirrored for the session
func (s *Store) LastState(ctx context.Context, sessionID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var url string
	err := s.db.QueryRowContext(ctx, `SELECT url FROM last_state WHERE session_id = ?`, sessionID).Scan(&url)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get last state: %w", err)
	}
	return url, true, nil
}

// History returns up to limit log entries of the session, newest first
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]SearchLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, session_id, url, created_at
	          FROM search_log
	          WHERE session_id = ?
	          ORDER BY id DESC
	          LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query search log: %w", err)
	}
	defer rows.Close()

	entries := []SearchLogEntry{}
	for rows.Next() {
		var e SearchLogEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.URL, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search log: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search log: %w", err)
	}
	return entries, nil
}

// Prune removes last states not touched since before and their log entries
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM search_log WHERE session_id IN (SELECT session_id FROM last_state WHERE updated_at < ?)`,
		cutoff); err != nil {
		return 0, fmt.Errorf("failed to prune search log: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM last_state WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune last state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned idle sessions", zap.Int64("sessions", n))
	}
	return n, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}

// HealthCheck verifies the database connection
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
