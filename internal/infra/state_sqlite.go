package infra

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fpt/chatdesk/internal/repository"
)

const (
	stateKey         = "state"
	sqliteStateTable = `
CREATE TABLE IF NOT EXISTS chatdesk_kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`
)

// SQLiteStateRepository keeps the state as one row of a key/value table
type SQLiteStateRepository struct {
	mu     sync.Mutex
	path   string
	db     *sql.DB
	closed bool
}

var _ repository.StateRepository = (*SQLiteStateRepository)(nil)

// NewSQLiteStateRepository opens (and creates if needed) the database at path.
// ":memory:" is accepted for tests.
func NewSQLiteStateRepository(path string) (*SQLiteStateRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite state store: empty path")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive between calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteStateTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &SQLiteStateRepository{path: path, db: db}, nil
}

func (r *SQLiteStateRepository) Location() string { return r.path }

// Load implements repository.StateRepository
func (r *SQLiteStateRepository) Load(ctx context.Context) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return nil, err
	}

	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM chatdesk_kv WHERE key = ?`, stateKey).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, repository.ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return []byte(value), nil
}

// Save upserts the state row inside a transaction
func (r *SQLiteStateRepository) Save(ctx context.Context, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chatdesk_kv (key, value, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms`,
		stateKey,
		string(data),
		time.Now().UnixMilli(),
	)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("upsert state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// Clear implements repository.StateRepository
func (r *SQLiteStateRepository) Clear(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureOpen(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM chatdesk_kv WHERE key = ?`, stateKey)
	return err
}

func (r *SQLiteStateRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

func (r *SQLiteStateRepository) ensureOpen() error {
	if r.closed {
		return fmt.Errorf("sqlite state store closed")
	}
	return nil
}
