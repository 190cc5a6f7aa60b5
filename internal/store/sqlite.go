// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists actor state blobs and the invocation log with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. A nil logger uses slog.Default.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS actor_state (
			actor_key TEXT PRIMARY KEY,
			state BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS invocations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			actor_key TEXT NOT NULL,
			tool TEXT NOT NULL,
			outcome TEXT NOT NULL,
			created_at TEXT NOT NULL,

			CHECK (outcome IN ('ok', 'invalid', 'error'))
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_actor
			ON invocations(actor_key, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetActorState retrieves actor state.
// Returns ErrNotFound if the actor has no saved state.
func (s *SQLiteStore) GetActorState(ctx context.Context, actorKey string) ([]byte, error) {
	query := `SELECT state FROM actor_state WHERE actor_key = ?`

	var state []byte
	err := s.db.QueryRowContext(ctx, query, actorKey).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying actor state: %w", err)
	}

	return state, nil
}

// SaveActorState stores actor state, replacing any previous value.
func (s *SQLiteStore) SaveActorState(ctx context.Context, actorKey string, state []byte) error {
	if err := upsertState(ctx, s.db, actorKey, state); err != nil {
		return err
	}
	s.logger.Debug("saved actor state", "actor_key", actorKey, "size", len(state))
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertState(ctx context.Context, e execer, actorKey string, state []byte) error {
	query := `
		INSERT INTO actor_state (actor_key, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(actor_key) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`
	_, err := e.ExecContext(ctx, query, actorKey, state, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving actor state: %w", err)
	}
	return nil
}

// UpdateActorState loads the current state, applies fn and writes the result
// in one transaction. If fn fails nothing is written.
func (s *SQLiteStore) UpdateActorState(ctx context.Context, actorKey string, fn UpdateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current []byte
	err = tx.QueryRowContext(ctx, `SELECT state FROM actor_state WHERE actor_key = ?`, actorKey).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("querying actor state: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return err
	}

	if err := upsertState(ctx, tx, actorKey, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing actor state: %w", err)
	}

	s.logger.Debug("updated actor state", "actor_key", actorKey, "size", len(next))
	return nil
}

// RecordInvocation appends an entry to the invocation log.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO invocations (actor_key, tool, outcome, created_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		inv.ActorKey,
		inv.Tool,
		inv.Outcome,
		inv.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording invocation: %w", err)
	}

	id, err := res.LastInsertId()
	if err == nil {
		inv.ID = id
	}
	return nil
}

// ListInvocations returns up to limit invocations for an actor, newest first.
func (s *SQLiteStore) ListInvocations(ctx context.Context, actorKey string, limit int) ([]*Invocation, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, actor_key, tool, outcome, created_at
		FROM invocations
		WHERE actor_key = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, actorKey, limit)
	if err != nil {
		return nil, fmt.Errorf("querying invocations: %w", err)
	}
	defer rows.Close()

	var out []*Invocation
	for rows.Next() {
		var inv Invocation
		var createdAt string
		if err := rows.Scan(&inv.ID, &inv.ActorKey, &inv.Tool, &inv.Outcome, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning invocation: %w", err)
		}
		inv.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing invocation time: %w", err)
		}
		out = append(out, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invocations: %w", err)
	}

	return out, nil
}
