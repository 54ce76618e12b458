package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/memory-relay/internal/model"
)

// SQLiteStore implements PendingStore using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	capacity int
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// capacity <= 0 means DefaultCapacity.
func NewSQLiteStore(dbPath string, capacity int) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer keeps the add-then-evict step atomic across goroutines.
	db.SetMaxOpenConns(1)

	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &SQLiteStore{db: db, capacity: capacity}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pending (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		content         TEXT NOT NULL,
		owner_id        TEXT NOT NULL,
		role            TEXT NOT NULL,
		source          TEXT NOT NULL DEFAULT '',
		timestamp       INTEGER NOT NULL DEFAULT 0,
		chunk_index     INTEGER NOT NULL DEFAULT 0,
		chunk_total     INTEGER NOT NULL DEFAULT 0,
		original_length INTEGER NOT NULL DEFAULT 0,
		saved_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pending_saved ON pending(saved_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Add(ctx context.Context, rec model.MemoryRecord) (*model.PendingEntry, error) {
	now := time.Now().UTC()
	entry := &model.PendingEntry{ID: newID(now), Record: rec, SavedAt: now}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m := rec.Metadata
	_, err = tx.ExecContext(ctx,
		`INSERT INTO pending (id, content, owner_id, role, source, timestamp, chunk_index, chunk_total, original_length, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, rec.Content, rec.OwnerID, string(m.Role), m.Source, m.Timestamp,
		m.ChunkIndex, m.ChunkTotal, m.OriginalLength, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("insert pending: %w", err)
	}

	// FIFO eviction: keep only the newest `capacity` rows.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM pending WHERE seq NOT IN (SELECT seq FROM pending ORDER BY seq DESC LIMIT ?)`,
		s.capacity)
	if err != nil {
		return nil, fmt.Errorf("evict pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]model.PendingEntry, error) {
	return s.list(ctx, s.db)
}

func (s *SQLiteStore) Drain(ctx context.Context) ([]model.PendingEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entries, err := s.list(ctx, tx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending`); err != nil {
		return nil, fmt.Errorf("clear pending: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending`)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteStore) list(ctx context.Context, q querier) ([]model.PendingEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, content, owner_id, role, source, timestamp, chunk_index, chunk_total, original_length, saved_at
		 FROM pending ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.PendingEntry
	for rows.Next() {
		e, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(row scanner) (model.PendingEntry, error) {
	var e model.PendingEntry
	var role, savedAt string
	m := &e.Record.Metadata

	err := row.Scan(
		&e.ID, &e.Record.Content, &e.Record.OwnerID, &role, &m.Source, &m.Timestamp,
		&m.ChunkIndex, &m.ChunkTotal, &m.OriginalLength, &savedAt,
	)
	if err != nil {
		return e, err
	}
	m.Role = model.Role(role)
	e.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	return e, nil
}
