package store

import (
	"context"
	"fmt"
	"os"
	"time"
)

// Stats holds fallback store statistics.
type Stats struct {
	DBPath      string      `json:"db_path"`
	DBSizeBytes int64       `json:"db_size_bytes"`
	Pending     int         `json:"pending"`
	Capacity    int         `json:"capacity"`
	Oldest      *time.Time  `json:"oldest,omitempty"`
	Newest      *time.Time  `json:"newest,omitempty"`
	Roles       []RoleStats `json:"roles"`
}

// RoleStats holds per-role counts.
type RoleStats struct {
	Role  string `json:"role"`
	Count int    `json:"count"`
}

// Stats returns fallback store statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath, Capacity: s.capacity}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending`).Scan(&st.Pending); err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}

	var oldest, newest *string
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(saved_at), MAX(saved_at) FROM pending`).Scan(&oldest, &newest); err != nil {
		return nil, fmt.Errorf("pending age range: %w", err)
	}
	st.Oldest = parseTimePtr(oldest)
	st.Newest = parseTimePtr(newest)

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, COUNT(*) as cnt
		FROM pending
		GROUP BY role ORDER BY cnt DESC`)
	if err != nil {
		return nil, fmt.Errorf("role counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r RoleStats
		if err := rows.Scan(&r.Role, &r.Count); err != nil {
			return nil, fmt.Errorf("scan role count: %w", err)
		}
		st.Roles = append(st.Roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("role counts: %w", err)
	}

	return st, nil
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
