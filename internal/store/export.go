package store

import (
	"context"

	"github.com/rcliao/memory-relay/internal/model"
)

// Import appends exported entries to s in their listed order. Entries get
// new IDs and save times; capacity eviction still applies.
func Import(ctx context.Context, s PendingStore, entries []model.PendingEntry) (int, error) {
	imported := 0
	for _, e := range entries {
		if err := e.Record.Validate(); err != nil {
			continue
		}
		if _, err := s.Add(ctx, e.Record); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
