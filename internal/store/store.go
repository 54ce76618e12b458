// Package store provides the durable fallback store for records that could
// not be delivered to the memory service, with SQLite and Redis backends.
package store

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/memory-relay/internal/model"
)

// DefaultCapacity is the number of pending entries kept before the oldest
// is evicted.
const DefaultCapacity = 100

// PendingStore is a bounded FIFO of undelivered records. All listings are
// oldest first.
type PendingStore interface {
	// Add appends a record, evicting the oldest entries beyond capacity.
	Add(ctx context.Context, rec model.MemoryRecord) (*model.PendingEntry, error)

	// List returns every entry without removing it.
	List(ctx context.Context) ([]model.PendingEntry, error)

	// Drain removes and returns every entry in one step.
	Drain(ctx context.Context) ([]model.PendingEntry, error)

	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newID returns a ULID, so IDs sort in insertion order.
func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
