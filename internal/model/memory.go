// Package model defines the core memory data types.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleManual    Role = "manual"
)

// ValidRoles are the allowed record roles.
var ValidRoles = map[Role]bool{
	RoleUser:      true,
	RoleAssistant: true,
	RoleManual:    true,
}

// Metadata travels with every record submitted to the memory service.
type Metadata struct {
	Role           Role   `json:"role"`
	Source         string `json:"source"`
	Timestamp      int64  `json:"timestamp"`
	ChunkIndex     int    `json:"chunk_index,omitempty"`
	ChunkTotal     int    `json:"chunk_total,omitempty"`
	OriginalLength int    `json:"original_length,omitempty"`
}

// MemoryRecord is a single unit of content submitted for durable remote storage.
type MemoryRecord struct {
	Content  string   `json:"content"`
	OwnerID  string   `json:"owner_id"`
	Metadata Metadata `json:"metadata"`
}

var ErrEmptyContent = errors.New("record content is empty")

// Validate checks the record invariants enforced before a record may be queued.
func (r MemoryRecord) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if !ValidRoles[r.Metadata.Role] {
		return fmt.Errorf("invalid role %q", r.Metadata.Role)
	}
	m := r.Metadata
	switch {
	case m.ChunkTotal > 1:
		if m.ChunkIndex < 1 || m.ChunkIndex > m.ChunkTotal {
			return fmt.Errorf("chunk index %d out of range [1, %d]", m.ChunkIndex, m.ChunkTotal)
		}
	case m.ChunkIndex != 0:
		return fmt.Errorf("chunk index %d set without chunk total", m.ChunkIndex)
	}
	return nil
}

// Chunked reports whether the record is one part of a segmented turn.
func (r MemoryRecord) Chunked() bool {
	return r.Metadata.ChunkTotal > 1
}

// Result is the outcome of an enqueued record.
//
// Success with an ID means the record is durable remotely. Success=false with
// Queued=true means it is only durable in the local fallback store. Any other
// Success=false outcome is a business rejection such as a duplicate.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Queued  bool   `json:"queued,omitempty"`
}

// PendingEntry is a record parked in the local fallback store. It is
// serialized as one flat object: the record fields plus id and saved_at.
type PendingEntry struct {
	ID      string
	Record  MemoryRecord
	SavedAt time.Time
}

type flatEntry struct {
	ID             string    `json:"id"`
	Content        string    `json:"content"`
	OwnerID        string    `json:"owner_id"`
	Role           Role      `json:"role"`
	Source         string    `json:"source"`
	Timestamp      int64     `json:"timestamp"`
	ChunkIndex     int       `json:"chunk_index,omitempty"`
	ChunkTotal     int       `json:"chunk_total,omitempty"`
	OriginalLength int       `json:"original_length,omitempty"`
	SavedAt        time.Time `json:"saved_at"`
}

func (e PendingEntry) MarshalJSON() ([]byte, error) {
	m := e.Record.Metadata
	return json.Marshal(flatEntry{
		ID:             e.ID,
		Content:        e.Record.Content,
		OwnerID:        e.Record.OwnerID,
		Role:           m.Role,
		Source:         m.Source,
		Timestamp:      m.Timestamp,
		ChunkIndex:     m.ChunkIndex,
		ChunkTotal:     m.ChunkTotal,
		OriginalLength: m.OriginalLength,
		SavedAt:        e.SavedAt,
	})
}

func (e *PendingEntry) UnmarshalJSON(b []byte) error {
	var f flatEntry
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*e = PendingEntry{
		ID: f.ID,
		Record: MemoryRecord{
			Content: f.Content,
			OwnerID: f.OwnerID,
			Metadata: Metadata{
				Role:           f.Role,
				Source:         f.Source,
				Timestamp:      f.Timestamp,
				ChunkIndex:     f.ChunkIndex,
				ChunkTotal:     f.ChunkTotal,
				OriginalLength: f.OriginalLength,
			},
		},
		SavedAt: f.SavedAt,
	}
	return nil
}

// ConnectivityState is the last known reachability of the memory service.
type ConnectivityState string

const (
	StateUnknown      ConnectivityState = "unknown"
	StateConnected    ConnectivityState = "connected"
	StateDisconnected ConnectivityState = "disconnected"
)

// Position is where injected context is placed in the host prompt.
type Position string

const (
	PositionInChat       Position = "in_chat"
	PositionBeforeSystem Position = "before_system"
)

// InjectionConfig controls placement of injected context.
type InjectionConfig struct {
	Position Position `json:"position" yaml:"position"`
	Depth    int      `json:"depth" yaml:"depth"`
}

// Validate checks the injection placement.
func (c InjectionConfig) Validate() error {
	if c.Position != PositionInChat && c.Position != PositionBeforeSystem {
		return fmt.Errorf("invalid injection position %q", c.Position)
	}
	if c.Depth < 0 {
		return fmt.Errorf("injection depth must be >= 0, got %d", c.Depth)
	}
	return nil
}

// NowMillis returns the current time as unix milliseconds, the timestamp unit
// used in record metadata.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
