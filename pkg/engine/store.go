// Package engine is the local query engine: it filters and paginates an
// in-memory snapshot with the same semantics as the backend's list endpoint.
package engine

import (
	"errors"
	"time"

	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// PageSize is the fixed page size shared with the backend.
const PageSize = 50

var (
	// ErrPageOutOfRange is returned for a page number outside [1, last page].
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrNilSnapshot is returned when no snapshot is available.
	ErrNilSnapshot = errors.New("no snapshot loaded")
)

// Snapshot is an immutable, ordered copy of the whole record collection.
type Snapshot struct {
	records  []schema.Record
	loadedAt time.Time
}

// NewSnapshot takes ownership of records; callers must not modify the slice afterwards.
func NewSnapshot(records []schema.Record, loadedAt time.Time) *Snapshot {
	return &Snapshot{records: records, loadedAt: loadedAt}
}

// Len returns the number of records.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// LoadedAt returns when the snapshot was captured.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Records returns a copy of the snapshot's records in insertion order.
func (s *Snapshot) Records() []schema.Record {
	if s == nil {
		return nil
	}
	out := make([]schema.Record, len(s.records))
	copy(out, s.records)
	return out
}
