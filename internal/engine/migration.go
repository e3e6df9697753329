package engine

import (
	"fmt"

	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// Migrate copies every batch, record and relationship from src into dst,
// keeping ids and record order. Batches go first so record references
// resolve.
func Migrate(src, dst RecordStore) error {
	batches := src.Batches()
	// Batches() lists newest first; restore oldest first.
	for i, j := 0, len(batches)-1; i < j; i, j = i+1, j-1 {
		batches[i], batches[j] = batches[j], batches[i]
	}
	ds := &Dataset{
		Batches:       batches,
		Records:       src.Records(),
		Relationships: src.Relationships(),
	}
	if err := dst.Restore(ds); err != nil {
		return fmt.Errorf("failed to restore into destination: %w", err)
	}
	return nil
}

// Seed loads a dump file into dst. Batches referenced by records but absent
// from the dump are created from the records' batch names.
func Seed(dst RecordStore, path string) (int, error) {
	ds, err := ReadDataset(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read seed file: %w", err)
	}

	known := make(map[schema.ID]bool, len(ds.Batches))
	for _, b := range ds.Batches {
		known[canonical(b.ID)] = true
	}
	for _, r := range ds.Records {
		if r.Batch.IsZero() || known[canonical(r.Batch)] {
			continue
		}
		known[canonical(r.Batch)] = true
		name := r.BatchName
		if name == "" {
			name = "Batch " + r.Batch.String()
		}
		ds.Batches = append(ds.Batches, schema.Batch{ID: r.Batch, Name: name, CreatedAt: r.CreatedAt})
	}

	src := NewMemStore(ds, nil)
	if err := Migrate(src, dst); err != nil {
		return 0, err
	}
	return len(ds.Records), nil
}
