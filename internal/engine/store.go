// Package engine is the backend's record store: an ordered in-memory
// collection of records, batches and relationships with background
// persistence to disk.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/celerix-dev/celerix-records/pkg/schema"
)

var (
	// ErrRecordNotFound is returned when a requested record does not exist.
	ErrRecordNotFound = errors.New("record not found")
	// ErrBatchNotFound is returned when a requested batch does not exist.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrRelationshipNotFound is returned when a requested relationship does not exist.
	ErrRelationshipNotFound = errors.New("relationship not found")
)

// ValidationError carries field-level messages, keyed by JSON field name.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(e.Fields[name], " ")))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RecordStore is the contract the HTTP API is written against.
type RecordStore interface {
	// Records returns every record in insertion order.
	Records() []schema.Record
	// Record returns one record.
	Record(id schema.ID) (schema.Record, error)
	// CreateRecord validates r, assigns an id and appends it.
	CreateRecord(r schema.Record) (schema.Record, error)
	// UpdateRecord validates r and replaces the record with the same id.
	UpdateRecord(r schema.Record) (schema.Record, error)

	// Batches returns every batch, newest first.
	Batches() []schema.Batch
	// CreateBatch adds a batch.
	CreateBatch(name string) (schema.Batch, error)

	// Relationships returns every relationship in insertion order.
	Relationships() []schema.Relationship
	// AddRelationship links two existing records.
	AddRelationship(rel schema.Relationship) (schema.Relationship, error)
	// RemoveRelationship deletes a relationship.
	RemoveRelationship(id schema.ID) error

	// Stats computes the dashboard counters.
	Stats() schema.Stats

	// Restore inserts or replaces entries verbatim, keeping their ids.
	// It is used to seed and migrate stores and skips validation.
	Restore(ds *Dataset) error
}

// Dataset is the full persisted state of a store.
type Dataset struct {
	Version       uint64                `json:"version"`
	Batches       []schema.Batch        `json:"batches"`
	Records       []schema.Record       `json:"records"`
	Relationships []schema.Relationship `json:"relationships"`
}
