package engine

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/pkg/engine"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// MemStore is the thread-safe in-memory record store.
type MemStore struct {
	mu            sync.RWMutex
	records       []schema.Record
	index         map[schema.ID]int // canonical id -> position in records
	batches       []schema.Batch
	relationships []schema.Relationship
	nextID        int64
	version       uint64 // bumped per persisted change

	now       func() time.Time
	persister *Persistence
	wg        sync.WaitGroup
}

// NewMemStore initializes a store from existing data (from Load) and a
// persister. Both may be nil.
func NewMemStore(initial *Dataset, p *Persistence) *MemStore {
	m := &MemStore{
		index:     make(map[schema.ID]int),
		now:       time.Now,
		persister: p,
	}
	if initial != nil {
		m.restoreLocked(initial)
		m.version = initial.Version
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// canonical maps equivalent numeric forms onto one index key.
func canonical(id schema.ID) schema.ID {
	s := strings.TrimSpace(string(id))
	if n, ok := schema.ID(s).Int64(); ok && schema.NewID(n) == schema.ID(strings.TrimPrefix(s, "+")) {
		return schema.NewID(n)
	}
	return schema.ID(s)
}

func (m *MemStore) allocID() schema.ID {
	m.nextID++
	return schema.NewID(m.nextID)
}

// observeID keeps nextID ahead of restored numeric ids.
func (m *MemStore) observeID(id schema.ID) {
	if n, ok := id.Int64(); ok && n > m.nextID {
		m.nextID = n
	}
}

// --- Records ---

func (m *MemStore) Records() []schema.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]schema.Record, len(m.records))
	for i, r := range m.records {
		out[i] = engine.Clone(r)
	}
	return out
}

func (m *MemStore) Record(id schema.ID) (schema.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[canonical(id)]
	if !ok {
		return schema.Record{}, ErrRecordNotFound
	}
	return engine.Clone(m.records[i]), nil
}

func (m *MemStore) CreateRecord(r schema.Record) (schema.Record, error) {
	m.mu.Lock()
	if err := m.validateLocked(&r); err != nil {
		m.mu.Unlock()
		return schema.Record{}, err
	}
	r.ID = m.allocID()
	r.CreatedAt = m.now().UTC()
	if strings.TrimSpace(r.PhotoLink) == "" {
		r.PhotoLink = schema.DefaultPhotoLink
	}
	m.fillBatchNameLocked(&r)
	m.index[r.ID] = len(m.records)
	m.records = append(m.records, engine.Clone(r))
	m.mu.Unlock()

	m.persist()
	return r, nil
}

func (m *MemStore) UpdateRecord(r schema.Record) (schema.Record, error) {
	m.mu.Lock()
	i, ok := m.index[canonical(r.ID)]
	if !ok {
		m.mu.Unlock()
		return schema.Record{}, ErrRecordNotFound
	}
	if err := m.validateLocked(&r); err != nil {
		m.mu.Unlock()
		return schema.Record{}, err
	}
	r.ID = m.records[i].ID
	r.CreatedAt = m.records[i].CreatedAt
	m.fillBatchNameLocked(&r)
	m.records[i] = engine.Clone(r)
	m.mu.Unlock()

	m.persist()
	return r, nil
}

// validateLocked checks required fields, the batch reference and enum values.
// An empty relationship status defaults to Regular.
func (m *MemStore) validateLocked(r *schema.Record) error {
	verr := &ValidationError{}
	required := map[string]string{
		"naam":      r.Naam,
		"voter_no":  r.VoterNo,
		"kromik_no": r.KromikNo,
		"file_name": r.FileName,
	}
	for field, v := range required {
		if strings.TrimSpace(v) == "" {
			verr.add(field, "This field may not be blank.")
		}
	}

	if r.Batch.IsZero() {
		verr.add("batch", "This field is required.")
	} else if m.batchLocked(r.Batch) == nil {
		verr.add("batch", `Invalid pk "`+r.Batch.String()+`" - object does not exist.`)
	}

	if r.RelationshipStatus == "" {
		r.RelationshipStatus = schema.StatusRegular
	}
	for _, name := range []string{"relationship_status", "gender"} {
		f, _ := filter.Lookup(name)
		v := r.RelationshipStatus
		if name == "gender" {
			v = r.Gender
		}
		if v != "" && !f.Allows(v) {
			verr.add(name, `"`+v+`" is not a valid choice.`)
		}
	}
	return verr.orNil()
}

func (m *MemStore) fillBatchNameLocked(r *schema.Record) {
	if b := m.batchLocked(r.Batch); b != nil {
		r.BatchName = b.Name
	}
}

// --- Batches ---

func (m *MemStore) batchLocked(id schema.ID) *schema.Batch {
	key := canonical(id)
	for i := range m.batches {
		if canonical(m.batches[i].ID) == key {
			return &m.batches[i]
		}
	}
	return nil
}

func (m *MemStore) Batches() []schema.Batch {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Stored oldest first; listed newest first.
	out := make([]schema.Batch, 0, len(m.batches))
	for i := len(m.batches) - 1; i >= 0; i-- {
		out = append(out, m.batches[i])
	}
	return out
}

func (m *MemStore) CreateBatch(name string) (schema.Batch, error) {
	if strings.TrimSpace(name) == "" {
		verr := &ValidationError{}
		verr.add("name", "This field may not be blank.")
		return schema.Batch{}, verr
	}

	m.mu.Lock()
	for _, existing := range m.batches {
		if existing.Name == name {
			m.mu.Unlock()
			verr := &ValidationError{}
			verr.add("name", "batch with this name already exists.")
			return schema.Batch{}, verr
		}
	}
	b := schema.Batch{ID: m.allocID(), Name: name, CreatedAt: m.now().UTC()}
	m.batches = append(m.batches, b)
	m.mu.Unlock()

	m.persist()
	return b, nil
}

// --- Relationships ---

func (m *MemStore) Relationships() []schema.Relationship {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]schema.Relationship(nil), m.relationships...)
}

func (m *MemStore) AddRelationship(rel schema.Relationship) (schema.Relationship, error) {
	m.mu.Lock()
	verr := &ValidationError{}
	if _, ok := m.index[canonical(rel.Record)]; !ok {
		verr.add("record", "Record does not exist.")
	}
	if _, ok := m.index[canonical(rel.Related)]; !ok {
		verr.add("related", "Record does not exist.")
	}
	if canonical(rel.Record) == canonical(rel.Related) {
		verr.add("related", "A record cannot be related to itself.")
	}
	if err := verr.orNil(); err != nil {
		m.mu.Unlock()
		return schema.Relationship{}, err
	}
	rel.ID = m.allocID()
	m.relationships = append(m.relationships, rel)
	m.mu.Unlock()

	m.persist()
	return rel, nil
}

func (m *MemStore) RemoveRelationship(id schema.ID) error {
	m.mu.Lock()
	key := canonical(id)
	for i := range m.relationships {
		if canonical(m.relationships[i].ID) == key {
			m.relationships = append(m.relationships[:i], m.relationships[i+1:]...)
			m.mu.Unlock()
			m.persist()
			return nil
		}
	}
	m.mu.Unlock()
	return ErrRelationshipNotFound
}

// --- Stats ---

func (m *MemStore) Stats() schema.Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := schema.Stats{TotalRecords: len(m.records), TotalBatches: len(m.batches)}
	for _, r := range m.records {
		switch r.RelationshipStatus {
		case schema.StatusFriend:
			s.FriendCount++
		case schema.StatusEnemy:
			s.EnemyCount++
		}
	}
	return s
}

// --- Restore & persistence ---

func (m *MemStore) Restore(ds *Dataset) error {
	if ds == nil {
		return nil
	}
	m.mu.Lock()
	m.restoreLocked(ds)
	m.mu.Unlock()

	m.persist()
	return nil
}

func (m *MemStore) restoreLocked(ds *Dataset) {
	for _, b := range ds.Batches {
		if b.ID.IsZero() {
			b.ID = m.allocID()
		}
		m.observeID(b.ID)
		if existing := m.batchLocked(b.ID); existing != nil {
			*existing = b
		} else {
			m.batches = append(m.batches, b)
		}
	}
	for _, r := range ds.Records {
		if r.ID.IsZero() {
			r.ID = m.allocID()
		}
		m.observeID(r.ID)
		m.fillBatchNameLocked(&r)
		key := canonical(r.ID)
		if i, ok := m.index[key]; ok {
			m.records[i] = engine.Clone(r)
			continue
		}
		m.index[key] = len(m.records)
		m.records = append(m.records, engine.Clone(r))
	}
	for _, rel := range ds.Relationships {
		if rel.ID.IsZero() {
			rel.ID = m.allocID()
		}
		m.observeID(rel.ID)
		if existing := m.relationshipLocked(rel.ID); existing != nil {
			*existing = rel
		} else {
			m.relationships = append(m.relationships, rel)
		}
	}
}

func (m *MemStore) relationshipLocked(id schema.ID) *schema.Relationship {
	key := canonical(id)
	for i := range m.relationships {
		if canonical(m.relationships[i].ID) == key {
			return &m.relationships[i]
		}
	}
	return nil
}

// dumpLocked deep-copies the whole state for a background save.
// It MUST be called while holding m.mu.
func (m *MemStore) dumpLocked() *Dataset {
	ds := &Dataset{
		Batches:       append([]schema.Batch(nil), m.batches...),
		Records:       make([]schema.Record, len(m.records)),
		Relationships: append([]schema.Relationship(nil), m.relationships...),
	}
	for i, r := range m.records {
		ds.Records[i] = engine.Clone(r)
	}
	return ds
}

// persist saves the current state in the background.
func (m *MemStore) persist() {
	if m.persister == nil {
		return
	}
	m.mu.Lock()
	m.version++
	ds := m.dumpLocked()
	ds.Version = m.version
	m.mu.Unlock()

	m.wg.Add(1)
	go func(ds *Dataset) {
		defer m.wg.Done()
		if err := m.persister.Save(ds); err != nil {
			logging.Error("persist failed", zap.Error(err))
		}
	}(ds)
}
