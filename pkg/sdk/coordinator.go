package sdk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/internal/metrics"
	"github.com/celerix-dev/celerix-records/pkg/engine"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// Mode is the active data access mode.
type Mode int

const (
	// ModeNone means no session is active.
	ModeNone Mode = iota
	// ModeDirect sends every query to the backend.
	ModeDirect
	// ModeImport serves queries from the imported snapshot.
	ModeImport
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeDirect:
		return "direct"
	case ModeImport:
		return "import"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

type tokenSetter interface {
	SetToken(token string)
}

// Coordinator owns the session's data mode and routes queries to the
// remote executor or the local engine. It is safe for concurrent use and
// never holds its lock across network I/O.
type Coordinator struct {
	remote   RemoteStore
	importer *Importer
	now      func() time.Time

	mu           sync.Mutex
	mode         Mode
	epoch        uint64 // bumped on login and logout
	seq          uint64 // last dispatched direct query
	snap         *engine.Snapshot
	stale        bool
	staleSince   time.Time
	staleCause   string
	importing    bool
	importDirty  string // mutation seen while an import was in flight
	cancelImport context.CancelFunc

	// cbMu is held while a progress callback runs; Logout takes it so no
	// callback can start or still be running once Logout returns.
	cbMu sync.Mutex
}

// NewCoordinator creates a coordinator with no active session.
func NewCoordinator(remote RemoteStore, opts ...Option) *Coordinator {
	o := buildOptions(opts)
	return &Coordinator{
		remote:   remote,
		importer: &Importer{exporter: remote, opts: o},
		now:      o.now,
	}
}

// Login starts a direct-mode session. A non-empty token replaces the
// client's credential. Logging in again discards the previous session.
func (c *Coordinator) Login(token string) {
	if token != "" {
		if ts, ok := c.remote.(tokenSetter); ok {
			ts.SetToken(token)
		}
	}

	c.mu.Lock()
	prev := c.mode
	c.resetLocked()
	c.mode = ModeDirect
	c.mu.Unlock()

	logging.Info("session started", zap.Stringer("previous_mode", prev))
}

// Logout ends the session: an in-flight import is cancelled, the snapshot is
// discarded and the mode returns to ModeNone. No progress callback runs
// after Logout returns, so it must not be called from inside one.
func (c *Coordinator) Logout() {
	c.mu.Lock()
	prev := c.mode
	c.resetLocked()
	c.mode = ModeNone
	c.mu.Unlock()

	if ts, ok := c.remote.(tokenSetter); ok {
		ts.SetToken("")
	}

	// Wait out a callback that started before the epoch moved.
	c.cbMu.Lock()
	metrics.SetSnapshotRecords(0)
	c.cbMu.Unlock()

	logging.Info("session ended", zap.Stringer("previous_mode", prev))
}

func (c *Coordinator) resetLocked() {
	c.epoch++
	if c.cancelImport != nil {
		c.cancelImport()
		c.cancelImport = nil
	}
	c.importing = false
	c.importDirty = ""
	c.snap = nil
	c.stale = false
	c.staleSince = time.Time{}
	c.staleCause = ""
}

// Mode returns the active mode.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Snapshot returns the installed snapshot, or nil.
func (c *Coordinator) Snapshot() *engine.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Stale reports whether the installed snapshot has been invalidated.
func (c *Coordinator) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// Importing reports whether an import is in flight.
func (c *Coordinator) Importing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.importing
}

// Query returns one page of records matching params from the active engine.
// In ModeDirect token is a server cursor; in ModeImport it is a page number.
func (c *Coordinator) Query(ctx context.Context, params filter.Params, token schema.Token) (schema.Page, error) {
	start := c.now()

	c.mu.Lock()
	switch c.mode {
	case ModeNone:
		c.mu.Unlock()
		return schema.Page{}, ErrNoSession
	case ModeImport:
		if c.stale {
			err := &StaleSnapshotError{Since: c.staleSince, Cause: c.staleCause}
			c.mu.Unlock()
			metrics.RecordStaleRejection()
			metrics.RecordQuery(ModeImport.String(), "stale", c.now().Sub(start))
			return schema.Page{}, err
		}
		snap := c.snap
		c.mu.Unlock()
		return c.queryLocal(snap, params, token, start)
	}
	c.seq++
	seq, epoch := c.seq, c.epoch
	c.mu.Unlock()

	page, err := c.remote.Query(ctx, params, token)

	c.mu.Lock()
	switch {
	case c.epoch != epoch:
		err = ErrNoSession
	case c.seq != seq:
		err = ErrSuperseded
	}
	c.mu.Unlock()

	metrics.RecordQuery(ModeDirect.String(), outcome(err), c.now().Sub(start))
	if err != nil {
		return schema.Page{}, err
	}
	return page, nil
}

func (c *Coordinator) queryLocal(snap *engine.Snapshot, params filter.Params, token schema.Token, start time.Time) (schema.Page, error) {
	n, err := engine.ParsePageToken(token)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidToken, err)
	} else {
		var page schema.Page
		page, err = engine.Query(snap, params, n)
		if err == nil {
			metrics.RecordQuery(ModeImport.String(), "ok", c.now().Sub(start))
			logging.Debug("local query", zap.Int("page", n), zap.Int("count", page.Count))
			return page, nil
		}
	}
	metrics.RecordQuery(ModeImport.String(), outcome(err), c.now().Sub(start))
	return schema.Page{}, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	default:
		return "error"
	}
}

// ImportAll downloads the whole collection and switches to ModeImport.
// On failure the mode is unchanged. onProgress may be nil; it runs on the
// calling goroutine.
func (c *Coordinator) ImportAll(ctx context.Context, onProgress func(Progress)) error {
	c.mu.Lock()
	switch {
	case c.mode == ModeNone:
		c.mu.Unlock()
		return ErrNoSession
	case c.importing:
		c.mu.Unlock()
		return ErrImportInProgress
	case c.mode == ModeImport && !c.stale:
		c.mu.Unlock()
		return ErrAlreadyImported
	}
	ictx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.importing = true
	c.importDirty = ""
	c.cancelImport = cancel
	epoch := c.epoch
	c.mu.Unlock()

	var cb func(Progress)
	if onProgress != nil {
		cb = func(p Progress) {
			c.cbMu.Lock()
			defer c.cbMu.Unlock()
			if ictx.Err() != nil || !c.sameEpoch(epoch) {
				return
			}
			onProgress(p)
		}
	}

	records, err := c.importer.ImportAll(ictx, cb)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		// Logout or a new login raced the import; its result belongs to no one.
		if err == nil {
			err = ErrNoSession
		}
		return err
	}
	c.importing = false
	c.cancelImport = nil
	if err != nil {
		return err
	}

	c.snap = engine.NewSnapshot(records, c.now())
	c.mode = ModeImport
	c.stale = false
	c.staleCause = ""
	c.staleSince = time.Time{}
	if c.importDirty != "" {
		c.markStaleLocked(c.importDirty)
		c.importDirty = ""
	}
	metrics.SetSnapshotRecords(c.snap.Len())
	logging.Info("switched to import mode",
		zap.Int("records", c.snap.Len()),
		zap.Bool("stale", c.stale))
	return nil
}

func (c *Coordinator) sameEpoch(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch == epoch
}

// InvalidateSnapshot flags the snapshot stale without a mutation, e.g. when
// another client is known to have changed the data.
func (c *Coordinator) InvalidateSnapshot() {
	c.markStale("invalidated")
}

// FallbackToDirect drops a stale snapshot and returns to ModeDirect.
// A fresh snapshot is kept and ErrNotStale returned.
func (c *Coordinator) FallbackToDirect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case ModeNone:
		return ErrNoSession
	case ModeDirect:
		return nil
	}
	if !c.stale {
		return ErrNotStale
	}
	c.mode = ModeDirect
	c.snap = nil
	c.stale = false
	c.staleCause = ""
	c.staleSince = time.Time{}
	metrics.SetSnapshotRecords(0)
	logging.Info("fell back to direct mode")
	return nil
}

func (c *Coordinator) markStale(cause string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markStaleLocked(cause)
}

func (c *Coordinator) markStaleLocked(cause string) {
	if c.importing {
		c.importDirty = cause
	}
	if c.mode != ModeImport || c.stale {
		return
	}
	c.stale = true
	c.staleSince = c.now()
	c.staleCause = cause
	logging.Warn("snapshot marked stale", zap.String("cause", cause))
}

func (c *Coordinator) requireSession() error {
	if c.Mode() == ModeNone {
		return ErrNoSession
	}
	return nil
}

// CreateRecord creates a record on the backend.
func (c *Coordinator) CreateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	if err := c.requireSession(); err != nil {
		return schema.Record{}, err
	}
	out, err := c.remote.CreateRecord(ctx, r)
	if err == nil {
		c.markStale("record created")
	}
	return out, err
}

// UpdateRecord replaces a record on the backend.
func (c *Coordinator) UpdateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	if err := c.requireSession(); err != nil {
		return schema.Record{}, err
	}
	out, err := c.remote.UpdateRecord(ctx, r)
	if err == nil {
		c.markStale("record " + out.ID.String() + " updated")
	}
	return out, err
}

// AddRelationship links two records on the backend.
func (c *Coordinator) AddRelationship(ctx context.Context, rel schema.Relationship) (schema.Relationship, error) {
	if err := c.requireSession(); err != nil {
		return schema.Relationship{}, err
	}
	out, err := c.remote.AddRelationship(ctx, rel)
	if err == nil {
		c.markStale("relationship added")
	}
	return out, err
}

// RemoveRelationship deletes a relationship on the backend.
func (c *Coordinator) RemoveRelationship(ctx context.Context, id schema.ID) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	err := c.remote.RemoveRelationship(ctx, id)
	if err == nil {
		c.markStale("relationship " + id.String() + " removed")
	}
	return err
}
