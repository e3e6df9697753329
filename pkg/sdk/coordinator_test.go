package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/celerix-dev/celerix-records/pkg/engine"
	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

// fakeRemote is an in-memory RemoteStore. Queries are answered by the local
// engine so both modes see the same data.
type fakeRemote struct {
	fakeExporter

	mu        sync.Mutex
	records   []schema.Record
	token     string
	queryHook func() // runs inside Query before answering
	failNext  error
}

func newFakeRemote(t *testing.T, n int) *fakeRemote {
	t.Helper()
	records := make([]schema.Record, n)
	for i := range records {
		records[i] = schema.Record{
			ID:       schema.NewID(int64(i + 1)),
			Naam:     fmt.Sprintf("Person %d", i),
			VoterNo:  strconv.Itoa(i),
			KromikNo: strconv.Itoa(i + 1),
			FileName: "roll.pdf",
		}
	}
	f := &fakeRemote{records: records}
	f.size = -2
	f.refreshPayload(t)
	return f
}

func (f *fakeRemote) refreshPayload(t *testing.T) {
	t.Helper()
	data, err := json.Marshal(f.records)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	f.payload = data
}

func (f *fakeRemote) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeRemote) Query(ctx context.Context, params filter.Params, token schema.Token) (schema.Page, error) {
	if f.queryHook != nil {
		f.queryHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return schema.Page{}, err
	}
	n, err := engine.ParsePageToken(token)
	if err != nil {
		return schema.Page{}, err
	}
	return engine.Query(engine.NewSnapshot(f.records, time.Now()), params, n)
}

func (f *fakeRemote) CreateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = schema.NewID(int64(len(f.records) + 1))
	f.records = append(f.records, r)
	return r, nil
}

func (f *fakeRemote) UpdateRecord(ctx context.Context, r schema.Record) (schema.Record, error) {
	return r, nil
}

func (f *fakeRemote) AddRelationship(ctx context.Context, rel schema.Relationship) (schema.Relationship, error) {
	return rel, nil
}

func (f *fakeRemote) RemoveRelationship(ctx context.Context, id schema.ID) error {
	return errors.New("relationship not found")
}

func TestCoordinator_NoSession(t *testing.T) {
	c := NewCoordinator(newFakeRemote(t, 3))
	if _, err := c.Query(context.Background(), filter.Params{}, ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
	if err := c.ImportAll(context.Background(), nil); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession for import, got %v", err)
	}
	if _, err := c.CreateRecord(context.Background(), schema.Record{}); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession for mutation, got %v", err)
	}
}

func TestCoordinator_DirectThenImport(t *testing.T) {
	remote := newFakeRemote(t, 120)
	c := NewCoordinator(remote)
	c.Login("abc")

	if c.Mode() != ModeDirect || remote.token != "abc" {
		t.Fatalf("Expected direct mode with token set, got %s", c.Mode())
	}

	params := filter.New(filter.Contains("naam", "person 1"))
	direct, err := c.Query(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Direct query failed: %v", err)
	}

	if err := c.ImportAll(context.Background(), nil); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}
	if c.Mode() != ModeImport || c.Snapshot().Len() != 120 {
		t.Fatalf("Expected import mode with 120 records, got %s / %d", c.Mode(), c.Snapshot().Len())
	}

	local, err := c.Query(context.Background(), params, "")
	if err != nil {
		t.Fatalf("Local query failed: %v", err)
	}
	if local.Count != direct.Count || len(local.Items) != len(direct.Items) {
		t.Fatalf("Modes disagree: direct %d/%d, local %d/%d", direct.Count, len(direct.Items), local.Count, len(local.Items))
	}
	for i := range local.Items {
		if local.Items[i].ID != direct.Items[i].ID {
			t.Errorf("Item %d differs: %s vs %s", i, local.Items[i].ID, direct.Items[i].ID)
		}
	}

	if _, err := c.Query(context.Background(), params, "not-a-page"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Expected ErrInvalidToken, got %v", err)
	}
	if err := c.ImportAll(context.Background(), nil); !errors.Is(err, ErrAlreadyImported) {
		t.Errorf("Expected ErrAlreadyImported, got %v", err)
	}
}

func TestCoordinator_StaleAfterMutation(t *testing.T) {
	remote := newFakeRemote(t, 10)
	c := NewCoordinator(remote)
	c.Login("abc")
	if err := c.ImportAll(context.Background(), nil); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}

	if _, err := c.CreateRecord(context.Background(), schema.Record{Naam: "new"}); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if !c.Stale() {
		t.Fatal("Expected the snapshot to be stale after a mutation")
	}

	_, err := c.Query(context.Background(), filter.Params{}, "")
	if !errors.Is(err, ErrStaleSnapshot) {
		t.Fatalf("Expected ErrStaleSnapshot, got %v", err)
	}
	var sse *StaleSnapshotError
	if !errors.As(err, &sse) || sse.Cause == "" {
		t.Errorf("Expected a cause on the stale error, got %v", err)
	}

	// Re-import picks up the new record and clears the flag.
	remote.refreshPayload(t)
	if err := c.ImportAll(context.Background(), nil); err != nil {
		t.Fatalf("Re-import failed: %v", err)
	}
	page, err := c.Query(context.Background(), filter.Params{}, "")
	if err != nil || page.Count != 11 {
		t.Errorf("Expected 11 records after re-import, got %d (%v)", page.Count, err)
	}
}

func TestCoordinator_FailedMutationKeepsSnapshotFresh(t *testing.T) {
	c := NewCoordinator(newFakeRemote(t, 10))
	c.Login("abc")
	c.ImportAll(context.Background(), nil)

	if err := c.RemoveRelationship(context.Background(), "1"); err == nil {
		t.Fatal("Expected RemoveRelationship to fail")
	}
	if c.Stale() {
		t.Error("A failed mutation must not invalidate the snapshot")
	}
}

func TestCoordinator_FallbackToDirect(t *testing.T) {
	c := NewCoordinator(newFakeRemote(t, 10))
	c.Login("abc")
	c.ImportAll(context.Background(), nil)

	if err := c.FallbackToDirect(); !errors.Is(err, ErrNotStale) {
		t.Errorf("Expected ErrNotStale on a fresh snapshot, got %v", err)
	}

	c.InvalidateSnapshot()
	if err := c.FallbackToDirect(); err != nil {
		t.Fatalf("FallbackToDirect failed: %v", err)
	}
	if c.Mode() != ModeDirect || c.Snapshot() != nil {
		t.Errorf("Expected direct mode without snapshot, got %s", c.Mode())
	}
	if _, err := c.Query(context.Background(), filter.Params{}, ""); err != nil {
		t.Errorf("Direct query after fallback failed: %v", err)
	}
}

func TestCoordinator_FailedImportKeepsMode(t *testing.T) {
	remote := newFakeRemote(t, 10)
	remote.payload = remote.payload[:len(remote.payload)/2]
	remote.size = int64(len(remote.payload) * 2)

	c := NewCoordinator(remote)
	c.Login("abc")
	err := c.ImportAll(context.Background(), nil)

	var pde *PartialDataError
	if !errors.As(err, &pde) {
		t.Fatalf("Expected *PartialDataError, got %v", err)
	}
	if c.Mode() != ModeDirect || c.Snapshot() != nil || c.Importing() {
		t.Errorf("Expected direct mode to survive a failed import, got %s", c.Mode())
	}
}

func TestCoordinator_MutationDuringImport(t *testing.T) {
	remote := newFakeRemote(t, 50)
	remote.chunk = 128

	c := NewCoordinator(remote)
	c.Login("abc")

	mutated := false
	remote.onRead = func(served int) {
		if !mutated && served > 256 {
			mutated = true
			if _, err := c.CreateRecord(context.Background(), schema.Record{Naam: "late"}); err != nil {
				t.Errorf("CreateRecord failed: %v", err)
			}
		}
	}

	if err := c.ImportAll(context.Background(), nil); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}
	if !c.Stale() {
		t.Error("Expected a snapshot installed after a concurrent mutation to be stale")
	}
}

func TestCoordinator_ConcurrentImportRefused(t *testing.T) {
	remote := newFakeRemote(t, 50)
	remote.chunk = 128

	c := NewCoordinator(remote)
	c.Login("abc")

	var second error
	remote.onRead = func(served int) {
		if second == nil {
			second = c.ImportAll(context.Background(), nil)
		}
	}
	if err := c.ImportAll(context.Background(), nil); err != nil {
		t.Fatalf("ImportAll failed: %v", err)
	}
	if !errors.Is(second, ErrImportInProgress) {
		t.Errorf("Expected ErrImportInProgress, got %v", second)
	}
}

func TestCoordinator_LogoutCancelsImport(t *testing.T) {
	clk := newFakeClock()
	remote := newFakeRemote(t, 200)
	remote.chunk = 256

	c := NewCoordinator(remote, WithClock(clk.Now), WithProgressInterval(time.Millisecond))
	c.Login("abc")

	var (
		mu         sync.Mutex
		loggedOut  bool
		lateCalls  int
		earlyCalls int
	)
	remote.onRead = func(served int) {
		clk.Advance(10 * time.Millisecond)
		if served >= 2048 {
			mu.Lock()
			already := loggedOut
			loggedOut = true
			mu.Unlock()
			if !already {
				c.Logout()
			}
		}
	}

	err := c.ImportAll(context.Background(), func(p Progress) {
		mu.Lock()
		defer mu.Unlock()
		if loggedOut {
			lateCalls++
		} else {
			earlyCalls++
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if lateCalls != 0 {
		t.Errorf("Expected no callbacks after logout, got %d", lateCalls)
	}
	if earlyCalls == 0 {
		t.Error("Expected progress before logout")
	}
	if c.Mode() != ModeNone || c.Snapshot() != nil || remote.token != "" {
		t.Errorf("Expected a cleared session, got mode %s", c.Mode())
	}
}

func TestCoordinator_SupersededQuery(t *testing.T) {
	remote := newFakeRemote(t, 10)
	c := NewCoordinator(remote)
	c.Login("abc")

	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once
	remote.queryHook = func() {
		first := false
		once.Do(func() { first = true })
		if first {
			close(entered)
			<-release
		}
	}

	result := make(chan error, 1)
	go func() {
		_, err := c.Query(context.Background(), filter.Params{}, "")
		result <- err
	}()
	<-entered

	// A newer query completes while the first is still in flight.
	if _, err := c.Query(context.Background(), filter.Params{}, ""); err != nil {
		t.Fatalf("Newer query failed: %v", err)
	}
	close(release)

	if err := <-result; !errors.Is(err, ErrSuperseded) {
		t.Errorf("Expected ErrSuperseded for the older response, got %v", err)
	}
}

func TestCoordinator_QueryAcrossLogout(t *testing.T) {
	remote := newFakeRemote(t, 10)
	c := NewCoordinator(remote)
	c.Login("abc")
	remote.queryHook = func() { c.Logout() }

	if _, err := c.Query(context.Background(), filter.Params{}, ""); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession for a query straddling logout, got %v", err)
	}
}

func TestCoordinator_DirectErrorsPassThrough(t *testing.T) {
	remote := newFakeRemote(t, 10)
	remote.failNext = &ServerError{Status: 404, Message: "Invalid page."}
	c := NewCoordinator(remote)
	c.Login("abc")

	_, err := c.Query(context.Background(), filter.Params{}, "")
	if se, ok := AsServerError(err); !ok || se.Status != 404 {
		t.Errorf("Expected the server error unchanged, got %v", err)
	}
}

func TestMode_String(t *testing.T) {
	for m, want := range map[Mode]string{ModeNone: "none", ModeDirect: "direct", ModeImport: "import"} {
		if m.String() != want {
			t.Errorf("Expected %s, got %s", want, m.String())
		}
	}
}
