package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/celerix-dev/celerix-records/pkg/filter"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

var (
	// ErrNoSession is returned when no session is active (before login or after logout).
	ErrNoSession = errors.New("no active session")
	// ErrStaleSnapshot is matched by errors.Is for every *StaleSnapshotError.
	ErrStaleSnapshot = errors.New("snapshot is stale")
	// ErrImportInProgress is returned when a second import is started concurrently.
	ErrImportInProgress = errors.New("import already in progress")
	// ErrAlreadyImported is returned when importing over a fresh snapshot.
	ErrAlreadyImported = errors.New("snapshot already imported")
	// ErrNotStale is returned by FallbackToDirect when the snapshot is still fresh.
	ErrNotStale = errors.New("snapshot is not stale")
	// ErrInvalidToken is returned for a page token the active engine cannot use.
	ErrInvalidToken = errors.New("invalid page token")
	// ErrSuperseded is returned for a response that arrived after a newer query was dispatched.
	ErrSuperseded = errors.New("response superseded by a newer query")
)

// NetworkError means no HTTP response was received.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError means the credential was missing (Status 0) or rejected.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return "auth error: " + e.Message
	}
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// ServerError is a non-success response. Fields holds field-level
// validation messages, verbatim from the backend.
type ServerError struct {
	Status  int
	Message string
	Fields  map[string][]string
}

func (e *ServerError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server error (%d)", e.Status)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		fmt.Fprintf(&b, "; %s: %s", field, strings.Join(e.Fields[field], " "))
	}
	return b.String()
}

// PartialDataError means the export stream ended before the full payload arrived.
// Expected is -1 when the server did not announce a length.
type PartialDataError struct {
	Loaded   int64
	Expected int64
	Err      error
}

func (e *PartialDataError) Error() string {
	if e.Expected < 0 {
		return fmt.Sprintf("partial data: stream broke after %d bytes: %v", e.Loaded, e.Err)
	}
	return fmt.Sprintf("partial data: received %d of %d bytes: %v", e.Loaded, e.Expected, e.Err)
}

func (e *PartialDataError) Unwrap() error { return e.Err }

// StaleSnapshotError is returned when querying a snapshot invalidated by a mutation.
type StaleSnapshotError struct {
	Since time.Time
	Cause string
}

func (e *StaleSnapshotError) Error() string {
	return fmt.Sprintf("snapshot is stale since %s (%s): re-import or switch to direct mode",
		e.Since.Format(time.RFC3339), e.Cause)
}

func (e *StaleSnapshotError) Is(target error) bool { return target == ErrStaleSnapshot }

// AsServerError checks if an error is a ServerError and returns it.
func AsServerError(err error) (*ServerError, bool) {
	var se *ServerError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsAuthError checks if an error is an AuthError and returns it.
func AsAuthError(err error) (*AuthError, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// --- Functional Interfaces (Interface Segregation) ---

// Querier is the single query function exposed to the presentation layer.
type Querier interface {
	Query(ctx context.Context, params filter.Params, token schema.Token) (schema.Page, error)
}

// Exporter streams the full collection. size is -1 when unknown.
type Exporter interface {
	Export(ctx context.Context) (body io.ReadCloser, size int64, err error)
}

// Mutator changes remote state. Any success invalidates an imported snapshot.
type Mutator interface {
	CreateRecord(ctx context.Context, r schema.Record) (schema.Record, error)
	UpdateRecord(ctx context.Context, r schema.Record) (schema.Record, error)
	AddRelationship(ctx context.Context, rel schema.Relationship) (schema.Relationship, error)
	RemoveRelationship(ctx context.Context, id schema.ID) error
}

// RemoteStore is what the Coordinator needs from the backend.
type RemoteStore interface {
	Querier
	Exporter
	Mutator
}
