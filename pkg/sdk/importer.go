package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/internal/metrics"
	"github.com/celerix-dev/celerix-records/pkg/schema"
)

const readChunk = 32 << 10

type options struct {
	interval time.Duration
	now      func() time.Time
}

// Option configures an Importer or a Coordinator.
type Option func(*options)

// WithProgressInterval sets the minimum spacing between progress callbacks.
func WithProgressInterval(d time.Duration) Option {
	return func(o *options) { o.interval = d }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{interval: DefaultProgressInterval, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Importer downloads the whole collection in one streamed request.
type Importer struct {
	exporter Exporter
	opts     options
}

// NewImporter creates an importer reading from exp.
func NewImporter(exp Exporter, opts ...Option) *Importer {
	return &Importer{exporter: exp, opts: buildOptions(opts)}
}

// ImportAll streams the export endpoint to completion and decodes it.
// onProgress may be nil. Records are only returned once the full body has
// arrived and parsed; a short or broken stream yields *PartialDataError.
// Once ctx is done no further callback fires and ctx.Err() is returned.
func (im *Importer) ImportAll(ctx context.Context, onProgress func(Progress)) ([]schema.Record, error) {
	start := im.opts.now()
	records, loaded, err := im.run(ctx, onProgress)

	status := "success"
	switch {
	case err == nil:
	case ctx.Err() != nil:
		status = "cancelled"
	default:
		status = "error"
	}
	d := im.opts.now().Sub(start)
	metrics.RecordImport(status, loaded, d)

	if err != nil {
		logging.Warn("import failed",
			zap.String("status", status),
			zap.Int64("bytes", loaded),
			zap.Error(err))
		return nil, err
	}
	logging.Info("import complete",
		zap.Int("records", len(records)),
		zap.Int64("bytes", loaded),
		zap.Duration("duration", d))
	return records, nil
}

func (im *Importer) run(ctx context.Context, onProgress func(Progress)) ([]schema.Record, int64, error) {
	emit := func(p Progress) {
		if onProgress != nil && ctx.Err() == nil {
			onProgress(p)
		}
	}

	body, size, err := im.exporter.Export(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, err
	}
	defer body.Close()

	logging.Info("import started", zap.Int64("content_length", size))

	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	sampler := NewSampler(size, im.opts.interval, im.opts.now)
	chunk := make([]byte, readChunk)
	var loaded int64

	for {
		n, rerr := body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			loaded += int64(n)
		}
		if ctx.Err() != nil {
			return nil, loaded, ctx.Err()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, loaded, &PartialDataError{Loaded: loaded, Expected: size, Err: rerr}
		}
		// The final sample is sent after EOF.
		if n > 0 && (size < 0 || loaded < size) {
			if p, ok := sampler.Observe(loaded, false); ok {
				emit(p)
			}
		}
	}

	if size >= 0 && loaded < size {
		return nil, loaded, &PartialDataError{Loaded: loaded, Expected: size, Err: io.ErrUnexpectedEOF}
	}
	if p, ok := sampler.Observe(loaded, true); ok {
		emit(p)
	}

	var records []schema.Record
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		// Without a length, a body cut at a clean boundary only shows up here.
		var syntaxErr *json.SyntaxError
		if size < 0 && (errors.As(err, &syntaxErr) || errors.Is(err, io.ErrUnexpectedEOF)) {
			return nil, loaded, &PartialDataError{Loaded: loaded, Expected: size, Err: err}
		}
		return nil, loaded, fmt.Errorf("decode export: %w", err)
	}
	if records == nil {
		records = []schema.Record{}
	}
	return records, loaded, nil
}
