package sdk

import (
	"math"
	"time"
)

// DefaultProgressInterval is the minimum spacing between progress callbacks.
const DefaultProgressInterval = 500 * time.Millisecond

// Progress describes an in-flight bulk import.
type Progress struct {
	Loaded     int64         // bytes received so far
	Total      int64         // announced size, -1 when unknown
	Throughput float64       // bytes per second over the last sampling interval
	ETA        time.Duration // valid only when ETAKnown
	ETAKnown   bool
	Done       bool // the final sample of a completed stream
}

// Percent returns the completed fraction in [0, 100]. ok is false when the
// total size is unknown.
func (p Progress) Percent() (pct float64, ok bool) {
	if p.Total <= 0 {
		if p.Done {
			return 100, true
		}
		return 0, false
	}
	pct = float64(p.Loaded) * 100 / float64(p.Total)
	return math.Min(pct, 100), true
}

// Sampler turns byte counts into rate-limited Progress samples.
// It emits at most once per interval, plus always for the final chunk.
// A Sampler is not safe for concurrent use.
type Sampler struct {
	total    int64
	interval time.Duration
	now      func() time.Time

	lastAt     time.Time
	lastLoaded int64
	throughput float64
}

// NewSampler starts sampling at now(). A nil now uses time.Now; a
// non-positive interval uses DefaultProgressInterval.
func NewSampler(total int64, interval time.Duration, now func() time.Time) *Sampler {
	if now == nil {
		now = time.Now
	}
	if interval <= 0 {
		interval = DefaultProgressInterval
	}
	if total < 0 {
		total = -1
	}
	return &Sampler{
		total:    total,
		interval: interval,
		now:      now,
		lastAt:   now(),
	}
}

// Observe records that loaded bytes have arrived. It returns a sample and
// true when a callback is due.
func (s *Sampler) Observe(loaded int64, final bool) (Progress, bool) {
	at := s.now()
	elapsed := at.Sub(s.lastAt)
	if !final && elapsed < s.interval {
		return Progress{}, false
	}

	// A zero-length interval keeps the previous rate.
	if elapsed > 0 {
		rate := float64(loaded-s.lastLoaded) / elapsed.Seconds()
		if !math.IsNaN(rate) && !math.IsInf(rate, 0) && rate >= 0 {
			s.throughput = rate
		}
		s.lastAt = at
		s.lastLoaded = loaded
	}

	p := Progress{
		Loaded:     loaded,
		Total:      s.total,
		Throughput: s.throughput,
		Done:       final,
	}
	switch {
	case final:
		p.ETA, p.ETAKnown = 0, true
	case s.total >= 0 && s.throughput > 0:
		remaining := max(s.total-loaded, 0)
		p.ETA = time.Duration(float64(remaining) / s.throughput * float64(time.Second))
		p.ETAKnown = true
	}
	return p, true
}
