package resilience

import (
	"sort"
	"sync"
	"time"
)

// FailureDetectorOptions tunes the sliding-window trigger from spec.md
// §3 "Failure-detector sliding window" and §4.5.6.
type FailureDetectorOptions struct {
	WindowSize           time.Duration
	MinFailures          int
	FailureRateThreshold float64

	// Now returns monotonic time; defaults to time.Now (whose
	// measurements are monotonic-backed on every supported platform).
	Now func() time.Time
}

func (o FailureDetectorOptions) withDefaults() FailureDetectorOptions {
	if o.WindowSize <= 0 {
		o.WindowSize = 60 * time.Second
	}
	if o.MinFailures <= 0 {
		o.MinFailures = 5
	}
	if o.FailureRateThreshold <= 0 {
		o.FailureRateThreshold = 0.5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// FailureDetector tracks two append-only sorted timestamp sequences
// (failures, successes), pruning entries older than WindowSize on every
// read via binary search — spec.md §3.
type FailureDetector struct {
	opt FailureDetectorOptions

	mu        sync.Mutex
	failures  []time.Time
	successes []time.Time
}

// NewFailureDetector constructs a detector for one monitored region/link.
func NewFailureDetector(o FailureDetectorOptions) *FailureDetector {
	return &FailureDetector{opt: o.withDefaults()}
}

// RecordFailure appends a failure timestamp.
func (d *FailureDetector) RecordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = append(d.failures, d.opt.Now())
}

// RecordSuccess appends a success timestamp.
func (d *FailureDetector) RecordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.successes = append(d.successes, d.opt.Now())
}

// prune drops entries older than WindowSize via binary search on the
// sorted prefix, since timestamps are appended in non-decreasing order.
func prune(ts []time.Time, cutoff time.Time) []time.Time {
	idx := sort.Search(len(ts), func(i int) bool { return ts[i].After(cutoff) })
	return ts[idx:]
}

// Triggered reports whether both min_failures and failure_rate_threshold
// are currently exceeded within the window.
func (d *FailureDetector) Triggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := d.opt.Now().Add(-d.opt.WindowSize)
	d.failures = prune(d.failures, cutoff)
	d.successes = prune(d.successes, cutoff)

	nf := len(d.failures)
	if nf < d.opt.MinFailures {
		return false
	}
	total := nf + len(d.successes)
	if total == 0 {
		return false
	}
	return float64(nf)/float64(total) >= d.opt.FailureRateThreshold
}

// Reset clears both windows — called after a successful failover,
// per spec.md §4.6.
func (d *FailureDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = nil
	d.successes = nil
}
