package resilience

import (
	"sync"
	"time"
)

// ProbePolicy decides health from a set of probe outcomes, per spec.md
// §4.6 "Health check runner".
type ProbePolicy int

const (
	// PolicyAll requires every probe in the round to succeed.
	PolicyAll ProbePolicy = iota
	// PolicyMajority requires a strict majority of probes to succeed.
	PolicyMajority
	// PolicyAny requires at least one probe to succeed.
	PolicyAny
)

// Prober performs one health probe against addr (a PING expecting PONG,
// plus connectedness) and reports success.
type Prober func(addr string) bool

// HealthCheckOptions configures a HealthChecker.
type HealthCheckOptions struct {
	Interval   time.Duration
	Probes     int
	ProbeDelay time.Duration
	Policy     ProbePolicy
	Probe      Prober

	// OnChange is invoked (outside any lock) whenever an endpoint's
	// health flips.
	OnChange func(addr string, healthy bool)
}

func (o HealthCheckOptions) withDefaults() HealthCheckOptions {
	if o.Interval <= 0 {
		o.Interval = 10 * time.Second
	}
	if o.Probes <= 0 {
		o.Probes = 1
	}
	if o.ProbeDelay <= 0 {
		o.ProbeDelay = 100 * time.Millisecond
	}
	return o
}

// HealthChecker runs periodic probe rounds against a set of monitored
// endpoints and tracks each endpoint's current health, grounded on the
// teacher's periodic connection-state tracking (connection.go's
// lifecycle states) generalized from "is this one connection usable" to
// "is this endpoint, probed repeatedly, usable".
type HealthChecker struct {
	opt HealthCheckOptions

	mu      sync.Mutex
	healthy map[string]bool

	stop chan struct{}
	once sync.Once
}

// NewHealthChecker constructs a checker. Call Monitor to add endpoints
// and Start to begin the periodic loop.
func NewHealthChecker(o HealthCheckOptions) *HealthChecker {
	return &HealthChecker{
		opt:     o.withDefaults(),
		healthy: make(map[string]bool),
		stop:    make(chan struct{}),
	}
}

// Monitor registers addr as initially healthy; its state is updated on
// the next probe round.
func (h *HealthChecker) Monitor(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.healthy[addr]; !ok {
		h.healthy[addr] = true
	}
}

// Healthy reports the last-known health of addr. Unmonitored addresses
// are never probed and always report healthy (fail open).
func (h *HealthChecker) Healthy(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	healthy, ok := h.healthy[addr]
	if !ok {
		return true
	}
	return healthy
}

// ProbeOnce runs one probe round against every monitored endpoint and
// applies the configured policy, invoking OnChange for any flip. It is
// exported separately from Start so tests can drive rounds deterministically.
func (h *HealthChecker) ProbeOnce() {
	h.mu.Lock()
	addrs := make([]string, 0, len(h.healthy))
	for a := range h.healthy {
		addrs = append(addrs, a)
	}
	h.mu.Unlock()

	for _, addr := range addrs {
		h.probeEndpoint(addr)
	}
}

func (h *HealthChecker) probeEndpoint(addr string) {
	successes := 0
	for i := 0; i < h.opt.Probes; i++ {
		if i > 0 {
			time.Sleep(h.opt.ProbeDelay)
		}
		if h.opt.Probe(addr) {
			successes++
		}
	}

	var result bool
	switch h.opt.Policy {
	case PolicyAll:
		result = successes == h.opt.Probes
	case PolicyAny:
		result = successes > 0
	default: // PolicyMajority
		result = successes*2 > h.opt.Probes
	}

	h.mu.Lock()
	prev, ok := h.healthy[addr]
	h.healthy[addr] = result
	h.mu.Unlock()

	if h.opt.OnChange != nil && (!ok || prev != result) {
		h.opt.OnChange(addr, result)
	}
}

// Start runs probe rounds every Interval until Stop is called.
func (h *HealthChecker) Start() {
	go func() {
		ticker := time.NewTicker(h.opt.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.ProbeOnce()
			case <-h.stop:
				return
			}
		}
	}()
}

// Stop ends the periodic loop started by Start. Safe to call once.
func (h *HealthChecker) Stop() {
	h.once.Do(func() { close(h.stop) })
}
