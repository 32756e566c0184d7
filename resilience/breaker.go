package resilience

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/events"
)

// ErrOpen is wrapped into CircuitBreakerOpenError by the root package;
// resilience itself stays free of the exported taxonomy so it has no
// import-cycle back to the module root.
var ErrOpen = errors.New("redcore/resilience: circuit breaker open")

// BreakerState is one of the three states from spec.md §3 "Circuit
// breaker state".
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerOptions tunes the thresholds. Zero values fall back to spec.md
// §4.6's stated defaults (failure_threshold=5, success_threshold=2,
// reset_timeout=60s).
type BreakerOptions struct {
	FailureThreshold int
	SuccessThreshold int
	ResetTimeout     time.Duration
	Dispatcher       *events.Dispatcher
	Name             string // label for events/metrics only

	// Logger receives a Warn line on every state transition. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (o BreakerOptions) withDefaults() BreakerOptions {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 5
	}
	if o.SuccessThreshold <= 0 {
		o.SuccessThreshold = 2
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = 60 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// CircuitBreaker guards a block of work with the CLOSED/OPEN/HALF_OPEN
// state machine from spec.md §4.6. All counters reset on every
// transition; transitions are checked lazily on Allow/Execute rather than
// by a background timer, per the spec's "checked lazily on the next
// call" wording.
type CircuitBreaker struct {
	opt BreakerOptions

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	openedAt        time.Time
	transitionCount int

	now func() time.Time // swappable for tests; defaults to time.Now
}

// NewCircuitBreaker constructs a breaker starting CLOSED.
func NewCircuitBreaker(o BreakerOptions) *CircuitBreaker {
	return &CircuitBreaker{
		opt:   o.withDefaults(),
		now:   time.Now,
		state: Closed,
	}
}

// State returns the current state, first applying the lazy OPEN->HALF_OPEN
// transition if reset_timeout has elapsed.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

func (b *CircuitBreaker) maybeHalfOpenLocked() {
	if b.state == Open && b.now().Sub(b.openedAt) >= b.opt.ResetTimeout {
		b.transitionLocked(HalfOpen)
	}
}

func (b *CircuitBreaker) transitionLocked(to BreakerState) {
	from := b.state
	snapshot := events.Event{
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		TransitionCount: b.transitionCount,
	}
	b.state = to
	b.failureCount = 0
	b.successCount = 0
	b.transitionCount++
	if to == Open {
		b.openedAt = b.now()
	}
	if from == to {
		return
	}
	b.opt.Logger.Warn("circuit breaker state transition",
		zap.String("name", b.opt.Name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("failure_count", snapshot.FailureCount),
		zap.Int("success_count", snapshot.SuccessCount),
	)
	if b.opt.Dispatcher != nil {
		snapshot.Kind = events.BreakerStateChanged
		snapshot.Addr = b.opt.Name
		snapshot.Reason = from.String() + "->" + to.String()
		snapshot.FromAddr = from.String()
		snapshot.ToAddr = to.String()
		b.opt.Dispatcher.Emit(snapshot)
	}
}

// Allow reports whether a call may proceed without tripping the breaker.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state != Open
}

// RecordSuccess reports a successful call outcome.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.opt.SuccessThreshold {
			b.transitionLocked(Closed)
		}
	}
}

// RecordFailure reports a failed call outcome.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.opt.FailureThreshold {
			b.transitionLocked(Open)
		}
	case HalfOpen:
		b.transitionLocked(Open)
	}
}

// Execute runs fn if the breaker allows it, recording the outcome.
// Returns ErrOpen without calling fn when the breaker is OPEN.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	if err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
