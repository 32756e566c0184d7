package pool

import (
	"container/list"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/metrics"
	"github.com/l00pss/redcore/resp"
)

// CreateFunc dials a new connection for the pool. Pluggable per spec.md
// §3 "Pool" data model ("create-connection hook").
type CreateFunc func() (*conn.Connection, error)

// Options configures a Pool.
type Options struct {
	Addr           string // label only, for metrics/events
	Size           int
	AcquireTimeout time.Duration
	Create         CreateFunc
	Dispatcher     *events.Dispatcher
	Metrics        *metrics.Sink

	// Logger receives Warn lines on acquire-timeout exhaustion and
	// connection-creation failure. A no-op logger is substituted if nil.
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type waiter struct {
	ch chan acquireResult
}

type acquireResult struct {
	conn *conn.Connection
	err  error
}

// Pool is a bounded mapping from a single endpoint to connections,
// implementing spec.md §4.4: Acquire/Release/With, FIFO waiter fairness,
// and fork-safe discard of inherited connections.
type Pool struct {
	opt Options

	mu         sync.Mutex
	idle       []*conn.Connection
	inUse      int
	waiters    *list.List // of *waiter
	createdPID int
	closed     bool
}

// New constructs a Pool. It does not pre-create any connections —
// connections are created lazily on first Acquire, up to Size.
func New(o Options) *Pool {
	o = o.withDefaults()
	p := &Pool{
		opt:        o,
		waiters:    list.New(),
		createdPID: os.Getpid(),
	}
	p.emit(events.Event{Kind: events.PoolCreated, Addr: o.Addr, PoolSize: o.Size})
	return p
}

// checkFork implements spec.md §5 "Fork safety": on first access from a
// different process, every inherited idle connection is poisoned and
// discarded rather than reused — the socket belongs to the parent.
// Must be called with p.mu held.
func (p *Pool) checkFork() {
	if os.Getpid() == p.createdPID {
		return
	}
	for _, c := range p.idle {
		c.Poison()
	}
	p.idle = nil
	p.createdPID = os.Getpid()
	p.emit(events.Event{Kind: events.PoolReset, Addr: p.opt.Addr})
}

// Acquire returns an idle connection, creates one if below target size, or
// waits on the FIFO queue up to timeout. Fails with ErrPoolExhausted on
// timeout — spec.md §4.4 "Acquire(timeout)".
func (p *Pool) Acquire(timeout time.Duration) (*conn.Connection, error) {
	if timeout <= 0 {
		timeout = p.opt.AcquireTimeout
	}
	start := time.Now()

	p.mu.Lock()
	p.checkFork()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse++
		p.mu.Unlock()
		p.recordAcquire(start, c)
		return c, nil
	}

	if p.inUse+len(p.idle) < p.opt.Size {
		p.inUse++ // reserve the slot before releasing the lock
		p.mu.Unlock()
		c, err := p.opt.Create()
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
			p.opt.Logger.Warn("redis pooled connection creation failed", zap.String("addr", p.opt.Addr), zap.Error(err))
			return nil, err
		}
		p.emit(events.Event{Kind: events.PoolConnectionCreated, Addr: p.opt.Addr})
		p.recordAcquire(start, c)
		return c, nil
	}

	// At capacity: join the FIFO waiter queue.
	w := &waiter{ch: make(chan acquireResult, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-w.ch:
		if res.err != nil {
			return nil, res.err
		}
		p.recordAcquire(start, res.conn)
		return res.conn, nil
	case <-timer.C:
		p.mu.Lock()
		// Remove our waiter slot unless a Release already handed it off
		// in the race window between the timer firing and us locking.
		select {
		case res := <-w.ch:
			p.mu.Unlock()
			if res.err != nil {
				return nil, res.err
			}
			p.recordAcquire(start, res.conn)
			return res.conn, nil
		default:
			p.waiters.Remove(elem)
			p.mu.Unlock()
			waited := time.Since(start)
			p.emit(events.Event{Kind: events.PoolExhausted, Addr: p.opt.Addr, WaitedFor: waited})
			p.opt.Logger.Warn("redis pool exhausted", zap.String("addr", p.opt.Addr), zap.Duration("waited", waited))
			if p.opt.Metrics != nil {
				p.opt.Metrics.PoolExhausted.WithLabelValues(p.opt.Addr).Inc()
			}
			return nil, ErrPoolExhausted
		}
	}
}

func (p *Pool) recordAcquire(start time.Time, c *conn.Connection) {
	d := time.Since(start)
	p.opt.Metrics.ObserveCheckout(p.opt.Addr, d)
	p.emit(events.Event{Kind: events.PoolConnectionAcquired, Addr: p.opt.Addr, WaitedFor: d})
}

// Release returns c to the pool. A poisoned connection is discarded
// instead of being reused — spec.md §4.4 "Release(conn)". If a waiter is
// queued, ownership transfers directly to it (FIFO, no idle connection
// can be stolen by a late arrival while earlier waiters are blocked).
func (p *Pool) Release(c *conn.Connection) {
	p.mu.Lock()

	if p.closed {
		p.inUse--
		p.mu.Unlock()
		c.Close()
		return
	}

	if c.Poisoned() || c.ForkStale() {
		p.inUse--
		elem := p.waiters.Front()
		if elem == nil {
			p.mu.Unlock()
			c.Close()
			return
		}
		p.waiters.Remove(elem)
		p.inUse++ // reserve for the waiter's replacement connection
		p.mu.Unlock()
		c.Close()
		w := elem.Value.(*waiter)
		nc, err := p.opt.Create()
		if err != nil {
			p.mu.Lock()
			p.inUse--
			p.mu.Unlock()
			w.ch <- acquireResult{err: err}
			return
		}
		w.ch <- acquireResult{conn: nc}
		return
	}

	elem := p.waiters.Front()
	if elem != nil {
		p.waiters.Remove(elem)
		p.mu.Unlock()
		w := elem.Value.(*waiter)
		w.ch <- acquireResult{conn: c}
		return
	}

	p.idle = append(p.idle, c)
	p.inUse--
	p.mu.Unlock()
	p.emit(events.Event{Kind: events.PoolConnectionReleased, Addr: p.opt.Addr})
}

// poisonableErr reports whether err indicates a transport-level failure
// that should poison the connection, per spec.md §4.4 "With(block)".
func poisonableErr(err error) bool {
	switch err.(type) {
	case *conn.IoError, *conn.TimeoutError:
		return true
	}
	_, isProto := err.(*resp.ProtocolError)
	return isProto
}

// With acquires a connection, runs fn, and guarantees release on every
// exit path including panics, poisoning the connection first if fn failed
// with a transport-level error.
func (p *Pool) With(timeout time.Duration, fn func(*conn.Connection) error) error {
	c, err := p.Acquire(timeout)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			c.Poison()
			p.Release(c)
			panic(r)
		}
	}()
	err = fn(c)
	if err != nil && poisonableErr(err) {
		c.Poison()
	}
	p.Release(c)
	return err
}

// Stats reports the current idle/in-use counts; idle+inUse is always <=
// Size (spec.md §3 "Pool" invariant).
type Stats struct {
	Idle  int
	InUse int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: p.inUse}
}

// Close closes every idle connection and rejects further Acquire calls.
// In-use connections are left to their callers; Release closes them
// instead of returning them to the idle set once Close has run. Close does
// not wait for outstanding With/Release calls to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	return nil
}

func (p *Pool) emit(ev events.Event) {
	if p.opt.Dispatcher == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	p.opt.Dispatcher.Emit(ev)
}
