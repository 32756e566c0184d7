package conn

import (
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/resp"
)

// State mirrors the connection lifecycle from spec.md §3:
// created -> connected (post-HELLO/AUTH/SELECT) -> in-use -> idle -> closed.
type State int32

const (
	StateCreated State = iota
	StateConnected
	StateInUse
	StateIdle
	StateClosed
)

// DefaultTimeout is the 5s per-operation default from spec.md §4.2.
const DefaultTimeout = 5 * time.Second

// Attributes holds what the HELLO 3 prelude negotiated — exposed so
// routing (role verification, cluster-mode detection) can read it without
// an extra round trip. Supplemental to spec.md, see SPEC_FULL.md §1.
type Attributes struct {
	ProtoVersion int64
	Server       string
	Version      string
	Mode         string // "standalone", "cluster", "sentinel"
	Role         string // "master", "replica"
	ClientID     int64
	Database     int
	ClientName   string
}

// Connection owns one transport and the codec state layered over it. A
// Connection is owned by at most one logical caller at a time — the Pool
// enforces that; Connection itself only tracks state and exposes the
// primitives (Do, Pipeline, Exec) that assume exclusive use.
type Connection struct {
	netConn net.Conn
	reader  *resp.Reader
	decoder *resp.Decoder
	enc     *resp.Encoder

	addr string
	attr Attributes

	state      atomic.Int32
	createdPID int

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu        sync.Mutex
	pushQueue []resp.Value
	poisoned  bool
	closeOnce sync.Once

	logger *zap.Logger
}

// newConnection wraps an already-dialed transport. Unexported: callers go
// through Dial, which also runs the prelude. logger is assumed non-nil
// (Dial's withDefaults substitutes zap.NewNop()).
func newConnection(nc net.Conn, addr string, readTimeout, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	c := &Connection{
		netConn:      nc,
		reader:       resp.NewReader(nc),
		enc:          resp.NewEncoder(make([]byte, 0, 4096)),
		addr:         addr,
		createdPID:   os.Getpid(),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
	c.decoder = resp.NewDecoder(c.reader)
	c.state.Store(int32(StateCreated))
	return c
}

// Addr returns the remote endpoint this connection was dialed to.
func (c *Connection) Addr() string { return c.addr }

// Attributes returns the negotiated HELLO attributes. Valid only once the
// connection has passed StateConnected.
func (c *Connection) Attributes() Attributes { return c.attr }

// State returns the current lifecycle state.
func (c *Connection) State() State { return State(c.state.Load()) }

func (c *Connection) setState(s State) { c.state.Store(int32(s)) }

// Poison marks the connection as unusable. A poisoned connection is
// discarded by the Pool on Release rather than returned to the idle set —
// spec.md §4.4 "Release".
func (c *Connection) Poison() {
	c.mu.Lock()
	c.poisoned = true
	c.mu.Unlock()
}

// Poisoned reports whether Poison was called.
func (c *Connection) Poisoned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poisoned
}

// CreatedPID returns the OS process id recorded at connection creation,
// used by the Pool's fork sentinel (spec.md §4.2/§5 "Fork safety").
func (c *Connection) CreatedPID() int { return c.createdPID }

// ForkStale reports whether this connection was created in a different
// process than the caller's current one — true after a fork, in the
// child. A stale connection must not be used; discard and redial.
func (c *Connection) ForkStale() bool { return os.Getpid() != c.createdPID }

// Close closes the underlying transport exactly once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		err = c.netConn.Close()
	})
	return err
}

// DrainPushQueue removes and returns all push messages accumulated so far
// (tracking invalidations, pub/sub), e.g. for handoff to the cache's
// invalidation consumer (spec.md §4.7 "Invalidation path").
func (c *Connection) DrainPushQueue() []resp.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pushQueue) == 0 {
		return nil
	}
	q := c.pushQueue
	c.pushQueue = nil
	return q
}

func (c *Connection) enqueuePush(v resp.Value) {
	c.mu.Lock()
	c.pushQueue = append(c.pushQueue, v)
	c.mu.Unlock()
}

// classifyIOErr turns a raw I/O error into one of the two retryable
// transport kinds from spec.md §7: TimeoutError or IoError.
func classifyIOErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return &TimeoutError{Op: op}
	}
	return &IoError{Op: op, Err: err}
}

func (c *Connection) applyWriteDeadline() {
	if c.writeTimeout > 0 {
		c.netConn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func (c *Connection) applyReadDeadline() {
	if c.readTimeout > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
}

// writeBuf writes b in one syscall where possible — a pipeline's whole
// concatenated buffer goes out as a single Write, matching spec.md §4.2
// "Write path": "do not flush between commands in a pipeline".
func (c *Connection) writeBuf(b []byte) error {
	if c.State() == StateClosed {
		c.Poison()
		return ErrClosed
	}
	c.applyWriteDeadline()
	if _, err := c.netConn.Write(b); err != nil {
		c.Poison()
		c.logger.Warn("redis connection write failed", zap.String("addr", c.addr), zap.Error(err))
		return classifyIOErr("write", err)
	}
	return nil
}

// readOneReply reads one top-level reply, diverting push frames to the
// connection's push queue (spec.md §4.1 "Push handling").
func (c *Connection) readOneReply() (resp.Value, error) {
	c.applyReadDeadline()
	v, err := c.decoder.ReadReply(c.enqueuePush)
	if err != nil {
		if _, ok := err.(*resp.ProtocolError); ok {
			// Protocol errors are fatal for the connection (spec.md §4.2).
			c.Poison()
			c.logger.Warn("redis connection protocol error", zap.String("addr", c.addr), zap.Error(err))
			return resp.Value{}, err
		}
		c.Poison()
		c.logger.Warn("redis connection read failed", zap.String("addr", c.addr), zap.Error(err))
		return resp.Value{}, classifyIOErr("read", err)
	}
	return v, nil
}

// Do sends one command and returns its decoded reply. Server error replies
// are returned as a typed resp.Value (Kind == KindError), not as a Go
// error — callers inspect AsError() themselves, or use CommandError via
// the Client facade which raises non-redirection errors automatically.
func (c *Connection) Do(name string, args ...any) (resp.Value, error) {
	c.enc.Reset()
	c.enc.Command(name, args...)
	if err := c.writeBuf(c.enc.Bytes()); err != nil {
		return resp.Value{}, err
	}
	return c.readOneReply()
}
