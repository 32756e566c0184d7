package routing

import (
	"context"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resp"
)

// DNSSelectPolicy picks among a resolved hostname's A records —
// spec.md §4.5.4.
type DNSSelectPolicy int

const (
	RoundRobin DNSSelectPolicy = iota
	Random
)

// DNSOptions configures a DNSRouter.
type DNSOptions struct {
	Host              string
	Port              string
	Policy            DNSSelectPolicy
	ReconnectAttempts int
	DialOptions       conn.Options
	PoolSize          int
	AcquireTimeout    time.Duration
	Resolver          *net.Resolver // nil uses net.DefaultResolver
	Dispatcher        *events.Dispatcher

	// Logger is threaded into every per-IP connection and pool. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (o DNSOptions) withDefaults() DNSOptions {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 3
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = conn.DefaultTimeout
	}
	if o.Resolver == nil {
		o.Resolver = net.DefaultResolver
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.DialOptions.Logger = o.Logger
	return o
}

// DNSRouter implements spec.md §4.5.4: resolve a hostname to its A
// records, pick one per acquisition, and cycle to the next IP on
// connection error up to ReconnectAttempts.
type DNSRouter struct {
	opt DNSOptions

	mu      sync.Mutex
	ips     []string
	poolsMu sync.Mutex
	pools   map[string]*pool.Pool
	rrNext  atomic.Uint64
}

// NewDNS performs the initial resolution.
func NewDNS(o DNSOptions) (*DNSRouter, error) {
	o = o.withDefaults()
	r := &DNSRouter{opt: o, pools: make(map[string]*pool.Pool)}
	if err := r.RefreshDNS(); err != nil {
		return nil, err
	}
	return r, nil
}

// RefreshDNS re-resolves the hostname and drops the cached IP list —
// spec.md §4.5.4 "refresh_dns".
func (r *DNSRouter) RefreshDNS() error {
	ips, err := r.opt.Resolver.LookupHost(context.Background(), r.opt.Host)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.ips = ips
	r.mu.Unlock()
	return nil
}

func (r *DNSRouter) pick() string {
	r.mu.Lock()
	ips := r.ips
	r.mu.Unlock()
	if len(ips) == 0 {
		return ""
	}
	var ip string
	if r.opt.Policy == Random {
		ip = ips[rand.IntN(len(ips))]
	} else {
		idx := int(r.rrNext.Add(1)-1) % len(ips)
		ip = ips[idx]
	}
	return net.JoinHostPort(ip, r.opt.Port)
}

func (r *DNSRouter) poolFor(addr string) *pool.Pool {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	if p, ok := r.pools[addr]; ok {
		return p
	}
	p := pool.New(pool.Options{
		Addr:           addr,
		Size:           r.opt.PoolSize,
		AcquireTimeout: r.opt.AcquireTimeout,
		Create: func() (*conn.Connection, error) {
			o := r.opt.DialOptions
			o.Network = "tcp"
			o.Addr = addr
			return conn.Dial(o)
		},
		Dispatcher: r.opt.Dispatcher,
		Logger:     r.opt.Logger,
	})
	r.pools[addr] = p
	return p
}

func (r *DNSRouter) Call(_ CallOptions, verb string, args ...any) (resp.Value, error) {
	var result resp.Value
	var lastErr error
	for attempt := 0; attempt < r.opt.ReconnectAttempts; attempt++ {
		addr := r.pick()
		if addr == "" {
			return resp.Value{}, &DiscoveryServiceError{Msg: "no resolved addresses"}
		}
		err := r.poolFor(addr).With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
			v, derr := c.Do(verb, args...)
			if derr != nil {
				return derr
			}
			result = v
			return nil
		})
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return resp.Value{}, lastErr
}

func (r *DNSRouter) WithConn(_ CallOptions, _ string, fn func(*conn.Connection) error) error {
	addr := r.pick()
	if addr == "" {
		return &DiscoveryServiceError{Msg: "no resolved addresses"}
	}
	return r.poolFor(addr).With(r.opt.AcquireTimeout, fn)
}

func (r *DNSRouter) Close() error {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	var firstErr error
	for _, p := range r.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
