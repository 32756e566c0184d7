package routing

import (
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resp"
)

// discoveryServicePort is the fixed Redis Enterprise Discovery Service
// port — spec.md §4.5.5.
const discoveryServicePort = "8001"

// DiscoveryOptions configures a DiscoveryRouter.
type DiscoveryOptions struct {
	Seeds          []string // host (no port — discoveryServicePort is used)
	Database       string
	Internal       bool // append "@internal" to the lookup name
	DialOptions    conn.Options
	PoolSize       int
	AcquireTimeout time.Duration
	Dispatcher     *events.Dispatcher

	// Logger is threaded into every per-lookup connection and pool. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (o DiscoveryOptions) withDefaults() DiscoveryOptions {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = conn.DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	o.DialOptions.Logger = o.Logger
	return o
}

// DiscoveryRouter implements spec.md §4.5.5: a SENTINEL-like lookup
// against Redis Enterprise's Discovery Service on port 8001.
type DiscoveryRouter struct {
	opt      DiscoveryOptions
	dataPool *pool.Pool
}

func (o DiscoveryOptions) lookupName() string {
	if o.Internal {
		return o.Database + "@internal"
	}
	return o.Database
}

// NewDiscovery performs the initial lookup.
func NewDiscovery(o DiscoveryOptions) (*DiscoveryRouter, error) {
	o = o.withDefaults()
	r := &DiscoveryRouter{opt: o}
	if err := r.rediscover(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *DiscoveryRouter) rediscover() error {
	var lastErr error
	for _, seed := range r.opt.Seeds {
		o := r.opt.DialOptions
		o.Network = "tcp"
		o.Addr = seed + ":" + discoveryServicePort
		c, err := conn.Dial(o)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := c.Do("SENTINEL", "get-master-addr-by-name", r.opt.lookupName())
		c.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if len(v.Array) < 2 {
			lastErr = &DiscoveryServiceError{Msg: "malformed get-master-addr-by-name reply"}
			continue
		}
		host := string(v.Array[0].Bulk)
		port := string(v.Array[1].Bulk)
		addr := host + ":" + port

		if r.dataPool != nil {
			r.dataPool.Close()
		}
		r.dataPool = pool.New(pool.Options{
			Addr:           addr,
			Size:           r.opt.PoolSize,
			AcquireTimeout: r.opt.AcquireTimeout,
			Create: func() (*conn.Connection, error) {
				dialOpt := r.opt.DialOptions
				dialOpt.Network = "tcp"
				dialOpt.Addr = addr
				return conn.Dial(dialOpt)
			},
			Dispatcher: r.opt.Dispatcher,
			Logger:     r.opt.Logger,
		})
		return nil
	}
	if lastErr == nil {
		lastErr = &DiscoveryServiceError{Msg: "no seeds configured"}
	}
	r.opt.Logger.Warn("discovery service lookup failed", zap.Error(lastErr))
	return &DiscoveryServiceError{Msg: lastErr.Error()}
}

func (r *DiscoveryRouter) Call(_ CallOptions, verb string, args ...any) (resp.Value, error) {
	var result resp.Value
	err := r.dataPool.With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
		v, derr := c.Do(verb, args...)
		if derr != nil {
			return derr
		}
		result = v
		return nil
	})
	return result, err
}

func (r *DiscoveryRouter) WithConn(_ CallOptions, _ string, fn func(*conn.Connection) error) error {
	return r.dataPool.With(r.opt.AcquireTimeout, fn)
}

func (r *DiscoveryRouter) Close() error {
	if r.dataPool != nil {
		return r.dataPool.Close()
	}
	return nil
}
