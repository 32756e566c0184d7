package routing

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/resp"
)

// Region is one Active-Active database endpoint — spec.md §4.5.6.
type Region struct {
	Name string
	Addr string
}

// ActiveActiveOptions configures an ActiveActiveRouter.
type ActiveActiveOptions struct {
	Regions         []Region
	DialOptions     conn.Options
	PoolSize        int
	AcquireTimeout  time.Duration
	HealthCheck     resilience.HealthCheckOptions
	FailureDetector resilience.FailureDetectorOptions
	Dispatcher      *events.Dispatcher

	// Logger receives a Warn line on every region failover. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (o ActiveActiveOptions) withDefaults() ActiveActiveOptions {
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

// ActiveActiveRouter multiplexes commands across regional endpoints: a
// rendezvous-hashed region preference keeps repeated calls for the same
// routing key on the same healthy region (spec.md §4.5.6), backed by a
// health checker and a failure detector that triggers failover when both
// min_failures and failure_rate_threshold are exceeded.
type ActiveActiveRouter struct {
	opt ActiveActiveOptions

	byName map[string]Region
	rdv    *rendezvous.Rendezvous

	health    *resilience.HealthChecker
	detectors map[string]*resilience.FailureDetector

	poolsMu sync.Mutex
	pools   map[string]*pool.Pool

	current atomic.Pointer[string]
}

// NewActiveActive constructs the multiplexer and starts its health
// checker.
func NewActiveActive(o ActiveActiveOptions) (*ActiveActiveRouter, error) {
	o = o.withDefaults()
	names := make([]string, 0, len(o.Regions))
	byName := make(map[string]Region, len(o.Regions))
	detectors := make(map[string]*resilience.FailureDetector, len(o.Regions))
	for _, reg := range o.Regions {
		names = append(names, reg.Name)
		byName[reg.Name] = reg
		detectors[reg.Name] = resilience.NewFailureDetector(o.FailureDetector)
	}

	r := &ActiveActiveRouter{
		opt:       o,
		byName:    byName,
		rdv:       rendezvous.New(names, xxhash.Sum64String),
		detectors: detectors,
		pools:     make(map[string]*pool.Pool),
	}

	hco := o.HealthCheck
	hco.Probe = r.probe
	hco.OnChange = r.onHealthChange
	r.health = resilience.NewHealthChecker(hco)
	for _, reg := range o.Regions {
		r.health.Monitor(reg.Name)
	}
	r.health.ProbeOnce()
	r.health.Start()

	if len(names) > 0 {
		first := names[0]
		for _, n := range names {
			if r.health.Healthy(n) {
				first = n
				break
			}
		}
		r.current.Store(&first)
	}
	return r, nil
}

func (r *ActiveActiveRouter) probe(name string) bool {
	reg, ok := r.byName[name]
	if !ok {
		return false
	}
	o := r.opt.DialOptions
	o.Network = "tcp"
	o.Addr = reg.Addr
	o.ConnectTimeout = r.opt.AcquireTimeout
	c, err := conn.Dial(o)
	if err != nil {
		return false
	}
	defer c.Close()
	v, err := c.Do("PING")
	if err != nil {
		return false
	}
	return v.Kind == resp.KindSimpleString && v.Str == "PONG"
}

func (r *ActiveActiveRouter) onHealthChange(name string, healthy bool) {
	if healthy {
		return
	}
	if cur := r.current.Load(); cur != nil && *cur == name {
		r.failoverFrom(name)
	}
}

// failoverFrom picks another healthy region (the first one met in map
// iteration order, so which one is unspecified) and emits a Failover event.
func (r *ActiveActiveRouter) failoverFrom(failed string) {
	var next string
	for name := range r.byName {
		if name == failed || !r.health.Healthy(name) {
			continue
		}
		next = name
		break
	}
	if next == "" {
		return
	}
	r.current.Store(&next)
	if d, ok := r.detectors[failed]; ok {
		d.Reset()
	}
	r.opt.Logger.Warn("active-active failover", zap.String("from", failed), zap.String("to", next))
	if r.opt.Dispatcher != nil {
		r.opt.Dispatcher.Emit(events.Event{
			Kind:     events.Failover,
			FromAddr: failed,
			ToAddr:   next,
			Reason:   "failure detector triggered",
		})
	}
}

// regionFor returns the preferred healthy region for a routing key: the
// rendezvous winner if healthy, else the currently active region.
func (r *ActiveActiveRouter) regionFor(key string) Region {
	if key != "" {
		if name := r.rdv.Lookup(key); name != "" && r.health.Healthy(name) {
			return r.byName[name]
		}
	}
	if cur := r.current.Load(); cur != nil {
		return r.byName[*cur]
	}
	for _, reg := range r.opt.Regions {
		return reg
	}
	return Region{}
}

func (r *ActiveActiveRouter) poolFor(reg Region) *pool.Pool {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	if p, ok := r.pools[reg.Addr]; ok {
		return p
	}
	p := pool.New(pool.Options{
		Addr:           reg.Addr,
		Size:           r.opt.PoolSize,
		AcquireTimeout: r.opt.AcquireTimeout,
		Create: func() (*conn.Connection, error) {
			o := r.opt.DialOptions
			o.Network = "tcp"
			o.Addr = reg.Addr
			return conn.Dial(o)
		},
		Dispatcher: r.opt.Dispatcher,
		Logger:     r.opt.Logger,
	})
	r.pools[reg.Addr] = p
	return p
}

func (r *ActiveActiveRouter) Call(_ CallOptions, verb string, args ...any) (resp.Value, error) {
	key := extractKey(args)
	reg := r.regionFor(key)
	det := r.detectors[reg.Name]

	var result resp.Value
	err := r.poolFor(reg).With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
		v, derr := c.Do(verb, args...)
		if derr != nil {
			return derr
		}
		result = v
		return nil
	})
	if det != nil {
		if err != nil {
			det.RecordFailure()
			if det.Triggered() {
				r.failoverFrom(reg.Name)
			}
		} else {
			det.RecordSuccess()
		}
	}
	return result, err
}

func (r *ActiveActiveRouter) WithConn(_ CallOptions, key string, fn func(*conn.Connection) error) error {
	reg := r.regionFor(key)
	return r.poolFor(reg).With(r.opt.AcquireTimeout, fn)
}

func (r *ActiveActiveRouter) Close() error {
	r.health.Stop()
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
