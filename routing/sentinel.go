package routing

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/resp"
)

// SentinelRole is the role a SentinelRouter discovers and verifies —
// spec.md §4.5.2.
type SentinelRole int

const (
	RoleMaster SentinelRole = iota
	RoleReplica
)

// SentinelOptions configures a SentinelRouter.
type SentinelOptions struct {
	Sentinels         []string
	ServiceName       string
	Role              SentinelRole
	MinOtherSentinels int
	SentinelPassword  string
	DialOptions       conn.Options
	PoolSize          int
	AcquireTimeout    time.Duration
	Dispatcher        *events.Dispatcher

	// Logger receives Warn lines on role-verification failure and
	// READONLY-triggered rediscovery. A no-op logger is substituted if nil.
	Logger *zap.Logger
}

func (o SentinelOptions) withDefaults() SentinelOptions {
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

// SentinelRouter implements spec.md §4.5.2: master/replica discovery via
// a sentinel quorum, with ROLE verification after connecting and
// READONLY-triggered rediscovery.
type SentinelRouter struct {
	opt SentinelOptions

	mu          sync.Mutex
	sentinels   []string // promoted-to-head on successful discovery
	replicaNext atomic.Uint64

	dataPool atomic.Pointer[pool.Pool]
	retry    resilience.RetryPolicy
}

// NewSentinel performs an initial discovery and returns a ready router.
func NewSentinel(o SentinelOptions) (*SentinelRouter, error) {
	o = o.withDefaults()
	r := &SentinelRouter{
		opt:       o,
		sentinels: append([]string(nil), o.Sentinels...),
	}
	if err := r.rediscover(); err != nil {
		return nil, err
	}
	return r, nil
}

// shortLivedSentinelConn dials a sentinel, optionally authenticating —
// spec.md §4.5.2 step 1.
func (r *SentinelRouter) shortLivedSentinelConn(addr string) (*conn.Connection, error) {
	o := r.opt.DialOptions
	o.Network = "tcp"
	o.Addr = addr
	o.Password = r.opt.SentinelPassword
	return conn.Dial(o)
}

type sentinelMasterEntry struct {
	name             string
	flags            string
	roleReported     string
	numOtherSentinel int
	host, port       string
}

func parseSentinelMasters(v resp.Value) []sentinelMasterEntry {
	var out []sentinelMasterEntry
	for _, entry := range v.Array {
		fields := map[string]string{}
		for i := 0; i+1 < len(entry.Array); i += 2 {
			fields[string(entry.Array[i].Bulk)] = string(entry.Array[i+1].Bulk)
		}
		n, _ := strconv.Atoi(fields["num-other-sentinels"])
		out = append(out, sentinelMasterEntry{
			name:             fields["name"],
			flags:            fields["flags"],
			roleReported:     fields["role-reported"],
			numOtherSentinel: n,
			host:             fields["ip"],
			port:             fields["port"],
		})
	}
	return out
}

// discoverMaster implements spec.md §4.5.2's three-step discovery
// algorithm for the master role.
func (r *SentinelRouter) discoverMaster() (string, error) {
	var lastErr error
	r.mu.Lock()
	sentinels := append([]string(nil), r.sentinels...)
	r.mu.Unlock()

	for i, addr := range sentinels {
		c, err := r.shortLivedSentinelConn(addr)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := c.Do("SENTINEL", "MASTERS")
		if err != nil {
			c.Close()
			lastErr = err
			continue
		}
		var found *sentinelMasterEntry
		for _, e := range parseSentinelMasters(v) {
			if e.name != r.opt.ServiceName {
				continue
			}
			e := e
			found = &e
			break
		}
		if found == nil ||
			strings.Contains(found.flags, "s_down") || strings.Contains(found.flags, "o_down") ||
			found.roleReported != "master" ||
			found.numOtherSentinel < r.opt.MinOtherSentinels {
			c.Close()
			lastErr = &FailoverError{Msg: "sentinel " + addr + " could not confirm a healthy master"}
			continue
		}

		// Refresh the sentinel list via SENTINEL SENTINELS <service>, and
		// promote this sentinel to the head of the list.
		r.refreshSentinelList(c, addr, i)
		c.Close()
		return found.host + ":" + found.port, nil
	}
	return "", lastErr
}

func (r *SentinelRouter) refreshSentinelList(c *conn.Connection, successfulAddr string, successfulIdx int) {
	v, err := c.Do("SENTINEL", "SENTINELS", r.opt.ServiceName)
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		known := map[string]bool{successfulAddr: true}
		list := []string{successfulAddr}
		for _, entry := range v.Array {
			fields := map[string]string{}
			for i := 0; i+1 < len(entry.Array); i += 2 {
				fields[string(entry.Array[i].Bulk)] = string(entry.Array[i+1].Bulk)
			}
			addr := fields["ip"] + ":" + fields["port"]
			if addr != ":" && !known[addr] {
				known[addr] = true
				list = append(list, addr)
			}
		}
		r.sentinels = list
		return
	}
	// Fall back to simply promoting the successful sentinel to the head.
	if successfulIdx > 0 && successfulIdx < len(r.sentinels) {
		s := r.sentinels
		s[0], s[successfulIdx] = s[successfulIdx], s[0]
	}
}

func (r *SentinelRouter) discoverReplica() (string, error) {
	var lastErr error
	r.mu.Lock()
	sentinels := append([]string(nil), r.sentinels...)
	r.mu.Unlock()

	for _, addr := range sentinels {
		c, err := r.shortLivedSentinelConn(addr)
		if err != nil {
			lastErr = err
			continue
		}
		v, err := c.Do("SENTINEL", "REPLICAS", r.opt.ServiceName)
		c.Close()
		if err != nil {
			lastErr = err
			continue
		}
		var candidates []sentinelMasterEntry
		for _, e := range parseSentinelMasters(v) {
			if strings.Contains(e.flags, "s_down") || strings.Contains(e.flags, "o_down") ||
				strings.Contains(e.flags, "disconnected") {
				continue
			}
			candidates = append(candidates, e)
		}
		if len(candidates) == 0 {
			lastErr = &FailoverError{Msg: "no healthy replicas reported"}
			continue
		}
		idx := int(r.replicaNext.Add(1)-1) % len(candidates)
		chosen := candidates[idx]
		return chosen.host + ":" + chosen.port, nil
	}
	return "", lastErr
}

// verifyRole connects to addr and issues ROLE, failing with FailoverError
// if the reported role disagrees with what was requested — spec.md
// §4.5.2 "Role verification".
func (r *SentinelRouter) verifyRole(addr string) (*conn.Connection, error) {
	o := r.opt.DialOptions
	o.Network = "tcp"
	o.Addr = addr
	c, err := conn.Dial(o)
	if err != nil {
		return nil, err
	}
	v, err := c.Do("ROLE")
	if err != nil {
		c.Close()
		return nil, err
	}
	if len(v.Array) == 0 {
		c.Close()
		return nil, &FailoverError{Msg: "ROLE reply malformed"}
	}
	reported := string(v.Array[0].Bulk)
	want := "master"
	if r.opt.Role == RoleReplica {
		want = "slave"
	}
	if reported != want {
		c.Close()
		r.opt.Logger.Warn("sentinel role verification failed",
			zap.String("addr", addr), zap.String("reported", reported), zap.String("want", want))
		time.Sleep(250 * time.Millisecond)
		return nil, &FailoverError{Msg: "ROLE reported " + reported + ", wanted " + want}
	}
	return c, nil
}

// rediscover runs discovery + role verification and swaps in a fresh
// pool (PoolSize connections) for the data endpoint.
func (r *SentinelRouter) rediscover() error {
	var addr string
	var err error
	if r.opt.Role == RoleReplica {
		addr, err = r.discoverReplica()
	} else {
		addr, err = r.discoverMaster()
	}
	if err != nil {
		return err
	}

	verifyConn, err := r.verifyRole(addr)
	if err != nil {
		return err
	}
	verifyConn.Close() // verification only; the pool dials its own

	if old := r.dataPool.Load(); old != nil {
		old.Close()
	}
	np := pool.New(pool.Options{
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
	r.dataPool.Store(np)
	return nil
}

func (r *SentinelRouter) Call(opts CallOptions, verb string, args ...any) (resp.Value, error) {
	var result resp.Value
	err := r.retry.Do(func(attempt int) error {
		p := r.dataPool.Load()
		if p == nil {
			if rerr := r.rediscover(); rerr != nil {
				return rerr
			}
			p = r.dataPool.Load()
		}
		return p.With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
			v, derr := c.Do(verb, args...)
			if derr != nil {
				return derr
			}
			if errv, isErr := v.AsError(); isErr && isReadOnlyReply(errv) {
				// Endpoint was demoted: reset state and rediscover.
				r.opt.Logger.Warn("sentinel endpoint reports READONLY, rediscovering", zap.String("message", errv.Message))
				r.rediscover()
				return &ReadOnlyError{Msg: errv.Message}
			}
			result = v
			return nil
		})
	})
	return result, err
}

func (r *SentinelRouter) WithConn(_ CallOptions, _ string, fn func(*conn.Connection) error) error {
	p := r.dataPool.Load()
	if p == nil {
		if err := r.rediscover(); err != nil {
			return err
		}
		p = r.dataPool.Load()
	}
	return p.With(r.opt.AcquireTimeout, fn)
}

func (r *SentinelRouter) Close() error {
	if p := r.dataPool.Load(); p != nil {
		return p.Close()
	}
	return nil
}
