package routing

import (
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/metrics"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resp"
)

// MaxRedirections bounds one command's cluster redirection loop —
// spec.md §4.5.3.
const MaxRedirections = 5

// ReadPreference controls which node in a slot's owner set serves read
// commands — spec.md §4.5.3 "read_from".
type ReadPreference int

const (
	PreferMaster ReadPreference = iota
	PreferReplica
	PreferReplicaPreferred // replica if one is available, else master
)

type slotRange struct {
	start, end int
	master     string
	replicas   []string
}

// SlotMap is the fixed 16384-entry slot ownership table from spec.md §3,
// represented as its sorted ranges (as CLUSTER SLOTS reports them) rather
// than a flat 16384-element array, to keep refreshes a cheap allocation
// instead of a full-array rewrite; lookups binary-search the ranges.
type SlotMap struct {
	ranges []slotRange
}

func (m *SlotMap) ownerOf(slot int) (master string, replicas []string, ok bool) {
	if m == nil {
		return "", nil, false
	}
	i := sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].end >= slot })
	if i >= len(m.ranges) || slot < m.ranges[i].start {
		return "", nil, false
	}
	r := m.ranges[i]
	return r.master, r.replicas, true
}

// parseClusterSlots decodes a CLUSTER SLOTS reply into a SlotMap, applying
// hostTranslation to every announced address — spec.md §4.5.3 "Slot map
// refresh".
func parseClusterSlots(v resp.Value, hostTranslation map[string]string) (*SlotMap, error) {
	if v.Kind != resp.KindArray {
		return nil, &resp.ProtocolError{Reason: "CLUSTER SLOTS did not return an array"}
	}
	m := &SlotMap{ranges: make([]slotRange, 0, len(v.Array))}
	for _, entry := range v.Array {
		if len(entry.Array) < 3 {
			continue
		}
		start := int(entry.Array[0].Int)
		end := int(entry.Array[1].Int)
		master := translateAddr(nodeAddr(entry.Array[2]), hostTranslation)
		var replicas []string
		for _, rep := range entry.Array[3:] {
			replicas = append(replicas, translateAddr(nodeAddr(rep), hostTranslation))
		}
		m.ranges = append(m.ranges, slotRange{start: start, end: end, master: master, replicas: replicas})
	}
	sort.Slice(m.ranges, func(i, j int) bool { return m.ranges[i].start < m.ranges[j].start })
	return m, nil
}

func nodeAddr(v resp.Value) string {
	if len(v.Array) < 2 {
		return ""
	}
	host := string(v.Array[0].Bulk)
	port := strconv.FormatInt(v.Array[1].Int, 10)
	return host + ":" + port
}

func translateAddr(addr string, table map[string]string) string {
	if t, ok := table[addr]; ok {
		return t
	}
	return addr
}

// ClusterOptions configures a ClusterRouter.
type ClusterOptions struct {
	Seeds           []string
	ReadFrom        ReadPreference
	RetryCount      int
	HostTranslation map[string]string
	DialOptions     conn.Options
	PoolSize        int
	AcquireTimeout  time.Duration
	Dispatcher      *events.Dispatcher
	Metrics         *metrics.Sink

	// Logger is threaded into every per-node connection and pool. A no-op
	// logger is substituted if nil.
	Logger *zap.Logger
}

func (o ClusterOptions) withDefaults() ClusterOptions {
	if o.RetryCount <= 0 {
		o.RetryCount = 3
	}
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

// ClusterRouter implements spec.md §4.5.3: slot-aware routing with
// MOVED/ASK/TRYAGAIN/CLUSTERDOWN/CROSSSLOT handling.
type ClusterRouter struct {
	opt ClusterOptions

	slots atomic.Pointer[SlotMap] // atomic pointer swap on full replacement

	poolsMu sync.Mutex
	pools   map[string]*pool.Pool
}

// NewCluster dials the seed list, performs an initial CLUSTER SLOTS
// refresh, and returns a ready router. At least one seed must be
// reachable, per spec.md §6 "Cluster seeds".
func NewCluster(o ClusterOptions) (*ClusterRouter, error) {
	o = o.withDefaults()
	r := &ClusterRouter{
		opt:   o,
		pools: make(map[string]*pool.Pool),
	}
	if err := r.refreshSlotsFrom(o.Seeds); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ClusterRouter) poolFor(addr string) *pool.Pool {
	r.poolsMu.Lock()
	defer r.poolsMu.Unlock()
	if p, ok := r.pools[addr]; ok {
		return p
	}
	opt := r.opt.DialOptions
	p := pool.New(pool.Options{
		Addr:           addr,
		Size:           r.opt.PoolSize,
		AcquireTimeout: r.opt.AcquireTimeout,
		Create: func() (*conn.Connection, error) {
			dialOpt := opt
			dialOpt.Network = "tcp"
			dialOpt.Addr = addr
			return conn.Dial(dialOpt)
		},
		Dispatcher: r.opt.Dispatcher,
		Metrics:    r.opt.Metrics,
		Logger:     r.opt.Logger,
	})
	r.pools[addr] = p
	return p
}

// refreshSlotsFrom tries CLUSTER SLOTS against each candidate address in
// turn, succeeding on the first reachable one.
func (r *ClusterRouter) refreshSlotsFrom(addrs []string) error {
	var lastErr error
	for _, addr := range addrs {
		p := r.poolFor(addr)
		var v resp.Value
		err := p.With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
			reply, doErr := c.Do("CLUSTER", "SLOTS")
			if doErr != nil {
				return doErr
			}
			v = reply
			return nil
		})
		if err != nil {
			lastErr = err
			continue
		}
		m, err := parseClusterSlots(v, r.opt.HostTranslation)
		if err != nil {
			lastErr = err
			continue
		}
		r.slots.Store(m)
		return nil
	}
	return lastErr
}

func (r *ClusterRouter) refreshSlots() error {
	r.poolsMu.Lock()
	addrs := make([]string, 0, len(r.pools))
	for a := range r.pools {
		addrs = append(addrs, a)
	}
	r.poolsMu.Unlock()
	addrs = append(addrs, r.opt.Seeds...)
	return r.refreshSlotsFrom(addrs)
}

// targetAddr picks the initial node for a slot given the command's
// read/write classification and ReadFrom preference.
func (r *ClusterRouter) targetAddr(slot int, readOnly bool) (string, bool) {
	master, replicas, ok := r.slots.Load().ownerOf(slot)
	if !ok {
		return "", false
	}
	if !readOnly || r.opt.ReadFrom == PreferMaster {
		return master, true
	}
	if len(replicas) == 0 {
		if r.opt.ReadFrom == PreferReplicaPreferred {
			return master, true
		}
		return master, true // no replica available; fall back either way
	}
	return replicas[rand.IntN(len(replicas))], true
}

// extractKey returns the routing key for a command: the first argument,
// by Redis convention for every single-key command spec.md's taxonomy
// covers. Multi-key commands are the caller's responsibility to route
// consistently (see VerifySameSlot).
func extractKey(args []any) string {
	if len(args) == 0 {
		return ""
	}
	switch k := args[0].(type) {
	case string:
		return k
	case []byte:
		return string(k)
	default:
		return ""
	}
}

// VerifySameSlot enforces spec.md §4.5.3's WATCH/MULTI/EXEC rule: every
// key touched by a transaction must map to the same slot.
func VerifySameSlot(keys []string) error {
	if len(keys) < 2 {
		return nil
	}
	first := KeySlot(keys[0])
	for _, k := range keys[1:] {
		if KeySlot(k) != first {
			return &CrossSlotError{Msg: "keys do not map to the same slot"}
		}
	}
	return nil
}

func (r *ClusterRouter) Call(opts CallOptions, verb string, args ...any) (resp.Value, error) {
	key := extractKey(args)
	slot := KeySlot(key)
	readOnly := opts.readOnly(verb)

	addr, ok := r.targetAddr(slot, readOnly)
	if !ok {
		if err := r.refreshSlots(); err != nil {
			return resp.Value{}, err
		}
		addr, ok = r.targetAddr(slot, readOnly)
		if !ok {
			return resp.Value{}, &ClusterDownError{Msg: "no owner known for slot"}
		}
	}

	asking := false
	for attempt := 1; attempt <= MaxRedirections; attempt++ {
		p := r.poolFor(addr)
		var result resp.Value
		err := p.With(r.opt.AcquireTimeout, func(c *conn.Connection) error {
			if asking {
				if _, aerr := c.Do("ASKING"); aerr != nil {
					return aerr
				}
			}
			v, derr := c.Do(verb, args...)
			if derr != nil {
				return derr
			}
			result = v
			return nil
		})
		if err != nil {
			if attempt >= r.opt.RetryCount {
				return resp.Value{}, err
			}
			time.Sleep(time.Duration(100*(1<<(attempt-1))) * time.Millisecond)
			r.refreshSlots()
			addr, ok = r.targetAddr(slot, readOnly)
			if !ok {
				return resp.Value{}, err
			}
			continue
		}

		errv, isErr := result.AsError()
		if !isErr {
			return result, nil
		}
		switch e := classifyServerError(errv).(type) {
		case *MovedError:
			r.refreshSlots()
			addr, asking = e.Addr, false
			continue
		case *AskError:
			addr, asking = e.Addr, true
			continue
		case *TryAgainError:
			time.Sleep(100 * time.Millisecond)
			continue
		case *ClusterDownError:
			return resp.Value{}, e
		case *CrossSlotError:
			return resp.Value{}, e
		default:
			return result, nil
		}
	}
	return resp.Value{}, &MaxRedirectionsError{Verb: verb}
}

func (r *ClusterRouter) WithConn(opts CallOptions, key string, fn func(*conn.Connection) error) error {
	slot := KeySlot(key)
	addr, ok := r.targetAddr(slot, false)
	if !ok {
		return &ClusterDownError{Msg: "no owner known for slot"}
	}
	return r.poolFor(addr).With(r.opt.AcquireTimeout, fn)
}

func (r *ClusterRouter) Close() error {
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
