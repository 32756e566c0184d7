package redcore

import (
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/l00pss/redcore/cache"
	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/metrics"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/routing"
)

// Topology selects which of spec.md §4.5's six router variants a Client
// is built over.
type Topology int

const (
	TopologyStandalone Topology = iota
	TopologySentinel
	TopologyCluster
	TopologyDNS
	TopologyDiscovery
	TopologyActiveActive
)

// Options configures a Client end to end. It follows the teacher's
// Server struct style (types.go): exported fields with doc comments,
// grouped by concern, sensible defaults applied by New rather than
// required of the caller. URL is the primary configuration surface for
// the common Standalone case (spec.md §6 "Connection URLs"); the
// topology-specific option structs below are used only when Topology
// selects them.
type Options struct {
	Topology Topology

	// URL, if set, is parsed via conn.ParseURL and takes precedence over
	// Dial for Standalone. Ignored for every other topology.
	URL  string
	Dial conn.Options

	PoolSize       int
	AcquireTimeout time.Duration
	Retry          resilience.RetryPolicy

	// EnableBreaker wraps every call in a CircuitBreaker, per spec.md
	// §4.6. Breaker tunes its thresholds.
	EnableBreaker bool
	Breaker       resilience.BreakerOptions

	// EnableCache turns on the client-side tracking cache from spec.md
	// §4.7. CacheTTL is the per-entry TTL passed to every populate (zero
	// means no expiry beyond invalidation/eviction). The Client does not
	// itself issue CLIENT TRACKING or drain invalidation pushes into the
	// cache, so entries leave it only by CacheTTL expiry or LRU eviction.
	EnableCache bool
	Cache       cache.Options
	CacheTTL    time.Duration

	Sentinel     routing.SentinelOptions
	Cluster      routing.ClusterOptions
	DNS          routing.DNSOptions
	Discovery    routing.DiscoveryOptions
	ActiveActive routing.ActiveActiveOptions

	// Logger is used for the ambient logging spec.md's AMBIENT STACK
	// calls for. A no-op logger is substituted if nil.
	Logger *zap.Logger

	// Dispatcher and Metrics are constructed with sane defaults if nil:
	// a StrategyLog dispatcher, and a Sink registered against Registry
	// (or unregistered if Registry is also nil).
	Dispatcher *events.Dispatcher
	Metrics    *metrics.Sink
	Registry   *prometheus.Registry
	Namespace  string

	// InstanceID tags CLIENT SETNAME-derived identifiers and lets the
	// tracking cache self-filter broadcast invalidations it caused,
	// mirroring dcache's self-id-tagged pubsub payloads. A random UUID
	// is generated if empty.
	InstanceID string
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = conn.DefaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Dispatcher == nil {
		o.Dispatcher = events.NewDispatcher(events.StrategyLog)
	}
	if o.Metrics == nil {
		o.Metrics = metrics.New(o.Namespace, o.Registry)
	}
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	return o
}
