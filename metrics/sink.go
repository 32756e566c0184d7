/*
Package metrics provides the instrumentation sink for pool checkout/release
timings, cache hit/miss counts, circuit-breaker transitions, and cluster
redirection counts (spec.md §4.4, §4.6, §4.7). It follows the
prometheus/client_golang MetricSet pattern from the retrieved pack's
iiivansss84/dcache and alim08/fin_line redisclient — a small struct of
Counter/Histogram vectors constructed once and registered against a
caller-supplied *prometheus.Registry (never the global default registry,
so multiple Clients in one process never collide on metric names).
*/
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink bundles every metric redcore emits. Pass a namespace so multiple
// instances in one process (or one test binary registering more than
// once) don't collide.
type Sink struct {
	CheckoutDuration *prometheus.HistogramVec
	CommandDuration  *prometheus.HistogramVec
	PoolExhausted    *prometheus.CounterVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	CacheInvalidated prometheus.Counter
	CacheEvictions   prometheus.Counter
	BreakerTrips     *prometheus.CounterVec
	Redirections     *prometheus.CounterVec
	Failovers        prometheus.Counter
}

// New constructs a Sink and registers it against reg. If reg is nil, the
// metrics are constructed but never registered — useful for tests that
// don't care about scraping.
func New(namespace string, reg *prometheus.Registry) *Sink {
	s := &Sink{
		CheckoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pool_checkout_seconds",
			Help:    "Time spent acquiring a connection from the pool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"addr"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "command_duration_seconds",
			Help:    "Command round-trip latency by verb.",
			Buckets: prometheus.DefBuckets,
		}, []string{"verb", "status"}),
		PoolExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pool_exhausted_total",
			Help: "Count of acquire timeouts.",
		}, []string{"addr"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_hits_total",
			Help: "Tracking cache hits.",
		}, []string{"verb"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_misses_total",
			Help: "Tracking cache misses.",
		}, []string{"verb"}),
		CacheInvalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_invalidations_total",
			Help: "Entries removed by server-pushed invalidation messages.",
		}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_evictions_total",
			Help: "Entries dropped by LRU/TTL eviction.",
		}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"from", "to"}),
		Redirections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cluster_redirections_total",
			Help: "MOVED/ASK/TRYAGAIN redirections handled.",
		}, []string{"kind"}),
		Failovers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "failovers_total",
			Help: "Active-active / Sentinel failovers performed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			s.CheckoutDuration, s.CommandDuration, s.PoolExhausted,
			s.CacheHits, s.CacheMisses, s.CacheInvalidated, s.CacheEvictions,
			s.BreakerTrips, s.Redirections, s.Failovers,
		)
	}
	return s
}

// ObserveCheckout records how long a pool acquire took.
func (s *Sink) ObserveCheckout(addr string, d time.Duration) {
	if s == nil {
		return
	}
	s.CheckoutDuration.WithLabelValues(addr).Observe(d.Seconds())
}

// ObserveCommand records a command's round-trip latency and status.
func (s *Sink) ObserveCommand(verb string, d time.Duration, err error) {
	if s == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.CommandDuration.WithLabelValues(verb, status).Observe(d.Seconds())
}
