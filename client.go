/*
Package redcore is the module root: it assembles the layered packages
(resp, conn, pool, routing, resilience, cache, events, metrics) behind one
facade, the way the teacher's Server (types.go/server.go) assembles
listener, dispatch table, and middleware chain behind one entry point.
Where the teacher's Server accepts connections and answers commands,
Client dials out and issues them — same shape, opposite direction.
*/
package redcore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/l00pss/redcore/cache"
	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/metrics"
	"github.com/l00pss/redcore/pool"
	"github.com/l00pss/redcore/resilience"
	"github.com/l00pss/redcore/resp"
	"github.com/l00pss/redcore/routing"
)

// ErrClosed rejects Client use after Close.
var ErrClosed = errors.New("redcore: client closed")

// Client is the single entry point applications use: it owns a Router
// for the configured topology, an optional circuit breaker wrapping every
// call, an optional tracking cache, and the shared dispatcher/metrics
// sink every layer beneath it reports through.
type Client struct {
	opt     Options
	router  routing.Router
	breaker *resilience.CircuitBreaker
	cache   *cache.TrackingCache

	logger     *zap.Logger
	dispatcher *events.Dispatcher
	metrics    *metrics.Sink

	closed atomic.Bool
}

// New builds a Client for the configured Topology, applying Options'
// defaults (§withDefaults) first.
func New(o Options) (*Client, error) {
	o = o.withDefaults()

	cl := &Client{opt: o, dispatcher: o.Dispatcher, metrics: o.Metrics, logger: o.Logger}

	if cl.dispatcher.OnHandlerPanic == nil {
		cl.dispatcher.OnHandlerPanic = func(recovered any) {
			cl.logger.Error("redcore: event handler panicked", zap.Any("recovered", recovered))
		}
	}

	router, err := buildRouter(o)
	if err != nil {
		return nil, err
	}
	cl.router = router

	if o.EnableBreaker {
		bo := o.Breaker
		if bo.Dispatcher == nil {
			bo.Dispatcher = o.Dispatcher
		}
		if bo.Name == "" {
			bo.Name = topologyName(o.Topology)
		}
		if bo.Logger == nil {
			bo.Logger = o.Logger
		}
		cl.breaker = resilience.NewCircuitBreaker(bo)
	}

	if o.EnableCache {
		co := o.Cache
		if co.Dispatcher == nil {
			co.Dispatcher = o.Dispatcher
		}
		if co.Metrics == nil {
			co.Metrics = o.Metrics
		}
		if co.InstanceID == "" {
			co.InstanceID = o.InstanceID
		}
		tc, err := cache.New(co)
		if err != nil {
			return nil, fmt.Errorf("redcore: building tracking cache: %w", err)
		}
		cl.cache = tc
	}

	return cl, nil
}

func buildRouter(o Options) (routing.Router, error) {
	switch o.Topology {
	case TopologyStandalone:
		return buildStandalone(o)
	case TopologySentinel:
		so := o.Sentinel
		so.PoolSize = orInt(so.PoolSize, o.PoolSize)
		so.AcquireTimeout = orDuration(so.AcquireTimeout, o.AcquireTimeout)
		if so.Dispatcher == nil {
			so.Dispatcher = o.Dispatcher
		}
		if so.Logger == nil {
			so.Logger = o.Logger
		}
		if so.DialOptions.ClientName == "" {
			so.DialOptions.ClientName = o.InstanceID
		}
		return routing.NewSentinel(so)
	case TopologyCluster:
		co := o.Cluster
		co.PoolSize = orInt(co.PoolSize, o.PoolSize)
		co.AcquireTimeout = orDuration(co.AcquireTimeout, o.AcquireTimeout)
		if co.Dispatcher == nil {
			co.Dispatcher = o.Dispatcher
		}
		if co.Metrics == nil {
			co.Metrics = o.Metrics
		}
		if co.Logger == nil {
			co.Logger = o.Logger
		}
		if co.DialOptions.ClientName == "" {
			co.DialOptions.ClientName = o.InstanceID
		}
		return routing.NewCluster(co)
	case TopologyDNS:
		do := o.DNS
		do.PoolSize = orInt(do.PoolSize, o.PoolSize)
		do.AcquireTimeout = orDuration(do.AcquireTimeout, o.AcquireTimeout)
		if do.Dispatcher == nil {
			do.Dispatcher = o.Dispatcher
		}
		if do.Logger == nil {
			do.Logger = o.Logger
		}
		if do.DialOptions.ClientName == "" {
			do.DialOptions.ClientName = o.InstanceID
		}
		return routing.NewDNS(do)
	case TopologyDiscovery:
		do := o.Discovery
		do.PoolSize = orInt(do.PoolSize, o.PoolSize)
		do.AcquireTimeout = orDuration(do.AcquireTimeout, o.AcquireTimeout)
		if do.Dispatcher == nil {
			do.Dispatcher = o.Dispatcher
		}
		if do.Logger == nil {
			do.Logger = o.Logger
		}
		if do.DialOptions.ClientName == "" {
			do.DialOptions.ClientName = o.InstanceID
		}
		return routing.NewDiscovery(do)
	case TopologyActiveActive:
		ao := o.ActiveActive
		ao.PoolSize = orInt(ao.PoolSize, o.PoolSize)
		ao.AcquireTimeout = orDuration(ao.AcquireTimeout, o.AcquireTimeout)
		if ao.Dispatcher == nil {
			ao.Dispatcher = o.Dispatcher
		}
		if ao.Logger == nil {
			ao.Logger = o.Logger
		}
		if ao.DialOptions.ClientName == "" {
			ao.DialOptions.ClientName = o.InstanceID
		}
		return routing.NewActiveActive(ao)
	default:
		return nil, fmt.Errorf("redcore: unknown topology %d", o.Topology)
	}
}

func buildStandalone(o Options) (routing.Router, error) {
	dialOpts := o.Dial
	if o.URL != "" {
		parsed, err := conn.ParseURL(o.URL)
		if err != nil {
			return nil, err
		}
		dialOpts = parsed
	}
	dialOpts.Logger = o.Logger
	if dialOpts.ClientName == "" {
		dialOpts.ClientName = o.InstanceID
	}

	retry := o.Retry
	if retry.Logger == nil {
		retry.Logger = o.Logger
	}

	p := pool.New(pool.Options{
		Addr:           dialOpts.Addr,
		Size:           o.PoolSize,
		AcquireTimeout: o.AcquireTimeout,
		Create:         func() (*conn.Connection, error) { return conn.Dial(dialOpts) },
		Dispatcher:     o.Dispatcher,
		Metrics:        o.Metrics,
		Logger:         o.Logger,
	})
	return routing.NewStandalone(p, retry), nil
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orDuration(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}

func topologyName(t Topology) string {
	switch t {
	case TopologyStandalone:
		return "standalone"
	case TopologySentinel:
		return "sentinel"
	case TopologyCluster:
		return "cluster"
	case TopologyDNS:
		return "dns"
	case TopologyDiscovery:
		return "discovery"
	case TopologyActiveActive:
		return "activeactive"
	default:
		return "unknown"
	}
}

// Call executes one command through the configured topology, applying the
// circuit breaker (if enabled) and the tracking cache (if enabled and the
// verb is cacheable) around the router call.
func (cl *Client) Call(ctx context.Context, verb string, args ...any) (resp.Value, error) {
	if cl.closed.Load() {
		return resp.Value{}, ErrClosed
	}

	exec := func() (resp.Value, error) {
		v, err := cl.routerCall(verb, args...)
		if e, ok := v.AsError(); ok && err == nil {
			return v, &CommandError{Kind: e.Kind, Message: e.Message}
		}
		return v, err
	}

	if cl.cache != nil && len(args) >= 1 {
		redisKey := fmt.Sprint(args[0])
		subArgs := stringifyArgs(args[1:])
		v, _, err := cl.cache.Get(ctx, verb, redisKey, subArgs, false, cl.opt.CacheTTL, exec)
		return v, classify(cl.label(), cl.breakerName(), err)
	}

	v, err := exec()
	return v, classify(cl.label(), cl.breakerName(), err)
}

func (cl *Client) routerCall(verb string, args ...any) (resp.Value, error) {
	if cl.breaker == nil {
		return cl.router.Call(routing.CallOptions{}, verb, args...)
	}
	var v resp.Value
	err := cl.breaker.Execute(func() error {
		var callErr error
		v, callErr = cl.router.Call(routing.CallOptions{}, verb, args...)
		return callErr
	})
	return v, err
}

// Pipeline runs cmds on one connection chosen by the router, returning
// replies in order — spec.md §4.3 "Pipeline".
func (cl *Client) Pipeline(cmds []conn.QueuedCommand) (conn.PipelineResult, error) {
	if cl.closed.Load() {
		return conn.PipelineResult{}, ErrClosed
	}
	key := pipelineKey(cmds)
	var result conn.PipelineResult
	err := cl.router.WithConn(routing.CallOptions{}, key, func(c *conn.Connection) error {
		r, err := c.Pipeline(cmds)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, classify(cl.label(), cl.breakerName(), err)
}

// Transaction runs WATCH(keys)/MULTI/cmds/EXEC on one shared connection —
// spec.md §4.3 "Transaction". keys may be empty to skip WATCH.
func (cl *Client) Transaction(keys []string, cmds []conn.QueuedCommand) (conn.TransactionResult, error) {
	if cl.closed.Load() {
		return conn.TransactionResult{}, ErrClosed
	}
	if cl.opt.Topology == TopologyCluster {
		if err := routing.VerifySameSlot(keys); err != nil {
			return conn.TransactionResult{}, err
		}
	}
	routeKey := ""
	if len(keys) > 0 {
		routeKey = keys[0]
	}
	var result conn.TransactionResult
	err := cl.router.WithConn(routing.CallOptions{}, routeKey, func(c *conn.Connection) error {
		if len(keys) > 0 {
			if err := c.Watch(keys...); err != nil {
				return err
			}
		}
		r, err := c.Exec(cmds)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, classify(cl.label(), cl.breakerName(), err)
}

// Close releases every pooled connection. In-flight With/Call invocations
// already past the router's acquire step finish naturally — Close only
// stops new ones from starting (the teacher's graceful-shutdown pattern
// generalized from "stop accepting connections" to "stop accepting new
// checkouts", per SPEC_FULL.md's supplemented feature 2).
func (cl *Client) Close() error {
	if cl.closed.Load() {
		return nil
	}
	cl.closed.Store(true)
	return cl.router.Close()
}

func (cl *Client) label() string { return topologyName(cl.opt.Topology) }

func (cl *Client) breakerName() string {
	if cl.breaker == nil {
		return ""
	}
	return cl.opt.Breaker.Name
}

func stringifyArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = fmt.Sprint(a)
	}
	return out
}

// pipelineKey picks a routing key for cluster-aware pipelines: the first
// argument of the first command that carries one, best-effort. Standalone
// and most topologies ignore it.
func pipelineKey(cmds []conn.QueuedCommand) string {
	for _, c := range cmds {
		if len(c.Args) > 0 {
			return fmt.Sprint(c.Args[0])
		}
	}
	return ""
}
