package cache

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l00pss/redcore/conn"
	"github.com/l00pss/redcore/events"
	"github.com/l00pss/redcore/metrics"
	"github.com/l00pss/redcore/resp"
)

// Mode is the CLIENT TRACKING enablement mode — spec.md §4.7 "Operation
// modes".
type Mode int

const (
	// ModeDefault tracks every read key the client touches.
	ModeDefault Mode = iota
	// ModeOptIn requires CLIENT CACHING YES before a command to mark it
	// for tracking.
	ModeOptIn
	// ModeOptOut is the symmetric inverse of OptIn.
	ModeOptOut
	// ModeBCast broadcasts invalidations for registered prefixes instead
	// of per-key tracking.
	ModeBCast
)

type scopeOverrideKey struct{}

// Cached returns a context that forces caching on for cacheable commands
// within its scope, overriding Mode — spec.md §4.7 "Scope blocks".
func Cached(ctx context.Context) context.Context {
	forced := true
	return context.WithValue(ctx, scopeOverrideKey{}, &forced)
}

// Uncached returns a context that forces caching off within its scope.
func Uncached(ctx context.Context) context.Context {
	forced := false
	return context.WithValue(ctx, scopeOverrideKey{}, &forced)
}

func scopeOverride(ctx context.Context) (bool, bool) {
	v, ok := ctx.Value(scopeOverrideKey{}).(*bool)
	if !ok {
		return false, false
	}
	return *v, true
}

// Options configures a TrackingCache.
type Options struct {
	Mode       Mode
	MaxEntries int
	Dispatcher *events.Dispatcher
	Metrics    *metrics.Sink

	// InstanceID identifies the owning client. When set, Enable adds
	// NOLOOP to CLIENT TRACKING ON so the server never pushes an
	// invalidation for a key this same connection just modified —
	// the real-protocol equivalent of tagging pubsub payloads with a
	// self id and dropping a message that echoes your own tag.
	InstanceID string
}

// TrackingCache implements spec.md §4.7 end to end: lookup/populate
// around cacheable commands, a dedicated invalidation consumer draining
// a connection's push queue, and LRU+TTL eviction.
type TrackingCache struct {
	opt   Options
	store *ShardedStore
	index *secondaryIndex
	group singleflight.Group
}

// New constructs a TrackingCache. Call Enable on each connection that
// should push invalidations, and ConsumeInvalidations periodically (or
// in a dedicated goroutine) to drain them.
func New(o Options) (*TrackingCache, error) {
	tc := &TrackingCache{opt: o, index: newSecondaryIndex()}
	store, err := NewShardedStore(o.MaxEntries, func(key string) {
		if o.Metrics != nil {
			o.Metrics.CacheEvictions.Inc()
		}
	})
	if err != nil {
		return nil, err
	}
	tc.store = store
	return tc, nil
}

// Enable issues CLIENT TRACKING ON with the mode flag and optional BCAST
// prefixes — spec.md §4.7 "Enablement".
func (tc *TrackingCache) Enable(c *conn.Connection, prefixes ...string) error {
	args := []any{"TRACKING", "ON"}
	switch tc.opt.Mode {
	case ModeOptIn:
		args = append(args, "OPTIN")
	case ModeOptOut:
		args = append(args, "OPTOUT")
	case ModeBCast:
		args = append(args, "BCAST")
		for _, p := range prefixes {
			args = append(args, "PREFIX", p)
		}
	}
	if tc.opt.InstanceID != "" {
		args = append(args, "NOLOOP")
	}
	_, err := c.Do("CLIENT", args...)
	return err
}

// shouldCache decides whether a command's result should be looked up in
// / stored to the cache: non-read-only verbs never are; otherwise
// scope-block overrides apply first, then the enablement mode.
func (tc *TrackingCache) shouldCache(ctx context.Context, verb string, optInMarked bool) bool {
	if !resp.IsReadOnly(verb) {
		return false
	}
	if forced, ok := scopeOverride(ctx); ok {
		return forced
	}
	switch tc.opt.Mode {
	case ModeOptIn:
		return optInMarked
	case ModeOptOut:
		return !optInMarked
	default: // ModeDefault, ModeBCast
		return true
	}
}

// Get implements spec.md §4.7's lookup contract: on a cacheable command,
// compute the cache key and look it up; on a miss, concurrent callers for
// the same key are collapsed into one fetch via single-flight (the
// preferred resolution to the spec's IN_PROGRESS open question) before
// the result is stored. hit reports whether the value came from cache.
func (tc *TrackingCache) Get(
	ctx context.Context,
	verb, redisKey string,
	subArgs []string,
	optInMarked bool,
	ttl time.Duration,
	fetch func() (resp.Value, error),
) (value resp.Value, hit bool, err error) {
	if !tc.shouldCache(ctx, verb, optInMarked) {
		v, err := fetch()
		return v, false, err
	}

	cacheKey := ComposeKey(verb, redisKey, subArgs...)
	if v, ok := tc.store.Get(cacheKey); ok {
		tc.recordHit(verb)
		return v, true, nil
	}
	tc.recordMiss(verb)

	raw, err, _ := tc.group.Do(cacheKey, func() (any, error) {
		return fetch()
	})
	if err != nil {
		return resp.Value{}, false, err
	}
	v := raw.(resp.Value)
	tc.store.Set(cacheKey, v, ttl)
	tc.index.add(redisKey, cacheKey)
	return v, false, nil
}

func (tc *TrackingCache) recordHit(verb string) {
	if tc.opt.Metrics != nil {
		tc.opt.Metrics.CacheHits.WithLabelValues(strings.ToLower(verb)).Inc()
	}
}

func (tc *TrackingCache) recordMiss(verb string) {
	if tc.opt.Metrics != nil {
		tc.opt.Metrics.CacheMisses.WithLabelValues(strings.ToLower(verb)).Inc()
	}
}

// invalidate drops every cache key registered against redisKey via the
// secondary index.
func (tc *TrackingCache) invalidate(redisKey string) {
	for _, ck := range tc.index.take(redisKey) {
		tc.store.Delete(ck)
	}
	if tc.opt.Metrics != nil {
		tc.opt.Metrics.CacheInvalidated.Inc()
	}
}

// ConsumeInvalidations drains c's push queue and applies every
// `["invalidate", [key,...]|null]` message found — spec.md §4.7
// "Invalidation path". Non-invalidation push frames (pub/sub) are left
// untouched in the returned slice for the caller to dispatch elsewhere.
func (tc *TrackingCache) ConsumeInvalidations(c *conn.Connection) (other []resp.Value) {
	for _, push := range c.DrainPushQueue() {
		if !isInvalidatePush(push) {
			other = append(other, push)
			continue
		}
		keys := push.Array[1]
		if keys.IsNull() {
			tc.store.Clear()
			tc.index.clear()
			if tc.opt.Metrics != nil {
				tc.opt.Metrics.CacheInvalidated.Inc()
			}
			continue
		}
		for _, k := range keys.Array {
			tc.invalidate(string(k.Bulk))
		}
	}
	return other
}

func isInvalidatePush(v resp.Value) bool {
	if v.Kind != resp.KindPush || len(v.Array) < 2 {
		return false
	}
	return v.Array[0].Kind == resp.KindBulkString && string(v.Array[0].Bulk) == "invalidate"
}

// Len reports the current cache size, for tests and diagnostics.
func (tc *TrackingCache) Len() int { return tc.store.Len() }
