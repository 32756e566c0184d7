/*
Package cache implements the server-assisted client-side tracking cache
from spec.md §4.7: CLIENT TRACKING enablement, an LRU store sharded by
xxhash for low-contention lookup, a secondary index for O(1)
invalidation, and a single-flight dedupe of concurrent misses (the
preferred resolution to §9's open question, recorded in SPEC_FULL.md).
Grounded on iiivansss84/dcache's Client — its freecache-backed in-memory
tier, singleflight.Group around reads, and self-id-tagged pubsub
invalidation broadcast are the shape this package generalizes from a
general-purpose read-through cache into a Redis tracking-push consumer.
*/
package cache

import (
	"strings"
	"sync"
)

// ComposeKey builds the cache key from spec.md §4.7 "Cache key
// composition": lowercased verb, the Redis key, and canonicalized
// sub-arguments, joined so that e.g. HGET key f1 and HGET key f2 produce
// distinct entries.
func ComposeKey(verb, redisKey string, subArgs ...string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(verb))
	b.WriteByte('|')
	b.WriteString(redisKey)
	for _, a := range subArgs {
		b.WriteByte('|')
		b.WriteString(strings.ToLower(a))
	}
	return b.String()
}

// secondaryIndex maps a Redis key to the set of cache keys derived from
// it, so an invalidation push naming one Redis key can drop every
// fingerprint (HGET key f1, HGET key f2, ...) in O(1) amortized lookups
// instead of scanning the whole store.
type secondaryIndex struct {
	mu   sync.Mutex
	byRK map[string]map[string]struct{}
}

func newSecondaryIndex() *secondaryIndex {
	return &secondaryIndex{byRK: make(map[string]map[string]struct{})}
}

func (idx *secondaryIndex) add(redisKey, cacheKey string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.byRK[redisKey]
	if !ok {
		set = make(map[string]struct{})
		idx.byRK[redisKey] = set
	}
	set[cacheKey] = struct{}{}
}

// take removes and returns every cache key registered for redisKey.
func (idx *secondaryIndex) take(redisKey string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	set, ok := idx.byRK[redisKey]
	if !ok {
		return nil
	}
	delete(idx.byRK, redisKey)
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func (idx *secondaryIndex) clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byRK = make(map[string]map[string]struct{})
}
