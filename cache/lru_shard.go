package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/l00pss/redcore/resp"
)

const defaultShardCount = 16

type cachedEntry struct {
	value     resp.Value
	expiresAt time.Time // zero means no TTL
}

type shard struct {
	mu  sync.Mutex
	lru *lru.Cache[string, cachedEntry]
}

// ShardedStore is the LRU recency store backing the tracking cache,
// striped over xxhash-selected shards so lookup/invalidate contention
// doesn't serialize through one global mutex — spec.md §3 "Cache entry"
// and the DOMAIN STACK's xxhash entry.
type ShardedStore struct {
	shards     []*shard
	shardCount int
	onEvict    func(key string)
}

// NewShardedStore builds a store with maxEntries spread evenly across
// shardCount shards (integer division, at least 1 per shard). onEvict, if
// non-nil, is invoked whenever golang-lru evicts an entry by recency,
// reported to instrumentation as a cache eviction.
func NewShardedStore(maxEntries int, onEvict func(key string)) (*ShardedStore, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	s := &ShardedStore{shardCount: defaultShardCount, onEvict: onEvict}
	perShard := maxEntries / s.shardCount
	if perShard < 1 {
		perShard = 1
	}
	s.shards = make([]*shard, s.shardCount)
	for i := range s.shards {
		onEvicted := func(key string, _ cachedEntry) {
			if s.onEvict != nil {
				s.onEvict(key)
			}
		}
		l, err := lru.NewWithEvict[string, cachedEntry](perShard, onEvicted)
		if err != nil {
			return nil, err
		}
		s.shards[i] = &shard{lru: l}
	}
	return s, nil
}

func (s *ShardedStore) shardFor(key string) *shard {
	return s.shards[xxhash.Sum64String(key)%uint64(s.shardCount)]
}

// Get returns the cached value for key if present and not expired,
// touching recency on hit.
func (s *ShardedStore) Get(key string) (resp.Value, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lru.Get(key)
	if !ok {
		return resp.Value{}, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		sh.lru.Remove(key)
		return resp.Value{}, false
	}
	return e.value, true
}

// Set stores value under key with an optional absolute TTL (zero means
// no expiry), evicting the least-recently-touched entry in the owning
// shard if it's at capacity — spec.md §4.7 "Eviction".
func (s *ShardedStore) Set(key string, value resp.Value, ttl time.Duration) {
	sh := s.shardFor(key)
	e := cachedEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	sh.mu.Lock()
	sh.lru.Add(key, e)
	sh.mu.Unlock()
}

// Delete removes key if present.
func (s *ShardedStore) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.lru.Remove(key)
	sh.mu.Unlock()
}

// Clear empties every shard — used on a null-key-list invalidation push
// (spec.md §4.7 "clear the cache if the key list is null").
func (s *ShardedStore) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.lru.Purge()
		sh.mu.Unlock()
	}
}

// Len returns the total number of entries across all shards.
func (s *ShardedStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += sh.lru.Len()
		sh.mu.Unlock()
	}
	return n
}
