// Package memindex implements the shared in-memory indexes used by the
// admission pipeline: the dedup set, the two rate limiters, and the
// geo/time cluster store. The dedup set and the rate limiters are sharded
// concurrent maps, so unrelated keys never contend on the same lock. The
// cluster store is not sharded: every lookup or insert of a (cell, bucket)
// entry takes the store's single map lock, and only the per-entry update
// runs under the entry's own lock.
package memindex

import (
	"hash/fnv"
	"sync"
)

const shardCount = 64

// shardedMap is a fixed-size array of mutex-guarded maps, keyed by string.
// Keys are encoded into strings by the caller (e.g. a geo cell id as 8
// little-endian bytes).
type shardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

func newShardedMap[V any]() *shardedMap[V] {
	var sm shardedMap[V]
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return &sm
}

func (sm *shardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &sm.shards[h.Sum64()%shardCount]
}

// len returns the total number of entries across all shards. Approximate
// under concurrent mutation, which is fine for a metrics gauge.
func (sm *shardedMap[V]) len() int {
	var n int
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// evictIf removes entries for which keep returns false. Each shard is locked
// independently, so eviction never blocks the whole map at once.
func (sm *shardedMap[V]) evictIf(keep func(V) bool) int {
	var removed int
	for i := range sm.shards {
		s := &sm.shards[i]
		s.mu.Lock()
		for k, v := range s.m {
			if !keep(v) {
				delete(s.m, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}
