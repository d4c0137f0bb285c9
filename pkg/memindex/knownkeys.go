package memindex

import "sync/atomic"

// KnownKeys tracks the set of distinct verified public keys seen so far, for
// the known_keys metrics gauge (§4.J) only — it is never consulted by the
// admission pipeline. Resolves Open Question 4 (unbounded growth): once the
// configured cap is reached, newly observed keys are silently not counted;
// the gauge then under-reports true cardinality for the remainder of the
// process lifetime, which is documented as an accepted approximation.
type KnownKeys struct {
	m    *shardedMap[struct{}]
	cap  int64
	size int64
}

// NewKnownKeys creates a KnownKeys capped at the given size.
func NewKnownKeys(cap int) *KnownKeys {
	return &KnownKeys{m: newShardedMap[struct{}](), cap: int64(cap)}
}

// Observe records key as seen if it is new and the cap has not been reached.
func (k *KnownKeys) Observe(key []byte) {
	if atomic.LoadInt64(&k.size) >= k.cap {
		return
	}
	sh := k.m.shardFor(string(key))
	sh.mu.Lock()
	if _, ok := sh.m[string(key)]; !ok && atomic.LoadInt64(&k.size) < k.cap {
		sh.m[string(key)] = struct{}{}
		atomic.AddInt64(&k.size, 1)
	}
	sh.mu.Unlock()
}

// Len returns the number of distinct keys observed so far, capped.
func (k *KnownKeys) Len() int {
	return int(atomic.LoadInt64(&k.size))
}
