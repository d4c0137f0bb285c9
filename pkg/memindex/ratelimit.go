package memindex

// RateLimitWindowMS is the fixed window size for both the per-key and
// per-cell limiters.
const RateLimitWindowMS = 60_000

// rateLimitEvictAgeMS is how long an idle entry survives before eviction:
// two full windows, per spec.md §3.
const rateLimitEvictAgeMS = 2 * RateLimitWindowMS

// PerKeyCap and PerCellCap are the fixed-window caps from spec.md §3.
const (
	PerKeyCap  = 30
	PerCellCap = 500
)

type rateLimitEntry struct {
	count         uint32
	windowStartMS int64
}

// RateLimiter is a fixed-window counter keyed by an arbitrary string (a
// 32-byte public key or a geo cell id, depending on which limiter it backs).
// The same implementation serves both the per-key and per-cell limiters in
// spec.md §4.D; only the cap passed to Admit differs.
type RateLimiter struct {
	m *shardedMap[rateLimitEntry]
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{m: newShardedMap[rateLimitEntry]()}
}

// Admit applies the fixed-window counter algorithm: if there's no entry, or
// the window has elapsed, the window resets to count 1 and admits; otherwise
// it admits and increments only while under cap.
func (r *RateLimiter) Admit(key string, nowMS int64, cap uint32) bool {
	s := r.m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[key]
	if !ok || nowMS-e.windowStartMS > RateLimitWindowMS {
		s.m[key] = rateLimitEntry{count: 1, windowStartMS: nowMS}
		return true
	}
	if e.count < cap {
		e.count++
		s.m[key] = e
		return true
	}
	return false
}

// Evict removes entries whose window started more than two window-lengths ago.
func (r *RateLimiter) Evict(nowMS int64) int {
	return r.m.evictIf(func(e rateLimitEntry) bool {
		return nowMS-e.windowStartMS <= rateLimitEvictAgeMS
	})
}
