package memindex

// DedupTTLMS is the lifetime of a dedup entry after insertion.
const DedupTTLMS = 300_000

type dedupEntry struct {
	insertedAtMS int64
}

// Dedup is a time-bounded membership set keyed by packet identity.
type Dedup struct {
	m *shardedMap[dedupEntry]
}

// NewDedup creates an empty Dedup index.
func NewDedup() *Dedup {
	return &Dedup{m: newShardedMap[dedupEntry]()}
}

// SeenOrInsert atomically reports whether key was already present, without
// updating its timestamp, or else inserts (key, now) and returns false.
// Exactly one concurrent caller for the same key observes false.
func (d *Dedup) SeenOrInsert(key string, nowMS int64) bool {
	s := d.m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return true
	}
	s.m[key] = dedupEntry{insertedAtMS: nowMS}
	return false
}

// Len reports the current number of tracked entries (the dedup_size gauge).
func (d *Dedup) Len() int {
	return d.m.len()
}

// Evict removes entries older than DedupTTLMS relative to now, returning the
// number removed.
func (d *Dedup) Evict(nowMS int64) int {
	return d.m.evictIf(func(e dedupEntry) bool {
		return nowMS-e.insertedAtMS <= DedupTTLMS
	})
}
