package ingestsrv

import (
	"context"
	"time"
)

const evictionInterval = 60 * time.Second

// runEvictionLoop periodically prunes the dedup, rate-limit, and cluster
// indexes by age. Concurrent-safe with admission: each index guards its own
// pruning the same way it guards mutation.
func (s *Server) runEvictionLoop(ctx context.Context) {
	tk := time.NewTicker(evictionInterval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			now := time.Now().UnixMilli()
			s.Pipeline.Dedup.Evict(now)
			s.Pipeline.Cluster.Evict(now)
			s.Pipeline.KeyLimit.Evict(now)
			s.Pipeline.CellLimit.Evict(now)
		}
	}
}
