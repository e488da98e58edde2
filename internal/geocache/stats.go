package geocache

// StatsSnapshot is a read-only view of the cache counters. HitRate is
// derived on demand and never stored, so it cannot go stale.
type StatsSnapshot struct {
	Size          int     `json:"cache_size"`
	Hits          uint64  `json:"hits"`
	Misses        uint64  `json:"misses"`
	APICalls      uint64  `json:"api_calls"`
	TotalRequests uint64  `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"` // percentage
}

// Stats returns the current counters and the derived hit rate. Counters are
// monotonic for the life of the process; they reset only on restart.
func (c *Cache) Stats() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := StatsSnapshot{
		Size:          len(c.entries),
		Hits:          c.hits,
		Misses:        c.misses,
		APICalls:      c.apiCalls,
		TotalRequests: c.totalRequests,
	}
	if s.TotalRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalRequests) * 100
	}
	return s
}
