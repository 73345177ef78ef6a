package cache

import (
	"sync"
	"sync/atomic"

	interfaces "lti-booking/internal/interfaces/infrastructure"
)

var _ interfaces.CacheMetrics = (*CounterMetrics)(nil)

// CounterMetrics counts hits and misses per cache name.
type CounterMetrics struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

type counter struct {
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a point-in-time copy of one cache's counters.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counters: make(map[string]*counter)}
}

func (m *CounterMetrics) Hit(cache string) {
	m.get(cache).hits.Add(1)
}

func (m *CounterMetrics) Miss(cache string) {
	m.get(cache).misses.Add(1)
}

func (m *CounterMetrics) Snapshot() map[string]CacheStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CacheStats, len(m.counters))
	for name, c := range m.counters {
		s := CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
		if total := s.Hits + s.Misses; total > 0 {
			s.HitRate = float64(s.Hits) / float64(total)
		}
		out[name] = s
	}
	return out
}

func (m *CounterMetrics) get(cache string) *counter {
	m.mu.RLock()
	c, ok := m.counters[cache]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.counters[cache]; ok {
		return c
	}
	c = &counter{}
	m.counters[cache] = c
	return c
}
