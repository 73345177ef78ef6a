package cache

import (
	"sync"
	"time"

	interfaces "lti-booking/internal/interfaces/infrastructure"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLMap is a bounded in-process map whose entries expire after ttl. When
// full, the entry closest to expiry is evicted. Hits and misses go to the
// injected metrics sink under name.
type TTLMap[K comparable, V any] struct {
	mu       sync.Mutex
	name     string
	ttl      time.Duration
	capacity int
	entries  map[K]ttlEntry[V]
	metrics  interfaces.CacheMetrics
	now      func() time.Time
}

func NewTTLMap[K comparable, V any](name string, ttl time.Duration, capacity int, metrics interfaces.CacheMetrics) *TTLMap[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &TTLMap[K, V]{
		name:     name,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[K]ttlEntry[V], capacity),
		metrics:  metrics,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *TTLMap[K, V]) WithClock(now func() time.Time) *TTLMap[K, V] {
	m.now = now
	return m
}

func (m *TTLMap[K, V]) Get(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if ok && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		ok = false
	}
	if !ok {
		m.record(false)
		var zero V
		return zero, false
	}
	m.record(true)
	return e.value, true
}

func (m *TTLMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists && len(m.entries) >= m.capacity {
		m.sweepLocked()
		if len(m.entries) >= m.capacity {
			m.evictOldestLocked()
		}
	}
	m.entries[key] = ttlEntry[V]{value: value, expiresAt: m.now().Add(m.ttl)}
}

func (m *TTLMap[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Sweep drops expired entries and returns how many were removed.
func (m *TTLMap[K, V]) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

func (m *TTLMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *TTLMap[K, V]) sweepLocked() int {
	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

func (m *TTLMap[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range m.entries {
		if !found || e.expiresAt.Before(oldest) {
			oldestKey, oldest, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(m.entries, oldestKey)
	}
}

func (m *TTLMap[K, V]) record(hit bool) {
	if m.metrics == nil {
		return
	}
	if hit {
		m.metrics.Hit(m.name)
	} else {
		m.metrics.Miss(m.name)
	}
}
