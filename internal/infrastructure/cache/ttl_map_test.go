package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestTTLMap_ExpiresEntries(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	metrics := NewCounterMetrics()
	m := NewTTLMap[string, int]("groups", time.Minute, 10, metrics).WithClock(clock.now)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.t = clock.t.Add(time.Minute)
	_, ok = m.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())

	stats := metrics.Snapshot()["groups"]
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 0.5, stats.HitRate, 0.0001)
}

func TestTTLMap_BoundedEvictsOldest(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewTTLMap[string, string]("groups", time.Hour, 2, nil).WithClock(clock.now)

	m.Set("first", "1")
	clock.t = clock.t.Add(time.Second)
	m.Set("second", "2")
	clock.t = clock.t.Add(time.Second)
	m.Set("third", "3")

	assert.Equal(t, 2, m.Len())
	_, ok := m.Get("first")
	assert.False(t, ok)
	_, ok = m.Get("third")
	assert.True(t, ok)

	// overwriting an existing key never evicts
	m.Set("third", "33")
	assert.Equal(t, 2, m.Len())
}

func TestTTLMap_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	m := NewTTLMap[int, int]("x", time.Minute, 10, nil).WithClock(clock.now)

	m.Set(1, 1)
	clock.t = clock.t.Add(30 * time.Second)
	m.Set(2, 2)
	clock.t = clock.t.Add(45 * time.Second)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
}
