package expiremap

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertGetAndRenew(t *testing.T) {
	m := New[string, string](func(string, string) {})
	m.Insert("a1", "v1", time.Hour)

	v, ok := m.GetAndRenew("a1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestGetOrInsertWith(t *testing.T) {
	m := New[string, int](func(string, int) {})

	calls := 0
	value := func() func() (time.Duration, int) {
		return func() (time.Duration, int) {
			calls++
			return time.Hour, 42
		}
	}()

	got := m.GetOrInsertWith("k", value)
	assert.Equal(t, 42, got)
	got = m.GetOrInsertWith("k", value)
	assert.Equal(t, 42, got)
	assert.Equal(t, 1, calls, "f must only run once for an existing key")
}

func TestEvictionFiresAfterTTL(t *testing.T) {
	var mu sync.Mutex
	evicted := make(map[string]string)

	m := New[string, string](func(k, v string) {
		mu.Lock()
		evicted[k] = v
		mu.Unlock()
	})
	m.Insert("a1", "v1", 30*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return evicted["a1"] == "v1"
	}, time.Second, 5*time.Millisecond)

	_, ok := m.Get("a1")
	assert.False(t, ok)
}

func TestRenewalDelaysEviction(t *testing.T) {
	var mu sync.Mutex
	var evictedAt time.Time

	m := New[string, string](func(string, string) {
		mu.Lock()
		evictedAt = time.Now()
		mu.Unlock()
	})

	ttl := 60 * time.Millisecond
	m.Insert("a1", "v1", ttl)

	start := time.Now()
	time.Sleep(ttl / 2)
	_, ok := m.GetAndRenew("a1")
	require.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return !evictedAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	elapsed := evictedAt.Sub(start)
	mu.Unlock()
	assert.GreaterOrEqual(t, elapsed, ttl, "renewal must not let eviction fire before a full TTL from renewal")
}

func TestSizeAndKeyValues(t *testing.T) {
	m := New[string, int](func(string, int) {})
	m.Insert("a", 1, time.Hour)
	m.Insert("b", 2, time.Hour)

	assert.Equal(t, 2, m.Size())
	pairs := m.KeyValues()
	assert.Len(t, pairs, 2)
}

func TestDeleteRemovesWithoutCallback(t *testing.T) {
	called := false
	m := New[string, int](func(string, int) { called = true })
	m.Insert("a", 1, time.Hour)
	m.Delete("a")

	_, ok := m.Get("a")
	assert.False(t, ok)
	assert.False(t, called)
}
