package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxSize int, strategy Strategy) *Service {
	return NewService(maxSize, time.Minute, strategy, time.Minute, nil)
}

func TestSetGetRoundTrip(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("donor:1", map[string]string{"name": "Ada"}, 0, "donors", nil)

	value, ok := svc.Get("donor:1", "donors")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"name": "Ada"}, value)

	_, ok = svc.Get("donor:1", "gifts")
	assert.False(t, ok, "namespaces must not leak into each other")
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("short", "lived", 10*time.Millisecond, "", nil)
	time.Sleep(20 * time.Millisecond)

	_, ok := svc.Get("short", "")
	assert.False(t, ok)
	assert.Equal(t, 0, svc.Len(), "lazy expiry removes the entry")
}

func TestSweepRemovesExpired(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("a", 1, 10*time.Millisecond, "", nil)
	svc.Set("b", 2, time.Hour, "", nil)
	time.Sleep(20 * time.Millisecond)

	svc.Sweep()

	assert.Equal(t, 1, svc.Len())
	_, ok := svc.Get("b", "")
	assert.True(t, ok)
}

func TestCapacityStaysBounded(t *testing.T) {
	svc := newTestCache(50, StrategyFIFO)

	for i := 0; i < 500; i++ {
		svc.Set(fmt.Sprintf("key-%d", i), i, time.Hour, "", nil)
	}

	assert.LessOrEqual(t, svc.Len(), 50)
}

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	svc := newTestCache(10, StrategyLRU)

	for i := 0; i < 10; i++ {
		svc.Set(fmt.Sprintf("key-%d", i), i, time.Hour, "", nil)
		// Deterministic LastAccessed ordering.
		time.Sleep(time.Millisecond)
	}

	// Touch key-0 so it is the most recently used.
	_, ok := svc.Get("key-0", "")
	require.True(t, ok)

	// Insert at capacity: evicts ~10% (one entry), which is key-1.
	svc.Set("key-new", "v", time.Hour, "", nil)

	_, ok = svc.Get("key-0", "")
	assert.True(t, ok)
	_, ok = svc.Get("key-1", "")
	assert.False(t, ok)
}

func TestOverwriteDoesNotEvict(t *testing.T) {
	svc := newTestCache(10, StrategyLRU)
	for i := 0; i < 10; i++ {
		svc.Set(fmt.Sprintf("key-%d", i), i, time.Hour, "", nil)
	}

	svc.Set("key-5", "updated", time.Hour, "", nil)
	assert.Equal(t, 10, svc.Len())

	value, ok := svc.Get("key-5", "")
	require.True(t, ok)
	assert.Equal(t, "updated", value)
}

func TestInvalidateByTag(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("a", 1, time.Hour, "users", []string{"users"})
	svc.Set("b", 2, time.Hour, "posts", []string{"posts"})
	svc.Set("c", 3, time.Hour, "users", []string{"users", "admins"})

	removed := svc.InvalidateByTag("users", "")
	assert.Equal(t, 2, removed)

	_, ok := svc.Get("b", "posts")
	assert.True(t, ok)
	_, ok = svc.Get("a", "users")
	assert.False(t, ok)
}

func TestInvalidateByTagScopedToNamespace(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("a", 1, time.Hour, "users", []string{"shared"})
	svc.Set("b", 2, time.Hour, "posts", []string{"shared"})

	removed := svc.InvalidateByTag("shared", "users")
	assert.Equal(t, 1, removed)

	_, ok := svc.Get("b", "posts")
	assert.True(t, ok)
}

func TestClearNamespace(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.Set("a", 1, time.Hour, "users", nil)
	svc.Set("b", 2, time.Hour, "users", nil)
	svc.Set("c", 3, time.Hour, "posts", nil)

	assert.Equal(t, 2, svc.Clear("users"))
	assert.Equal(t, 1, svc.Len())

	assert.Equal(t, 1, svc.Clear(""))
	assert.Equal(t, 0, svc.Len())
}

func TestGetOrSet(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	calls := 0
	factory := func() (interface{}, error) {
		calls++
		return "computed", nil
	}

	value, err := svc.GetOrSet("k", "", time.Hour, nil, factory)
	require.NoError(t, err)
	assert.Equal(t, "computed", value)

	value, err = svc.GetOrSet("k", "", time.Hour, nil, factory)
	require.NoError(t, err)
	assert.Equal(t, "computed", value)
	assert.Equal(t, 1, calls, "second call must hit the cache")
}

func TestGetOrSetFactoryErrorNotCached(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	_, err := svc.GetOrSet("k", "", time.Hour, nil, func() (interface{}, error) {
		return nil, assert.AnError
	})
	assert.Error(t, err)
	assert.Equal(t, 0, svc.Len())
}

func TestStats(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	stats := svc.Stats()
	assert.Zero(t, stats.HitRate, "no traffic reports zero hit rate")

	svc.Set("k", "v", time.Hour, "users", nil)
	svc.Get("k", "users")
	svc.Get("missing", "users")

	stats = svc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 50.0, stats.HitRate)
	assert.Equal(t, 1, stats.Namespaces["users"])
}

func TestEventsDelivered(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	var events []EventType
	svc.Subscribe(func(e Event) { events = append(events, e.Type) })

	svc.Set("k", "v", time.Hour, "", nil)
	svc.Get("k", "")
	svc.Get("missing", "")
	svc.Delete("k", "")

	assert.Equal(t, []EventType{EventSet, EventHit, EventMiss, EventDelete}, events)
}

func TestMGetMSet(t *testing.T) {
	svc := newTestCache(100, StrategyLRU)

	svc.MSet(map[string]interface{}{"a": 1, "b": 2}, time.Hour, "bulk", nil)

	got := svc.MGet([]string{"a", "b", "c"}, "bulk")
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, got)
}
