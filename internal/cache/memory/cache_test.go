package memory

import (
	"testing"
	"time"
)

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 2})
	var evicted []string
	c.OnEvict(func(k string, _ int) { evicted = append(evicted, k) })

	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a")
	}
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("unexpected evictions: %v", evicted)
	}
	if c.Len() != 2 {
		t.Fatalf("len=%d", c.Len())
	}
}

func TestCacheZeroTTLNeverExpires(t *testing.T) {
	c := New[string, string](Config{})
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v")
	now = now.Add(1000 * time.Hour)
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("expected session-lifetime entry, got %q %v", v, ok)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := New[string, string](Config{TTL: time.Minute})
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }

	c.Set("k", "v1")
	now = now.Add(30 * time.Second)
	c.Set("k", "v2")
	now = now.Add(45 * time.Second)
	if v, ok := c.Get("k"); !ok || v != "v2" {
		t.Fatalf("replacement must restart the ttl, got %q %v", v, ok)
	}
	now = now.Add(time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected expiry")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not collected")
	}
}

func TestCacheDeleteDoesNotReportEviction(t *testing.T) {
	c := New[string, int](Config{MaxEntries: 4})
	calls := 0
	c.OnEvict(func(string, int) { calls++ })
	c.Set("a", 1)
	c.Delete("a")
	c.Clear()
	if calls != 0 {
		t.Fatalf("delete is not an eviction")
	}
	var nilCache *Cache[string, int]
	if _, ok := nilCache.Get("a"); ok {
		t.Fatalf("nil cache must miss")
	}
}
