package cache

import (
	"testing"
	"time"
)

func TestTTLGetMissesAfterExpiry(t *testing.T) {
	c := NewTTL[string, int](time.Minute)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 42)

	if v, ok := c.Get("a"); !ok || v != 42 {
		t.Fatalf("expected fresh hit, got %v %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestTTLStaleReadsExpiredValue(t *testing.T) {
	c := NewTTL[string, int](time.Minute)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("a", 7)
	now = now.Add(5 * time.Minute)

	v, fresh, ok := c.Stale("a")
	if !ok || fresh || v != 7 {
		t.Fatalf("expected stale value 7, got v=%v fresh=%v ok=%v", v, fresh, ok)
	}
}

func TestTTLPruneRemovesOnlyExpired(t *testing.T) {
	c := NewTTL[string, int](time.Minute)
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.Set("old", 1)
	now = now.Add(2 * time.Minute)
	c.Set("new", 2)

	if removed := c.Prune(); removed != 1 {
		t.Fatalf("expected 1 pruned, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
	if _, ok := c.Get("new"); !ok {
		t.Fatalf("fresh entry should survive prune")
	}
}
