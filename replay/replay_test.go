package replay

import (
	"testing"
	"time"
)

func TestFirstSeenNotReplay(t *testing.T) {
	c := New(time.Minute)
	if c.CheckAndInsert("msg-1") {
		t.Fatalf("expected first sighting to not be a replay")
	}
}

func TestDuplicateWithinWindowIsReplay(t *testing.T) {
	c := New(time.Minute)
	c.CheckAndInsert("msg-1")
	if !c.CheckAndInsert("msg-1") {
		t.Fatalf("expected duplicate within freshness window to be flagged as replay")
	}
}

func TestDuplicateAfterTTLIsNotReplay(t *testing.T) {
	c := New(time.Minute)
	base := time.Now()
	cur := base
	c.now = func() time.Time { return cur }

	c.CheckAndInsert("msg-1")
	cur = cur.Add(2 * time.Minute)
	if c.CheckAndInsert("msg-1") {
		t.Fatalf("expected id past ttl to be treated as fresh")
	}
}

func TestCapacityBoundedUnderSustainedTraffic(t *testing.T) {
	c := New(time.Hour)
	c.capacity = 100

	for i := 0; i < 1000; i++ {
		c.CheckAndInsert(string(rune('a')) + time.Duration(i).String())
	}
	if c.Len() > c.capacity {
		t.Fatalf("expected cache bounded at %d, got %d", c.capacity, c.Len())
	}
}

func TestSweepReclaimsExpiredBeforeEviction(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.capacity = 10
	base := time.Now()
	cur := base
	c.now = func() time.Time { return cur }

	for i := 0; i < 9; i++ {
		c.CheckAndInsert(string(rune('a' + i)))
	}
	cur = cur.Add(time.Second) // past ttl for all existing entries
	c.CheckAndInsert("fresh")  // triggers sweepLocked via threshold
	if c.Len() > 1 {
		t.Fatalf("expected sweep to reclaim expired entries, got len %d", c.Len())
	}
}
