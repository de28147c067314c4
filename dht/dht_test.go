package dht

import (
	"context"
	"crypto/rand"
	"testing"
	"time"
)

func randomID(t *testing.T) NodeID {
	t.Helper()
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return id
}

func TestClosestOrdering(t *testing.T) {
	local := randomID(t)
	rt := NewRoutingTable(local, nil)

	var ids []NodeID
	for i := 0; i < 50; i++ {
		id := randomID(t)
		ids = append(ids, id)
		rt.Touch(context.Background(), id, "uri")
	}

	target := randomID(t)
	closest := rt.Closest(target, 10)
	if len(closest) == 0 {
		t.Fatalf("expected some results")
	}
	for i := 1; i < len(closest); i++ {
		d1 := Distance(closest[i-1].NodeID, target)
		d2 := Distance(closest[i].NodeID, target)
		if Less(d2, d1) {
			t.Fatalf("closest results not in non-decreasing distance order at index %d", i)
		}
	}
}

type alwaysAlive struct{ pinged *bool }

func (a alwaysAlive) Ping(ctx context.Context, e Entry) bool {
	*a.pinged = true
	return true
}

type alwaysDead struct{}

func (alwaysDead) Ping(ctx context.Context, e Entry) bool { return false }

func TestPingBeforeEvictKeepsAliveNode(t *testing.T) {
	local := randomID(t)
	pinged := false
	rt := NewRoutingTable(local, alwaysAlive{&pinged})

	// Force all entries into the same bucket: XOR the trailing byte against
	// local with bit 0x80 always set, so the highest differing bit (and
	// hence the bucket index) is identical for all of them, while the
	// lower 7 bits give enough room for BucketSize+1 unique ids.
	base := local
	var full []NodeID
	for i := 0; i < BucketSize+1; i++ {
		id := base
		id[NodeIDLen-1] = base[NodeIDLen-1] ^ byte(0x80|i)
		full = append(full, id)
		rt.Touch(context.Background(), id, "uri")
	}
	if !pinged {
		t.Fatalf("expected a liveness probe once the bucket filled up")
	}
	// The first-inserted (least-recently-seen) node must survive since the
	// pinger reports it alive.
	found := false
	for _, e := range rt.Closest(local, 64) {
		if e.NodeID == full[0] {
			found = true
		}
	}
	if !found {
		t.Fatalf("alive least-recently-seen node was evicted")
	}
}

func TestPingBeforeEvictReplacesDeadNode(t *testing.T) {
	local := randomID(t)
	rt := NewRoutingTable(local, alwaysDead{})

	base := local
	var full []NodeID
	for i := 0; i < BucketSize; i++ {
		id := base
		id[NodeIDLen-1] = base[NodeIDLen-1] ^ byte(0x80|i)
		full = append(full, id)
		rt.Touch(context.Background(), id, "uri")
	}
	newcomer := base
	newcomer[NodeIDLen-1] = base[NodeIDLen-1] ^ byte(0x80|BucketSize)
	rt.Touch(context.Background(), newcomer, "uri")

	foundOld, foundNew := false, false
	for _, e := range rt.Closest(local, 64) {
		if e.NodeID == full[0] {
			foundOld = true
		}
		if e.NodeID == newcomer {
			foundNew = true
		}
	}
	if foundOld {
		t.Fatalf("dead least-recently-seen node was not evicted")
	}
	if !foundNew {
		t.Fatalf("newcomer was not admitted after dead node eviction")
	}
}

func TestDHTTTLLowerBound(t *testing.T) {
	s := NewStore()
	var key NodeID
	if err := s.Put(key, []byte("v"), 30*time.Second); err == nil {
		t.Fatalf("expected rejection of TTL below 60s")
	}
	if err := s.Put(key, []byte("v"), 60*time.Second); err != nil {
		t.Fatalf("expected TTL of exactly 60s to be accepted: %v", err)
	}
}

func TestDHTValueRetrievableThenExpires(t *testing.T) {
	s := NewStore()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	var key NodeID
	s.Put(key, []byte("v1"), 60*time.Second)

	vals := s.Get(key)
	if len(vals) != 1 || string(vals[0]) != "v1" {
		t.Fatalf("expected stored value retrievable, got %v", vals)
	}

	s.now = func() time.Time { return fixed.Add(61 * time.Second) }
	if vals := s.Get(key); len(vals) != 0 {
		t.Fatalf("expected value expired, got %v", vals)
	}
}

func TestDHTReplicaCapEvictsOldest(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var key NodeID

	for i := 0; i < MaxReplicasPerKey+5; i++ {
		t := base.Add(time.Duration(i) * time.Second)
		s.now = func() time.Time { return t }
		s.Put(key, []byte{byte(i)}, 10*time.Minute)
	}
	s.now = func() time.Time { return base.Add(time.Minute) }
	vals := s.Get(key)
	if len(vals) != MaxReplicasPerKey {
		t.Fatalf("expected replica count capped at %d, got %d", MaxReplicasPerKey, len(vals))
	}
	for _, v := range vals {
		if v[0] < 5 {
			t.Fatalf("expected oldest replicas evicted, found value %d", v[0])
		}
	}
}
