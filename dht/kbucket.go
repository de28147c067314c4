// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package dht implements a Kademlia-style routing table and key/value
// store: k-bucket routing over a 20-byte node id space with
// ping-before-evict liveness checks, and a TTL'd, replica-capped value
// store.
package dht

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"
)

const (
	// NodeIDLen is the width of the Kademlia id space in bytes.
	NodeIDLen = 20
	// numBuckets is one bucket per bit of the id space.
	numBuckets = NodeIDLen * 8
	// BucketSize is k, the maximum live entries per bucket.
	BucketSize = 20
)

// NodeID is a 20-byte Kademlia identifier.
type NodeID [NodeIDLen]byte

// Distance computes the XOR distance between two node ids.
func Distance(a, b NodeID) NodeID {
	var d NodeID
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Less reports whether distance d1 is strictly less than d2, treating both
// as big-endian unsigned integers.
func Less(d1, d2 NodeID) bool {
	return bytes.Compare(d1[:], d2[:]) < 0
}

// bucketIndex returns which of the 160 buckets a peer at distance d from
// the local id falls into: the index of the highest set bit, i.e. the
// shared-prefix length with the local id.
func bucketIndex(d NodeID) int {
	for i := 0; i < NodeIDLen; i++ {
		if d[i] == 0 {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			if d[i]&(0x80>>uint(bit)) != 0 {
				return i*8 + bit
			}
		}
	}
	return numBuckets - 1 // d is all zero: only the local id itself
}

// Entry is one routing table record.
type Entry struct {
	NodeID      NodeID
	EndpointURI string
	LastTouch   time.Time
}

// Pinger probes whether a previously seen node is still alive, used for
// ping-before-evict on full buckets. Implementations should apply their own
// bounded deadline.
type Pinger interface {
	Ping(ctx context.Context, entry Entry) bool
}

// bucket holds up to BucketSize live entries, ordered oldest-touched first
// at the head (the Kademlia convention: the head is the next eviction
// candidate).
type bucket struct {
	entries []Entry
}

func (b *bucket) find(id NodeID) int {
	for i, e := range b.entries {
		if e.NodeID == id {
			return i
		}
	}
	return -1
}

// RoutingTable is the concurrent k-bucket table. It holds one fixed bucket
// per bit of the id space and never splits a bucket; a full bucket evicts
// via ping-before-evict.
type RoutingTable struct {
	mu      sync.RWMutex
	local   NodeID
	buckets [numBuckets]*bucket
	pinger  Pinger
}

// NewRoutingTable creates a routing table for the given local node id. The
// pinger is used for liveness checks when a bucket is full; if nil, full
// buckets simply refuse new entries (safe default for tests).
func NewRoutingTable(local NodeID, pinger Pinger) *RoutingTable {
	rt := &RoutingTable{local: local, pinger: pinger}
	for i := range rt.buckets {
		rt.buckets[i] = &bucket{}
	}
	return rt
}

// Touch updates (or inserts) liveness information for a node. If the node's
// bucket is full, the least-recently-seen entry is probed: if it responds,
// it's moved to the tail and the new node is dropped; if not, it's evicted
// and the new node takes its place.
func (rt *RoutingTable) Touch(ctx context.Context, id NodeID, endpointURI string) {
	if id == rt.local {
		return // never route to ourselves
	}
	idx := bucketIndex(Distance(rt.local, id))

	rt.mu.Lock()
	b := rt.buckets[idx]
	if i := b.find(id); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
		b.entries = append(b.entries, Entry{NodeID: id, EndpointURI: endpointURI, LastTouch: time.Now()})
		rt.mu.Unlock()
		return
	}
	if len(b.entries) < BucketSize {
		b.entries = append(b.entries, Entry{NodeID: id, EndpointURI: endpointURI, LastTouch: time.Now()})
		rt.mu.Unlock()
		return
	}
	// Bucket full: ping-before-evict the least-recently-seen entry.
	lru := b.entries[0]
	rt.mu.Unlock()

	if rt.pinger == nil || rt.pinger.Ping(ctx, lru) {
		rt.mu.Lock()
		if i := b.find(lru.NodeID); i == 0 {
			b.entries = append(b.entries[:0], append(b.entries[1:], Entry{
				NodeID: lru.NodeID, EndpointURI: lru.EndpointURI, LastTouch: time.Now(),
			})...)
		}
		rt.mu.Unlock()
		return
	}
	rt.mu.Lock()
	if i := b.find(lru.NodeID); i == 0 {
		b.entries[0] = Entry{NodeID: id, EndpointURI: endpointURI, LastTouch: time.Now()}
	}
	rt.mu.Unlock()
}

// Remove drops a node from the routing table unconditionally, e.g. after a
// confirmed protocol violation.
func (rt *RoutingTable) Remove(id NodeID) {
	idx := bucketIndex(Distance(rt.local, id))
	rt.mu.Lock()
	defer rt.mu.Unlock()
	b := rt.buckets[idx]
	if i := b.find(id); i >= 0 {
		b.entries = append(b.entries[:i], b.entries[i+1:]...)
	}
}

// Closest returns up to n entries sorted by ascending XOR distance to
// target, ties broken by more recent LastTouch.
func (rt *RoutingTable) Closest(target NodeID, n int) []Entry {
	rt.mu.RLock()
	all := make([]Entry, 0, BucketSize*4)
	for _, b := range rt.buckets {
		all = append(all, b.entries...)
	}
	rt.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		di := Distance(all[i].NodeID, target)
		dj := Distance(all[j].NodeID, target)
		if di != dj {
			return Less(di, dj)
		}
		return all[i].LastTouch.After(all[j].LastTouch)
	})
	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}

// Len returns the total number of entries across all buckets.
func (rt *RoutingTable) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	n := 0
	for _, b := range rt.buckets {
		n += len(b.entries)
	}
	return n
}
