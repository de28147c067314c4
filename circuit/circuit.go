// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package circuit implements multi-hop circuit construction and
// maintenance. A circuit is an ordered chain of relay peers through which
// traffic is routed hop-by-hop instead of directly, trading latency for
// unlinkability. Dedup and lifecycle bookkeeping follow the same
// trusted-peer-set idiom tornet.PeerSet uses for its live connection map.
package circuit

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/dht"
	"github.com/veilmesh/meshcore/merr"
)

const (
	MinHops = 2
	MaxHops = 6
)

// Hop is one link in a circuit: a peer and the transport chosen to reach
// it.
type Hop struct {
	PeerID        string
	TransportType int // mirrors descriptor.TransportType without importing it, to keep circuit decoupled from descriptor's richer endpoint shape
}

// Descriptor records an established circuit's shape and lifetime.
type Descriptor struct {
	CircuitID string
	Hops      []Hop
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (d Descriptor) expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// HopSessionFunc establishes a session to the next hop through the
// policy/transport stack and reports which transport type (mirroring
// descriptor.TransportType) the session actually used; circuit only
// orchestrates selection and sequencing, it never dials directly.
type HopSessionFunc func(ctx context.Context, peerID string) (transportType int, err error)

// PeerCandidate is a routing-table entry augmented with the candidate's
// self-certifying peer id and whatever neighborhood tag the caller uses
// for diversity constraints (e.g. an autonomous-system id or subnet
// prefix); circuit treats the neighborhood tag as opaque. PeerID is kept
// separate from Entry.EndpointURI since the latter is a dial address, not
// an identity.
type PeerCandidate struct {
	PeerID       string
	Entry        dht.Entry
	Neighborhood string
}

// Builder constructs and tears down circuits. It holds no transport
// state itself; HopSession is injected so tests can simulate hop
// establishment without a live dialer.
type Builder struct {
	mu         sync.Mutex
	active     map[string]Descriptor
	HopTTL     time.Duration
	HopSession HopSessionFunc
	now        func() time.Time
}

// NewBuilder creates a circuit builder with the given per-circuit
// lifetime and hop-establishment callback.
func NewBuilder(hopTTL time.Duration, hopSession HopSessionFunc) *Builder {
	return &Builder{
		active:     make(map[string]Descriptor),
		HopTTL:     hopTTL,
		HopSession: hopSession,
		now:        time.Now,
	}
}

func newCircuitID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// selectHops chooses hops hops-many peers from candidates, preferring
// diverse neighborhoods before falling back to whatever remains.
func selectHops(candidates []PeerCandidate, target string, hops int) ([]PeerCandidate, error) {
	if hops < MinHops || hops > MaxHops {
		return nil, merr.New(merr.Validation, "circuit hop count out of range")
	}

	var pool []PeerCandidate
	for _, c := range candidates {
		if c.Entry.NodeID == (dht.NodeID{}) {
			continue
		}
		pool = append(pool, c)
	}
	if len(pool) < hops {
		return nil, merr.New(merr.NotFound, "not enough candidate peers to build circuit")
	}

	var chosen []PeerCandidate
	seenNeighborhoods := make(map[string]bool)

	// First pass: prefer peers from neighborhoods not already represented.
	for _, c := range pool {
		if len(chosen) >= hops {
			break
		}
		if c.Neighborhood != "" && seenNeighborhoods[c.Neighborhood] {
			continue
		}
		chosen = append(chosen, c)
		if c.Neighborhood != "" {
			seenNeighborhoods[c.Neighborhood] = true
		}
	}
	// Second pass: fill remaining slots from whatever is left.
	for _, c := range pool {
		if len(chosen) >= hops {
			break
		}
		already := false
		for _, ch := range chosen {
			if ch.Entry.NodeID == c.Entry.NodeID {
				already = true
				break
			}
		}
		if !already {
			chosen = append(chosen, c)
		}
	}
	return chosen[:hops], nil
}

// Build selects hops peers and establishes sessions to each in order,
// returning the resulting circuit descriptor. On a hop failure Build
// returns the error without registering a circuit; sessions already
// established for earlier hops are not closed by Build.
func (b *Builder) Build(ctx context.Context, target string, candidates []PeerCandidate, hops int) (Descriptor, error) {
	chosen, err := selectHops(candidates, target, hops)
	if err != nil {
		return Descriptor{}, err
	}

	hopList := make([]Hop, 0, len(chosen))
	for _, c := range chosen {
		var transportType int
		if b.HopSession != nil {
			t, err := b.HopSession(ctx, c.PeerID)
			if err != nil {
				return Descriptor{}, merr.Wrap(merr.Transport, "hop session establishment failed", err)
			}
			transportType = t
		}
		hopList = append(hopList, Hop{PeerID: c.PeerID, TransportType: transportType})
	}

	id, err := newCircuitID()
	if err != nil {
		return Descriptor{}, merr.Wrap(merr.Validation, "circuit id generation failed", err)
	}

	now := b.now()
	d := Descriptor{
		CircuitID: id,
		Hops:      hopList,
		CreatedAt: now,
		ExpiresAt: now.Add(b.HopTTL),
	}

	b.mu.Lock()
	b.active[d.CircuitID] = d
	b.mu.Unlock()
	return d, nil
}

// Teardown removes a circuit from the active set.
func (b *Builder) Teardown(circuitID string) {
	b.mu.Lock()
	delete(b.active, circuitID)
	b.mu.Unlock()
}

// Maintain removes expired circuits and reports how many remain active,
// intended to be called on a periodic timer.
func (b *Builder) Maintain() (activeCount int) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, d := range b.active {
		if d.expired(now) {
			delete(b.active, id)
		}
	}
	return len(b.active)
}

// Active returns a snapshot of currently tracked circuits.
func (b *Builder) Active() []Descriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Descriptor, 0, len(b.active))
	for _, d := range b.active {
		out = append(out, d)
	}
	return out
}
