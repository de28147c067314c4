// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package health aggregates per-peer, per-transport connection outcomes
// into a bounded trend window, feeding the policy layer's downgrade
// protection and exposing an operator-facing snapshot, so a node has
// somewhere to land NAT and dialer signals rather than recomputing them
// at selection time.
package health

import (
	"sort"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/nat"
)

// Outcome is one recorded connection attempt result.
type Outcome struct {
	Success   bool
	Method    nat.Method
	Transport descriptor.TransportType
	At        time.Time
	Err       string
}

// ringSize bounds memory per (peer, transport) pair regardless of how
// long the node has been running.
const ringSize = 32

type ring struct {
	entries [ringSize]Outcome
	next    int
	count   int
}

func (r *ring) push(o Outcome) {
	r.entries[r.next] = o
	r.next = (r.next + 1) % ringSize
	if r.count < ringSize {
		r.count++
	}
}

func (r *ring) snapshot() []Outcome {
	out := make([]Outcome, 0, r.count)
	start := r.next - r.count
	if start < 0 {
		start += ringSize
	}
	for i := 0; i < r.count; i++ {
		out = append(out, r.entries[(start+i)%ringSize])
	}
	return out
}

type key struct {
	peerID    string
	transport descriptor.TransportType
}

// Reporter is the sink for connection outcomes; Aggregator implements it,
// and components that produce outcomes (dialers, the NAT sequencer, the
// selector) can report through it.
type Reporter interface {
	Report(peerID string, o Outcome)
}

// Aggregator collects outcomes into a bounded ring buffer per (peer,
// transport) pair and derives simple trends from them.
type Aggregator struct {
	mu   sync.Mutex
	data map[key]*ring
	now  func() time.Time
}

// NewAggregator creates an empty health aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{data: make(map[key]*ring), now: time.Now}
}

// Report records a single outcome for peerID, implementing Reporter.
func (a *Aggregator) Report(peerID string, o Outcome) {
	if o.At.IsZero() {
		o.At = a.now()
	}
	k := key{peerID: peerID, transport: o.Transport}

	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.data[k]
	if !ok {
		r = &ring{}
		a.data[k] = r
	}
	r.push(o)
}

// Trend summarizes recent outcomes for a (peer, transport) pair.
type Trend struct {
	Total            int
	Successes        int
	Failures         int
	ConsecutiveFails int
	LastMethod       nat.Method
}

// Trend computes the current trend for peerID/transport from its
// recorded history.
func (a *Aggregator) Trend(peerID string, t descriptor.TransportType) Trend {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.data[key{peerID: peerID, transport: t}]
	if !ok {
		return Trend{}
	}
	entries := r.snapshot()

	var trend Trend
	trend.Total = len(entries)
	consecutive := 0
	for i, e := range entries {
		if e.Success {
			trend.Successes++
			consecutive = 0
		} else {
			trend.Failures++
			consecutive++
		}
		if i == len(entries)-1 {
			trend.LastMethod = e.Method
		}
	}
	trend.ConsecutiveFails = consecutive
	return trend
}

// History builds a TrustHistory-shaped view by scanning recent entries
// across all transports for a peer; callers needing the policy package's
// exact type construct it from this data to avoid a health -> policy
// import cycle.
func (a *Aggregator) History(peerID string) (consecutivePrivateFailures int, lastSuccessWasClearnet, everConnectedPrivate bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	type stamped struct {
		Outcome
		transport descriptor.TransportType
	}
	var all []stamped
	for k, r := range a.data {
		if k.peerID != peerID {
			continue
		}
		for _, e := range r.snapshot() {
			all = append(all, stamped{Outcome: e, transport: k.transport})
			if e.Success && isPrivate(k.transport) {
				everConnectedPrivate = true
			}
		}
	}

	// Find the most recent entry overall and the consecutive private
	// failure streak leading up to it.
	var latest time.Time
	var latestIsClearnetSuccess bool
	for _, e := range all {
		if e.At.After(latest) {
			latest = e.At
			latestIsClearnetSuccess = e.Success && !isPrivate(e.transport)
		}
	}
	lastSuccessWasClearnet = latestIsClearnetSuccess

	sort.SliceStable(all, func(i, j int) bool { return all[i].At.Before(all[j].At) })
	for _, e := range all {
		if isPrivate(e.transport) && !e.Success {
			consecutivePrivateFailures++
		} else if isPrivate(e.transport) && e.Success {
			consecutivePrivateFailures = 0
		}
	}
	return consecutivePrivateFailures, lastSuccessWasClearnet, everConnectedPrivate
}

func isPrivate(t descriptor.TransportType) bool {
	return t == descriptor.TorOnionQuic || t == descriptor.I2PQuic
}
