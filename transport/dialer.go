// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package transport implements the multi-transport dialer abstraction:
// direct QUIC, Tor SOCKS5 and I2P SOCKS5, unified behind one Dialer
// interface so the policy and mesh layers never branch on transport kind
// directly.
package transport

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veilmesh/meshcore/descriptor"
)

// Dialer is implemented by each concrete transport.
type Dialer interface {
	// CanHandle reports whether this dialer knows how to reach ep at all
	// (matches transport type), independent of current availability.
	CanHandle(ep descriptor.Endpoint) bool

	// IsAvailable reports whether the dialer's underlying proxy/stack is
	// currently usable (e.g. the Tor SOCKS5 port is accepting connections).
	IsAvailable(ctx context.Context) bool

	// Dial opens a stream to peerID at ep. isolationKey, if non-empty,
	// requests SOCKS5 stream isolation so this dial cannot be linked to
	// others sharing the same proxy circuit.
	Dial(ctx context.Context, ep descriptor.Endpoint, peerID, isolationKey string) (net.Conn, error)

	// Stats returns a snapshot of this dialer's lifetime counters.
	Stats() DialerStats

	// TransportType identifies which descriptor.TransportType this dialer
	// services.
	TransportType() descriptor.TransportType
}

// DialerStats is a point-in-time snapshot of a dialer's activity, returned
// by Dialer.Stats.
type DialerStats struct {
	TotalAttempts  uint64
	Successes      uint64
	Failures       uint64
	Active         int64
	AvgConnectMs   float64
	LastErr        string
}

// counters is the mutable state backing Stats, embedded by each concrete
// dialer. The numeric counters use atomics so concurrent dials never need
// a lock just to bump a counter, following the same pattern tornet.Node
// uses for its connection bookkeeping; only lastErr is guarded by mu.
type counters struct {
	totalAttempts uint64
	successes     uint64
	failures      uint64
	active        int64
	totalConnMs   uint64 // sum of successful connect durations, for averaging
	mu            sync.Mutex
	lastErr       string
}

func (c *counters) recordAttempt() {
	atomic.AddUint64(&c.totalAttempts, 1)
}

func (c *counters) recordSuccess(elapsed time.Duration) {
	atomic.AddUint64(&c.successes, 1)
	atomic.AddUint64(&c.totalConnMs, uint64(elapsed.Milliseconds()))
	atomic.AddInt64(&c.active, 1)
}

func (c *counters) recordFailure(err error) {
	atomic.AddUint64(&c.failures, 1)
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
}

func (c *counters) recordClose() {
	atomic.AddInt64(&c.active, -1)
}

func (c *counters) snapshot() DialerStats {
	successes := atomic.LoadUint64(&c.successes)
	var avg float64
	if successes > 0 {
		avg = float64(atomic.LoadUint64(&c.totalConnMs)) / float64(successes)
	}
	c.mu.Lock()
	lastErr := c.lastErr
	c.mu.Unlock()
	return DialerStats{
		TotalAttempts: atomic.LoadUint64(&c.totalAttempts),
		Successes:     successes,
		Failures:      atomic.LoadUint64(&c.failures),
		Active:        atomic.LoadInt64(&c.active),
		AvgConnectMs:  avg,
		LastErr:       lastErr,
	}
}

// Registry holds one dialer per transport type, the lookup table the
// policy selector consults when it has chosen a transport kind for an
// endpoint.
type Registry struct {
	mu      sync.RWMutex
	dialers map[descriptor.TransportType]Dialer
}

// NewRegistry creates an empty dialer registry.
func NewRegistry() *Registry {
	return &Registry{dialers: make(map[descriptor.TransportType]Dialer)}
}

// Register adds or replaces the dialer for its transport type.
func (r *Registry) Register(d Dialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[d.TransportType()] = d
}

// Get returns the dialer for a transport type, if any is registered.
func (r *Registry) Get(t descriptor.TransportType) (Dialer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dialers[t]
	return d, ok
}

// All returns every registered dialer, for availability probing and
// aggregate stats collection.
func (r *Registry) All() []Dialer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Dialer, 0, len(r.dialers))
	for _, d := range r.dialers {
		out = append(out, d)
	}
	return out
}
