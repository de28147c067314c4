// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package mocktransport provides an in-memory stand-in for the real
// transport dialers, for tests that exercise policy/circuit/mesh wiring
// without a live Tor, I2P or QUIC stack. It plays the same role tornet's
// mockGateway plays for the Tor gateway interface, but is backed by
// akutz/memconn instead of a loopback TCP listener so no OS socket or
// port allocation is involved at all.
package mocktransport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/akutz/memconn"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/merr"
	"github.com/veilmesh/meshcore/transport"
)

// Network is the memconn network name used for all mock transport
// listeners; "memb" gives buffered semantics closer to a real TCP stream
// than the unbuffered "memu" network.
const Network = "memb"

// Dialer simulates a single transport kind's dialer by keeping a registry
// of addr -> listener mappings reachable only within this process.
type Dialer struct {
	transportType descriptor.TransportType

	mu        sync.RWMutex
	listeners map[string]net.Listener

	totalAttempts uint64
	successes     uint64
	failures      uint64
}

// New creates a mock dialer for the given transport type.
func New(t descriptor.TransportType) *Dialer {
	return &Dialer{transportType: t, listeners: make(map[string]net.Listener)}
}

// Listen registers addr as reachable and returns a listener for it,
// analogous to a real transport's inbound listener.
func (d *Dialer) Listen(addr string) (net.Listener, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.listeners[addr]; ok {
		return nil, merr.New(merr.Transport, "mock address already listening")
	}
	l, err := memconn.Listen(Network, addr)
	if err != nil {
		return nil, merr.Wrap(merr.Transport, "mock listen failed", err)
	}
	d.listeners[addr] = l
	return &deregisteringListener{Listener: l, dialer: d, addr: addr}, nil
}

type deregisteringListener struct {
	net.Listener
	dialer *Dialer
	addr   string
}

func (l *deregisteringListener) Close() error {
	l.dialer.mu.Lock()
	delete(l.dialer.listeners, l.addr)
	l.dialer.mu.Unlock()
	return l.Listener.Close()
}

// TransportType implements transport.Dialer.
func (d *Dialer) TransportType() descriptor.TransportType { return d.transportType }

// CanHandle implements transport.Dialer.
func (d *Dialer) CanHandle(ep descriptor.Endpoint) bool { return ep.TransportType == d.transportType }

// IsAvailable implements transport.Dialer; the mock is always available.
func (d *Dialer) IsAvailable(ctx context.Context) bool { return true }

// Dial connects to a previously registered mock address.
func (d *Dialer) Dial(ctx context.Context, ep descriptor.Endpoint, peerID, isolationKey string) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)

	d.mu.Lock()
	d.totalAttempts++
	_, ok := d.listeners[addr]
	if !ok {
		d.failures++
	}
	d.mu.Unlock()
	if !ok {
		return nil, merr.New(merr.Transport, "unknown mock destination").WithPeer(peerID)
	}

	conn, err := memconn.Dial(Network, addr)

	d.mu.Lock()
	if err != nil {
		d.failures++
	} else {
		d.successes++
	}
	d.mu.Unlock()

	if err != nil {
		return nil, merr.Wrap(merr.Transport, "mock dial failed", err).WithPeer(peerID)
	}
	return conn, nil
}

// Stats implements transport.Dialer, so a mock dialer can be registered
// in a real transport.Registry for policy and circuit tests.
func (d *Dialer) Stats() transport.DialerStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return transport.DialerStats{
		TotalAttempts: d.totalAttempts,
		Successes:     d.successes,
		Failures:      d.failures,
	}
}

// WaitUntilAvailable is a small helper for tests that register a listener
// and dial from separate goroutines, to avoid a race between the
// registration and the first dial.
func WaitUntilAvailable(ctx context.Context, d *Dialer, addr string, poll time.Duration) bool {
	deadline, ok := ctx.Deadline()
	for {
		d.mu.RLock()
		_, exists := d.listeners[addr]
		d.mu.RUnlock()
		if exists {
			return true
		}
		if ok && time.Now().After(deadline) {
			return false
		}
		time.Sleep(poll)
	}
}
