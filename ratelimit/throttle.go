// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/merr"
)

// Default bucket sizes for the throttle hierarchy.
const (
	GlobalCapacity    = 200.0
	GlobalRefill      = 50.0
	EndpointCapacity  = 20.0
	EndpointRefill    = 2.0
	TransportCapacity = 60.0
	TransportRefill   = 10.0
)

// Throttler composes the global, per-endpoint and per-transport buckets
// into a single admission check, same layering tornet applies its backoff
// loop at: the caller asks "may I proceed" once and gets a single verdict.
type Throttler struct {
	global    *Bucket
	endpoints *Registry
	transport *Registry
}

// NewThrottler builds a throttler with the default bucket sizes.
func NewThrottler() *Throttler {
	return &Throttler{
		global:    NewBucket(GlobalCapacity, GlobalRefill),
		endpoints: NewRegistry(time.Hour),
		transport: NewRegistry(time.Hour),
	}
}

// Allow checks the global, endpoint and transport buckets in that order,
// taking one token from each as it goes and stopping at the first bucket
// that denies. Tokens already taken from earlier buckets are not returned
// when a later bucket denies.
func (t *Throttler) Allow(endpointKey, transportKey string) error {
	ep := t.endpoints.Get(endpointKey, EndpointCapacity, EndpointRefill)
	tr := t.transport.Get(transportKey, TransportCapacity, TransportRefill)

	if !t.global.TryConsume(1) {
		return merr.New(merr.RateLimit, "global rate limit exceeded")
	}
	if !ep.TryConsume(1) {
		return merr.New(merr.RateLimit, "endpoint rate limit exceeded").WithPeer(endpointKey)
	}
	if !tr.TryConsume(1) {
		return merr.New(merr.RateLimit, "transport rate limit exceeded")
	}
	return nil
}

// Sweep releases idle endpoint and transport buckets.
func (t *Throttler) Sweep() {
	t.endpoints.Sweep()
	t.transport.Sweep()
}

// Backoff parameters for connection attempts.
const (
	BackoffBase   = 2 * time.Second
	BackoffMax    = 5 * time.Minute
	BackoffFactor = 2.0
)

// ConnectionAttemptInfo tracks exponential backoff state for a single
// (peer, endpoint) pair, mirroring the reconnect accounting tornet.Node
// keeps per dialed address.
type ConnectionAttemptInfo struct {
	mu          sync.Mutex
	Attempts    uint32
	LastAttempt time.Time
	LastError   error
	now         func() time.Time
}

// NewConnectionAttemptInfo returns a fresh, untried attempt record.
func NewConnectionAttemptInfo() *ConnectionAttemptInfo {
	return &ConnectionAttemptInfo{now: time.Now}
}

// RecordFailure bumps the attempt count and remembers the error, returning
// the delay the caller should wait before trying again.
func (c *ConnectionAttemptInfo) RecordFailure(err error) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Attempts++
	c.LastAttempt = c.now()
	c.LastError = err

	delay := time.Duration(float64(BackoffBase) * math.Pow(BackoffFactor, float64(c.Attempts-1)))
	if delay > BackoffMax {
		delay = BackoffMax
	}
	return delay
}

// RecordSuccess clears the failure streak.
func (c *ConnectionAttemptInfo) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Attempts = 0
	c.LastError = nil
}

// ReadyAt reports the earliest time a new attempt is permitted, based on
// the last recorded failure and the backoff schedule.
func (c *ConnectionAttemptInfo) ReadyAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Attempts == 0 {
		return time.Time{}
	}
	delay := time.Duration(float64(BackoffBase) * math.Pow(BackoffFactor, float64(c.Attempts-1)))
	if delay > BackoffMax {
		delay = BackoffMax
	}
	return c.LastAttempt.Add(delay)
}
