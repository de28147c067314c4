// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package policy implements per-peer/per-pod transport policy and the
// candidate selector with fail-closed downgrade protection. A node never
// silently falls back to clearnet when policy forbids it; the selector
// either returns an acceptable candidate or an explicit error.
package policy

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/merr"
	"github.com/veilmesh/meshcore/ratelimit"
	"github.com/veilmesh/meshcore/transport"
)

// SecurityLevel is the minimum acceptable transport privacy grade, derived
// from a peer's trust history.
type SecurityLevel int

const (
	LevelAny SecurityLevel = iota
	LevelBasic
	LevelPrivate
	LevelClearnet
)

// TransportPolicy scopes a preference set to a peer id, a pod id, or
// both; when both are set it applies only where both match.
type TransportPolicy struct {
	PeerID                string
	PodID                 string
	PreferPrivate         bool
	DisableClearnet       bool
	AllowedTransportTypes []descriptor.TransportType // nil = all allowed
	PreferenceOrder       []descriptor.TransportType // nil = no override
	Enabled               bool
}

// specificity scores 2 for a peer-id match, 1 for a pod-id match; the
// highest-specificity applicable policy wins.
func (p TransportPolicy) specificity(peerID, podID string) (score int, applies bool) {
	if p.PeerID != "" && p.PeerID == peerID {
		score += 2
		applies = true
	} else if p.PeerID != "" {
		return 0, false
	}
	if p.PodID != "" && p.PodID == podID {
		score++
		applies = true
	} else if p.PodID != "" {
		return 0, false
	}
	if p.PeerID == "" && p.PodID == "" {
		applies = true // global default policy
	}
	return score, applies
}

func (p TransportPolicy) allows(t descriptor.TransportType) bool {
	if p.AllowedTransportTypes == nil {
		return true
	}
	for _, a := range p.AllowedTransportTypes {
		if a == t {
			return true
		}
	}
	return false
}

// Registry holds the set of configured policies, resolved by specificity
// per (peer, pod) pair. Set swaps in a fresh copy of the slice under the
// write lock, so a reader never sees a partially updated set.
type Registry struct {
	mu       sync.RWMutex
	policies []TransportPolicy
}

// NewRegistry creates an empty policy registry; Resolve falls back to an
// all-permissive default when nothing matches.
func NewRegistry() *Registry {
	return &Registry{}
}

// Set replaces the registry's policy set atomically.
func (r *Registry) Set(policies []TransportPolicy) {
	cp := append([]TransportPolicy(nil), policies...)
	r.mu.Lock()
	r.policies = cp
	r.mu.Unlock()
}

// Resolve returns the highest-specificity enabled policy applicable to
// peerID/podID, or a permissive default if none match.
func (r *Registry) Resolve(peerID, podID string) TransportPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	best := TransportPolicy{Enabled: true}
	bestScore := -1
	for _, p := range r.policies {
		if !p.Enabled {
			continue
		}
		score, applies := p.specificity(peerID, podID)
		if applies && score > bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

func isPrivate(t descriptor.TransportType) bool {
	return t == descriptor.TorOnionQuic || t == descriptor.I2PQuic
}

// TrustHistory summarizes a peer's recent connection outcomes, feeding
// downgrade protection.
type TrustHistory struct {
	ConsecutivePrivateFailures int
	LastSuccessWasClearnet     bool
	HasEverConnectedPrivate    bool
}

// minSecurityLevel derives the floor below which a transport may not be
// selected unless nothing higher exists.
func minSecurityLevel(h TrustHistory, policy TransportPolicy) SecurityLevel {
	if policy.DisableClearnet {
		return LevelPrivate
	}
	if h.HasEverConnectedPrivate {
		return LevelBasic
	}
	return LevelAny
}

func securityLevelOf(t descriptor.TransportType) SecurityLevel {
	if isPrivate(t) {
		return LevelPrivate
	}
	return LevelClearnet
}

// AttackPatternDetected reports whether recent history shows the
// suspicious shape of repeated private failures followed by a clearnet
// success, which can indicate an adversary forcing a downgrade.
func AttackPatternDetected(h TrustHistory) bool {
	return h.ConsecutivePrivateFailures >= 2 && h.LastSuccessWasClearnet
}

// Candidate is an endpoint paired with the dialer chosen to reach it.
type Candidate struct {
	Endpoint descriptor.Endpoint
	Dialer   transport.Dialer
}

// Selector chooses and dials a transport candidate.
type Selector struct {
	Policies  *Registry
	Dialers   *transport.Registry
	Throttle  *ratelimit.Throttler
	Now       func() time.Time
}

// NewSelector builds a selector over the given registries.
func NewSelector(policies *Registry, dialers *transport.Registry, throttle *ratelimit.Throttler) *Selector {
	return &Selector{Policies: policies, Dialers: dialers, Throttle: throttle, Now: time.Now}
}

// candidates filters and orders the descriptor's endpoints into dial
// candidates: allow-list and validity filtering, then downgrade-floor
// enforcement, then ordering by the policy's PreferenceOrder (transports
// not listed go last), then endpoint preference, then cost.
func (s *Selector) candidates(d descriptor.Descriptor, podID string, policy TransportPolicy, history TrustHistory) ([]Candidate, error) {
	now := s.Now().UnixMilli()
	floor := minSecurityLevel(history, policy)

	var out []Candidate
	var sawAboveFloor bool
	for _, ep := range d.Endpoints {
		if !policy.allows(ep.TransportType) {
			continue
		}
		if ep.ValidFrom != 0 && now < ep.ValidFrom {
			continue
		}
		if ep.ValidTo != 0 && now > ep.ValidTo {
			continue
		}
		dialer, ok := s.Dialers.Get(ep.TransportType)
		if !ok || !dialer.CanHandle(ep) {
			continue
		}
		if policy.DisableClearnet && !isPrivate(ep.TransportType) {
			continue
		}
		if securityLevelOf(ep.TransportType) >= floor {
			sawAboveFloor = true
		}
		out = append(out, Candidate{Endpoint: ep, Dialer: dialer})
	}

	// Enforce the security floor only when some candidate actually meets
	// it; otherwise every candidate is below it and there is nothing
	// stricter to fall back to, so the unfiltered set stands.
	if sawAboveFloor {
		filtered := out[:0]
		for _, c := range out {
			if securityLevelOf(c.Endpoint.TransportType) >= floor {
				filtered = append(filtered, c)
			}
		}
		out = filtered
	}

	if policy.DisableClearnet {
		for _, c := range out {
			if !isPrivate(c.Endpoint.TransportType) {
				return nil, merr.New(merr.Policy, "no acceptable transport under fail-closed policy")
			}
		}
		if len(out) == 0 {
			return nil, merr.New(merr.Policy, "no acceptable transport under fail-closed policy")
		}
	}

	rank := func(t descriptor.TransportType) int {
		for i, pt := range policy.PreferenceOrder {
			if pt == t {
				return i
			}
		}
		return len(policy.PreferenceOrder)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := rank(out[i].Endpoint.TransportType), rank(out[j].Endpoint.TransportType); ri != rj {
			return ri < rj
		}
		pi, pj := out[i].Endpoint.Preference, out[j].Endpoint.Preference
		if policy.PreferPrivate {
			if isPrivate(out[i].Endpoint.TransportType) {
				pi -= 10
			}
			if isPrivate(out[j].Endpoint.TransportType) {
				pj -= 10
			}
		}
		if pi != pj {
			return pi < pj
		}
		return out[i].Endpoint.Cost < out[j].Endpoint.Cost
	})

	return out, nil
}

// DialFunc performs the actual connection attempt for a candidate; it is
// injected so Select can be tested without a live dialer.
type DialFunc func(ctx context.Context, c Candidate) (net.Conn, error)

// Select resolves policy, filters and orders candidates, then tries each
// in order until one succeeds or all are exhausted.
func (s *Selector) Select(ctx context.Context, peerID, podID string, d descriptor.Descriptor, history TrustHistory, dial DialFunc) (Candidate, net.Conn, error) {
	policy := s.Policies.Resolve(peerID, podID)
	if !policy.Enabled {
		return Candidate{}, nil, merr.New(merr.Policy, "policy disabled for peer").WithPeer(peerID)
	}

	if s.Throttle != nil {
		if err := s.Throttle.Allow(peerID, "select"); err != nil {
			return Candidate{}, nil, err
		}
	}

	cands, err := s.candidates(d, podID, policy, history)
	if err != nil {
		return Candidate{}, nil, err
	}
	if len(cands) == 0 {
		return Candidate{}, nil, merr.New(merr.Policy, "no acceptable transport candidates").WithPeer(peerID)
	}

	var lastErr error
	for _, c := range cands {
		conn, err := dial(ctx, c)
		if err != nil {
			lastErr = err
			continue
		}
		return c, conn, nil
	}
	if lastErr == nil {
		lastErr = merr.New(merr.Transport, "all transport candidates exhausted").WithPeer(peerID)
	}
	return Candidate{}, nil, lastErr
}
