// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package descriptor implements signed peer descriptors with anti-rollback
// sequence tracking. A descriptor advertises a peer's endpoints,
// certificate pins, and authorized control-signing keys, signed by the
// peer's own identity key.
package descriptor

import (
	"sync"
	"time"

	"github.com/veilmesh/meshcore/canon"
	"github.com/veilmesh/meshcore/identity"
	"github.com/veilmesh/meshcore/merr"
)

// Scope enumerates what an endpoint may be used for.
type Scope int

const (
	ScopeControl Scope = iota
	ScopeData
	ScopeControlAndData
)

// TransportType enumerates the transport kinds an endpoint may advertise.
type TransportType int

const (
	DirectQuic TransportType = iota
	TorOnionQuic
	I2PQuic
)

func (t TransportType) String() string {
	switch t {
	case DirectQuic:
		return "DirectQuic"
	case TorOnionQuic:
		return "TorOnionQuic"
	case I2PQuic:
		return "I2PQuic"
	default:
		return "Unknown"
	}
}

// Endpoint is one dialable address a peer advertises.
type Endpoint struct {
	TransportType TransportType
	Host          string
	Port          uint16
	Scope         Scope
	Preference    int32 // lower is better
	Cost          int32
	ValidFrom     int64 // unix millis, 0 = always valid from
	ValidTo       int64 // unix millis, 0 = never expires
}

// Descriptor is the advertised record of a peer.
type Descriptor struct {
	PeerID             string
	SequenceNumber     uint64
	ExpiresAt          int64 // unix millis
	Endpoints          []Endpoint
	CertificatePins    []string
	ControlSigningKeys []string
	Signature          identity.Signature
}

func (d Descriptor) canonForm() canon.Descriptor {
	eps := make([]canon.Endpoint, len(d.Endpoints))
	for i, ep := range d.Endpoints {
		eps[i] = canon.Endpoint{
			TransportType: ep.TransportType.String(),
			Host:          ep.Host,
			Port:          ep.Port,
			Scope:         scopeString(ep.Scope),
			Preference:    ep.Preference,
			Cost:          ep.Cost,
			ValidFrom:     ep.ValidFrom,
			ValidTo:       ep.ValidTo,
		}
	}
	return canon.Descriptor{
		PeerID:             d.PeerID,
		SequenceNumber:     d.SequenceNumber,
		ExpiresAt:          d.ExpiresAt,
		Endpoints:          eps,
		CertificatePins:    append([]string(nil), d.CertificatePins...),
		ControlSigningKeys: append([]string(nil), d.ControlSigningKeys...),
	}
}

func scopeString(s Scope) string {
	switch s {
	case ScopeControl:
		return "Control"
	case ScopeData:
		return "Data"
	default:
		return "ControlAndData"
	}
}

// Sign computes the canonical encoding of the descriptor and signs it with
// the given key pair, setting d.Signature and returning the signed copy.
// The caller is responsible for having set PeerID to kp.PeerID beforehand.
func Sign(d Descriptor, kp *identity.KeyPair) (Descriptor, error) {
	if d.PeerID != kp.PeerID {
		return Descriptor{}, merr.New(merr.Validation, "descriptor peer id does not match signing key")
	}
	bytes := canon.EncodeDescriptor(d.canonForm())
	d.Signature = kp.Sign(bytes)
	return d, nil
}

// Store tracks the last accepted sequence number per peer id, enforcing
// anti-rollback monotonicity.
// Sequence acceptance is serialized per process through a single mutex; the
// map holds one small entry per known peer so a single lock is sufficient
// rather than per-key sharding.
type Store struct {
	mu       sync.Mutex
	accepted map[string]uint64
	now      func() time.Time
}

// NewStore creates an empty anti-rollback sequence store.
func NewStore() *Store {
	return &Store{accepted: make(map[string]uint64), now: time.Now}
}

// Verify checks a descriptor in fail-fast order: non-empty peer id, peer
// id matches the presented public key, descriptor not expired, sequence
// number strictly greater than the last accepted value for this peer, and
// finally signature validity. On success, the accepted sequence for this
// peer is atomically advanced. On any failure the stored sequence is left
// untouched. The whole check-then-accept runs under one lock acquisition
// so two concurrent descriptors for the same peer can never both pass the
// rollback check against the same stale value.
func (s *Store) Verify(d Descriptor, pub identity.PublicKey) error {
	if d.PeerID == "" {
		return merr.New(merr.Validation, "empty peer id")
	}
	if d.PeerID != identity.PeerIDFrom(pub) {
		return merr.New(merr.Validation, "peer id does not match public key").WithPeer(d.PeerID)
	}
	if s.now().UnixMilli() >= d.ExpiresAt {
		return merr.New(merr.Expired, "descriptor expired").WithPeer(d.PeerID)
	}
	if d.SequenceNumber < 1 {
		return merr.New(merr.Rollback, "sequence number must be at least 1").WithPeer(d.PeerID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, known := s.accepted[d.PeerID]; known && d.SequenceNumber <= last {
		return merr.New(merr.Rollback, "sequence number did not strictly increase").WithPeer(d.PeerID)
	}
	bytes := canon.EncodeDescriptor(d.canonForm())
	if err := identity.Verify(pub[:], bytes, d.Signature[:]); err != nil {
		return err
	}
	s.accepted[d.PeerID] = d.SequenceNumber
	return nil
}

// LastAccepted returns the last accepted sequence number for a peer and
// whether any descriptor has been accepted for it yet.
func (s *Store) LastAccepted(peerID string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.accepted[peerID]
	return v, ok
}
