// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package pinstore implements the certificate pin store:
// trust-on-first-use SPKI pinning per peer, with current/previous pin sets
// and anti-MITM validation. State is persisted to disk as JSON, matching
// the atomic-replace discipline tornet's SecretIdentity uses for its own
// JSON blobs.
package pinstore

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/veilmesh/meshcore/merr"
)

const (
	// previousPinTTL is how long a demoted pin stays acceptable after
	// rotation.
	previousPinTTL = 30 * 24 * time.Hour
	// inactivityCleanupWindow is how long a peer with no pins and no
	// validation activity is kept before cleanup drops it.
	inactivityCleanupWindow = 90 * 24 * time.Hour
)

// Info is the per-peer pin state.
type Info struct {
	CurrentPins  []string  `json:"current_pins"`
	PreviousPins []string  `json:"previous_pins"`
	LastRotation time.Time `json:"last_rotation"`
	LastValidate time.Time `json:"last_validation"`
}

// Store is the concurrent, persisted collection of per-peer pin state.
// Updates are serialized under one lock; state reaches disk only when
// Flush is called, and Open loads the last flushed snapshot.
type Store struct {
	mu    sync.RWMutex
	peers map[string]*Info
	path  string
	now   func() time.Time
}

// New creates an empty, unpersisted pin store. Use Open to bind a store
// to a path and load any existing snapshot from it.
func New() *Store {
	return &Store{peers: make(map[string]*Info), now: time.Now}
}

// Open loads a pin store from path if it exists, or creates an empty one
// bound to that path for future Flush calls.
func Open(path string) (*Store, error) {
	s := New()
	s.path = path
	if err := s.Load(); err != nil && !os.IsNotExist(err) {
		return nil, merr.Wrap(merr.Validation, "failed to load pin store", err)
	}
	return s, nil
}

// Load reads the JSON snapshot from disk into memory, replacing any
// in-memory state.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	peers := make(map[string]*Info)
	if err := json.Unmarshal(data, &peers); err != nil {
		return merr.Wrap(merr.Validation, "corrupt pin store snapshot", err)
	}
	s.mu.Lock()
	s.peers = peers
	s.mu.Unlock()
	return nil
}

// Flush atomically writes the current state to disk: write to a temp file
// in the same directory, then rename over the target, so a crash never
// leaves a half-written snapshot.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.peers, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return merr.Wrap(merr.Validation, "failed to marshal pin store", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".pinstore-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// ComputeSPKIPin extracts the SPKI from a certificate, hashes it with
// SHA-256, and base64-encodes the result.
func ComputeSPKIPin(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Validate checks a presented certificate against the known pins for a
// peer, in this order:
//  1. compute the pin;
//  2. TOFU-accept if the peer has no pins yet;
//  3. accept+touch if it matches a current pin;
//  4. accept+log if it matches a previous pin within the rotation window;
//  5. otherwise reject as a possible MITM.
func (s *Store) Validate(peerID string, cert *x509.Certificate) (accepted bool, tofu bool, transitioned bool, err error) {
	pin := ComputeSPKIPin(cert)
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.peers[peerID]
	if !ok || (len(info.CurrentPins) == 0 && len(info.PreviousPins) == 0) {
		s.peers[peerID] = &Info{
			CurrentPins:  []string{pin},
			LastRotation: now,
			LastValidate: now,
		}
		return true, true, false, nil
	}
	for _, p := range info.CurrentPins {
		if p == pin {
			info.LastValidate = now
			return true, false, false, nil
		}
	}
	if now.Sub(info.LastRotation) < previousPinTTL {
		for _, p := range info.PreviousPins {
			if p == pin {
				info.LastValidate = now
				return true, false, true, nil
			}
		}
	}
	return false, false, false, merr.New(merr.PinMismatch, "certificate pin not recognized").WithPeer(peerID)
}

// AddPin records a new pin for a peer. If current is true, any existing
// current pins are demoted to previous and last_rotation is reset. If
// current is false, the pin is simply appended to the previous set (used
// for seeding pins obtained out of band, e.g. from a verified descriptor).
func (s *Store) AddPin(peerID, pin string, current bool) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.peers[peerID]
	if !ok {
		info = &Info{}
		s.peers[peerID] = info
	}
	if current {
		info.PreviousPins = append(info.PreviousPins, info.CurrentPins...)
		info.CurrentPins = []string{pin}
		info.LastRotation = now
	} else {
		info.PreviousPins = append(info.PreviousPins, pin)
	}
}

// Info returns a copy of a peer's pin state, for debug surfaces.
func (s *Store) Info(peerID string) (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.peers[peerID]
	if !ok {
		return Info{}, false
	}
	return *info, true
}

// Cleanup removes previous pins older than their rotation TTL and drops
// peers with no pins and no validation activity in the inactivity window.
// mesh.Node runs it periodically from its background loop; it leaves
// crash isolation to the caller's loop.
func (s *Store) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for peerID, info := range s.peers {
		if now.Sub(info.LastRotation) >= previousPinTTL {
			info.PreviousPins = nil
		}
		if len(info.CurrentPins) == 0 && len(info.PreviousPins) == 0 &&
			now.Sub(info.LastValidate) >= inactivityCleanupWindow {
			delete(s.peers, peerID)
		}
	}
}
