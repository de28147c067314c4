// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package envelope implements signed control envelopes: every
// control-plane message is wrapped with a sender-signed
// header binding its type, a unique message id, a timestamp and the
// payload's hash, so a relay cannot replay, reorder or tamper with
// control traffic without detection.
package envelope

import (
	"crypto/sha256"
	"time"

	"github.com/veilmesh/meshcore/canon"
	"github.com/veilmesh/meshcore/identity"
	"github.com/veilmesh/meshcore/merr"
)

// FreshnessWindow bounds how old a timestamp may be relative to the
// verifier's clock before the envelope is rejected as stale; timestamps
// in the future are bounded by ClockTolerance instead.
const FreshnessWindow = time.Hour

// ClockTolerance allows for small drift between sender and verifier
// clocks without rejecting legitimate, barely-future timestamps.
const ClockTolerance = 2 * time.Minute

// ControlEnvelope wraps a control-plane payload with sender identity,
// freshness metadata and a signature over the canonical header.
type ControlEnvelope struct {
	Type        string
	MessageID   string
	TimestampMs int64
	SenderID    string
	Payload     []byte
	Signature   identity.Signature
}

// Seal builds and signs a control envelope for payload, stamping the
// given timestamp (milliseconds since the Unix epoch), message type and id.
func Seal(kp *identity.KeyPair, msgType, messageID string, timestampMs int64, payload []byte) ControlEnvelope {
	sum := sha256.Sum256(payload)
	header := canon.EncodeEnvelope(msgType, messageID, timestampMs, sum)
	sig := kp.Sign(header)

	return ControlEnvelope{
		Type:        msgType,
		MessageID:   messageID,
		TimestampMs: timestampMs,
		SenderID:    kp.PeerID,
		Payload:     payload,
		Signature:   sig,
	}
}

// Verify checks the envelope's signature against pub and rejects
// envelopes whose timestamp falls outside the freshness window relative
// to now. It does not consult a replay cache; callers compose that
// separately since freshness and replay are
// orthogonal checks with different failure semantics.
func Verify(e ControlEnvelope, pub identity.PublicKey, now time.Time) error {
	if e.SenderID == "" {
		return merr.New(merr.Validation, "envelope missing sender id")
	}
	if want := identity.PeerIDFrom(pub); e.SenderID != want {
		return merr.New(merr.Validation, "envelope sender id does not match public key").WithPeer(e.SenderID)
	}

	ts := time.UnixMilli(e.TimestampMs)
	if now.Sub(ts) > FreshnessWindow {
		return merr.New(merr.Expired, "envelope timestamp too old").WithPeer(e.SenderID)
	}
	if ts.Sub(now) > ClockTolerance {
		return merr.New(merr.Expired, "envelope timestamp too far in the future").WithPeer(e.SenderID)
	}

	sum := sha256.Sum256(e.Payload)
	header := canon.EncodeEnvelope(e.Type, e.MessageID, e.TimestampMs, sum)
	if err := identity.Verify(pub[:], header, e.Signature[:]); err != nil {
		return merr.Wrap(merr.Signature, "envelope signature invalid", err).WithPeer(e.SenderID)
	}
	return nil
}
