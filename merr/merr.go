// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package merr defines the shared error-kind taxonomy used across the mesh
// core. Every component returns one of these kinds instead of ad-hoc
// sentinel errors so that callers of the top-level node operations can
// branch on failure class without importing component-specific packages.
package merr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification.
type Kind int

const (
	// Validation covers malformed input: bad lengths, bad hostnames,
	// negative offsets, oversize payloads, invalid timestamps.
	Validation Kind = iota
	// Signature covers descriptor/envelope signatures that are invalid,
	// wrong length, or carried by a malformed public key.
	Signature
	// Rollback covers a descriptor sequence number that failed to
	// strictly exceed the last accepted value.
	Rollback
	// Expired covers a descriptor or envelope outside its freshness
	// window.
	Expired
	// PinMismatch covers a certificate SPKI that does not match any
	// current or valid-previous pin.
	PinMismatch
	// RateLimit covers a token bucket denial.
	RateLimit
	// Policy covers fail-closed transport selection and downgrade
	// rejection.
	Policy
	// Transport covers dialer-specific failures.
	Transport
	// Replay covers an envelope message id seen within the replay
	// window.
	Replay
	// NotFound covers absent DHT keys, unknown peers, and similar.
	NotFound
)

// String renders the kind for logging; it never includes caller data.
func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Signature:
		return "signature"
	case Rollback:
		return "rollback"
	case Expired:
		return "expired"
	case PinMismatch:
		return "pin_mismatch"
	case RateLimit:
		return "rate_limit"
	case Policy:
		return "policy"
	case Transport:
		return "transport"
	case Replay:
		return "replay"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is the carrier type returned by mesh-core operations. Msg must be
// privacy-safe: no private key material, no full certificates, no raw
// clearnet hostnames. PeerID, when set, holds the masked form that
// WithPeer stores.
type Error struct {
	Kind   Kind
	Msg    string
	PeerID string // masked, optional
	Err    error  // wrapped cause, optional
}

func (e *Error) Error() string {
	if e.PeerID != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (peer %s): %v", e.Kind, e.Msg, e.PeerID, e.Err)
		}
		return fmt.Sprintf("%s: %s (peer %s)", e.Kind, e.Msg, e.PeerID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error wrapping an underlying cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithPeer attaches a peer id to the error, masked to first4...last4 as
// safelog.MaskPeerID does (ids of 8 chars or fewer are kept as given), and
// returns it for chaining.
func (e *Error) WithPeer(peerID string) *Error {
	if len(peerID) > 8 {
		peerID = peerID[:4] + "..." + peerID[len(peerID)-4:]
	}
	e.PeerID = peerID
	return e
}

// Is reports whether err is a *Error of the given kind, looking through
// wrapped causes.
func Is(err error, kind Kind) bool {
	var me *Error
	return errors.As(err, &me) && me.Kind == kind
}
