// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package identity implements self-certifying node identities: Ed25519 key
// pairs and the peer id derived solely from the public key.
//
// The derivation is intentionally simple and stable across implementations:
// SHA-256(pubkey)[:20], lowercase unpadded RFC 4648 base32. Anyone holding a
// public key can recompute and verify a peer's id without any out-of-band
// registry, which is what makes the identity "self-certifying".
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"strings"

	"github.com/veilmesh/meshcore/merr"
)

const (
	// PublicKeySize is the raw Ed25519 public key length in bytes.
	PublicKeySize = ed25519.PublicKeySize // 32
	// PrivateKeySize is the raw Ed25519 seed length in bytes, not the
	// expanded 64-byte private key crypto/ed25519 normally works with.
	PrivateKeySize = ed25519.SeedSize // 32
	// SignatureSize is the Ed25519 signature length in bytes.
	SignatureSize = ed25519.SignatureSize // 64
	// peerIDRawLen is the number of SHA-256 bytes folded into a peer id.
	peerIDRawLen = 20
)

// peerIDEncoding is the standard (uppercase) RFC 4648 base32 alphabet
// without padding; PeerIDFrom lowercases its output.
var peerIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// PrivateKey is a 32-byte Ed25519 seed. It never leaves the process in
// plaintext except through an explicit, caller-requested export for secret
// storage.
type PrivateKey [PrivateKeySize]byte

// PublicKey is a 32-byte Ed25519 public key.
type PublicKey [PublicKeySize]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// KeyPair bundles a private key with its derived public key and peer id.
//
// Note, deriving PeerID is heavy (one SHA-256 and one base32 encode). It is
// cached at construction time rather than recomputed per call.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
	PeerID  string
}

// Generate creates a new random Ed25519 key pair.
func Generate() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, merr.Wrap(merr.Validation, "failed to generate key pair", err)
	}
	kp := &KeyPair{}
	copy(kp.Private[:], priv.Seed())
	copy(kp.Public[:], pub)
	kp.PeerID = PeerIDFrom(kp.Public)
	return kp, nil
}

// FromSeed reconstructs a key pair from a 32-byte Ed25519 seed, e.g. after
// loading it from secret storage.
func FromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != PrivateKeySize {
		return nil, merr.New(merr.Validation, "invalid private key length")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	kp := &KeyPair{}
	copy(kp.Private[:], seed)
	copy(kp.Public[:], pub)
	kp.PeerID = PeerIDFrom(kp.Public)
	return kp, nil
}

// Sign signs data with the private key, returning a 64-byte signature.
func (kp *KeyPair) Sign(data []byte) Signature {
	priv := ed25519.NewKeyFromSeed(kp.Private[:])
	sig := ed25519.Sign(priv, data)
	var out Signature
	copy(out[:], sig)
	return out
}

// Sign signs data with a 32-byte private key seed. Fails with a Validation
// error if the key is not exactly 32 bytes.
func Sign(priv []byte, data []byte) (Signature, error) {
	if len(priv) != PrivateKeySize {
		return Signature{}, merr.New(merr.Validation, "invalid key length")
	}
	full := ed25519.NewKeyFromSeed(priv)
	var sig Signature
	copy(sig[:], ed25519.Sign(full, data))
	return sig, nil
}

// Verify checks a signature against data and a 32-byte public key. Returns
// merr.Signature on any malformed input or failed verification; the
// distinction between "malformed" and "failed" is not observable to the
// caller since both are equally fatal to the operation.
func Verify(pub []byte, data []byte, sig []byte) error {
	if len(pub) != PublicKeySize {
		return merr.New(merr.Signature, "invalid public key length")
	}
	if len(sig) != SignatureSize {
		return merr.New(merr.Signature, "invalid signature length")
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), data, sig) {
		return merr.New(merr.Signature, "signature verification failed")
	}
	return nil
}

// PeerIDFrom derives the self-certifying peer id from a public key: the
// first 20 bytes of SHA-256(pubkey), lowercase unpadded base32.
func PeerIDFrom(pub PublicKey) string {
	sum := sha256.Sum256(pub[:])
	return strings.ToLower(peerIDEncoding.EncodeToString(sum[:peerIDRawLen]))
}

// PeerIDFromBytes is the slice-accepting variant of PeerIDFrom, used when a
// public key arrives over the wire rather than as a fixed-size array.
func PeerIDFromBytes(pub []byte) (string, error) {
	if len(pub) != PublicKeySize {
		return "", merr.New(merr.Validation, "invalid public key length")
	}
	var arr PublicKey
	copy(arr[:], pub)
	return PeerIDFrom(arr), nil
}

// Equal performs a constant-time comparison of two public keys, to avoid
// leaking timing information when matching presented keys against a known
// identity.
func (pub PublicKey) Equal(other PublicKey) bool {
	return subtle.ConstantTimeCompare(pub[:], other[:]) == 1
}
