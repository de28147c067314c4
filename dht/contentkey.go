// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package dht

import (
	"encoding/base32"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/veilmesh/meshcore/merr"
)

// idEncoding is the standard (uppercase) RFC 4648 base32 alphabet without
// padding, the same one identity.PeerIDFrom uses before lowercasing;
// ParseNodeID uppercases its input so the lowercase peer id form works
// for node ids too.
var idEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ParseNodeID decodes a base32 node id string (as produced by identity
// peer ids or ContentKey) back into a NodeID.
func ParseNodeID(s string) (NodeID, error) {
	var id NodeID
	raw, err := idEncoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return id, merr.Wrap(merr.Validation, "invalid node id encoding", err)
	}
	if len(raw) != NodeIDLen {
		return id, merr.New(merr.Validation, "node id has wrong length")
	}
	copy(id[:], raw)
	return id, nil
}

// ContentKey derives the 20-byte DHT key under which content should be
// published, using SHA3-256 of the raw content identifier bytes (e.g. a
// file hash or a topic name) truncated to the node id length. SHA3 is
// used here rather than SHA-256 specifically so content keys and
// identity-derived peer ids (which do use SHA-256) never collide by
// construction across the two derivation domains.
func ContentKey(content []byte) NodeID {
	sum := sha3.Sum256(content)
	var key NodeID
	copy(key[:], sum[:NodeIDLen])
	return key
}
