// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package canon produces the deterministic byte encodings that get signed
// and verified across the mesh core: peer descriptors (section 4.2) and
// control envelopes. The encoding never uses floating point, map iteration
// order, or compression, and sorts every unordered field before emitting it
// so that two semantically equivalent values always produce identical
// bytes.
package canon

import (
	"encoding/base64"
	"encoding/binary"
	"sort"
	"strconv"
)

// Endpoint is the subset of a transport endpoint's fields that participate
// in canonical descriptor encoding, decoupled from the descriptor package's
// richer type to keep this package dependency-free.
type Endpoint struct {
	TransportType string
	Host          string
	Port          uint16
	Scope         string
	Preference    int32
	Cost          int32
	ValidFrom     int64 // 0 means unset
	ValidTo       int64 // 0 means unset
}

// Descriptor is the subset of PeerDescriptor fields that are signed.
type Descriptor struct {
	PeerID             string
	SequenceNumber     uint64
	ExpiresAt          int64
	Endpoints          []Endpoint
	CertificatePins    []string // base64-encoded SHA-256(SPKI)
	ControlSigningKeys []string // base64-encoded public keys
}

// writeString emits a length-prefixed UTF-8 string so that field boundaries
// never depend on delimiter characters that might appear in the data.
func writeString(buf *[]byte, s string) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(s)))
	*buf = append(*buf, lenBytes[:]...)
	*buf = append(*buf, s...)
}

func writeUint64(buf *[]byte, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	*buf = append(*buf, b[:]...)
}

func writeInt64(buf *[]byte, v int64) {
	writeUint64(buf, uint64(v))
}

func writeInt32(buf *[]byte, v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	*buf = append(*buf, b[:]...)
}

// sortedEndpoints returns a copy of eps sorted by (transport_type, host,
// port), a locale-independent comparator so two signers never disagree on
// byte order.
func sortedEndpoints(eps []Endpoint) []Endpoint {
	out := make([]Endpoint, len(eps))
	copy(out, eps)
	sort.Slice(out, func(i, j int) bool {
		if out[i].TransportType != out[j].TransportType {
			return out[i].TransportType < out[j].TransportType
		}
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}

func sortedStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// EncodeDescriptor produces the canonical, deterministic byte form of a
// descriptor's signable fields. Field order is fixed; unordered
// sub-collections (endpoints, pins, signing keys) are sorted first.
func EncodeDescriptor(d Descriptor) []byte {
	var buf []byte

	writeString(&buf, d.PeerID)
	writeUint64(&buf, d.SequenceNumber)
	writeInt64(&buf, d.ExpiresAt)

	eps := sortedEndpoints(d.Endpoints)
	writeUint64(&buf, uint64(len(eps)))
	for _, ep := range eps {
		writeString(&buf, ep.TransportType)
		writeString(&buf, ep.Host)
		var portBytes [2]byte
		binary.BigEndian.PutUint16(portBytes[:], ep.Port)
		buf = append(buf, portBytes[:]...)
		writeString(&buf, ep.Scope)
		writeInt32(&buf, ep.Preference)
		writeInt32(&buf, ep.Cost)
		writeInt64(&buf, ep.ValidFrom)
		writeInt64(&buf, ep.ValidTo)
	}

	pins := sortedStrings(d.CertificatePins)
	writeUint64(&buf, uint64(len(pins)))
	for _, p := range pins {
		writeString(&buf, p)
	}

	keys := sortedStrings(d.ControlSigningKeys)
	writeUint64(&buf, uint64(len(keys)))
	for _, k := range keys {
		writeString(&buf, k)
	}

	return buf
}

// EncodeEnvelope produces the canonical signable bytes for a control
// envelope: UTF-8(type | "|" | message_id | "|" | timestamp_ms |
// "|" | base64(sha256(payload))).
func EncodeEnvelope(msgType, messageID string, timestampMs int64, payloadSHA256 [32]byte) []byte {
	digest := base64.StdEncoding.EncodeToString(payloadSHA256[:])
	s := msgType + "|" + messageID + "|" + strconv.FormatInt(timestampMs, 10) + "|" + digest
	return []byte(s)
}
