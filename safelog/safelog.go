// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package safelog wraps github.com/ethereum/go-ethereum/log with
// redaction rules: private keys and signatures are masked entirely, peer
// ids are truncated to first4...last4, and host/IP strings are partially
// masked unless they're loopback or RFC1918, which stay intact since they
// carry no meaningful privacy risk and are useful for local debugging.
package safelog

import (
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/p2p/netutil"
)

// MaskPeerID truncates a peer id to first4...last4. Short ids (<=8 chars)
// are returned unchanged since truncation would reveal nothing extra but
// could look like a bug.
func MaskPeerID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:4] + "..." + id[len(id)-4:]
}

// MaskSecret always returns a fixed placeholder: keys and signatures carry
// no useful partial-disclosure, unlike peer ids or hosts.
func MaskSecret(string) string {
	return "[redacted]"
}

// MaskHost masks a hostname or IP address for logging. Loopback and
// RFC1918/private addresses are left intact since they're either local-only
// or already non-routable off the operator's own network. Public IPs have
// their trailing three octets masked; other hostnames have everything but
// the top-level label masked.
func MaskHost(host string) string {
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || netutil.IsLAN(ip) {
			return host
		}
		if v4 := ip.To4(); v4 != nil {
			return v4.String()[:strings.IndexByte(v4.String(), '.')] + ".x.x.x"
		}
		return "[redacted-ipv6]"
	}
	if host == "localhost" {
		return host
	}
	labels := strings.Split(host, ".")
	if len(labels) <= 1 {
		return "[redacted-host]"
	}
	return "*." + labels[len(labels)-1]
}

// WrapErr passes an error's message through redactText, for error values
// that might have interpolated raw endpoint data into their message. Only
// IP address tokens are masked; hostnames and peer ids in the message are
// left as they are.
func WrapErr(err error) error {
	if err == nil {
		return nil
	}
	return redactedErr{err}
}

type redactedErr struct{ err error }

func (r redactedErr) Error() string { return redactText(r.err.Error()) }
func (r redactedErr) Unwrap() error { return r.err }

// redactText is a best-effort scrub of free-form text: it does not attempt
// full tokenization, only masks whitespace-separated tokens that parse as
// IPv4 or IPv6 addresses, applying MaskHost to each.
func redactText(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		if ip := net.ParseIP(strings.Trim(p, ".,:;")); ip != nil {
			parts[i] = MaskHost(ip.String())
		}
	}
	return strings.Join(parts, " ")
}

// Logger returns a contextual logger with the peer id already masked, in
// the same style tornet uses logger.New("peer", uid) but safe by
// construction.
func Logger(base log.Logger, peerID string) log.Logger {
	if base == nil {
		base = log.Root()
	}
	return base.New("peer", MaskPeerID(peerID))
}
