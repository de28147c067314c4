// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package transport

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/merr"
)

// TorSocksConfig configures the Tor SOCKS5 dialer.
type TorSocksConfig struct {
	// ProxyAddr is the local Tor SOCKS5 listener, e.g. "127.0.0.1:9050".
	ProxyAddr string
	IdleTimeout time.Duration
}

// TorSocks dials .onion peers through a local Tor SOCKS5 proxy. It never
// accepts a non-.onion hostname, since sending clearnet hostnames to the
// proxy would still leak to whoever resolves them at the exit.
type TorSocks struct {
	counters
	cfg TorSocksConfig
}

// NewTorSocks creates a Tor SOCKS5 dialer.
func NewTorSocks(cfg TorSocksConfig) *TorSocks {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &TorSocks{cfg: cfg}
}

// TransportType implements Dialer.
func (t *TorSocks) TransportType() descriptor.TransportType { return descriptor.TorOnionQuic }

// CanHandle implements Dialer.
func (t *TorSocks) CanHandle(ep descriptor.Endpoint) bool {
	return ep.TransportType == descriptor.TorOnionQuic && isOnionHost(ep.Host)
}

// IsAvailable implements Dialer, probing the local proxy port.
func (t *TorSocks) IsAvailable(ctx context.Context) bool {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", t.cfg.ProxyAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isOnionHost validates a hostname as a syntactically correct v2 (16
// char) or v3 (56 char) onion address before it is ever handed to the
// proxy, so a malformed or clearnet hostname can never reach the network.
func isOnionHost(host string) bool {
	const suffix = ".onion"
	if len(host) <= len(suffix) || host[len(host)-len(suffix):] != suffix {
		return false
	}
	label := host[:len(host)-len(suffix)]
	switch len(label) {
	case 16, 56:
	default:
		return false
	}
	for _, r := range label {
		if !isBase32Char(r) {
			return false
		}
	}
	return true
}

func isBase32Char(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '2' && r <= '7')
}

// deriveIsolationCreds turns an isolation key into a deterministic SOCKS5
// username/password pair, so the same key always maps to the same proxy
// circuit while distinct keys (and therefore the pods/contexts using them)
// never share one.
func deriveIsolationCreds(isolationKey string) (user, pass string) {
	sum := sha256.Sum256([]byte(isolationKey))
	enc := base64.RawStdEncoding
	return enc.EncodeToString(sum[0:16]), enc.EncodeToString(sum[16:32])
}

// Dial opens a stream to an .onion peer through the Tor SOCKS5 proxy.
func (t *TorSocks) Dial(ctx context.Context, ep descriptor.Endpoint, peerID, isolationKey string) (net.Conn, error) {
	if !isOnionHost(ep.Host) {
		return nil, merr.New(merr.Validation, "refusing to dial non-onion host over tor transport").WithPeer(peerID)
	}
	t.recordAttempt()
	start := time.Now()

	var auth *proxy.Auth
	if isolationKey != "" {
		user, pass := deriveIsolationCreds(isolationKey)
		auth = &proxy.Auth{User: user, Password: pass}
	}

	dialer, err := proxy.SOCKS5("tcp", t.cfg.ProxyAddr, auth, proxy.Direct)
	if err != nil {
		t.recordFailure(err)
		return nil, merr.Wrap(merr.Transport, "tor socks5 dialer setup failed", err).WithPeer(peerID)
	}

	addr := fmt.Sprintf("%s:%d", ep.Host, ep.Port)
	type ctxDialer interface {
		DialContext(ctx context.Context, network, addr string) (net.Conn, error)
	}
	var conn net.Conn
	if cd, ok := dialer.(ctxDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.Dial("tcp", addr)
	}
	if err != nil {
		t.recordFailure(err)
		return nil, merr.Wrap(merr.Transport, "tor socks5 dial failed", err).WithPeer(peerID)
	}

	t.recordSuccess(time.Since(start))
	return newTrackedConn(conn, t.cfg.IdleTimeout, t.recordClose), nil
}

// Stats implements Dialer.
func (t *TorSocks) Stats() DialerStats { return t.snapshot() }
