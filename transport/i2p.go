// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/merr"
)

// I2PSocksConfig configures the I2P SOCKS5 dialer.
type I2PSocksConfig struct {
	// ProxyAddr is the local I2P SOCKS5 listener, e.g. "127.0.0.1:4447".
	ProxyAddr   string
	IdleTimeout time.Duration
}

// I2PSocks dials .i2p peers through a local I2P SOCKS5 proxy, mirroring
// TorSocks but with I2P's looser label syntax.
type I2PSocks struct {
	counters
	cfg I2PSocksConfig
}

// NewI2PSocks creates an I2P SOCKS5 dialer.
func NewI2PSocks(cfg I2PSocksConfig) *I2PSocks {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &I2PSocks{cfg: cfg}
}

// TransportType implements Dialer.
func (i *I2PSocks) TransportType() descriptor.TransportType { return descriptor.I2PQuic }

// CanHandle implements Dialer.
func (i *I2PSocks) CanHandle(ep descriptor.Endpoint) bool {
	return ep.TransportType == descriptor.I2PQuic && isI2PHost(ep.Host)
}

// IsAvailable implements Dialer, probing the local proxy port.
func (i *I2PSocks) IsAvailable(ctx context.Context) bool {
	d := net.Dialer{Timeout: 2 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", i.cfg.ProxyAddr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// isI2PHost validates a hostname ending in .i2p with a label of 1-200
// characters drawn from the [A-Za-z0-9._-] charset I2P destinations use,
// guarding against clearnet hostnames reaching the proxy the same way the
// Tor dialer guards .onion.
func isI2PHost(host string) bool {
	const suffix = ".i2p"
	if len(host) <= len(suffix) || host[len(host)-len(suffix):] != suffix {
		return false
	}
	label := host[:len(host)-len(suffix)]
	if len(label) < 1 || len(label) > 200 {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// Dial opens a stream to an .i2p peer through the I2P SOCKS5 proxy.
func (i *I2PSocks) Dial(ctx context.Context, ep descriptor.Endpoint, peerID, isolationKey string) (net.Conn, error) {
	if !isI2PHost(ep.Host) {
		return nil, merr.New(merr.Validation, "refusing to dial non-i2p host over i2p transport").WithPeer(peerID)
	}
	i.recordAttempt()
	start := time.Now()

	// I2P's SOCKS5 proxy takes no credentials; stream isolation by
	// isolationKey is a Tor-specific feature this transport doesn't have.
	dialer, err := proxy.SOCKS5("tcp", i.cfg.ProxyAddr, nil, proxy.Direct)
	if err != nil {
		i.recordFailure(err)
		return nil, merr.Wrap(merr.Transport, "i2p socks5 dialer setup failed", err).WithPeer(peerID)
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
		i.recordFailure(err)
		return nil, merr.Wrap(merr.Transport, "i2p socks5 dial failed", err).WithPeer(peerID)
	}

	i.recordSuccess(time.Since(start))
	return newTrackedConn(conn, i.cfg.IdleTimeout, i.recordClose), nil
}

// Stats implements Dialer.
func (i *I2PSocks) Stats() DialerStats { return i.snapshot() }
