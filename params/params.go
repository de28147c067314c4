// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package params contains constants relevant to all subsystems.
package params

import "time"

const (
	// TransportDirectQuic identifies the clearnet QUIC transport in
	// config and CLI flags.
	TransportDirectQuic = "direct-quic"

	// TransportTorOnion identifies the Tor SOCKS5 onion transport in
	// config and CLI flags.
	TransportTorOnion = "tor-onion"

	// TransportI2P identifies the I2P SOCKS5 transport in config and CLI
	// flags.
	TransportI2P = "i2p"
)

const (
	// DescriptorDefaultTTL is how long a freshly signed peer descriptor
	// remains valid before it must be re-signed and republished.
	DescriptorDefaultTTL = 24 * time.Hour

	// PinPreviousGrace is how long a demoted certificate pin is still
	// accepted after rotation.
	PinPreviousGrace = 30 * 24 * time.Hour

	// PinInactivityCleanup is how long a peer's pin record is kept after
	// its last validation before cleanup drops it.
	PinInactivityCleanup = 90 * 24 * time.Hour

	// RateLimiterSweepPeriod is how often idle rate-limit buckets are
	// swept from the registry.
	RateLimiterSweepPeriod = time.Hour

	// EnvelopeFreshnessWindow bounds how old a signed control envelope
	// may be before it is rejected as stale.
	EnvelopeFreshnessWindow = time.Hour

	// CircuitDefaultTTL is the default lifetime of a built circuit before
	// maintenance tears it down.
	CircuitDefaultTTL = 10 * time.Minute

	// CoverTrafficMinInterval is the floor on the cover-traffic base
	// interval regardless of configuration.
	CoverTrafficMinInterval = time.Second
)
