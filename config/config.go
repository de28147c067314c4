// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package config defines the node's flat, flag-constructible
// configuration struct, in the same style tornet.ServerConfig and
// tornet.PeerSetConfig use: one struct per concern, zero-value defaults
// filled in by the constructor rather than scattered through the code
// that consumes them.
package config

import (
	"flag"
	"time"

	"github.com/veilmesh/meshcore/params"
)

// Config is the top-level node configuration.
type Config struct {
	// DataDir holds the node's persisted state; mesh.New keeps the pin
	// store snapshot (pins.json) there.
	DataDir string

	// TorSocksAddr is the local Tor SOCKS5 proxy address.
	TorSocksAddr string
	// I2PSocksAddr is the local I2P SOCKS5 proxy address.
	I2PSocksAddr string

	// DisableDirectQuic, DisableTor and DisableI2P turn off the
	// corresponding dialer entirely, independent of policy.
	DisableDirectQuic bool
	DisableTor        bool
	DisableI2P        bool

	// DisableClearnet is the default global policy's disable_clearnet
	// flag; per-peer/per-pod policies can still
	// override it with higher specificity.
	DisableClearnet bool
	PreferPrivate   bool

	DescriptorTTL time.Duration
	CircuitHops   int
	CircuitTTL    time.Duration

	// mesh.New copies PrivacyPaddingEnabled, PrivacyJitterEnabled and
	// PrivacyBatching into the node's privacy settings and does not read
	// PrivacyCoverTraffic; mesh.Node.Connect does not apply those settings
	// to the connections it returns.
	PrivacyPaddingEnabled bool
	PrivacyJitterEnabled  bool
	PrivacyBatching       bool
	PrivacyCoverTraffic   bool

	ListenHost string
	ListenPort int

	// DebugAddr is where the dev binary serves its debug HTTP surface
	// (DHT record lookup, descriptor dump). Empty disables it.
	DebugAddr string
}

// Default returns a Config with reasonable out-of-the-box defaults,
// suitable as a starting point before flags or a config file override
// individual fields.
func Default() Config {
	return Config{
		DataDir:               "./meshcore-data",
		TorSocksAddr:          "127.0.0.1:9050",
		I2PSocksAddr:          "127.0.0.1:4447",
		DescriptorTTL:         params.DescriptorDefaultTTL,
		CircuitHops:           3,
		CircuitTTL:            params.CircuitDefaultTTL,
		PrivacyPaddingEnabled: true,
		PrivacyJitterEnabled:  true,
		PrivacyBatching:       false,
		PrivacyCoverTraffic:   false,
		ListenHost:            "0.0.0.0",
		ListenPort:            0,
		DebugAddr:             "127.0.0.1:8787",
	}
}

// RegisterFlags binds c's fields to flag.FlagSet f, for use by the dev
// CLI entrypoint. Defaults already present in c are used as the flags'
// default values, so callers typically pass config.Default() in.
func RegisterFlags(f *flag.FlagSet, c *Config) {
	f.StringVar(&c.DataDir, "datadir", c.DataDir, "directory for node state")
	f.StringVar(&c.TorSocksAddr, "tor-socks", c.TorSocksAddr, "local Tor SOCKS5 proxy address")
	f.StringVar(&c.I2PSocksAddr, "i2p-socks", c.I2PSocksAddr, "local I2P SOCKS5 proxy address")
	f.BoolVar(&c.DisableDirectQuic, "disable-direct", c.DisableDirectQuic, "disable the direct QUIC dialer")
	f.BoolVar(&c.DisableTor, "disable-tor", c.DisableTor, "disable the Tor dialer")
	f.BoolVar(&c.DisableI2P, "disable-i2p", c.DisableI2P, "disable the I2P dialer")
	f.BoolVar(&c.DisableClearnet, "disable-clearnet", c.DisableClearnet, "refuse clearnet transports by default")
	f.BoolVar(&c.PreferPrivate, "prefer-private", c.PreferPrivate, "prefer Tor/I2P endpoints when available")
	f.DurationVar(&c.DescriptorTTL, "descriptor-ttl", c.DescriptorTTL, "lifetime of a freshly signed peer descriptor")
	f.IntVar(&c.CircuitHops, "circuit-hops", c.CircuitHops, "number of hops per built circuit")
	f.DurationVar(&c.CircuitTTL, "circuit-ttl", c.CircuitTTL, "lifetime of a built circuit")
	f.BoolVar(&c.PrivacyPaddingEnabled, "privacy-padding", c.PrivacyPaddingEnabled, "enable message padding")
	f.BoolVar(&c.PrivacyJitterEnabled, "privacy-jitter", c.PrivacyJitterEnabled, "enable timing jitter")
	f.BoolVar(&c.PrivacyBatching, "privacy-batching", c.PrivacyBatching, "enable message batching")
	f.BoolVar(&c.PrivacyCoverTraffic, "privacy-cover-traffic", c.PrivacyCoverTraffic, "enable cover traffic")
	f.StringVar(&c.ListenHost, "listen-host", c.ListenHost, "local listen address for inbound direct QUIC")
	f.IntVar(&c.ListenPort, "listen-port", c.ListenPort, "local listen port for inbound direct QUIC, 0 picks any")
	f.StringVar(&c.DebugAddr, "debug-addr", c.DebugAddr, "address for the debug HTTP surface (dht-get, descriptor-dump); empty disables it")
}
