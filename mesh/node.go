// meshcore - self-certifying multi-transport mesh networking
// Copyright (c) 2020 Péter Szilágyi. All rights reserved.

// Package mesh wires the identity, descriptor, dht, pinstore, policy,
// ratelimit, replay, transport and circuit packages together into one
// node lifecycle, the same role tornet.Node plays for a Tor-only overlay:
// a single entry point that owns all subsystem state and exposes
// Start/Close/Connect to the application above it.
package mesh

import (
	"context"
	"crypto/sha256"
	"crypto/x509"
	"net"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/veilmesh/meshcore/circuit"
	"github.com/veilmesh/meshcore/config"
	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/dht"
	"github.com/veilmesh/meshcore/envelope"
	"github.com/veilmesh/meshcore/health"
	"github.com/veilmesh/meshcore/identity"
	"github.com/veilmesh/meshcore/merr"
	"github.com/veilmesh/meshcore/pinstore"
	"github.com/veilmesh/meshcore/policy"
	"github.com/veilmesh/meshcore/privacy"
	"github.com/veilmesh/meshcore/ratelimit"
	"github.com/veilmesh/meshcore/replay"
	"github.com/veilmesh/meshcore/safelog"
	"github.com/veilmesh/meshcore/transport"
)

// Node is a local mesh participant: it exclusively owns one identity, one
// routing table, one DHT store, one certificate pin store, one policy
// registry, one set of rate-limiter buckets, and one replay cache.
type Node struct {
	cfg config.Config
	kp  *identity.KeyPair

	Routing  *dht.RoutingTable
	Store    *dht.Store
	Pins     *pinstore.Store
	Descs    *descriptor.Store
	Policies *policy.Registry
	Dialers  *transport.Registry
	Throttle *ratelimit.Throttler
	Replay   *replay.Cache
	Health   *health.Aggregator
	Circuits *circuit.Builder

	selector *policy.Selector
	privacy  privacy.Config

	mu      sync.RWMutex
	peers   map[string]descriptor.Descriptor
	quit    chan chan error
	logger  log.Logger
}

// New constructs a node around kp with the given configuration. It wires
// every subsystem but does not start any background loops; call Start
// for that.
func New(cfg config.Config, kp *identity.KeyPair) (*Node, error) {
	pins, err := pinstore.Open(cfg.DataDir + "/pins.json")
	if err != nil {
		return nil, merr.Wrap(merr.Validation, "failed to open pin store", err)
	}

	id := identity.PeerIDFrom(kp.Public)
	sum := sha256.Sum256(kp.Public[:])
	var local dht.NodeID
	copy(local[:], sum[:dht.NodeIDLen])

	n := &Node{
		cfg:      cfg,
		kp:       kp,
		Pins:     pins,
		Descs:    descriptor.NewStore(),
		Store:    dht.NewStore(),
		Policies: policy.NewRegistry(),
		Dialers:  transport.NewRegistry(),
		Throttle: ratelimit.NewThrottler(),
		Replay:   replay.New(time.Hour),
		Health:   health.NewAggregator(),
		Circuits: circuit.NewBuilder(cfg.CircuitTTL, nil),
		peers:    make(map[string]descriptor.Descriptor),
		quit:     make(chan chan error),
		logger:   safelog.Logger(nil, id),
		privacy: privacy.Config{
			PaddingEnabled:   cfg.PrivacyPaddingEnabled,
			PaddingBuckets:   []int{256, 1024, 4096, 16384},
			JitterEnabled:    cfg.PrivacyJitterEnabled,
			JitterMinMs:      5,
			JitterMaxMs:      50,
			BatchingEnabled:  cfg.PrivacyBatching,
			BatchWindow:      50 * time.Millisecond,
			BatchMaxMessages: 16,
		},
	}
	n.Routing = dht.NewRoutingTable(local, n)

	if !cfg.DisableDirectQuic {
		n.Dialers.Register(transport.NewDirectQuic(transport.DirectQuicConfig{Pins: pins}))
	}
	if !cfg.DisableTor {
		n.Dialers.Register(transport.NewTorSocks(transport.TorSocksConfig{ProxyAddr: cfg.TorSocksAddr}))
	}
	if !cfg.DisableI2P {
		n.Dialers.Register(transport.NewI2PSocks(transport.I2PSocksConfig{ProxyAddr: cfg.I2PSocksAddr}))
	}
	n.Policies.Set([]policy.TransportPolicy{
		{Enabled: true, DisableClearnet: cfg.DisableClearnet, PreferPrivate: cfg.PreferPrivate},
	})
	n.selector = policy.NewSelector(n.Policies, n.Dialers, n.Throttle)

	return n, nil
}

// Ping implements dht.Pinger by attempting a cheap direct connection to a
// routing table entry's advertised endpoint, used for ping-before-evict
// liveness checks.
func (n *Node) Ping(ctx context.Context, e dht.Entry) bool {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", e.EndpointURI)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// PeerID returns this node's self-certifying identifier.
func (n *Node) PeerID() string { return n.kp.PeerID }

// Start launches the node's background maintenance loop, which once a
// minute sweeps expired DHT records and idle rate limiter buckets, cleans
// up stale pins and maintains circuits (the replay cache sweeps itself on
// insert), following the same chan-chan-error quit/drain idiom
// tornet.Server uses for its accept loop.
func (n *Node) Start() {
	go n.loop()
}

func (n *Node) loop() {
	sweep := time.NewTicker(time.Minute)
	defer sweep.Stop()

	for {
		select {
		case errc := <-n.quit:
			errc <- nil
			return
		case <-sweep.C:
			n.Store.Sweep()
			n.Throttle.Sweep()
			n.Pins.Cleanup()
			n.Circuits.Maintain()
		}
	}
}

// Close stops the background loops and releases node resources.
func (n *Node) Close() error {
	errc := make(chan error)
	n.quit <- errc
	err := <-errc
	if flushErr := n.Pins.Flush(); flushErr != nil && err == nil {
		err = flushErr
	}
	return err
}

// AcceptDescriptor verifies and caches a remote peer's descriptor,
// enforcing anti-rollback.
func (n *Node) AcceptDescriptor(d descriptor.Descriptor, pub identity.PublicKey) error {
	if err := n.Descs.Verify(d, pub); err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[d.PeerID] = d
	n.mu.Unlock()
	return nil
}

// Descriptor returns the cached, verified descriptor for peerID, if any.
func (n *Node) Descriptor(peerID string) (descriptor.Descriptor, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	d, ok := n.peers[peerID]
	return d, ok
}

// ValidateCertificate runs a presented certificate through the pin store
// for peerID.
func (n *Node) ValidateCertificate(peerID string, cert *x509.Certificate) error {
	_, _, _, err := n.Pins.Validate(peerID, cert)
	return err
}

// Connect establishes a session to peerID within the scope of podID,
// applying policy-driven transport selection and fail-closed semantics.
// dial performs the concrete connection attempt for a chosen candidate.
func (n *Node) Connect(ctx context.Context, peerID, podID string, dial policy.DialFunc) (net.Conn, error) {
	n.mu.RLock()
	d, ok := n.peers[peerID]
	n.mu.RUnlock()
	if !ok {
		return nil, merr.New(merr.NotFound, "no known descriptor for peer").WithPeer(peerID)
	}

	fails, lastClearnet, everPrivate := n.Health.History(peerID)
	history := policy.TrustHistory{
		ConsecutivePrivateFailures: fails,
		LastSuccessWasClearnet:     lastClearnet,
		HasEverConnectedPrivate:    everPrivate,
	}
	if policy.AttackPatternDetected(history) {
		n.logger.Warn("possible forced transport downgrade", "peer", safelog.MaskPeerID(peerID), "consecutivePrivateFailures", history.ConsecutivePrivateFailures)
	}

	cand, conn, err := n.selector.Select(ctx, peerID, podID, d, history, dial)
	n.Health.Report(peerID, health.Outcome{
		Success:   err == nil,
		Transport: transportTypeOf(cand),
		Err:       errString(err),
	})
	return conn, err
}

func transportTypeOf(c policy.Candidate) descriptor.TransportType { return c.Endpoint.TransportType }

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Envelope seals a control-plane payload with the node's own identity.
func (n *Node) Envelope(msgType, messageID string, payload []byte) envelope.ControlEnvelope {
	return envelope.Seal(n.kp, msgType, messageID, time.Now().UnixMilli(), payload)
}

// VerifyEnvelope verifies an inbound envelope and rejects it as a replay
// if its message id has already been seen within the freshness window.
// Signature and freshness are checked first, replay second, so a forged
// envelope never gets the chance to poison the replay cache.
func (n *Node) VerifyEnvelope(e envelope.ControlEnvelope, pub identity.PublicKey) error {
	if err := envelope.Verify(e, pub, time.Now()); err != nil {
		return err
	}
	if n.Replay.CheckAndInsert(e.MessageID) {
		return merr.New(merr.Replay, "duplicate message id").WithPeer(e.SenderID)
	}
	return nil
}
