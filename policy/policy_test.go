package policy

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/veilmesh/meshcore/descriptor"
	"github.com/veilmesh/meshcore/transport"
	"github.com/veilmesh/meshcore/transport/mocktransport"
)

func sampleDescriptor() descriptor.Descriptor {
	return descriptor.Descriptor{
		PeerID: "peer1",
		Endpoints: []descriptor.Endpoint{
			{TransportType: descriptor.DirectQuic, Host: "198.51.100.1", Port: 1, Preference: 0},
			{TransportType: descriptor.TorOnionQuic, Host: "expyuzz4wqqyqhjn.onion", Port: 1, Preference: 0},
		},
	}
}

func newRegistries(t *testing.T) (*transport.Registry, *mocktransport.Dialer, *mocktransport.Dialer) {
	t.Helper()
	direct := mocktransport.New(descriptor.DirectQuic)
	tor := mocktransport.New(descriptor.TorOnionQuic)

	reg := transport.NewRegistry()
	reg.Register(direct)
	reg.Register(tor)
	return reg, direct, tor
}

func TestFailClosedRejectsWhenOnlyClearnetAvailable(t *testing.T) {
	reg := transport.NewRegistry()
	reg.Register(mocktransport.New(descriptor.DirectQuic))

	policies := NewRegistry()
	policies.Set([]TransportPolicy{{DisableClearnet: true, Enabled: true}})

	sel := NewSelector(policies, reg, nil)
	d := descriptor.Descriptor{
		PeerID:    "peer1",
		Endpoints: []descriptor.Endpoint{{TransportType: descriptor.DirectQuic, Host: "198.51.100.1", Port: 1}},
	}

	_, _, err := sel.Select(context.Background(), "peer1", "", d, TrustHistory{}, func(ctx context.Context, c Candidate) (net.Conn, error) {
		t.Fatalf("dial should never be attempted under fail-closed rejection")
		return nil, nil
	})
	if err == nil {
		t.Fatalf("expected fail-closed policy error")
	}
}

func TestPreferPrivateOrdersOnionFirst(t *testing.T) {
	reg, _, _ := newRegistries(t)
	policies := NewRegistry()
	policies.Set([]TransportPolicy{{PreferPrivate: true, Enabled: true}})

	sel := NewSelector(policies, reg, nil)
	d := sampleDescriptor()

	cands, err := sel.candidates(d, "", policies.Resolve("peer1", ""), TrustHistory{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cands) == 0 || cands[0].Endpoint.TransportType != descriptor.TorOnionQuic {
		t.Fatalf("expected onion candidate ranked first with prefer_private, got %+v", cands)
	}
}

func TestSelectFallsThroughToNextCandidateOnFailure(t *testing.T) {
	reg, _, _ := newRegistries(t)
	policies := NewRegistry()
	sel := NewSelector(policies, reg, nil)
	d := sampleDescriptor()

	attempts := 0
	_, _, err := sel.Select(context.Background(), "peer1", "", d, TrustHistory{}, func(ctx context.Context, c Candidate) (net.Conn, error) {
		attempts++
		if c.Endpoint.TransportType == descriptor.DirectQuic {
			return nil, errors.New("direct failed")
		}
		client, _ := net.Pipe()
		return client, nil
	})
	if err != nil {
		t.Fatalf("expected eventual success after falling through, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected selector to try more than one candidate, tried %d", attempts)
	}
}

func TestPolicySpecificityPrefersPeerMatch(t *testing.T) {
	policies := NewRegistry()
	policies.Set([]TransportPolicy{
		{Enabled: true, PreferPrivate: false},
		{Enabled: true, PeerID: "peer1", PreferPrivate: true},
	})
	resolved := policies.Resolve("peer1", "")
	if !resolved.PreferPrivate {
		t.Fatalf("expected peer-specific policy to win over the global default")
	}
}

func TestAttackPatternDetection(t *testing.T) {
	h := TrustHistory{ConsecutivePrivateFailures: 3, LastSuccessWasClearnet: true}
	if !AttackPatternDetected(h) {
		t.Fatalf("expected attack pattern flagged for repeated private failures then clearnet success")
	}
	if AttackPatternDetected(TrustHistory{}) {
		t.Fatalf("expected no attack pattern for clean history")
	}
}
