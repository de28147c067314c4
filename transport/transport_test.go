package transport

import (
	"context"
	"testing"

	"github.com/veilmesh/meshcore/descriptor"
)

func TestTorDialerRejectsNonOnionHost(t *testing.T) {
	d := NewTorSocks(TorSocksConfig{ProxyAddr: "127.0.0.1:9050"})
	ep := descriptor.Endpoint{TransportType: descriptor.TorOnionQuic, Host: "example.com", Port: 443}

	_, err := d.Dial(context.Background(), ep, "peer1", "")
	if err == nil {
		t.Fatalf("expected clearnet hostname to be rejected before reaching the proxy")
	}
}

func TestIsOnionHostValidatesLength(t *testing.T) {
	cases := map[string]bool{
		"expyuzz4wqqyqhjn.onion":                                       true,
		"duskgytldkxiuqc6.onion":                                       true,
		"facebookcorewwwi.onion":                                       true,
		"example.com":                                                  false,
		"a.onion":                                                      false,
		"toolongtoolongtoolongtoolongtoolongtoolongtoolongtoolongx.onion": false,
	}
	for host, want := range cases {
		if got := isOnionHost(host); got != want {
			t.Errorf("isOnionHost(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestDeriveIsolationCredsDeterministic(t *testing.T) {
	u1, p1 := deriveIsolationCreds("pod-42")
	u2, p2 := deriveIsolationCreds("pod-42")
	if u1 != u2 || p1 != p2 {
		t.Fatalf("expected same isolation key to derive same credentials")
	}

	u3, p3 := deriveIsolationCreds("pod-43")
	if u1 == u3 && p1 == p3 {
		t.Fatalf("expected distinct isolation keys to derive distinct credentials")
	}
}

func TestIsI2PHostValidatesCharsetAndLength(t *testing.T) {
	if !isI2PHost("my-dest_01.i2p") {
		t.Fatalf("expected valid i2p label accepted")
	}
	if isI2PHost("bad$char.i2p") {
		t.Fatalf("expected invalid charset rejected")
	}
	if isI2PHost("plain.com") {
		t.Fatalf("expected non-i2p suffix rejected")
	}
}

func TestI2PDialerRejectsNonI2PHost(t *testing.T) {
	d := NewI2PSocks(I2PSocksConfig{ProxyAddr: "127.0.0.1:4447"})
	ep := descriptor.Endpoint{TransportType: descriptor.I2PQuic, Host: "example.com", Port: 443}

	_, err := d.Dial(context.Background(), ep, "peer1", "")
	if err == nil {
		t.Fatalf("expected clearnet hostname to be rejected before reaching the proxy")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	d := NewDirectQuic(DirectQuicConfig{})
	r.Register(d)

	got, ok := r.Get(descriptor.DirectQuic)
	if !ok || got != d {
		t.Fatalf("expected registered direct quic dialer to be retrievable")
	}
	if _, ok := r.Get(descriptor.TorOnionQuic); ok {
		t.Fatalf("expected no tor dialer registered")
	}
	if len(r.All()) != 1 {
		t.Fatalf("expected one dialer in registry, got %d", len(r.All()))
	}
}
