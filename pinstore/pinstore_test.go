package pinstore

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"math/big"
	"path/filepath"
	"testing"
	"time"
)

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse cert: %v", err)
	}
	return cert
}

func TestTOFUAcceptsFirstPinOnce(t *testing.T) {
	s := New()
	cert := selfSignedCert(t)

	accepted, tofu, _, err := s.Validate("peer1", cert)
	if err != nil || !accepted || !tofu {
		t.Fatalf("expected TOFU accept, got accepted=%v tofu=%v err=%v", accepted, tofu, err)
	}

	accepted, tofu, _, err = s.Validate("peer1", cert)
	if err != nil || !accepted || tofu {
		t.Fatalf("second validation with same cert should accept without TOFU flag, got accepted=%v tofu=%v err=%v", accepted, tofu, err)
	}
}

func TestPinMismatchRejected(t *testing.T) {
	s := New()
	cert1 := selfSignedCert(t)
	cert2 := selfSignedCert(t)

	s.Validate("peer1", cert1)
	accepted, _, _, err := s.Validate("peer1", cert2)
	if accepted || err == nil {
		t.Fatalf("expected rejection for mismatched pin, got accepted=%v err=%v", accepted, err)
	}
}

func TestPreviousPinAcceptedWithinWindow(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	cert1 := selfSignedCert(t)
	cert2 := selfSignedCert(t)

	s.Validate("peer1", cert1)
	pin1 := ComputeSPKIPin(cert1)

	// Rotate to cert2 as current; cert1's pin demotes to previous.
	s.AddPin("peer1", ComputeSPKIPin(cert2), true)

	accepted, _, transitioned, err := s.Validate("peer1", cert1)
	if err != nil || !accepted || !transitioned {
		t.Fatalf("expected previous-pin transition accept, got accepted=%v transitioned=%v err=%v", accepted, transitioned, err)
	}

	info, _ := s.Info("peer1")
	found := false
	for _, p := range info.PreviousPins {
		if p == pin1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected demoted pin in previous set")
	}

	// Advance beyond the rotation window; previous pin should no longer work.
	s.now = func() time.Time { return fixed.Add(31 * 24 * time.Hour) }
	accepted, _, _, err = s.Validate("peer1", cert1)
	if accepted || err == nil {
		t.Fatalf("expected previous pin to expire after 30 days")
	}
}

func TestFlushAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pins.json")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cert := selfSignedCert(t)
	s.Validate("peer1", cert)
	if err := s.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	info, ok := reloaded.Info("peer1")
	if !ok || len(info.CurrentPins) != 1 {
		t.Fatalf("expected reloaded pin state, got %+v ok=%v", info, ok)
	}
}

func TestCleanupRemovesStalePeers(t *testing.T) {
	s := New()
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	cert := selfSignedCert(t)
	s.Validate("peer1", cert)

	// Demote the only pin and move far past both TTLs.
	s.mu.Lock()
	s.peers["peer1"].CurrentPins = nil
	s.peers["peer1"].LastRotation = fixed.Add(-31 * 24 * time.Hour)
	s.peers["peer1"].LastValidate = fixed.Add(-91 * 24 * time.Hour)
	s.mu.Unlock()

	s.Cleanup()

	if _, ok := s.Info("peer1"); ok {
		t.Fatalf("expected stale peer to be cleaned up")
	}
}
