package envelope

import (
	"testing"
	"time"

	"github.com/veilmesh/meshcore/identity"
)

func TestSealVerifyRoundTrip(t *testing.T) {
	kp, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	now := time.Now()
	e := Seal(kp, "ping", "msg-1", now.UnixMilli(), []byte("hello"))

	if err := Verify(e, kp.Public, now); err != nil {
		t.Fatalf("expected valid envelope, got %v", err)
	}
}

func TestVerifyRejectsWrongSender(t *testing.T) {
	kp, _ := identity.Generate()
	other, _ := identity.Generate()
	now := time.Now()
	e := Seal(kp, "ping", "msg-1", now.UnixMilli(), []byte("hello"))

	if err := Verify(e, other.Public, now); err == nil {
		t.Fatalf("expected verification failure against mismatched key")
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	kp, _ := identity.Generate()
	now := time.Now()
	e := Seal(kp, "ping", "msg-1", now.UnixMilli(), []byte("hello"))
	e.Payload = []byte("hellx")

	if err := Verify(e, kp.Public, now); err == nil {
		t.Fatalf("expected verification failure on tampered payload")
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	kp, _ := identity.Generate()
	sealedAt := time.Now().Add(-2 * time.Hour)
	e := Seal(kp, "ping", "msg-1", sealedAt.UnixMilli(), []byte("hello"))

	if err := Verify(e, kp.Public, time.Now()); err == nil {
		t.Fatalf("expected stale timestamp rejected")
	}
}

func TestVerifyRejectsFutureTimestamp(t *testing.T) {
	kp, _ := identity.Generate()
	sealedAt := time.Now().Add(10 * time.Minute)
	e := Seal(kp, "ping", "msg-1", sealedAt.UnixMilli(), []byte("hello"))

	if err := Verify(e, kp.Public, time.Now()); err == nil {
		t.Fatalf("expected far-future timestamp rejected")
	}
}

func TestVerifyToleratesSmallClockDrift(t *testing.T) {
	kp, _ := identity.Generate()
	sealedAt := time.Now().Add(90 * time.Second)
	e := Seal(kp, "ping", "msg-1", sealedAt.UnixMilli(), []byte("hello"))

	if err := Verify(e, kp.Public, time.Now()); err != nil {
		t.Fatalf("expected small clock drift tolerated, got %v", err)
	}
}
