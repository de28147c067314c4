package descriptor

import (
	"sync"
	"testing"
	"time"

	"github.com/veilmesh/meshcore/identity"
	"github.com/veilmesh/meshcore/merr"
)

func freshDescriptor(kp *identity.KeyPair, seq uint64) Descriptor {
	d := Descriptor{
		PeerID:         kp.PeerID,
		SequenceNumber: seq,
		ExpiresAt:      time.Now().Add(time.Minute).UnixMilli(),
		Endpoints: []Endpoint{
			{TransportType: DirectQuic, Host: "1.2.3.4", Port: 4242, Scope: ScopeControlAndData},
		},
	}
	signed, _ := Sign(d, kp)
	return signed
}

func TestRollbackRejection(t *testing.T) {
	kp, _ := identity.Generate()
	store := NewStore()

	d5 := freshDescriptor(kp, 5)
	if err := store.Verify(d5, kp.Public); err != nil {
		t.Fatalf("expected seq 5 accepted: %v", err)
	}
	last, _ := store.LastAccepted(kp.PeerID)
	if last != 5 {
		t.Fatalf("expected last accepted 5, got %d", last)
	}

	dup := freshDescriptor(kp, 5)
	if err := store.Verify(dup, kp.Public); !merr.Is(err, merr.Rollback) {
		t.Fatalf("expected RollbackError for duplicate sequence, got %v", err)
	}
	last, _ = store.LastAccepted(kp.PeerID)
	if last != 5 {
		t.Fatalf("last accepted sequence changed after rejected descriptor: %d", last)
	}

	lower := freshDescriptor(kp, 3)
	if err := store.Verify(lower, kp.Public); !merr.Is(err, merr.Rollback) {
		t.Fatalf("expected RollbackError for lower sequence, got %v", err)
	}

	higher := freshDescriptor(kp, 6)
	if err := store.Verify(higher, kp.Public); err != nil {
		t.Fatalf("expected seq 6 accepted: %v", err)
	}
}

func TestExpiredDescriptorRejected(t *testing.T) {
	kp, _ := identity.Generate()
	store := NewStore()

	d := Descriptor{
		PeerID:         kp.PeerID,
		SequenceNumber: 1,
		ExpiresAt:      time.Now().Add(-time.Minute).UnixMilli(),
	}
	signed, _ := Sign(d, kp)

	if err := store.Verify(signed, kp.Public); !merr.Is(err, merr.Expired) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}
	if _, known := store.LastAccepted(kp.PeerID); known {
		t.Fatalf("expired descriptor should not update accepted sequence")
	}
}

func TestSignatureTamperDetected(t *testing.T) {
	kp, _ := identity.Generate()
	store := NewStore()

	d := freshDescriptor(kp, 1)
	d.SequenceNumber = 2 // mutate after signing without re-signing

	if err := store.Verify(d, kp.Public); !merr.Is(err, merr.Signature) {
		t.Fatalf("expected SignatureError for tampered descriptor, got %v", err)
	}
}

func TestConcurrentSameSequenceOnlyOneAccepted(t *testing.T) {
	kp, _ := identity.Generate()
	store := NewStore()

	const attempts = 32
	d := freshDescriptor(kp, 1)

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Verify(d, kp.Public)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range results {
		if err == nil {
			accepted++
		}
	}
	if accepted != 1 {
		t.Fatalf("expected exactly one concurrent verify to accept sequence 1, got %d", accepted)
	}
	last, known := store.LastAccepted(kp.PeerID)
	if !known || last != 1 {
		t.Fatalf("expected accepted sequence 1, got %d (known=%v)", last, known)
	}
}

func TestPeerIDMismatchRejected(t *testing.T) {
	kp, _ := identity.Generate()
	other, _ := identity.Generate()
	store := NewStore()

	d := freshDescriptor(kp, 1)
	if err := store.Verify(d, other.Public); !merr.Is(err, merr.Validation) {
		t.Fatalf("expected ValidationError for peer id/public key mismatch, got %v", err)
	}
}
