package nat

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeStun struct {
	mapped *net.UDPAddr
	err    error
}

func (f fakeStun) Binding(ctx context.Context, local *net.UDPAddr) (*net.UDPAddr, error) {
	return f.mapped, f.err
}

func TestClassifyDirect(t *testing.T) {
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	c := &Classifier{Stun: fakeStun{mapped: local}}
	class, err := c.Classify(context.Background(), local, 2)
	if err != nil || class != Direct {
		t.Fatalf("expected Direct, got %v err=%v", class, err)
	}
}

func TestClassifyMappedDiffers(t *testing.T) {
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	mapped := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 55555}
	c := &Classifier{Stun: fakeStun{mapped: mapped}}
	class, err := c.Classify(context.Background(), local, 2)
	if err != nil || class != FullCone {
		t.Fatalf("expected FullCone with two stun observations, got %v err=%v", class, err)
	}
}

func TestClassifyPropagatesStunError(t *testing.T) {
	local := &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	c := &Classifier{Stun: fakeStun{err: errors.New("unreachable")}}
	_, err := c.Classify(context.Background(), local, 2)
	if err == nil {
		t.Fatalf("expected error propagated from stun client")
	}
}

func TestSequencePrefersDirect(t *testing.T) {
	conn, _ := net.Pipe()
	res := Sequence(context.Background(),
		func(ctx context.Context) (net.Conn, error) { return conn, nil },
		func(ctx context.Context) PunchResult { t.Fatalf("punch should not be attempted"); return PunchResult{} },
		nil,
	)
	if res.Method != MethodDirect {
		t.Fatalf("expected MethodDirect, got %v", res.Method)
	}
}

func TestSequenceFallsBackToRelay(t *testing.T) {
	conn, _ := net.Pipe()
	res := Sequence(context.Background(),
		func(ctx context.Context) (net.Conn, error) { return nil, errors.New("direct failed") },
		func(ctx context.Context) PunchResult { return PunchResult{Method: MethodFailed, Err: errors.New("punch failed")} },
		func(ctx context.Context) (net.Conn, error) { return conn, nil },
	)
	if res.Method != MethodRelay {
		t.Fatalf("expected MethodRelay, got %v", res.Method)
	}
}

func TestSequenceAllFail(t *testing.T) {
	res := Sequence(context.Background(),
		func(ctx context.Context) (net.Conn, error) { return nil, errors.New("x") },
		func(ctx context.Context) PunchResult { return PunchResult{Method: MethodFailed, Err: errors.New("x")} },
		func(ctx context.Context) (net.Conn, error) { return nil, errors.New("x") },
	)
	if res.Method != MethodFailed || res.Err == nil {
		t.Fatalf("expected overall failure, got %+v", res)
	}
}
