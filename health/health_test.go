package health

import (
	"testing"
	"time"

	"github.com/veilmesh/meshcore/descriptor"
)

func TestTrendCountsSuccessesAndFailures(t *testing.T) {
	a := NewAggregator()
	a.Report("peer1", Outcome{Success: true, Transport: descriptor.DirectQuic})
	a.Report("peer1", Outcome{Success: false, Transport: descriptor.DirectQuic})
	a.Report("peer1", Outcome{Success: false, Transport: descriptor.DirectQuic})

	trend := a.Trend("peer1", descriptor.DirectQuic)
	if trend.Total != 3 || trend.Successes != 1 || trend.Failures != 2 {
		t.Fatalf("unexpected trend: %+v", trend)
	}
	if trend.ConsecutiveFails != 2 {
		t.Fatalf("expected 2 consecutive failures, got %d", trend.ConsecutiveFails)
	}
}

func TestRingBufferBoundedSize(t *testing.T) {
	a := NewAggregator()
	for i := 0; i < ringSize*2; i++ {
		a.Report("peer1", Outcome{Success: true, Transport: descriptor.DirectQuic})
	}
	trend := a.Trend("peer1", descriptor.DirectQuic)
	if trend.Total != ringSize {
		t.Fatalf("expected ring bounded at %d entries, got %d", ringSize, trend.Total)
	}
}

func TestHistoryTracksPrivateFailureStreak(t *testing.T) {
	a := NewAggregator()
	now := time.Now()
	a.Report("peer1", Outcome{Success: false, Transport: descriptor.TorOnionQuic, At: now})
	a.Report("peer1", Outcome{Success: false, Transport: descriptor.TorOnionQuic, At: now.Add(time.Second)})
	a.Report("peer1", Outcome{Success: true, Transport: descriptor.DirectQuic, At: now.Add(2 * time.Second)})

	fails, lastClearnet, everPrivate := a.History("peer1")
	if fails != 2 {
		t.Fatalf("expected 2 consecutive private failures, got %d", fails)
	}
	if !lastClearnet {
		t.Fatalf("expected last success recorded as clearnet")
	}
	if everPrivate {
		t.Fatalf("expected no successful private connection recorded")
	}
}
