package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestReporterAccumulatesAcrossSessions(t *testing.T) {
	r := NewReporter(prometheus.NewRegistry())
	r.AddBytesSent("s1", 100)
	r.AddBytesSent("s2", 50)
	r.AddBytesReceived("s1", 30)
	r.IncForwardingMiss()

	if r.totalBytesSent != 150 {
		t.Fatalf("expected totalBytesSent 150, got %d", r.totalBytesSent)
	}
	if r.totalBytesReceived != 30 {
		t.Fatalf("expected totalBytesReceived 30, got %d", r.totalBytesReceived)
	}
	if r.totalMisses != 1 {
		t.Fatalf("expected totalMisses 1, got %d", r.totalMisses)
	}
}

func TestReporterLogIfChangedIsIdempotentWhenIdle(t *testing.T) {
	r := NewReporter(prometheus.NewRegistry())
	r.AddBytesSent("s1", 10)
	r.logIfChanged()
	if r.lastLoggedSent != 10 {
		t.Fatalf("expected lastLoggedSent updated to 10, got %d", r.lastLoggedSent)
	}
	// A second call with no new activity must not panic and must leave
	// the logged snapshot unchanged.
	r.logIfChanged()
	if r.lastLoggedSent != 10 {
		t.Fatalf("expected lastLoggedSent to remain 10 on an idle tick, got %d", r.lastLoggedSent)
	}
}

func TestReporterRunStopsCleanly(t *testing.T) {
	r := NewReporter(prometheus.NewRegistry())
	done := make(chan struct{})
	go func() {
		r.Run(time.Millisecond)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	r.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return after Stop")
	}
}
