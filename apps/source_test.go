package apps

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/iqua-toronto/siphon/config"
	"github.com/iqua-toronto/siphon/minion"
)

type recordingStop struct {
	calls int32
}

func (r *recordingStop) Process(m *minion.Minion) minion.Stop {
	atomic.AddInt32(&r.calls, 1)
	return nil // park: this test only cares that the minion arrived
}

func TestSourceProcessStampsSessionAndSequence(t *testing.T) {
	pool := minion.New(4, 256)
	next := &recordingStop{}
	cfg := config.PseudoSession{SessionID: "s1", Rate: 1000, BurstSize: 4, MessageSize: 64}
	src := NewSource(pool, next, cfg, 35000)

	m := pool.Acquire()
	got := src.Process(m)
	if got != next {
		t.Fatalf("expected Process to return the configured next stop")
	}
	if m.Message.Header.SessionID != "s1" {
		t.Fatalf("expected session id %q, got %q", "s1", m.Message.Header.SessionID)
	}
	if m.Message.Header.Seq != 0 {
		t.Fatalf("expected first sequence number 0, got %d", m.Message.Header.Seq)
	}
	if len(m.Message.Payload()) != 64 {
		t.Fatalf("expected payload sized to MessageSize (64), got %d", len(m.Message.Payload()))
	}

	m2 := pool.Acquire()
	src.Process(m2)
	if m2.Message.Header.Seq != 1 {
		t.Fatalf("expected second sequence number 1, got %d", m2.Message.Header.Seq)
	}
}

func TestSourceDefaultsMessageSizeFromConfig(t *testing.T) {
	pool := minion.New(2, 35000)
	next := &recordingStop{}
	cfg := config.PseudoSession{SessionID: "s2", Rate: 1000, BurstSize: 4}
	src := NewSource(pool, next, cfg, 35000)

	m := pool.Acquire()
	src.Process(m)
	if len(m.Message.Payload()) != 35000 {
		t.Fatalf("expected payload sized to default MessageSize, got %d", len(m.Message.Payload()))
	}
}

func TestSourceDrivesRepeatedRequestsUpToBurstDepth(t *testing.T) {
	pool := minion.New(8, 256)
	next := &recordingStop{}
	cfg := config.PseudoSession{SessionID: "s3", Rate: 200, BurstSize: 2, MessageSize: 32}
	src := NewSource(pool, next, cfg, 256)
	defer src.Stop()
	src.Start()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&next.calls) < 3 { // depth = 1 + burstSize(2) = 3
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for 3 deliveries, got %d", next.calls)
		case <-time.After(time.Millisecond):
		}
	}
}
