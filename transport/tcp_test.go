package transport

import (
	"testing"
	"time"

	"github.com/iqua-toronto/siphon/minion"
)

type captureStop struct {
	got chan *minion.Minion
}

func newCaptureStop() *captureStop { return &captureStop{got: make(chan *minion.Minion, 16)} }

func (c *captureStop) Process(m *minion.Minion) minion.Stop {
	c.got <- m
	return nil
}

// TestTCPSendReceiveRoundTrip dials node 3 from node 1, sends one minion
// through node 1's sender, and checks node 3's crossbar stop receives a
// minion with the same session id and payload bytes.
func TestTCPSendReceiveRoundTrip(t *testing.T) {
	poolA := minion.New(4, 256)
	poolB := minion.New(4, 256)
	sink := newCaptureStop()

	mgrB := NewTCPManager(poolB, 3, sink, false, nil)
	addr, err := mgrB.ListenAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer mgrB.Close()

	mgrA := NewTCPManager(poolA, 1, sink, false, nil)
	defer mgrA.Close()

	// (1+3) % 2 == 0: the lower id (1) initiates.
	if err := mgrA.Connect(3, addr.String()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := mgrA.Sender(3); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for sender registration")
		case <-time.After(time.Millisecond):
		}
	}

	sender, _ := mgrA.Sender(3)
	m := poolA.Acquire()
	m.Message.Header.SessionID = "s1"
	payload := m.Message.AllocateBuffer()[:5]
	copy(payload, "hello")
	m.Message.ResetPayload(payload)
	m.Wakeup(sender)

	select {
	case got := <-sink.got:
		if got.Message.Header.SessionID != "s1" {
			t.Fatalf("unexpected session id: %q", got.Message.Header.SessionID)
		}
		if string(got.Message.Payload()) != "hello" {
			t.Fatalf("unexpected payload: %q", got.Message.Payload())
		}
		if got.Message.Header.Src != 1 {
			t.Fatalf("expected sender to stamp src=1, got %d", got.Message.Header.Src)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestTCPManagerRemoveDropsSender(t *testing.T) {
	pool := minion.New(2, 64)
	sink := newCaptureStop()
	mgr := NewTCPManager(pool, 1, sink, true, nil)
	defer mgr.Close()

	addr, err := mgr.ListenAddr("127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	other := minion.New(2, 64)
	mgrB := NewTCPManager(other, 2, sink, true, nil)
	defer mgrB.Close()
	if err := mgrB.Connect(1, addr.String()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := mgr.Sender(2); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for inbound registration")
		case <-time.After(time.Millisecond):
		}
	}

	mgr.Remove(2)
	if _, ok := mgr.Sender(2); ok {
		t.Fatal("expected sender to be gone after Remove")
	}
}
