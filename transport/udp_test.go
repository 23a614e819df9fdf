package transport

import (
	"net"
	"testing"
	"time"

	"github.com/iqua-toronto/siphon/minion"
)

func newUDPPair(t *testing.T, coderName string) (*UDPManager, *UDPManager, *captureStop) {
	t.Helper()
	sink := newCaptureStop()
	poolA := minion.New(4, 256)
	poolB := minion.New(4, 256)

	mgrA, err := newUDPManagerAddr(poolA, 1, sink, "127.0.0.1:0", coderName, nil)
	if err != nil {
		t.Fatalf("bind a: %v", err)
	}
	mgrB, err := newUDPManagerAddr(poolB, 2, sink, "127.0.0.1:0", coderName, nil)
	if err != nil {
		t.Fatalf("bind b: %v", err)
	}
	t.Cleanup(func() { mgrA.Close(); mgrB.Close() })

	if err := mgrA.Connect(2, mgrB.conn.LocalAddr().String()); err != nil {
		t.Fatalf("connect a->b: %v", err)
	}
	if err := mgrB.Connect(1, mgrA.conn.LocalAddr().String()); err != nil {
		t.Fatalf("connect b->a: %v", err)
	}
	return mgrA, mgrB, sink
}

func TestUDPSendReceiveRoundTrip(t *testing.T) {
	mgrA, _, sink := newUDPPair(t, "DirectPass")

	sender, ok := mgrA.Sender(2)
	if !ok {
		t.Fatal("expected sender for node 2")
	}
	m := mgrA.pool.Acquire()
	m.Message.Header.SessionID = "s1"
	payload := m.Message.AllocateBuffer()[:3]
	copy(payload, "hi!")
	m.Message.ResetPayload(payload)
	m.Wakeup(sender)

	select {
	case got := <-sink.got:
		if string(got.Message.Payload()) != "hi!" {
			t.Fatalf("unexpected payload: %q", got.Message.Payload())
		}
		if got.Message.Header.Src != 1 || got.Message.Header.Dst != 2 {
			t.Fatalf("unexpected src/dst: %+v", got.Message.Header)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// TestUDPLoopbackSuppressesAckForNonTestCoder exercises spec.md §8's
// loopback edge case: over 127.0.0.1 with a coder other than "test", the
// receiver must not ack.
func TestUDPLoopbackSuppressesAckForNonTestCoder(t *testing.T) {
	mgrA, _, _ := newUDPPair(t, "DirectPass")
	loopback := mgrA.conn.LocalAddr()
	addr, err := net.ResolveUDPAddr("udp", loopback.String())
	if err != nil {
		t.Fatal(err)
	}
	if !mgrA.shouldSuppressAck(addr) {
		t.Fatal("expected ack suppression for loopback source with non-test coder")
	}
}

func TestUDPTestCoderNeverSuppressesAck(t *testing.T) {
	mgrA, _, _ := newUDPPair(t, "test")
	loopback := mgrA.conn.LocalAddr()
	addr, err := net.ResolveUDPAddr("udp", loopback.String())
	if err != nil {
		t.Fatal(err)
	}
	if mgrA.shouldSuppressAck(addr) {
		t.Fatal("expected no ack suppression when coder is \"test\", regardless of source")
	}
}

// TestUDPAckRoundTripKeepsSendingAlive exercises the "test" coder's full
// round trip over real sockets: sender encodes, receiver decodes and sends
// an ack back, and the session keeps delivering afterward (the ack
// round-trip must not stall or corrupt the sender's per-session state).
func TestUDPAckRoundTripKeepsSendingAlive(t *testing.T) {
	mgrA, _, sink := newUDPPair(t, "test")
	sender, _ := mgrA.Sender(2)

	const n = 5
	for i := 0; i < n; i++ {
		m := mgrA.pool.Acquire()
		m.Message.Header.SessionID = "s1"
		m.Message.ResetPayload(m.Message.AllocateBuffer()[:1])
		m.Wakeup(sender)

		select {
		case <-sink.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d/%d", i+1, n)
		}
	}

	peer := sender.(*udpPeer)
	if got := peer.encoderFor("s1").LastEncoded().Counter(); got < n-1 {
		t.Fatalf("expected counter to have advanced across %d sends, got %d", n, got)
	}
}
