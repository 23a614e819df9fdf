package node

import (
	"encoding/binary"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iqua-toronto/siphon/config"
)

// fakeController mirrors controlplane's own test fixture (itself grounded
// on original_source/datapath/siphon/tests/fake_controller.hpp): accept one
// connection, assign nodeID, and otherwise stay silent.
type fakeController struct {
	ln     net.Listener
	nodeID uint32

	mu   sync.Mutex
	conn net.Conn
}

func newFakeController(t *testing.T, nodeID uint32) *fakeController {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	fc := &fakeController{ln: ln, nodeID: nodeID}
	go fc.acceptOne()
	return fc
}

func (fc *fakeController) addr() string { return fc.ln.Addr().String() }

func (fc *fakeController) acceptOne() {
	conn, err := fc.ln.Accept()
	if err != nil {
		return
	}
	var lenBuf [4]byte
	if _, err := readFull(conn, lenBuf[:]); err != nil {
		return
	}
	hostBuf := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if _, err := readFull(conn, hostBuf); err != nil {
		return
	}
	fc.mu.Lock()
	fc.conn = conn
	fc.mu.Unlock()

	var idBuf [4]byte
	binary.LittleEndian.PutUint32(idBuf[:], fc.nodeID)
	conn.Write(idBuf[:])

	// Drain whatever the node sends afterward so its outbound writes
	// never block; this test does not assert on outbound frames.
	buf := make([]byte, 4096)
	for {
		if _, err := conn.Read(buf); err != nil {
			return
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestAggregatorStartWiresComponentsAndStartsPseudoApps(t *testing.T) {
	fc := newFakeController(t, 3)

	cfg := &config.Config{
		TCPListeningPort: 0,
		PseudoSessions: []config.PseudoSession{
			{SessionID: "s1", Src: 3, Dst: 9, Rate: 1000, BurstSize: 4},
			{SessionID: "s2", Src: 9, Dst: 3},
		},
	}
	agg := New(cfg)
	agg.SetRegisterer(prometheus.NewRegistry())
	agg.Start(fc.addr(), "self-under-test:9100")
	defer agg.Stop()

	if got := agg.proxy.LocalNodeID(); got != 3 {
		t.Fatalf("expected local node id 3, got %d", got)
	}

	if _, ok := agg.appMgr.SourceApp("s1"); !ok {
		t.Fatal("expected a Source for session s1 (this node is its Src)")
	}
	if _, ok := agg.appMgr.SinkApp("s1"); ok {
		t.Fatal("did not expect a Sink for session s1 (this node is not its Dst)")
	}
	if _, ok := agg.appMgr.SinkApp("s2"); !ok {
		t.Fatal("expected a Sink for session s2 (this node is its Dst)")
	}
	if _, ok := agg.appMgr.SourceApp("s2"); ok {
		t.Fatal("did not expect a Source for session s2 (this node is not its Src)")
	}
}

func TestAggregatorStopClosesConnectionManager(t *testing.T) {
	fc := newFakeController(t, 1)
	cfg := &config.Config{TCPListeningPort: 0}
	agg := New(cfg)
	agg.SetRegisterer(prometheus.NewRegistry())
	agg.Start(fc.addr(), "self-under-test:9101")

	done := make(chan struct{})
	go func() {
		agg.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return in time")
	}
}
