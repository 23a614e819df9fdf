package apps

import (
	"testing"

	"github.com/iqua-toronto/siphon/config"
	"github.com/iqua-toronto/siphon/minion"
)

func TestManagerCreatePseudoAppsRegistersBySrcAndDst(t *testing.T) {
	pool := minion.New(8, 256)
	mgr := NewManager(pool, 1)
	next := &recordingStop{}

	sessions := []config.PseudoSession{
		{SessionID: "out", SessionType: "source", Src: 1, Dst: 2, Rate: 100, MessageSize: 32},
		{SessionID: "in", SessionType: "sink", Src: 2, Dst: 1, Rate: 100, MessageSize: 32},
		{SessionID: "unrelated", Src: 3, Dst: 4, Rate: 100},
	}
	mgr.CreatePseudoApps(next, sessions, 35000)
	defer func() {
		if src, ok := mgr.SourceApp("out"); ok {
			src.Stop()
		}
	}()

	if _, ok := mgr.SourceApp("out"); !ok {
		t.Fatal("expected a Source registered for session 'out' (Src == localNodeID)")
	}
	if _, ok := mgr.SinkApp("in"); !ok {
		t.Fatal("expected a Sink registered for session 'in' (Dst == localNodeID)")
	}
	if _, ok := mgr.SourceApp("unrelated"); ok {
		t.Fatal("did not expect a Source for a session neither sourced nor sunk locally")
	}
	if _, ok := mgr.SinkApp("unrelated"); ok {
		t.Fatal("did not expect a Sink for a session neither sourced nor sunk locally")
	}
}

func TestManagerProcessDispatchesToRegisteredSink(t *testing.T) {
	pool := minion.New(4, 256)
	mgr := NewManager(pool, 1)
	mgr.CreatePseudoApps(&recordingStop{}, []config.PseudoSession{
		{SessionID: "in", Src: 9, Dst: 1, Rate: 100},
	}, 256)

	m := pool.Acquire()
	m.Message.Header.SessionID = "in"
	sink, ok := mgr.SinkApp("in")
	if !ok {
		t.Fatal("expected sink registered")
	}
	if got := mgr.Process(m); got != sink {
		t.Fatalf("expected Process to dispatch to the registered sink")
	}
}

func TestManagerProcessDropsUnknownSession(t *testing.T) {
	pool := minion.New(4, 256)
	mgr := NewManager(pool, 1)

	m := pool.Acquire()
	m.Message.Header.SessionID = "nonexistent"
	if got := mgr.Process(m); got != minion.Stop(pool) {
		t.Fatalf("expected Process to return the pool for an unregistered session")
	}
}
