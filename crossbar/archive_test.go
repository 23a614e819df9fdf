package crossbar

import (
	"testing"

	"github.com/iqua-toronto/siphon/minion"
)

func newTestMinion(seq uint64) *minion.Minion {
	p := minion.New(1, 256)
	var m *minion.Minion
	p.Request(stopFunc(func(got *minion.Minion) minion.Stop {
		m = got
		return nil
	}))
	m.Message.Header.Seq = seq
	m.Message.ResetPayload(m.Message.AllocateBuffer()[:4])
	return m
}

type stopFunc func(*minion.Minion) minion.Stop

func (f stopFunc) Process(m *minion.Minion) minion.Stop { return f(m) }

func TestArchiveFirstMinionIsNew(t *testing.T) {
	a := NewArchive()
	m := newTestMinion(1)
	if isNew := a.ArchiveMinion("S", m); !isNew {
		t.Fatal("expected the first archived minion for a session to report isNew=true")
	}
	m2 := newTestMinion(2)
	if isNew := a.ArchiveMinion("S", m2); isNew {
		t.Fatal("expected the second archived minion for the same session to report isNew=false")
	}
}

func TestArchiveResetDrainsInFIFOOrder(t *testing.T) {
	a := NewArchive()
	const k = 5
	var sent []*minion.Minion
	for i := 0; i < k; i++ {
		m := newTestMinion(uint64(i))
		a.ArchiveMinion("S", m)
		sent = append(sent, m)
	}

	drained := a.Reset("S")
	if len(drained) != k {
		t.Fatalf("expected %d drained minions, got %d", k, len(drained))
	}
	for i, m := range drained {
		if m.Message.Header.Seq != sent[i].Message.Header.Seq {
			t.Fatalf("index %d: expected seq %d, got %d (FIFO order violated)", i, sent[i].Message.Header.Seq, m.Message.Header.Seq)
		}
	}
}

func TestArchiveResetLeavesEntryInPlace(t *testing.T) {
	a := NewArchive()
	a.ArchiveMinion("S", newTestMinion(0))
	a.Reset("S")

	// The session queue still exists (just empty); archiving again must not
	// report isNew=true a second time.
	if isNew := a.ArchiveMinion("S", newTestMinion(1)); isNew {
		t.Fatal("expected queue to remain registered after Reset (isNew should be false)")
	}
}

func TestArchiveRemoveDeletesEntry(t *testing.T) {
	a := NewArchive()
	a.ArchiveMinion("S", newTestMinion(0))
	a.Remove("S")
	if isNew := a.ArchiveMinion("S", newTestMinion(1)); !isNew {
		t.Fatal("expected a fresh isNew=true after Remove")
	}
}

func TestArchiveResetOnUnknownSessionIsEmpty(t *testing.T) {
	a := NewArchive()
	if got := a.Reset("nope"); got != nil {
		t.Fatalf("expected nil drain for unknown session, got %v", got)
	}
}

func TestArchiveConcurrentPushesAllDrained(t *testing.T) {
	a := NewArchive()
	const producers, perProducer = 8, 50
	done := make(chan struct{}, producers)
	for p := 0; p < producers; p++ {
		p := p
		go func() {
			for i := 0; i < perProducer; i++ {
				a.ArchiveMinion("S", newTestMinion(uint64(p*perProducer+i)))
			}
			done <- struct{}{}
		}()
	}
	for p := 0; p < producers; p++ {
		<-done
	}
	drained := a.Reset("S")
	if len(drained) != producers*perProducer {
		t.Fatalf("expected %d drained minions, got %d", producers*perProducer, len(drained))
	}
	seen := make(map[uint64]bool, len(drained))
	for _, m := range drained {
		seq := m.Message.Header.Seq
		if seen[seq] {
			t.Fatalf("duplicate seq %d in drain", seq)
		}
		seen[seq] = true
	}
}
