package minion

import (
	"github.com/iqua-toronto/siphon/cmn/atomic"
	"github.com/iqua-toronto/siphon/cmn/cos"
	"github.com/iqua-toronto/siphon/wire"
)

// Pool is a fixed-size minion pool that doubles as a bounded stop-queue
// (spec.md §4.2): Process (a minion returning to the pool) and Request (a
// stop asking for a minion) rendezvous through a signed counter plus two
// bounded single-consumer queues, with no blocking primitive.
//
// Invariant: counter > 0 means `counter` minions are queued; counter < 0
// means `-counter` requesters are queued; counter == 0 means both queues
// are empty.
type Pool struct {
	w          atomic.Int64
	minions    chan *Minion
	requesters chan Stop
}

// New pre-allocates size minions, each carrying a wire.Message sized to
// maxPayload, and fills the free-minion queue with all of them.
func New(size, maxPayload int) *Pool {
	p := &Pool{
		minions:    make(chan *Minion, size),
		requesters: make(chan Stop, size),
	}
	for i := 0; i < size; i++ {
		m := &Minion{Message: wire.NewMessage(maxPayload), pool: p}
		p.minions <- m
	}
	p.w.Store(int64(size))
	return p
}

// Process implements Stop: it is the terminal stop every pipeline hands a
// minion back to. The minion is recycled and either handed directly to a
// waiting requester or returned to the free queue.
func (p *Pool) Process(m *Minion) Stop {
	m.Message.Recycle()
	if neu := p.w.Add(1); neu <= 0 {
		req := p.popRequester()
		m.Wakeup(req)
		return nil
	}
	p.pushMinion(m)
	return nil
}

// Request asks the pool for a minion on behalf of stop. If one is free, it
// is handed to stop immediately (stop's pipeline is driven right here); if
// none is free, stop is parked until a minion is returned to the pool.
func (p *Pool) Request(stop Stop) {
	if neu := p.w.Add(-1); neu >= 0 {
		m := p.popMinion()
		m.Wakeup(stop)
		return
	}
	p.pushRequester(stop)
}

// Capacity returns the pool's fixed minion count, for sizing per-peer
// outbox queues (a sender can never have more messages in flight than there
// are minions to carry them).
func (p *Pool) Capacity() int { return cap(p.minions) }

// Acquire blocks the calling goroutine until a minion is available and
// returns it directly, for call sites that run their own dedicated
// goroutine and want a synchronous handoff rather than a Stop callback
// (the TCP/UDP receiver loops).
func (p *Pool) Acquire() *Minion {
	done := make(chan *Minion, 1)
	p.Request(acquireStop(done))
	return <-done
}

type acquireStop chan *Minion

func (a acquireStop) Process(m *Minion) Stop { a <- m; return nil }

func (p *Pool) pushMinion(m *Minion) {
	select {
	case p.minions <- m:
	default:
		cos.Exitf("minion pool: free-minion queue overflow (counter/queue desync)")
	}
}

func (p *Pool) popMinion() *Minion {
	select {
	case m := <-p.minions:
		return m
	default:
		cos.Exitf("minion pool: counter promised a free minion but none was queued")
		return nil
	}
}

func (p *Pool) pushRequester(stop Stop) {
	select {
	case p.requesters <- stop:
	default:
		cos.Exitf("minion pool: requester queue overflow (counter/queue desync)")
	}
}

func (p *Pool) popRequester() Stop {
	select {
	case r := <-p.requesters:
		return r
	default:
		cos.Exitf("minion pool: counter promised a waiting requester but none was queued")
		return nil
	}
}
