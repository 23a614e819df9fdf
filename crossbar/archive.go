// Package crossbar implements the pending-packet archive and the crossbar
// routing stop (spec.md §4.4).
/*
 * Grounded on original_source/datapath/siphon/controller/crossbar.{hpp,cpp},
 * specifically PendingPacketArchive and Crossbar::process. The original's
 * per-session MPSC queue is a hand-rolled lock-free linked list; this keeps
 * the same shape (CAS-prepend push, swap-to-nil-and-reverse drain) using
 * sync/atomic.Pointer, per spec.md §9's guidance to model it exactly that
 * way rather than substitute a channel (a channel can't implement
 * "reset-without-delete: swap the head atomically to null" the way the
 * archive's drain-on-install semantics require).
 */
package crossbar

import (
	"sync"
	"sync/atomic"

	"github.com/iqua-toronto/siphon/minion"
)

type qnode struct {
	m    *minion.Minion
	next *qnode
}

// sessionQueue is a lock-free MPSC stack: any number of producers may Push
// concurrently; draining is the single consumer's job and yields minions
// in FIFO arrival order.
type sessionQueue struct {
	head atomic.Pointer[qnode]
}

func (q *sessionQueue) push(m *minion.Minion) {
	n := &qnode{m: m}
	for {
		old := q.head.Load()
		n.next = old
		if q.head.CompareAndSwap(old, n) {
			return
		}
	}
}

// drainFIFO atomically detaches the whole list (swap to nil) and returns
// its minions oldest-first. The entry itself is left in the archive map
// (spec.md §4.4: "reset, not removed").
func (q *sessionQueue) drainFIFO() []*minion.Minion {
	head := q.head.Swap(nil)
	var lifo []*minion.Minion
	for n := head; n != nil; n = n.next {
		lifo = append(lifo, n.m)
	}
	for i, j := 0, len(lifo)-1; i < j; i, j = i+1, j-1 {
		lifo[i], lifo[j] = lifo[j], lifo[i]
	}
	return lifo
}

// Archive holds one sessionQueue per session id with a pending packet,
// guarded by a reader-writer lock on the map itself; each queue's own
// drain/push traffic never needs the map lock once the queue exists.
type Archive struct {
	mu       sync.RWMutex
	sessions map[string]*sessionQueue
}

func NewArchive() *Archive {
	return &Archive{sessions: make(map[string]*sessionQueue)}
}

// ArchiveMinion appends m to sessionID's pending queue, creating it if
// this is the first pending minion for that session. isNew reports
// whether that creation happened, so the caller emits exactly one
// QueryForwardingEntry notification per session.
func (a *Archive) ArchiveMinion(sessionID string, m *minion.Minion) (isNew bool) {
	a.mu.RLock()
	q, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if ok {
		q.push(m)
		return false
	}

	a.mu.Lock()
	q, ok = a.sessions[sessionID]
	isNew = !ok
	if !ok {
		q = &sessionQueue{}
		a.sessions[sessionID] = q
	}
	a.mu.Unlock()

	q.push(m)
	return isNew
}

// Reset drains sessionID's queue and returns its minions in arrival order,
// without removing the map entry (spec.md §4.4 step 5: "leaves the entry
// in place, atomically swaps its queue pointer to null").
func (a *Archive) Reset(sessionID string) []*minion.Minion {
	a.mu.RLock()
	q, ok := a.sessions[sessionID]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	return q.drainFIFO()
}

// Remove deletes sessionID's archive entry entirely (spec.md §4.4's
// controller-install step 3: "removes S from the archive map").
func (a *Archive) Remove(sessionID string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()
}
