package forwarding

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/iqua-toronto/siphon/hk"
)

// record is the atomically-swapped payload behind each table slot:
// swapping record pointers (rather than mutating fields) is what lets a
// concurrent reader observe either the old or the new entry, never a torn
// one (spec.md §4.3 invariant).
type record struct {
	entry   Entry
	timeout time.Duration // 0 means no TTL
}

type slot struct {
	sessionID string
	p         atomic.Pointer[record]
}

// Table is siphon's forwarding table: session id -> routing entry, guarded
// by a reader-writer lock for the map itself, with atomic pointer exchange
// on each slot so lookups never need the lock for the hot path of reading
// an existing entry's current value.
type Table struct {
	mu      sync.RWMutex
	slots   map[string]*slot
	timeNow func() time.Time // overridable for tests
}

func New() *Table {
	return &Table{slots: make(map[string]*slot), timeNow: time.Now}
}

// hkName derives the housekeeper registration name for a session's TTL,
// looked up again by the callback on fire rather than closing over the
// slot pointer (spec.md §9).
func hkName(sessionID string) string { return "fwd:" + sessionID + hk.NameSuffix }

// InsertEntry installs or replaces the entry for sessionID. A zero timeout
// means the entry never expires on its own (it is replaced or explicitly
// removed only).
func (t *Table) InsertEntry(sessionID string, e Entry, timeout time.Duration) {
	r := &record{entry: e, timeout: timeout}

	t.mu.Lock()
	s, ok := t.slots[sessionID]
	if !ok {
		s = &slot{sessionID: sessionID}
		t.slots[sessionID] = s
	}
	t.mu.Unlock()

	s.p.Store(r)
	if timeout > 0 {
		hk.Reg(hkName(sessionID), func() time.Duration { return t.onExpire(sessionID, r) }, timeout)
	} else {
		hk.Unreg(hkName(sessionID))
	}
}

// onExpire is the hk callback: it removes sessionID's slot only if the
// record installed when the timer was armed is still the current one (a
// newer InsertEntry call already re-armed its own timer and must win).
func (t *Table) onExpire(sessionID string, armed *record) time.Duration {
	t.mu.RLock()
	s, ok := t.slots[sessionID]
	t.mu.RUnlock()
	if !ok {
		return 0
	}
	if s.p.Load() != armed {
		return 0 // superseded by a newer entry; that entry owns its own timer
	}
	t.mu.Lock()
	if cur, ok := t.slots[sessionID]; ok && cur.p.Load() == armed {
		delete(t.slots, sessionID)
	}
	t.mu.Unlock()
	return 0
}

// GetNextHop resolves sessionID's current routing decision, restarting its
// TTL timer on a hit (sliding TTL, spec.md §4.3). ok is false on a miss.
func (t *Table) GetNextHop(sessionID string) (hops NextHopSet, ok bool) {
	t.mu.RLock()
	s, found := t.slots[sessionID]
	t.mu.RUnlock()
	if !found {
		return nil, false
	}
	r := s.p.Load()
	if r == nil {
		return nil, false
	}
	if r.timeout > 0 {
		hk.Reg(hkName(sessionID), func() time.Duration { return t.onExpire(sessionID, r) }, r.timeout)
	}
	return r.entry.NextHop(), true
}

// Remove deletes sessionID's entry unconditionally and cancels its TTL
// timer. Nothing in the node calls it; the controller proxy has no
// route-withdrawal message.
func (t *Table) Remove(sessionID string) {
	t.mu.Lock()
	delete(t.slots, sessionID)
	t.mu.Unlock()
	hk.Unreg(hkName(sessionID))
}

// Len reports the number of live entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}
