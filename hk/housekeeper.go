// Package hk provides a mechanism for registering named callbacks that fire
// once after a delay, and re-registering (sliding) that delay without
// tearing down and recreating the underlying timer.
/*
 * Adapted from aistore's hk package. Only hk's test file (and its doc
 * comment, "provides mechanism for registering cleanup functions which are
 * invoked at specified intervals") survived the retrieval; the
 * implementation below is original, built to the interface the rest of the
 * teacher repo calls through (hk.Reg/hk.Unreg/hk.DefaultHK.Run/NameSuffix),
 * and shaped for siphon's one real use of it: forwarding-entry TTL (spec
 * §4.3), which needs "identify by name, look up on fire" semantics (spec
 * §9 DESIGN NOTES) -- never a raw pointer captured by the timer callback.
 * The controller proxy's reconnect back-off is a plain sleep loop and does
 * not go through hk.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"
)

// NameSuffix disambiguates hk registrations sharing a logical name, mirroring
// the teacher's own convention (e.g. per-endpoint housekeeping registrations).
const NameSuffix = ".hk"

type entry struct {
	name  string
	due   time.Time
	f     func() time.Duration // returns 0 to cancel, >0 to reschedule after that long
	index int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Housekeeper runs one goroutine that fires due callbacks in deadline order.
type Housekeeper struct {
	mu       sync.Mutex
	byName   map[string]*entry
	pq       entryHeap
	wake     chan struct{}
	started  chan struct{}
	startOne sync.Once
}

// DefaultHK is the process-wide housekeeper instance, matching the teacher's
// package-level singleton used from every call site (hk.Reg, hk.Unreg, ...).
var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*entry),
		wake:    make(chan struct{}, 1),
		started: make(chan struct{}),
	}
}

// TestInit resets DefaultHK; used by suites that run multiple scenarios
// in-process (mirrors the teacher's hk.TestInit()).
func TestInit() { DefaultHK = New() }

// WaitStarted blocks until Run's goroutine has entered its select loop.
func WaitStarted() { <-DefaultHK.started }

// Run drives the housekeeper; it loops forever and there is no way to stop
// it. Launched with `go hk.DefaultHK.Run()` once at process startup.
func (h *Housekeeper) Run() {
	h.startOne.Do(func() { close(h.started) })
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		h.mu.Lock()
		var d time.Duration
		if len(h.pq) == 0 {
			d = time.Hour
		} else {
			d = time.Until(h.pq[0].due)
			if d < 0 {
				d = 0
			}
		}
		h.mu.Unlock()
		timer.Reset(d)
		select {
		case <-timer.C:
			h.fireDue()
		case <-h.wake:
			if !timer.Stop() {
				<-timer.C
			}
		}
	}
}

func (h *Housekeeper) fireDue() {
	now := time.Now()
	var due []*entry
	h.mu.Lock()
	for len(h.pq) > 0 && !h.pq[0].due.After(now) {
		e := heap.Pop(&h.pq).(*entry)
		delete(h.byName, e.name)
		due = append(due, e)
	}
	h.mu.Unlock()
	for _, e := range due {
		if next := e.f(); next > 0 {
			h.Reg(e.name, e.f, next)
		}
	}
}

// Reg (re-)registers `name` to fire `f` after `after`. If `name` is already
// registered, its deadline slides to the new `after` (spec §4.3's "every
// successful lookup cancels and rearms the timer").
func (h *Housekeeper) Reg(name string, f func() time.Duration, after time.Duration) {
	h.mu.Lock()
	if old, ok := h.byName[name]; ok {
		heap.Remove(&h.pq, old.index)
	}
	e := &entry{name: name, due: time.Now().Add(after), f: f}
	heap.Push(&h.pq, e)
	h.byName[name] = e
	h.mu.Unlock()
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// Unreg cancels a pending registration, if any; a no-op if it already fired.
func (h *Housekeeper) Unreg(name string) {
	h.mu.Lock()
	if old, ok := h.byName[name]; ok {
		heap.Remove(&h.pq, old.index)
		delete(h.byName, name)
	}
	h.mu.Unlock()
}

func Reg(name string, f func() time.Duration, after time.Duration) {
	DefaultHK.Reg(name, f, after)
}

func Unreg(name string) { DefaultHK.Unreg(name) }
