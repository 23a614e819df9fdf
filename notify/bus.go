// Package notify implements siphon's notification bus (spec.md §4.9,
// §9): a typed registry keyed by notification type, one observer per type,
// posted asynchronously -- never synchronously -- so a poster never blocks
// on (or reenters) an observer.
/*
 * Grounded on
 * original_source/datapath/siphon/controller/notification_observers.hpp
 * and notification_types.hpp, which implement a signals-and-slots style
 * typed registry. Go has no template-based signal/slot idiom, so this uses
 * a map keyed by Type plus a function value per observer -- the natural
 * idiomatic replacement -- with an optional Context for callers that need
 * ordered delivery across concurrent posters (spec.md §5 "serialization
 * contexts").
 */
package notify

import "sync"

// Type identifies a notification kind. The data-plane-visible subset
// mirrors the controller envelope types in spec.md §4.8; QueryForwardingEntry
// is internal-only (crossbar -> controller-proxy), never sent on the wire.
type Type int

const (
	NodeOnline Type = iota
	NodeOffline
	Routing
	RTT
	Bandwidth
	SessionSubscribed
	QuerySessionID
	NewSession
	SetSessionWeight
	QueryForwardingEntry
)

// RTTSample is the payload posted to RTT: a peer's measured round-trip
// time, in microseconds.
type RTTSample struct {
	PeerID   uint32
	SampleUs int64
}

// Observer handles one posted notification's payload.
type Observer func(payload any)

type registration struct {
	obs Observer
	ctx *Context // nil: deliver via a bare goroutine per Post
}

// Bus is a typed, single-observer-per-type notification registry.
type Bus struct {
	mu   sync.RWMutex
	regs map[Type]registration
}

func NewBus() *Bus { return &Bus{regs: make(map[Type]registration)} }

// Observe registers obs as the sole observer of t, replacing any prior
// registration. Delivery is a bare `go obs(payload)` per Post: ordering
// across concurrent posts is not guaranteed.
func (b *Bus) Observe(t Type, obs Observer) {
	b.mu.Lock()
	b.regs[t] = registration{obs: obs}
	b.mu.Unlock()
}

// ObserveSerialized registers obs as the sole observer of t, with delivery
// sequenced through ctx: concurrent Post calls for t are still delivered
// one at a time, in post order, to a single logical consumer.
func (b *Bus) ObserveSerialized(t Type, ctx *Context, obs Observer) {
	b.mu.Lock()
	b.regs[t] = registration{obs: obs, ctx: ctx}
	b.mu.Unlock()
}

// Post delivers payload to t's observer, if any. Delivery is always
// asynchronous with respect to the caller.
func (b *Bus) Post(t Type, payload any) {
	b.mu.RLock()
	reg, ok := b.regs[t]
	b.mu.RUnlock()
	if !ok {
		return
	}
	if reg.ctx != nil {
		reg.ctx.Run(func() { reg.obs(payload) })
		return
	}
	go reg.obs(payload)
}
