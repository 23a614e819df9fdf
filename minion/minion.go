// Package minion implements the cooperative pipeline-of-stops execution
// model (spec.md §4.2): a Minion is a baton carrying one wire.Message
// through an ordered chain of Stops, with no coroutines -- each Stop's
// Process runs to completion and returns the next Stop, or nil to park.
/*
 * Grounded on original_source/datapath/siphon/base/minion.{hpp,cpp} and
 * minion_pool.{hpp,cpp}. The original models the chain with a polymorphic
 * base class and a raw "next stop" pointer; this keeps the same shape with
 * the Stop interface and Minion.Wakeup driving re-entry, per spec.md §9's
 * note on modeling the closed set of stop kinds with dynamic dispatch.
 */
package minion

import "github.com/iqua-toronto/siphon/wire"

// Stop is one link in a pipeline. Process must run to completion (no
// blocking) and return either the next Stop to hand the minion to, or nil
// to park the minion here until something calls Wakeup on it.
type Stop interface {
	Process(m *Minion) Stop
}

// Minion is the unit of in-node work: one Message riding a chain of Stops.
type Minion struct {
	Message *wire.Message
	pool    *Pool
}

// Wakeup drives the minion's pipeline starting at next, running Process
// calls until a Stop parks it (returns nil). Any Stop holding a parked
// minion calls this to restart the chain; the initial dispatch of a fresh
// minion uses the same call.
func (m *Minion) Wakeup(next Stop) {
	for next != nil {
		next = next.Process(m)
	}
}
