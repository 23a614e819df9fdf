package crossbar

import (
	"strings"
	"time"

	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/forwarding"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/notify"
	"github.com/iqua-toronto/siphon/stats"
)

// PeerSenders resolves a next-hop node id to the minion.Stop that drives a
// message toward that peer -- implemented by the connection manager in
// the transport package. Crossbar depends only on this narrow interface
// to avoid an import cycle with transport.
type PeerSenders interface {
	Sender(nodeID uint32) (minion.Stop, bool)
}

// Crossbar is the dispatcher stop used by every ingress: it resolves a
// minion's session id to a next hop via the forwarding table, archiving
// the minion on a miss (spec.md §4.4).
type Crossbar struct {
	table       *forwarding.Table
	archive     *Archive
	pool        minion.Stop
	localNodeID uint32
	localApp    minion.Stop
	peers       PeerSenders
	bus         *notify.Bus
	reporter    *stats.Reporter
}

func New(pool minion.Stop, localApp minion.Stop, peers PeerSenders, bus *notify.Bus) *Crossbar {
	return &Crossbar{
		table:    forwarding.New(),
		archive:  NewArchive(),
		pool:     pool,
		localApp: localApp,
		peers:    peers,
		bus:      bus,
	}
}

func (c *Crossbar) SetLocalNodeID(id uint32)    { c.localNodeID = id }
func (c *Crossbar) SetLocalApp(app minion.Stop) { c.localApp = app }
func (c *Crossbar) SetPeerSenders(p PeerSenders) { c.peers = p }
func (c *Crossbar) Table() *forwarding.Table     { return c.table }

// SetReporter wires a metrics reporter in; nil (the default) disables
// reporting.
func (c *Crossbar) SetReporter(r *stats.Reporter) { c.reporter = r }

// Process implements minion.Stop (spec.md §4.4 `process(minion)`):
//  1. Drop if the minion's payload view is nil.
//  2. Look up the session id in the forwarding table.
//  3. On a miss, strip from the first '@' onward and re-lookup (parent
//     session fallback).
//  4. On a total miss, archive the minion, emitting QueryForwardingEntry
//     exactly once per newly-archived session, and park.
//  5. On a hit, reset the archive for this session -- draining anything
//     that raced its way in between InstallForwardingTableEntry's own
//     Reset and Remove -- and resolve the next stop (local app or sender).
func (c *Crossbar) Process(m *minion.Minion) minion.Stop {
	if m.Message.Payload() == nil {
		return c.pool
	}

	sessionID := m.Message.Header.SessionID
	if hops, ok := c.lookup(sessionID); ok {
		next := c.nextStop(hops)
		for _, archived := range c.archive.Reset(sessionID) {
			archived.Wakeup(c.nextStop(hops))
		}
		return next
	}

	if c.reporter != nil {
		c.reporter.IncForwardingMiss()
	}
	if isNew := c.archive.ArchiveMinion(sessionID, m); isNew {
		c.bus.Post(notify.QueryForwardingEntry, sessionID)
	}
	return nil
}

func (c *Crossbar) lookup(sessionID string) (forwarding.NextHopSet, bool) {
	if hops, ok := c.table.GetNextHop(sessionID); ok {
		return hops, true
	}
	if idx := strings.IndexByte(sessionID, '@'); idx >= 0 {
		return c.table.GetNextHop(sessionID[:idx])
	}
	return nil, false
}

// nextStop resolves a next-hop set to a single destination stop. Per
// spec.md §9 Open Questions, a multi-hop (Generic/multicast) decision is
// dispatched only to its first resolved hop; the set's iteration order is
// otherwise unspecified, mirroring the original's "multicast deprecated"
// behavior rather than fixing it.
func (c *Crossbar) nextStop(hops forwarding.NextHopSet) minion.Stop {
	for hop := range hops {
		if hop == c.localNodeID {
			return c.localApp
		}
		if sender, ok := c.peers.Sender(hop); ok {
			return sender
		}
		nlog.Warningf("crossbar: no sender for next hop %d, dropping", hop)
		return c.pool
	}
	return c.pool
}

// InstallForwardingTableEntry implements spec.md §4.4's controller-install
// sequence: drain any archived minions toward the freshly computed next
// hop, install the entry, then drop the session from the archive map.
func (c *Crossbar) InstallForwardingTableEntry(sessionID string, rawEntry []byte, timeout time.Duration) error {
	entry, err := forwarding.NewEntry(rawEntry)
	if err != nil {
		return err
	}

	archived := c.archive.Reset(sessionID)
	for _, m := range archived {
		m.Wakeup(c.nextStop(entry.NextHop()))
	}

	c.table.InsertEntry(sessionID, entry, timeout)
	c.archive.Remove(sessionID)
	return nil
}
