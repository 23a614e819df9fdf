package apps

import (
	"sync"

	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/config"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/stats"
)

// Manager owns every pseudo session's Source and Sink, and is itself the
// crossbar's local-delivery stop (spec.md §4.10): a minion addressed to
// this node is routed here, then to the Sink registered for its session
// id (spec.md's grounding original AppManager).
type Manager struct {
	pool        *minion.Pool
	localNodeID uint32
	reporter    *stats.Reporter

	mu      sync.RWMutex
	sources map[string]*Source
	sinks   map[string]*Sink
}

// SetReporter wires a metrics reporter into the Manager and every Source/
// Sink it has already created or will create; nil (the default) disables
// reporting.
func (a *Manager) SetReporter(r *stats.Reporter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reporter = r
	for _, src := range a.sources {
		src.SetReporter(r)
	}
	for _, sink := range a.sinks {
		sink.SetReporter(r)
	}
}

func NewManager(pool *minion.Pool, localNodeID uint32) *Manager {
	return &Manager{
		pool:        pool,
		localNodeID: localNodeID,
		sources:     make(map[string]*Source),
		sinks:       make(map[string]*Sink),
	}
}

// Process implements minion.Stop: dispatch to the sink registered for the
// minion's session id, dropping (returning it to the pool) if none is
// registered.
func (a *Manager) Process(m *minion.Minion) minion.Stop {
	sessionID := m.Message.Header.SessionID
	a.mu.RLock()
	sink, ok := a.sinks[sessionID]
	a.mu.RUnlock()
	if !ok {
		nlog.Warningf("apps: no sink for session %q, message dropped", sessionID)
		return a.pool
	}
	return sink
}

// CreatePseudoApps instantiates a Source for every configured session
// whose Src matches this node, and a Sink for every session whose Dst
// does, starting each Source's token bucket immediately. nextStop is
// where a Source hands off a freshly stamped minion -- the crossbar.
func (a *Manager) CreatePseudoApps(nextStop minion.Stop, sessions []config.PseudoSession, defaultMessageSize uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sess := range sessions {
		if sess.Src == a.localNodeID {
			src := NewSource(a.pool, nextStop, sess, defaultMessageSize)
			src.SetReporter(a.reporter)
			a.sources[sess.SessionID] = src
			src.Start()
		}
		if sess.Dst == a.localNodeID {
			sink := NewSink(a.pool, sess.SessionID)
			sink.SetReporter(a.reporter)
			a.sinks[sess.SessionID] = sink
		}
	}
}

// SourceApp returns the Source registered for sessionID, if any.
func (a *Manager) SourceApp(sessionID string) (*Source, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	src, ok := a.sources[sessionID]
	return src, ok
}

// SinkApp returns the Sink registered for sessionID, if any.
func (a *Manager) SinkApp(sessionID string) (*Sink, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sink, ok := a.sinks[sessionID]
	return sink, ok
}
