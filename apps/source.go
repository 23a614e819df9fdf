package apps

import (
	"sync"

	"github.com/iqua-toronto/siphon/config"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/stats"
)

// Source is a synthetic data producer stop: paced by a tokenBucket, it
// stamps each minion it is handed with the session's id and next sequence
// number, sizes the payload, and forwards toward the crossbar (spec.md
// §4.10, §6 "pseudo session").
type Source struct {
	sessionID   string
	messageSize int
	nextStop    minion.Stop
	pool        *minion.Pool
	tb          *tokenBucket
	reporter    *stats.Reporter

	mu  sync.Mutex
	seq uint64
}

// SetReporter wires a metrics reporter in; nil (the default) disables
// reporting.
func (s *Source) SetReporter(r *stats.Reporter) { s.reporter = r }

// NewSource constructs a Source for cfg. defaultMessageSize is used when
// cfg.MessageSize is zero (config.Config.MessageSize()).
func NewSource(pool *minion.Pool, nextStop minion.Stop, cfg config.PseudoSession, defaultMessageSize uint64) *Source {
	messageSize := cfg.MessageSize
	if messageSize == 0 {
		messageSize = int(defaultMessageSize)
	}
	s := &Source{
		sessionID:   cfg.SessionID,
		messageSize: messageSize,
		nextStop:    nextStop,
		pool:        pool,
	}
	s.tb = newTokenBucket(cfg.Rate, cfg.BurstSize, s.onTokenAvailable)
	return s
}

// Start arms the token bucket's refill timer. Must be called once, after
// the Source is reachable from the crossbar's local-delivery path.
func (s *Source) Start() { s.tb.start() }

// Stop disarms the refill timer.
func (s *Source) Stop() { s.tb.stop() }

// Process implements minion.Stop: stamp the minion for this session and
// hand it to the next stop. Also immediately retries onTokenAvailable, so
// a still-full bucket keeps this Source requesting minions back-to-back
// rather than waiting for the next refill tick (spec.md §9 Open Questions:
// this double-scheduling is retained as specified, matching the original's
// io_context post alongside the refill timer).
func (s *Source) Process(m *minion.Minion) minion.Stop {
	s.mu.Lock()
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	m.Message.Header.SessionID = s.sessionID
	m.Message.Header.Seq = seq

	buf := m.Message.AllocateBuffer()
	if len(buf) > s.messageSize {
		buf = buf[:s.messageSize]
	}
	m.Message.ResetPayload(buf)

	if s.reporter != nil {
		s.reporter.AddBytesSent(s.sessionID, len(buf))
	}

	go s.onTokenAvailable()
	return s.nextStop
}

func (s *Source) onTokenAvailable() {
	if s.tb.consumeOneToken() {
		s.pool.Request(s)
	}
}
