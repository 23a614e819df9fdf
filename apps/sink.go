package apps

import (
	"sync"
	"time"

	"github.com/iqua-toronto/siphon/cmn/nlog"
	"github.com/iqua-toronto/siphon/minion"
	"github.com/iqua-toronto/siphon/stats"
)

// reportInterval is how often Sink logs its receiving rate (spec.md §4.10,
// §6: "every five seconds").
const reportInterval = 5 * time.Second

// Sink is a synthetic data consumer stop: it counts received payload
// bytes and periodically logs the resulting rate before returning the
// minion to the pool (spec.md §4.10).
type Sink struct {
	sessionID string
	pool      minion.Stop
	reporter  *stats.Reporter

	mu         sync.Mutex
	counter    uint64
	lastReport time.Time
}

func NewSink(pool minion.Stop, sessionID string) *Sink {
	return &Sink{pool: pool, sessionID: sessionID, lastReport: time.Now()}
}

// SetReporter wires a metrics reporter in; nil (the default) disables
// reporting.
func (s *Sink) SetReporter(r *stats.Reporter) { s.reporter = r }

// Process implements minion.Stop.
func (s *Sink) Process(m *minion.Minion) minion.Stop {
	if s.reporter != nil {
		s.reporter.AddBytesReceived(s.sessionID, int(m.Message.Header.PayloadSize))
	}
	s.mu.Lock()
	s.counter += uint64(m.Message.Header.PayloadSize)
	elapsed := time.Since(s.lastReport)
	if elapsed >= reportInterval {
		rate := float64(s.counter) / elapsed.Seconds()
		nlog.Infof("apps: session %s receiving %.2f Bps", s.sessionID, rate)
		s.counter = 0
		s.lastReport = time.Now()
	}
	s.mu.Unlock()
	return s.pool
}
