// Package stats implements siphon's runtime metrics: Prometheus counters
// and gauges for per-session throughput and control-plane events, plus a
// periodic summary line logged the way the teacher's stats runner does --
// skip the line entirely when nothing has changed since the last tick.
/*
 * Grounded on stats/common_statsd.go's coreStats/runner pair: the
 * counter/size/throughput/latency/gauge kind taxonomy, the atomically
 * updated per-metric tracker, and copyT's "idle tick produces no log
 * line" behavior. AIStore's StatsD transport and its proxy/target daemon
 * split (Prunner/Trunner, cluster.Node, meta.Snode) have no analogue in a
 * single-role node and are not carried over -- see DESIGN.md.
 */
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iqua-toronto/siphon/cmn/nlog"
)

// Reporter tracks and periodically logs siphon's runtime counters. One
// Reporter is constructed per node and shared by the apps layer, the
// crossbar, and the controller proxy.
type Reporter struct {
	bytesSent        *prometheus.CounterVec
	bytesReceived    *prometheus.CounterVec
	forwardingMisses prometheus.Counter
	rttMicros        *prometheus.GaugeVec

	// Global cumulative counters, mirroring coreStats.Tracker's KindSize /
	// KindCounter entries: read once per tick to decide whether this tick
	// is idle, independent of the per-session label cardinality above.
	totalBytesSent     int64
	totalBytesReceived int64
	totalMisses        int64

	lastLoggedSent     int64
	lastLoggedReceived int64
	lastLoggedMisses   int64

	stopCh chan struct{}
}

// NewReporter constructs a Reporter and registers its metrics with reg.
func NewReporter(reg prometheus.Registerer) *Reporter {
	r := &Reporter{
		bytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siphon",
			Name:      "bytes_sent_total",
			Help:      "Payload bytes sent, by session id.",
		}, []string{"session_id"}),
		bytesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "siphon",
			Name:      "bytes_received_total",
			Help:      "Payload bytes received, by session id.",
		}, []string{"session_id"}),
		forwardingMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "siphon",
			Name:      "forwarding_misses_total",
			Help:      "Minions archived for lack of a forwarding table entry.",
		}),
		rttMicros: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "siphon",
			Name:      "peer_rtt_microseconds",
			Help:      "Last observed round-trip time, by peer node id.",
		}, []string{"peer_id"}),
		stopCh: make(chan struct{}),
	}
	reg.MustRegister(r.bytesSent, r.bytesReceived, r.forwardingMisses, r.rttMicros)
	return r
}

// AddBytesSent records n payload bytes sent on sessionID.
func (r *Reporter) AddBytesSent(sessionID string, n int) {
	atomic.AddInt64(&r.totalBytesSent, int64(n))
	r.bytesSent.WithLabelValues(sessionID).Add(float64(n))
}

// AddBytesReceived records n payload bytes received on sessionID.
func (r *Reporter) AddBytesReceived(sessionID string, n int) {
	atomic.AddInt64(&r.totalBytesReceived, int64(n))
	r.bytesReceived.WithLabelValues(sessionID).Add(float64(n))
}

// IncForwardingMiss records one minion archived for lack of a route.
func (r *Reporter) IncForwardingMiss() {
	atomic.AddInt64(&r.totalMisses, 1)
	r.forwardingMisses.Inc()
}

// SetRTT records the latest RTT sample observed from peerID.
func (r *Reporter) SetRTT(peerID uint32, d time.Duration) {
	r.rttMicros.WithLabelValues(fmt.Sprintf("%d", peerID)).Set(float64(d.Microseconds()))
}

// Run logs a periodic one-line summary every interval until Stop is
// called, skipping the line whenever nothing changed since the last tick
// (mirrors coreStats.copyT's idle flag / Prunner.log).
func (r *Reporter) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.logIfChanged()
		}
	}
}

// Stop ends the periodic logging loop started by Run.
func (r *Reporter) Stop() { close(r.stopCh) }

func (r *Reporter) logIfChanged() {
	sent := atomic.LoadInt64(&r.totalBytesSent)
	recv := atomic.LoadInt64(&r.totalBytesReceived)
	misses := atomic.LoadInt64(&r.totalMisses)

	if sent == r.lastLoggedSent && recv == r.lastLoggedReceived && misses == r.lastLoggedMisses {
		return
	}
	nlog.Infof("stats: sent=%d received=%d forwarding_misses=%d", sent, recv, misses)
	r.lastLoggedSent, r.lastLoggedReceived, r.lastLoggedMisses = sent, recv, misses
}
