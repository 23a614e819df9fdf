// Package apps implements siphon's pseudo application layer (spec.md
// §4.10, §6): synthetic source and sink stops driven by a per-session
// configuration, plus the manager that owns them and acts as the
// crossbar's local-delivery stop.
/*
 * Grounded on original_source/datapath/siphon/apps/pseudo_app.{hpp,cpp}
 * and app_manager.{hpp,cpp}.
 */
package apps

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/iqua-toronto/siphon/cmn/atomic"
)

// tokenBucket paces a Source's data generation to a target rate, with an
// edge-triggered notification when a token becomes available after the
// bucket was found empty (spec.md §4.10 "token bucket pacing").
//
// Token accounting is delegated to golang.org/x/time/rate rather than
// reimplementing the original's fractional bucket-level arithmetic; the
// refill timer survives as an explicit ticker because consumeOneToken's
// edge-trigger flag must be re-checked on a schedule independent of
// consumeOneToken's own call sites.
type tokenBucket struct {
	limiter *rate.Limiter
	ticker  *time.Ticker

	// shouldNotify mirrors should_send_ontoken_available_: set when
	// consumeOneToken finds the bucket empty, consumed (CAS to false) by
	// the refill tick that first observes a token became available.
	shouldNotify atomic.Bool

	onTokenAvailable func()
}

func newTokenBucket(averageRate float64, burstSize int, onTokenAvailable func()) *tokenBucket {
	depth := 1 + burstSize // refill_amount_(1) + sigma_, doubling path left disabled per the original
	tb := &tokenBucket{
		limiter:          rate.NewLimiter(rate.Limit(averageRate), depth),
		ticker:           time.NewTicker(time.Duration(float64(time.Second) / averageRate)),
		onTokenAvailable: onTokenAvailable,
	}
	tb.shouldNotify.Store(true)
	return tb
}

// start fires the initial tick immediately (mirroring the original's
// start() calling generateOneToken once before the refill timer's first
// expiry) and then begins the periodic refill loop. Must be called at
// most once.
func (tb *tokenBucket) start() {
	tb.tick()
	go tb.refillLoop()
}

func (tb *tokenBucket) stop() { tb.ticker.Stop() }

func (tb *tokenBucket) refillLoop() {
	for range tb.ticker.C {
		tb.tick()
	}
}

func (tb *tokenBucket) tick() {
	if tb.shouldNotify.CAS(true, false) {
		tb.onTokenAvailable()
	}
}

// consumeOneToken reports whether a token was available and, if so,
// consumes it. An empty bucket arms shouldNotify so the next refill tick
// retriggers onTokenAvailable exactly once.
func (tb *tokenBucket) consumeOneToken() bool {
	if tb.limiter.Allow() {
		return true
	}
	tb.shouldNotify.Store(true)
	return false
}
