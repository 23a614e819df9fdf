// Package mono provides monotonic time for latency and TTL bookkeeping.
/*
 * Adapted from aistore's cmn/mono package (the teacher's variant used
 * go:linkname into runtime.nanotime; siphon uses the stable time.Since
 * monotonic reading instead, since go:linkname into an unexported
 * runtime symbol is not a supported interface).
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonically non-decreasing number of nanoseconds
// since package init. Only meaningful relative to another NanoTime() call.
func NanoTime() int64 {
	return int64(time.Since(start))
}
