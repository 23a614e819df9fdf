// Package atomic provides small typed wrappers around sync/atomic, matching
// the shape siphon's own code expects (Load/Store/Add/CAS by value rather
// than by pointer-and-offset).
/*
 * Adapted from aistore's cmn/atomic package. The teacher repo imports
 * "github.com/NVIDIA/aistore/cmn/atomic" throughout (see cmn/cos/uuid.go,
 * stats/target_stats.go, stats/proxy_stats.go) but that package's own
 * source was not part of the retrieved pack -- only call sites were
 * (`atomic.Uint32`, `atomic.Bool`). This reconstructs the minimal surface
 * siphon needs from those call sites.
 */
package atomic

import "sync/atomic"

type Bool struct{ v int32 }

func (b *Bool) Load() bool { return atomic.LoadInt32(&b.v) != 0 }

func (b *Bool) Store(val bool) {
	if val {
		atomic.StoreInt32(&b.v, 1)
	} else {
		atomic.StoreInt32(&b.v, 0)
	}
}

// CAS swaps old->new and reports whether it took effect.
func (b *Bool) CAS(old, newVal bool) bool {
	var o, n int32
	if old {
		o = 1
	}
	if newVal {
		n = 1
	}
	return atomic.CompareAndSwapInt32(&b.v, o, n)
}

type Int32 struct{ v int32 }

func (i *Int32) Load() int32          { return atomic.LoadInt32(&i.v) }
func (i *Int32) Store(val int32)      { atomic.StoreInt32(&i.v, val) }
func (i *Int32) Add(delta int32) int32 { return atomic.AddInt32(&i.v, delta) }
func (i *Int32) CAS(old, newVal int32) bool {
	return atomic.CompareAndSwapInt32(&i.v, old, newVal)
}

type Int64 struct{ v int64 }

func (i *Int64) Load() int64           { return atomic.LoadInt64(&i.v) }
func (i *Int64) Store(val int64)       { atomic.StoreInt64(&i.v, val) }
func (i *Int64) Add(delta int64) int64 { return atomic.AddInt64(&i.v, delta) }

type Uint32 struct{ v uint32 }

func (u *Uint32) Load() uint32      { return atomic.LoadUint32(&u.v) }
func (u *Uint32) Store(val uint32)  { atomic.StoreUint32(&u.v, val) }
func (u *Uint32) Add(delta uint32) uint32 {
	return atomic.AddUint32(&u.v, delta)
}
func (u *Uint32) CAS(old, newVal uint32) bool {
	return atomic.CompareAndSwapUint32(&u.v, old, newVal)
}
