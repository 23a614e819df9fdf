// Package coder implements siphon's UDP coder hooks (spec.md §4.7): a
// per-session encoder/decoder pair that rewrites a minion's payload and
// carries a 32-bit coding-parameters word piggybacked on acks.
/*
 * Grounded on original_source/datapath/siphon/coder/udp_coder_interfaces.hpp
 * and fake_udp_coder.hpp. Only DirectPass (pass-through) and the "test"
 * fixture ship here -- a real forward-error-correction coder (the original
 * repo's Reed-Solomon variant) is out of scope for this datapath (spec.md
 * §1 Non-goals); see DESIGN.md for why klauspost/reedsolomon was not wired
 * in anywhere.
 */
package coder

// Params is the 32-bit coding-parameters word: four packed bytes, little-
// endian, T | B<<8 | N<<16 | counter<<24 (spec.md §4.7).
type Params uint32

func NewParams(t, b, n, counter uint8) Params {
	return Params(uint32(t) | uint32(b)<<8 | uint32(n)<<16 | uint32(counter)<<24)
}

func (p Params) T() uint8       { return uint8(p) }
func (p Params) B() uint8       { return uint8(p >> 8) }
func (p Params) N() uint8       { return uint8(p >> 16) }
func (p Params) Counter() uint8 { return uint8(p >> 24) }
