// Package wire implements siphon's Message envelope and wire framing
// (spec.md §4.1, §6): a length-prefixed header in front of a payload, with
// two fixed-capacity backing chunks so that a message can carry either its
// originally-received payload or one rewritten in place by a UDP coder
// without ever reallocating.
/*
 * Grounded on original_source/datapath/siphon/base/message.{hpp,cpp}. The
 * original serializes MessageHeader via protobuf; this port fixes the wire
 * layout explicitly (encoding/binary, little-endian) per spec.md §9's open
 * question about host-endian framing, rather than carry a protobuf
 * dependency the rest of the pack never reaches for.
 */
package wire

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed-schema record serialized in front of every payload
// (spec.md §6 "Header record").
type Header struct {
	SessionID        string
	Seq              uint64
	Src              uint32
	Dst              uint32
	TimestampUs      int64
	PayloadSize      uint32
	Ack              bool
	CodingParameters uint32
}

// maxSessionIDLen bounds the length-prefixed session id field (uint16 length).
const maxSessionIDLen = 1<<16 - 1

// MarshalLen reports how many bytes Marshal will produce for the header as
// currently populated (not counting the payload).
func (h *Header) MarshalLen() int {
	return 2 + len(h.SessionID) + 8 + 4 + 4 + 8 + 4 + 1 + 4
}

// Marshal serializes the header into dst, which must be at least
// MarshalLen() bytes, and returns the number of bytes written.
func (h *Header) Marshal(dst []byte) (int, error) {
	n := h.MarshalLen()
	if len(h.SessionID) > maxSessionIDLen {
		return 0, fmt.Errorf("wire: session id too long (%d bytes)", len(h.SessionID))
	}
	if len(dst) < n {
		return 0, fmt.Errorf("wire: header buffer too small (have %d, need %d)", len(dst), n)
	}
	off := 0
	binary.LittleEndian.PutUint16(dst[off:], uint16(len(h.SessionID)))
	off += 2
	off += copy(dst[off:], h.SessionID)
	binary.LittleEndian.PutUint64(dst[off:], h.Seq)
	off += 8
	binary.LittleEndian.PutUint32(dst[off:], h.Src)
	off += 4
	binary.LittleEndian.PutUint32(dst[off:], h.Dst)
	off += 4
	binary.LittleEndian.PutUint64(dst[off:], uint64(h.TimestampUs))
	off += 8
	binary.LittleEndian.PutUint32(dst[off:], h.PayloadSize)
	off += 4
	if h.Ack {
		dst[off] = 1
	} else {
		dst[off] = 0
	}
	off++
	binary.LittleEndian.PutUint32(dst[off:], h.CodingParameters)
	off += 4
	return off, nil
}

// Unmarshal parses a header from src, which must hold exactly one
// serialized header (no trailing payload bytes).
func (h *Header) Unmarshal(src []byte) error {
	if len(src) < 2 {
		return fmt.Errorf("wire: header too short (%d bytes)", len(src))
	}
	sidLen := int(binary.LittleEndian.Uint16(src))
	off := 2
	const tail = 8 + 4 + 4 + 8 + 4 + 1 + 4
	if len(src) < off+sidLen+tail {
		return fmt.Errorf("wire: header truncated (%d bytes, need %d)", len(src), off+sidLen+tail)
	}
	h.SessionID = string(src[off : off+sidLen])
	off += sidLen
	h.Seq = binary.LittleEndian.Uint64(src[off:])
	off += 8
	h.Src = binary.LittleEndian.Uint32(src[off:])
	off += 4
	h.Dst = binary.LittleEndian.Uint32(src[off:])
	off += 4
	h.TimestampUs = int64(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	h.PayloadSize = binary.LittleEndian.Uint32(src[off:])
	off += 4
	h.Ack = src[off] != 0
	off++
	h.CodingParameters = binary.LittleEndian.Uint32(src[off:])
	off += 4
	if off != len(src) {
		return fmt.Errorf("wire: header has %d trailing bytes", len(src)-off)
	}
	return nil
}
