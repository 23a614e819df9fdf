package wire

import (
	"bytes"
	"testing"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{},
		{SessionID: "sess-1", Seq: 42, Src: 1, Dst: 2, TimestampUs: 1700000000, PayloadSize: 128},
		{SessionID: "", Seq: 0, Src: 0, Dst: 0, Ack: true, CodingParameters: 0xdeadbeef},
		{SessionID: string(bytes.Repeat([]byte("x"), 1000)), PayloadSize: 9000},
	}
	for i, h := range cases {
		buf := make([]byte, h.MarshalLen())
		n, err := h.Marshal(buf)
		if err != nil {
			t.Fatalf("case %d: Marshal: %v", i, err)
		}
		if n != len(buf) {
			t.Fatalf("case %d: Marshal wrote %d bytes, want %d", i, n, len(buf))
		}
		var got Header
		if err := got.Unmarshal(buf); err != nil {
			t.Fatalf("case %d: Unmarshal: %v", i, err)
		}
		if got != h {
			t.Fatalf("case %d: round trip mismatch\nwant %+v\ngot  %+v", i, h, got)
		}
	}
}

func TestHeaderMarshalBufferTooSmall(t *testing.T) {
	h := Header{SessionID: "abc"}
	buf := make([]byte, h.MarshalLen()-1)
	if _, err := h.Marshal(buf); err == nil {
		t.Fatal("expected error for undersized buffer")
	}
}

func TestHeaderUnmarshalTruncated(t *testing.T) {
	h := Header{SessionID: "abc", Seq: 7}
	buf := make([]byte, h.MarshalLen())
	if _, err := h.Marshal(buf); err != nil {
		t.Fatal(err)
	}
	var got Header
	if err := got.Unmarshal(buf[:len(buf)-3]); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestHeaderUnmarshalTrailingBytes(t *testing.T) {
	h := Header{SessionID: "abc"}
	buf := make([]byte, h.MarshalLen()+4)
	if _, err := h.Marshal(buf); err != nil {
		t.Fatal(err)
	}
	var got Header
	if err := got.Unmarshal(buf); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}
