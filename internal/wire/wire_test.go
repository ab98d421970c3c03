package wire

import (
	"bytes"
	"testing"
)

func TestUDPSHeaderRoundTrip(t *testing.T) {
	h := UDPSHeader{Seqnr: 0x0102030405060708}
	buf := MarshalUDPSHeader(h)
	if len(buf) != UDPSHeaderSize {
		t.Fatalf("expected %d bytes, got %d", UDPSHeaderSize, len(buf))
	}

	got, err := UnmarshalUDPSHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("expected %+v, got %+v", h, got)
	}
}

func TestUDPSHeaderInsufficientData(t *testing.T) {
	if _, err := UnmarshalUDPSHeader([]byte{1, 2, 3}); err != ErrInsufficientData {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestUDPSHeader32TreatsHighBitsAsZero(t *testing.T) {
	buf := []byte{0xff, 0xff, 0xff, 0xff}
	h, err := UnmarshalUDPSHeader32(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Seqnr != 0xffffffff {
		t.Fatalf("expected low 32 bits set and high 32 zero, got %#x", h.Seqnr)
	}
}

func TestChunkHeaderRoundTrip(t *testing.T) {
	h := StripeChunkHeader{SeqNum: 42, ByteLength: 1 << 20}
	buf := MarshalChunkHeader(h)
	if len(buf) != ChunkHeaderSize {
		t.Fatalf("expected %d bytes, got %d", ChunkHeaderSize, len(buf))
	}

	got, err := UnmarshalChunkHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != h {
		t.Fatalf("expected %+v, got %+v", h, got)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	m := NewMetadata()
	m.Set("requestRsync", "scan001")
	m.Set("payloadSize", "128")

	encoded := m.Encode()
	if !bytes.HasSuffix(encoded, []byte{0}) {
		t.Fatal("expected metadata block to end with a terminating NUL")
	}

	decoded, n, err := DecodeMetadata(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(encoded), n)
	}

	scan, ok := decoded.Get("requestRsync")
	if !ok || scan != "scan001" {
		t.Fatalf("expected requestRsync=scan001, got %q ok=%v", scan, ok)
	}
	size, ok := decoded.Get("payloadSize")
	if !ok || size != "128" {
		t.Fatalf("expected payloadSize=128, got %q ok=%v", size, ok)
	}
}

func TestMetadataTrailingPayload(t *testing.T) {
	m := NewMetadata()
	m.Set("listType", "have")
	m.Set("rsyncReplySz", "10")

	encoded := m.Encode()
	payload := []byte("a/b/c.vdif")
	full := append(encoded, payload...)

	decoded, n, err := DecodeMetadata(full)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(full[n:], payload) {
		t.Fatalf("expected remaining bytes to be the payload, got %q", full[n:])
	}
	lt, _ := decoded.Get("listType")
	if lt != "have" {
		t.Fatalf("expected listType=have, got %q", lt)
	}
}

func TestMetadataMalformed(t *testing.T) {
	if _, _, err := DecodeMetadata([]byte("no-terminator")); err != ErrMalformedMetadata {
		t.Fatalf("expected ErrMalformedMetadata, got %v", err)
	}
}

func TestNullSeparatedPathsRoundTrip(t *testing.T) {
	paths := []string{"scan001/chunk.000", "scan001/chunk.001", "scan001/chunk.002"}
	encoded := EncodeNullSeparatedPaths(paths)
	decoded := DecodeNullSeparatedPaths(encoded)

	if len(decoded) != len(paths) {
		t.Fatalf("expected %d paths, got %d", len(paths), len(decoded))
	}
	for i, p := range paths {
		if decoded[i] != p {
			t.Fatalf("path %d: expected %q, got %q", i, p, decoded[i])
		}
	}
}

func TestNullSeparatedPathsEmpty(t *testing.T) {
	if got := DecodeNullSeparatedPaths(nil); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}
}
