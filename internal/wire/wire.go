// Package wire implements the manual binary encodings used on the
// network and file-header boundaries: the UDPS packet header, the
// rsync-like metadata block, and the stripe-writer chunk header. Every
// encoder here follows the same hand-rolled field-by-field
// encoding/binary style rather than reflection-based marshaling, so a
// header's wire layout is visible by reading the function body.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// ErrInsufficientData is returned when a buffer is shorter than the
// fixed-size header it's expected to hold.
var ErrInsufficientData = errors.New("wire: insufficient data")

// ErrMalformedMetadata is returned when a metadata block is missing its
// terminating double NUL or contains a token without a ':' separator.
var ErrMalformedMetadata = errors.New("wire: malformed metadata block")

// UDPSHeaderSize is the on-wire size of a UDPSHeader: one 64-bit
// sequence number, no payload.
const UDPSHeaderSize = 8

// UDPSHeader is the fixed 8-byte header prepended to every UDPS
// datagram: a sequence number interpreted by the receiver as
// 64-bit, though some senders only ever populate the low 32 bits.
type UDPSHeader struct {
	Seqnr uint64
}

// MarshalUDPSHeader encodes h as 8 big-endian bytes. The wire format
// calls the encoding "big-endian-independent": senders and receivers
// agree on a byte order out of band, but this implementation always
// uses big-endian, matching go-ublk's consistent use of
// binary.LittleEndian for its own (different) wire structs — one fixed
// order, chosen once, never mixed within a message.
func MarshalUDPSHeader(h UDPSHeader) []byte {
	buf := make([]byte, UDPSHeaderSize)
	binary.BigEndian.PutUint64(buf, h.Seqnr)
	return buf
}

// UnmarshalUDPSHeader decodes an 8-byte sequence number from the front
// of data.
func UnmarshalUDPSHeader(data []byte) (UDPSHeader, error) {
	if len(data) < UDPSHeaderSize {
		return UDPSHeader{}, ErrInsufficientData
	}
	return UDPSHeader{Seqnr: binary.BigEndian.Uint64(data[:UDPSHeaderSize])}, nil
}

// UnmarshalUDPSHeader32 decodes a sender variant that only ever wrote
// the low 32 bits of the sequence number; the high 32 bits are treated
// as zero.
func UnmarshalUDPSHeader32(data []byte) (UDPSHeader, error) {
	if len(data) < 4 {
		return UDPSHeader{}, ErrInsufficientData
	}
	return UDPSHeader{Seqnr: uint64(binary.BigEndian.Uint32(data[:4]))}, nil
}

// ChunkHeaderSize is the on-wire size of a StripeChunkHeader.
const ChunkHeaderSize = 16

// StripeChunkHeader precedes a chunk's payload in Mark6 mode, where
// many chunks share one file per mountpoint.
type StripeChunkHeader struct {
	SeqNum     uint64
	ByteLength uint64
}

// MarshalChunkHeader encodes h as 16 big-endian bytes: sequence number
// then byte length.
func MarshalChunkHeader(h StripeChunkHeader) []byte {
	buf := make([]byte, ChunkHeaderSize)
	binary.BigEndian.PutUint64(buf[0:8], h.SeqNum)
	binary.BigEndian.PutUint64(buf[8:16], h.ByteLength)
	return buf
}

// UnmarshalChunkHeader decodes a StripeChunkHeader from the front of data.
func UnmarshalChunkHeader(data []byte) (StripeChunkHeader, error) {
	if len(data) < ChunkHeaderSize {
		return StripeChunkHeader{}, ErrInsufficientData
	}
	return StripeChunkHeader{
		SeqNum:     binary.BigEndian.Uint64(data[0:8]),
		ByteLength: binary.BigEndian.Uint64(data[8:16]),
	}, nil
}

// Metadata is an ordered key/value block as used by the rsync-like
// initiator/responder protocol: a sequence of "key: value\x00"
// tokens terminated by a second NUL byte.
type Metadata struct {
	keys   []string
	values []string
}

// NewMetadata creates an empty metadata block.
func NewMetadata() *Metadata {
	return &Metadata{}
}

// Set appends a key/value pair, preserving insertion order. A key set
// more than once appears more than once on the wire; readers use the
// first occurrence via Get.
func (m *Metadata) Set(key, value string) {
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
}

// Get returns the first value associated with key, if any.
func (m *Metadata) Get(key string) (string, bool) {
	for i, k := range m.keys {
		if k == key {
			return m.values[i], true
		}
	}
	return "", false
}

// Encode serializes the metadata block as "key: value\x00" tokens
// followed by a terminating NUL.
func (m *Metadata) Encode() []byte {
	var buf bytes.Buffer
	for i, k := range m.keys {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(m.values[i])
		buf.WriteByte(0)
	}
	buf.WriteByte(0)
	return buf.Bytes()
}

// DecodeMetadata parses a double-NUL-terminated metadata block,
// returning the block and the number of bytes it consumed from data.
func DecodeMetadata(data []byte) (*Metadata, int, error) {
	m := NewMetadata()
	offset := 0
	for {
		if offset >= len(data) {
			return nil, 0, ErrMalformedMetadata
		}
		if data[offset] == 0 {
			return m, offset + 1, nil
		}
		end := bytes.IndexByte(data[offset:], 0)
		if end < 0 {
			return nil, 0, ErrMalformedMetadata
		}
		token := string(data[offset : offset+end])
		offset += end + 1

		sep := bytes.IndexByte([]byte(token), ':')
		if sep < 0 {
			return nil, 0, ErrMalformedMetadata
		}
		key := token[:sep]
		value := token[sep+1:]
		if len(value) > 0 && value[0] == ' ' {
			value = value[1:]
		}
		m.Set(key, value)
	}
}

// EncodeNullSeparatedPaths joins paths with a single NUL separator, the
// format used for the rsync request/reply path lists.
func EncodeNullSeparatedPaths(paths []string) []byte {
	var buf bytes.Buffer
	for i, p := range paths {
		if i > 0 {
			buf.WriteByte(0)
		}
		buf.WriteString(p)
	}
	return buf.Bytes()
}

// DecodeNullSeparatedPaths splits a NUL-separated path list. An empty
// input yields an empty slice, not a slice containing one empty string.
func DecodeNullSeparatedPaths(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	parts := bytes.Split(data, []byte{0})
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}
