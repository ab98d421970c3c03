package udps

import "encoding/binary"

// RawFillPattern is the 64-bit constant repeated into every missing
// datagram slot for formats with no special "invalid frame" encoding.
const RawFillPattern uint64 = 0x1122334411223344

// vdifInvalidBit is bit 31 of a VDIF frame's first header word; setting
// it marks the frame invalid so a downstream VDIF consumer skips it
// instead of choking on fill data that merely looks like a frame.
const vdifInvalidBit uint32 = 1 << 31

// FillPattern returns frameSize bytes of fill data appropriate for
// format. VDIF frames get a header that looks structurally valid (a
// correct frame-length field) but has its invalid bit set, so a
// downstream VDIF reader can skip it cleanly instead of tripping over
// garbage; every other format gets the raw repeating 64-bit constant.
func FillPattern(format string, frameSize int) []byte {
	buf := make([]byte, frameSize)
	fillRaw(buf)

	if format == "VDIF" && frameSize >= 8 {
		stampVDIFInvalidHeader(buf, frameSize)
	}
	return buf
}

func fillRaw(buf []byte) {
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], RawFillPattern)
	for i := 0; i < len(buf); i += 8 {
		n := copy(buf[i:], word[:])
		_ = n
	}
}

// stampVDIFInvalidHeader overwrites the first two 32-bit words of buf
// with a minimal VDIF header: word 0 carries the invalid bit, word 1
// carries the frame length in units of 8 bytes (VDIF's native unit),
// so a downstream reader's length-based chopping does not desync even
// for a fill frame.
func stampVDIFInvalidHeader(buf []byte, frameSize int) {
	word0 := vdifInvalidBit
	binary.BigEndian.PutUint32(buf[0:4], word0)
	binary.BigEndian.PutUint32(buf[4:8], uint32(frameSize/8))
}

// IsFillPattern reports whether data is entirely the raw fill constant,
// used by tests and by a consumer that wants to distinguish fill from
// real payload without tracking the flag byte itself.
func IsFillPattern(data []byte) bool {
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], RawFillPattern)
	for i := 0; i+8 <= len(data); i += 8 {
		for j := 0; j < 8; j++ {
			if data[i+j] != word[j] {
				return false
			}
		}
	}
	return true
}
