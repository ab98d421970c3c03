// Package framer implements the Header Search component: it turns a
// stream of raw Blocks into a stream of aligned Frames of a declared
// VLBI format, by locating a syncword (Boyer-Moore search) or, for
// syncword-less formats such as VDIF, chopping by a fixed frame size.
// The actual frame-format knowledge (header layout, CRC, timestamp
// decoding) is supplied externally through interfaces.Decoder and
// interfaces.Validator; this package only drives the accumulate/
// search/emit loop.
package framer

import (
	"errors"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/interfaces"
)

// ErrInvalidConfig is returned by New when the configuration is
// internally inconsistent (e.g. a zero frame size).
var ErrInvalidConfig = errors.New("framer: invalid configuration")

// Config parameterizes a Framer. Formats with no syncword (VDIF) leave
// SyncWord empty and rely on FrameSize-based chopping alone.
type Config struct {
	SyncWord   []byte // empty for syncword-less (size-based) formats
	SyncOffset int    // byte offset of the syncword within a frame
	FrameSize  int    // total bytes per frame, header included
	Tracks     int    // declared track count, opaque to the framer itself

	Format FrameFormat

	Decoder   interfaces.Decoder   // optional; nil means headerLen=0, frameLen=FrameSize
	Validator interfaces.Validator // optional

	Pool *chaincore.Blockpool // allocates output Frame payload Blocks

	Logger   interfaces.Logger
	Observer chaincore.Observer
}

// FrameFormat re-exports chaincore.FrameFormat so callers configuring a
// Framer don't need to import the root package just for this type.
type FrameFormat = chaincore.FrameFormat

// Framer accumulates raw bytes and emits aligned Frames.
type Framer struct {
	cfg Config

	acc []byte // growing accumulator of not-yet-emitted bytes

	framesEmitted uint64
	resyncSkips   uint64
}

// New validates cfg and returns a ready Framer.
func New(cfg Config) (*Framer, error) {
	if cfg.FrameSize <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.Pool == nil {
		return nil, ErrInvalidConfig
	}
	if len(cfg.SyncWord) > 0 && cfg.SyncOffset+len(cfg.SyncWord) > cfg.FrameSize {
		return nil, ErrInvalidConfig
	}
	return &Framer{cfg: cfg}, nil
}

// FramesEmitted returns the total number of Frames emitted so far.
func (f *Framer) FramesEmitted() uint64 { return f.framesEmitted }

// Feed appends data to the internal accumulator and returns every
// Frame that can be completed from the combined buffer. Leftover bytes
// are retained across calls in the Framer's growing byte accumulator.
func (f *Framer) Feed(data []byte) ([]chaincore.Frame, error) {
	f.acc = append(f.acc, data...)

	if len(f.cfg.SyncWord) == 0 {
		return f.chopBySize(), nil
	}
	return f.searchAndEmit(), nil
}

// chopBySize implements the syncword-less path: every FrameSize bytes
// of the accumulator is one frame, no search needed.
func (f *Framer) chopBySize() []chaincore.Frame {
	var out []chaincore.Frame
	for len(f.acc) >= f.cfg.FrameSize {
		candidate := f.acc[:f.cfg.FrameSize]
		if frame, ok := f.emit(candidate); ok {
			out = append(out, frame)
		}
		f.acc = f.acc[f.cfg.FrameSize:]
	}
	return out
}

// searchAndEmit implements the syncword path: locate the syncword with
// a Boyer-Moore search, align back to the frame start, validate, and
// emit or skip past this occurrence and retry.
func (f *Framer) searchAndEmit() []chaincore.Frame {
	var out []chaincore.Frame

	searchFrom := 0
	for {
		need := f.cfg.SyncOffset + len(f.cfg.SyncWord)
		if len(f.acc)-searchFrom < need {
			break
		}

		rel := boyerMooreIndex(f.acc[searchFrom:], f.cfg.SyncWord)
		if rel < 0 {
			// No occurrence in the unsearched tail; keep enough bytes to
			// catch a syncword straddling the next Feed's boundary.
			keepFrom := len(f.acc) - (len(f.cfg.SyncWord) - 1)
			if keepFrom < 0 {
				keepFrom = 0
			}
			f.acc = f.acc[keepFrom:]
			break
		}

		idx := searchFrom + rel
		frameStart := idx - f.cfg.SyncOffset
		if frameStart < 0 {
			// Not enough leading bytes for this occurrence; try the next one.
			searchFrom = idx + 1
			continue
		}
		if len(f.acc)-frameStart < f.cfg.FrameSize {
			// Candidate frame not fully buffered yet; drop garbage before
			// it and wait for more data.
			f.acc = f.acc[frameStart:]
			break
		}

		candidate := f.acc[frameStart : frameStart+f.cfg.FrameSize]
		if frame, ok := f.emit(candidate); ok {
			out = append(out, frame)
			f.acc = f.acc[frameStart+f.cfg.FrameSize:]
			searchFrom = 0
			continue
		}

		// Validation failed: advance past this syncword occurrence and
		// keep searching the same buffered data.
		f.resyncSkips++
		searchFrom = idx + 1
	}

	return out
}

// emit runs the optional decoder/validator over candidate and, on
// success, copies it into a pool-backed Block and returns a Frame.
func (f *Framer) emit(candidate []byte) (chaincore.Frame, bool) {
	frameLen := len(candidate)
	if f.cfg.Decoder != nil {
		_, fl, ok := f.cfg.Decoder.Decode(candidate)
		if !ok {
			return chaincore.Frame{}, false
		}
		frameLen = fl
	}

	if f.cfg.Validator != nil {
		if err := f.cfg.Validator.Validate(candidate[:frameLen]); err != nil {
			if f.cfg.Logger != nil {
				f.cfg.Logger.Debugf("framer: validation failed: %v", err)
			}
			return chaincore.Frame{}, false
		}
	}

	block := f.cfg.Pool.Get()
	n := copy(block.Bytes(), candidate[:frameLen])
	view := block.Sub(0, n)
	block.Release()

	var ts int64
	if f.cfg.Decoder != nil {
		ts = f.cfg.Decoder.Timestamp(candidate[:frameLen])
	}

	f.framesEmitted++
	if f.cfg.Observer != nil {
		f.cfg.Observer.ObservePush(uint64(n))
	}

	return chaincore.Frame{
		Format:    f.cfg.Format,
		Tracks:    f.cfg.Tracks,
		Timestamp: ts,
		Payload:   view,
	}, true
}

// boyerMooreIndex returns the index of the first occurrence of needle
// in haystack using the bad-character rule, or -1 if absent.
func boyerMooreIndex(haystack, needle []byte) int {
	n, m := len(haystack), len(needle)
	if m == 0 {
		return 0
	}
	if m > n {
		return -1
	}

	var badChar [256]int
	for i := range badChar {
		badChar[i] = -1
	}
	for i, b := range needle {
		badChar[b] = i
	}

	shift := 0
	for shift <= n-m {
		j := m - 1
		for j >= 0 && needle[j] == haystack[shift+j] {
			j--
		}
		if j < 0 {
			return shift
		}
		badCharShift := j - badChar[haystack[shift+j]]
		if badCharShift < 1 {
			badCharShift = 1
		}
		shift += badCharShift
	}
	return -1
}
