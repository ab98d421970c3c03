// Package interfaces provides internal interface definitions shared by the
// chain engine's components. These are separate from the root package to
// avoid circular imports between it and its internal subpackages.
package interfaces

// Backend defines the interface of a byte-addressable storage target, as
// implemented by internal/blockdevice's Device (an in-memory stand-in for
// the proprietary block device) and FileBackend (a plain file).
type Backend interface {
	ReadAt(p []byte, off int64) (n int, err error)
	WriteAt(p []byte, off int64) (n int, err error)
	Size() int64
	Close() error
	Flush() error
}

// Logger is the minimal logging surface internal packages depend on,
// satisfied by internal/logging.Logger without introducing an import
// dependency on that concrete type.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Decoder recognizes and strips a framing header from a byte stream,
// reporting how many bytes the header occupied and the payload size it
// announces, and decodes the frame's timestamp. Implemented externally
// per format (VDIF, Mark5B); internal/framer only invokes it.
type Decoder interface {
	// Decode inspects data starting at a candidate sync position and
	// returns the number of header bytes and the frame payload length it
	// describes. ok is false if data does not start with a valid header.
	Decode(data []byte) (headerLen int, frameLen int, ok bool)

	// Timestamp decodes the frame's timestamp from a complete, validated
	// frame. Units and epoch are format-specific and opaque to the chain
	// engine.
	Timestamp(frame []byte) int64
}

// Validator performs a cheap consistency check on a fully assembled frame,
// used by internal/framer to reject corrupt frames before they are handed
// downstream.
type Validator interface {
	Validate(frame []byte) error
}
