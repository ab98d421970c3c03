package chaincore

// FrameFormat tags the VLBI wire format a Frame was decoded from. The
// chain engine never interprets the value itself; it is opaque data
// carried alongside the payload for the benefit of downstream stages
// and the external decoder.
type FrameFormat string

// Frame is produced by the Framer: a payload Block aligned to one
// complete unit of a declared VLBI format, plus the decoded timestamp
// and track count the external decoder reported for it. A Frame's
// lifetime is tied to its Block: releasing the last reference to
// Payload also ends the Frame's lifetime, since there is nothing else
// to release.
type Frame struct {
	Format    FrameFormat
	Tracks    int
	Timestamp int64 // decoded timestamp, format-specific epoch/units
	Payload   *Block
}

// Release releases the Frame's underlying Block.
func (f Frame) Release() {
	f.Payload.Release()
}

// Len reports the Frame's payload length, satisfying the lenner
// interface so BoundedQueue[Frame] metrics see real byte counts.
func (f Frame) Len() int {
	return f.Payload.Len()
}

// TaggedBlock pairs a Block with an unsigned routing tag, for a stream
// that must be demultiplexed downstream by tag. The fan-out multiwriter
// and the stripe writer do not use it: they carry their own element
// types, fanout.Tagged (a string tag) and stripewriter.Chunk.
type TaggedBlock struct {
	Tag     uint64
	Payload *Block
}

// Release releases the TaggedBlock's underlying Block.
func (t TaggedBlock) Release() {
	t.Payload.Release()
}

// Len reports the TaggedBlock's payload length, satisfying lenner.
func (t TaggedBlock) Len() int {
	return t.Payload.Len()
}
