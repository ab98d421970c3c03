package main

import (
	"encoding/binary"

	"github.com/jive5ab/chaincore"
)

// frameGenState is the sender producer's per-run state: a Blockpool sized
// to one frame and the count of frames left to emit.
type frameGenState struct {
	pool    *chaincore.Blockpool
	n       int
	emitted uint64
}

func newFrameGenMaker(pool *chaincore.Blockpool, n int) (func() *frameGenState, func(*frameGenState)) {
	maker := func() *frameGenState {
		return &frameGenState{pool: pool, n: n}
	}
	deleter := func(*frameGenState) {}
	return maker, deleter
}

// runFrameGen is the sender chain's producer stage function: it emits n
// deterministic frames and then delayed-disables its own output queue, since
// it alone knows there is no more data coming.
func runFrameGen(env *chaincore.SyncEnvelope[*frameGenState], out *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
	state := env.State()
	for state.emitted < uint64(state.n) {
		if env.Cancelled() {
			return nil
		}
		b := state.pool.Get()
		stampFrameContent(b.Bytes(), state.emitted)
		if !out.Push(b) {
			b.Release()
			return nil
		}
		state.emitted++
	}
	out.DelayedDisable()
	return nil
}

// stampFrameContent fills buf (exactly one frame's worth of bytes) with
// content that is a deterministic, invertible function of seqnr: the first
// 8 bytes carry seqnr itself, the rest repeat a seqnr-derived byte, so the
// checker can recompute the expected content for any seqnr without sharing
// state with the sender.
func stampFrameContent(buf []byte, seqnr uint64) {
	if len(buf) >= 8 {
		binary.BigEndian.PutUint64(buf[:8], seqnr)
	}
	fillByte := byte(seqnr*2654435761 + 1)
	for i := 8; i < len(buf); i++ {
		buf[i] = fillByte
	}
}

// expectedFrameContent returns what stampFrameContent would have written
// for seqnr, sized n bytes, for the checker to compare against.
func expectedFrameContent(n int, seqnr uint64) []byte {
	buf := make([]byte, n)
	stampFrameContent(buf, seqnr)
	return buf
}
