package main

import (
	"bytes"
	"encoding/binary"

	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/udps"
)

// demoResult summarizes one run of the sender/receiver round trip.
type demoResult struct {
	FramesSent     uint64
	FramesDropped  uint64
	BlocksReceived uint64
	FramesVerified uint64
	FramesFilled   uint64
	Mismatches     uint64
	Discarded      uint64
	Jumps          uint64
}

// checkerState is the receiver consumer's per-run state: the per-frame
// stride and N needed to walk a received block slot by slot, plus the
// running base seqnr the checker expects the next block to start at.
// resyncAfter mirrors the sender's own ResyncAfter so the checker's
// expectation resets exactly when the sender's does, rather than trying to
// auto-detect a restart from content alone.
type checkerState struct {
	frameSize   int
	n           int
	resyncAfter int
	format      string

	nextBase uint64
}

func newCheckerMaker(frameSize, n, resyncAfter int, format string) (func() *checkerState, func(*checkerState)) {
	maker := func() *checkerState {
		return &checkerState{frameSize: frameSize, n: n, resyncAfter: resyncAfter, format: format}
	}
	deleter := func(*checkerState) {}
	return maker, deleter
}

// makeChecker returns the receiver chain's consumer stage function, closed
// over res so every block's verification result accumulates there: for
// every slot in a reconstructed block it either recognizes the fill
// pattern (a dropped frame the top half papered over) or compares the
// slot's bytes against the deterministic content the sender would have
// stamped for that seqnr.
func makeChecker(res *demoResult) func(env *chaincore.SyncEnvelope[*checkerState], in *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
	return func(env *chaincore.SyncEnvelope[*checkerState], in *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
		for {
			b, ok := in.Pop()
			if !ok {
				return nil
			}
			s := env.State()
			res.BlocksReceived++

			buf := b.Bytes()
			for slot := 0; slot < s.n; slot++ {
				start := slot * s.frameSize
				if start+s.frameSize > len(buf) {
					break
				}
				cell := buf[start : start+s.frameSize]
				seqnr := s.nextBase + uint64(slot)

				if s.resyncAfter > 0 && seqnr > 0 && seqnr%uint64(s.resyncAfter) == 0 {
					s.nextBase = 0
					seqnr = 0
				}

				if isFillSlot(s.format, cell) {
					res.FramesFilled++
					continue
				}
				want := expectedFrameContent(s.frameSize, seqnr)
				if !bytes.Equal(cell, want) {
					res.Mismatches++
					continue
				}
				res.FramesVerified++
			}
			s.nextBase += uint64(s.n)
			b.Release()
		}
	}
}

// isFillSlot reports whether cell is fill data rather than a real frame.
// VDIF fill frames carry a structurally valid header with the invalid bit
// set (see internal/udps.FillPattern), so the raw repeating-constant check
// udps.IsFillPattern performs would miss them; every other format uses the
// raw constant throughout, which IsFillPattern does check.
func isFillSlot(format string, cell []byte) bool {
	if format == "VDIF" && len(cell) >= 8 {
		word0 := binary.BigEndian.Uint32(cell[0:4])
		return word0&(1<<31) != 0
	}
	return udps.IsFillPattern(cell)
}
