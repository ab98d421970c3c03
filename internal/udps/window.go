// Package udps implements the UDP-with-sequence-number receive path: the
// reorder window and bottom/top half stages that turn a lossy, reordering
// datagram stream into contiguous fixed-size blocks.
package udps

import (
	"github.com/jive5ab/chaincore"
)

// Window is the R-Block readahead region: each
// slot holds one datagram's worth of payload (rd or wr bytes, depending on
// whether the top half has already padded it) plus a trailing flag byte
// marking whether that slot has been written.
type Window struct {
	pool *chaincore.Blockpool

	blocks []*chaincore.Block // len R, each sized blocksize+N bytes
	flags  [][]byte           // len R, each a view into the block's trailing N bytes

	base      uint64 // sequence number of slot 0 of blocks[0]
	n         int    // datagrams per Block (N)
	blockSize int    // N*wr, the payload portion of each Block
	r         int    // readahead depth R
}

// NewWindow allocates an R-deep window of Blocks sized blockSize+n bytes
// each, drawing every Block from pool.
func NewWindow(pool *chaincore.Blockpool, r, n, blockSize int) *Window {
	w := &Window{
		pool:      pool,
		blocks:    make([]*chaincore.Block, r),
		flags:     make([][]byte, r),
		n:         n,
		blockSize: blockSize,
		r:         r,
	}
	return w
}

// Base returns the sequence number currently occupying slot 0.
func (w *Window) Base() uint64 { return w.base }

// SetBase resets the window's base sequence number without touching any
// already-allocated blocks; used by the resync path.
func (w *Window) SetBase(base uint64) { w.base = base }

// ensure lazily allocates blocks[i] (and its flag view) the first time a
// datagram lands in it.
func (w *Window) ensure(i int) {
	if w.blocks[i] != nil {
		return
	}
	b := w.pool.Get()
	buf := b.Bytes()
	for j := range buf {
		buf[j] = 0
	}
	w.blocks[i] = b
	w.flags[i] = buf[w.blockSize:]
}

// Place writes payload into the slot addressed by seqnr, relative to the
// window's current base. Returns ok=false if seqnr falls outside
// [base, base+R*N), i.e. the caller must shift or resync first.
func (w *Window) Place(seqnr uint64, wr int, payload []byte) bool {
	offset := int64(seqnr) - int64(w.base)
	if offset < 0 || offset >= int64(w.r*w.n) {
		return false
	}
	slotIdx := int(offset) / w.n
	datagramIdx := int(offset) % w.n

	w.ensure(slotIdx)
	buf := w.blocks[slotIdx].Bytes()
	start := datagramIdx * wr
	copy(buf[start:start+len(payload)], payload)
	w.flags[slotIdx][datagramIdx] = 1
	return true
}

// ShiftsNeeded reports how many whole-window shifts are required for
// seqnr to land inside the window, capped at R.
func (w *Window) ShiftsNeeded(seqnr uint64) int {
	offset := int64(seqnr) - int64(w.base)
	if offset < int64(w.r*w.n) {
		return 0
	}
	shifts := int((offset - int64(w.r*w.n))/int64(w.n)) + 1
	if shifts > w.r {
		return w.r
	}
	return shifts
}

// Shift pushes blocks[0] out (allocating a fill-ready empty block if it was
// never written), shifts the remaining R-1 blocks down by one, clears the
// vacated top slot, and advances base by N. Returns the evicted Block,
// whose flag bytes are all zero if nothing was ever received into it.
func (w *Window) Shift() *chaincore.Block {
	w.ensure(0)
	out := w.blocks[0]
	copy(w.blocks, w.blocks[1:])
	copy(w.flags, w.flags[1:])
	w.blocks[w.r-1] = nil
	w.flags[w.r-1] = nil
	w.base += uint64(w.n)
	return out
}

// Drain pushes out every remaining occupied slot in order, used when a
// receive loop exits with allow_variable_block_size set.
func (w *Window) Drain() []*chaincore.Block {
	var out []*chaincore.Block
	for i := 0; i < w.r; i++ {
		if w.blocks[i] != nil {
			out = append(out, w.blocks[i])
		}
	}
	for i := range w.blocks {
		w.blocks[i] = nil
		w.flags[i] = nil
	}
	return out
}

// Reset releases and clears every slot (without forwarding any of them
// downstream — they're treated as discarded) and re-anchors the window at
// newBase.
func (w *Window) Reset(newBase uint64) {
	w.releaseAllSlots()
	w.base = newBase
}

// ReleaseAll releases every currently-allocated slot back to its pool
// without forwarding it downstream, used when a receive loop exits and
// allow_variable_block_size is not set.
func (w *Window) ReleaseAll() {
	w.releaseAllSlots()
}

func (w *Window) releaseAllSlots() {
	for i := range w.blocks {
		if w.blocks[i] != nil {
			w.blocks[i].Release()
		}
		w.blocks[i] = nil
		w.flags[i] = nil
	}
}

// N returns the configured datagrams-per-Block count.
func (w *Window) N() int { return w.n }

// R returns the configured readahead depth.
func (w *Window) R() int { return w.r }
