package udps

import (
	"github.com/jive5ab/chaincore"
	"github.com/jive5ab/chaincore/internal/interfaces"
)

// TopHalfConfig parameterizes the UDPS top half.
type TopHalfConfig struct {
	N      int // datagrams per Block
	Wr, Rd int // slot cell size / wire payload size
	Format string

	Logger   interfaces.Logger
	Observer chaincore.Observer
}

// TopHalfState is the top half's per-run user-state: just the immutable
// config plus the pre-built fill pattern, computed once per run rather
// than per Block.
type TopHalfState struct {
	cfg  TopHalfConfig
	fill []byte
}

// NewTopHalfState builds top-half state, pre-computing the fill datagram
// for cfg.Format/Rd so the hot path never allocates it per slot.
func NewTopHalfState(cfg TopHalfConfig) *TopHalfState {
	return &TopHalfState{
		cfg:  cfg,
		fill: FillPattern(cfg.Format, cfg.Rd),
	}
}

// RunTopHalf is the UDPS top half's Chain intermediate stage function: for
// every slot lacking its flag byte, it copies in the fill pattern; when
// wr > rd it also re-zeroes the wr-rd tail of every slot, received or not,
// so a downstream bitwise-OR decompressor never sees garbage there.
func RunTopHalf(env *chaincore.SyncEnvelope[*TopHalfState], in, out *chaincore.BoundedQueue[*chaincore.Block], threadIndex int) error {
	for {
		b, ok := in.Pop()
		if !ok {
			return nil
		}
		state := env.State()
		cleaned := fillBlock(state, b)
		if !out.Push(cleaned) {
			cleaned.Release()
			return nil
		}
	}
}

// fillBlock substitutes the fill pattern into every unreceived slot of b
// (which carries N trailing flag bytes) and returns a new Block viewing
// just the blocksize payload, with b released.
func fillBlock(state *TopHalfState, b *chaincore.Block) *chaincore.Block {
	cfg := state.cfg
	buf := b.Bytes()
	blockSize := cfg.N * cfg.Wr
	data := buf[:blockSize]
	flags := buf[blockSize : blockSize+cfg.N]

	for slot := 0; slot < cfg.N; slot++ {
		cellStart := slot * cfg.Wr
		cell := data[cellStart : cellStart+cfg.Wr]
		if flags[slot] == 0 {
			copy(cell[:cfg.Rd], state.fill)
		}
		if cfg.Wr > cfg.Rd {
			tail := cell[cfg.Rd:]
			for i := range tail {
				tail[i] = 0
			}
		}
	}

	if cfg.Observer != nil {
		cfg.Observer.ObservePush(uint64(blockSize))
	}

	view := b.Sub(0, blockSize)
	b.Release()
	return view
}
