package chaincore

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iobuf"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
)

// Block is a reference-counted view over a byte buffer drawn from a
// Blockpool. Sub-slicing returns a new Block sharing the same underlying
// storage and refcount; the storage is returned to its pool's free list
// only when the last reference is released.
type Block struct {
	pool     *Blockpool
	chunk    int    // owning chunk index within pool.chunks
	slot     uint32 // slot index within the owning chunk
	data     []byte // the full per-slot buffer
	off      int    // offset of this view within data
	len      int    // length of this view
	refcount *atomic.Int32
}

// Bytes returns the byte slice backing this Block's view. The slice must
// not be retained past Release.
func (b *Block) Bytes() []byte {
	return b.data[b.off : b.off+b.len]
}

// Len returns the length of this Block's view in bytes.
func (b *Block) Len() int {
	return b.len
}

// Sub returns a new Block viewing a sub-range of the current view, sharing
// the same underlying slot and refcount. Panics if the range is invalid.
func (b *Block) Sub(offset, length int) *Block {
	if offset < 0 || length < 0 || offset+length > b.len {
		panic("chaincore: Block.Sub range out of bounds")
	}
	b.refcount.Add(1)
	return &Block{
		pool:     b.pool,
		chunk:    b.chunk,
		slot:     b.slot,
		data:     b.data,
		off:      b.off + offset,
		len:      length,
		refcount: b.refcount,
	}
}

// Retain increments the refcount and returns the same Block, for callers
// that hand the same view to more than one downstream consumer.
func (b *Block) Retain() *Block {
	b.refcount.Add(1)
	return b
}

// Release drops one reference. When the last reference drops, the
// underlying slot is returned to its chunk's free list.
func (b *Block) Release() {
	if b.refcount.Add(-1) == 0 {
		b.pool.release(b.chunk, b.slot)
	}
}

// blockChunk is one lazily-allocated slab of a Blockpool, subdivided into
// fixed-size slots. Each chunk owns a lock-free free list of its own slot
// indices so a hot Get()/release() pair never takes the pool-wide mutex.
type blockChunk struct {
	buf       []byte
	freeList  *lfq.MPMC[uint32]
	slotSize  int
	numSlots  int
}

func newBlockChunk(slotSize, numSlots int) *blockChunk {
	c := &blockChunk{
		buf:      iobuf.AlignedMem(slotSize*numSlots, iobuf.PageSize),
		freeList: lfq.NewMPMC[uint32](numSlots),
		slotSize: slotSize,
		numSlots: numSlots,
	}
	// Slot 0 is handed to the caller that triggered this chunk's
	// allocation; the rest go straight onto the free list.
	for i := 1; i < numSlots; i++ {
		idx := uint32(i)
		_ = c.freeList.Enqueue(&idx)
	}
	return c
}

func (c *blockChunk) slotBytes(slot uint32) []byte {
	start := int(slot) * c.slotSize
	return c.buf[start : start+c.slotSize]
}

// Blockpool is a fixed-element-size allocator producing recyclable Blocks.
// It grows lazily by adding chunks when no free slot exists and never
// shrinks; a Block never outlives its Blockpool, and the Blockpool is
// typically owned by a stage's user-state for the lifetime of a Chain.
type Blockpool struct {
	elementSize      int
	elementsPerChunk int

	mu     sync.RWMutex
	chunks []*blockChunk

	totalSlots atomic.Int64
	freeSlots  atomic.Int64

	observer Observer
}

// NewBlockpool creates a Blockpool of the given element size, choosing the
// elements-per-chunk heuristic: 2 for elements at or above
// LargeBlockThreshold, DefaultElementsPerChunk otherwise.
func NewBlockpool(elementSize int) *Blockpool {
	perChunk := DefaultElementsPerChunk
	if elementSize >= LargeBlockThreshold {
		perChunk = LargeElementsPerChunk
	}
	return NewBlockpoolWithChunkSize(elementSize, perChunk)
}

// NewBlockpoolWithChunkSize creates a Blockpool with an explicit
// elements-per-chunk override, used by callers (e.g. the UDPS reorder
// window) that know their own readahead depth.
func NewBlockpoolWithChunkSize(elementSize, elementsPerChunk int) *Blockpool {
	if elementsPerChunk < 2 {
		elementsPerChunk = 2
	}
	return &Blockpool{
		elementSize:      elementSize,
		elementsPerChunk: elementsPerChunk,
	}
}

// SetObserver attaches a metrics Observer; pass NoOpObserver{} to detach.
func (p *Blockpool) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// ElementSize returns the fixed size of every Block this pool produces.
func (p *Blockpool) ElementSize() int {
	return p.elementSize
}

// Get returns a fresh Block of ElementSize() bytes, growing the pool by one
// chunk if no slot is currently free. Allocation never fails; exhausting
// system memory is a fatal condition here, not a recoverable error.
func (p *Blockpool) Get() *Block {
	p.mu.RLock()
	chunks := p.chunks
	p.mu.RUnlock()

	for i, c := range chunks {
		if idx, err := c.freeList.Dequeue(); err == nil {
			p.freeSlots.Add(-1)
			return p.newBlock(i, idx, c)
		}
	}

	return p.grow()
}

// grow adds a new chunk under the pool mutex and hands back its reserved
// first slot. Re-checks existing chunks after acquiring the lock in case a
// concurrent Get() already grew the pool while this one was racing for it.
func (p *Blockpool) grow() *Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := len(p.chunks) - 1; i >= 0; i-- {
		c := p.chunks[i]
		if idx, err := c.freeList.Dequeue(); err == nil {
			p.freeSlots.Add(-1)
			return p.newBlock(i, idx, c)
		}
	}

	c := newBlockChunk(p.elementSize, p.elementsPerChunk)
	p.chunks = append(p.chunks, c)
	p.totalSlots.Add(int64(p.elementsPerChunk))
	// Slot 0 was reserved for us by newBlockChunk; the remaining
	// elementsPerChunk-1 slots are already on the free list.
	p.freeSlots.Add(int64(p.elementsPerChunk - 1))

	return p.newBlock(len(p.chunks)-1, 0, c)
}

func (p *Blockpool) newBlock(chunkIdx int, slot uint32, c *blockChunk) *Block {
	b := &Block{
		pool:     p,
		chunk:    chunkIdx,
		slot:     slot,
		data:     c.slotBytes(slot),
		off:      0,
		len:      p.elementSize,
		refcount: &atomic.Int32{},
	}
	b.refcount.Store(1)
	return b
}

func (p *Blockpool) release(chunkIdx int, slot uint32) {
	p.mu.RLock()
	c := p.chunks[chunkIdx]
	p.mu.RUnlock()

	idx := slot
	backoff := iox.Backoff{}
	for c.freeList.Enqueue(&idx) != nil {
		// The free list's capacity equals the chunk's slot count, so this
		// only spins on a transient contention window, never indefinitely.
		backoff.Wait()
	}
	p.freeSlots.Add(1)
}

// BlockpoolStats is a memstat probe reporting the pool's current size,
// satisfying the Blockpool-recycling testable property.
type BlockpoolStats struct {
	Chunks       int
	TotalSlots   int64
	FreeSlots    int64
	LiveBlocks   int64
	ElementSize  int
}

// Stats returns a point-in-time snapshot suitable for tests and metrics.
func (p *Blockpool) Stats() BlockpoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := p.totalSlots.Load()
	free := p.freeSlots.Load()
	return BlockpoolStats{
		Chunks:      len(p.chunks),
		TotalSlots:  total,
		FreeSlots:   free,
		LiveBlocks:  total - free,
		ElementSize: p.elementSize,
	}
}
