package chaincore

import (
	"sync"
	"testing"
)

func TestBlockpoolGetAndRelease(t *testing.T) {
	p := NewBlockpoolWithChunkSize(64, 4)

	b := p.Get()
	if b.Len() != 64 {
		t.Fatalf("expected block of 64 bytes, got %d", b.Len())
	}

	stats := p.Stats()
	if stats.Chunks != 1 {
		t.Fatalf("expected 1 chunk after first Get, got %d", stats.Chunks)
	}
	if stats.LiveBlocks != 1 {
		t.Fatalf("expected 1 live block, got %d", stats.LiveBlocks)
	}

	b.Release()

	stats = p.Stats()
	if stats.LiveBlocks != 0 {
		t.Fatalf("expected 0 live blocks after release, got %d", stats.LiveBlocks)
	}
}

func TestBlockpoolGrows(t *testing.T) {
	p := NewBlockpoolWithChunkSize(32, 2)

	var blocks []*Block
	for i := 0; i < 5; i++ {
		blocks = append(blocks, p.Get())
	}

	stats := p.Stats()
	if stats.Chunks < 3 {
		t.Fatalf("expected at least 3 chunks for 5 blocks of 2 per chunk, got %d", stats.Chunks)
	}
	if stats.LiveBlocks != 5 {
		t.Fatalf("expected 5 live blocks, got %d", stats.LiveBlocks)
	}

	for _, b := range blocks {
		b.Release()
	}

	stats = p.Stats()
	if stats.LiveBlocks != 0 {
		t.Fatalf("expected 0 live blocks after releasing all, got %d", stats.LiveBlocks)
	}
	// Pools never shrink.
	if stats.Chunks < 3 {
		t.Fatalf("chunk count should not shrink, got %d", stats.Chunks)
	}
}

func TestBlockSubSharesRefcount(t *testing.T) {
	p := NewBlockpoolWithChunkSize(16, 2)
	b := p.Get()
	copy(b.Bytes(), []byte("0123456789abcdef"))

	view := b.Sub(4, 4)
	if string(view.Bytes()) != "4567" {
		t.Fatalf("expected sub-view %q, got %q", "4567", view.Bytes())
	}

	view.Release()
	if p.Stats().LiveBlocks != 1 {
		t.Fatal("releasing a sub-view should not free the slot while the parent reference is live")
	}

	b.Release()
	if p.Stats().LiveBlocks != 0 {
		t.Fatal("releasing the last reference should free the slot")
	}
}

func TestBlockRetain(t *testing.T) {
	p := NewBlockpoolWithChunkSize(16, 2)
	b := p.Get()
	other := b.Retain()

	other.Release()
	if p.Stats().LiveBlocks != 1 {
		t.Fatal("retain should add a reference that keeps the slot alive across one release")
	}
	b.Release()
	if p.Stats().LiveBlocks != 0 {
		t.Fatal("final release should free the slot")
	}
}

func TestBlockpoolConcurrentGetRelease(t *testing.T) {
	p := NewBlockpool(128)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b := p.Get()
				b.Release()
			}
		}()
	}
	wg.Wait()

	if p.Stats().LiveBlocks != 0 {
		t.Fatalf("expected 0 live blocks after concurrent get/release, got %d", p.Stats().LiveBlocks)
	}
}

func TestBlockpoolLargeElementHeuristic(t *testing.T) {
	p := NewBlockpool(LargeBlockThreshold)
	if p.elementsPerChunk != LargeElementsPerChunk {
		t.Fatalf("expected %d elements per chunk for large blocks, got %d", LargeElementsPerChunk, p.elementsPerChunk)
	}

	small := NewBlockpool(4096)
	if small.elementsPerChunk != DefaultElementsPerChunk {
		t.Fatalf("expected %d elements per chunk for small blocks, got %d", DefaultElementsPerChunk, small.elementsPerChunk)
	}
}
