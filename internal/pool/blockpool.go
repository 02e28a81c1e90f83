package pool

import (
	"sync"

	"github.com/ehrlich-b/go-memstream/internal/alloc"
)

// BlockPool is a process-wide rental pool for uniformly sized small blocks.
// The free list is a mutex-guarded slice; the soft retention ceiling tracks
// the peak concurrent rental count observed since the last drain, so a burst
// of streams warms the pool and a quiet period lets it shed.
type BlockPool struct {
	mu        sync.Mutex
	free      [][]byte
	blockSize int
	inUse     int
	peak      int
	minRetain int

	scrub *Scrubber
	mon   Monitor
}

// NewBlockPool creates a pool handing out blocks of exactly blockSize bytes.
// mon must be non-nil; pass NopMonitor to discard events.
func NewBlockPool(blockSize int, mon Monitor) *BlockPool {
	return &BlockPool{
		blockSize: blockSize,
		minRetain: 4,
		scrub:     NewScrubber(),
		mon:       mon,
	}
}

// BlockSize returns the fixed size of every block this pool manages.
func (p *BlockPool) BlockSize() int { return p.blockSize }

// Get rents a block. When every holder returns with ZeroOnRelease or
// ZeroOutOfBand the block is fully zero-filled; a ZeroNone return may leave
// stale bytes, which streams mask by zero-filling newly exposed ranges.
func (p *BlockPool) Get() []byte {
	p.mu.Lock()
	p.inUse++
	if p.inUse > p.peak {
		p.peak = p.inUse
	}
	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return b
	}
	p.mu.Unlock()

	b := alloc.Block(p.blockSize)
	p.mon.BufferAllocated(p.blockSize, alloc.Managed)
	return b
}

// Put returns a block, zeroed per the holder's mode. It never fails:
// mis-sized blocks and overflow past the retention ceiling are dropped to
// the allocator.
func (p *BlockPool) Put(b []byte, mode ZeroMode) {
	if len(b) != p.blockSize {
		return
	}
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	p.mu.Unlock()

	switch mode {
	case ZeroOnRelease:
		zeroFill(b)
		p.push(b)
	case ZeroOutOfBand:
		p.scrub.Enqueue(b, p.push)
	default:
		p.push(b)
	}
}

func (p *BlockPool) push(b []byte) {
	p.mu.Lock()
	if len(p.free) < p.softCap() {
		p.free = append(p.free, b)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	alloc.FreeBlock(b)
	p.mon.BufferReleased(p.blockSize, alloc.Managed)
}

// softCap is the retention ceiling. Call without the caller expecting it to
// change concurrently; reads under p.mu.
func (p *BlockPool) softCap() int {
	if p.peak > p.minRetain {
		return p.peak
	}
	return p.minRetain
}

// Drain waits for pending scrubs, then frees every cached block and resets
// the peak-rental watermark to the current rental count.
func (p *BlockPool) Drain() {
	p.scrub.Drain()

	p.mu.Lock()
	freed := p.free
	p.free = nil
	p.peak = p.inUse
	p.mu.Unlock()

	for _, b := range freed {
		alloc.FreeBlock(b)
		p.mon.BufferReleased(p.blockSize, alloc.Managed)
	}
}

// FreeCount returns the number of blocks currently on the free list.
func (p *BlockPool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse returns the number of blocks rented and not yet returned.
func (p *BlockPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
