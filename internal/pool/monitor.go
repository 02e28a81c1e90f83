package pool

import "github.com/ehrlich-b/go-memstream/internal/alloc"

// Monitor is the capability the pools use to report buffer traffic. The root
// package adapts its public Observer to this narrow interface so the pools
// never depend on stream-level types.
type Monitor interface {
	// BufferAllocated reports a fresh allocation handed out by a pool.
	BufferAllocated(size int, backing alloc.Backing)
	// BufferReleased reports storage given back to the allocator for good.
	BufferReleased(size int, backing alloc.Backing)
}

// NopMonitor discards all pool events.
type NopMonitor struct{}

func (NopMonitor) BufferAllocated(int, alloc.Backing) {}
func (NopMonitor) BufferReleased(int, alloc.Backing)  {}

// ZeroMode controls whether and when returned buffers are zero-filled.
type ZeroMode int

const (
	// ZeroOutOfBand hands returned buffers to the scrubber; they reach the
	// free list already zeroed, off the caller's critical path.
	ZeroOutOfBand ZeroMode = iota
	// ZeroOnRelease zeroes synchronously on the return path.
	ZeroOnRelease
	// ZeroNone skips zeroing; callers own overwrite semantics.
	ZeroNone
)

func zeroFill(b []byte) {
	clear(b)
}
