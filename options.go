package memstream

import (
	"math/bits"

	"github.com/ehrlich-b/go-memstream/internal/constants"
)

// ZeroBufferBehavior controls whether and when storage a stream returns to
// the pools is zero-filled. Regardless of the setting, logical reads from a
// stream never observe stale bytes; the setting only governs data hygiene of
// pool-resident memory.
type ZeroBufferBehavior int

const (
	// ZeroOutOfBand scrubs returned buffers on a background worker. The
	// default for dynamic streams.
	ZeroOutOfBand ZeroBufferBehavior = iota
	// ZeroOnRelease scrubs synchronously on the return path. Forced for
	// fixed-mode streams.
	ZeroOnRelease
	// ZeroNone skips scrubbing entirely.
	ZeroNone
)

// String returns the behavior name for logs and events.
func (z ZeroBufferBehavior) String() string {
	switch z {
	case ZeroOnRelease:
		return "on-release"
	case ZeroNone:
		return "none"
	default:
		return "out-of-band"
	}
}

// Options configures a single stream. Options is a value type: the WithX
// mutators return an updated copy, so a shared base can be specialized
// without aliasing.
type Options struct {
	// BlockSize is the small-block size for segmented storage. Rounded up
	// to a power of two.
	BlockSize int

	// LargeBufferThreshold is the aggregate capacity past which the stream
	// trades its block segments for one large buffer.
	LargeBufferThreshold int64

	// ZeroBufferBehavior governs scrubbing of returned storage.
	ZeroBufferBehavior ZeroBufferBehavior

	// Observer receives this stream's diagnostic events. Nil uses the
	// process-wide observer.
	Observer Observer
}

// DefaultOptions returns the recommended settings: 64KB blocks, a 1MB
// promotion threshold, and out-of-band scrubbing.
func DefaultOptions() Options {
	return Options{
		BlockSize:            constants.DefaultBlockSize,
		LargeBufferThreshold: constants.DefaultLargeBufferThreshold,
		ZeroBufferBehavior:   ZeroOutOfBand,
	}
}

// WithBlockSize returns a copy with the small-block size set.
func (o Options) WithBlockSize(size int) Options {
	o.BlockSize = size
	return o
}

// WithLargeBufferThreshold returns a copy with the promotion threshold set.
func (o Options) WithLargeBufferThreshold(threshold int64) Options {
	o.LargeBufferThreshold = threshold
	return o
}

// WithZeroBufferBehavior returns a copy with the scrub discipline set.
func (o Options) WithZeroBufferBehavior(behavior ZeroBufferBehavior) Options {
	o.ZeroBufferBehavior = behavior
	return o
}

// WithObserver returns a copy with the diagnostic observer set.
func (o Options) WithObserver(obs Observer) Options {
	o.Observer = obs
	return o
}

// normalized fills zero-valued fields with defaults and rounds the block
// size up to a power of two so positional lookup stays a shift and mask.
func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.BlockSize <= 0 {
		o.BlockSize = def.BlockSize
	} else if o.BlockSize&(o.BlockSize-1) != 0 {
		o.BlockSize = 1 << bits.Len(uint(o.BlockSize))
	}
	if o.LargeBufferThreshold <= 0 {
		o.LargeBufferThreshold = def.LargeBufferThreshold
	}
	if o.LargeBufferThreshold < int64(o.BlockSize) {
		o.LargeBufferThreshold = int64(o.BlockSize)
	}
	return o
}
