package constants

// Default configuration constants
const (
	// DefaultBlockSize is the small-block size in bytes (64KB). Power of
	// two so positional lookup is a shift and mask.
	DefaultBlockSize = 64 * 1024

	// DefaultLargeBufferThreshold is the aggregate capacity (1MB) past
	// which a dynamic stream trades its block segments for a single
	// large buffer.
	DefaultLargeBufferThreshold = 1 << 20

	// DefaultLargeStep is the linear ladder increment for the large-buffer
	// pool (1MB).
	DefaultLargeStep = 1 << 20

	// DefaultLargeBase is the exponential ladder's smallest size (1MB).
	DefaultLargeBase = 1 << 20

	// DefaultMaximumBufferSize caps a single pooled large buffer (128MB).
	// Larger requests are allocated at the exact size and never pooled.
	DefaultMaximumBufferSize = 128 << 20

	// DefaultLargePerStepCap bounds each ladder step's free bag.
	DefaultLargePerStepCap = 8

	// CopyBufferSize is the scratch size for stream-to-stream copies (1MB,
	// matching the linear ladder step).
	CopyBufferSize = 1 << 20

	// DefaultMaxCachedBuilderCapacity is the largest builder the two-level
	// builder cache will retain (64KB).
	DefaultMaxCachedBuilderCapacity = 64 * 1024
)
