package memstream

import "github.com/ehrlich-b/go-memstream/internal/constants"

// Re-export constants for public API
const (
	DefaultBlockSize            = constants.DefaultBlockSize
	DefaultLargeBufferThreshold = constants.DefaultLargeBufferThreshold
	DefaultLargeStep            = constants.DefaultLargeStep
	DefaultLargeBase            = constants.DefaultLargeBase
	DefaultMaximumBufferSize    = constants.DefaultMaximumBufferSize
	CopyBufferSize              = constants.CopyBufferSize
)
