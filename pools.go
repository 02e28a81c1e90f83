package memstream

import (
	"sync"

	"github.com/ehrlich-b/go-memstream/internal/alloc"
	"github.com/ehrlich-b/go-memstream/internal/constants"
	"github.com/ehrlich-b/go-memstream/internal/logging"
	"github.com/ehrlich-b/go-memstream/internal/pool"
)

// LargePoolConfig describes the process-wide large-buffer pool. It is
// latched the first time any stream promotes to large-buffer storage;
// later configuration attempts are rejected.
type LargePoolConfig struct {
	// UseExponentialLargeBuffer selects doubling ladder steps instead of
	// linear multiples.
	UseExponentialLargeBuffer bool

	// LargeStep is the linear ladder increment.
	LargeStep int

	// LargeBase is the exponential ladder's smallest size.
	LargeBase int

	// MaximumBufferSize caps a single pooled buffer.
	MaximumBufferSize int

	// PerStepCap bounds each ladder step's free bag.
	PerStepCap int
}

// DefaultLargePoolConfig returns the linear 1MB-step ladder capped at 128MB.
func DefaultLargePoolConfig() LargePoolConfig {
	return LargePoolConfig{
		LargeStep:         constants.DefaultLargeStep,
		LargeBase:         constants.DefaultLargeBase,
		MaximumBufferSize: constants.DefaultMaximumBufferSize,
		PerStepCap:        constants.DefaultLargePerStepCap,
	}
}

var processPools = struct {
	mu       sync.Mutex
	blocks   map[int]*pool.BlockPool
	large    *pool.LargePool
	largeCfg LargePoolConfig
	cfgSet   bool
}{
	blocks:   make(map[int]*pool.BlockPool),
	largeCfg: DefaultLargePoolConfig(),
}

// blockPoolFor returns the process-wide block pool for the given block
// size, creating it on first use. Streams sharing a block size share a pool.
func blockPoolFor(blockSize int) *pool.BlockPool {
	processPools.mu.Lock()
	defer processPools.mu.Unlock()
	p, ok := processPools.blocks[blockSize]
	if !ok {
		p = pool.NewBlockPool(blockSize, poolMonitor{})
		processPools.blocks[blockSize] = p
	}
	return p
}

// largePool returns the process-wide large-buffer pool, building it from the
// configured ladder on first use.
func largePool() *pool.LargePool {
	processPools.mu.Lock()
	defer processPools.mu.Unlock()
	if processPools.large == nil {
		cfg := processPools.largeCfg
		shape := pool.LadderLinear
		if cfg.UseExponentialLargeBuffer {
			shape = pool.LadderExponential
		}
		processPools.large = pool.NewLargePool(pool.LargeConfig{
			Shape:      shape,
			Step:       cfg.LargeStep,
			Base:       cfg.LargeBase,
			Max:        cfg.MaximumBufferSize,
			PerStepCap: cfg.PerStepCap,
		}, poolMonitor{})
	}
	return processPools.large
}

// ConfigureLargePool sets the process-wide large-buffer ladder. It must run
// before any stream promotes to large-buffer storage; once the pool exists
// the configuration is latched and an error is returned.
func ConfigureLargePool(cfg LargePoolConfig) error {
	def := DefaultLargePoolConfig()
	if cfg.LargeStep <= 0 {
		cfg.LargeStep = def.LargeStep
	}
	if cfg.LargeBase <= 0 {
		cfg.LargeBase = def.LargeBase
	}
	if cfg.MaximumBufferSize <= 0 {
		cfg.MaximumBufferSize = def.MaximumBufferSize
	}
	if cfg.PerStepCap <= 0 {
		cfg.PerStepCap = def.PerStepCap
	}

	processPools.mu.Lock()
	defer processPools.mu.Unlock()
	if processPools.large != nil {
		return NewError("ConfigureLargePool", ErrCodeInvalidOperation,
			"large-buffer pool already in use; configuration is latched")
	}
	processPools.largeCfg = cfg
	processPools.cfgSet = true
	return nil
}

// UseNativeLargeMemoryBuffers selects OS-mapped storage for large buffers.
// The choice is read once, at the first large allocation; a call after the
// latch is advisory only and logs a warning.
func UseNativeLargeMemoryBuffers(enabled bool) {
	if beforeLatch := alloc.RequestNative(enabled); !beforeLatch {
		logging.Warn("native large-buffer preference changed after first allocation; ignored",
			"requested", enabled)
	}
}

// ReleaseMemoryBuffers drains every process-wide pool: pending scrubs are
// zeroed first, then all cached blocks and large buffers return to the
// allocator. Buffers currently rented by open streams are unaffected.
func ReleaseMemoryBuffers() {
	processPools.mu.Lock()
	blocks := make([]*pool.BlockPool, 0, len(processPools.blocks))
	for _, p := range processPools.blocks {
		blocks = append(blocks, p)
	}
	large := processPools.large
	processPools.mu.Unlock()

	for _, p := range blocks {
		p.Drain()
	}
	if large != nil {
		large.Drain()
	}
}
