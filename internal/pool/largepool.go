package pool

import (
	"math/bits"
	"sync"

	"github.com/ehrlich-b/go-memstream/internal/alloc"
)

// LadderShape selects how large-buffer sizes are spaced.
type LadderShape int

const (
	// LadderLinear sizes step i at (i+1) * Step.
	LadderLinear LadderShape = iota
	// LadderExponential sizes step i at Base << i.
	LadderExponential
)

// LargeConfig describes a large-buffer pool's size ladder and retention.
type LargeConfig struct {
	Shape LadderShape
	// Step is the linear ladder increment.
	Step int
	// Base is the exponential ladder's smallest size.
	Base int
	// Max caps any single pooled buffer. Requests above Max are allocated
	// at the exact size and never pooled.
	Max int
	// PerStepCap bounds each ladder step's bag.
	PerStepCap int
}

// LargeBuffer is a rented large buffer together with its backing kind, which
// the holder must hand back on return so native storage can be unmapped.
// Zeroed reports whether every byte is known to be zero; holders use it to
// skip clearing before exposing uninitialized regions.
type LargeBuffer struct {
	Data    []byte
	Backing alloc.Backing
	Zeroed  bool
}

// LargePool is a process-wide rental pool for buffers sized on a discrete
// ladder, one bounded bag per step.
type LargePool struct {
	cfg   LargeConfig
	sizes []int

	mu   sync.Mutex
	bags [][]LargeBuffer

	scrub *Scrubber
	mon   Monitor
}

// NewLargePool creates a pool for the given ladder. Zero-valued config
// fields keep the buffer unpooled (an empty ladder), so callers should pass
// a fully populated config.
func NewLargePool(cfg LargeConfig, mon Monitor) *LargePool {
	var sizes []int
	switch cfg.Shape {
	case LadderExponential:
		for size := cfg.Base; size > 0 && size <= cfg.Max; size <<= 1 {
			sizes = append(sizes, size)
		}
	default:
		for size := cfg.Step; size > 0 && size <= cfg.Max; size += cfg.Step {
			sizes = append(sizes, size)
		}
	}
	return &LargePool{
		cfg:   cfg,
		sizes: sizes,
		bags:  make([][]LargeBuffer, len(sizes)),
		scrub: NewScrubber(),
		mon:   mon,
	}
}

// Steps returns the number of ladder steps.
func (p *LargePool) Steps() int { return len(p.sizes) }

// StepSize returns the buffer size at ladder step i.
func (p *LargePool) StepSize(i int) int { return p.sizes[i] }

// stepFor returns the smallest ladder step whose size holds minSize, or -1
// when minSize exceeds the ladder top.
func (p *LargePool) stepFor(minSize int) int {
	n := len(p.sizes)
	if n == 0 || minSize > p.sizes[n-1] {
		return -1
	}
	if p.cfg.Shape == LadderExponential {
		if minSize <= p.cfg.Base {
			return 0
		}
		// Smallest k with Base<<k >= minSize: bit length of the rounded-up
		// quotient minus one, branch-free.
		q := (minSize + p.cfg.Base - 1) / p.cfg.Base
		return bits.Len(uint(q - 1))
	}
	if n < 6 {
		for i, size := range p.sizes {
			if size >= minSize {
				return i
			}
		}
		return -1
	}
	// Split walk: halve the candidate range until one step remains.
	lo, hi := 0, n-1
	for lo < hi {
		mid := (lo + hi) / 2
		if p.sizes[mid] >= minSize {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

// Get rents a buffer of at least minSize bytes. The smallest fitting step's
// bag is tried first, then larger steps; a total miss allocates fresh at the
// fitting step's exact size. Requests above Max allocate exactly minSize and
// are never pooled on return.
func (p *LargePool) Get(minSize int) (LargeBuffer, error) {
	s := p.stepFor(minSize)
	if s < 0 {
		return p.allocate(minSize)
	}

	p.mu.Lock()
	for i := s; i < len(p.bags); i++ {
		if n := len(p.bags[i]); n > 0 {
			lb := p.bags[i][n-1]
			p.bags[i][n-1] = LargeBuffer{}
			p.bags[i] = p.bags[i][:n-1]
			p.mu.Unlock()
			return lb, nil
		}
	}
	p.mu.Unlock()

	return p.allocate(p.sizes[s])
}

func (p *LargePool) allocate(size int) (LargeBuffer, error) {
	buf, backing, err := alloc.Large(size)
	if err != nil {
		return LargeBuffer{}, err
	}
	p.mon.BufferAllocated(size, backing)
	return LargeBuffer{Data: buf, Backing: backing, Zeroed: true}, nil
}

// Put returns a buffer, zeroed per the holder's mode. Off-ladder sizes and
// overflow past the per-step cap are freed; Put never fails.
func (p *LargePool) Put(lb LargeBuffer, mode ZeroMode) {
	step := p.exactStep(len(lb.Data))
	if step < 0 {
		p.release(lb)
		return
	}
	switch mode {
	case ZeroOnRelease:
		zeroFill(lb.Data)
		lb.Zeroed = true
		p.push(step, lb)
	case ZeroOutOfBand:
		backing := lb.Backing
		p.scrub.Enqueue(lb.Data, func(b []byte) {
			p.push(step, LargeBuffer{Data: b, Backing: backing, Zeroed: true})
		})
	default:
		lb.Zeroed = false
		p.push(step, lb)
	}
}

// exactStep maps a buffer length to its ladder step, or -1 when the length
// is not a ladder size.
func (p *LargePool) exactStep(size int) int {
	s := p.stepFor(size)
	if s < 0 || p.sizes[s] != size {
		return -1
	}
	return s
}

func (p *LargePool) push(step int, lb LargeBuffer) {
	p.mu.Lock()
	if len(p.bags[step]) < p.cfg.PerStepCap {
		p.bags[step] = append(p.bags[step], lb)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.release(lb)
}

func (p *LargePool) release(lb LargeBuffer) {
	size := len(lb.Data)
	if err := alloc.FreeLarge(lb.Data, lb.Backing); err != nil {
		return
	}
	p.mon.BufferReleased(size, lb.Backing)
}

// Drain waits for pending scrubs, then frees every cached buffer.
func (p *LargePool) Drain() {
	p.scrub.Drain()

	p.mu.Lock()
	bags := p.bags
	p.bags = make([][]LargeBuffer, len(p.sizes))
	p.mu.Unlock()

	for _, bag := range bags {
		for _, lb := range bag {
			p.release(lb)
		}
	}
}

// FreeCount returns the total number of cached buffers across all steps.
func (p *LargePool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, bag := range p.bags {
		total += len(bag)
	}
	return total
}

// BagLen returns the number of cached buffers at ladder step i.
func (p *LargePool) BagLen(i int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bags[i])
}
