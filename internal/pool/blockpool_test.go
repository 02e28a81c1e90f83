package pool

import (
	"bytes"
	"sync"
	"testing"

	"github.com/ehrlich-b/go-memstream/internal/alloc"
)

const testBlockSize = 4096

// countingMonitor tallies pool events for verification.
type countingMonitor struct {
	mu        sync.Mutex
	allocated int
	released  int
}

func (m *countingMonitor) BufferAllocated(size int, _ alloc.Backing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocated++
}

func (m *countingMonitor) BufferReleased(size int, _ alloc.Backing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
}

func (m *countingMonitor) counts() (allocated, released int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allocated, m.released
}

func TestBlockPoolGetReturnsBlockSize(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	b := p.Get()
	if len(b) != testBlockSize {
		t.Errorf("Get() len = %d, want %d", len(b), testBlockSize)
	}
	if p.InUse() != 1 {
		t.Errorf("InUse() = %d, want 1", p.InUse())
	}
	p.Put(b, ZeroNone)
	if p.InUse() != 0 {
		t.Errorf("InUse() after Put = %d, want 0", p.InUse())
	}
}

func TestBlockPoolReuse(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	b1 := p.Get()
	p.Put(b1, ZeroNone)
	b2 := p.Get()
	if &b1[0] != &b2[0] {
		t.Error("expected the returned block to be reused")
	}
}

func TestBlockPoolZeroOnRelease(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	b := p.Get()
	for i := range b {
		b[i] = 0xFF
	}
	p.Put(b, ZeroOnRelease)

	got := p.Get()
	if !bytes.Equal(got, make([]byte, testBlockSize)) {
		t.Error("block rented after ZeroOnRelease return is not zero-filled")
	}
}

func TestBlockPoolZeroOutOfBand(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	b := p.Get()
	for i := range b {
		b[i] = 0xAB
	}
	p.Put(b, ZeroOutOfBand)
	// The block reaches the free list through the scrubber.
	p.scrub.Drain()

	if p.FreeCount() != 1 {
		t.Fatalf("FreeCount() = %d, want 1", p.FreeCount())
	}
	got := p.Get()
	if !bytes.Equal(got, make([]byte, testBlockSize)) {
		t.Error("block rented after out-of-band scrub is not zero-filled")
	}
}

func TestBlockPoolZeroNoneKeepsContents(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	b := p.Get()
	b[0] = 0x42
	p.Put(b, ZeroNone)

	got := p.Get()
	if got[0] != 0x42 {
		t.Error("ZeroNone return should not scrub block contents")
	}
}

func TestBlockPoolDropsMisSizedBlocks(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	p.Put(make([]byte, testBlockSize/2), ZeroNone)
	if p.FreeCount() != 0 {
		t.Errorf("FreeCount() = %d, want 0 after mis-sized Put", p.FreeCount())
	}
}

func TestBlockPoolSoftCap(t *testing.T) {
	mon := &countingMonitor{}
	p := NewBlockPool(testBlockSize, mon)

	// Peak of two concurrent rentals; the minimum retention floor is 4.
	b1, b2 := p.Get(), p.Get()
	p.Put(b1, ZeroNone)
	p.Put(b2, ZeroNone)
	if p.FreeCount() != 2 {
		t.Fatalf("FreeCount() = %d, want 2", p.FreeCount())
	}

	// Returns beyond the ceiling are dropped to the allocator.
	for i := 0; i < 4; i++ {
		p.Put(make([]byte, testBlockSize), ZeroNone)
	}
	if p.FreeCount() != 4 {
		t.Errorf("FreeCount() = %d, want retention ceiling of 4", p.FreeCount())
	}
	if _, released := mon.counts(); released != 2 {
		t.Errorf("released = %d, want 2 surplus blocks freed", released)
	}
}

func TestBlockPoolDrain(t *testing.T) {
	mon := &countingMonitor{}
	p := NewBlockPool(testBlockSize, mon)
	for i := 0; i < 3; i++ {
		p.Put(p.Get(), ZeroOutOfBand)
	}
	p.Drain()

	if p.FreeCount() != 0 {
		t.Errorf("FreeCount() after Drain = %d, want 0", p.FreeCount())
	}
	allocated, released := mon.counts()
	if released != allocated {
		t.Errorf("released = %d, want %d (all allocations freed)", released, allocated)
	}
}

func TestBlockPoolConcurrentChurn(t *testing.T) {
	p := NewBlockPool(testBlockSize, NopMonitor{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b := p.Get()
				b[0] = byte(i)
				p.Put(b, ZeroOutOfBand)
			}
		}()
	}
	wg.Wait()
	p.Drain()
	if p.InUse() != 0 {
		t.Errorf("InUse() = %d, want 0 after churn", p.InUse())
	}
}
