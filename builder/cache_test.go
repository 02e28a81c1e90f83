package builder

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingObserver tallies builder-cache events for verification.
type recordingObserver struct {
	mu      sync.Mutex
	creates int
	misses  int
	hits    map[CacheLevel]int
	stores  map[CacheLevel]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		hits:   make(map[CacheLevel]int),
		stores: make(map[CacheLevel]int),
	}
}

func (r *recordingObserver) ObserveBuilderCreate(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
}

func (r *recordingObserver) ObserveBuilderCacheMiss(int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.misses++
}

func (r *recordingObserver) ObserveBuilderCacheHit(_ int, level CacheLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hits[level]++
}

func (r *recordingObserver) ObserveBuilderCacheStore(_ int, level CacheLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[level]++
}

func TestBucketFunction(t *testing.T) {
	tests := []struct {
		capacity int
		want     int
	}{
		{1, 0},
		{16, 0},
		{17, 1},
		{32, 1},
		{33, 2},
		{64, 2},
		{65, 3},
		{1024, 6},
		{2048, 7},
	}
	for _, tt := range tests {
		if got := bucketFor(tt.capacity, DefaultMaxCachedCapacity); got != tt.want {
			t.Errorf("bucketFor(%d) = %d, want %d", tt.capacity, got, tt.want)
		}
	}
}

func TestBucketFunctionMonotonic(t *testing.T) {
	prev := 0
	for c := 1; c <= DefaultMaxCachedCapacity; c += 97 {
		b := bucketFor(c, DefaultMaxCachedCapacity)
		if b < prev {
			t.Fatalf("bucketFor(%d) = %d decreased below %d", c, b, prev)
		}
		prev = b
	}
}

func TestBucketFunctionUncacheable(t *testing.T) {
	if got := bucketFor(DefaultMaxCachedCapacity+1, DefaultMaxCachedCapacity); got != -1 {
		t.Errorf("bucketFor(over max) = %d, want -1", got)
	}
}

func TestAcquireReleaseReuse(t *testing.T) {
	rec := newRecordingObserver()
	c := NewCache(DefaultMaxCachedCapacity, rec)

	bb := c.Acquire(1024)
	require.GreaterOrEqual(t, cap(bb.B), 1024)
	require.Equal(t, 1, rec.creates)

	bb.WriteString("stale contents")
	c.Release(bb)

	again := c.Acquire(1024)
	assert.Same(t, bb, again, "same-bucket acquire must reuse the released builder")
	assert.Zero(t, again.Len(), "reused builder must be cleared")
	assert.Equal(t, 1, rec.creates, "no fresh allocation on a warm cache")
	assert.Equal(t, 1, rec.hits[LevelLocal])
}

func TestCascadeScenario(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)

	small := &Builder{B: make([]byte, 0, 1024)} // bucket 6
	large := &Builder{B: make([]byte, 0, 2048)} // bucket 7
	c.Release(small)
	c.Release(large)

	got2k := c.Acquire(2048)
	require.Same(t, large, got2k)
	got1k := c.Acquire(1024)
	require.Same(t, small, got1k)
}

func TestLargerAcquireSkipsSmallEntries(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)

	// Bucket 1 spans 17..32: a 20-capacity entry cannot serve a 32 request.
	c.Release(&Builder{B: make([]byte, 0, 20)})
	got := c.Acquire(32)
	require.GreaterOrEqual(t, cap(got.B), 32)

	// The small entry must still be cached for a fitting request.
	small := c.Acquire(17)
	assert.Equal(t, 20, cap(small.B))
}

func TestReleasePrefersLargerInstance(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)

	// Two instances in bucket 6 (513..1024): the slot keeps the larger
	// one and the evictee cascades to a lower slot.
	a := &Builder{B: make([]byte, 0, 600)}
	b := &Builder{B: make([]byte, 0, 900)}
	c.Release(a)
	c.Release(b)

	got := c.Acquire(900)
	require.Same(t, b, got, "slot should hold the larger instance after cascade")
	// The evictee landed in a lower slot, so a smaller-bucket request
	// scanning upward still finds it.
	evicted := c.Acquire(512)
	require.Same(t, a, evicted)
}

func TestReleaseOverMaxIsDropped(t *testing.T) {
	rec := newRecordingObserver()
	c := NewCache(1024, rec)

	c.Release(&Builder{B: make([]byte, 0, 4096)})
	assert.Zero(t, rec.stores[LevelLocal]+rec.stores[LevelGlobal])

	got := c.Acquire(512)
	assert.Equal(t, 1, rec.creates, "oversized release must not be cached")
	_ = got
}

func TestGlobalBagOverflow(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)
	if c.bagCap == 0 {
		t.Skip("single-processor configuration has no global bags")
	}

	// Fill the local slot chain and the global bag for one bucket.
	capacity := 1 << 13 // bucket 9
	total := 1 /* slot */ + 9 /* lower slots */ + c.bagCap + 3 /* overflow */
	for i := 0; i < total; i++ {
		c.Release(&Builder{B: make([]byte, 0, capacity)})
	}
	if got := len(c.global[bucketFor(capacity, c.maxCached)].items); got > c.bagCap {
		t.Errorf("global bag holds %d items, cap is %d", got, c.bagCap)
	}
}

func TestGetStringAndRelease(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)
	bb := c.Acquire(64)
	bb.WriteString("hello ")
	bb.WriteString("world")

	s := c.GetStringAndRelease(bb)
	require.Equal(t, "hello world", s)

	again := c.Acquire(64)
	assert.Same(t, bb, again, "builder must be cached after GetStringAndRelease")
}

func TestScoped(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)
	func() {
		bb, release := c.Scoped(128)
		defer release()
		bb.WriteString("scoped")
	}()

	again := c.Acquire(128)
	assert.GreaterOrEqual(t, cap(again.B), 128)
	assert.Zero(t, again.Len())
}

func TestPackageLevelDefaultCache(t *testing.T) {
	bb := Acquire(256)
	bb.WriteString("via package API")
	if got := GetStringAndRelease(bb); got != "via package API" {
		t.Errorf("GetStringAndRelease = %q", got)
	}
	Release(Acquire(256))
}

func TestConcurrentAcquireRelease(t *testing.T) {
	c := NewCache(DefaultMaxCachedCapacity, nil)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				bb := c.Acquire(64 << uint(g%4))
				bb.WriteString("x")
				c.Release(bb)
			}
		}(g)
	}
	wg.Wait()
}
