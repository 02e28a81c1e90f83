// Package builder provides a two-level cache of reusable growable text
// builders keyed by capacity bucket: a lock-free local slot per bucket for
// the fast path, backed by bounded process-wide bags. The builder type is
// bytebufferpool.ByteBuffer; this cache replaces its built-in pool so
// placement is capacity-aware.
package builder

import (
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"github.com/ehrlich-b/go-memstream/internal/constants"
)

// Builder is a reusable growable text builder.
type Builder = bytebufferpool.ByteBuffer

// DefaultMaxCachedCapacity is the largest builder the default cache retains.
const DefaultMaxCachedCapacity = constants.DefaultMaxCachedBuilderCapacity

// minCachedCapacity anchors bucket 0: capacities of 16 bytes and below all
// land there.
const minCachedCapacity = 16

// CacheLevel identifies which cache level satisfied or stored a builder.
type CacheLevel int

const (
	// LevelLocal is the per-bucket fast slot.
	LevelLocal CacheLevel = iota
	// LevelGlobal is the process-wide bounded bag.
	LevelGlobal
)

// String returns the level name used in diagnostic event payloads.
func (l CacheLevel) String() string {
	if l == LevelGlobal {
		return "global"
	}
	return "local"
}

// Observer receives builder-cache diagnostic events.
type Observer interface {
	// ObserveBuilderCreate fires when a fresh builder is allocated.
	ObserveBuilderCreate(capacity int)
	// ObserveBuilderCacheMiss fires when no cached builder satisfied an
	// acquire.
	ObserveBuilderCacheMiss(capacity int)
	// ObserveBuilderCacheHit fires when a cached builder satisfied an
	// acquire.
	ObserveBuilderCacheHit(capacity int, cache CacheLevel)
	// ObserveBuilderCacheStore fires when a released builder is cached.
	ObserveBuilderCacheStore(capacity int, cache CacheLevel)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) ObserveBuilderCreate(int)               {}
func (NoopObserver) ObserveBuilderCacheMiss(int)            {}
func (NoopObserver) ObserveBuilderCacheHit(int, CacheLevel) {}
func (NoopObserver) ObserveBuilderCacheStore(int, CacheLevel) {
}

// bucketFor maps a capacity to its bucket index: log2((c-1)|15) - 3.
// Capacities above maxCached return -1 (uncacheable). Branch-free except
// for the cap check and the clamp of capacities below 1.
func bucketFor(c, maxCached int) int {
	if c > maxCached {
		return -1
	}
	if c < 1 {
		c = 1
	}
	return bits.Len(uint((c-1)|(minCachedCapacity-1))) - 4
}

// globalBag is one bounded process-wide bucket.
type globalBag struct {
	mu    sync.Mutex
	items []*Builder
}

// Cache is a two-level builder cache. The zero value is not usable; use
// NewCache or the package-level Default.
type Cache struct {
	maxCached int
	bagCap    int
	local     []atomic.Pointer[Builder]
	global    []globalBag
	obs       Observer
}

// NewCache creates a cache retaining builders up to maxCached capacity.
// obs may be nil to disable monitoring.
func NewCache(maxCached int, obs Observer) *Cache {
	if maxCached <= 0 {
		maxCached = DefaultMaxCachedCapacity
	}
	if obs == nil {
		obs = NoopObserver{}
	}
	buckets := bucketFor(maxCached, maxCached) + 1
	return &Cache{
		maxCached: maxCached,
		bagCap:    globalBagCap(),
		local:     make([]atomic.Pointer[Builder], buckets),
		global:    make([]globalBag, buckets),
		obs:       obs,
	}
}

// globalBagCap sizes each global bucket: max(2, min(4, cores/2)), zero on a
// single-processor configuration where the local slots already suffice.
func globalBagCap() int {
	procs := runtime.GOMAXPROCS(0)
	if procs <= 1 {
		return 0
	}
	capPerBag := procs / 2
	if capPerBag > 4 {
		capPerBag = 4
	}
	if capPerBag < 2 {
		capPerBag = 2
	}
	return capPerBag
}

// Acquire returns a builder with at least the requested capacity, reusing a
// cached instance when one fits. The builder is empty.
func (c *Cache) Acquire(capacity int) *Builder {
	if start := bucketFor(capacity, c.maxCached); start >= 0 {
		// Level 1: scan the local slots from the request's bucket upward.
		for b := start; b < len(c.local); b++ {
			bb := c.local[b].Swap(nil)
			if bb == nil {
				continue
			}
			if cap(bb.B) >= capacity {
				bb.Reset()
				c.obs.ObserveBuilderCacheHit(capacity, LevelLocal)
				return bb
			}
			// Too small for this request; put it back for the next one.
			c.local[b].CompareAndSwap(nil, bb)
		}
		// Level 2: same-or-larger global bags.
		for b := start; b < len(c.global); b++ {
			if bb := c.global[b].take(capacity); bb != nil {
				bb.Reset()
				c.obs.ObserveBuilderCacheHit(capacity, LevelGlobal)
				return bb
			}
		}
	}
	c.obs.ObserveBuilderCacheMiss(capacity)
	c.obs.ObserveBuilderCreate(capacity)
	return &Builder{B: make([]byte, 0, capacity)}
}

// take pops a builder with capacity >= want, scanning from the most
// recently stored.
func (g *globalBag) take(want int) *Builder {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := len(g.items) - 1; i >= 0; i-- {
		bb := g.items[i]
		if cap(bb.B) < want {
			continue
		}
		g.items[i] = g.items[len(g.items)-1]
		g.items[len(g.items)-1] = nil
		g.items = g.items[:len(g.items)-1]
		return bb
	}
	return nil
}

// put stores a builder unless the bag is at its cap.
func (g *globalBag) put(bb *Builder, capLimit int) bool {
	if capLimit <= 0 {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.items) >= capLimit {
		return false
	}
	g.items = append(g.items, bb)
	return true
}

// Release returns a builder to the cache. Builders over the retention cap
// are dropped. The local slot for the builder's bucket is tried first; when
// it already holds a larger instance the released builder cascades to
// lower buckets, and failing that lands in the global bag, which drops it
// at its cap. Release never fails.
func (c *Cache) Release(bb *Builder) {
	if bb == nil {
		return
	}
	capacity := cap(bb.B)
	b := bucketFor(capacity, c.maxCached)
	if b < 0 {
		return
	}
	bb.Reset()

	if c.local[b].CompareAndSwap(nil, bb) {
		c.obs.ObserveBuilderCacheStore(capacity, LevelLocal)
		return
	}
	if cur := c.local[b].Load(); cur != nil && cap(cur.B) < capacity {
		// Prefer the larger instance in the slot; the evictee cascades.
		c.local[b].Store(bb)
		c.obs.ObserveBuilderCacheStore(capacity, LevelLocal)
		bb = cur
		capacity = cap(bb.B)
		b = bucketFor(capacity, c.maxCached)
	}
	// Cascade downward into the first empty lower slot.
	for lower := b - 1; lower >= 0; lower-- {
		if c.local[lower].CompareAndSwap(nil, bb) {
			c.obs.ObserveBuilderCacheStore(capacity, LevelLocal)
			return
		}
	}
	if c.global[b].put(bb, c.bagCap) {
		c.obs.ObserveBuilderCacheStore(capacity, LevelGlobal)
	}
}

// GetStringAndRelease materializes the builder's contents and returns the
// builder to the cache.
func (c *Cache) GetStringAndRelease(bb *Builder) string {
	s := bb.String()
	c.Release(bb)
	return s
}

// Scoped acquires a builder together with a release closure, for use with
// defer.
func (c *Cache) Scoped(capacity int) (*Builder, func()) {
	bb := c.Acquire(capacity)
	return bb, func() { c.Release(bb) }
}

// defaultCache is the process-wide cache behind the package-level API.
var defaultCache = NewCache(DefaultMaxCachedCapacity, nil)

// SetObserver installs the observer on the process-wide cache.
func SetObserver(obs Observer) {
	if obs == nil {
		obs = NoopObserver{}
	}
	defaultCache.obs = obs
}

// Acquire returns a builder from the process-wide cache.
func Acquire(capacity int) *Builder { return defaultCache.Acquire(capacity) }

// Release returns a builder to the process-wide cache.
func Release(bb *Builder) { defaultCache.Release(bb) }

// GetStringAndRelease materializes and releases through the process-wide
// cache.
func GetStringAndRelease(bb *Builder) string { return defaultCache.GetStringAndRelease(bb) }

// Scoped acquires from the process-wide cache with a deferred release.
func Scoped(capacity int) (*Builder, func()) { return defaultCache.Scoped(capacity) }
