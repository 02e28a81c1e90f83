package memstream

import (
	"sync/atomic"

	"github.com/ehrlich-b/go-memstream/internal/alloc"
	"github.com/ehrlich-b/go-memstream/internal/logging"
	"github.com/ehrlich-b/go-memstream/internal/pool"
)

// Backing identifies where a buffer's storage came from.
type Backing int

const (
	// BackingManaged is ordinary garbage-collected storage.
	BackingManaged Backing = iota
	// BackingNative is explicitly mapped OS memory.
	BackingNative
)

// String returns the backing name used in diagnostic event payloads.
func (b Backing) String() string {
	if b == BackingNative {
		return "native"
	}
	return "managed"
}

func backingOf(b alloc.Backing) Backing {
	if b == alloc.Native {
		return BackingNative
	}
	return BackingManaged
}

// Observer receives diagnostic events from streams and the process-wide
// pools. Implementations must be safe for concurrent use and must not
// block: events fire on hot paths.
type Observer interface {
	// ObserveStreamCreated fires when a stream is created.
	ObserveStreamCreated(streamID string, mode StreamMode, capacity int64)

	// ObserveStreamDisposed fires when a stream is closed.
	ObserveStreamDisposed(streamID string)

	// ObserveStreamFinalized fires when the garbage collector reclaims a
	// stream that was never closed. Rented memory is returned best-effort.
	ObserveStreamFinalized(streamID string)

	// ObserveCapacityExpand fires when a stream's physical capacity grows.
	ObserveCapacityExpand(streamID string, oldCapacity, newCapacity int64)

	// ObserveCapacityReduced fires when a stream's physical capacity shrinks.
	ObserveCapacityReduced(streamID string, oldCapacity, newCapacity int64)

	// ObserveBufferAllocated fires when a pool hands out freshly allocated
	// storage rather than a cached buffer.
	ObserveBufferAllocated(size int64, backing Backing)

	// ObserveBufferReleased fires when a pool gives storage back to the
	// allocator for good.
	ObserveBufferReleased(size int64, backing Backing)

	// ObserveStreamToArray fires when ToArray deliberately allocates a
	// fresh copy of the stream's contents.
	ObserveStreamToArray(streamID string, size int64)
}

// NoopObserver discards all events.
type NoopObserver struct{}

func (NoopObserver) ObserveStreamCreated(string, StreamMode, int64) {}
func (NoopObserver) ObserveStreamDisposed(string)                  {}
func (NoopObserver) ObserveStreamFinalized(string)                 {}
func (NoopObserver) ObserveCapacityExpand(string, int64, int64)    {}
func (NoopObserver) ObserveCapacityReduced(string, int64, int64)   {}
func (NoopObserver) ObserveBufferAllocated(int64, Backing)         {}
func (NoopObserver) ObserveBufferReleased(int64, Backing)          {}
func (NoopObserver) ObserveStreamToArray(string, int64)            {}

// LogObserver writes events through the library logger. Stream finalization
// and ToArray copies log at warn level; everything else at info.
type LogObserver struct {
	Logger *logging.Logger
}

func (o *LogObserver) logger() *logging.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logging.Default()
}

func (o *LogObserver) ObserveStreamCreated(id string, mode StreamMode, capacity int64) {
	o.logger().Info("stream created", "stream", id, "mode", mode, "capacity", capacity)
}

func (o *LogObserver) ObserveStreamDisposed(id string) {
	o.logger().Info("stream disposed", "stream", id)
}

func (o *LogObserver) ObserveStreamFinalized(id string) {
	o.logger().Warn("stream finalized without Close", "stream", id)
}

func (o *LogObserver) ObserveCapacityExpand(id string, oldCap, newCap int64) {
	o.logger().Info("capacity expand", "stream", id, "old", oldCap, "new", newCap)
}

func (o *LogObserver) ObserveCapacityReduced(id string, oldCap, newCap int64) {
	o.logger().Info("capacity reduced", "stream", id, "old", oldCap, "new", newCap)
}

func (o *LogObserver) ObserveBufferAllocated(size int64, backing Backing) {
	o.logger().Info("buffer allocated", "size", size, "backing", backing)
}

func (o *LogObserver) ObserveBufferReleased(size int64, backing Backing) {
	o.logger().Info("buffer released", "size", size, "backing", backing)
}

func (o *LogObserver) ObserveStreamToArray(id string, size int64) {
	o.logger().Warn("ToArray allocation", "stream", id, "size", size)
}

// Compile-time interface checks
var (
	_ Observer = NoopObserver{}
	_ Observer = (*LogObserver)(nil)
	_ Observer = (*MetricsObserver)(nil)
)

// observerBox keeps atomic.Value happy: the stored concrete type is always
// the box, whatever Observer it carries.
type observerBox struct{ obs Observer }

// globalObserver receives pool-level events and is the default for streams
// created without a per-stream observer.
var globalObserver atomic.Value // observerBox

func init() {
	globalObserver.Store(observerBox{obs: NoopObserver{}})
}

// SetObserver installs the process-wide observer. Pass nil to disable
// monitoring.
func SetObserver(obs Observer) {
	if obs == nil {
		obs = NoopObserver{}
	}
	globalObserver.Store(observerBox{obs: obs})
}

// CurrentObserver returns the process-wide observer.
func CurrentObserver() Observer {
	return globalObserver.Load().(observerBox).obs
}

// poolMonitor adapts the process-wide Observer to the narrow capability the
// pools report through. Lookup is dynamic so SetObserver takes effect after
// the pools are built.
type poolMonitor struct{}

func (poolMonitor) BufferAllocated(size int, backing alloc.Backing) {
	CurrentObserver().ObserveBufferAllocated(int64(size), backingOf(backing))
}

func (poolMonitor) BufferReleased(size int, backing alloc.Backing) {
	CurrentObserver().ObserveBufferReleased(int64(size), backingOf(backing))
}

var _ pool.Monitor = poolMonitor{}
