package memstream

import (
	"sync/atomic"
	"time"
)

// Metrics tracks stream and pool activity with lock-free counters. Attach it
// through NewMetricsObserver to populate it.
type Metrics struct {
	// Stream lifecycle counters
	StreamsCreated   atomic.Uint64 // Streams created
	StreamsDisposed  atomic.Uint64 // Streams closed
	StreamsFinalized atomic.Uint64 // Streams reclaimed by GC without Close

	// Capacity counters
	CapacityExpansions atomic.Uint64 // Capacity grow transitions
	CapacityReductions atomic.Uint64 // Capacity shrink transitions

	// Allocator traffic
	BuffersAllocated atomic.Uint64 // Fresh allocations handed out by pools
	BuffersReleased  atomic.Uint64 // Buffers given back to the allocator
	AllocatedBytes   atomic.Uint64 // Total bytes freshly allocated
	ReleasedBytes    atomic.Uint64 // Total bytes released

	// Deliberate-copy counter
	ToArrayCalls atomic.Uint64 // ToArray invocations

	// Lifecycle
	StartTime atomic.Int64 // Collection start timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Reset zeroes all counters and restarts the collection clock
func (m *Metrics) Reset() {
	m.StreamsCreated.Store(0)
	m.StreamsDisposed.Store(0)
	m.StreamsFinalized.Store(0)
	m.CapacityExpansions.Store(0)
	m.CapacityReductions.Store(0)
	m.BuffersAllocated.Store(0)
	m.BuffersReleased.Store(0)
	m.AllocatedBytes.Store(0)
	m.ReleasedBytes.Store(0)
	m.ToArrayCalls.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of all counters
type MetricsSnapshot struct {
	StreamsCreated     uint64 `json:"streams_created"`
	StreamsDisposed    uint64 `json:"streams_disposed"`
	StreamsFinalized   uint64 `json:"streams_finalized"`
	CapacityExpansions uint64 `json:"capacity_expansions"`
	CapacityReductions uint64 `json:"capacity_reductions"`
	BuffersAllocated   uint64 `json:"buffers_allocated"`
	BuffersReleased    uint64 `json:"buffers_released"`
	AllocatedBytes     uint64 `json:"allocated_bytes"`
	ReleasedBytes      uint64 `json:"released_bytes"`
	ToArrayCalls       uint64 `json:"to_array_calls"`
	Uptime             string `json:"uptime"`
}

// Snapshot returns a consistent-enough copy of the counters for reporting
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		StreamsCreated:     m.StreamsCreated.Load(),
		StreamsDisposed:    m.StreamsDisposed.Load(),
		StreamsFinalized:   m.StreamsFinalized.Load(),
		CapacityExpansions: m.CapacityExpansions.Load(),
		CapacityReductions: m.CapacityReductions.Load(),
		BuffersAllocated:   m.BuffersAllocated.Load(),
		BuffersReleased:    m.BuffersReleased.Load(),
		AllocatedBytes:     m.AllocatedBytes.Load(),
		ReleasedBytes:      m.ReleasedBytes.Load(),
		ToArrayCalls:       m.ToArrayCalls.Load(),
		Uptime:             time.Since(time.Unix(0, m.StartTime.Load())).String(),
	}
}

// LiveStreams returns created minus disposed-or-finalized, a rough gauge of
// open streams
func (m *Metrics) LiveStreams() int64 {
	created := int64(m.StreamsCreated.Load())
	gone := int64(m.StreamsDisposed.Load() + m.StreamsFinalized.Load())
	return created - gone
}

// MetricsObserver implements Observer by recording to a Metrics instance
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

// Metrics returns the backing metrics instance
func (o *MetricsObserver) Metrics() *Metrics {
	return o.metrics
}

func (o *MetricsObserver) ObserveStreamCreated(string, StreamMode, int64) {
	o.metrics.StreamsCreated.Add(1)
}

func (o *MetricsObserver) ObserveStreamDisposed(string) {
	o.metrics.StreamsDisposed.Add(1)
}

func (o *MetricsObserver) ObserveStreamFinalized(string) {
	o.metrics.StreamsFinalized.Add(1)
}

func (o *MetricsObserver) ObserveCapacityExpand(string, int64, int64) {
	o.metrics.CapacityExpansions.Add(1)
}

func (o *MetricsObserver) ObserveCapacityReduced(string, int64, int64) {
	o.metrics.CapacityReductions.Add(1)
}

func (o *MetricsObserver) ObserveBufferAllocated(size int64, _ Backing) {
	o.metrics.BuffersAllocated.Add(1)
	o.metrics.AllocatedBytes.Add(uint64(size))
}

func (o *MetricsObserver) ObserveBufferReleased(size int64, _ Backing) {
	o.metrics.BuffersReleased.Add(1)
	o.metrics.ReleasedBytes.Add(uint64(size))
}

func (o *MetricsObserver) ObserveStreamToArray(string, int64) {
	o.metrics.ToArrayCalls.Add(1)
}
