package memstream

import "sync"

// RecordingObserver is an Observer that records every event for test
// verification. It is safe for concurrent use.
type RecordingObserver struct {
	mu sync.Mutex

	Created   []string
	Disposed  []string
	Finalized []string

	Expansions []CapacityChange
	Reductions []CapacityChange

	Allocations []BufferEvent
	Releases    []BufferEvent

	ToArrays []string
}

// CapacityChange records one capacity transition.
type CapacityChange struct {
	StreamID string
	Old      int64
	New      int64
}

// BufferEvent records one pool allocation or release.
type BufferEvent struct {
	Size    int64
	Backing Backing
}

// NewRecordingObserver creates an empty recorder.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (r *RecordingObserver) ObserveStreamCreated(id string, _ StreamMode, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Created = append(r.Created, id)
}

func (r *RecordingObserver) ObserveStreamDisposed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Disposed = append(r.Disposed, id)
}

func (r *RecordingObserver) ObserveStreamFinalized(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Finalized = append(r.Finalized, id)
}

func (r *RecordingObserver) ObserveCapacityExpand(id string, oldCap, newCap int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Expansions = append(r.Expansions, CapacityChange{StreamID: id, Old: oldCap, New: newCap})
}

func (r *RecordingObserver) ObserveCapacityReduced(id string, oldCap, newCap int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Reductions = append(r.Reductions, CapacityChange{StreamID: id, Old: oldCap, New: newCap})
}

func (r *RecordingObserver) ObserveBufferAllocated(size int64, backing Backing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Allocations = append(r.Allocations, BufferEvent{Size: size, Backing: backing})
}

func (r *RecordingObserver) ObserveBufferReleased(size int64, backing Backing) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Releases = append(r.Releases, BufferEvent{Size: size, Backing: backing})
}

func (r *RecordingObserver) ObserveStreamToArray(id string, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ToArrays = append(r.ToArrays, id)
}

// CreatedCount returns the number of StreamCreated events seen.
func (r *RecordingObserver) CreatedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Created)
}

// ExpandCount returns the number of CapacityExpand events seen.
func (r *RecordingObserver) ExpandCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Expansions)
}

// ReduceCount returns the number of CapacityReduced events seen.
func (r *RecordingObserver) ReduceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Reductions)
}

var _ Observer = (*RecordingObserver)(nil)
