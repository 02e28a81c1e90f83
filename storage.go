package memstream

import (
	"github.com/ehrlich-b/go-memstream/internal/pool"
)

// segmentStore is the dynamic backing of a stream below the promotion
// threshold: an ordered vector of equally sized blocks rented from the
// process-wide pool. Positional lookup is a shift and a mask because the
// block size is a power of two.
type segmentStore struct {
	pool   *pool.BlockPool
	blocks [][]byte
	shift  uint
	mask   int64
}

func newSegmentStore(p *pool.BlockPool) *segmentStore {
	size := int64(p.BlockSize())
	shift := uint(0)
	for 1<<shift < size {
		shift++
	}
	return &segmentStore{
		pool:  p,
		shift: shift,
		mask:  size - 1,
	}
}

func (s *segmentStore) blockSize() int64 {
	return s.mask + 1
}

// capacity is the aggregate physical capacity of all rented blocks.
func (s *segmentStore) capacity() int64 {
	return int64(len(s.blocks)) << s.shift
}

// ensure grows physical capacity to at least n by renting blocks.
func (s *segmentStore) ensure(n int64) {
	for s.capacity() < n {
		s.blocks = append(s.blocks, s.pool.Get())
	}
}

// reduce returns trailing blocks while capacity can drop by a whole block
// and still hold n bytes.
func (s *segmentStore) reduce(n int64, mode pool.ZeroMode) {
	for s.capacity()-s.blockSize() >= n {
		last := len(s.blocks) - 1
		s.pool.Put(s.blocks[last], mode)
		s.blocks[last] = nil
		s.blocks = s.blocks[:last]
	}
}

// releaseAll returns every block.
func (s *segmentStore) releaseAll(mode pool.ZeroMode) {
	for i, b := range s.blocks {
		s.pool.Put(b, mode)
		s.blocks[i] = nil
	}
	s.blocks = nil
}

// readAt copies len(p) bytes starting at off into p, splitting across block
// boundaries. The caller guarantees off+len(p) <= capacity().
func (s *segmentStore) readAt(p []byte, off int64) {
	for len(p) > 0 {
		block := s.blocks[off>>s.shift]
		start := off & s.mask
		n := copy(p, block[start:])
		p = p[n:]
		off += int64(n)
	}
}

// writeAt copies p into storage starting at off, splitting across block
// boundaries. The caller guarantees off+len(p) <= capacity().
func (s *segmentStore) writeAt(p []byte, off int64) {
	for len(p) > 0 {
		block := s.blocks[off>>s.shift]
		start := off & s.mask
		n := copy(block[start:], p)
		p = p[n:]
		off += int64(n)
	}
}

// zeroRange zero-fills [off, end).
func (s *segmentStore) zeroRange(off, end int64) {
	for off < end {
		block := s.blocks[off>>s.shift]
		start := off & s.mask
		stop := s.blockSize()
		if off-start+stop > end {
			stop = end - (off - start)
		}
		clear(block[start:stop])
		off += stop - start
	}
}

// slice returns the contiguous run of storage starting at off, clipped to
// at most max bytes. Useful for copy loops that want to avoid staging.
func (s *segmentStore) slice(off int64, max int64) []byte {
	block := s.blocks[off>>s.shift]
	start := off & s.mask
	run := block[start:]
	if int64(len(run)) > max {
		run = run[:max]
	}
	return run
}
