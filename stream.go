// Package memstream provides a pooled, segmented in-memory byte stream.
//
// A MemoryStream behaves like an ordinary seekable, growable in-memory
// stream, but its storage is composed from fixed-size blocks rented from a
// process-wide pool and, above a threshold, from a ladder-indexed pool of
// large buffers. Repeated creation and release of multi-megabyte streams is
// essentially allocation-free once the pools are warm: large buffers are
// rented from the pool and reused rather than allocated for each stream.
package memstream

import (
	"context"
	"io"
	"math"
	"runtime"

	"github.com/google/uuid"

	"github.com/ehrlich-b/go-memstream/internal/constants"
	"github.com/ehrlich-b/go-memstream/internal/pool"
)

// StreamMode distinguishes streams that own rented storage from streams
// wrapping a caller-supplied buffer.
type StreamMode int

const (
	// ModeDynamic streams own rented storage and grow on demand.
	ModeDynamic StreamMode = iota
	// ModeFixed streams wrap a caller-supplied buffer and cannot grow
	// beyond it.
	ModeFixed
)

// String returns the mode name used in diagnostic event payloads.
func (m StreamMode) String() string {
	if m == ModeFixed {
		return "fixed"
	}
	return "dynamic"
}

// storageKind is the current backing of a dynamic stream.
type storageKind int

const (
	storeSegmented storageKind = iota
	storeLarge
	storeFixed
)

// MemoryStream is a seekable, growable in-memory byte stream over pooled
// storage. It implements io.Reader, io.Writer, io.Seeker, io.ReaderAt,
// io.ByteReader, io.ByteWriter, io.WriterTo, io.ReaderFrom and io.Closer.
//
// A stream is not safe for concurrent use; confine it to one logical owner
// at a time, the same contract as bytes.Buffer. The pools behind it are
// process-wide and fully concurrent.
type MemoryStream struct {
	opts Options
	mode StreamMode
	kind storageKind

	seg   *segmentStore
	large pool.LargeBuffer
	fixed []byte

	length int64
	pos    int64

	idStr  string
	closed bool
}

// New creates an empty dynamic stream with the given options.
func New(opts Options) *MemoryStream {
	s, _ := NewWithCapacity(0, opts)
	return s
}

// NewDefault creates an empty dynamic stream with default options.
func NewDefault() *MemoryStream {
	return New(DefaultOptions())
}

// NewWithCapacity creates a dynamic stream with at least the given physical
// capacity pre-rented. A capacity above the promotion threshold goes
// straight to large-buffer storage; allocation failure on the native path
// surfaces as an error.
func NewWithCapacity(capacity int64, opts Options) (*MemoryStream, error) {
	opts = opts.normalized()
	if capacity < 0 {
		return nil, NewSizeError("NewWithCapacity", ErrCodeOutOfRange, capacity, "negative capacity")
	}
	s := &MemoryStream{
		opts: opts,
		mode: ModeDynamic,
		kind: storeSegmented,
		seg:  newSegmentStore(blockPoolFor(opts.BlockSize)),
	}
	if capacity > 0 {
		if err := s.ensureCapacity("NewWithCapacity", capacity); err != nil {
			return nil, err
		}
	}
	runtime.SetFinalizer(s, (*MemoryStream).finalize)
	s.observer().ObserveStreamCreated(s.id(), s.mode, s.Capacity())
	return s, nil
}

// NewFromBuffer creates a fixed-mode stream wrapping buf. The stream reads
// and writes buf in place, its length starts at len(buf), and it cannot
// grow past it. The zero-buffer behavior is forced to ZeroOnRelease.
func NewFromBuffer(buf []byte) *MemoryStream {
	s, _ := NewFromBufferRange(buf, 0, len(buf))
	return s
}

// NewFromBufferRange creates a fixed-mode stream over buf[offset:offset+count].
func NewFromBufferRange(buf []byte, offset, count int) (*MemoryStream, error) {
	if offset < 0 || count < 0 || offset+count > len(buf) {
		return nil, NewError("NewFromBufferRange", ErrCodeOutOfRange, "offset/count outside buffer")
	}
	s := &MemoryStream{
		opts:   DefaultOptions().WithZeroBufferBehavior(ZeroOnRelease),
		mode:   ModeFixed,
		kind:   storeFixed,
		fixed:  buf[offset : offset+count : offset+count],
		length: int64(count),
	}
	s.observer().ObserveStreamCreated(s.id(), s.mode, int64(count))
	return s, nil
}

func (s *MemoryStream) observer() Observer {
	if s.opts.Observer != nil {
		return s.opts.Observer
	}
	return CurrentObserver()
}

// id returns the stream's diagnostic identifier, generated on first use.
func (s *MemoryStream) id() string {
	if s.idStr == "" {
		s.idStr = uuid.NewString()
	}
	return s.idStr
}

func (s *MemoryStream) zeroMode() pool.ZeroMode {
	switch s.opts.ZeroBufferBehavior {
	case ZeroOnRelease:
		return pool.ZeroOnRelease
	case ZeroNone:
		return pool.ZeroNone
	default:
		return pool.ZeroOutOfBand
	}
}

// Length returns the logical length of the stream.
func (s *MemoryStream) Length() int64 { return s.length }

// Position returns the current read/write position. The position may
// exceed the length after a seek past the end.
func (s *MemoryStream) Position() int64 { return s.pos }

// SetPosition moves the read/write position. Negative positions fail.
func (s *MemoryStream) SetPosition(p int64) error {
	if s.closed {
		return NewError("SetPosition", ErrCodeClosed, "")
	}
	if p < 0 {
		return NewSizeError("SetPosition", ErrCodeOutOfRange, p, "negative position")
	}
	s.pos = p
	return nil
}

// Capacity returns the physical capacity currently backing the stream.
func (s *MemoryStream) Capacity() int64 {
	switch s.kind {
	case storeFixed:
		return int64(len(s.fixed))
	case storeLarge:
		return int64(len(s.large.Data))
	default:
		return s.seg.capacity()
	}
}

// Mode reports whether the stream is dynamic or wraps a fixed buffer.
func (s *MemoryStream) Mode() StreamMode { return s.mode }

// Read copies up to len(p) bytes from the current position and advances it.
// At or past the end it returns (0, io.EOF) without moving the position.
func (s *MemoryStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, NewError("Read", ErrCodeClosed, "")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos >= s.length {
		return 0, io.EOF
	}
	n := len(p)
	if remaining := s.length - s.pos; int64(n) > remaining {
		n = int(remaining)
	}
	s.copyOut(p[:n], s.pos)
	s.pos += int64(n)
	return n, nil
}

// ReadAt copies up to len(p) bytes starting at off without touching the
// position. It returns io.EOF when fewer than len(p) bytes are available.
func (s *MemoryStream) ReadAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, NewError("ReadAt", ErrCodeClosed, "")
	}
	if off < 0 {
		return 0, NewSizeError("ReadAt", ErrCodeOutOfRange, off, "negative offset")
	}
	if off >= s.length {
		return 0, io.EOF
	}
	n := len(p)
	var err error
	if remaining := s.length - off; int64(n) > remaining {
		n = int(remaining)
		err = io.EOF
	}
	s.copyOut(p[:n], off)
	return n, err
}

// ReadByte reads a single byte at the current position.
func (s *MemoryStream) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := s.Read(one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}

// Write copies p at the current position, growing the stream as needed and
// zero-filling any gap a past-the-end position uncovered. A fixed stream
// accepts what fits in its wrapped span and then fails with a not-supported
// error.
func (s *MemoryStream) Write(p []byte) (int, error) {
	if s.closed {
		return 0, NewError("Write", ErrCodeClosed, "")
	}
	if len(p) == 0 {
		return 0, nil
	}
	if s.pos > math.MaxInt64-int64(len(p)) {
		return 0, NewSizeError("Write", ErrCodeOutOfRange, s.pos, "position overflow")
	}
	end := s.pos + int64(len(p))

	if s.kind == storeFixed {
		span := int64(len(s.fixed))
		if s.pos >= span {
			return 0, NewError("Write", ErrCodeNotSupported, "write beyond fixed buffer")
		}
		n := len(p)
		short := false
		if end > span {
			n = int(span - s.pos)
			end = span
			short = true
		}
		s.fillGap(s.pos)
		copy(s.fixed[s.pos:], p[:n])
		s.pos = end
		if end > s.length {
			s.length = end
		}
		if short {
			return n, NewError("Write", ErrCodeNotSupported, "write beyond fixed buffer")
		}
		return n, nil
	}

	if err := s.ensureCapacity("Write", end); err != nil {
		return 0, err
	}
	s.fillGap(s.pos)
	s.copyIn(p, s.pos)
	s.pos = end
	if end > s.length {
		s.length = end
	}
	return len(p), nil
}

// WriteByte writes a single byte at the current position.
func (s *MemoryStream) WriteByte(c byte) error {
	_, err := s.Write([]byte{c})
	return err
}

// Seek sets the position per io.Seeker. Seeking past the end is allowed;
// the gap is zero-filled by the write that lands there. A resulting
// negative position fails and leaves the position unchanged.
func (s *MemoryStream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, NewError("Seek", ErrCodeClosed, "")
	}
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.length
	default:
		return 0, NewSizeError("Seek", ErrCodeOutOfRange, int64(whence), "invalid whence")
	}
	p := base + offset
	if p < 0 {
		return 0, NewSizeError("Seek", ErrCodeNegativePosition, p, "seek before start")
	}
	s.pos = p
	return p, nil
}

// SetLength truncates or extends the logical length. Extending zero-fills
// the newly included bytes; truncating clamps the position and may return
// storage to the pools, demoting a large-buffer stream back to segments
// once the length falls below half the promotion threshold.
func (s *MemoryStream) SetLength(n int64) error {
	if s.closed {
		return NewError("SetLength", ErrCodeClosed, "")
	}
	if n < 0 {
		return NewSizeError("SetLength", ErrCodeOutOfRange, n, "negative length")
	}

	if s.kind == storeFixed {
		if n > int64(len(s.fixed)) {
			return NewSizeError("SetLength", ErrCodeNotSupported, n, "length beyond fixed buffer")
		}
		if n > s.length {
			clear(s.fixed[s.length:n])
		}
		s.length = n
		if s.pos > n {
			s.pos = n
		}
		return nil
	}

	if n > s.length {
		if err := s.ensureCapacity("SetLength", n); err != nil {
			return err
		}
		s.zeroRange(s.length, n)
		s.length = n
		return nil
	}

	s.length = n
	if s.pos > n {
		s.pos = n
	}
	s.shrinkCapacity(n)
	return nil
}

// Flush implements the stream contract; an in-memory stream has nothing to
// flush.
func (s *MemoryStream) Flush() error {
	if s.closed {
		return NewError("Flush", ErrCodeClosed, "")
	}
	return nil
}

// ToArray copies the whole stream into a fresh array. The copy is a
// deliberate allocation and is reported as a warning-level event.
func (s *MemoryStream) ToArray() ([]byte, error) {
	if s.closed {
		return nil, NewError("ToArray", ErrCodeClosed, "")
	}
	out := make([]byte, s.length)
	s.copyOut(out, 0)
	s.observer().ObserveStreamToArray(s.id(), s.length)
	return out, nil
}

// Buffer returns the underlying contiguous span of a fixed or promoted
// large-buffer stream. Segmented streams have no contiguous span and fail;
// callers must not hold the span across capacity changes.
func (s *MemoryStream) Buffer() ([]byte, error) {
	if s.closed {
		return nil, NewError("Buffer", ErrCodeClosed, "")
	}
	switch s.kind {
	case storeFixed:
		return s.fixed, nil
	case storeLarge:
		return s.large.Data, nil
	default:
		return nil, NewError("Buffer", ErrCodeInvalidOperation, "segmented stream has no contiguous buffer")
	}
}

// TryBuffer returns the underlying contiguous span and true when the
// stream's storage is contiguous.
func (s *MemoryStream) TryBuffer() ([]byte, bool) {
	buf, err := s.Buffer()
	return buf, err == nil
}

// WriteTo copies everything from the current position to the end into w
// and advances the position. Segmented storage is written block by block
// with no staging copy.
func (s *MemoryStream) WriteTo(w io.Writer) (int64, error) {
	return s.copyTo(context.Background(), w)
}

// CopyTo copies from the current position to the end into w, checking ctx
// between chunks. Cancellation stops further writes; bytes already written
// are not rolled back.
func (s *MemoryStream) CopyTo(ctx context.Context, w io.Writer) (int64, error) {
	return s.copyTo(ctx, w)
}

func (s *MemoryStream) copyTo(ctx context.Context, w io.Writer) (int64, error) {
	if s.closed {
		return 0, NewError("CopyTo", ErrCodeClosed, "")
	}
	var written int64
	for s.pos < s.length {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		remaining := s.length - s.pos
		chunk := s.contiguous(s.pos, min64(remaining, constants.CopyBufferSize))
		n, err := w.Write(chunk)
		written += int64(n)
		s.pos += int64(n)
		if err != nil {
			return written, err
		}
		if n < len(chunk) {
			return written, io.ErrShortWrite
		}
	}
	return written, nil
}

// ReadFrom fills the stream from r starting at the current position until
// EOF, growing as needed. A fixed stream that runs out of wrapped span
// while r still has data fails with a not-supported error.
func (s *MemoryStream) ReadFrom(r io.Reader) (int64, error) {
	if s.closed {
		return 0, NewError("ReadFrom", ErrCodeClosed, "")
	}
	var total int64
	for {
		target := s.pos + int64(s.writeChunk())
		if s.kind == storeFixed {
			if s.pos >= int64(len(s.fixed)) {
				// Probe: only fail if r actually has more data.
				var one [1]byte
				n, err := r.Read(one[:])
				if n > 0 {
					return total, NewError("ReadFrom", ErrCodeNotSupported, "fixed buffer full")
				}
				if err == io.EOF {
					return total, nil
				}
				if err != nil {
					return total, err
				}
				continue
			}
			if target > int64(len(s.fixed)) {
				target = int64(len(s.fixed))
			}
		} else if err := s.ensureCapacity("ReadFrom", target); err != nil {
			return total, err
		}

		s.fillGap(s.pos)
		dst := s.contiguous(s.pos, target-s.pos)
		n, err := r.Read(dst)
		if n > 0 {
			s.pos += int64(n)
			if s.pos > s.length {
				s.length = s.pos
			}
			total += int64(n)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// Close returns all rented storage to the pools and marks the stream
// disposed. Closing twice is a no-op.
func (s *MemoryStream) Close() error {
	if s.closed {
		return nil
	}
	s.releaseStorage()
	s.closed = true
	runtime.SetFinalizer(s, nil)
	s.observer().ObserveStreamDisposed(s.id())
	return nil
}

// finalize is the GC safety net for streams that were never closed: rented
// memory is returned best-effort and the leak is reported at warn level.
func (s *MemoryStream) finalize() {
	if s.closed {
		return
	}
	s.releaseStorage()
	s.closed = true
	s.observer().ObserveStreamFinalized(s.id())
}

func (s *MemoryStream) releaseStorage() {
	switch s.kind {
	case storeLarge:
		largePool().Put(s.large, s.zeroMode())
		s.large = pool.LargeBuffer{}
	case storeSegmented:
		s.seg.releaseAll(s.zeroMode())
	}
	s.fixed = nil
	s.length = 0
	s.pos = 0
}

// ---- storage plumbing ----

// ensureCapacity grows physical capacity to hold at least n bytes,
// promoting segmented storage to a single large buffer once n crosses the
// threshold. On allocation failure nothing changes.
func (s *MemoryStream) ensureCapacity(op string, n int64) error {
	if n <= s.Capacity() {
		return nil
	}
	if int64(int(n)) != n {
		return NewSizeError(op, ErrCodeOutOfRange, n, "capacity beyond address space")
	}

	switch s.kind {
	case storeFixed:
		return NewSizeError(op, ErrCodeNotSupported, n, "capacity beyond fixed buffer")

	case storeLarge:
		oldCap := int64(len(s.large.Data))
		lb, err := largePool().Get(int(n))
		if err != nil {
			return WrapError(op, ErrCodeInsufficientMemory, err)
		}
		copy(lb.Data, s.large.Data[:s.length])
		if !lb.Zeroed {
			clear(lb.Data[s.length:])
		}
		largePool().Put(s.large, s.zeroMode())
		s.large = lb
		s.observer().ObserveCapacityExpand(s.id(), oldCap, int64(len(lb.Data)))
		return nil

	default:
		if n > s.opts.LargeBufferThreshold {
			return s.promote(op, n)
		}
		oldCap := s.seg.capacity()
		s.seg.ensure(n)
		s.observer().ObserveCapacityExpand(s.id(), oldCap, s.seg.capacity())
		return nil
	}
}

// promote moves segmented content into one rented large buffer.
func (s *MemoryStream) promote(op string, n int64) error {
	lb, err := largePool().Get(int(n))
	if err != nil {
		return WrapError(op, ErrCodeInsufficientMemory, err)
	}
	oldCap := s.seg.capacity()
	if s.length > 0 {
		s.seg.readAt(lb.Data[:s.length], 0)
	}
	if !lb.Zeroed {
		clear(lb.Data[s.length:])
	}
	s.seg.releaseAll(s.zeroMode())
	s.large = lb
	s.kind = storeLarge
	s.observer().ObserveCapacityExpand(s.id(), oldCap, int64(len(lb.Data)))
	return nil
}

// shrinkCapacity releases storage a truncated length no longer needs.
// Large-buffer streams demote back to segments only once the length falls
// below half the promotion threshold, so writes hovering near the
// threshold do not thrash between modes.
func (s *MemoryStream) shrinkCapacity(n int64) {
	switch s.kind {
	case storeLarge:
		if n >= s.opts.LargeBufferThreshold/2 {
			return
		}
		oldCap := int64(len(s.large.Data))
		seg := newSegmentStore(blockPoolFor(s.opts.BlockSize))
		seg.ensure(n)
		if n > 0 {
			seg.writeAt(s.large.Data[:n], 0)
		}
		largePool().Put(s.large, s.zeroMode())
		s.large = pool.LargeBuffer{}
		s.seg = seg
		s.kind = storeSegmented
		s.observer().ObserveCapacityReduced(s.id(), oldCap, seg.capacity())

	case storeSegmented:
		oldCap := s.seg.capacity()
		s.seg.reduce(n, s.zeroMode())
		if newCap := s.seg.capacity(); newCap < oldCap {
			s.observer().ObserveCapacityReduced(s.id(), oldCap, newCap)
		}
	}
}

// fillGap zero-fills [length, pos) before a write that lands past the end.
func (s *MemoryStream) fillGap(pos int64) {
	if pos <= s.length {
		return
	}
	s.zeroRange(s.length, pos)
}

func (s *MemoryStream) zeroRange(from, to int64) {
	switch s.kind {
	case storeFixed:
		clear(s.fixed[from:to])
	case storeLarge:
		clear(s.large.Data[from:to])
	default:
		s.seg.zeroRange(from, to)
	}
}

func (s *MemoryStream) copyOut(p []byte, off int64) {
	switch s.kind {
	case storeFixed:
		copy(p, s.fixed[off:])
	case storeLarge:
		copy(p, s.large.Data[off:])
	default:
		s.seg.readAt(p, off)
	}
}

func (s *MemoryStream) copyIn(p []byte, off int64) {
	switch s.kind {
	case storeFixed:
		copy(s.fixed[off:], p)
	case storeLarge:
		copy(s.large.Data[off:], p)
	default:
		s.seg.writeAt(p, off)
	}
}

// contiguous returns the storage run starting at off, clipped to max bytes.
func (s *MemoryStream) contiguous(off, max int64) []byte {
	switch s.kind {
	case storeFixed:
		run := s.fixed[off:]
		if int64(len(run)) > max {
			run = run[:max]
		}
		return run
	case storeLarge:
		run := s.large.Data[off:]
		if int64(len(run)) > max {
			run = run[:max]
		}
		return run
	default:
		return s.seg.slice(off, max)
	}
}

// writeChunk is the preferred granule for incremental fills.
func (s *MemoryStream) writeChunk() int {
	if s.kind == storeSegmented {
		return s.opts.BlockSize
	}
	return constants.CopyBufferSize
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Compile-time interface checks
var (
	_ io.Reader     = (*MemoryStream)(nil)
	_ io.Writer     = (*MemoryStream)(nil)
	_ io.Seeker     = (*MemoryStream)(nil)
	_ io.Closer     = (*MemoryStream)(nil)
	_ io.ReaderAt   = (*MemoryStream)(nil)
	_ io.ByteReader = (*MemoryStream)(nil)
	_ io.ByteWriter = (*MemoryStream)(nil)
	_ io.WriterTo   = (*MemoryStream)(nil)
	_ io.ReaderFrom = (*MemoryStream)(nil)
)
