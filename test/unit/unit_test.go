//go:build !integration
// +build !integration

package unit

import (
	"bytes"
	"io"
	"testing"

	memstream "github.com/ehrlich-b/go-memstream"
)

// These tests exercise the public API only, the way an importing project
// sees it.

func TestStandardStreamContract(t *testing.T) {
	s := memstream.NewDefault()
	defer s.Close()

	// The stream must satisfy the stdlib composite interfaces.
	var _ io.ReadWriteSeeker = s
	var _ io.ReadWriteCloser = s
	var _ io.ReaderAt = s
	var _ io.WriterTo = s
	var _ io.ReaderFrom = s
}

func TestIoCopyInterop(t *testing.T) {
	src := memstream.NewDefault()
	defer src.Close()
	data := bytes.Repeat([]byte("interop"), 50_000)
	if _, err := src.Write(data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}

	dst := memstream.NewDefault()
	defer dst.Close()
	n, err := io.Copy(dst, src)
	if err != nil {
		t.Fatalf("io.Copy failed: %v", err)
	}
	if n != int64(len(data)) {
		t.Errorf("copied %d bytes, want %d", n, len(data))
	}

	out, err := dst.ToArray()
	if err != nil {
		t.Fatalf("ToArray failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("io.Copy round trip mismatch")
	}
}

func TestOptionsChain(t *testing.T) {
	opts := memstream.DefaultOptions().
		WithBlockSize(16 * 1024).
		WithZeroBufferBehavior(memstream.ZeroOnRelease)

	s := memstream.New(opts)
	defer s.Close()
	if _, err := s.Write(make([]byte, 40*1024)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if s.Capacity()%(16*1024) != 0 {
		t.Errorf("capacity %d is not a multiple of the configured block size", s.Capacity())
	}
}

func TestErrorTaxonomyIsStable(t *testing.T) {
	s := memstream.NewDefault()
	s.Close()

	if _, err := s.Read(make([]byte, 1)); !memstream.IsCode(err, memstream.ErrCodeClosed) {
		t.Errorf("Read after Close = %v, want closed code", err)
	}

	f := memstream.NewFromBuffer(make([]byte, 4))
	defer f.Close()
	f.Seek(0, io.SeekEnd)
	if _, err := f.Write([]byte("x")); !memstream.IsCode(err, memstream.ErrCodeNotSupported) {
		t.Errorf("fixed overflow = %v, want not-supported code", err)
	}
}
