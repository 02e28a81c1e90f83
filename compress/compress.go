// Package compress provides convenience helpers that compress into and
// decompress out of pooled memory streams. Encoder and decoder instances
// are recycled through sync.Pool so steady-state use allocates only pooled
// stream storage.
package compress

import (
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	memstream "github.com/ehrlich-b/go-memstream"
)

var gzipWriters = sync.Pool{
	New: func() any { return gzip.NewWriter(io.Discard) },
}

var gzipReaders = sync.Pool{
	New: func() any { return new(gzip.Reader) },
}

var zstdWriters = sync.Pool{
	New: func() any {
		zw, _ := zstd.NewWriter(nil)
		return zw
	},
}

var zstdReaders = sync.Pool{
	New: func() any {
		zr, _ := zstd.NewReader(nil)
		return zr
	},
}

// GzipTo compresses src into dst with a pooled gzip writer and returns the
// number of uncompressed bytes consumed.
func GzipTo(dst *memstream.MemoryStream, src io.Reader) (int64, error) {
	zw := gzipWriters.Get().(*gzip.Writer)
	defer gzipWriters.Put(zw)
	zw.Reset(dst)

	n, err := io.Copy(zw, src)
	if err != nil {
		return n, err
	}
	return n, zw.Close()
}

// Gzip compresses src into a fresh pooled stream, rewound to the start.
// The caller owns the returned stream and must Close it.
func Gzip(src io.Reader, opts memstream.Options) (*memstream.MemoryStream, error) {
	return intoStream(opts, func(dst *memstream.MemoryStream) error {
		_, err := GzipTo(dst, src)
		return err
	})
}

// GunzipTo decompresses gzip data from src into dst and returns the number
// of uncompressed bytes produced.
func GunzipTo(dst *memstream.MemoryStream, src io.Reader) (int64, error) {
	zr := gzipReaders.Get().(*gzip.Reader)
	defer gzipReaders.Put(zr)
	if err := zr.Reset(src); err != nil {
		return 0, err
	}

	n, err := dst.ReadFrom(zr)
	if err != nil {
		return n, err
	}
	return n, zr.Close()
}

// Gunzip decompresses gzip data from src into a fresh pooled stream,
// rewound to the start. The caller owns the returned stream.
func Gunzip(src io.Reader, opts memstream.Options) (*memstream.MemoryStream, error) {
	return intoStream(opts, func(dst *memstream.MemoryStream) error {
		_, err := GunzipTo(dst, src)
		return err
	})
}

// ZstdTo compresses src into dst with a pooled zstd encoder and returns
// the number of uncompressed bytes consumed.
func ZstdTo(dst *memstream.MemoryStream, src io.Reader) (int64, error) {
	zw := zstdWriters.Get().(*zstd.Encoder)
	defer zstdWriters.Put(zw)
	zw.Reset(dst)

	n, err := io.Copy(zw, src)
	if err != nil {
		zw.Close()
		return n, err
	}
	return n, zw.Close()
}

// Zstd compresses src into a fresh pooled stream, rewound to the start.
func Zstd(src io.Reader, opts memstream.Options) (*memstream.MemoryStream, error) {
	return intoStream(opts, func(dst *memstream.MemoryStream) error {
		_, err := ZstdTo(dst, src)
		return err
	})
}

// UnzstdTo decompresses zstd data from src into dst and returns the number
// of uncompressed bytes produced.
func UnzstdTo(dst *memstream.MemoryStream, src io.Reader) (int64, error) {
	zr := zstdReaders.Get().(*zstd.Decoder)
	defer zstdReaders.Put(zr)
	if err := zr.Reset(src); err != nil {
		return 0, err
	}
	return dst.ReadFrom(zr.IOReadCloser())
}

// Unzstd decompresses zstd data from src into a fresh pooled stream,
// rewound to the start.
func Unzstd(src io.Reader, opts memstream.Options) (*memstream.MemoryStream, error) {
	return intoStream(opts, func(dst *memstream.MemoryStream) error {
		_, err := UnzstdTo(dst, src)
		return err
	})
}

func intoStream(opts memstream.Options, fill func(*memstream.MemoryStream) error) (*memstream.MemoryStream, error) {
	dst := memstream.New(opts)
	if err := fill(dst); err != nil {
		dst.Close()
		return nil, err
	}
	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		dst.Close()
		return nil, err
	}
	return dst, nil
}
