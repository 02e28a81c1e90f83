//go:build linux || darwin || freebsd || netbsd || openbsd

package alloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const mmapSupported = true

// mmapAlloc requests an anonymous private mapping of exactly size bytes.
// The kernel hands back zero-filled pages, which satisfies the zeroed-at-
// first-observation contract without touching the managed heap.
func mmapAlloc(size int) ([]byte, error) {
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}
	return buf[:size], nil
}

// mmapFree unmaps a buffer produced by mmapAlloc. The slice must be the
// original mapping; sub-slices cannot be unmapped.
func mmapFree(b []byte) error {
	if b == nil {
		return nil
	}
	if err := unix.Munmap(b[:cap(b)]); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}
