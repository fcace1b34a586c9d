//go:build unix

package codebuffer

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"psxrec/pkg/errors"
)

// New maps an anonymous read/write/execute region of size bytes.
func New(size, alignment int) (*Buffer, error) {
	size, alignment, err := checkGeometry(size, alignment)
	if err != nil {
		return nil, err
	}

	// Note: hardened kernels may refuse RWX mappings
	mem, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d bytes of executable memory", size)
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	return newBuffer(mem, base, alignment, true, unix.Munmap), nil
}
