// Package codebuffer owns the memory region generated host code is
// written into: a monotonic write cursor, commit, and alignment padding.
package codebuffer

import (
	"psxrec/pkg/errors"
)

const (
	DefaultSize      = 16 * 1024 * 1024 // 16MB
	DefaultAlignment = 16
	PageSize         = 4096
)

// Padding byte written by Align (int3).
const Padding = 0xCC

// Buffer is a fixed region with a write cursor that only moves forward
// until Reset. It carries no locking: one compiler writes at a time.
type Buffer struct {
	mem        []byte
	base       uintptr
	used       int
	alignment  int
	executable bool
	release    func([]byte) error
}

func newBuffer(mem []byte, base uintptr, alignment int, executable bool, release func([]byte) error) *Buffer {
	// capacity is a whole number of alignment units so Align can always land on a boundary
	capacity := len(mem) &^ (alignment - 1)
	return &Buffer{
		mem:        mem[:capacity],
		base:       base,
		alignment:  alignment,
		executable: executable,
		release:    release,
	}
}

func checkGeometry(size, alignment int) (int, int, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if alignment <= 0 {
		alignment = DefaultAlignment
	}
	if alignment&(alignment-1) != 0 || alignment > PageSize {
		return 0, 0, errors.Newf("code buffer alignment %d must be a power of two no larger than %d", alignment, PageSize)
	}
	if size < alignment {
		return 0, 0, errors.Newf("code buffer size %d is smaller than its alignment %d", size, alignment)
	}
	return size, alignment, nil
}

// NewHeap creates a buffer backed by ordinary Go memory whose addresses
// are reported relative to base. The bytes are not executable; the
// emulated backend runs them through hostemu.
func NewHeap(size, alignment int, base uintptr) (*Buffer, error) {
	size, alignment, err := checkGeometry(size, alignment)
	if err != nil {
		return nil, err
	}
	if base%uintptr(alignment) != 0 {
		return nil, errors.Newf("code buffer base 0x%x is not aligned to %d", base, alignment)
	}
	return newBuffer(make([]byte, size), base, alignment, false, nil), nil
}

// FreeCodePointer returns the address the next block will start at.
func (b *Buffer) FreeCodePointer() uintptr {
	return b.base + uintptr(b.used)
}

// FreeCodeSpace returns the number of bytes left after the cursor.
func (b *Buffer) FreeCodeSpace() int {
	return len(b.mem) - b.used
}

// FreeCode returns the writable slice starting at the cursor. Writes are
// not published until CommitCode.
func (b *Buffer) FreeCode() []byte {
	return b.mem[b.used:]
}

// CommitCode advances the cursor past n bytes written into FreeCode.
func (b *Buffer) CommitCode(n int) {
	errors.Assertf(n >= 0 && n <= b.FreeCodeSpace(), "codebuffer: commit of %d bytes with %d free", n, b.FreeCodeSpace())
	b.used += n
}

// Align pads the cursor forward to the next multiple of alignment. It
// never moves backward.
func (b *Buffer) Align(alignment int, padding byte) {
	errors.Assertf(alignment > 0 && alignment&(alignment-1) == 0 && alignment <= b.alignment,
		"codebuffer: alignment %d must be a power of two no larger than %d", alignment, b.alignment)
	aligned := (b.used + alignment - 1) &^ (alignment - 1)
	for i := b.used; i < aligned; i++ {
		b.mem[i] = padding
	}
	b.used = aligned
}

// Reset rewinds the cursor. Code previously handed out must no longer run.
func (b *Buffer) Reset() {
	b.used = 0
}

// Free releases the backing memory.
func (b *Buffer) Free() error {
	if b.mem == nil {
		return nil
	}
	var err error
	if b.release != nil {
		err = b.release(b.mem[:cap(b.mem)])
	}
	b.mem = nil
	b.used = 0
	return err
}

// Bytes returns a copy of the bytes at the given address
func (b *Buffer) Bytes(addr uintptr, size int) []byte {
	if !b.Contains(addr) || size < 0 {
		return nil
	}
	offset := int(addr - b.base)
	if offset+size > len(b.mem) {
		return nil
	}
	result := make([]byte, size)
	copy(result, b.mem[offset:offset+size])
	return result
}

// Contains reports whether addr falls inside the region.
func (b *Buffer) Contains(addr uintptr) bool {
	return addr >= b.base && addr < b.base+uintptr(len(b.mem))
}

// Region exposes the base address and the whole backing slice.
func (b *Buffer) Region() (uintptr, []byte) {
	return b.base, b.mem
}

func (b *Buffer) Used() int        { return b.used }
func (b *Buffer) Capacity() int    { return len(b.mem) }
func (b *Buffer) Alignment() int   { return b.alignment }
func (b *Buffer) Executable() bool { return b.executable }
