//go:build !unix

package codebuffer

import "unsafe"

// New falls back to heap memory where anonymous executable mappings are
// unavailable. The returned buffer is not executable.
func New(size, alignment int) (*Buffer, error) {
	size, alignment, err := checkGeometry(size, alignment)
	if err != nil {
		return nil, err
	}
	mem := make([]byte, size+alignment)
	skew := int(uintptr(unsafe.Pointer(&mem[0])) & uintptr(alignment-1))
	if skew != 0 {
		mem = mem[alignment-skew:]
	}
	return newBuffer(mem, uintptr(unsafe.Pointer(&mem[0])), alignment, false, nil), nil
}
