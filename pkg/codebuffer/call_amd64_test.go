//go:build linux && amd64

package codebuffer

import (
	"testing"
	"unsafe"
)

func TestCallBlockNative(t *testing.T) {
	buf, err := New(PageSize, 16)
	if err != nil {
		t.Skipf("executable memory unavailable: %v", err)
	}
	defer buf.Free()

	// mov eax, [rdi]; add eax, 7; ret
	code := []byte{0x8B, 0x07, 0x83, 0xC0, 0x07, 0xC3}
	entry := buf.FreeCodePointer()
	copy(buf.FreeCode(), code)
	buf.CommitCode(len(code))

	state := uint32(35)
	if got := CallBlock(entry, unsafe.Pointer(&state)); uint32(got) != 42 {
		t.Fatalf("CallBlock returned %d, want 42", got)
	}
}
