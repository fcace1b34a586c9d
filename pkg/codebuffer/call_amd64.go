//go:build linux && amd64

package codebuffer

import (
	"runtime"
	"unsafe"
)

// NativeCallSupported reports whether CallBlock can run generated code.
const NativeCallSupported = true

// callBlock is implemented in call_amd64.s. It aligns the stack, passes
// state in RDI (System V) and calls entry.
func callBlock(entry uintptr, state uintptr) uint64

// CallBlock runs the block at entry with state as its CPU pointer and
// returns whatever the exit stub leaves in RAX.
func CallBlock(entry uintptr, state unsafe.Pointer) uint64 {
	ret := callBlock(entry, uintptr(state))
	runtime.KeepAlive(state)
	return ret
}
