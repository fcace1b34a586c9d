//go:build !(linux && amd64)

package codebuffer

import (
	"unsafe"

	"psxrec/pkg/errors"
)

const NativeCallSupported = false

// CallBlock is unavailable off linux/amd64.
func CallBlock(entry uintptr, state unsafe.Pointer) uint64 {
	errors.Assertf(false, "codebuffer: native block calls are not supported on this platform")
	return 0
}
