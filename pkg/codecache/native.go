package codecache

import (
	"runtime"
	"unsafe"

	"psxrec/pkg/codebuffer"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

// Values the native exit stubs return to CallBlock.
const (
	nativeExitDispatcher = 0
	nativeExitEventCheck = 1
)

// NativeBackend runs blocks directly from executable memory through
// codebuffer.CallBlock. Go functions cannot be called from generated
// code, so the helper table holds only the exit stubs; blocks that need
// memory access or the interpreter fallback fail to compile and are
// interpreted by the cache.
type NativeBackend struct {
	buf     *codebuffer.Buffer
	helpers recompiler.HelperTable
}

func NewNativeBackend(size, alignment int) (*NativeBackend, error) {
	if !codebuffer.NativeCallSupported {
		return nil, errors.Newf("native backend is unavailable on %s/%s", runtime.GOOS, runtime.GOARCH)
	}
	buf, err := codebuffer.New(size, alignment)
	if err != nil {
		return nil, err
	}
	b := &NativeBackend{buf: buf}
	b.helpers.DispatcherStub = b.emitStub(nativeExitDispatcher)
	b.helpers.EventCheckStub = b.emitStub(nativeExitEventCheck)
	return b, nil
}

// emitStub writes "mov eax, code; ret" at the cursor. Blocks jump here
// with the caller's registers and stack already restored, so the ret
// returns straight to CallBlock.
func (b *NativeBackend) emitStub(code uint64) uintptr {
	entry := b.buf.FreeCodePointer()
	asm := x64.NewAssembler(b.buf.FreeCode())
	asm.MovRI(x64.Size32, x64.RAX, code)
	asm.Ret()
	errors.Assertf(!asm.Overflowed(), "native stub does not fit")
	b.buf.CommitCode(asm.Offset())
	b.buf.Align(b.buf.Alignment(), codebuffer.Padding)
	return entry
}

func (b *NativeBackend) Name() string                    { return "native" }
func (b *NativeBackend) ABI() *recompiler.ABI            { return recompiler.ABISysV }
func (b *NativeBackend) Buffer() *codebuffer.Buffer      { return b.buf }
func (b *NativeBackend) Helpers() recompiler.HelperTable { return b.helpers }
func (b *NativeBackend) Close() error                    { return b.buf.Free() }

// Reset empties the buffer and rewrites the stubs, which land at the
// same addresses.
func (b *NativeBackend) Reset() {
	b.buf.Reset()
	dispatcher := b.emitStub(nativeExitDispatcher)
	event := b.emitStub(nativeExitEventCheck)
	errors.Assertf(dispatcher == b.helpers.DispatcherStub && event == b.helpers.EventCheckStub,
		"native stubs moved after reset")
}

func (b *NativeBackend) Run(core *cpu.Core, entry uintptr) (Exit, error) {
	switch ret := codebuffer.CallBlock(entry, unsafe.Pointer(core)); ret {
	case nativeExitDispatcher:
		return ExitDispatcher, nil
	case nativeExitEventCheck:
		return ExitEventCheck, nil
	default:
		return 0, errors.Newf("native block at 0x%x returned %d", entry, ret)
	}
}
