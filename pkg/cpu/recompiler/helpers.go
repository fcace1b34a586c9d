package recompiler

import (
	"psxrec/pkg/errors"
)

// HelperTable holds the fixed native addresses generated code reaches.
// The addresses are baked into each block. The two stubs are required; a
// zero helper is unavailable and instructions needing it take the
// interpreter fallback instead.
type HelperTable struct {
	// DispatcherStub is entered when a block ends with time left in the
	// current slice, EventCheckStub when PendingTicks reached Downcount.
	DispatcherStub uintptr
	EventCheckStub uintptr

	// InterpretInstruction(core) bool
	InterpretInstruction uintptr

	// ReadMemory*(core, address) uint32
	ReadMemoryByte     uintptr
	ReadMemoryHalfWord uintptr
	ReadMemoryWord     uintptr

	// WriteMemory*(core, address, value)
	WriteMemoryByte     uintptr
	WriteMemoryHalfWord uintptr
	WriteMemoryWord     uintptr
}

func (h *HelperTable) Validate() error {
	if h.DispatcherStub == 0 || h.EventCheckStub == 0 {
		return errors.New("helper table: dispatcher and event check stubs are required")
	}
	return nil
}

// HasFallback reports whether instructions without a dedicated handler
// can be compiled.
func (h *HelperTable) HasFallback() bool {
	return h.InterpretInstruction != 0
}
