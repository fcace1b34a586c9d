package codecache

import (
	"psxrec/pkg/codebuffer"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler"
)

// Exit says which stub a block left through.
type Exit int

const (
	ExitDispatcher Exit = iota
	ExitEventCheck
)

func (e Exit) String() string {
	if e == ExitEventCheck {
		return "event_check"
	}
	return "dispatcher"
}

// Backend owns the code buffer blocks are compiled into and runs them.
type Backend interface {
	Name() string
	ABI() *recompiler.ABI
	Buffer() *codebuffer.Buffer
	Helpers() recompiler.HelperTable

	// Reset empties the code buffer. Helper table addresses stay valid.
	Reset()

	// Run executes the block at entry against core.
	Run(core *cpu.Core, entry uintptr) (Exit, error)

	Close() error
}
