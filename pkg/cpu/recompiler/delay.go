package recompiler

import (
	"fmt"

	"psxrec/pkg/cpu"
	"psxrec/pkg/errors"
)

// PCSlot is the branch delay half of the delay-slot state.
type PCSlot uint8

const (
	PCNoDelay PCSlot = iota
	PCAwaitingBranchCommit
)

// LoadSlot is the load delay half. Reg is the pending destination, or
// cpu.NoReg when a load is pending but its destination is only known at
// run time.
type LoadSlot struct {
	Pending bool
	Reg     cpu.Reg
}

var (
	LoadNoDelay      = LoadSlot{Reg: cpu.NoReg}
	LoadAwaitUnknown = LoadSlot{Pending: true, Reg: cpu.NoReg}
)

func LoadAwaiting(r cpu.Reg) LoadSlot { return LoadSlot{Pending: true, Reg: r} }

// Known reports whether the pending destination is known at compile time.
func (s LoadSlot) Known() bool { return s.Pending && s.Reg != cpu.NoReg }

func (s LoadSlot) String() string {
	switch {
	case !s.Pending:
		return "no-delay"
	case s.Reg == cpu.NoReg:
		return "awaiting-load(?)"
	}
	return fmt.Sprintf("awaiting-load(%s)", s.Reg)
}

// DelayState is what the generated code still owes the guest after the
// instructions compiled so far.
type DelayState struct {
	PC   PCSlot
	Load LoadSlot
}

// BlockEntryDelayState is the state at the top of a block. The code cache
// steps a pending branch on the interpreter before dispatching, so no
// block starts inside a branch delay slot, but a load issued by the
// previous block may still be pending.
var BlockEntryDelayState = DelayState{PC: PCNoDelay, Load: LoadAwaitUnknown}

func (s DelayState) String() string {
	pc := "no-delay"
	if s.PC == PCAwaitingBranchCommit {
		pc = "awaiting-branch"
	}
	return pc + "/" + s.Load.String()
}

// Category is how an instruction affects the delay state.
type Category uint8

const (
	CategoryPlain Category = iota
	CategoryLoad
	CategoryBranch
	CategoryFallback
	CategoryFallbackLoad
	CategoryFallbackBranch
)

var categoryNames = [...]string{"plain", "load", "branch", "fallback", "fallback-load", "fallback-branch"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "?"
}

// IsFallback reports whether the instruction runs through the interpreter.
func (c Category) IsFallback() bool {
	return c == CategoryFallback || c == CategoryFallbackLoad || c == CategoryFallbackBranch
}

// Transition is the state after an instruction of category c. The pending
// load of s is always committed by then; loadReg is the destination of a
// CategoryLoad instruction.
func Transition(s DelayState, c Category, loadReg cpu.Reg) DelayState {
	errors.Assertf(s.PC == PCNoDelay || (c != CategoryBranch && c != CategoryFallbackBranch),
		"delay state: %s instruction in a branch delay slot", c)

	next := DelayState{PC: PCNoDelay, Load: LoadNoDelay}
	switch c {
	case CategoryLoad:
		next.Load = LoadAwaiting(loadReg)
	case CategoryFallbackLoad:
		next.Load = LoadAwaitUnknown
	case CategoryBranch, CategoryFallbackBranch:
		next.PC = PCAwaitingBranchCommit
	}
	return next
}
