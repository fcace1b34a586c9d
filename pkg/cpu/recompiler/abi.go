package recompiler

import (
	"psxrec/pkg/cpu/recompiler/x64"
)

// HostReg is a physical host register.
type HostReg = x64.Reg

// RegSize is an operand width in bits.
type RegSize = x64.Size

const (
	RegSize8  = x64.Size8
	RegSize16 = x64.Size16
	RegSize32 = x64.Size32
	RegSize64 = x64.Size64
)

// NoHostReg means "no preference" or "not allocated".
const NoHostReg HostReg = x64.NumRegs

// CPUPointer holds the guest state record for the whole block.
const CPUPointer = x64.RBP

// ABI describes a native calling convention as data. Code generation
// reads these tables and never tests which convention is active.
type ABI struct {
	Name           string
	ArgRegs        []HostReg
	ReturnReg      HostReg
	CalleeSaved    []HostReg
	CallerSaved    []HostReg
	StackAlignment int
	ShadowSpace    int

	// AllocationOrder lists the registers the register cache hands out,
	// most preferred first. Callee-saved registers lead so cached guest
	// values survive helper calls without being pushed. RBP holds the CPU
	// pointer and RAX is the call temporary; neither is listed.
	AllocationOrder []HostReg
}

// ABISysV is the System V AMD64 convention (Linux, macOS, BSD).
var ABISysV = &ABI{
	Name:           "sysv",
	ArgRegs:        []HostReg{x64.RDI, x64.RSI, x64.RDX, x64.RCX, x64.R8, x64.R9},
	ReturnReg:      x64.RAX,
	CalleeSaved:    []HostReg{x64.RBX, x64.RBP, x64.R12, x64.R13, x64.R14, x64.R15},
	CallerSaved:    []HostReg{x64.RAX, x64.RCX, x64.RDX, x64.RSI, x64.RDI, x64.R8, x64.R9, x64.R10, x64.R11},
	StackAlignment: 16,
	ShadowSpace:    0,
	AllocationOrder: []HostReg{
		x64.RBX, x64.R12, x64.R13, x64.R14, x64.R15,
		x64.RCX, x64.RDX, x64.RSI, x64.RDI, x64.R8, x64.R9, x64.R10, x64.R11,
	},
}

// ABIWin64 is the Microsoft x64 convention.
var ABIWin64 = &ABI{
	Name:           "win64",
	ArgRegs:        []HostReg{x64.RCX, x64.RDX, x64.R8, x64.R9},
	ReturnReg:      x64.RAX,
	CalleeSaved:    []HostReg{x64.RBX, x64.RBP, x64.RDI, x64.RSI, x64.R12, x64.R13, x64.R14, x64.R15},
	CallerSaved:    []HostReg{x64.RAX, x64.RCX, x64.RDX, x64.R8, x64.R9, x64.R10, x64.R11},
	StackAlignment: 16,
	ShadowSpace:    32,
	AllocationOrder: []HostReg{
		x64.RBX, x64.RDI, x64.RSI, x64.R12, x64.R13, x64.R14, x64.R15,
		x64.R10, x64.R11, x64.R8, x64.R9, x64.RDX, x64.RCX,
	},
}

// IsCalleeSaved reports whether r survives calls under this convention.
func (a *ABI) IsCalleeSaved(r HostReg) bool {
	return containsReg(a.CalleeSaved, r)
}

// IsCallerSaved reports whether calls may clobber r.
func (a *ABI) IsCallerSaved(r HostReg) bool {
	return containsReg(a.CallerSaved, r)
}

// ArgReg returns the register carrying argument i, or NoHostReg when the
// argument goes on the stack.
func (a *ABI) ArgReg(i int) HostReg {
	if i < len(a.ArgRegs) {
		return a.ArgRegs[i]
	}
	return NoHostReg
}

// FrameSize is the stack used by a block frame above the caller's aligned
// stack pointer: the return address plus every pushed callee-saved register.
func (a *ABI) FrameSize() int {
	return 8 + 8*len(a.CalleeSaved)
}

func containsReg(regs []HostReg, r HostReg) bool {
	for _, x := range regs {
		if x == r {
			return true
		}
	}
	return false
}

func alignUp(v, alignment int) int {
	return (v + alignment - 1) &^ (alignment - 1)
}
