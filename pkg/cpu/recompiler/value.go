package recompiler

import (
	"fmt"

	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
)

type ValueKind uint8

const (
	ValueNone ValueKind = iota
	ValueConstant
	ValueHostReg
	ValueMemory
)

// Value is an operand of generated code: a constant, a host register or a
// field of the CPU state record. Values are produced per operation and
// never updated in place.
type Value struct {
	Kind     ValueKind
	Size     RegSize
	Reg      HostReg
	Constant uint64
	Offset   uint32 // from CPUPointer, for ValueMemory

	// scratch marks a register owned by the value rather than by a guest
	// register. The register cache frees it at the end of the instruction
	// unless ownership moves to a guest register.
	scratch bool
}

// ConstantValue returns a constant of the given width, truncated to it.
func ConstantValue(size RegSize, v uint64) Value {
	return Value{Kind: ValueConstant, Size: size, Constant: v & size.Mask(), Reg: NoHostReg}
}

func Constant32(v uint32) Value { return ConstantValue(RegSize32, uint64(v)) }

func HostValue(size RegSize, r HostReg) Value {
	return Value{Kind: ValueHostReg, Size: size, Reg: r}
}

func MemoryValue(size RegSize, offset uint32) Value {
	return Value{Kind: ValueMemory, Size: size, Offset: offset, Reg: NoHostReg}
}

// FieldValue addresses a CPU state field at its natural width.
func FieldValue(f cpu.FieldID) Value {
	return MemoryValue(RegSize(f.Size()*8), f.Offset())
}

func (v Value) IsConstant() bool { return v.Kind == ValueConstant }
func (v Value) IsHostReg() bool  { return v.Kind == ValueHostReg }
func (v Value) IsMemory() bool   { return v.Kind == ValueMemory }
func (v Value) IsScratch() bool  { return v.Kind == ValueHostReg && v.scratch }

// SignedConstant returns the constant sign-extended from its width.
func (v Value) SignedConstant() int64 {
	shift := 64 - uint(v.Size)
	return int64(v.Constant<<shift) >> shift
}

// Mem returns the memory operand of a ValueMemory.
func (v Value) Mem() x64.Mem {
	return x64.MemBase(CPUPointer, int32(v.Offset))
}

// WithSize reinterprets the value at another width. Constants are
// truncated; registers and memory keep their location.
func (v Value) WithSize(size RegSize) Value {
	n := v
	n.Size = size
	if v.Kind == ValueConstant {
		n.Constant &= size.Mask()
	}
	return n
}

func (v Value) String() string {
	switch v.Kind {
	case ValueConstant:
		return fmt.Sprintf("$0x%x:%d", v.Constant, v.Size)
	case ValueHostReg:
		return v.Reg.Name(v.Size)
	case ValueMemory:
		return fmt.Sprintf("[rbp+0x%x]:%d", v.Offset, v.Size)
	}
	return "none"
}
