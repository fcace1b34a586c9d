package cpu

import "unsafe"

// FieldID identifies a Core field that generated code may access.
type FieldID uint8

const (
	FieldPC FieldID = iota
	FieldNPC
	FieldHI
	FieldLO
	FieldPendingTicks
	FieldDowncount
	FieldCurrentInstruction
	FieldCurrentInstructionPC
	FieldCurrentInstructionInBranchDelaySlot
	FieldCurrentInstructionWasBranchTaken
	FieldNextInstructionIsBranchDelaySlot
	FieldBranchWasTaken
	FieldExceptionRaised
	FieldLoadDelayReg
	FieldLoadDelayValue
	FieldLoadDelayOldValue
	FieldNextLoadDelayReg
	FieldNextLoadDelayValue
	FieldNextLoadDelayOldValue
	FieldCop0SR
	FieldCop0Cause
	FieldCop0EPC

	fieldCount
)

// Field describes where a Core field lives. Size is in bytes.
type Field struct {
	Name   string
	Offset uint32
	Size   uint8
}

// Fields is the descriptor table for every FieldID, computed from the
// Core definition.
var Fields [fieldCount]Field

// registersOffset is the offset of Regs.R[0] within Core.
var registersOffset uint32

func init() {
	var c Core
	regs := uint32(unsafe.Offsetof(c.Regs))
	cop0 := uint32(unsafe.Offsetof(c.Cop0))
	registersOffset = regs + uint32(unsafe.Offsetof(c.Regs.R))

	set := func(id FieldID, name string, offset uintptr, size uintptr) {
		Fields[id] = Field{Name: name, Offset: uint32(offset), Size: uint8(size)}
	}
	set(FieldPC, "pc", uintptr(regs)+unsafe.Offsetof(c.Regs.PC), unsafe.Sizeof(c.Regs.PC))
	set(FieldNPC, "npc", uintptr(regs)+unsafe.Offsetof(c.Regs.NPC), unsafe.Sizeof(c.Regs.NPC))
	set(FieldHI, "hi", uintptr(regs)+unsafe.Offsetof(c.Regs.HI), unsafe.Sizeof(c.Regs.HI))
	set(FieldLO, "lo", uintptr(regs)+unsafe.Offsetof(c.Regs.LO), unsafe.Sizeof(c.Regs.LO))
	set(FieldPendingTicks, "pending_ticks", unsafe.Offsetof(c.PendingTicks), unsafe.Sizeof(c.PendingTicks))
	set(FieldDowncount, "downcount", unsafe.Offsetof(c.Downcount), unsafe.Sizeof(c.Downcount))
	set(FieldCurrentInstruction, "current_instruction", unsafe.Offsetof(c.CurrentInstruction), unsafe.Sizeof(c.CurrentInstruction))
	set(FieldCurrentInstructionPC, "current_instruction_pc", unsafe.Offsetof(c.CurrentInstructionPC), unsafe.Sizeof(c.CurrentInstructionPC))
	set(FieldCurrentInstructionInBranchDelaySlot, "current_instruction_in_branch_delay_slot",
		unsafe.Offsetof(c.CurrentInstructionInBranchDelaySlot), unsafe.Sizeof(c.CurrentInstructionInBranchDelaySlot))
	set(FieldCurrentInstructionWasBranchTaken, "current_instruction_was_branch_taken",
		unsafe.Offsetof(c.CurrentInstructionWasBranchTaken), unsafe.Sizeof(c.CurrentInstructionWasBranchTaken))
	set(FieldNextInstructionIsBranchDelaySlot, "next_instruction_is_branch_delay_slot",
		unsafe.Offsetof(c.NextInstructionIsBranchDelaySlot), unsafe.Sizeof(c.NextInstructionIsBranchDelaySlot))
	set(FieldBranchWasTaken, "branch_was_taken", unsafe.Offsetof(c.BranchWasTaken), unsafe.Sizeof(c.BranchWasTaken))
	set(FieldExceptionRaised, "exception_raised", unsafe.Offsetof(c.ExceptionRaised), unsafe.Sizeof(c.ExceptionRaised))
	set(FieldLoadDelayReg, "load_delay_reg", unsafe.Offsetof(c.LoadDelayReg), unsafe.Sizeof(c.LoadDelayReg))
	set(FieldLoadDelayValue, "load_delay_value", unsafe.Offsetof(c.LoadDelayValue), unsafe.Sizeof(c.LoadDelayValue))
	set(FieldLoadDelayOldValue, "load_delay_old_value", unsafe.Offsetof(c.LoadDelayOldValue), unsafe.Sizeof(c.LoadDelayOldValue))
	set(FieldNextLoadDelayReg, "next_load_delay_reg", unsafe.Offsetof(c.NextLoadDelayReg), unsafe.Sizeof(c.NextLoadDelayReg))
	set(FieldNextLoadDelayValue, "next_load_delay_value", unsafe.Offsetof(c.NextLoadDelayValue), unsafe.Sizeof(c.NextLoadDelayValue))
	set(FieldNextLoadDelayOldValue, "next_load_delay_old_value", unsafe.Offsetof(c.NextLoadDelayOldValue), unsafe.Sizeof(c.NextLoadDelayOldValue))
	set(FieldCop0SR, "cop0_sr", uintptr(cop0)+unsafe.Offsetof(c.Cop0.SR), unsafe.Sizeof(c.Cop0.SR))
	set(FieldCop0Cause, "cop0_cause", uintptr(cop0)+unsafe.Offsetof(c.Cop0.Cause), unsafe.Sizeof(c.Cop0.Cause))
	set(FieldCop0EPC, "cop0_epc", uintptr(cop0)+unsafe.Offsetof(c.Cop0.EPC), unsafe.Sizeof(c.Cop0.EPC))
}

func (f FieldID) Offset() uint32 { return Fields[f].Offset }

func (f FieldID) Size() uint8 { return Fields[f].Size }

func (f FieldID) String() string { return Fields[f].Name }

// RegisterOffset returns the offset of a general purpose register within Core.
func RegisterOffset(r Reg) uint32 {
	return registersOffset + uint32(r)*4
}

// RegistersOffset returns the offset of R[0], for indexed access by register number.
func RegistersOffset() uint32 { return registersOffset }

// StateSize is the number of bytes of Core that generated code may touch.
func StateSize() uintptr {
	var c Core
	return unsafe.Offsetof(c.bus)
}

// StateBytes views the generated-code-visible part of c as a byte slice.
func StateBytes(c *Core) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(c)), StateSize())
}
