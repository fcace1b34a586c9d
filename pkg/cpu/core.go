package cpu

import (
	"fmt"
	"strings"
)

// Bus is the guest memory the core reads and writes. Accesses are
// naturally aligned; alignment faults are raised before the bus is called.
type Bus interface {
	ReadByte(address uint32) uint8
	ReadHalfWord(address uint32) uint16
	ReadWord(address uint32) uint32
	WriteByte(address uint32, value uint8)
	WriteHalfWord(address uint32, value uint16)
	WriteWord(address uint32, value uint32)
}

type Registers struct {
	R   [RegCount]uint32
	HI  uint32
	LO  uint32
	PC  uint32 // address of the next instruction to execute
	NPC uint32 // address of the instruction after PC
}

type Cop0Registers struct {
	BadVaddr uint32
	SR       uint32
	Cause    uint32
	EPC      uint32
	PRID     uint32
}

// Core is the guest CPU state record. Generated code addresses every field
// above bus through the Fields table, so the layout is part of the
// contract with the recompiler.
type Core struct {
	Regs Registers
	Cop0 Cop0Registers

	PendingTicks int32
	Downcount    int32

	CurrentInstruction    Instruction
	CurrentInstructionPC  uint32
	LoadDelayValue        uint32
	LoadDelayOldValue     uint32
	NextLoadDelayValue    uint32
	NextLoadDelayOldValue uint32
	LoadDelayReg          Reg
	NextLoadDelayReg      Reg

	CurrentInstructionInBranchDelaySlot bool
	CurrentInstructionWasBranchTaken    bool
	NextInstructionIsBranchDelaySlot    bool
	BranchWasTaken                      bool
	ExceptionRaised                     bool

	bus Bus
}

func NewCore(bus Bus) *Core {
	c := &Core{bus: bus}
	c.Reset()
	return c
}

// Reset puts the core at the reset vector with an empty pipeline.
func (c *Core) Reset() {
	bus := c.bus
	*c = Core{bus: bus}
	c.Cop0.SR = srBEV
	c.Cop0.PRID = 0x00000002
	c.LoadDelayReg = NoReg
	c.NextLoadDelayReg = NoReg
	c.SetPC(ResetVector)
}

func (c *Core) Bus() Bus { return c.bus }

// SetPC redirects execution to pc, discarding the prefetched instruction.
func (c *Core) SetPC(pc uint32) {
	c.Regs.PC = pc
	c.Regs.NPC = pc + InstructionSize
}

// Clone copies the state record. The clone shares the bus unless one is given.
func (c *Core) Clone(bus Bus) *Core {
	n := *c
	if bus != nil {
		n.bus = bus
	}
	return &n
}

// Snapshot is the architecturally visible part of Core. Two execution
// engines agree when their snapshots are equal; trace fields describing the
// instruction in flight and transient next-load state are left out.
type Snapshot struct {
	Regs              Registers
	Cop0              Cop0Registers
	PendingTicks      int32
	Downcount         int32
	LoadDelayReg      Reg
	LoadDelayValue    uint32
	LoadDelayOldValue uint32

	NextInstructionIsBranchDelaySlot bool
	BranchWasTaken                   bool
}

func (c *Core) Snapshot() Snapshot {
	return Snapshot{
		Regs:                             c.Regs,
		Cop0:                             c.Cop0,
		PendingTicks:                     c.PendingTicks,
		Downcount:                        c.Downcount,
		LoadDelayReg:                     c.LoadDelayReg,
		LoadDelayValue:                   c.LoadDelayValue,
		LoadDelayOldValue:                c.LoadDelayOldValue,
		NextInstructionIsBranchDelaySlot: c.NextInstructionIsBranchDelaySlot,
		BranchWasTaken:                   c.BranchWasTaken,
	}
}

// DumpRegisters formats the general purpose registers four to a line.
func (c *Core) DumpRegisters() string {
	var sb strings.Builder
	for i := Reg(0); i < RegCount; i++ {
		fmt.Fprintf(&sb, "%-4s=%08x", i, c.Regs.R[i])
		if i%4 == 3 {
			sb.WriteByte('\n')
		} else {
			sb.WriteByte(' ')
		}
	}
	fmt.Fprintf(&sb, "hi  =%08x lo  =%08x pc  =%08x npc =%08x\n", c.Regs.HI, c.Regs.LO, c.Regs.PC, c.Regs.NPC)
	fmt.Fprintf(&sb, "sr  =%08x cause=%08x epc=%08x ticks=%d\n", c.Cop0.SR, c.Cop0.Cause, c.Cop0.EPC, c.PendingTicks)
	return sb.String()
}
