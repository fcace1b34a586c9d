package cpu

import (
	"fmt"

	"psxrec/pkg/errors"
)

// CodeBlockInstruction is one decoded instruction of a block.
type CodeBlockInstruction struct {
	Instruction Instruction
	PC          uint32

	IsBranch          bool
	IsLoad            bool
	IsBranchDelaySlot bool
	IsLastInstruction bool
	CanTrap           bool
}

// CodeBlock is a straight-line run of guest instructions compiled as a unit.
// HostCode and HostCodeSize are filled in by the recompiler; Interpreted
// marks blocks that failed to compile and run through Step instead.
type CodeBlock struct {
	StartPC      uint32
	Instructions []CodeBlockInstruction

	HostCode     uintptr
	HostCodeSize int
	Interpreted  bool
}

// EndPC is the address just past the last instruction.
func (b *CodeBlock) EndPC() uint32 {
	return b.StartPC + uint32(len(b.Instructions))*InstructionSize
}

func (b *CodeBlock) String() string {
	return fmt.Sprintf("block 0x%08x-0x%08x (%d instructions)", b.StartPC, b.EndPC(), len(b.Instructions))
}

// Validate checks the structural rules the recompiler relies on: a branch
// is never last, and a delay slot never holds another branch.
func (b *CodeBlock) Validate() error {
	if len(b.Instructions) == 0 {
		return errors.Wrapf(errors.ErrInvalidBlock, "empty block at 0x%08x", b.StartPC)
	}
	for i, cbi := range b.Instructions {
		if cbi.IsBranch && cbi.IsBranchDelaySlot {
			return errors.Wrapf(errors.ErrInvalidBlock, "branch in delay slot at 0x%08x", cbi.PC)
		}
		if cbi.IsBranch && i == len(b.Instructions)-1 {
			return errors.Wrapf(errors.ErrInvalidBlock, "branch without delay slot at 0x%08x", cbi.PC)
		}
	}
	return nil
}

// BuildBlock decodes instructions from pc until a branch's delay slot, an
// instruction that always raises an exception, or maxInstructions. A
// branch reaching the limit still gets its delay slot.
func BuildBlock(bus Bus, pc uint32, maxInstructions int) (*CodeBlock, error) {
	if pc&3 != 0 {
		return nil, errors.Wrapf(errors.ErrInvalidBlock, "misaligned block start 0x%08x", pc)
	}
	if maxInstructions < 1 {
		maxInstructions = 1
	}

	block := &CodeBlock{StartPC: pc}
	inDelaySlot := false
	for {
		inst := Instruction(bus.ReadWord(pc))
		cbi := CodeBlockInstruction{
			Instruction:       inst,
			PC:                pc,
			IsBranch:          IsBranchInstruction(inst),
			IsLoad:            IsLoadInstruction(inst),
			IsBranchDelaySlot: inDelaySlot,
			CanTrap:           CanInstructionTrap(inst),
		}
		block.Instructions = append(block.Instructions, cbi)
		pc += InstructionSize

		if inDelaySlot || IsExitBlockInstruction(inst) {
			break
		}
		inDelaySlot = cbi.IsBranch
		if !inDelaySlot && len(block.Instructions) >= maxInstructions {
			break
		}
	}
	block.Instructions[len(block.Instructions)-1].IsLastInstruction = true
	return block, nil
}
