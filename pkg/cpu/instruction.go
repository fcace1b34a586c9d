package cpu

// Instruction is a raw 32-bit guest instruction word with field accessors.
type Instruction uint32

type InstructionOp uint8

const (
	OpFunct   InstructionOp = 0x00
	OpB       InstructionOp = 0x01 // bltz, bgez, bltzal, bgezal
	OpJ       InstructionOp = 0x02
	OpJAL     InstructionOp = 0x03
	OpBEQ     InstructionOp = 0x04
	OpBNE     InstructionOp = 0x05
	OpBLEZ    InstructionOp = 0x06
	OpBGTZ    InstructionOp = 0x07
	OpADDI    InstructionOp = 0x08
	OpADDIU   InstructionOp = 0x09
	OpSLTI    InstructionOp = 0x0A
	OpSLTIU   InstructionOp = 0x0B
	OpANDI    InstructionOp = 0x0C
	OpORI     InstructionOp = 0x0D
	OpXORI    InstructionOp = 0x0E
	OpLUI     InstructionOp = 0x0F
	OpCOP0    InstructionOp = 0x10
	OpCOP1    InstructionOp = 0x11
	OpCOP2    InstructionOp = 0x12
	OpCOP3    InstructionOp = 0x13
	OpLB      InstructionOp = 0x20
	OpLH      InstructionOp = 0x21
	OpLWL     InstructionOp = 0x22
	OpLW      InstructionOp = 0x23
	OpLBU     InstructionOp = 0x24
	OpLHU     InstructionOp = 0x25
	OpLWR     InstructionOp = 0x26
	OpSB      InstructionOp = 0x28
	OpSH      InstructionOp = 0x29
	OpSWL     InstructionOp = 0x2A
	OpSW      InstructionOp = 0x2B
	OpSWR     InstructionOp = 0x2E
	OpLWC2    InstructionOp = 0x32
	OpSWC2    InstructionOp = 0x3A
	opInvalid InstructionOp = 0x3F
)

type InstructionFunct uint8

const (
	FunctSLL     InstructionFunct = 0x00
	FunctSRL     InstructionFunct = 0x02
	FunctSRA     InstructionFunct = 0x03
	FunctSLLV    InstructionFunct = 0x04
	FunctSRLV    InstructionFunct = 0x06
	FunctSRAV    InstructionFunct = 0x07
	FunctJR      InstructionFunct = 0x08
	FunctJALR    InstructionFunct = 0x09
	FunctSYSCALL InstructionFunct = 0x0C
	FunctBREAK   InstructionFunct = 0x0D
	FunctMFHI    InstructionFunct = 0x10
	FunctMTHI    InstructionFunct = 0x11
	FunctMFLO    InstructionFunct = 0x12
	FunctMTLO    InstructionFunct = 0x13
	FunctMULT    InstructionFunct = 0x18
	FunctMULTU   InstructionFunct = 0x19
	FunctDIV     InstructionFunct = 0x1A
	FunctDIVU    InstructionFunct = 0x1B
	FunctADD     InstructionFunct = 0x20
	FunctADDU    InstructionFunct = 0x21
	FunctSUB     InstructionFunct = 0x22
	FunctSUBU    InstructionFunct = 0x23
	FunctAND     InstructionFunct = 0x24
	FunctOR      InstructionFunct = 0x25
	FunctXOR     InstructionFunct = 0x26
	FunctNOR     InstructionFunct = 0x27
	FunctSLT     InstructionFunct = 0x2A
	FunctSLTU    InstructionFunct = 0x2B
)

// Coprocessor sub-operations, taken from the rs field.
const (
	CopMFC  = 0x00
	CopCFC  = 0x02
	CopMTC  = 0x04
	CopCTC  = 0x06
	CopCO   = 0x10 // rs bit 4 set: coprocessor command
	cop0RFE = 0x10 // funct of the cop0 command that restores the SR mode stack
)

func (i Instruction) Op() InstructionOp       { return InstructionOp(i >> 26) }
func (i Instruction) Rs() Reg                 { return Reg((i >> 21) & 0x1F) }
func (i Instruction) Rt() Reg                 { return Reg((i >> 16) & 0x1F) }
func (i Instruction) Rd() Reg                 { return Reg((i >> 11) & 0x1F) }
func (i Instruction) Shamt() uint32           { return uint32(i>>6) & 0x1F }
func (i Instruction) Funct() InstructionFunct { return InstructionFunct(i & 0x3F) }
func (i Instruction) Target() uint32          { return uint32(i) & 0x03FFFFFF }
func (i Instruction) CopN() uint8             { return uint8(i>>26) & 0x3 }

// ImmZeroExt is the 16-bit immediate zero-extended to 32 bits.
func (i Instruction) ImmZeroExt() uint32 { return uint32(i) & 0xFFFF }

// ImmSignExt is the 16-bit immediate sign-extended to 32 bits.
func (i Instruction) ImmSignExt() uint32 { return uint32(int32(int16(uint16(i)))) }

// RegimmLink reports whether a bltz/bgez family instruction links (bltzal/bgezal).
func (i Instruction) RegimmLink() bool { return (i>>16)&0x1E == 0x10 }

// RegimmGreaterEqual reports bgez/bgezal as opposed to bltz/bltzal.
func (i Instruction) RegimmGreaterEqual() bool { return (i>>16)&1 == 1 }

// BranchTarget returns the destination of a relative branch at pc.
func (i Instruction) BranchTarget(pc uint32) uint32 {
	return pc + InstructionSize + (i.ImmSignExt() << 2)
}

// JumpTarget returns the destination of a j/jal at pc.
func (i Instruction) JumpTarget(pc uint32) uint32 {
	return ((pc + InstructionSize) & 0xF0000000) | (i.Target() << 2)
}

// IsBranchInstruction reports whether the instruction has a branch delay slot.
func IsBranchInstruction(inst Instruction) bool {
	switch inst.Op() {
	case OpJ, OpJAL, OpB, OpBEQ, OpBNE, OpBLEZ, OpBGTZ:
		return true
	case OpFunct:
		f := inst.Funct()
		return f == FunctJR || f == FunctJALR
	}
	return false
}

// IsLoadInstruction reports whether the instruction writes a register through the load delay.
func IsLoadInstruction(inst Instruction) bool {
	switch inst.Op() {
	case OpLB, OpLH, OpLW, OpLBU, OpLHU, OpLWL, OpLWR:
		return true
	case OpCOP0:
		rs := uint8(inst.Rs())
		return rs == CopMFC
	}
	return false
}

func IsStoreInstruction(inst Instruction) bool {
	switch inst.Op() {
	case OpSB, OpSH, OpSW, OpSWL, OpSWR:
		return true
	}
	return false
}

// IsExitBlockInstruction reports instructions that always leave the block through an exception.
func IsExitBlockInstruction(inst Instruction) bool {
	if inst.Op() != OpFunct {
		return false
	}
	f := inst.Funct()
	return f == FunctSYSCALL || f == FunctBREAK
}

// CanInstructionTrap reports whether executing the instruction may raise an exception.
func CanInstructionTrap(inst Instruction) bool {
	switch inst.Op() {
	case OpFunct:
		switch inst.Funct() {
		case FunctSYSCALL, FunctBREAK, FunctADD, FunctSUB:
			return true
		case FunctSLL, FunctSRL, FunctSRA, FunctSLLV, FunctSRLV, FunctSRAV, FunctJR, FunctJALR,
			FunctMFHI, FunctMTHI, FunctMFLO, FunctMTLO, FunctMULT, FunctMULTU, FunctDIV, FunctDIVU,
			FunctADDU, FunctSUBU, FunctAND, FunctOR, FunctXOR, FunctNOR, FunctSLT, FunctSLTU:
			return false
		}
		return true
	case OpADDI:
		return true
	case OpJ, OpJAL, OpB, OpBEQ, OpBNE, OpBLEZ, OpBGTZ, OpADDIU, OpSLTI, OpSLTIU, OpANDI, OpORI, OpXORI, OpLUI:
		return false
	case OpCOP0:
		return false
	}
	// loads, stores, other coprocessors and reserved encodings
	return true
}
