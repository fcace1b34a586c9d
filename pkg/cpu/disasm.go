package cpu

import "fmt"

var functNames = map[InstructionFunct]string{
	FunctSLL: "sll", FunctSRL: "srl", FunctSRA: "sra",
	FunctSLLV: "sllv", FunctSRLV: "srlv", FunctSRAV: "srav",
	FunctJR: "jr", FunctJALR: "jalr", FunctSYSCALL: "syscall", FunctBREAK: "break",
	FunctMFHI: "mfhi", FunctMTHI: "mthi", FunctMFLO: "mflo", FunctMTLO: "mtlo",
	FunctMULT: "mult", FunctMULTU: "multu", FunctDIV: "div", FunctDIVU: "divu",
	FunctADD: "add", FunctADDU: "addu", FunctSUB: "sub", FunctSUBU: "subu",
	FunctAND: "and", FunctOR: "or", FunctXOR: "xor", FunctNOR: "nor",
	FunctSLT: "slt", FunctSLTU: "sltu",
}

var opNames = map[InstructionOp]string{
	OpJ: "j", OpJAL: "jal", OpBEQ: "beq", OpBNE: "bne", OpBLEZ: "blez", OpBGTZ: "bgtz",
	OpADDI: "addi", OpADDIU: "addiu", OpSLTI: "slti", OpSLTIU: "sltiu",
	OpANDI: "andi", OpORI: "ori", OpXORI: "xori", OpLUI: "lui",
	OpLB: "lb", OpLH: "lh", OpLWL: "lwl", OpLW: "lw", OpLBU: "lbu", OpLHU: "lhu", OpLWR: "lwr",
	OpSB: "sb", OpSH: "sh", OpSWL: "swl", OpSW: "sw", OpSWR: "swr",
	OpLWC2: "lwc2", OpSWC2: "swc2",
}

// Disassemble renders inst at pc in conventional assembler syntax.
func Disassemble(pc uint32, inst Instruction) string {
	rs, rt, rd := inst.Rs(), inst.Rt(), inst.Rd()
	switch op := inst.Op(); op {
	case OpFunct:
		name, ok := functNames[inst.Funct()]
		if !ok {
			return fmt.Sprintf(".word 0x%08x", uint32(inst))
		}
		switch inst.Funct() {
		case FunctSLL, FunctSRL, FunctSRA:
			if inst == 0 {
				return "nop"
			}
			return fmt.Sprintf("%s $%s, $%s, %d", name, rd, rt, inst.Shamt())
		case FunctSLLV, FunctSRLV, FunctSRAV:
			return fmt.Sprintf("%s $%s, $%s, $%s", name, rd, rt, rs)
		case FunctJR:
			return fmt.Sprintf("%s $%s", name, rs)
		case FunctJALR:
			return fmt.Sprintf("%s $%s, $%s", name, rd, rs)
		case FunctSYSCALL, FunctBREAK:
			return name
		case FunctMFHI, FunctMFLO:
			return fmt.Sprintf("%s $%s", name, rd)
		case FunctMTHI, FunctMTLO:
			return fmt.Sprintf("%s $%s", name, rs)
		case FunctMULT, FunctMULTU, FunctDIV, FunctDIVU:
			return fmt.Sprintf("%s $%s, $%s", name, rs, rt)
		}
		return fmt.Sprintf("%s $%s, $%s, $%s", name, rd, rs, rt)

	case OpB:
		name := "bltz"
		if inst.RegimmGreaterEqual() {
			name = "bgez"
		}
		if inst.RegimmLink() {
			name += "al"
		}
		return fmt.Sprintf("%s $%s, 0x%08x", name, rs, inst.BranchTarget(pc))

	case OpJ, OpJAL:
		return fmt.Sprintf("%s 0x%08x", opNames[op], inst.JumpTarget(pc))

	case OpBEQ, OpBNE:
		return fmt.Sprintf("%s $%s, $%s, 0x%08x", opNames[op], rs, rt, inst.BranchTarget(pc))

	case OpBLEZ, OpBGTZ:
		return fmt.Sprintf("%s $%s, 0x%08x", opNames[op], rs, inst.BranchTarget(pc))

	case OpADDI, OpADDIU, OpSLTI, OpSLTIU:
		return fmt.Sprintf("%s $%s, $%s, %d", opNames[op], rt, rs, int32(inst.ImmSignExt()))

	case OpANDI, OpORI, OpXORI:
		return fmt.Sprintf("%s $%s, $%s, 0x%04x", opNames[op], rt, rs, inst.ImmZeroExt())

	case OpLUI:
		return fmt.Sprintf("lui $%s, 0x%04x", rt, inst.ImmZeroExt())

	case OpLB, OpLH, OpLWL, OpLW, OpLBU, OpLHU, OpLWR, OpSB, OpSH, OpSWL, OpSW, OpSWR:
		return fmt.Sprintf("%s $%s, %d($%s)", opNames[op], rt, int32(inst.ImmSignExt()), rs)

	case OpCOP0, OpCOP1, OpCOP2, OpCOP3:
		n := inst.CopN()
		switch sub := uint8(rs); {
		case sub == CopMFC:
			return fmt.Sprintf("mfc%d $%s, $%d", n, rt, rd)
		case sub == CopMTC:
			return fmt.Sprintf("mtc%d $%s, $%d", n, rt, rd)
		case sub == CopCFC:
			return fmt.Sprintf("cfc%d $%s, $%d", n, rt, rd)
		case sub == CopCTC:
			return fmt.Sprintf("ctc%d $%s, $%d", n, rt, rd)
		case sub&CopCO != 0 && n == 0 && inst.Funct() == cop0RFE:
			return "rfe"
		}
		return fmt.Sprintf("cop%d 0x%07x", n, uint32(inst)&0x1FFFFFF)
	}
	return fmt.Sprintf(".word 0x%08x", uint32(inst))
}
