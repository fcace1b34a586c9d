package cpu

// Instruction encoders, used to assemble guest programs in tests and tools.

func EncodeR(funct InstructionFunct, rd, rs, rt Reg, shamt uint32) Instruction {
	return Instruction(uint32(rs)<<21 | uint32(rt)<<16 | uint32(rd)<<11 | (shamt&0x1F)<<6 | uint32(funct))
}

func EncodeI(op InstructionOp, rt, rs Reg, imm uint16) Instruction {
	return Instruction(uint32(op)<<26 | uint32(rs)<<21 | uint32(rt)<<16 | uint32(imm))
}

func EncodeJ(op InstructionOp, target uint32) Instruction {
	return Instruction(uint32(op)<<26 | (target>>2)&0x03FFFFFF)
}

// branchOffset converts an absolute target into the 16-bit word offset from pc.
func branchOffset(pc, target uint32) uint16 {
	return uint16(int32(target-(pc+InstructionSize)) >> 2)
}

func Nop() Instruction                        { return 0 }
func Lui(rt Reg, imm uint16) Instruction      { return EncodeI(OpLUI, rt, 0, imm) }
func Ori(rt, rs Reg, imm uint16) Instruction  { return EncodeI(OpORI, rt, rs, imm) }
func Andi(rt, rs Reg, imm uint16) Instruction { return EncodeI(OpANDI, rt, rs, imm) }
func Xori(rt, rs Reg, imm uint16) Instruction { return EncodeI(OpXORI, rt, rs, imm) }
func Addiu(rt, rs Reg, imm int16) Instruction { return EncodeI(OpADDIU, rt, rs, uint16(imm)) }
func Addi(rt, rs Reg, imm int16) Instruction  { return EncodeI(OpADDI, rt, rs, uint16(imm)) }
func Slti(rt, rs Reg, imm int16) Instruction  { return EncodeI(OpSLTI, rt, rs, uint16(imm)) }
func Sltiu(rt, rs Reg, imm int16) Instruction { return EncodeI(OpSLTIU, rt, rs, uint16(imm)) }

func Sll(rd, rt Reg, sa uint32) Instruction { return EncodeR(FunctSLL, rd, 0, rt, sa) }
func Srl(rd, rt Reg, sa uint32) Instruction { return EncodeR(FunctSRL, rd, 0, rt, sa) }
func Sra(rd, rt Reg, sa uint32) Instruction { return EncodeR(FunctSRA, rd, 0, rt, sa) }
func Sllv(rd, rt, rs Reg) Instruction       { return EncodeR(FunctSLLV, rd, rs, rt, 0) }
func Srlv(rd, rt, rs Reg) Instruction       { return EncodeR(FunctSRLV, rd, rs, rt, 0) }
func Srav(rd, rt, rs Reg) Instruction       { return EncodeR(FunctSRAV, rd, rs, rt, 0) }
func Addu(rd, rs, rt Reg) Instruction       { return EncodeR(FunctADDU, rd, rs, rt, 0) }
func Add(rd, rs, rt Reg) Instruction        { return EncodeR(FunctADD, rd, rs, rt, 0) }
func Subu(rd, rs, rt Reg) Instruction       { return EncodeR(FunctSUBU, rd, rs, rt, 0) }
func Sub(rd, rs, rt Reg) Instruction        { return EncodeR(FunctSUB, rd, rs, rt, 0) }
func And(rd, rs, rt Reg) Instruction        { return EncodeR(FunctAND, rd, rs, rt, 0) }
func Or(rd, rs, rt Reg) Instruction         { return EncodeR(FunctOR, rd, rs, rt, 0) }
func Xor(rd, rs, rt Reg) Instruction        { return EncodeR(FunctXOR, rd, rs, rt, 0) }
func Nor(rd, rs, rt Reg) Instruction        { return EncodeR(FunctNOR, rd, rs, rt, 0) }
func Slt(rd, rs, rt Reg) Instruction        { return EncodeR(FunctSLT, rd, rs, rt, 0) }
func Sltu(rd, rs, rt Reg) Instruction       { return EncodeR(FunctSLTU, rd, rs, rt, 0) }
func Mult(rs, rt Reg) Instruction           { return EncodeR(FunctMULT, 0, rs, rt, 0) }
func Multu(rs, rt Reg) Instruction          { return EncodeR(FunctMULTU, 0, rs, rt, 0) }
func Div(rs, rt Reg) Instruction            { return EncodeR(FunctDIV, 0, rs, rt, 0) }
func Divu(rs, rt Reg) Instruction           { return EncodeR(FunctDIVU, 0, rs, rt, 0) }
func Mfhi(rd Reg) Instruction               { return EncodeR(FunctMFHI, rd, 0, 0, 0) }
func Mflo(rd Reg) Instruction               { return EncodeR(FunctMFLO, rd, 0, 0, 0) }
func Mthi(rs Reg) Instruction               { return EncodeR(FunctMTHI, 0, rs, 0, 0) }
func Mtlo(rs Reg) Instruction               { return EncodeR(FunctMTLO, 0, rs, 0, 0) }
func Jr(rs Reg) Instruction                 { return EncodeR(FunctJR, 0, rs, 0, 0) }
func Jalr(rd, rs Reg) Instruction           { return EncodeR(FunctJALR, rd, rs, 0, 0) }
func Syscall() Instruction                  { return EncodeR(FunctSYSCALL, 0, 0, 0, 0) }
func Break() Instruction                    { return EncodeR(FunctBREAK, 0, 0, 0, 0) }

func Lb(rt, base Reg, off int16) Instruction  { return EncodeI(OpLB, rt, base, uint16(off)) }
func Lbu(rt, base Reg, off int16) Instruction { return EncodeI(OpLBU, rt, base, uint16(off)) }
func Lh(rt, base Reg, off int16) Instruction  { return EncodeI(OpLH, rt, base, uint16(off)) }
func Lhu(rt, base Reg, off int16) Instruction { return EncodeI(OpLHU, rt, base, uint16(off)) }
func Lw(rt, base Reg, off int16) Instruction  { return EncodeI(OpLW, rt, base, uint16(off)) }
func Sb(rt, base Reg, off int16) Instruction  { return EncodeI(OpSB, rt, base, uint16(off)) }
func Sh(rt, base Reg, off int16) Instruction  { return EncodeI(OpSH, rt, base, uint16(off)) }
func Sw(rt, base Reg, off int16) Instruction  { return EncodeI(OpSW, rt, base, uint16(off)) }

func J(target uint32) Instruction   { return EncodeJ(OpJ, target) }
func Jal(target uint32) Instruction { return EncodeJ(OpJAL, target) }

func Beq(pc uint32, rs, rt Reg, target uint32) Instruction {
	return EncodeI(OpBEQ, rt, rs, branchOffset(pc, target))
}

func Bne(pc uint32, rs, rt Reg, target uint32) Instruction {
	return EncodeI(OpBNE, rt, rs, branchOffset(pc, target))
}

func Blez(pc uint32, rs Reg, target uint32) Instruction {
	return EncodeI(OpBLEZ, 0, rs, branchOffset(pc, target))
}

func Bgtz(pc uint32, rs Reg, target uint32) Instruction {
	return EncodeI(OpBGTZ, 0, rs, branchOffset(pc, target))
}

func Bltz(pc uint32, rs Reg, target uint32) Instruction {
	return EncodeI(OpB, 0x00, rs, branchOffset(pc, target))
}

func Bgez(pc uint32, rs Reg, target uint32) Instruction {
	return EncodeI(OpB, 0x01, rs, branchOffset(pc, target))
}

func Bltzal(pc uint32, rs Reg, target uint32) Instruction {
	return EncodeI(OpB, 0x10, rs, branchOffset(pc, target))
}

func Mfc0(rt Reg, cop0Reg uint8) Instruction {
	return Instruction(uint32(OpCOP0)<<26 | CopMFC<<21 | uint32(rt)<<16 | uint32(cop0Reg)<<11)
}

func Mtc0(rt Reg, cop0Reg uint8) Instruction {
	return Instruction(uint32(OpCOP0)<<26 | CopMTC<<21 | uint32(rt)<<16 | uint32(cop0Reg)<<11)
}

func Rfe() Instruction {
	return Instruction(uint32(OpCOP0)<<26 | CopCO<<21 | cop0RFE)
}

// Words converts instructions to raw words for loading into memory.
func Words(insts ...Instruction) []uint32 {
	out := make([]uint32, len(insts))
	for i, inst := range insts {
		out[i] = uint32(inst)
	}
	return out
}
