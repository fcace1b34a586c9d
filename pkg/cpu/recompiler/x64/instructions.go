package x64

import "psxrec/pkg/errors"

// MovRR: mov dst, src
func (a *Assembler) MovRR(size Size, dst, src Reg) {
	checkSize(size)
	if size == Size8 {
		a.opRR(size, true, src, dst, 0x88)
		return
	}
	a.opRR(size, false, src, dst, 0x89)
}

// MovRI: mov dst, imm. 64-bit loads pick the shortest of the sign-extended
// imm32, zero-extended imm32 and full imm64 forms.
func (a *Assembler) MovRI(size Size, dst Reg, imm uint64) {
	checkSize(size)
	switch size {
	case Size8:
		errors.Assertf(fitsWidth(int64(imm), Size8),
			"x64: mov %s, 0x%x: immediate does not fit", dst.Name(size), imm)
		a.prefixes(size, isUniformByteReg(dst), 0, 0, dst)
		a.emit(0xB0 | byte(dst&7))
		a.emit(byte(imm))
	case Size16:
		errors.Assertf(fitsWidth(int64(imm), Size16),
			"x64: mov %s, 0x%x: immediate does not fit", dst.Name(size), imm)
		a.prefixes(size, false, 0, 0, dst)
		a.emit(0xB8 | byte(dst&7))
		a.emitUint16(uint16(imm))
	case Size32:
		errors.Assertf(imm <= 0xFFFFFFFF || fitsInt32(int64(imm)),
			"x64: mov %s, 0x%x: immediate does not fit", dst.Name(size), imm)
		a.prefixes(size, false, 0, 0, dst)
		a.emit(0xB8 | byte(dst&7))
		a.emitUint32(uint32(imm))
	case Size64:
		switch {
		case imm <= 0xFFFFFFFF:
			a.prefixes(Size32, false, 0, 0, dst)
			a.emit(0xB8 | byte(dst&7))
			a.emitUint32(uint32(imm))
		case fitsInt32(int64(imm)):
			a.prefixes(Size64, false, 0, 0, dst)
			a.emit(0xC7, modRM(0xC0, 0, dst))
			a.emitUint32(uint32(imm))
		default:
			a.prefixes(Size64, false, 0, 0, dst)
			a.emit(0xB8 | byte(dst&7))
			a.emitUint64(imm)
		}
	}
}

// MovRM: mov dst, [m]
func (a *Assembler) MovRM(size Size, dst Reg, m Mem) {
	checkSize(size)
	if size == Size8 {
		a.opRM(size, true, dst, m, 0x8A)
		return
	}
	a.opRM(size, false, dst, m, 0x8B)
}

// MovMR: mov [m], src
func (a *Assembler) MovMR(size Size, m Mem, src Reg) {
	checkSize(size)
	if size == Size8 {
		a.opRM(size, true, src, m, 0x88)
		return
	}
	a.opRM(size, false, src, m, 0x89)
}

// MovMI: mov [m], imm. The 64-bit form sign-extends a 32-bit immediate.
func (a *Assembler) MovMI(size Size, m Mem, imm int64) {
	checkSize(size)
	a.immForm(size, m, imm, "mov")
	if size == Size8 {
		a.opRM(size, false, 0, m, 0xC6)
	} else {
		a.opRM(size, false, 0, m, 0xC7)
	}
	a.emitImm(min(size.Bytes(), 4), imm)
}

func (a *Assembler) immForm(size Size, m Mem, imm int64, mnemonic string) {
	if size == Size64 {
		errors.Assertf(fitsInt32(imm), "x64: %s qword [%s%+d], 0x%x: immediate does not fit", mnemonic, m.Base, m.Disp, imm)
		return
	}
	errors.Assertf(fitsWidth(imm, size), "x64: %s [%s%+d], 0x%x: immediate does not fit %d bits", mnemonic, m.Base, m.Disp, imm, size)
}

// Movzx: zero-extend src (8 or 16 bits) into dst.
func (a *Assembler) Movzx(dstSize Size, dst Reg, srcSize Size, src Reg) {
	errors.Assertf(srcSize < dstSize && (srcSize == Size8 || srcSize == Size16) && dstSize >= Size16,
		"x64: movzx %d <- %d is not encodable", dstSize, srcSize)
	op := byte(0xB6)
	if srcSize == Size16 {
		op = 0xB7
	}
	force := srcSize == Size8 && isUniformByteReg(src)
	a.prefixes(dstSize, force, dst, 0, src)
	a.emit(0x0F, op, modRM(0xC0, dst, src))
}

// MovzxRM: zero-extending load of an 8 or 16 bit memory operand.
func (a *Assembler) MovzxRM(dstSize Size, dst Reg, srcSize Size, m Mem) {
	errors.Assertf(srcSize < dstSize && (srcSize == Size8 || srcSize == Size16) && dstSize >= Size16,
		"x64: movzx %d <- mem%d is not encodable", dstSize, srcSize)
	op := byte(0xB6)
	if srcSize == Size16 {
		op = 0xB7
	}
	a.opRM(dstSize, false, dst, m, 0x0F, op)
}

// Movsx: sign-extend src into dst. 32 to 64 bits uses movsxd.
func (a *Assembler) Movsx(dstSize Size, dst Reg, srcSize Size, src Reg) {
	errors.Assertf(srcSize < dstSize && srcSize.Valid() && dstSize >= Size16,
		"x64: movsx %d <- %d is not encodable", dstSize, srcSize)
	switch srcSize {
	case Size8:
		a.prefixes(dstSize, isUniformByteReg(src), dst, 0, src)
		a.emit(0x0F, 0xBE, modRM(0xC0, dst, src))
	case Size16:
		a.prefixes(dstSize, false, dst, 0, src)
		a.emit(0x0F, 0xBF, modRM(0xC0, dst, src))
	case Size32:
		a.prefixes(Size64, false, dst, 0, src)
		a.emit(0x63, modRM(0xC0, dst, src))
	}
}

// MovsxRM: sign-extending load of a memory operand.
func (a *Assembler) MovsxRM(dstSize Size, dst Reg, srcSize Size, m Mem) {
	errors.Assertf(srcSize < dstSize && srcSize.Valid() && dstSize >= Size16,
		"x64: movsx %d <- mem%d is not encodable", dstSize, srcSize)
	switch srcSize {
	case Size8:
		a.opRM(dstSize, false, dst, m, 0x0F, 0xBE)
	case Size16:
		a.opRM(dstSize, false, dst, m, 0x0F, 0xBF)
	case Size32:
		a.opRM(Size64, false, dst, m, 0x63)
	}
}

// AluRR: op dst, src
func (a *Assembler) AluRR(op AluOp, size Size, dst, src Reg) {
	checkSize(size)
	base := byte(op) << 3
	if size == Size8 {
		a.opRR(size, true, src, dst, base)
		return
	}
	a.opRR(size, false, src, dst, base|1)
}

// AluRI: op dst, imm. Uses the sign-extended imm8 form when the value allows.
func (a *Assembler) AluRI(op AluOp, size Size, dst Reg, imm int64) {
	checkSize(size)
	a.aluImm(op, size, imm, func(opcode byte) {
		a.opDigit(size, Reg(op), dst, opcode)
	})
}

// AluRM: op dst, [m]
func (a *Assembler) AluRM(op AluOp, size Size, dst Reg, m Mem) {
	checkSize(size)
	base := byte(op)<<3 | 2
	if size == Size8 {
		a.opRM(size, true, dst, m, base)
		return
	}
	a.opRM(size, false, dst, m, base|1)
}

// AluMR: op [m], src
func (a *Assembler) AluMR(op AluOp, size Size, m Mem, src Reg) {
	checkSize(size)
	base := byte(op) << 3
	if size == Size8 {
		a.opRM(size, true, src, m, base)
		return
	}
	a.opRM(size, false, src, m, base|1)
}

// AluMI: op [m], imm
func (a *Assembler) AluMI(op AluOp, size Size, m Mem, imm int64) {
	checkSize(size)
	a.aluImm(op, size, imm, func(opcode byte) {
		a.opRM(size, false, Reg(op), m, opcode)
	})
}

// aluImm picks the immediate form for the group-1 opcodes and emits it
// after the ModRM produced by encode.
func (a *Assembler) aluImm(op AluOp, size Size, imm int64, encode func(opcode byte)) {
	switch {
	case size == Size8:
		errors.Assertf(fitsWidth(imm, Size8), "x64: %s r/m8, 0x%x: immediate does not fit", op, imm)
		encode(0x80)
		a.emit(byte(imm))
	case fitsInt8(imm):
		encode(0x83)
		a.emit(byte(imm))
	case size == Size16:
		errors.Assertf(fitsWidth(imm, Size16), "x64: %s r/m16, 0x%x: immediate does not fit", op, imm)
		encode(0x81)
		a.emitUint16(uint16(imm))
	case size == Size32:
		errors.Assertf(fitsWidth(imm, Size32), "x64: %s r/m32, 0x%x: immediate does not fit", op, imm)
		encode(0x81)
		a.emitUint32(uint32(imm))
	default:
		errors.Assertf(fitsInt32(imm), "x64: %s r/m64, 0x%x: immediate is not a sign-extended imm32", op, imm)
		encode(0x81)
		a.emitUint32(uint32(imm))
	}
}

// TestRR: test a, b
func (a *Assembler) TestRR(size Size, r1, r2 Reg) {
	checkSize(size)
	if size == Size8 {
		a.opRR(size, true, r2, r1, 0x84)
		return
	}
	a.opRR(size, false, r2, r1, 0x85)
}

// TestRI: test r, imm
func (a *Assembler) TestRI(size Size, r Reg, imm int64) {
	checkSize(size)
	if size == Size64 {
		errors.Assertf(fitsInt32(imm), "x64: test %s, 0x%x: immediate is not a sign-extended imm32", r.Name(size), imm)
	} else {
		errors.Assertf(fitsWidth(imm, size), "x64: test %s, 0x%x: immediate does not fit", r.Name(size), imm)
	}
	if size == Size8 {
		a.opDigit(size, 0, r, 0xF6)
	} else {
		a.opDigit(size, 0, r, 0xF7)
	}
	a.emitImm(min(size.Bytes(), 4), imm)
}

// TestMI: test [m], imm
func (a *Assembler) TestMI(size Size, m Mem, imm int64) {
	checkSize(size)
	a.immForm(size, m, imm, "test")
	if size == Size8 {
		a.opRM(size, false, 0, m, 0xF6)
	} else {
		a.opRM(size, false, 0, m, 0xF7)
	}
	a.emitImm(min(size.Bytes(), 4), imm)
}

// ShiftRI: shift r by an immediate count below the operand width.
func (a *Assembler) ShiftRI(op ShiftOp, size Size, r Reg, count uint8) {
	checkSize(size)
	errors.Assertf(int(count) < int(size), "x64: shift count %d out of range for %d bits", count, size)
	if size == Size8 {
		a.opDigit(size, Reg(op), r, 0xC0)
	} else {
		a.opDigit(size, Reg(op), r, 0xC1)
	}
	a.emit(count)
}

// ShiftRCL: shift r by cl.
func (a *Assembler) ShiftRCL(op ShiftOp, size Size, r Reg) {
	checkSize(size)
	if size == Size8 {
		a.opDigit(size, Reg(op), r, 0xD2)
	} else {
		a.opDigit(size, Reg(op), r, 0xD3)
	}
}

// opDigit emits an opcode whose ModRM.reg field is an opcode extension.
func (a *Assembler) opDigit(size Size, digit, rm Reg, opcode ...byte) {
	a.prefixes(size, size == Size8 && isUniformByteReg(rm), 0, 0, rm)
	a.emit(opcode...)
	a.emit(modRM(0xC0, digit, rm))
}

func (a *Assembler) unary(digit Reg, size Size, r Reg, op8, op byte) {
	checkSize(size)
	if size == Size8 {
		a.opDigit(size, digit, r, op8)
	} else {
		a.opDigit(size, digit, r, op)
	}
}

func (a *Assembler) Not(size Size, r Reg) { a.unary(2, size, r, 0xF6, 0xF7) }
func (a *Assembler) Neg(size Size, r Reg) { a.unary(3, size, r, 0xF6, 0xF7) }
func (a *Assembler) Inc(size Size, r Reg) { a.unary(0, size, r, 0xFE, 0xFF) }
func (a *Assembler) Dec(size Size, r Reg) { a.unary(1, size, r, 0xFE, 0xFF) }

// Imul: imul dst, src (truncating multiply)
func (a *Assembler) Imul(size Size, dst, src Reg) {
	checkSize(size)
	errors.Assertf(size != Size8, "x64: two-operand imul has no 8-bit form")
	a.opRR(size, false, dst, src, 0x0F, 0xAF)
}

// ImulRI: imul dst, src, imm
func (a *Assembler) ImulRI(size Size, dst, src Reg, imm int64) {
	checkSize(size)
	errors.Assertf(size != Size8, "x64: three-operand imul has no 8-bit form")
	if fitsInt8(imm) {
		a.opRR(size, false, dst, src, 0x6B)
		a.emit(byte(imm))
		return
	}
	if size == Size16 {
		errors.Assertf(fitsInt16(imm), "x64: imul imm16 0x%x does not fit", imm)
		a.opRR(size, false, dst, src, 0x69)
		a.emitUint16(uint16(imm))
		return
	}
	errors.Assertf(fitsInt32(imm) || size == Size32 && fitsWidth(imm, Size32), "x64: imul imm32 0x%x does not fit", imm)
	a.opRR(size, false, dst, src, 0x69)
	a.emitUint32(uint32(imm))
}

// Push: push r (64-bit)
func (a *Assembler) Push(r Reg) {
	if r >= 8 {
		a.emit(0x41)
	}
	a.emit(0x50 | byte(r&7))
}

// Pop: pop r (64-bit)
func (a *Assembler) Pop(r Reg) {
	if r >= 8 {
		a.emit(0x41)
	}
	a.emit(0x58 | byte(r&7))
}

// CallR: call r
func (a *Assembler) CallR(r Reg) {
	a.prefixes(Size32, false, 0, 0, r)
	a.emit(0xFF, modRM(0xC0, 2, r))
}

// JmpR: jmp r
func (a *Assembler) JmpR(r Reg) {
	a.prefixes(Size32, false, 0, 0, r)
	a.emit(0xFF, modRM(0xC0, 4, r))
}

// Jcc: jcc rel32 to l
func (a *Assembler) Jcc(cond Cond, l Label) {
	a.emit(0x0F, 0x80|byte(cond))
	a.emitRel32(l)
}

// Jmp: jmp rel32 to l
func (a *Assembler) Jmp(l Label) {
	a.emit(0xE9)
	a.emitRel32(l)
}

// Setcc: setcc r8
func (a *Assembler) Setcc(cond Cond, r Reg) {
	a.prefixes(Size8, isUniformByteReg(r), 0, 0, r)
	a.emit(0x0F, 0x90|byte(cond), modRM(0xC0, 0, r))
}

func (a *Assembler) Ret()  { a.emit(0xC3) }
func (a *Assembler) Int3() { a.emit(0xCC) }
func (a *Assembler) Nop()  { a.emit(0x90) }
