package recompiler

import (
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

// Value operations. Two constant operands fold at compile time, modulo
// the operand width, and emit nothing. Otherwise the result is a new
// scratch register; operands are left untouched.

func fitsInt32(v int64) bool { return v >= -(1<<31) && v <= (1<<31)-1 }

func checkSameSize(op string, lhs, rhs Value) {
	errors.Assertf(lhs.Size == rhs.Size, "%s: width mismatch %s, %s", op, lhs, rhs)
	errors.Assertf(lhs.Kind != ValueNone && rhs.Kind != ValueNone, "%s: empty operand", op)
}

// EmitCopyValue loads v into dst at v's width. 32-bit copies clear the
// upper half of dst.
func (g *CodeGenerator) EmitCopyValue(dst HostReg, v Value) {
	switch v.Kind {
	case ValueConstant:
		g.asm.MovRI(v.Size, dst, v.Constant)
	case ValueMemory:
		g.asm.MovRM(v.Size, dst, v.Mem())
	case ValueHostReg:
		if v.Reg != dst {
			g.asm.MovRR(v.Size, dst, v.Reg)
		}
	default:
		errors.Assertf(false, "copy: empty value")
	}
}

// copyToScratch returns a new scratch register holding v.
func (g *CodeGenerator) copyToScratch(v Value) Value {
	res := g.rc.AllocateScratch(v.Size, NoHostReg)
	g.EmitCopyValue(res.Reg, v)
	return res
}

// toReg returns v itself when it already lives in a register.
func (g *CodeGenerator) toReg(v Value) Value {
	if v.IsHostReg() {
		return v
	}
	return g.copyToScratch(v)
}

// ConvertValueSize returns v at another width. Narrowing keeps the low
// bits; widening sign- or zero-extends. Constants fold, anything else
// lands in a new scratch register.
func (g *CodeGenerator) ConvertValueSize(v Value, size RegSize, signExtend bool) Value {
	errors.Assertf(v.Kind != ValueNone, "convert: empty value")
	if v.Size == size {
		return v
	}
	if v.IsConstant() {
		if size > v.Size && signExtend {
			return ConstantValue(size, uint64(v.SignedConstant()))
		}
		return ConstantValue(size, v.Constant)
	}
	if size < v.Size {
		return g.copyToScratch(v.WithSize(size))
	}

	res := g.rc.AllocateScratch(size, NoHostReg)
	switch {
	case v.IsMemory() && signExtend:
		g.asm.MovsxRM(size, res.Reg, v.Size, v.Mem())
	case v.IsMemory() && v.Size == RegSize32:
		g.asm.MovRM(RegSize32, res.Reg, v.Mem())
	case v.IsMemory():
		g.asm.MovzxRM(max(size, RegSize32), res.Reg, v.Size, v.Mem())
	default:
		g.emitExtend(res.Reg, size, v.Reg, v.Size, signExtend)
	}
	return res
}

// ConvertValueSizeInPlace widens or narrows the register value v without
// allocating. v must be a scratch register.
func (g *CodeGenerator) ConvertValueSizeInPlace(v Value, size RegSize, signExtend bool) Value {
	errors.Assertf(v.IsScratch(), "convert in place: %s is not a scratch register", v)
	if size > v.Size {
		g.emitExtend(v.Reg, size, v.Reg, v.Size, signExtend)
	}
	return v.WithSize(size)
}

func (g *CodeGenerator) emitExtend(dst HostReg, dstSize RegSize, src HostReg, srcSize RegSize, signExtend bool) {
	switch {
	case signExtend:
		g.asm.Movsx(dstSize, dst, srcSize, src)
	case srcSize == RegSize32:
		// 32-bit moves clear the upper half
		g.asm.MovRR(RegSize32, dst, src)
	default:
		g.asm.Movzx(max(dstSize, RegSize32), dst, srcSize, src)
	}
}

// EmitStoreValue writes v to the memory value dst.
func (g *CodeGenerator) EmitStoreValue(dst Value, v Value) {
	errors.Assertf(dst.IsMemory(), "store: destination %s is not memory", dst)
	checkSameSize("store", dst, v)
	switch v.Kind {
	case ValueConstant:
		if v.Size == RegSize64 && !fitsInt32(v.SignedConstant()) {
			t := g.copyToScratch(v)
			g.asm.MovMR(v.Size, dst.Mem(), t.Reg)
			g.rc.FreeValue(t)
			return
		}
		g.asm.MovMI(v.Size, dst.Mem(), v.SignedConstant())
	case ValueHostReg:
		g.asm.MovMR(v.Size, dst.Mem(), v.Reg)
	case ValueMemory:
		t := g.copyToScratch(v)
		g.asm.MovMR(v.Size, dst.Mem(), t.Reg)
		g.rc.FreeValue(t)
	}
}

// EmitStoreField writes v to a CPU state field of the same width.
func (g *CodeGenerator) EmitStoreField(f cpu.FieldID, v Value) {
	g.EmitStoreValue(FieldValue(f), v)
}

// emitAlu applies op to the register dst with src as the second operand.
func (g *CodeGenerator) emitAlu(op x64.AluOp, dst Value, src Value) {
	switch src.Kind {
	case ValueConstant:
		imm := src.SignedConstant()
		if !fitsInt32(imm) {
			t := g.copyToScratch(src)
			g.asm.AluRR(op, dst.Size, dst.Reg, t.Reg)
			g.rc.FreeValue(t)
			return
		}
		g.asm.AluRI(op, dst.Size, dst.Reg, imm)
	case ValueHostReg:
		g.asm.AluRR(op, dst.Size, dst.Reg, src.Reg)
	case ValueMemory:
		g.asm.AluRM(op, dst.Size, dst.Reg, src.Mem())
	}
}

func (g *CodeGenerator) aluValues(name string, op x64.AluOp, commutative bool, lhs, rhs Value, fold func(a, b uint64) uint64) Value {
	checkSameSize(name, lhs, rhs)
	if lhs.IsConstant() && rhs.IsConstant() {
		return ConstantValue(lhs.Size, fold(lhs.Constant, rhs.Constant))
	}
	if commutative && lhs.IsConstant() {
		lhs, rhs = rhs, lhs
	}
	res := g.copyToScratch(lhs)
	g.emitAlu(op, res, rhs)
	return res
}

func (g *CodeGenerator) AddValues(lhs, rhs Value) Value {
	return g.aluValues("add", x64.AluAdd, true, lhs, rhs, func(a, b uint64) uint64 { return a + b })
}

func (g *CodeGenerator) SubValues(lhs, rhs Value) Value {
	return g.aluValues("sub", x64.AluSub, false, lhs, rhs, func(a, b uint64) uint64 { return a - b })
}

func (g *CodeGenerator) AndValues(lhs, rhs Value) Value {
	return g.aluValues("and", x64.AluAnd, true, lhs, rhs, func(a, b uint64) uint64 { return a & b })
}

func (g *CodeGenerator) OrValues(lhs, rhs Value) Value {
	return g.aluValues("or", x64.AluOr, true, lhs, rhs, func(a, b uint64) uint64 { return a | b })
}

func (g *CodeGenerator) XorValues(lhs, rhs Value) Value {
	return g.aluValues("xor", x64.AluXor, true, lhs, rhs, func(a, b uint64) uint64 { return a ^ b })
}

func (g *CodeGenerator) NotValue(v Value) Value {
	if v.IsConstant() {
		return ConstantValue(v.Size, ^v.Constant)
	}
	res := g.copyToScratch(v)
	g.asm.Not(res.Size, res.Reg)
	return res
}

// MulValues returns the low half of the product.
func (g *CodeGenerator) MulValues(lhs, rhs Value) Value {
	checkSameSize("mul", lhs, rhs)
	if lhs.IsConstant() && rhs.IsConstant() {
		return ConstantValue(lhs.Size, lhs.Constant*rhs.Constant)
	}
	errors.Assertf(lhs.Size != RegSize8, "mul: 8-bit multiply")
	if lhs.IsConstant() {
		lhs, rhs = rhs, lhs
	}
	if rhs.IsConstant() && fitsInt32(rhs.SignedConstant()) {
		src := g.toReg(lhs)
		res := g.rc.AllocateScratch(lhs.Size, NoHostReg)
		g.asm.ImulRI(lhs.Size, res.Reg, src.Reg, rhs.SignedConstant())
		return res
	}
	other := g.toReg(rhs)
	res := g.copyToScratch(lhs)
	g.asm.Imul(lhs.Size, res.Reg, other.Reg)
	return res
}

func (g *CodeGenerator) ShlValues(lhs, rhs Value) Value {
	return g.shiftValues(x64.ShiftShl, lhs, rhs, func(v uint64, n uint, _ RegSize) uint64 { return v << n })
}

func (g *CodeGenerator) ShrValues(lhs, rhs Value) Value {
	return g.shiftValues(x64.ShiftShr, lhs, rhs, func(v uint64, n uint, _ RegSize) uint64 { return v >> n })
}

func (g *CodeGenerator) SarValues(lhs, rhs Value) Value {
	return g.shiftValues(x64.ShiftSar, lhs, rhs, func(v uint64, n uint, size RegSize) uint64 {
		return uint64(ConstantValue(size, v).SignedConstant() >> n)
	})
}

// shiftValues shifts lhs by rhs. Counts are taken modulo the width of
// lhs; rhs may have any width.
func (g *CodeGenerator) shiftValues(op x64.ShiftOp, lhs, rhs Value, fold func(v uint64, n uint, size RegSize) uint64) Value {
	mask := uint64(lhs.Size) - 1
	if rhs.IsConstant() {
		n := uint(rhs.Constant & mask)
		if lhs.IsConstant() {
			return ConstantValue(lhs.Size, fold(lhs.Constant, n, lhs.Size))
		}
		res := g.copyToScratch(lhs)
		if n != 0 {
			g.asm.ShiftRI(op, lhs.Size, res.Reg, uint8(n))
		}
		return res
	}
	errors.Assertf(lhs.Size == RegSize32 || lhs.Size == RegSize64, "shift: variable %d-bit shift", lhs.Size)

	// The count goes through CL, so RCX must not become the result.
	const rcx = x64.RCX
	countInRCX := rhs.IsHostReg() && rhs.Reg == rcx
	tempRCX, saveRCX := false, false
	switch {
	case countInRCX:
	case g.rc.IsFree(rcx):
		g.rc.Allocate(rcx)
		tempRCX = true
	default:
		saveRCX = true
	}
	wasPinned := g.rc.IsPinned(rcx)
	g.rc.Pin(rcx)

	res := g.copyToScratch(lhs)
	if saveRCX {
		g.asm.Push(rcx)
	}
	if !countInRCX {
		g.EmitCopyValue(rcx, rhs.WithSize(RegSize32))
	}
	g.asm.ShiftRCL(op, lhs.Size, res.Reg)
	if saveRCX {
		g.asm.Pop(rcx)
	}

	switch {
	case tempRCX:
		g.rc.Free(rcx)
	case !wasPinned:
		g.rc.Unpin(rcx)
	}
	return res
}

// SetLessThan returns 1 when lhs < rhs and 0 otherwise, at lhs's width.
func (g *CodeGenerator) SetLessThan(lhs, rhs Value, signed bool) Value {
	checkSameSize("slt", lhs, rhs)
	if lhs.IsConstant() && rhs.IsConstant() {
		var less bool
		if signed {
			less = lhs.SignedConstant() < rhs.SignedConstant()
		} else {
			less = lhs.Constant < rhs.Constant
		}
		if less {
			return ConstantValue(lhs.Size, 1)
		}
		return ConstantValue(lhs.Size, 0)
	}

	left := g.toReg(lhs)
	res := g.rc.AllocateScratch(lhs.Size, NoHostReg)
	g.emitAlu(x64.AluCmp, left, rhs)
	cond := x64.CondB
	if signed {
		cond = x64.CondL
	}
	g.asm.Setcc(cond, res.Reg)
	g.asm.Movzx(RegSize32, res.Reg, RegSize8, res.Reg)
	return res
}
