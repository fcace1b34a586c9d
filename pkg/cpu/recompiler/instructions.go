package recompiler

import (
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

type handler func(inst cpu.Instruction)

// selectHandler returns the dedicated handler for inst, or nil when the
// instruction needs the interpreter fallback.
func (g *CodeGenerator) selectHandler(inst cpu.Instruction) (handler, Category) {
	switch inst.Op() {
	case cpu.OpFunct:
		switch inst.Funct() {
		case cpu.FunctSLL:
			return g.emitShiftImmediate(g.ShlValues), CategoryPlain
		case cpu.FunctSRL:
			return g.emitShiftImmediate(g.ShrValues), CategoryPlain
		case cpu.FunctSRA:
			return g.emitShiftImmediate(g.SarValues), CategoryPlain
		case cpu.FunctSLLV:
			return g.emitShiftVariable(g.ShlValues), CategoryPlain
		case cpu.FunctSRLV:
			return g.emitShiftVariable(g.ShrValues), CategoryPlain
		case cpu.FunctSRAV:
			return g.emitShiftVariable(g.SarValues), CategoryPlain
		case cpu.FunctJR:
			return g.emitJR, CategoryBranch
		case cpu.FunctJALR:
			return g.emitJALR, CategoryBranch
		case cpu.FunctMFHI:
			return g.emitMoveFrom(cpu.FieldHI), CategoryPlain
		case cpu.FunctMFLO:
			return g.emitMoveFrom(cpu.FieldLO), CategoryPlain
		case cpu.FunctMTHI:
			return g.emitMoveTo(cpu.FieldHI), CategoryPlain
		case cpu.FunctMTLO:
			return g.emitMoveTo(cpu.FieldLO), CategoryPlain
		case cpu.FunctADDU:
			return g.emitALU(g.AddValues), CategoryPlain
		case cpu.FunctSUBU:
			return g.emitALU(g.SubValues), CategoryPlain
		case cpu.FunctAND:
			return g.emitALU(g.AndValues), CategoryPlain
		case cpu.FunctOR:
			return g.emitALU(g.OrValues), CategoryPlain
		case cpu.FunctXOR:
			return g.emitALU(g.XorValues), CategoryPlain
		case cpu.FunctNOR:
			return g.emitALU(func(a, b Value) Value { return g.NotValue(g.OrValues(a, b)) }), CategoryPlain
		case cpu.FunctSLT:
			return g.emitALU(func(a, b Value) Value { return g.SetLessThan(a, b, true) }), CategoryPlain
		case cpu.FunctSLTU:
			return g.emitALU(func(a, b Value) Value { return g.SetLessThan(a, b, false) }), CategoryPlain
		}

	case cpu.OpJ:
		return g.emitJ, CategoryBranch
	case cpu.OpJAL:
		return g.emitJAL, CategoryBranch
	case cpu.OpBEQ:
		return g.emitBranchCompare(x64.CondE), CategoryBranch
	case cpu.OpBNE:
		return g.emitBranchCompare(x64.CondNE), CategoryBranch
	case cpu.OpBLEZ:
		return g.emitBranchZero(x64.CondLE), CategoryBranch
	case cpu.OpBGTZ:
		return g.emitBranchZero(x64.CondG), CategoryBranch

	case cpu.OpLUI:
		return g.emitLUI, CategoryPlain
	case cpu.OpADDIU:
		return g.emitALUImmediate(g.AddValues, true), CategoryPlain
	case cpu.OpANDI:
		return g.emitALUImmediate(g.AndValues, false), CategoryPlain
	case cpu.OpORI:
		return g.emitALUImmediate(g.OrValues, false), CategoryPlain
	case cpu.OpXORI:
		return g.emitALUImmediate(g.XorValues, false), CategoryPlain
	case cpu.OpSLTI:
		return g.emitALUImmediate(func(a, b Value) Value { return g.SetLessThan(a, b, true) }, true), CategoryPlain
	case cpu.OpSLTIU:
		return g.emitALUImmediate(func(a, b Value) Value { return g.SetLessThan(a, b, false) }, true), CategoryPlain

	case cpu.OpLB:
		return g.loadHandler(inst, g.helpers.ReadMemoryByte, RegSize8, true)
	case cpu.OpLBU:
		return g.loadHandler(inst, g.helpers.ReadMemoryByte, RegSize8, false)
	case cpu.OpLH:
		return g.loadHandler(inst, g.helpers.ReadMemoryHalfWord, RegSize16, true)
	case cpu.OpLHU:
		return g.loadHandler(inst, g.helpers.ReadMemoryHalfWord, RegSize16, false)
	case cpu.OpLW:
		return g.loadHandler(inst, g.helpers.ReadMemoryWord, RegSize32, false)
	case cpu.OpSB:
		return g.storeHandler(g.helpers.WriteMemoryByte)
	case cpu.OpSH:
		return g.storeHandler(g.helpers.WriteMemoryHalfWord)
	case cpu.OpSW:
		return g.storeHandler(g.helpers.WriteMemoryWord)
	}
	return nil, CategoryFallback
}

func (g *CodeGenerator) emitLUI(inst cpu.Instruction) {
	g.rc.WriteGuestRegister(inst.Rt(), Constant32(inst.ImmZeroExt()<<16))
}

func (g *CodeGenerator) emitALUImmediate(op func(a, b Value) Value, signExtend bool) handler {
	return func(inst cpu.Instruction) {
		imm := inst.ImmZeroExt()
		if signExtend {
			imm = inst.ImmSignExt()
		}
		rs := g.rc.ReadGuestRegister(inst.Rs())
		g.rc.WriteGuestRegister(inst.Rt(), op(rs, Constant32(imm)))
	}
}

func (g *CodeGenerator) emitALU(op func(a, b Value) Value) handler {
	return func(inst cpu.Instruction) {
		rs := g.rc.ReadGuestRegister(inst.Rs())
		rt := g.rc.ReadGuestRegister(inst.Rt())
		g.rc.WriteGuestRegister(inst.Rd(), op(rs, rt))
	}
}

func (g *CodeGenerator) emitShiftImmediate(op func(a, b Value) Value) handler {
	return func(inst cpu.Instruction) {
		rt := g.rc.ReadGuestRegister(inst.Rt())
		g.rc.WriteGuestRegister(inst.Rd(), op(rt, Constant32(inst.Shamt())))
	}
}

func (g *CodeGenerator) emitShiftVariable(op func(a, b Value) Value) handler {
	return func(inst cpu.Instruction) {
		rt := g.rc.ReadGuestRegister(inst.Rt())
		rs := g.rc.ReadGuestRegister(inst.Rs())
		g.rc.WriteGuestRegister(inst.Rd(), op(rt, rs))
	}
}

func (g *CodeGenerator) emitMoveFrom(f cpu.FieldID) handler {
	return func(inst cpu.Instruction) {
		g.rc.WriteGuestRegister(inst.Rd(), FieldValue(f))
	}
}

func (g *CodeGenerator) emitMoveTo(f cpu.FieldID) handler {
	return func(inst cpu.Instruction) {
		g.EmitStoreField(f, g.rc.ReadGuestRegister(inst.Rs()))
	}
}

// Branches. The prologue has already synchronized PC, so PC/NPC hold the
// addresses of the delay slot and the instruction after it. A taken
// branch replaces NPC; the delay slot's prologue then moves it into PC.

func (g *CodeGenerator) emitBranchTaken(target Value) {
	g.EmitStoreField(cpu.FieldNPC, target)
	g.asm.MovMI(RegSize8, g.field(cpu.FieldBranchWasTaken), 1)
}

func (g *CodeGenerator) markDelaySlot() {
	g.asm.MovMI(RegSize8, g.field(cpu.FieldNextInstructionIsBranchDelaySlot), 1)
}

func (g *CodeGenerator) linkValue() Value {
	return Constant32(g.cbi.PC + 2*cpu.InstructionSize)
}

func (g *CodeGenerator) emitJ(inst cpu.Instruction) {
	g.markDelaySlot()
	g.emitBranchTaken(Constant32(inst.JumpTarget(g.cbi.PC)))
}

func (g *CodeGenerator) emitJAL(inst cpu.Instruction) {
	g.emitJ(inst)
	g.rc.WriteGuestRegister(cpu.RegRA, g.linkValue())
}

func (g *CodeGenerator) emitJR(inst cpu.Instruction) {
	target := g.rc.ReadGuestRegister(inst.Rs())
	g.markDelaySlot()
	g.emitBranchTaken(target)
}

// emitJALR stores the target before writing the link, which may share
// the target's register when rd == rs.
func (g *CodeGenerator) emitJALR(inst cpu.Instruction) {
	g.emitJR(inst)
	g.rc.WriteGuestRegister(inst.Rd(), g.linkValue())
}

func (g *CodeGenerator) emitBranchCompare(cond x64.Cond) handler {
	return func(inst cpu.Instruction) {
		rs := g.rc.ReadGuestRegister(inst.Rs())
		rt := g.rc.ReadGuestRegister(inst.Rt())
		g.emitConditionalBranch(rs, rt, cond, inst.BranchTarget(g.cbi.PC))
	}
}

func (g *CodeGenerator) emitBranchZero(cond x64.Cond) handler {
	return func(inst cpu.Instruction) {
		rs := g.rc.ReadGuestRegister(inst.Rs())
		g.emitConditionalBranch(rs, Constant32(0), cond, inst.BranchTarget(g.cbi.PC))
	}
}

// emitConditionalBranch takes the branch to target when lhs cond rhs
// holds, deciding at compile time when both sides are constant.
func (g *CodeGenerator) emitConditionalBranch(lhs, rhs Value, cond x64.Cond, target uint32) {
	g.markDelaySlot()
	if lhs.IsConstant() && rhs.IsConstant() {
		if evalCond(cond, uint32(lhs.Constant), uint32(rhs.Constant)) {
			g.emitBranchTaken(Constant32(target))
		}
		return
	}
	if lhs.IsConstant() {
		lhs, rhs = rhs, lhs
		cond = swapCond(cond)
	}

	skip := g.asm.NewLabel()
	g.emitAlu(x64.AluCmp, lhs, rhs)
	g.asm.Jcc(cond.Invert(), skip)
	g.emitBranchTaken(Constant32(target))
	g.asm.Bind(skip)
}

func evalCond(cond x64.Cond, a, b uint32) bool {
	switch cond {
	case x64.CondE:
		return a == b
	case x64.CondNE:
		return a != b
	case x64.CondLE:
		return int32(a) <= int32(b)
	case x64.CondG:
		return int32(a) > int32(b)
	case x64.CondL:
		return int32(a) < int32(b)
	case x64.CondGE:
		return int32(a) >= int32(b)
	}
	errors.Assertf(false, "branch: unexpected condition %#x", cond)
	return false
}

// swapCond returns the condition that holds for (b, a) when cond holds for (a, b).
func swapCond(cond x64.Cond) x64.Cond {
	switch cond {
	case x64.CondLE:
		return x64.CondGE
	case x64.CondG:
		return x64.CondL
	case x64.CondL:
		return x64.CondG
	case x64.CondGE:
		return x64.CondLE
	}
	return cond
}

// Loads and stores go through the memory helpers, which raise address
// errors themselves. A missing helper leaves the instruction to the
// fallback.

func (g *CodeGenerator) loadHandler(inst cpu.Instruction, helper uintptr, size RegSize, signed bool) (handler, Category) {
	if helper == 0 {
		return nil, CategoryFallback
	}
	category := CategoryLoad
	if inst.Rt() == cpu.RegZero {
		category = CategoryPlain
	}
	return func(inst cpu.Instruction) { g.emitLoad(inst, helper, size, signed) }, category
}

func (g *CodeGenerator) emitLoad(inst cpu.Instruction, helper uintptr, size RegSize, signed bool) {
	rt := inst.Rt()
	addr := g.AddValues(g.rc.ReadGuestRegister(inst.Rs()), Constant32(inst.ImmSignExt()))
	if rt != cpu.RegZero {
		g.loadOld = g.copyToScratch(g.rc.ReadGuestRegister(rt))
	}

	g.rc.WriteBackAll()
	g.flushCycles()
	value := g.EmitFunctionCall(RegSize32, helper, HostValue(RegSize64, CPUPointer), addr)
	g.emitBlockExitOnException()

	if signed {
		value = g.ConvertValueSizeInPlace(value.WithSize(size), RegSize32, true)
	}
	g.loadValue = value
}

func (g *CodeGenerator) storeHandler(helper uintptr) (handler, Category) {
	if helper == 0 {
		return nil, CategoryFallback
	}
	return func(inst cpu.Instruction) { g.emitStore(inst, helper) }, CategoryPlain
}

func (g *CodeGenerator) emitStore(inst cpu.Instruction, helper uintptr) {
	addr := g.AddValues(g.rc.ReadGuestRegister(inst.Rs()), Constant32(inst.ImmSignExt()))
	value := g.rc.ReadGuestRegister(inst.Rt())

	g.rc.WriteBackAll()
	g.flushCycles()
	g.EmitFunctionCall(NoResult, helper, HostValue(RegSize64, CPUPointer), addr, value)
	g.emitBlockExitOnException()
}
