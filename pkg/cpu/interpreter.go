package cpu

type instructionHandler func(c *Core, inst Instruction)

var (
	opTable    [64]instructionHandler
	functTable [64]instructionHandler
)

func init() {
	for i := range opTable {
		opTable[i] = handleReserved
		functTable[i] = handleReserved
	}

	opTable[OpFunct] = func(c *Core, inst Instruction) { functTable[inst.Funct()](c, inst) }
	opTable[OpB] = handleRegimm
	opTable[OpJ] = handleJ
	opTable[OpJAL] = handleJAL
	opTable[OpBEQ] = handleBEQ
	opTable[OpBNE] = handleBNE
	opTable[OpBLEZ] = handleBLEZ
	opTable[OpBGTZ] = handleBGTZ
	opTable[OpADDI] = handleADDI
	opTable[OpADDIU] = handleADDIU
	opTable[OpSLTI] = handleSLTI
	opTable[OpSLTIU] = handleSLTIU
	opTable[OpANDI] = handleANDI
	opTable[OpORI] = handleORI
	opTable[OpXORI] = handleXORI
	opTable[OpLUI] = handleLUI
	opTable[OpCOP0] = handleCOP0
	opTable[OpCOP1] = handleCoprocessorUnusable
	opTable[OpCOP2] = handleCoprocessorUnusable
	opTable[OpCOP3] = handleCoprocessorUnusable
	opTable[OpLWC2] = handleCoprocessorUnusable
	opTable[OpSWC2] = handleCoprocessorUnusable
	opTable[OpLB] = handleLB
	opTable[OpLH] = handleLH
	opTable[OpLW] = handleLW
	opTable[OpLBU] = handleLBU
	opTable[OpLHU] = handleLHU
	opTable[OpSB] = handleSB
	opTable[OpSH] = handleSH
	opTable[OpSW] = handleSW

	functTable[FunctSLL] = handleSLL
	functTable[FunctSRL] = handleSRL
	functTable[FunctSRA] = handleSRA
	functTable[FunctSLLV] = handleSLLV
	functTable[FunctSRLV] = handleSRLV
	functTable[FunctSRAV] = handleSRAV
	functTable[FunctJR] = handleJR
	functTable[FunctJALR] = handleJALR
	functTable[FunctSYSCALL] = func(c *Core, _ Instruction) { c.RaiseException(ExceptionSyscall) }
	functTable[FunctBREAK] = func(c *Core, _ Instruction) { c.RaiseException(ExceptionBreakpoint) }
	functTable[FunctMFHI] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.HI) }
	functTable[FunctMTHI] = func(c *Core, inst Instruction) { c.Regs.HI = c.Regs.R[inst.Rs()] }
	functTable[FunctMFLO] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.LO) }
	functTable[FunctMTLO] = func(c *Core, inst Instruction) { c.Regs.LO = c.Regs.R[inst.Rs()] }
	functTable[FunctMULT] = handleMULT
	functTable[FunctMULTU] = handleMULTU
	functTable[FunctDIV] = handleDIV
	functTable[FunctDIVU] = handleDIVU
	functTable[FunctADD] = handleADD
	functTable[FunctADDU] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.R[inst.Rs()]+c.Regs.R[inst.Rt()]) }
	functTable[FunctSUB] = handleSUB
	functTable[FunctSUBU] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.R[inst.Rs()]-c.Regs.R[inst.Rt()]) }
	functTable[FunctAND] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.R[inst.Rs()]&c.Regs.R[inst.Rt()]) }
	functTable[FunctOR] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.R[inst.Rs()]|c.Regs.R[inst.Rt()]) }
	functTable[FunctXOR] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), c.Regs.R[inst.Rs()]^c.Regs.R[inst.Rt()]) }
	functTable[FunctNOR] = func(c *Core, inst Instruction) { c.writeReg(inst.Rd(), ^(c.Regs.R[inst.Rs()] | c.Regs.R[inst.Rt()])) }
	functTable[FunctSLT] = func(c *Core, inst Instruction) {
		c.writeReg(inst.Rd(), boolToUint32(int32(c.Regs.R[inst.Rs()]) < int32(c.Regs.R[inst.Rt()])))
	}
	functTable[FunctSLTU] = func(c *Core, inst Instruction) {
		c.writeReg(inst.Rd(), boolToUint32(c.Regs.R[inst.Rs()] < c.Regs.R[inst.Rt()]))
	}
}

// Step executes one instruction with full pipeline bookkeeping.
func (c *Core) Step() {
	c.CurrentInstructionPC = c.Regs.PC
	c.CurrentInstructionInBranchDelaySlot = c.NextInstructionIsBranchDelaySlot
	c.CurrentInstructionWasBranchTaken = c.BranchWasTaken
	c.NextInstructionIsBranchDelaySlot = false
	c.BranchWasTaken = false
	c.ExceptionRaised = false

	if c.Regs.PC&3 != 0 {
		c.CurrentInstruction = 0
		c.Cop0.BadVaddr = c.Regs.PC
		c.RaiseException(ExceptionAddressErrorLoad)
		c.UpdateLoadDelay()
		c.PendingTicks++
		return
	}

	c.CurrentInstruction = Instruction(c.bus.ReadWord(c.Regs.PC))
	c.Regs.PC = c.Regs.NPC
	c.Regs.NPC += InstructionSize

	c.ExecuteInstruction()
	c.UpdateLoadDelay()
	c.PendingTicks++
}

// ExecuteInstruction runs CurrentInstruction. PC and NPC must already have
// been advanced past it.
func (c *Core) ExecuteInstruction() {
	inst := c.CurrentInstruction
	opTable[inst.Op()](c, inst)
}

// UpdateLoadDelay commits the pending load unless the target register was
// overwritten since the load issued, then moves the next load into its place.
func (c *Core) UpdateLoadDelay() {
	if c.LoadDelayReg != NoReg && c.Regs.R[c.LoadDelayReg] == c.LoadDelayOldValue {
		c.Regs.R[c.LoadDelayReg] = c.LoadDelayValue
	}
	c.LoadDelayReg = c.NextLoadDelayReg
	c.LoadDelayValue = c.NextLoadDelayValue
	c.LoadDelayOldValue = c.NextLoadDelayOldValue
	c.NextLoadDelayReg = NoReg
	c.NextLoadDelayValue = 0
	c.NextLoadDelayOldValue = 0
}

func (c *Core) writeReg(r Reg, value uint32) {
	if r != RegZero {
		c.Regs.R[r] = value
	}
}

func (c *Core) writeRegDelayed(r Reg, value uint32) {
	if r == RegZero {
		return
	}
	c.NextLoadDelayReg = r
	c.NextLoadDelayValue = value
	c.NextLoadDelayOldValue = c.Regs.R[r]
}

func (c *Core) branch(target uint32) {
	c.Regs.NPC = target
	c.BranchWasTaken = true
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func handleReserved(c *Core, _ Instruction) {
	c.RaiseException(ExceptionReservedInstr)
}

func handleCoprocessorUnusable(c *Core, _ Instruction) {
	c.RaiseException(ExceptionCoprocessorUnusable)
}

func handleSLL(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), c.Regs.R[inst.Rt()]<<inst.Shamt())
}

func handleSRL(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), c.Regs.R[inst.Rt()]>>inst.Shamt())
}

func handleSRA(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), uint32(int32(c.Regs.R[inst.Rt()])>>inst.Shamt()))
}

func handleSLLV(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), c.Regs.R[inst.Rt()]<<(c.Regs.R[inst.Rs()]&0x1F))
}

func handleSRLV(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), c.Regs.R[inst.Rt()]>>(c.Regs.R[inst.Rs()]&0x1F))
}

func handleSRAV(c *Core, inst Instruction) {
	c.writeReg(inst.Rd(), uint32(int32(c.Regs.R[inst.Rt()])>>(c.Regs.R[inst.Rs()]&0x1F)))
}

func handleJR(c *Core, inst Instruction) {
	c.NextInstructionIsBranchDelaySlot = true
	c.branch(c.Regs.R[inst.Rs()])
}

func handleJALR(c *Core, inst Instruction) {
	target := c.Regs.R[inst.Rs()]
	c.NextInstructionIsBranchDelaySlot = true
	c.writeReg(inst.Rd(), c.Regs.NPC)
	c.branch(target)
}

func handleMULT(c *Core, inst Instruction) {
	result := uint64(int64(int32(c.Regs.R[inst.Rs()])) * int64(int32(c.Regs.R[inst.Rt()])))
	c.Regs.HI = uint32(result >> 32)
	c.Regs.LO = uint32(result)
}

func handleMULTU(c *Core, inst Instruction) {
	result := uint64(c.Regs.R[inst.Rs()]) * uint64(c.Regs.R[inst.Rt()])
	c.Regs.HI = uint32(result >> 32)
	c.Regs.LO = uint32(result)
}

func handleDIV(c *Core, inst Instruction) {
	num := int32(c.Regs.R[inst.Rs()])
	den := int32(c.Regs.R[inst.Rt()])
	switch {
	case den == 0:
		if num >= 0 {
			c.Regs.LO = 0xFFFFFFFF
		} else {
			c.Regs.LO = 1
		}
		c.Regs.HI = uint32(num)
	case uint32(num) == 0x80000000 && den == -1:
		c.Regs.LO = 0x80000000
		c.Regs.HI = 0
	default:
		c.Regs.LO = uint32(num / den)
		c.Regs.HI = uint32(num % den)
	}
}

func handleDIVU(c *Core, inst Instruction) {
	num := c.Regs.R[inst.Rs()]
	den := c.Regs.R[inst.Rt()]
	if den == 0 {
		c.Regs.LO = 0xFFFFFFFF
		c.Regs.HI = num
		return
	}
	c.Regs.LO = num / den
	c.Regs.HI = num % den
}

func addOverflows(a, b, sum uint32) bool {
	return (^(a ^ b)&(a^sum))&0x80000000 != 0
}

func subOverflows(a, b, diff uint32) bool {
	return ((a^b)&(a^diff))&0x80000000 != 0
}

func handleADD(c *Core, inst Instruction) {
	a, b := c.Regs.R[inst.Rs()], c.Regs.R[inst.Rt()]
	sum := a + b
	if addOverflows(a, b, sum) {
		c.RaiseException(ExceptionOverflow)
		return
	}
	c.writeReg(inst.Rd(), sum)
}

func handleSUB(c *Core, inst Instruction) {
	a, b := c.Regs.R[inst.Rs()], c.Regs.R[inst.Rt()]
	diff := a - b
	if subOverflows(a, b, diff) {
		c.RaiseException(ExceptionOverflow)
		return
	}
	c.writeReg(inst.Rd(), diff)
}

func handleRegimm(c *Core, inst Instruction) {
	value := int32(c.Regs.R[inst.Rs()])
	taken := value < 0
	if inst.RegimmGreaterEqual() {
		taken = value >= 0
	}
	c.NextInstructionIsBranchDelaySlot = true
	if inst.RegimmLink() {
		c.writeReg(RegRA, c.Regs.NPC)
	}
	if taken {
		c.branch(inst.BranchTarget(c.CurrentInstructionPC))
	}
}

func handleJ(c *Core, inst Instruction) {
	c.NextInstructionIsBranchDelaySlot = true
	c.branch(inst.JumpTarget(c.CurrentInstructionPC))
}

func handleJAL(c *Core, inst Instruction) {
	c.NextInstructionIsBranchDelaySlot = true
	c.writeReg(RegRA, c.Regs.NPC)
	c.branch(inst.JumpTarget(c.CurrentInstructionPC))
}

func (c *Core) conditionalBranch(inst Instruction, taken bool) {
	c.NextInstructionIsBranchDelaySlot = true
	if taken {
		c.branch(inst.BranchTarget(c.CurrentInstructionPC))
	}
}

func handleBEQ(c *Core, inst Instruction) {
	c.conditionalBranch(inst, c.Regs.R[inst.Rs()] == c.Regs.R[inst.Rt()])
}

func handleBNE(c *Core, inst Instruction) {
	c.conditionalBranch(inst, c.Regs.R[inst.Rs()] != c.Regs.R[inst.Rt()])
}

func handleBLEZ(c *Core, inst Instruction) {
	c.conditionalBranch(inst, int32(c.Regs.R[inst.Rs()]) <= 0)
}

func handleBGTZ(c *Core, inst Instruction) {
	c.conditionalBranch(inst, int32(c.Regs.R[inst.Rs()]) > 0)
}

func handleADDI(c *Core, inst Instruction) {
	a, b := c.Regs.R[inst.Rs()], inst.ImmSignExt()
	sum := a + b
	if addOverflows(a, b, sum) {
		c.RaiseException(ExceptionOverflow)
		return
	}
	c.writeReg(inst.Rt(), sum)
}

func handleADDIU(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), c.Regs.R[inst.Rs()]+inst.ImmSignExt())
}

func handleSLTI(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), boolToUint32(int32(c.Regs.R[inst.Rs()]) < int32(inst.ImmSignExt())))
}

func handleSLTIU(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), boolToUint32(c.Regs.R[inst.Rs()] < inst.ImmSignExt()))
}

func handleANDI(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), c.Regs.R[inst.Rs()]&inst.ImmZeroExt())
}

func handleORI(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), c.Regs.R[inst.Rs()]|inst.ImmZeroExt())
}

func handleXORI(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), c.Regs.R[inst.Rs()]^inst.ImmZeroExt())
}

func handleLUI(c *Core, inst Instruction) {
	c.writeReg(inst.Rt(), inst.ImmZeroExt()<<16)
}

func handleCOP0(c *Core, inst Instruction) {
	rs := uint8(inst.Rs())
	switch {
	case rs == CopMFC:
		c.writeRegDelayed(inst.Rt(), c.readCop0(uint8(inst.Rd())))
	case rs == CopMTC:
		c.writeCop0(uint8(inst.Rd()), c.Regs.R[inst.Rt()])
	case rs&CopCO != 0 && inst.Funct() == cop0RFE:
		mode := c.Cop0.SR & srModeMask
		c.Cop0.SR = (c.Cop0.SR &^ 0xF) | (mode >> 2)
	default:
		c.RaiseException(ExceptionReservedInstr)
	}
}

func (c *Core) readCop0(reg uint8) uint32 {
	switch reg {
	case Cop0BadVaddr:
		return c.Cop0.BadVaddr
	case Cop0SR:
		return c.Cop0.SR
	case Cop0Cause:
		return c.Cop0.Cause
	case Cop0EPC:
		return c.Cop0.EPC
	case Cop0PRID:
		return c.Cop0.PRID
	}
	return 0
}

func (c *Core) writeCop0(reg uint8, value uint32) {
	switch reg {
	case Cop0SR:
		c.Cop0.SR = value
	case Cop0Cause:
		// only the software interrupt bits are writable
		c.Cop0.Cause = (c.Cop0.Cause &^ 0x300) | (value & 0x300)
	}
}

func handleLB(c *Core, inst Instruction) {
	addr := c.Regs.R[inst.Rs()] + inst.ImmSignExt()
	value := ReadMemoryByte(c, addr)
	c.writeRegDelayed(inst.Rt(), uint32(int32(int8(value))))
}

func handleLBU(c *Core, inst Instruction) {
	addr := c.Regs.R[inst.Rs()] + inst.ImmSignExt()
	c.writeRegDelayed(inst.Rt(), ReadMemoryByte(c, addr))
}

func handleLH(c *Core, inst Instruction) {
	addr := c.Regs.R[inst.Rs()] + inst.ImmSignExt()
	value := ReadMemoryHalfWord(c, addr)
	if c.ExceptionRaised {
		return
	}
	c.writeRegDelayed(inst.Rt(), uint32(int32(int16(value))))
}

func handleLHU(c *Core, inst Instruction) {
	addr := c.Regs.R[inst.Rs()] + inst.ImmSignExt()
	value := ReadMemoryHalfWord(c, addr)
	if c.ExceptionRaised {
		return
	}
	c.writeRegDelayed(inst.Rt(), value)
}

func handleLW(c *Core, inst Instruction) {
	addr := c.Regs.R[inst.Rs()] + inst.ImmSignExt()
	value := ReadMemoryWord(c, addr)
	if c.ExceptionRaised {
		return
	}
	c.writeRegDelayed(inst.Rt(), value)
}

func handleSB(c *Core, inst Instruction) {
	WriteMemoryByte(c, c.Regs.R[inst.Rs()]+inst.ImmSignExt(), c.Regs.R[inst.Rt()])
}

func handleSH(c *Core, inst Instruction) {
	WriteMemoryHalfWord(c, c.Regs.R[inst.Rs()]+inst.ImmSignExt(), c.Regs.R[inst.Rt()])
}

func handleSW(c *Core, inst Instruction) {
	WriteMemoryWord(c, c.Regs.R[inst.Rs()]+inst.ImmSignExt(), c.Regs.R[inst.Rt()])
}
