package cpu

// RaiseException enters the exception handler for the instruction in flight.
func (c *Core) RaiseException(excode Exception) {
	bd := c.CurrentInstructionInBranchDelaySlot
	epc := c.CurrentInstructionPC
	if bd {
		epc -= InstructionSize
	}
	c.Cop0.EPC = epc

	// current -> previous -> old, kernel mode with interrupts disabled
	c.Cop0.SR = (c.Cop0.SR &^ srModeMask) | ((c.Cop0.SR << 2) & srModeMask)

	cause := c.Cop0.Cause &^ (causeBD | causeBT | causeCEMask | causeExcMask)
	cause |= uint32(excode) << 2
	if bd {
		cause |= causeBD
	}
	if c.CurrentInstructionWasBranchTaken {
		cause |= causeBT
	}
	if excode == ExceptionCoprocessorUnusable {
		cause |= uint32(c.CurrentInstruction.CopN()) << 28
	}
	c.Cop0.Cause = cause

	vector := uint32(exceptionVectorRAM)
	if c.Cop0.SR&srBEV != 0 {
		vector = exceptionVectorBIOS
	}
	c.SetPC(vector)
	c.ExceptionRaised = true
	c.flushPipeline()
}

// flushPipeline drops the instruction that has not issued yet. A load that
// already issued completes immediately; the one from the faulting
// instruction is cancelled.
func (c *Core) flushPipeline() {
	c.NextLoadDelayReg = NoReg
	c.NextLoadDelayValue = 0
	c.NextLoadDelayOldValue = 0
	if c.LoadDelayReg != NoReg {
		c.Regs.R[c.LoadDelayReg] = c.LoadDelayValue
		c.LoadDelayReg = NoReg
		c.LoadDelayValue = 0
		c.LoadDelayOldValue = 0
	}
	c.BranchWasTaken = false
	c.NextInstructionIsBranchDelaySlot = false
}
