package cpu

// The functions in this file are the entry points generated code calls
// through the helper table. Each takes the core first and works on guest
// addresses; reads return the value zero-extended to 32 bits.

// InterpretInstruction executes CurrentInstruction followed by the load
// delay update. The caller has already advanced PC/NPC and the delay-slot
// flags. It returns whether an exception was raised.
func InterpretInstruction(c *Core) bool {
	c.ExecuteInstruction()
	c.UpdateLoadDelay()
	return c.ExceptionRaised
}

func ReadMemoryByte(c *Core, address uint32) uint32 {
	return uint32(c.bus.ReadByte(address))
}

func ReadMemoryHalfWord(c *Core, address uint32) uint32 {
	if address&1 != 0 {
		c.Cop0.BadVaddr = address
		c.RaiseException(ExceptionAddressErrorLoad)
		return 0
	}
	return uint32(c.bus.ReadHalfWord(address))
}

func ReadMemoryWord(c *Core, address uint32) uint32 {
	if address&3 != 0 {
		c.Cop0.BadVaddr = address
		c.RaiseException(ExceptionAddressErrorLoad)
		return 0
	}
	return c.bus.ReadWord(address)
}

func WriteMemoryByte(c *Core, address uint32, value uint32) {
	c.bus.WriteByte(address, uint8(value))
}

func WriteMemoryHalfWord(c *Core, address uint32, value uint32) {
	if address&1 != 0 {
		c.Cop0.BadVaddr = address
		c.RaiseException(ExceptionAddressErrorStore)
		return
	}
	c.bus.WriteHalfWord(address, uint16(value))
}

func WriteMemoryWord(c *Core, address uint32, value uint32) {
	if address&3 != 0 {
		c.Cop0.BadVaddr = address
		c.RaiseException(ExceptionAddressErrorStore)
		return
	}
	c.bus.WriteWord(address, value)
}
