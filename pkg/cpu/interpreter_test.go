package cpu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"psxrec/pkg/cpu"
	"psxrec/pkg/ram"
)

const programBase = 0x80010000

var _ = Describe("Interpreter", func() {
	var (
		bus  *ram.Bus
		core *cpu.Core
	)

	BeforeEach(func() {
		bus = ram.NewBus(ram.NewEmptyRAM())
		core = cpu.NewCore(bus)
		core.SetPC(programBase)
		core.Cop0.SR = 0 // exceptions vector to RAM
	})

	load := func(insts ...cpu.Instruction) {
		bus.LoadProgram(programBase, cpu.Words(insts...))
	}

	steps := func(n int) {
		for i := 0; i < n; i++ {
			core.Step()
		}
	}

	Describe("ALU instructions", func() {
		It("should build a constant with lui/ori", func() {
			load(
				cpu.Lui(cpu.RegT0, 0x1234),         // lui t0, 0x1234
				cpu.Ori(cpu.RegT0, cpu.RegT0, 0x5678), // ori t0, t0, 0x5678
			)
			steps(2)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(0x12345678)))
			Expect(core.PendingTicks).To(Equal(int32(2)))
			Expect(core.Regs.PC).To(Equal(uint32(programBase + 8)))
		})

		It("should sign-extend addiu immediates and wrap", func() {
			core.Regs.R[cpu.RegT1] = 0
			load(cpu.Addiu(cpu.RegT0, cpu.RegT1, -1))
			steps(1)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(0xFFFFFFFF)))
		})

		It("should ignore writes to r0", func() {
			load(cpu.Addiu(cpu.RegZero, cpu.RegZero, 5))
			steps(1)
			Expect(core.Regs.R[cpu.RegZero]).To(Equal(uint32(0)))
		})

		It("should compare signed and unsigned", func() {
			core.Regs.R[cpu.RegT1] = 0xFFFFFFFF
			core.Regs.R[cpu.RegT2] = 1
			load(
				cpu.Slt(cpu.RegT3, cpu.RegT1, cpu.RegT2),  // -1 < 1
				cpu.Sltu(cpu.RegT4, cpu.RegT1, cpu.RegT2), // 0xffffffff < 1
				cpu.Sltiu(cpu.RegT5, cpu.RegT2, -1),       // 1 < 0xffffffff
			)
			steps(3)
			Expect(core.Regs.R[cpu.RegT3]).To(Equal(uint32(1)))
			Expect(core.Regs.R[cpu.RegT4]).To(Equal(uint32(0)))
			Expect(core.Regs.R[cpu.RegT5]).To(Equal(uint32(1)))
		})

		It("should shift arithmetic and logical", func() {
			core.Regs.R[cpu.RegT1] = 0x80000010
			core.Regs.R[cpu.RegT2] = 36 // only the low five bits count
			load(
				cpu.Sra(cpu.RegT3, cpu.RegT1, 4),
				cpu.Srl(cpu.RegT4, cpu.RegT1, 4),
				cpu.Sllv(cpu.RegT5, cpu.RegT1, cpu.RegT2),
			)
			steps(3)
			Expect(core.Regs.R[cpu.RegT3]).To(Equal(uint32(0xF8000001)))
			Expect(core.Regs.R[cpu.RegT4]).To(Equal(uint32(0x08000001)))
			Expect(core.Regs.R[cpu.RegT5]).To(Equal(uint32(0x00000100)))
		})

		It("should multiply and divide into HI/LO", func() {
			core.Regs.R[cpu.RegT1] = 0xFFFFFFFE // -2
			core.Regs.R[cpu.RegT2] = 3
			load(
				cpu.Mult(cpu.RegT1, cpu.RegT2),
				cpu.Mflo(cpu.RegT3),
				cpu.Mfhi(cpu.RegT4),
				cpu.Div(cpu.RegT2, cpu.RegZero),
			)
			steps(4)
			Expect(core.Regs.R[cpu.RegT3]).To(Equal(uint32(0xFFFFFFFA)))
			Expect(core.Regs.R[cpu.RegT4]).To(Equal(uint32(0xFFFFFFFF)))
			Expect(core.Regs.LO).To(Equal(uint32(0xFFFFFFFF)))
			Expect(core.Regs.HI).To(Equal(uint32(3)))
		})
	})

	Describe("Branch delay slots", func() {
		It("should execute the delay slot before the branch takes effect", func() {
			target := uint32(programBase + 0x40)
			load(
				cpu.Beq(programBase, cpu.RegT0, cpu.RegZero, target), // t0 == 0
				cpu.Addiu(cpu.RegT0, cpu.RegZero, 5),                  // delay slot
			)
			steps(1)
			Expect(core.NextInstructionIsBranchDelaySlot).To(BeTrue())
			Expect(core.BranchWasTaken).To(BeTrue())
			Expect(core.Regs.PC).To(Equal(uint32(programBase + 4)))
			Expect(core.Regs.NPC).To(Equal(target))

			steps(1)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(5)))
			Expect(core.Regs.PC).To(Equal(target))
			Expect(core.CurrentInstructionInBranchDelaySlot).To(BeTrue())
			Expect(core.NextInstructionIsBranchDelaySlot).To(BeFalse())
			Expect(core.BranchWasTaken).To(BeFalse())
		})

		It("should fall through when not taken", func() {
			core.Regs.R[cpu.RegT0] = 1
			load(
				cpu.Beq(programBase, cpu.RegT0, cpu.RegZero, programBase+0x40),
				cpu.Nop(),
			)
			steps(2)
			Expect(core.Regs.PC).To(Equal(uint32(programBase + 8)))
		})

		It("should link jal to the instruction after the delay slot", func() {
			load(cpu.Jal(0x80020000), cpu.Nop())
			steps(2)
			Expect(core.Regs.R[cpu.RegRA]).To(Equal(uint32(programBase + 8)))
			Expect(core.Regs.PC).To(Equal(uint32(0x80020000)))
		})

		It("should link bltzal even when not taken", func() {
			core.Regs.R[cpu.RegT0] = 1
			load(cpu.Bltzal(programBase, cpu.RegT0, programBase+0x40), cpu.Nop())
			steps(2)
			Expect(core.Regs.R[cpu.RegRA]).To(Equal(uint32(programBase + 8)))
			Expect(core.Regs.PC).To(Equal(uint32(programBase + 8)))
		})
	})

	Describe("Load delay slots", func() {
		BeforeEach(func() {
			bus.WriteWord(0x80001000, 0xCAFEBABE)
			core.Regs.R[cpu.RegT1] = 0x80001000
			core.Regs.R[cpu.RegT0] = 7
		})

		It("should hide the loaded value from the next instruction", func() {
			load(
				cpu.Lw(cpu.RegT0, cpu.RegT1, 0),
				cpu.Addu(cpu.RegT2, cpu.RegT0, cpu.RegZero), // still sees 7
				cpu.Addu(cpu.RegT3, cpu.RegT0, cpu.RegZero), // sees the load
			)
			steps(1)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(7)))
			Expect(core.LoadDelayReg).To(Equal(cpu.RegT0))
			steps(2)
			Expect(core.Regs.R[cpu.RegT2]).To(Equal(uint32(7)))
			Expect(core.Regs.R[cpu.RegT3]).To(Equal(uint32(0xCAFEBABE)))
			Expect(core.LoadDelayReg).To(Equal(cpu.NoReg))
		})

		It("should let a write in the delay slot win over the load", func() {
			load(
				cpu.Lw(cpu.RegT0, cpu.RegT1, 0),
				cpu.Addiu(cpu.RegT0, cpu.RegZero, 99),
			)
			steps(2)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(99)))
		})

		It("should not create a delay for loads to r0", func() {
			load(cpu.Lw(cpu.RegZero, cpu.RegT1, 0))
			steps(1)
			Expect(core.LoadDelayReg).To(Equal(cpu.NoReg))
			Expect(core.Regs.R[cpu.RegZero]).To(Equal(uint32(0)))
		})

		It("should sign-extend lb and lh", func() {
			bus.WriteWord(0x80001004, 0x00008080)
			load(
				cpu.Lb(cpu.RegT2, cpu.RegT1, 4),
				cpu.Lh(cpu.RegT3, cpu.RegT1, 4),
				cpu.Lhu(cpu.RegT4, cpu.RegT1, 4),
				cpu.Nop(),
			)
			steps(4)
			Expect(core.Regs.R[cpu.RegT2]).To(Equal(uint32(0xFFFFFF80)))
			Expect(core.Regs.R[cpu.RegT3]).To(Equal(uint32(0xFFFF8080)))
			Expect(core.Regs.R[cpu.RegT4]).To(Equal(uint32(0x00008080)))
		})
	})

	Describe("Exceptions", func() {
		It("should enter the handler on syscall", func() {
			core.Cop0.SR = 0x1 // IEc
			load(cpu.Syscall())
			steps(1)
			Expect(core.ExceptionRaised).To(BeTrue())
			Expect(core.Cop0.EPC).To(Equal(uint32(programBase)))
			Expect((core.Cop0.Cause >> 2) & 0x1F).To(Equal(uint32(cpu.ExceptionSyscall)))
			Expect(core.Cop0.SR & 0x3F).To(Equal(uint32(0x4)))
			Expect(core.Regs.PC).To(Equal(uint32(0x80000080)))
			Expect(core.Regs.NPC).To(Equal(uint32(0x80000084)))
		})

		It("should point EPC at the branch for a delay slot fault", func() {
			load(
				cpu.J(programBase+0x100),
				cpu.Break(),
			)
			steps(2)
			Expect(core.Cop0.EPC).To(Equal(uint32(programBase)))
			Expect(core.Cop0.Cause & 0x80000000).NotTo(BeZero())
			Expect(core.Regs.PC).To(Equal(uint32(0x80000080)))
		})

		It("should not write the destination on overflow", func() {
			core.Regs.R[cpu.RegT1] = 0x7FFFFFFF
			core.Regs.R[cpu.RegT0] = 3
			load(cpu.Addi(cpu.RegT0, cpu.RegT1, 1))
			steps(1)
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(3)))
			Expect((core.Cop0.Cause >> 2) & 0x1F).To(Equal(uint32(cpu.ExceptionOverflow)))
		})

		It("should raise address errors and complete the pending load", func() {
			bus.WriteWord(0x80001000, 0x11111111)
			core.Regs.R[cpu.RegT1] = 0x80001000
			load(
				cpu.Lw(cpu.RegT0, cpu.RegT1, 0),
				cpu.Lw(cpu.RegT2, cpu.RegT1, 2), // misaligned
			)
			steps(2)
			Expect(core.Cop0.BadVaddr).To(Equal(uint32(0x80001002)))
			Expect((core.Cop0.Cause >> 2) & 0x1F).To(Equal(uint32(cpu.ExceptionAddressErrorLoad)))
			Expect(core.Regs.R[cpu.RegT0]).To(Equal(uint32(0x11111111)))
			Expect(core.LoadDelayReg).To(Equal(cpu.NoReg))
		})

		It("should restore the mode stack on rfe", func() {
			core.Cop0.SR = 0x3C
			load(cpu.Rfe())
			steps(1)
			Expect(core.Cop0.SR & 0x3F).To(Equal(uint32(0x3F)))
		})

		It("should use the BIOS vector when BEV is set", func() {
			core.Cop0.SR = 1 << 22
			load(cpu.Break())
			steps(1)
			Expect(core.Regs.PC).To(Equal(uint32(0xBFC00180)))
		})
	})

	Describe("Coprocessor 0", func() {
		It("should move to and from cop0 with a load delay on mfc0", func() {
			core.Regs.R[cpu.RegT0] = 0x10000001
			load(
				cpu.Mtc0(cpu.RegT0, cpu.Cop0SR),
				cpu.Mfc0(cpu.RegT1, cpu.Cop0SR),
				cpu.Nop(),
			)
			steps(2)
			Expect(core.Cop0.SR).To(Equal(uint32(0x10000001)))
			Expect(core.Regs.R[cpu.RegT1]).To(BeZero())
			steps(1)
			Expect(core.Regs.R[cpu.RegT1]).To(Equal(uint32(0x10000001)))
		})
	})
})
