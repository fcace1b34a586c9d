package cpu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"psxrec/pkg/cpu"
	"psxrec/pkg/errors"
	"psxrec/pkg/ram"
)

var _ = Describe("CodeBlock", func() {
	var bus *ram.Bus

	BeforeEach(func() {
		bus = ram.NewBus(ram.NewEmptyRAM())
	})

	It("should end after the delay slot of a branch", func() {
		bus.LoadProgram(programBase, cpu.Words(
			cpu.Addiu(cpu.RegT0, cpu.RegZero, 1),
			cpu.Bne(programBase+4, cpu.RegT0, cpu.RegZero, programBase),
			cpu.Nop(),
			cpu.Addiu(cpu.RegT1, cpu.RegZero, 1),
		))
		block, err := cpu.BuildBlock(bus, programBase, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Instructions).To(HaveLen(3))
		Expect(block.Instructions[1].IsBranch).To(BeTrue())
		Expect(block.Instructions[2].IsBranchDelaySlot).To(BeTrue())
		Expect(block.Instructions[2].IsLastInstruction).To(BeTrue())
		Expect(block.EndPC()).To(Equal(uint32(programBase + 12)))
		Expect(block.Validate()).To(Succeed())
	})

	It("should keep a branch together with its delay slot at the size limit", func() {
		bus.LoadProgram(programBase, cpu.Words(
			cpu.Nop(),
			cpu.J(programBase),
			cpu.Nop(),
		))
		block, err := cpu.BuildBlock(bus, programBase, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Instructions).To(HaveLen(3))
	})

	It("should stop at the size limit", func() {
		block, err := cpu.BuildBlock(bus, programBase, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Instructions).To(HaveLen(4))
		Expect(block.Validate()).To(Succeed())
	})

	It("should stop after syscall", func() {
		bus.LoadProgram(programBase, cpu.Words(cpu.Nop(), cpu.Syscall(), cpu.Nop()))
		block, err := cpu.BuildBlock(bus, programBase, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Instructions).To(HaveLen(2))
		Expect(block.Instructions[1].CanTrap).To(BeTrue())
	})

	It("should reject a branch in a delay slot", func() {
		bus.LoadProgram(programBase, cpu.Words(
			cpu.J(programBase+0x100),
			cpu.J(programBase+0x200),
			cpu.Nop(),
		))
		block, err := cpu.BuildBlock(bus, programBase, 64)
		Expect(err).NotTo(HaveOccurred())
		Expect(block.Instructions).To(HaveLen(2))
		Expect(errors.Is(block.Validate(), errors.ErrInvalidBlock)).To(BeTrue())
	})

	It("should reject a block ending on a branch", func() {
		block := &cpu.CodeBlock{
			StartPC: programBase,
			Instructions: []cpu.CodeBlockInstruction{
				{Instruction: cpu.J(programBase), PC: programBase, IsBranch: true},
			},
		}
		Expect(errors.Is(block.Validate(), errors.ErrInvalidBlock)).To(BeTrue())
	})

	It("should refuse misaligned start addresses", func() {
		_, err := cpu.BuildBlock(bus, programBase+2, 64)
		Expect(errors.Is(err, errors.ErrInvalidBlock)).To(BeTrue())
	})
})

var _ = Describe("Field table", func() {
	It("should place general purpose registers contiguously", func() {
		for r := cpu.Reg(1); r < cpu.RegCount; r++ {
			Expect(cpu.RegisterOffset(r) - cpu.RegisterOffset(r-1)).To(Equal(uint32(4)))
		}
		Expect(cpu.RegisterOffset(cpu.RegZero)).To(Equal(cpu.RegistersOffset()))
	})

	It("should describe every field inside the generated-code-visible state", func() {
		for id := cpu.FieldPC; id <= cpu.FieldCop0EPC; id++ {
			Expect(id.String()).NotTo(BeEmpty())
			Expect(id.Size()).To(BeElementOf(uint8(1), uint8(4)))
			Expect(uint64(id.Offset()) + uint64(id.Size())).To(BeNumerically("<=", uint64(cpu.StateSize())))
		}
	})

	It("should address the live record", func() {
		core := cpu.NewCore(nil)
		core.Regs.R[cpu.RegT3] = 0xA5A5A5A5
		core.BranchWasTaken = true
		state := cpu.StateBytes(core)
		Expect(state[cpu.RegisterOffset(cpu.RegT3)]).To(Equal(byte(0xA5)))
		Expect(state[cpu.FieldBranchWasTaken.Offset()]).To(Equal(byte(1)))
	})
})

var _ = Describe("Disassemble", func() {
	DescribeTable("renders instructions",
		func(inst cpu.Instruction, want string) {
			Expect(cpu.Disassemble(programBase, inst)).To(Equal(want))
		},
		Entry("nop", cpu.Nop(), "nop"),
		Entry("addiu", cpu.Addiu(cpu.RegT0, cpu.RegSP, -8), "addiu $t0, $sp, -8"),
		Entry("ori", cpu.Ori(cpu.RegA0, cpu.RegZero, 0xBEEF), "ori $a0, $zero, 0xbeef"),
		Entry("lw", cpu.Lw(cpu.RegV0, cpu.RegA1, 16), "lw $v0, 16($a1)"),
		Entry("beq", cpu.Beq(programBase, cpu.RegT0, cpu.RegZero, programBase+0x20), "beq $t0, $zero, 0x80010020"),
		Entry("jr", cpu.Jr(cpu.RegRA), "jr $ra"),
		Entry("rfe", cpu.Rfe(), "rfe"),
	)
})
