package x64

// Reg is an x86-64 general purpose register in hardware encoding order.
type Reg byte

const (
	RAX Reg = 0
	RCX Reg = 1
	RDX Reg = 2
	RBX Reg = 3
	RSP Reg = 4
	RBP Reg = 5
	RSI Reg = 6
	RDI Reg = 7
	R8  Reg = 8
	R9  Reg = 9
	R10 Reg = 10
	R11 Reg = 11
	R12 Reg = 12
	R13 Reg = 13
	R14 Reg = 14
	R15 Reg = 15

	NumRegs = 16
)

// Size is an operand width in bits.
type Size uint8

const (
	Size8  Size = 8
	Size16 Size = 16
	Size32 Size = 32
	Size64 Size = 64
)

func (s Size) Bytes() int { return int(s) / 8 }

// Mask returns the value with all bits of the width set.
func (s Size) Mask() uint64 {
	if s == Size64 {
		return ^uint64(0)
	}
	return (uint64(1) << s) - 1
}

// Valid reports whether s is one of the four operand widths.
func (s Size) Valid() bool {
	return s == Size8 || s == Size16 || s == Size32 || s == Size64
}

var regNames = [4][NumRegs]string{
	{"al", "cl", "dl", "bl", "spl", "bpl", "sil", "dil", "r8b", "r9b", "r10b", "r11b", "r12b", "r13b", "r14b", "r15b"},
	{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di", "r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"},
	{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi", "r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"},
	{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi", "r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"},
}

// Name returns the assembler name of r at the given width.
func (r Reg) Name(size Size) string {
	if r >= NumRegs {
		return "?"
	}
	switch size {
	case Size8:
		return regNames[0][r]
	case Size16:
		return regNames[1][r]
	case Size32:
		return regNames[2][r]
	default:
		return regNames[3][r]
	}
}

func (r Reg) String() string { return r.Name(Size64) }

// Cond is an x86 condition code as encoded in Jcc/SETcc/CMOVcc.
type Cond byte

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2 // unsigned <
	CondAE Cond = 0x3 // unsigned >=
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6 // unsigned <=
	CondA  Cond = 0x7 // unsigned >
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC // signed <
	CondGE Cond = 0xD // signed >=
	CondLE Cond = 0xE // signed <=
	CondG  Cond = 0xF // signed >
)

// Invert returns the condition that holds exactly when c does not.
func (c Cond) Invert() Cond { return c ^ 1 }

// Mem is a memory operand [Base + Index*Scale + Disp]. Scale 0 means no index.
type Mem struct {
	Base  Reg
	Index Reg
	Scale uint8
	Disp  int32
}

func MemBase(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp}
}

func MemIndex(base, index Reg, scale uint8, disp int32) Mem {
	return Mem{Base: base, Index: index, Scale: scale, Disp: disp}
}

// AluOp selects the /digit of the classic two-operand ALU group.
type AluOp byte

const (
	AluAdd AluOp = 0
	AluOr  AluOp = 1
	AluAdc AluOp = 2
	AluSbb AluOp = 3
	AluAnd AluOp = 4
	AluSub AluOp = 5
	AluXor AluOp = 6
	AluCmp AluOp = 7
)

var aluNames = [8]string{"add", "or", "adc", "sbb", "and", "sub", "xor", "cmp"}

func (op AluOp) String() string { return aluNames[op&7] }

// ShiftOp selects the /digit of the shift group.
type ShiftOp byte

const (
	ShiftRol ShiftOp = 0
	ShiftRor ShiftOp = 1
	ShiftShl ShiftOp = 4
	ShiftShr ShiftOp = 5
	ShiftSar ShiftOp = 7
)
