package cpu

// Reg names a general purpose guest register.
type Reg uint8

const (
	RegZero Reg = iota
	RegAT
	RegV0
	RegV1
	RegA0
	RegA1
	RegA2
	RegA3
	RegT0
	RegT1
	RegT2
	RegT3
	RegT4
	RegT5
	RegT6
	RegT7
	RegS0
	RegS1
	RegS2
	RegS3
	RegS4
	RegS5
	RegS6
	RegS7
	RegT8
	RegT9
	RegK0
	RegK1
	RegGP
	RegSP
	RegFP
	RegRA

	RegCount
)

// NoReg marks an empty load delay slot.
const NoReg = RegCount

var regNames = [RegCount]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

func (r Reg) String() string {
	if r < RegCount {
		return regNames[r]
	}
	return "none"
}

const (
	InstructionSize = 4

	ResetVector = 0xBFC00000

	exceptionVectorRAM  = 0x80000080
	exceptionVectorBIOS = 0xBFC00180
)

// Exception is the ExcCode field of the Cause register.
type Exception uint8

const (
	ExceptionInterrupt           Exception = 0x00
	ExceptionAddressErrorLoad    Exception = 0x04
	ExceptionAddressErrorStore   Exception = 0x05
	ExceptionSyscall             Exception = 0x08
	ExceptionBreakpoint          Exception = 0x09
	ExceptionReservedInstr       Exception = 0x0A
	ExceptionCoprocessorUnusable Exception = 0x0B
	ExceptionOverflow            Exception = 0x0C
)

func (e Exception) String() string {
	switch e {
	case ExceptionInterrupt:
		return "Int"
	case ExceptionAddressErrorLoad:
		return "AdEL"
	case ExceptionAddressErrorStore:
		return "AdES"
	case ExceptionSyscall:
		return "Sys"
	case ExceptionBreakpoint:
		return "Bp"
	case ExceptionReservedInstr:
		return "RI"
	case ExceptionCoprocessorUnusable:
		return "CpU"
	case ExceptionOverflow:
		return "Ov"
	default:
		return "?"
	}
}

// Cop0 register numbers
const (
	Cop0BadVaddr = 8
	Cop0SR       = 12
	Cop0Cause    = 13
	Cop0EPC      = 14
	Cop0PRID     = 15
)

const (
	srBEV        = 1 << 22
	srModeMask   = 0x3F
	causeBD      = 1 << 31
	causeBT      = 1 << 30
	causeCEMask  = 3 << 28
	causeExcMask = 0x1F << 2
)
