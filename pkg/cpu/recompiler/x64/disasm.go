package x64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as one Intel-syntax instruction per line,
// addressed from base. Undecodable bytes are printed as "(bad)" and
// skipped one at a time.
func Disassemble(code []byte, base uint64) string {
	var sb strings.Builder
	for pos := 0; pos < len(code); {
		inst, err := x86asm.Decode(code[pos:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&sb, "0x%04x: %-16x (bad)\n", base+uint64(pos), code[pos:pos+1])
			pos++
			continue
		}
		raw := code[pos : pos+inst.Len]
		text := x86asm.IntelSyntax(inst, base+uint64(pos), nil)
		fmt.Fprintf(&sb, "0x%04x: %-16x %s\n", base+uint64(pos), raw, text)
		pos += inst.Len
	}
	return sb.String()
}

// HostRegister maps r at the given width to the decoder's register name.
func HostRegister(r Reg, size Size) x86asm.Reg {
	switch size {
	case Size8:
		switch {
		case r < RSP:
			return x86asm.AL + x86asm.Reg(r)
		case r < R8:
			return x86asm.SPB + x86asm.Reg(r-RSP)
		default:
			return x86asm.R8B + x86asm.Reg(r-R8)
		}
	case Size16:
		return x86asm.AX + x86asm.Reg(r)
	case Size32:
		return x86asm.EAX + x86asm.Reg(r)
	}
	return x86asm.RAX + x86asm.Reg(r)
}
