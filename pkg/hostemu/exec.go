package hostemu

import (
	"math/bits"

	"golang.org/x/arch/x86/x86asm"

	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

// regInfo resolves a decoder register to its file index, width in bytes,
// and whether it names one of the legacy high-byte registers.
func regInfo(r x86asm.Reg) (idx int, size int, high bool, ok bool) {
	switch {
	case r >= x86asm.AL && r <= x86asm.BL:
		return int(r - x86asm.AL), 1, false, true
	case r >= x86asm.AH && r <= x86asm.BH:
		return int(r - x86asm.AH), 1, true, true
	case r >= x86asm.SPB && r <= x86asm.DIB:
		return int(r-x86asm.SPB) + 4, 1, false, true
	case r >= x86asm.R8B && r <= x86asm.R15B:
		return int(r-x86asm.R8B) + 8, 1, false, true
	case r >= x86asm.AX && r <= x86asm.R15W:
		return int(r - x86asm.AX), 2, false, true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return int(r - x86asm.EAX), 4, false, true
	case r >= x86asm.RAX && r <= x86asm.R15:
		return int(r - x86asm.RAX), 8, false, true
	}
	return 0, 0, false, false
}

func mask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(uint(size)*8) - 1
}

func signBit(v uint64, size int) bool {
	return v>>(uint(size)*8-1)&1 != 0
}

func signExtend(v uint64, size int) uint64 {
	switch size {
	case 1:
		return uint64(int64(int8(v)))
	case 2:
		return uint64(int64(int16(v)))
	case 4:
		return uint64(int64(int32(v)))
	}
	return v
}

func (m *Machine) address(mem x86asm.Mem) (uint64, error) {
	if mem.Segment != 0 {
		return 0, errors.Newf("hostemu: segment override %v", mem.Segment)
	}
	// the decoder leaves disp32 zero-extended
	addr := uint64(int64(int32(mem.Disp)))
	if mem.Base != 0 {
		idx, size, _, ok := regInfo(mem.Base)
		if !ok || size != 8 {
			return 0, errors.Newf("hostemu: unsupported base register %v", mem.Base)
		}
		addr += m.Regs[idx]
	}
	if mem.Index != 0 {
		idx, size, _, ok := regInfo(mem.Index)
		if !ok || size != 8 {
			return 0, errors.Newf("hostemu: unsupported index register %v", mem.Index)
		}
		addr += m.Regs[idx] * uint64(mem.Scale)
	}
	return addr, nil
}

// operandSize returns the width in bytes of a register or memory operand.
func operandSize(inst *x86asm.Inst, arg x86asm.Arg) int {
	switch a := arg.(type) {
	case x86asm.Reg:
		_, size, _, _ := regInfo(a)
		return size
	case x86asm.Mem:
		return inst.MemBytes
	}
	return 0
}

func (m *Machine) load(inst *x86asm.Inst, arg x86asm.Arg, size int) (uint64, error) {
	switch a := arg.(type) {
	case x86asm.Reg:
		idx, rsize, high, ok := regInfo(a)
		if !ok {
			return 0, errors.Newf("hostemu: unsupported register %v", a)
		}
		if high {
			return m.Regs[idx] >> 8 & 0xFF, nil
		}
		return m.Regs[idx] & mask(rsize), nil
	case x86asm.Mem:
		addr, err := m.address(a)
		if err != nil {
			return 0, err
		}
		return m.Read(addr, inst.MemBytes)
	case x86asm.Imm:
		return uint64(a) & mask(size), nil
	}
	return 0, errors.Newf("hostemu: unsupported operand %v", arg)
}

func (m *Machine) store(inst *x86asm.Inst, arg x86asm.Arg, v uint64) error {
	switch a := arg.(type) {
	case x86asm.Reg:
		idx, size, high, ok := regInfo(a)
		if !ok {
			return errors.Newf("hostemu: unsupported register %v", a)
		}
		switch {
		case high:
			m.Regs[idx] = m.Regs[idx]&^0xFF00 | (v&0xFF)<<8
		case size == 4:
			// 32-bit writes clear the upper half
			m.Regs[idx] = v & 0xFFFFFFFF
		case size == 8:
			m.Regs[idx] = v
		default:
			m.Regs[idx] = m.Regs[idx]&^mask(size) | v&mask(size)
		}
		return nil
	case x86asm.Mem:
		addr, err := m.address(a)
		if err != nil {
			return err
		}
		return m.Write(addr, inst.MemBytes, v)
	}
	return errors.Newf("hostemu: cannot store to %v", arg)
}

func (m *Machine) setResultFlags(v uint64, size int) {
	v &= mask(size)
	m.zf = v == 0
	m.sf = signBit(v, size)
}

func (m *Machine) add(a, b, carry uint64, size int) uint64 {
	mk := mask(size)
	full := a + b + carry
	res := full & mk
	if size == 8 {
		_, c := bits.Add64(a, b, carry)
		m.cf = c != 0
	} else {
		m.cf = full > mk
	}
	m.of = signBit(a, size) == signBit(b, size) && signBit(res, size) != signBit(a, size)
	m.setResultFlags(res, size)
	return res
}

func (m *Machine) sub(a, b, borrow uint64, size int) uint64 {
	mk := mask(size)
	res := (a - b - borrow) & mk
	m.cf = a < b || a-b < borrow
	m.of = signBit(a, size) != signBit(b, size) && signBit(res, size) != signBit(a, size)
	m.setResultFlags(res, size)
	return res
}

func (m *Machine) logic(res uint64, size int) uint64 {
	m.cf, m.of = false, false
	m.setResultFlags(res, size)
	return res & mask(size)
}

func (m *Machine) condition(op x86asm.Op) (bool, bool) {
	switch op {
	case x86asm.JO, x86asm.SETO:
		return m.of, true
	case x86asm.JNO, x86asm.SETNO:
		return !m.of, true
	case x86asm.JB, x86asm.SETB:
		return m.cf, true
	case x86asm.JAE, x86asm.SETAE:
		return !m.cf, true
	case x86asm.JE, x86asm.SETE:
		return m.zf, true
	case x86asm.JNE, x86asm.SETNE:
		return !m.zf, true
	case x86asm.JBE, x86asm.SETBE:
		return m.cf || m.zf, true
	case x86asm.JA, x86asm.SETA:
		return !m.cf && !m.zf, true
	case x86asm.JS, x86asm.SETS:
		return m.sf, true
	case x86asm.JNS, x86asm.SETNS:
		return !m.sf, true
	case x86asm.JL, x86asm.SETL:
		return m.sf != m.of, true
	case x86asm.JGE, x86asm.SETGE:
		return m.sf == m.of, true
	case x86asm.JLE, x86asm.SETLE:
		return m.zf || m.sf != m.of, true
	case x86asm.JG, x86asm.SETG:
		return !m.zf && m.sf == m.of, true
	}
	return false, false
}

// target resolves the destination of a call or jump.
func (m *Machine) target(inst *x86asm.Inst, next uint64) (uint64, error) {
	switch a := inst.Args[0].(type) {
	case x86asm.Rel:
		return next + uint64(int64(a)), nil
	case x86asm.Reg, x86asm.Mem:
		return m.load(inst, a, 8)
	}
	return 0, errors.Newf("hostemu: unsupported branch operand %v", inst.Args[0])
}

func (m *Machine) shift(op x86asm.Op, v, count uint64, size int) uint64 {
	width := uint64(size * 8)
	if size == 8 {
		count &= 0x3F
	} else {
		count &= 0x1F
	}
	if count == 0 {
		return v
	}
	mk := mask(size)
	var res uint64
	switch op {
	case x86asm.SHL:
		res = (v << count) & mk
		if count <= width {
			m.cf = v>>(width-count)&1 != 0
		} else {
			m.cf = false
		}
		m.of = signBit(res, size) != m.cf
	case x86asm.SHR:
		res = v >> count
		m.cf = v>>(count-1)&1 != 0
		m.of = signBit(v, size)
	case x86asm.SAR:
		s := int64(signExtend(v, size))
		if count >= 64 {
			count = 63
		}
		res = uint64(s>>count) & mk
		m.cf = uint64(s>>(count-1))&1 != 0
		m.of = false
	case x86asm.ROL:
		c := count % width
		res = (v<<c | v>>((width-c)%width)) & mk
		m.cf = res&1 != 0
		m.of = signBit(res, size) != m.cf
		return res
	case x86asm.ROR:
		c := count % width
		res = (v>>c | v<<((width-c)%width)) & mk
		m.cf = signBit(res, size)
		m.of = signBit(res, size) != (res>>(width-2)&1 != 0)
		return res
	}
	m.setResultFlags(res, size)
	return res
}

func (m *Machine) step() error {
	inst, err := m.fetch()
	if err != nil {
		return err
	}
	pc := m.RIP
	next := pc + uint64(inst.Len)
	m.RIP = next

	fail := func(err error) error {
		return errors.Wrapf(err, "at 0x%x: %s", pc, x86asm.IntelSyntax(inst, pc, nil))
	}

	if taken, ok := m.condition(inst.Op); ok {
		if _, isRel := inst.Args[0].(x86asm.Rel); isRel {
			if taken {
				t, err := m.target(&inst, next)
				if err != nil {
					return fail(err)
				}
				m.RIP = t
			}
			return nil
		}
		v := uint64(0)
		if taken {
			v = 1
		}
		if err := m.store(&inst, inst.Args[0], v); err != nil {
			return fail(err)
		}
		return nil
	}

	switch inst.Op {
	case x86asm.NOP:
		return nil

	case x86asm.MOV:
		size := operandSize(&inst, inst.Args[0])
		v, err := m.load(&inst, inst.Args[1], size)
		if err != nil {
			return fail(err)
		}
		if err := m.store(&inst, inst.Args[0], v); err != nil {
			return fail(err)
		}

	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		srcSize := operandSize(&inst, inst.Args[1])
		v, err := m.load(&inst, inst.Args[1], srcSize)
		if err != nil {
			return fail(err)
		}
		if inst.Op != x86asm.MOVZX {
			v = signExtend(v, srcSize) & mask(operandSize(&inst, inst.Args[0]))
		}
		if err := m.store(&inst, inst.Args[0], v); err != nil {
			return fail(err)
		}

	case x86asm.LEA:
		mem, ok := inst.Args[1].(x86asm.Mem)
		if !ok {
			return fail(errors.New("lea without memory operand"))
		}
		addr, err := m.address(mem)
		if err != nil {
			return fail(err)
		}
		if err := m.store(&inst, inst.Args[0], addr&mask(operandSize(&inst, inst.Args[0]))); err != nil {
			return fail(err)
		}

	case x86asm.ADD, x86asm.ADC, x86asm.SUB, x86asm.SBB, x86asm.CMP,
		x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.TEST:
		size := operandSize(&inst, inst.Args[0])
		a, err := m.load(&inst, inst.Args[0], size)
		if err != nil {
			return fail(err)
		}
		b, err := m.load(&inst, inst.Args[1], size)
		if err != nil {
			return fail(err)
		}
		carry := uint64(0)
		if m.cf {
			carry = 1
		}
		var res uint64
		writeBack := true
		switch inst.Op {
		case x86asm.ADD:
			res = m.add(a, b, 0, size)
		case x86asm.ADC:
			res = m.add(a, b, carry, size)
		case x86asm.SUB:
			res = m.sub(a, b, 0, size)
		case x86asm.SBB:
			res = m.sub(a, b, carry, size)
		case x86asm.CMP:
			m.sub(a, b, 0, size)
			writeBack = false
		case x86asm.AND:
			res = m.logic(a&b, size)
		case x86asm.OR:
			res = m.logic(a|b, size)
		case x86asm.XOR:
			res = m.logic(a^b, size)
		case x86asm.TEST:
			m.logic(a&b, size)
			writeBack = false
		}
		if writeBack {
			if err := m.store(&inst, inst.Args[0], res); err != nil {
				return fail(err)
			}
		}

	case x86asm.INC, x86asm.DEC, x86asm.NOT, x86asm.NEG:
		size := operandSize(&inst, inst.Args[0])
		a, err := m.load(&inst, inst.Args[0], size)
		if err != nil {
			return fail(err)
		}
		var res uint64
		switch inst.Op {
		case x86asm.INC:
			cf := m.cf
			res = m.add(a, 1, 0, size)
			m.cf = cf
		case x86asm.DEC:
			cf := m.cf
			res = m.sub(a, 1, 0, size)
			m.cf = cf
		case x86asm.NOT:
			res = ^a & mask(size)
		case x86asm.NEG:
			res = m.sub(0, a, 0, size)
			m.cf = a != 0
		}
		if err := m.store(&inst, inst.Args[0], res); err != nil {
			return fail(err)
		}

	case x86asm.IMUL:
		if inst.Args[1] == nil {
			return fail(errors.New("one-operand imul is not supported"))
		}
		size := operandSize(&inst, inst.Args[0])
		a, err := m.load(&inst, inst.Args[1], size)
		if err != nil {
			return fail(err)
		}
		var b uint64
		if inst.Args[2] != nil {
			b = uint64(inst.Args[2].(x86asm.Imm))
		} else if b, err = m.load(&inst, inst.Args[0], size); err != nil {
			return fail(err)
		}
		sa, sb := int64(signExtend(a, size)), int64(signExtend(b&mask(size), size))
		hi, lo := bits.Mul64(uint64(sa), uint64(sb))
		if sa < 0 {
			hi -= uint64(sb)
		}
		if sb < 0 {
			hi -= uint64(sa)
		}
		res := lo & mask(size)
		if size == 8 {
			m.cf = !(hi == 0 && int64(lo) >= 0 || hi == ^uint64(0) && int64(lo) < 0)
		} else {
			m.cf = signExtend(res, size) != lo
		}
		m.of = m.cf
		m.setResultFlags(res, size)
		if err := m.store(&inst, inst.Args[0], res); err != nil {
			return fail(err)
		}

	case x86asm.SHL, x86asm.SHR, x86asm.SAR, x86asm.ROL, x86asm.ROR:
		size := operandSize(&inst, inst.Args[0])
		v, err := m.load(&inst, inst.Args[0], size)
		if err != nil {
			return fail(err)
		}
		count := uint64(1)
		if inst.Args[1] != nil {
			if count, err = m.load(&inst, inst.Args[1], 1); err != nil {
				return fail(err)
			}
		}
		if err := m.store(&inst, inst.Args[0], m.shift(inst.Op, v, count, size)); err != nil {
			return fail(err)
		}

	case x86asm.PUSH:
		v, err := m.load(&inst, inst.Args[0], 8)
		if err != nil {
			return fail(err)
		}
		if err := m.push(v); err != nil {
			return fail(err)
		}

	case x86asm.POP:
		v, err := m.pop()
		if err != nil {
			return fail(err)
		}
		if err := m.store(&inst, inst.Args[0], v); err != nil {
			return fail(err)
		}

	case x86asm.CALL:
		t, err := m.target(&inst, next)
		if err != nil {
			return fail(err)
		}
		if b, ok := m.functions[t]; ok {
			if err := m.callBound(t, b); err != nil {
				return fail(err)
			}
			return nil
		}
		if err := m.push(next); err != nil {
			return fail(err)
		}
		m.RIP = t

	case x86asm.JMP:
		t, err := m.target(&inst, next)
		if err != nil {
			return fail(err)
		}
		if b, ok := m.functions[t]; ok {
			return fail(errors.Newf("tail call into bound function %s", b.name))
		}
		m.RIP = t

	case x86asm.RET:
		t, err := m.pop()
		if err != nil {
			return fail(err)
		}
		m.RIP = t

	case x86asm.INT:
		return fail(errors.New("breakpoint"))

	default:
		return fail(errors.Newf("unsupported instruction %v", inst.Op))
	}
	return nil
}

// Reg returns the full 64-bit value of r.
func (m *Machine) Reg(r x64.Reg) uint64 { return m.Regs[r] }
