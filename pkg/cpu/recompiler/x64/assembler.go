package x64

import (
	"encoding/binary"

	"psxrec/pkg/errors"
)

// Label marks a code position that jumps can target before it is bound.
type Label int

type fixup struct {
	label Label
	pos   int // offset of the rel32 field
}

// Assembler emits x86-64 machine code into a fixed buffer. Running out of
// room is sticky: writes stop, offsets keep counting, and Overflowed
// reports true so the caller can discard the code.
type Assembler struct {
	buf      []byte
	offset   int
	overflow bool

	labels []int // bound offset per label, -1 while unbound
	fixups []fixup
}

// NewAssembler creates an assembler targeting the given buffer
func NewAssembler(buf []byte) *Assembler {
	return &Assembler{buf: buf}
}

// Offset returns current write position
func (a *Assembler) Offset() int {
	return a.offset
}

// Overflowed reports whether any write did not fit in the buffer.
func (a *Assembler) Overflowed() bool {
	return a.overflow
}

// Bytes returns the assembled code
func (a *Assembler) Bytes() []byte {
	return a.buf[:min(a.offset, len(a.buf))]
}

// emit appends bytes to the buffer
func (a *Assembler) emit(bytes ...byte) {
	if a.offset+len(bytes) > len(a.buf) {
		a.overflow = true
	} else {
		copy(a.buf[a.offset:], bytes)
	}
	a.offset += len(bytes)
}

func (a *Assembler) emitUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	a.emit(b[:]...)
}

func (a *Assembler) emitUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.emit(b[:]...)
}

func (a *Assembler) emitUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.emit(b[:]...)
}

// emitImm writes an immediate of the given byte width.
func (a *Assembler) emitImm(width int, v int64) {
	switch width {
	case 1:
		a.emit(byte(v))
	case 2:
		a.emitUint16(uint16(v))
	default:
		a.emitUint32(uint32(v))
	}
}

func (a *Assembler) putUint32(pos int, v uint32) {
	if pos+4 <= len(a.buf) {
		binary.LittleEndian.PutUint32(a.buf[pos:], v)
	}
}

// rex builds REX prefix: 0100WRXB
// W=1 for 64-bit operand size
// R=1 if reg field uses R8-R15
// X=1 if SIB index uses R8-R15
// B=1 if rm field uses R8-R15
func rex(w, r, x, b bool) byte {
	var prefix byte = 0x40
	if w {
		prefix |= 0x08
	}
	if r {
		prefix |= 0x04
	}
	if x {
		prefix |= 0x02
	}
	if b {
		prefix |= 0x01
	}
	return prefix
}

// modRM builds ModR/M byte: [mod:2][reg:3][rm:3]
// mod should be pre-shifted: 0x00=no disp, 0x40=disp8, 0x80=disp32, 0xC0=register
func modRM(mod byte, reg, rm Reg) byte {
	return mod | ((byte(reg) & 7) << 3) | (byte(rm) & 7)
}

// isUniformByteReg reports registers whose low byte needs a REX prefix to
// be addressed (spl, bpl, sil, dil); without one they encode ah..bh.
func isUniformByteReg(r Reg) bool {
	return r >= RSP && r <= RDI
}

// prefixes emits the operand-size override and REX prefix for an
// instruction. reg, index and rm are the registers landing in
// ModRM.reg, SIB.index and ModRM.rm/SIB.base.
func (a *Assembler) prefixes(size Size, forceRex bool, reg, index, rm Reg) {
	if size == Size16 {
		a.emit(0x66)
	}
	w := size == Size64
	if w || forceRex || reg >= 8 || index >= 8 || rm >= 8 {
		a.emit(rex(w, reg >= 8, index >= 8, rm >= 8))
	}
}

func checkSize(size Size) {
	errors.Assertf(size.Valid(), "x64: invalid operand size %d", size)
}

// emitMem encodes the ModRM/SIB/displacement bytes for a memory operand.
func (a *Assembler) emitMem(reg Reg, m Mem) {
	errors.Assertf(m.Scale == 0 || m.Scale == 1 || m.Scale == 2 || m.Scale == 4 || m.Scale == 8,
		"x64: invalid index scale %d", m.Scale)
	errors.Assertf(m.Scale == 0 || m.Index != RSP, "x64: rsp cannot be an index register")

	var mod byte
	switch {
	case m.Disp == 0 && m.Base&7 != RBP:
		mod = 0x00
	case m.Disp >= -128 && m.Disp <= 127:
		mod = 0x40
	default:
		mod = 0x80
	}

	if m.Scale == 0 && m.Base&7 != RSP {
		a.emit(modRM(mod, reg, m.Base))
	} else {
		index := RSP // no index
		var scaleBits byte
		if m.Scale != 0 {
			index = m.Index
			switch m.Scale {
			case 2:
				scaleBits = 1
			case 4:
				scaleBits = 2
			case 8:
				scaleBits = 3
			}
		}
		a.emit(modRM(mod, reg, RSP), scaleBits<<6|(byte(index)&7)<<3|(byte(m.Base)&7))
	}

	switch mod {
	case 0x40:
		a.emit(byte(m.Disp))
	case 0x80:
		a.emitUint32(uint32(m.Disp))
	}
}

func memIndexReg(m Mem) Reg {
	if m.Scale == 0 {
		return 0
	}
	return m.Index
}

// opRR emits opcode with a register-direct ModRM.
func (a *Assembler) opRR(size Size, byteOperands bool, reg, rm Reg, opcode ...byte) {
	force := byteOperands && (isUniformByteReg(reg) || isUniformByteReg(rm))
	a.prefixes(size, force, reg, 0, rm)
	a.emit(opcode...)
	a.emit(modRM(0xC0, reg, rm))
}

// opRM emits opcode with a memory ModRM. byteReg marks reg as an 8-bit register operand.
func (a *Assembler) opRM(size Size, byteReg bool, reg Reg, m Mem, opcode ...byte) {
	a.prefixes(size, byteReg && isUniformByteReg(reg), reg, memIndexReg(m), m.Base)
	a.emit(opcode...)
	a.emitMem(reg, m)
}

// NewLabel allocates an unbound label.
func (a *Assembler) NewLabel() Label {
	a.labels = append(a.labels, -1)
	return Label(len(a.labels) - 1)
}

// Bind attaches l to the current offset and patches jumps already aimed at it.
func (a *Assembler) Bind(l Label) {
	errors.Assertf(int(l) < len(a.labels), "x64: unknown label %d", l)
	errors.Assertf(a.labels[l] < 0, "x64: label %d bound twice", l)
	a.labels[l] = a.offset

	remaining := a.fixups[:0]
	for _, f := range a.fixups {
		if f.label == l {
			a.putUint32(f.pos, uint32(int32(a.offset-(f.pos+4))))
		} else {
			remaining = append(remaining, f)
		}
	}
	a.fixups = remaining
}

// Finalize checks that every referenced label was bound.
func (a *Assembler) Finalize() {
	errors.Assertf(len(a.fixups) == 0, "x64: %d jumps target unbound labels", len(a.fixups))
}

// emitRel32 writes a rel32 field aimed at l, recording a fixup if l is unbound.
func (a *Assembler) emitRel32(l Label) {
	errors.Assertf(int(l) < len(a.labels), "x64: unknown label %d", l)
	pos := a.offset
	if target := a.labels[l]; target >= 0 {
		a.emitUint32(uint32(int32(target - (pos + 4))))
		return
	}
	a.fixups = append(a.fixups, fixup{label: l, pos: pos})
	a.emitUint32(0)
}

func fitsInt8(v int64) bool  { return v >= -128 && v <= 127 }
func fitsInt16(v int64) bool { return v >= -32768 && v <= 32767 }
func fitsInt32(v int64) bool { return v >= -(1<<31) && v <= (1<<31)-1 }

// fitsWidth reports whether v is representable at size either as a
// signed or an unsigned quantity.
func fitsWidth(v int64, size Size) bool {
	switch size {
	case Size8:
		return v >= -128 && v <= 255
	case Size16:
		return v >= -32768 && v <= 65535
	case Size32:
		return v >= -(1<<31) && v <= (1<<32)-1
	}
	return true
}
