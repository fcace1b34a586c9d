// Package hostemu executes the x86-64 subset produced by the recompiler
// without running it natively. Code is decoded with x86asm; calls into
// bound addresses invoke Go functions, and jumps to exit addresses stop
// execution. Guest state and code buffers are mapped by reference, so
// writes land in the caller's memory.
package hostemu

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

const (
	DefaultStackBase = 0x7fff_0000_0000
	DefaultStackSize = 64 * 1024
	DefaultMaxSteps  = 10_000_000

	// ReturnSentinel is pushed as the return address of Run's entry call.
	ReturnSentinel = 0x0000_dead_0000_0000
)

// ErrStepLimit is returned when Run executes MaxSteps instructions
// without reaching an exit.
var ErrStepLimit = errors.New("hostemu: step limit reached")

// Function is a Go implementation bound to a host address. It receives
// the values of the convention's argument registers.
type Function func(args []uint64) uint64

// CallingConvention describes how bound functions receive arguments and
// which registers they may clobber.
type CallingConvention struct {
	ArgRegs     []x64.Reg
	ReturnReg   x64.Reg
	CallerSaved []x64.Reg
}

// SysV is the default convention.
var SysV = CallingConvention{
	ArgRegs:     []x64.Reg{x64.RDI, x64.RSI, x64.RDX, x64.RCX, x64.R8, x64.R9},
	ReturnReg:   x64.RAX,
	CallerSaved: []x64.Reg{x64.RAX, x64.RCX, x64.RDX, x64.RSI, x64.RDI, x64.R8, x64.R9, x64.R10, x64.R11},
}

type binding struct {
	name  string
	nargs int
	fn    Function
}

// CallRecord describes one call into a bound function.
type CallRecord struct {
	Addr uint64
	Name string
	Args []uint64
	RSP  uint64 // value at the call instruction, before the return address push
}

// Exit describes how Run stopped.
type Exit struct {
	Name  string
	Addr  uint64
	RSP   uint64
	Steps int
}

type region struct {
	name string
	base uint64
	data []byte
}

// Machine is a single-threaded x86-64 interpreter.
type Machine struct {
	Regs [x64.NumRegs]uint64
	RIP  uint64

	zf, sf, cf, of bool

	regions   []region
	functions map[uint64]binding
	exits     map[uint64]string
	conv      CallingConvention

	stackBase uint64
	stack     []byte

	Calls    []CallRecord
	MaxSteps int
}

type Option func(*Machine)

// WithCallingConvention selects the register convention for bound functions.
func WithCallingConvention(conv CallingConvention) Option {
	return func(m *Machine) { m.conv = conv }
}

// WithMaxSteps bounds the instructions a single Run may execute.
func WithMaxSteps(n int) Option {
	return func(m *Machine) { m.MaxSteps = n }
}

// New creates a machine with a private stack region.
func New(opts ...Option) *Machine {
	m := &Machine{
		functions: make(map[uint64]binding),
		exits:     make(map[uint64]string),
		conv:      SysV,
		stackBase: DefaultStackBase,
		stack:     make([]byte, DefaultStackSize),
		MaxSteps:  DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.regions = append(m.regions, region{name: "stack", base: m.stackBase, data: m.stack})
	return m
}

// StackTop returns the highest stack address (16-byte aligned).
func (m *Machine) StackTop() uint64 {
	return m.stackBase + uint64(len(m.stack))
}

// Map makes data addressable at base. The slice is used directly.
func (m *Machine) Map(name string, base uint64, data []byte) error {
	end := base + uint64(len(data))
	for _, r := range m.regions {
		if base < r.base+uint64(len(r.data)) && r.base < end {
			return errors.Newf("hostemu: region %s [0x%x, 0x%x) overlaps %s", name, base, end, r.name)
		}
	}
	m.regions = append(m.regions, region{name: name, base: base, data: data})
	return nil
}

// Unmap removes the region with the given name.
func (m *Machine) Unmap(name string) {
	kept := m.regions[:0]
	for _, r := range m.regions {
		if r.name != name {
			kept = append(kept, r)
		}
	}
	m.regions = kept
}

// BindFunction routes calls to addr into fn. nargs limits how many
// argument registers are recorded in Calls.
func (m *Machine) BindFunction(addr uint64, name string, nargs int, fn Function) {
	m.functions[addr] = binding{name: name, nargs: nargs, fn: fn}
}

// BindExit makes control reaching addr end Run.
func (m *Machine) BindExit(addr uint64, name string) {
	m.exits[addr] = name
}

// Run calls entry with the given arguments, as if from a caller whose
// stack was 16-byte aligned, and executes until an exit address is reached.
func (m *Machine) Run(entry uint64, args ...uint64) (Exit, error) {
	errors.Assertf(len(args) <= len(m.conv.ArgRegs), "hostemu: %d arguments exceed the convention", len(args))
	for i, v := range args {
		m.Regs[m.conv.ArgRegs[i]] = v
	}
	m.Regs[x64.RSP] = m.StackTop()
	if err := m.push(ReturnSentinel); err != nil {
		return Exit{}, err
	}
	m.RIP = entry

	for steps := 0; ; steps++ {
		if name, ok := m.exits[m.RIP]; ok {
			return Exit{Name: name, Addr: m.RIP, RSP: m.Regs[x64.RSP], Steps: steps}, nil
		}
		if m.RIP == ReturnSentinel {
			return Exit{Name: "return", Addr: m.RIP, RSP: m.Regs[x64.RSP], Steps: steps}, nil
		}
		if steps >= m.MaxSteps {
			return Exit{Steps: steps}, errors.Wrapf(ErrStepLimit, "at 0x%x", m.RIP)
		}
		if err := m.step(); err != nil {
			return Exit{Addr: m.RIP, Steps: steps}, err
		}
	}
}

func (m *Machine) find(addr uint64, size int) ([]byte, error) {
	for _, r := range m.regions {
		if addr >= r.base && addr-r.base+uint64(size) <= uint64(len(r.data)) {
			off := addr - r.base
			return r.data[off : off+uint64(size)], nil
		}
	}
	return nil, errors.Newf("hostemu: unmapped access of %d bytes at 0x%x", size, addr)
}

// Read loads a little-endian value of size bytes.
func (m *Machine) Read(addr uint64, size int) (uint64, error) {
	b, err := m.find(addr, size)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// Write stores a little-endian value of size bytes.
func (m *Machine) Write(addr uint64, size int, v uint64) error {
	b, err := m.find(addr, size)
	if err != nil {
		return err
	}
	switch size {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

func (m *Machine) push(v uint64) error {
	m.Regs[x64.RSP] -= 8
	return m.Write(m.Regs[x64.RSP], 8, v)
}

func (m *Machine) pop() (uint64, error) {
	v, err := m.Read(m.Regs[x64.RSP], 8)
	m.Regs[x64.RSP] += 8
	return v, err
}

// callBound invokes a bound Go function and clobbers what the callee may.
func (m *Machine) callBound(addr uint64, b binding) error {
	rsp := m.Regs[x64.RSP]
	if rsp%16 != 0 {
		return errors.Newf("hostemu: call to %s with misaligned rsp 0x%x", b.name, rsp)
	}
	args := make([]uint64, len(m.conv.ArgRegs))
	for i, r := range m.conv.ArgRegs {
		args[i] = m.Regs[r]
	}
	n := min(b.nargs, len(args))
	m.Calls = append(m.Calls, CallRecord{Addr: addr, Name: b.name, Args: append([]uint64(nil), args[:n]...), RSP: rsp})

	ret := b.fn(args)
	for _, r := range m.conv.CallerSaved {
		m.Regs[r] = poison(r)
	}
	m.Regs[m.conv.ReturnReg] = ret
	m.zf, m.sf, m.cf, m.of = true, true, true, true
	return nil
}

// poison is the value left in a clobbered register after a bound call.
func poison(r x64.Reg) uint64 {
	return 0xBADC0FFEE0DD0000 | uint64(r)
}

// String lists the register file.
func (m *Machine) String() string {
	s := fmt.Sprintf("rip=0x%x zf=%t sf=%t cf=%t of=%t\n", m.RIP, m.zf, m.sf, m.cf, m.of)
	for r := x64.Reg(0); r < x64.NumRegs; r++ {
		s += fmt.Sprintf("%-4s= 0x%016x\n", r, m.Regs[r])
	}
	return s
}

func (m *Machine) fetch() (x86asm.Inst, error) {
	var window [15]byte
	n := 0
	for ; n < len(window); n++ {
		b, err := m.find(m.RIP+uint64(n), 1)
		if err != nil {
			break
		}
		window[n] = b[0]
	}
	if n == 0 {
		return x86asm.Inst{}, errors.Newf("hostemu: instruction fetch from unmapped 0x%x", m.RIP)
	}
	inst, err := x86asm.Decode(window[:n], 64)
	if err != nil {
		return inst, errors.Wrapf(err, "hostemu: decode at 0x%x", m.RIP)
	}
	return inst, nil
}
