package codecache

import (
	"psxrec/pkg/codebuffer"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler"
	"psxrec/pkg/errors"
	"psxrec/pkg/hostemu"
)

// Addresses the emulated host uses. The code buffer reports addresses
// from emulatedCodeBase and the core is mapped at emulatedStateBase.
const (
	emulatedCodeBase   = 0x1000_0000
	emulatedStateBase  = 0x2000_0000
	emulatedHelperBase = 0x3000_0000
)

// EmulatedBackend runs generated code on hostemu, so it works on any host
// and with either ABI. Helpers are Go functions bound at fixed addresses.
type EmulatedBackend struct {
	buf     *codebuffer.Buffer
	abi     *recompiler.ABI
	helpers recompiler.HelperTable
	machine *hostemu.Machine

	// core is the record mapped at emulatedStateBase
	core *cpu.Core
}

func NewEmulatedBackend(size, alignment int, abi *recompiler.ABI) (*EmulatedBackend, error) {
	buf, err := codebuffer.NewHeap(size, alignment, emulatedCodeBase)
	if err != nil {
		return nil, err
	}
	b := &EmulatedBackend{
		buf: buf,
		abi: abi,
		helpers: recompiler.HelperTable{
			DispatcherStub:       emulatedHelperBase + 0xF00,
			EventCheckStub:       emulatedHelperBase + 0xF80,
			InterpretInstruction: emulatedHelperBase + 0x000,
			ReadMemoryByte:       emulatedHelperBase + 0x010,
			ReadMemoryHalfWord:   emulatedHelperBase + 0x020,
			ReadMemoryWord:       emulatedHelperBase + 0x030,
			WriteMemoryByte:      emulatedHelperBase + 0x040,
			WriteMemoryHalfWord:  emulatedHelperBase + 0x050,
			WriteMemoryWord:      emulatedHelperBase + 0x060,
		},
	}

	b.machine = hostemu.New(hostemu.WithCallingConvention(hostemu.CallingConvention{
		ArgRegs:     abi.ArgRegs,
		ReturnReg:   abi.ReturnReg,
		CallerSaved: abi.CallerSaved,
	}))
	base, mem := buf.Region()
	if err := b.machine.Map("code", uint64(base), mem); err != nil {
		return nil, err
	}
	b.bind()
	return b, nil
}

func (b *EmulatedBackend) bind() {
	h := b.helpers
	m := b.machine
	m.BindExit(uint64(h.DispatcherStub), "dispatcher")
	m.BindExit(uint64(h.EventCheckStub), "event_check")

	m.BindFunction(uint64(h.InterpretInstruction), "interpret", 1, func([]uint64) uint64 {
		if cpu.InterpretInstruction(b.core) {
			return 1
		}
		return 0
	})
	m.BindFunction(uint64(h.ReadMemoryByte), "read8", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryByte(b.core, uint32(args[1])))
	})
	m.BindFunction(uint64(h.ReadMemoryHalfWord), "read16", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryHalfWord(b.core, uint32(args[1])))
	})
	m.BindFunction(uint64(h.ReadMemoryWord), "read32", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryWord(b.core, uint32(args[1])))
	})
	m.BindFunction(uint64(h.WriteMemoryByte), "write8", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryByte(b.core, uint32(args[1]), uint32(args[2]))
		return 0
	})
	m.BindFunction(uint64(h.WriteMemoryHalfWord), "write16", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryHalfWord(b.core, uint32(args[1]), uint32(args[2]))
		return 0
	})
	m.BindFunction(uint64(h.WriteMemoryWord), "write32", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryWord(b.core, uint32(args[1]), uint32(args[2]))
		return 0
	})
}

func (b *EmulatedBackend) Name() string                    { return "emulated" }
func (b *EmulatedBackend) ABI() *recompiler.ABI            { return b.abi }
func (b *EmulatedBackend) Buffer() *codebuffer.Buffer      { return b.buf }
func (b *EmulatedBackend) Helpers() recompiler.HelperTable { return b.helpers }
func (b *EmulatedBackend) Reset()                          { b.buf.Reset() }
func (b *EmulatedBackend) Close() error                    { return b.buf.Free() }

// Machine exposes the host emulator, mainly for inspecting Calls.
func (b *EmulatedBackend) Machine() *hostemu.Machine { return b.machine }

func (b *EmulatedBackend) Run(core *cpu.Core, entry uintptr) (Exit, error) {
	if core != b.core {
		b.machine.Unmap("state")
		if err := b.machine.Map("state", emulatedStateBase, cpu.StateBytes(core)); err != nil {
			return 0, err
		}
		b.core = core
	}
	b.machine.Calls = b.machine.Calls[:0]

	exit, err := b.machine.Run(uint64(entry), emulatedStateBase)
	if err != nil {
		return 0, errors.Wrapf(err, "emulated block at 0x%x", entry)
	}
	switch exit.Name {
	case "dispatcher":
		return ExitDispatcher, nil
	case "event_check":
		return ExitEventCheck, nil
	}
	return 0, errors.Newf("emulated block at 0x%x left through %q", entry, exit.Name)
}
