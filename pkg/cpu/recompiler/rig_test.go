package recompiler

import (
	"testing"

	"psxrec/pkg/codebuffer"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/hostemu"
	"psxrec/pkg/ram"
)

const (
	rigCodeBase   = 0x1000_0000
	rigStateBase  = 0x2000_0000
	rigHelperBase = 0x3000_0000
	rigProbe      = rigHelperBase + 0x800

	programBase = 0x80010000
	dataBase    = 0x80100000
)

var testABIs = []*ABI{ABISysV, ABIWin64}

func rigHelpers() HelperTable {
	return HelperTable{
		DispatcherStub:       rigHelperBase + 0xF00,
		EventCheckStub:       rigHelperBase + 0xF80,
		InterpretInstruction: rigHelperBase + 0x000,
		ReadMemoryByte:       rigHelperBase + 0x010,
		ReadMemoryHalfWord:   rigHelperBase + 0x020,
		ReadMemoryWord:       rigHelperBase + 0x030,
		WriteMemoryByte:      rigHelperBase + 0x040,
		WriteMemoryHalfWord:  rigHelperBase + 0x050,
		WriteMemoryWord:      rigHelperBase + 0x060,
	}
}

func convention(abi *ABI) hostemu.CallingConvention {
	return hostemu.CallingConvention{ArgRegs: abi.ArgRegs, ReturnReg: abi.ReturnReg, CallerSaved: abi.CallerSaved}
}

// rig compiles into a heap code buffer and runs the result on hostemu
// against a real core.
type rig struct {
	t   *testing.T
	abi *ABI
	buf *codebuffer.Buffer
	gen *CodeGenerator

	// probes are extra functions bound into every machine
	probes map[uintptr]hostemu.Function
}

func newRig(t *testing.T, abi *ABI, helpers HelperTable, opts ...Option) *rig {
	t.Helper()
	buf, err := codebuffer.NewHeap(1<<16, codebuffer.DefaultAlignment, rigCodeBase)
	if err != nil {
		t.Fatalf("NewHeap: %v", err)
	}
	opts = append([]Option{WithABI(abi)}, opts...)
	return &rig{t: t, abi: abi, buf: buf, gen: NewCodeGenerator(buf, helpers, opts...)}
}

func (r *rig) machine(core *cpu.Core) *hostemu.Machine {
	t := r.t
	m := hostemu.New(hostemu.WithCallingConvention(convention(r.abi)), hostemu.WithMaxSteps(1_000_000))
	base, mem := r.buf.Region()
	if err := m.Map("code", uint64(base), mem); err != nil {
		t.Fatalf("map code: %v", err)
	}
	if err := m.Map("state", rigStateBase, cpu.StateBytes(core)); err != nil {
		t.Fatalf("map state: %v", err)
	}

	h := r.gen.Helpers()
	m.BindExit(uint64(h.DispatcherStub), "dispatcher")
	m.BindExit(uint64(h.EventCheckStub), "event_check")

	checkCore := func(name string, args []uint64) {
		if args[0] != rigStateBase {
			t.Errorf("%s called with core 0x%x, want 0x%x", name, args[0], uint64(rigStateBase))
		}
	}
	bind := func(addr uintptr, name string, nargs int, fn hostemu.Function) {
		if addr == 0 {
			return
		}
		m.BindFunction(uint64(addr), name, nargs, func(args []uint64) uint64 {
			checkCore(name, args)
			return fn(args)
		})
	}
	for addr, fn := range r.probes {
		m.BindFunction(uint64(addr), "probe", 4, fn)
	}
	bind(h.InterpretInstruction, "interpret", 1, func(args []uint64) uint64 {
		if cpu.InterpretInstruction(core) {
			return 1
		}
		return 0
	})
	bind(h.ReadMemoryByte, "read8", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryByte(core, uint32(args[1])))
	})
	bind(h.ReadMemoryHalfWord, "read16", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryHalfWord(core, uint32(args[1])))
	})
	bind(h.ReadMemoryWord, "read32", 2, func(args []uint64) uint64 {
		return uint64(cpu.ReadMemoryWord(core, uint32(args[1])))
	})
	bind(h.WriteMemoryByte, "write8", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryByte(core, uint32(args[1]), uint32(args[2]))
		return 0
	})
	bind(h.WriteMemoryHalfWord, "write16", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryHalfWord(core, uint32(args[1]), uint32(args[2]))
		return 0
	})
	bind(h.WriteMemoryWord, "write32", 3, func(args []uint64) uint64 {
		cpu.WriteMemoryWord(core, uint32(args[1]), uint32(args[2]))
		return 0
	})
	return m
}

func calleeSentinel(r HostReg) uint64 { return 0x5A5A_0000_0000_0000 | uint64(r)<<8 }

// run executes the code at entry with core as its argument and checks the
// block left the stack and callee-saved registers as it found them.
func (r *rig) run(entry uintptr, core *cpu.Core) (*hostemu.Machine, hostemu.Exit) {
	t := r.t
	t.Helper()
	m := r.machine(core)
	for _, reg := range r.abi.CalleeSaved {
		m.Regs[reg] = calleeSentinel(reg)
	}
	exit, err := m.Run(uint64(entry), rigStateBase)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, r.listing(entry))
	}
	if want := m.StackTop() - 8; exit.RSP != want {
		t.Errorf("exit rsp 0x%x, want 0x%x", exit.RSP, want)
	}
	for _, reg := range r.abi.CalleeSaved {
		if got := m.Reg(reg); got != calleeSentinel(reg) {
			t.Errorf("%s = 0x%x after exit, want 0x%x", reg.Name(RegSize64), got, calleeSentinel(reg))
		}
	}
	for _, c := range m.Calls {
		if c.RSP%16 != 0 {
			t.Errorf("call to %s with rsp 0x%x", c.Name, c.RSP)
		}
	}
	return m, exit
}

func (r *rig) listing(entry uintptr) string {
	base, _ := r.buf.Region()
	end := base + uintptr(r.buf.Used())
	if entry >= end {
		return ""
	}
	return x64.Disassemble(r.buf.Bytes(entry, int(end-entry)), uint64(entry))
}

func (r *rig) compile(bus cpu.Bus, pc uint32, maxInstructions int) *cpu.CodeBlock {
	t := r.t
	t.Helper()
	block, err := cpu.BuildBlock(bus, pc, maxInstructions)
	if err != nil {
		t.Fatalf("BuildBlock: %v", err)
	}
	if _, _, err := r.gen.CompileBlock(block); err != nil {
		t.Fatalf("CompileBlock %s: %v", block, err)
	}
	return block
}

// emitRaw assembles a hand-built block body between the usual prologue
// and exit, for exercising the cache and value operations directly.
func (r *rig) emitRaw(body func(g *CodeGenerator)) uintptr {
	g := r.gen
	entry := r.buf.FreeCodePointer()
	g.beginBlock(&cpu.CodeBlock{StartPC: programBase}, r.buf.FreeCode())
	g.emitPrologue()
	body(g)
	g.rc.UnpinAll()
	g.rc.FreeScratches()
	g.emitBlockExit()
	g.asm.Finalize()
	if g.asm.Overflowed() {
		r.t.Fatalf("raw block overflowed")
	}
	r.buf.CommitCode(g.asm.Offset())
	r.buf.Align(r.buf.Alignment(), codebuffer.Padding)
	return entry
}

// newGuest returns a core at programBase over fresh RAM holding program.
func newGuest(program ...cpu.Instruction) (*ram.Bus, *cpu.Core) {
	bus := ram.NewBus(ram.NewEmptyRAM())
	bus.LoadProgram(programBase, cpu.Words(program...))
	core := cpu.NewCore(bus)
	core.SetPC(programBase)
	core.Cop0.SR = 0
	core.Downcount = 1 << 20
	return bus, core
}

// interpretBlock steps core through block the way the dispatcher's
// interpreter path would.
func interpretBlock(core *cpu.Core, block *cpu.CodeBlock) {
	for range block.Instructions {
		core.Step()
		if core.ExceptionRaised {
			return
		}
	}
}
