package recompiler

import (
	"fmt"

	"go.uber.org/zap"

	"psxrec/pkg/codebuffer"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

// DefaultMaxBlockSize bounds the number of guest instructions per block.
const DefaultMaxBlockSize = 1024

// NoResult asks EmitFunctionCall to discard the return value.
const NoResult RegSize = 0

type Option func(*CodeGenerator)

// WithABI selects the calling convention of the generated code. The
// default is HostABI.
func WithABI(abi *ABI) Option {
	return func(g *CodeGenerator) { g.abi = abi }
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *CodeGenerator) { g.logger = logger }
}

func WithMaxBlockSize(n int) Option {
	return func(g *CodeGenerator) { g.maxBlockSize = n }
}

// CodeGenerator compiles one block at a time into a code buffer.
//
// Generated blocks are called as fn(core) under the selected ABI. The
// core pointer lives in RBP for the whole block. A block leaves by
// jumping to the event check stub when PendingTicks reached Downcount
// and to the dispatcher stub otherwise, with the callee-saved registers
// already restored and the stack as it was on entry.
//
// Not safe for concurrent use.
type CodeGenerator struct {
	buffer       *codebuffer.Buffer
	helpers      HelperTable
	abi          *ABI
	logger       *zap.Logger
	maxBlockSize int

	asm *x64.Assembler
	rc  *RegisterCache

	// per-block state
	block         *cpu.CodeBlock
	delay         DelayState
	delayedPCAdd  uint32
	delayedCycles int32

	// per-instruction state
	cbi       *cpu.CodeBlockInstruction
	category  Category
	loadValue Value
	loadOld   Value
}

func NewCodeGenerator(buffer *codebuffer.Buffer, helpers HelperTable, opts ...Option) *CodeGenerator {
	g := &CodeGenerator{
		buffer:       buffer,
		helpers:      helpers,
		abi:          HostABI,
		logger:       zap.NewNop(),
		maxBlockSize: DefaultMaxBlockSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.rc = NewRegisterCache(g.abi)
	return g
}

func (g *CodeGenerator) ABI() *ABI { return g.abi }

func (g *CodeGenerator) RegisterCache() *RegisterCache { return g.rc }

// Helpers returns the table baked into generated code.
func (g *CodeGenerator) Helpers() HelperTable { return g.helpers }

// beginBlock resets all compile state and directs emission into code.
func (g *CodeGenerator) beginBlock(block *cpu.CodeBlock, code []byte) {
	g.asm = x64.NewAssembler(code)
	g.rc.Reset(g.asm)
	g.block = block
	g.delay = BlockEntryDelayState
	g.delayedPCAdd = 0
	g.delayedCycles = 0
	g.cbi = nil
}

// CompileBlock translates block into the code buffer and returns the entry
// point and size, which are also stored in the block. On failure nothing
// is committed to the buffer.
func (g *CodeGenerator) CompileBlock(block *cpu.CodeBlock) (uintptr, int, error) {
	if err := block.Validate(); err != nil {
		return 0, 0, err
	}
	if len(block.Instructions) > g.maxBlockSize {
		return 0, 0, errors.CompileErrorf(block.StartPC, errors.ErrInvalidBlock,
			"%d instructions exceed the block limit of %d", len(block.Instructions), g.maxBlockSize)
	}
	if err := g.helpers.Validate(); err != nil {
		return 0, 0, err
	}

	entry := g.buffer.FreeCodePointer()
	g.beginBlock(block, g.buffer.FreeCode())

	g.emitPrologue()
	for i := range block.Instructions {
		if err := g.compileInstruction(&block.Instructions[i]); err != nil {
			return 0, 0, err
		}
	}
	errors.Assertf(g.delay.PC == PCNoDelay, "block 0x%08x ends inside a branch delay slot", block.StartPC)
	g.emitBlockExit()
	g.asm.Finalize()

	if g.asm.Overflowed() {
		return 0, 0, errors.CompileErrorf(block.StartPC, errors.ErrBufferExhausted,
			"block needs %d bytes, %d free", g.asm.Offset(), g.buffer.FreeCodeSpace())
	}
	size := g.asm.Offset()
	g.buffer.CommitCode(size)
	g.buffer.Align(g.buffer.Alignment(), codebuffer.Padding)

	block.HostCode = entry
	block.HostCodeSize = size
	g.logger.Debug("compiled block",
		zap.String("start_pc", fmt.Sprintf("0x%08x", block.StartPC)),
		zap.Int("instructions", len(block.Instructions)),
		zap.Int("host_bytes", size))
	if ce := g.logger.Check(zap.DebugLevel, "host code"); ce != nil {
		ce.Write(zap.String("listing", x64.Disassemble(g.asm.Bytes(), uint64(entry))))
	}
	return entry, size, nil
}

func (g *CodeGenerator) field(f cpu.FieldID) x64.Mem {
	return x64.MemBase(CPUPointer, int32(f.Offset()))
}

func (g *CodeGenerator) emitPrologue() {
	for _, r := range g.abi.CalleeSaved {
		g.asm.Push(r)
	}
	g.asm.MovRR(RegSize64, CPUPointer, g.abi.ArgRegs[0])
}

func (g *CodeGenerator) emitEpilogue() {
	for i := len(g.abi.CalleeSaved) - 1; i >= 0; i-- {
		g.asm.Pop(g.abi.CalleeSaved[i])
	}
}

// syncPC applies the compile-time PC lag to PC and NPC.
func (g *CodeGenerator) syncPC() {
	if g.delayedPCAdd == 0 {
		return
	}
	d := int64(g.delayedPCAdd)
	g.asm.AluMI(x64.AluAdd, RegSize32, g.field(cpu.FieldPC), d)
	g.asm.AluMI(x64.AluAdd, RegSize32, g.field(cpu.FieldNPC), d)
	g.delayedPCAdd = 0
}

func (g *CodeGenerator) flushCycles() {
	if g.delayedCycles == 0 {
		return
	}
	g.asm.AluMI(x64.AluAdd, RegSize32, g.field(cpu.FieldPendingTicks), int64(g.delayedCycles))
	g.delayedCycles = 0
}

func (g *CodeGenerator) emitBlockExit() {
	g.rc.FlushAll(false)
	g.syncPC()
	g.flushCycles()
	g.emitExitToDispatcher()
}

// emitExitToDispatcher leaves the block through the event check stub when
// the time slice is used up and through the dispatcher otherwise.
func (g *CodeGenerator) emitExitToDispatcher() {
	const tmp = x64.RAX
	g.asm.MovRM(RegSize32, tmp, g.field(cpu.FieldPendingTicks))
	g.asm.AluRM(x64.AluCmp, RegSize32, tmp, g.field(cpu.FieldDowncount))
	g.emitEpilogue()

	event := g.asm.NewLabel()
	g.asm.Jcc(x64.CondGE, event)
	g.asm.MovRI(RegSize64, tmp, uint64(g.helpers.DispatcherStub))
	g.asm.JmpR(tmp)
	g.asm.Bind(event)
	g.asm.MovRI(RegSize64, tmp, uint64(g.helpers.EventCheckStub))
	g.asm.JmpR(tmp)
}

// emitExceptionExit is the out path after a helper raised a guest
// exception. The helper already redirected PC and settled the load delay
// in the state record. Dirty registers are stored without changing the
// cache state, which stays valid for the path that continues.
func (g *CodeGenerator) emitExceptionExit() {
	for r := cpu.Reg(1); r < cpu.RegCount; r++ {
		if st := g.rc.State(r); st.Kind == GuestCached && st.Dirty {
			g.asm.MovMR(RegSize32, g.rc.guestMem(r), st.Host)
		}
	}
	g.asm.AluMI(x64.AluAdd, RegSize32, g.field(cpu.FieldPendingTicks), 1)
	g.emitExitToDispatcher()
}

// EmitBlockExitOnBool leaves the block through the exception path when
// the low byte of v is non-zero.
func (g *CodeGenerator) EmitBlockExitOnBool(v Value) {
	errors.Assertf(v.IsHostReg(), "exit on bool: %s is not a register", v)
	cont := g.asm.NewLabel()
	g.asm.TestRR(RegSize8, v.Reg, v.Reg)
	g.asm.Jcc(x64.CondE, cont)
	g.emitExceptionExit()
	g.asm.Bind(cont)
}

func (g *CodeGenerator) emitBlockExitOnException() {
	cont := g.asm.NewLabel()
	g.asm.TestMI(RegSize8, g.field(cpu.FieldExceptionRaised), 1)
	g.asm.Jcc(x64.CondE, cont)
	g.emitExceptionExit()
	g.asm.Bind(cont)
}

// EmitFunctionCall calls the native function fn with up to four
// arguments. With a result size other than NoResult the return value is
// copied into a new scratch register.
func (g *CodeGenerator) EmitFunctionCall(result RegSize, fn uintptr, args ...Value) Value {
	errors.Assertf(len(args) <= 4, "call: %d arguments", len(args))
	errors.Assertf(fn != 0, "call: null function")

	ret := Value{Kind: ValueNone, Reg: NoHostReg}
	var keep []HostReg
	if result != NoResult {
		ret = g.rc.AllocateScratch(result, NoHostReg)
		keep = append(keep, ret.Reg)
	}

	pushed, adjust := g.PrepareStackForCall(len(args), keep...)
	g.emitCallArguments(args)
	g.asm.MovRI(RegSize64, x64.RAX, uint64(fn))
	g.asm.CallR(x64.RAX)
	if result != NoResult {
		g.asm.MovRR(result, ret.Reg, g.abi.ReturnReg)
	}
	g.RestoreStackAfterCall(pushed, adjust)
	return ret
}

// PrepareStackForCall saves live caller-saved registers other than keep
// and aligns the stack for a call with nargs arguments, reserving shadow
// space and stack argument slots.
func (g *CodeGenerator) PrepareStackForCall(nargs int, keep ...HostReg) ([]HostReg, int) {
	pushed := g.rc.PushCallerSavedRegisters(keep...)
	stackArgs := max(0, nargs-len(g.abi.ArgRegs))
	frame := g.abi.FrameSize() + 8*len(pushed)
	adjust := alignUp(frame+g.abi.ShadowSpace+8*stackArgs, g.abi.StackAlignment) - frame
	if adjust > 0 {
		g.asm.AluRI(x64.AluSub, RegSize64, x64.RSP, int64(adjust))
	}
	return pushed, adjust
}

func (g *CodeGenerator) RestoreStackAfterCall(pushed []HostReg, adjust int) {
	if adjust > 0 {
		g.asm.AluRI(x64.AluAdd, RegSize64, x64.RSP, int64(adjust))
	}
	g.rc.PopCallerSavedRegisters(pushed)
}

type argMove struct {
	dst, src HostReg
	size     RegSize
}

// emitCallArguments places args per the ABI. Register sources are moved
// as one parallel assignment so no source is overwritten before it is
// read; RAX breaks cycles.
func (g *CodeGenerator) emitCallArguments(args []Value) {
	const tmp = x64.RAX
	nreg := len(g.abi.ArgRegs)

	for i := nreg; i < len(args); i++ {
		g.EmitCopyValue(tmp, args[i])
		slot := x64.MemBase(x64.RSP, int32(g.abi.ShadowSpace+8*(i-nreg)))
		g.asm.MovMR(RegSize64, slot, tmp)
	}

	var moves []argMove
	for i := 0; i < min(len(args), nreg); i++ {
		if a := args[i]; a.IsHostReg() && a.Reg != g.abi.ArgRegs[i] {
			moves = append(moves, argMove{dst: g.abi.ArgRegs[i], src: a.Reg, size: max(a.Size, RegSize32)})
		}
	}
	for len(moves) > 0 {
		progressed := false
		for i := 0; i < len(moves); i++ {
			if isMoveSource(moves, moves[i].dst) {
				continue
			}
			g.asm.MovRR(moves[i].size, moves[i].dst, moves[i].src)
			moves = append(moves[:i], moves[i+1:]...)
			i--
			progressed = true
		}
		if !progressed {
			d := moves[0].dst
			g.asm.MovRR(RegSize64, tmp, d)
			for j := range moves {
				if moves[j].src == d {
					moves[j].src = tmp
				}
			}
		}
	}

	for i := 0; i < min(len(args), nreg); i++ {
		if a := args[i]; !a.IsHostReg() {
			g.EmitCopyValue(g.abi.ArgRegs[i], a)
		}
	}
}

func isMoveSource(moves []argMove, r HostReg) bool {
	for _, m := range moves {
		if m.src == r {
			return true
		}
	}
	return false
}

func fallbackCategory(cbi *cpu.CodeBlockInstruction) Category {
	switch {
	case cbi.IsBranch:
		return CategoryFallbackBranch
	case cbi.IsLoad:
		return CategoryFallbackLoad
	}
	return CategoryFallback
}

func (g *CodeGenerator) compileInstruction(cbi *cpu.CodeBlockInstruction) error {
	inst := cbi.Instruction
	if ce := g.logger.Check(zap.DebugLevel, "compiling instruction"); ce != nil {
		ce.Write(zap.String("pc", fmt.Sprintf("0x%08x", cbi.PC)),
			zap.String("instruction", cpu.Disassemble(cbi.PC, inst)),
			zap.Stringer("delay", g.delay))
	}
	errors.Assertf((g.delay.PC == PCAwaitingBranchCommit) == cbi.IsBranchDelaySlot,
		"0x%08x: delay state %s disagrees with the block", cbi.PC, g.delay)

	emit, category := g.selectHandler(inst)
	if emit == nil {
		if !g.helpers.HasFallback() {
			return errors.CompileErrorf(cbi.PC, errors.ErrUnsupportedInstruction,
				"no handler or fallback for %s", cpu.Disassemble(cbi.PC, inst))
		}
		emit, category = g.emitFallback, fallbackCategory(cbi)
	}

	g.cbi = cbi
	g.category = category
	g.loadValue, g.loadOld = Value{}, Value{}
	g.instructionPrologue()
	emit(inst)
	g.instructionEpilogue()
	return nil
}

// instructionPrologue brings the state record to what the interpreter
// would hold while executing the instruction, as far as the instruction
// can observe it.
func (g *CodeGenerator) instructionPrologue() {
	cbi := g.cbi
	fullState := cbi.CanTrap || g.category.IsFallback()

	if cbi.IsBranchDelaySlot {
		errors.Assertf(g.delayedPCAdd == 0, "0x%08x: PC lag of %d in a delay slot", cbi.PC, g.delayedPCAdd)
		t := g.rc.Allocate(NoHostReg)
		g.asm.MovRM(RegSize32, t, g.field(cpu.FieldNPC))
		g.asm.MovMR(RegSize32, g.field(cpu.FieldPC), t)
		g.asm.AluRI(x64.AluAdd, RegSize32, t, cpu.InstructionSize)
		g.asm.MovMR(RegSize32, g.field(cpu.FieldNPC), t)
		if fullState {
			g.asm.MovRM(RegSize8, t, g.field(cpu.FieldBranchWasTaken))
			g.asm.MovMR(RegSize8, g.field(cpu.FieldCurrentInstructionWasBranchTaken), t)
		}
		g.asm.MovMI(RegSize8, g.field(cpu.FieldNextInstructionIsBranchDelaySlot), 0)
		g.asm.MovMI(RegSize8, g.field(cpu.FieldBranchWasTaken), 0)
		g.rc.Free(t)
	} else {
		g.delayedPCAdd += cpu.InstructionSize
	}

	if fullState || cbi.IsBranch {
		g.syncPC()
	}
	if fullState {
		g.asm.MovMI(RegSize32, g.field(cpu.FieldCurrentInstruction), int64(int32(cbi.Instruction)))
		g.asm.MovMI(RegSize32, g.field(cpu.FieldCurrentInstructionPC), int64(int32(cbi.PC)))
		g.asm.MovMI(RegSize8, g.field(cpu.FieldCurrentInstructionInBranchDelaySlot), boolImm(cbi.IsBranchDelaySlot))
		if !cbi.IsBranchDelaySlot {
			g.asm.MovMI(RegSize8, g.field(cpu.FieldCurrentInstructionWasBranchTaken), 0)
		}
		g.asm.MovMI(RegSize8, g.field(cpu.FieldExceptionRaised), 0)
	}
}

// instructionEpilogue commits the load issued by the previous instruction
// and moves this instruction's load into the slot, as UpdateLoadDelay
// does. Fallback instructions ran UpdateLoadDelay themselves.
func (g *CodeGenerator) instructionEpilogue() {
	g.delayedCycles++
	g.rc.UnpinAll()

	loadReg := cpu.NoReg
	if g.category == CategoryLoad {
		loadReg = g.cbi.Instruction.Rt()
	}
	if !g.category.IsFallback() {
		g.commitLoadDelay()
		g.shiftLoadDelay(loadReg)
	}

	g.delay = Transition(g.delay, g.category, loadReg)
	g.rc.FreeScratches()
}

func (g *CodeGenerator) commitLoadDelay() {
	slot := g.delay.Load
	switch {
	case !slot.Pending:
		return

	case slot.Known():
		h := g.rc.Bind(slot.Reg)
		skip := g.asm.NewLabel()
		g.asm.AluRM(x64.AluCmp, RegSize32, h, g.field(cpu.FieldLoadDelayOldValue))
		g.asm.Jcc(x64.CondNE, skip)
		g.asm.MovRM(RegSize32, h, g.field(cpu.FieldLoadDelayValue))
		g.asm.Bind(skip)
		g.rc.MarkDirty(slot.Reg)

	default:
		// destination only known at run time: commit through the state record
		g.rc.FlushAll(true)
		idx := g.rc.Allocate(NoHostReg)
		val := g.rc.Allocate(NoHostReg)
		skip := g.asm.NewLabel()
		dst := x64.MemIndex(CPUPointer, idx, 4, int32(cpu.RegistersOffset()))
		g.asm.MovzxRM(RegSize32, idx, RegSize8, g.field(cpu.FieldLoadDelayReg))
		g.asm.AluRI(x64.AluCmp, RegSize32, idx, int64(cpu.RegCount))
		g.asm.Jcc(x64.CondAE, skip)
		g.asm.MovRM(RegSize32, val, dst)
		g.asm.AluRM(x64.AluCmp, RegSize32, val, g.field(cpu.FieldLoadDelayOldValue))
		g.asm.Jcc(x64.CondNE, skip)
		g.asm.MovRM(RegSize32, val, g.field(cpu.FieldLoadDelayValue))
		g.asm.MovMR(RegSize32, dst, val)
		g.asm.Bind(skip)
		g.rc.Free(idx)
		g.rc.Free(val)
	}
}

func (g *CodeGenerator) shiftLoadDelay(loadReg cpu.Reg) {
	if loadReg != cpu.NoReg {
		g.asm.MovMI(RegSize8, g.field(cpu.FieldLoadDelayReg), int64(loadReg))
		g.EmitStoreField(cpu.FieldLoadDelayValue, g.loadValue)
		g.EmitStoreField(cpu.FieldLoadDelayOldValue, g.loadOld)
		return
	}
	if g.delay.Load.Pending {
		g.asm.MovMI(RegSize8, g.field(cpu.FieldLoadDelayReg), int64(cpu.NoReg))
		g.asm.MovMI(RegSize32, g.field(cpu.FieldLoadDelayValue), 0)
		g.asm.MovMI(RegSize32, g.field(cpu.FieldLoadDelayOldValue), 0)
	}
}

// emitFallback runs the instruction through the interpreter. The state
// record is the only copy of guest state across the call.
func (g *CodeGenerator) emitFallback(cpu.Instruction) {
	g.rc.FlushAll(true)
	g.flushCycles()
	raised := g.EmitFunctionCall(RegSize8, g.helpers.InterpretInstruction, HostValue(RegSize64, CPUPointer))
	g.EmitBlockExitOnBool(raised)
}

func boolImm(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
