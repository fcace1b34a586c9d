// Package codecache maps guest PCs to compiled blocks and runs the
// dispatch loop around them.
package codecache

import (
	"sort"

	"go.uber.org/zap"

	"psxrec/pkg/config"
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
	"psxrec/pkg/logging"
)

// DefaultMaxBlockInstructions bounds blocks built by the cache.
const DefaultMaxBlockInstructions = 64

type Option func(*Cache)

func WithMode(mode config.ExecutionMode) Option {
	return func(c *Cache) { c.mode = mode }
}

func WithMaxBlockInstructions(n int) Option {
	return func(c *Cache) { c.maxBlockInstructions = n }
}

// WithLogger sets the logger of the cache and its code generator. A nil
// logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache holds the compiled blocks of one core.
type Cache struct {
	core    *cpu.Core
	bus     cpu.Bus
	backend Backend
	gen     *recompiler.CodeGenerator
	logger  *zap.Logger

	mode                 config.ExecutionMode
	maxBlockInstructions int

	blocks map[uint32]*cpu.CodeBlock
	stats  Stats
}

// New creates a cache for core. backend may be nil; a recompiler cache
// without one falls back to the interpreter.
func New(core *cpu.Core, backend Backend, opts ...Option) *Cache {
	c := &Cache{
		core:                 core,
		bus:                  core.Bus(),
		backend:              backend,
		logger:               zap.NewNop(),
		mode:                 config.ModeRecompiler,
		maxBlockInstructions: DefaultMaxBlockInstructions,
		blocks:               make(map[uint32]*cpu.CodeBlock),
	}
	for _, opt := range opts {
		opt(c)
	}
	if backend == nil && c.mode == config.ModeRecompiler {
		c.mode = config.ModeInterpreter
	}
	if c.mode == config.ModeRecompiler {
		c.gen = recompiler.NewCodeGenerator(backend.Buffer(), backend.Helpers(),
			recompiler.WithABI(backend.ABI()),
			recompiler.WithLogger(c.logger))
	}
	return c
}

// NewFromConfig builds the backend the settings select and a cache over it.
func NewFromConfig(core *cpu.Core, cfg config.Config, logger *zap.Logger) (*Cache, error) {
	opts := []Option{
		WithMode(cfg.CPU.ExecutionMode),
		WithMaxBlockInstructions(cfg.CPU.MaxBlockInstructions),
		WithLogger(logger),
	}
	if cfg.CPU.ExecutionMode != config.ModeRecompiler {
		return New(core, nil, opts...), nil
	}

	var backend Backend
	var err error
	switch cfg.CPU.Backend {
	case config.BackendNative:
		backend, err = NewNativeBackend(cfg.CodeBuffer.Size, cfg.CodeBuffer.Alignment)
	default:
		backend, err = NewEmulatedBackend(cfg.CodeBuffer.Size, cfg.CodeBuffer.Alignment, recompiler.HostABI)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s backend", cfg.CPU.Backend)
	}
	return New(core, backend, opts...), nil
}

func (c *Cache) Mode() config.ExecutionMode { return c.mode }

func (c *Cache) Backend() Backend { return c.backend }

// Execute runs guest code until PendingTicks reaches budget. Compiled and
// interpreted blocks always run to their end, so PendingTicks may pass
// budget.
func (c *Cache) Execute(budget int32) error {
	core := c.core
	core.Downcount = budget
	if c.mode == config.ModeInterpreter {
		for core.PendingTicks < budget {
			core.Step()
		}
		return nil
	}

	for core.PendingTicks < budget {
		pc := core.Regs.PC
		if pc&3 != 0 || core.NextInstructionIsBranchDelaySlot || core.Regs.NPC != pc+cpu.InstructionSize {
			// misaligned PCs and pending branches belong to the interpreter
			core.Step()
			continue
		}
		block, err := c.lookup(pc)
		if err != nil {
			return err
		}
		c.stats.BlocksExecuted++
		if block.Interpreted {
			c.interpret(block)
			continue
		}
		if _, err := c.backend.Run(core, block.HostCode); err != nil {
			return errors.Wrapf(err, "%s", block)
		}
	}
	return nil
}

func (c *Cache) interpret(block *cpu.CodeBlock) {
	for range block.Instructions {
		c.core.Step()
		if c.core.ExceptionRaised {
			return
		}
	}
}

func (c *Cache) lookup(pc uint32) (*cpu.CodeBlock, error) {
	if block, ok := c.blocks[pc]; ok {
		return block, nil
	}
	block, err := cpu.BuildBlock(c.bus, pc, c.maxBlockInstructions)
	if err != nil {
		return nil, err
	}
	if err := c.compile(block); err != nil {
		return nil, err
	}
	c.blocks[pc] = block
	return block, nil
}

// compile compiles block, flushing once when the buffer is full. Blocks
// that still cannot be compiled are marked for interpretation, as is every
// block of the cached interpreter.
func (c *Cache) compile(block *cpu.CodeBlock) error {
	if c.gen == nil {
		block.Interpreted = true
		c.stats.BlocksInterpreted++
		return nil
	}
	_, _, err := c.gen.CompileBlock(block)
	if errors.Is(err, errors.ErrBufferExhausted) {
		c.Flush()
		_, _, err = c.gen.CompileBlock(block)
	}
	switch {
	case err == nil:
		c.stats.BlocksCompiled++
		return nil
	case errors.Is(err, errors.ErrUnsupportedInstruction),
		errors.Is(err, errors.ErrInvalidBlock),
		errors.Is(err, errors.ErrBufferExhausted):
		block.Interpreted = true
		c.stats.BlocksInterpreted++
		c.logger.Debug("interpreting block",
			logging.Hex("start_pc", block.StartPC),
			zap.Int("instructions", len(block.Instructions)),
			zap.Error(err))
		return nil
	}
	return err
}

// Flush drops every block and empties the code buffer.
func (c *Cache) Flush() {
	c.logger.Info("flushing code cache",
		zap.Int("blocks", len(c.blocks)),
		zap.Int("code_bytes", c.Stats().CodeBytes))
	c.blocks = make(map[uint32]*cpu.CodeBlock)
	if c.backend != nil {
		c.backend.Reset()
	}
	c.stats.Flushes++
}

// InvalidateBlock forgets the block starting at pc so the next lookup
// rebuilds it from memory. Its host code stays in the buffer until the
// next flush.
func (c *Cache) InvalidateBlock(pc uint32) {
	delete(c.blocks, pc)
}

// Block returns the block starting at pc, if one was built.
func (c *Cache) Block(pc uint32) (*cpu.CodeBlock, bool) {
	block, ok := c.blocks[pc]
	return block, ok
}

// Blocks returns the cached blocks ordered by start PC.
func (c *Cache) Blocks() []*cpu.CodeBlock {
	blocks := make([]*cpu.CodeBlock, 0, len(c.blocks))
	for _, b := range c.blocks {
		blocks = append(blocks, b)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].StartPC < blocks[j].StartPC })
	return blocks
}

// HostListing disassembles the host code of a compiled block.
func (c *Cache) HostListing(block *cpu.CodeBlock) string {
	if c.backend == nil || block.Interpreted || block.HostCodeSize == 0 {
		return ""
	}
	code := c.backend.Buffer().Bytes(block.HostCode, block.HostCodeSize)
	return x64.Disassemble(code, uint64(block.HostCode))
}

// Close releases the backend's code buffer.
func (c *Cache) Close() error {
	if c.backend == nil {
		return nil
	}
	return c.backend.Close()
}

type Stats struct {
	BlocksCompiled    int
	BlocksInterpreted int
	BlocksExecuted    int
	Flushes           int
	CodeBytes         int
}

func (c *Cache) Stats() Stats {
	s := c.stats
	if c.backend != nil {
		s.CodeBytes = c.backend.Buffer().Used()
	}
	return s
}
