package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"psxrec/pkg/codecache"
	"psxrec/pkg/config"
	"psxrec/pkg/cpu"
	"psxrec/pkg/errors"
	"psxrec/pkg/logging"
	"psxrec/pkg/ram"
)

type options struct {
	configPath string
	mode       string
	program    string
	load       uint32
	ticks      int32
	dump       bool
	compare    bool
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML settings file")
	mode := flag.String("mode", "", "Execution mode override: interpreter, cached-interpreter or recompiler")
	program := flag.String("program", "", "Raw MIPS program (little-endian words)")
	load := flag.String("load", "0x80010000", "Guest address to load the program at and start from")
	ticks := flag.Int("ticks", 100000, "Cycles to run")
	dump := flag.Bool("dump", false, "Print guest and host disassembly of every compiled block")
	compare := flag.Bool("compare", false, "Also run the interpreter and diff the final states")
	flag.Parse()

	if *program == "" {
		fmt.Fprintln(os.Stderr, "Error: -program is required")
		flag.Usage()
		os.Exit(2)
	}
	addr, err := strconv.ParseUint(*load, 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid -load %q: %v\n", *load, err)
		os.Exit(2)
	}
	if *ticks <= 0 || *ticks > 1<<30 {
		fmt.Fprintf(os.Stderr, "Error: -ticks must be in (0, %d]\n", 1<<30)
		os.Exit(2)
	}

	opts := options{
		configPath: *configPath,
		mode:       *mode,
		program:    *program,
		load:       uint32(addr),
		ticks:      int32(*ticks),
		dump:       *dump,
		compare:    *compare,
	}
	if err := run(opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return cfg, err
		}
	}
	if opts.mode != "" {
		mode, err := config.ParseExecutionMode(opts.mode)
		if err != nil {
			return cfg, err
		}
		cfg.CPU.ExecutionMode = mode
	}
	return cfg, nil
}

// readProgram decodes a file of little-endian instruction words.
func readProgram(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read program")
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, errors.Newf("program %s is %d bytes, want a non-empty multiple of 4", path, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return words, nil
}

func newGuest(words []uint32, load uint32) (*ram.Bus, *cpu.Core) {
	bus := ram.NewBus(ram.NewEmptyRAM())
	bus.LoadProgram(load, words)
	core := cpu.NewCore(bus)
	core.SetPC(load)
	return bus, core
}

func run(opts options, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	words, err := readProgram(opts.program)
	if err != nil {
		return err
	}

	bus, core := newGuest(words, opts.load)
	cache, err := codecache.NewFromConfig(core, cfg, logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	logger.Info("running",
		zap.Stringer("mode", cfg.CPU.ExecutionMode),
		zap.String("backend", cfg.CPU.Backend),
		logging.Hex("load", opts.load),
		zap.Int("words", len(words)),
		zap.Int32("ticks", opts.ticks))
	if err := cache.Execute(opts.ticks); err != nil {
		return err
	}
	s := cache.Stats()
	logger.Info("finished",
		zap.Int32("pending_ticks", core.PendingTicks),
		zap.Int("blocks_compiled", s.BlocksCompiled),
		zap.Int("blocks_interpreted", s.BlocksInterpreted),
		zap.Int("blocks_executed", s.BlocksExecuted),
		zap.Int("flushes", s.Flushes),
		zap.Int("code_bytes", s.CodeBytes))

	if opts.dump {
		dumpBlocks(out, cache)
	}
	fmt.Fprint(out, core.DumpRegisters())

	if opts.compare && cfg.CPU.ExecutionMode != config.ModeInterpreter {
		return compareWithInterpreter(out, words, opts.load, bus, core)
	}
	return nil
}

func dumpBlocks(out io.Writer, cache *codecache.Cache) {
	for _, block := range cache.Blocks() {
		fmt.Fprintf(out, "%s\n", block)
		for _, cbi := range block.Instructions {
			fmt.Fprintf(out, "  0x%08x: %08x  %s\n", cbi.PC, uint32(cbi.Instruction), cpu.Disassemble(cbi.PC, cbi.Instruction))
		}
		if block.Interpreted {
			fmt.Fprintln(out, "  (interpreted)")
		} else {
			fmt.Fprint(out, cache.HostListing(block))
		}
		fmt.Fprintln(out)
	}
}

// compareWithInterpreter replays the program on the interpreter for the
// same number of ticks and prints any difference from the cached run.
func compareWithInterpreter(out io.Writer, words []uint32, load uint32, bus *ram.Bus, core *cpu.Core) error {
	refBus, ref := newGuest(words, load)
	if err := codecache.New(ref, nil).Execute(core.PendingTicks); err != nil {
		return err
	}
	diff := cmp.Diff(ref.Snapshot(), core.Snapshot(), cmpopts.IgnoreFields(cpu.Snapshot{}, "Downcount"))
	sameRAM := refBus.RAM().Equal(bus.RAM())
	if diff == "" && sameRAM {
		fmt.Fprintln(out, "interpreter and code cache agree")
		return nil
	}
	if diff != "" {
		fmt.Fprintf(out, "state mismatch (-interpreter +cache):\n%s", diff)
	}
	if !sameRAM {
		fmt.Fprintln(out, "RAM differs")
	}
	return errors.New("code cache diverged from the interpreter")
}
