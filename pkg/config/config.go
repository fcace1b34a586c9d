// Package config loads the TOML settings file. Every key has a default,
// so an empty file or no file at all yields a usable configuration.
package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"psxrec/pkg/errors"
)

// ExecutionMode selects how guest code runs.
type ExecutionMode int

const (
	ModeInterpreter ExecutionMode = iota
	// ModeCachedInterpreter looks blocks up through the code cache but
	// interprets every one of them.
	ModeCachedInterpreter
	ModeRecompiler
)

var modeNames = []string{
	ModeInterpreter:       "interpreter",
	ModeCachedInterpreter: "cached-interpreter",
	ModeRecompiler:        "recompiler",
}

func (m ExecutionMode) String() string {
	if int(m) < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseExecutionMode accepts the names printed by String, in any case.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return ExecutionMode(m), nil
		}
	}
	return 0, errors.Newf("unknown execution mode %q", s)
}

func (m ExecutionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ExecutionMode) UnmarshalText(text []byte) error {
	mode, err := ParseExecutionMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// Backend names where compiled blocks run.
const (
	BackendEmulated = "emulated"
	BackendNative   = "native"
)

const minBufferSize = 4096

type CPU struct {
	ExecutionMode        ExecutionMode `toml:"execution_mode"`
	MaxBlockInstructions int           `toml:"max_block_instructions"`
	Backend              string        `toml:"backend"`
}

type CodeBuffer struct {
	Size      int `toml:"size"`
	Alignment int `toml:"alignment"`
}

type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Config struct {
	CPU        CPU        `toml:"cpu"`
	CodeBuffer CodeBuffer `toml:"code_buffer"`
	Log        Log        `toml:"log"`
}

func Default() Config {
	return Config{
		CPU: CPU{
			ExecutionMode:        ModeRecompiler,
			MaxBlockInstructions: 64,
			Backend:              BackendEmulated,
		},
		CodeBuffer: CodeBuffer{
			Size:      16 * 1024 * 1024,
			Alignment: 16,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the settings file at path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read settings %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.Wrapf(err, "settings %s", path)
	}
	return cfg, nil
}

// Parse decodes TOML settings over the defaults and validates the result.
// Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var serr *toml.StrictMissingError
		if errors.As(err, &serr) {
			keys := make([]string, 0, len(serr.Errors))
			for i := range serr.Errors {
				keys = append(keys, strings.Join(serr.Errors[i].Key(), "."))
			}
			return Config{}, errors.Newf("unknown keys: %s", strings.Join(keys, ", "))
		}
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, errors.Wrapf(err, "line %d column %d", row, col)
		}
		return Config{}, errors.Wrapf(err, "decode")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.CPU.MaxBlockInstructions <= 0 {
		return errors.Newf("cpu.max_block_instructions must be positive, got %d", c.CPU.MaxBlockInstructions)
	}
	if c.CPU.Backend != BackendEmulated && c.CPU.Backend != BackendNative {
		return errors.Newf("cpu.backend must be %q or %q, got %q", BackendEmulated, BackendNative, c.CPU.Backend)
	}
	if a := c.CodeBuffer.Alignment; a <= 0 || a&(a-1) != 0 {
		return errors.Newf("code_buffer.alignment must be a power of two, got %d", a)
	}
	if c.CodeBuffer.Size < minBufferSize {
		return errors.Newf("code_buffer.size must be at least %d bytes, got %d", minBufferSize, c.CodeBuffer.Size)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	return nil
}

// Encode renders c as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
