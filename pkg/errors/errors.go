package errors

import (
	"fmt"

	crdb "github.com/cockroachdb/errors"
)

var (
	// ErrUnsupportedInstruction means an instruction had neither a dedicated
	// handler nor a fallback path. The block must be interpreted instead.
	ErrUnsupportedInstruction = crdb.New("unsupported instruction")

	// ErrBufferExhausted means the code buffer could not hold the block. The
	// code cache must be flushed before compiling again.
	ErrBufferExhausted = crdb.New("code buffer exhausted")

	// ErrInvalidBlock means the block violates a structural rule, such as a
	// branch in a delay slot or a branch without a delay slot.
	ErrInvalidBlock = crdb.New("invalid block")
)

type CompileError struct {
	PC      uint32
	Message string
	Cause   error
}

func (e *CompileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("compile 0x%08x: %s: %v", e.PC, e.Message, e.Cause)
	}
	return fmt.Sprintf("compile 0x%08x: %s", e.PC, e.Message)
}

func (e *CompileError) Unwrap() error {
	return e.Cause
}

// IsCompileError checks if an error is (or wraps) a compile error
func IsCompileError(err error) bool {
	var ce *CompileError
	return crdb.As(err, &ce)
}

// WrapCompileError wraps an existing error as a compile error at the given guest PC
func WrapCompileError(err error, pc uint32, message string) *CompileError {
	return &CompileError{
		PC:      pc,
		Message: message,
		Cause:   err,
	}
}

// CompileErrorf creates a new compile error with formatted message
func CompileErrorf(pc uint32, cause error, format string, args ...interface{}) *CompileError {
	return &CompileError{
		PC:      pc,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func Is(err, target error) bool { return crdb.Is(err, target) }

func As(err error, target interface{}) bool { return crdb.As(err, target) }

func Wrapf(err error, format string, args ...interface{}) error {
	return crdb.Wrapf(err, format, args...)
}

func New(msg string) error { return crdb.New(msg) }

func Newf(format string, args ...interface{}) error {
	return crdb.Newf(format, args...)
}

// Assertf panics with an assertion failure when cond is false. It marks
// encoder and register-cache invariants, never guest-input conditions.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(crdb.AssertionFailedf(format, args...))
	}
}

// IsAssertionFailure reports whether a recovered panic value is an
// assertion raised through Assertf.
func IsAssertionFailure(v interface{}) bool {
	err, ok := v.(error)
	return ok && crdb.HasAssertionFailure(err)
}
