package errors

import (
	"strings"
	"testing"
)

func TestCompileErrorUnwraps(t *testing.T) {
	err := error(CompileErrorf(0x80010004, ErrUnsupportedInstruction, "opcode 0x%02x", 0x32))
	wrapped := Wrapf(err, "block 0x%08x", 0x80010000)

	if !Is(wrapped, ErrUnsupportedInstruction) {
		t.Errorf("Is(%v, ErrUnsupportedInstruction) = false", wrapped)
	}
	if Is(wrapped, ErrBufferExhausted) {
		t.Errorf("Is(%v, ErrBufferExhausted) = true", wrapped)
	}
	var ce *CompileError
	if !As(wrapped, &ce) {
		t.Fatalf("As(%v) found no compile error", wrapped)
	}
	if ce.PC != 0x80010004 {
		t.Errorf("PC = 0x%08x, want 0x80010004", ce.PC)
	}
	if !IsCompileError(wrapped) {
		t.Error("IsCompileError = false")
	}
	if IsCompileError(ErrInvalidBlock) {
		t.Error("IsCompileError(sentinel) = true")
	}
}

func TestCompileErrorMessage(t *testing.T) {
	tests := []struct {
		err  *CompileError
		want string
	}{
		{WrapCompileError(ErrBufferExhausted, 0x80000080, "no space"), "compile 0x80000080: no space: code buffer exhausted"},
		{&CompileError{PC: 0x10, Message: "bad"}, "compile 0x00000010: bad"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("got %q, want %q", got, tt.want)
		}
	}
}

func TestAssertf(t *testing.T) {
	Assertf(true, "never raised")

	defer func() {
		r := recover()
		if !IsAssertionFailure(r) {
			t.Fatalf("recovered %v, want an assertion failure", r)
		}
		if msg := r.(error).Error(); !strings.Contains(msg, "imm 300 does not fit") {
			t.Errorf("message %q lost its arguments", msg)
		}
	}()
	Assertf(false, "imm %d does not fit", 300)
}

func TestIsAssertionFailureRejectsOtherPanics(t *testing.T) {
	for _, v := range []interface{}{nil, "text", New("plain")} {
		if IsAssertionFailure(v) {
			t.Errorf("IsAssertionFailure(%v) = true", v)
		}
	}
}
