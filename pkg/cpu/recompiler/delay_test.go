package recompiler

import (
	"testing"

	"psxrec/pkg/cpu"
	"psxrec/pkg/errors"
)

func TestTransition(t *testing.T) {
	idle := DelayState{PC: PCNoDelay, Load: LoadNoDelay}
	branch := DelayState{PC: PCAwaitingBranchCommit, Load: LoadNoDelay}
	t1 := cpu.RegT1

	tests := []struct {
		name     string
		from     DelayState
		category Category
		loadReg  cpu.Reg
		want     DelayState
	}{
		{"plain from idle", idle, CategoryPlain, cpu.NoReg, idle},
		{"plain commits pending load", DelayState{Load: LoadAwaiting(t1)}, CategoryPlain, cpu.NoReg, idle},
		{"block entry", BlockEntryDelayState, CategoryPlain, cpu.NoReg, idle},
		{"load", idle, CategoryLoad, t1, DelayState{Load: LoadAwaiting(t1)}},
		{"load after load", DelayState{Load: LoadAwaiting(cpu.RegT0)}, CategoryLoad, t1, DelayState{Load: LoadAwaiting(t1)}},
		{"fallback load", idle, CategoryFallbackLoad, cpu.NoReg, DelayState{Load: LoadAwaitUnknown}},
		{"branch", idle, CategoryBranch, cpu.NoReg, branch},
		{"fallback branch", DelayState{Load: LoadAwaiting(t1)}, CategoryFallbackBranch, cpu.NoReg, branch},
		{"delay slot", branch, CategoryPlain, cpu.NoReg, idle},
		{"load in delay slot", branch, CategoryLoad, t1, DelayState{Load: LoadAwaiting(t1)}},
		{"fallback in delay slot", branch, CategoryFallback, cpu.NoReg, idle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.from, tt.category, tt.loadReg); got != tt.want {
				t.Errorf("Transition(%s, %s) = %s, want %s", tt.from, tt.category, got, tt.want)
			}
		})
	}
}

func TestTransitionRejectsBranchInDelaySlot(t *testing.T) {
	for _, c := range []Category{CategoryBranch, CategoryFallbackBranch} {
		func() {
			defer func() {
				if r := recover(); !errors.IsAssertionFailure(r) {
					t.Errorf("%s in delay slot: recovered %v, want an assertion failure", c, r)
				}
			}()
			Transition(DelayState{PC: PCAwaitingBranchCommit, Load: LoadNoDelay}, c, cpu.NoReg)
		}()
	}
}

func TestLoadSlot(t *testing.T) {
	if LoadNoDelay.Known() || LoadAwaitUnknown.Known() {
		t.Error("only a pending load with a register is known")
	}
	if !LoadAwaiting(cpu.RegA0).Known() {
		t.Error("LoadAwaiting(a0) should be known")
	}
	if got := BlockEntryDelayState.String(); got != "no-delay/awaiting-load(?)" {
		t.Errorf("entry state %q", got)
	}
}
