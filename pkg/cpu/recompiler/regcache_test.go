package recompiler

import (
	"testing"

	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

func newTestCache(abi *ABI) (*RegisterCache, *x64.Assembler) {
	asm := x64.NewAssembler(make([]byte, 4096))
	rc := NewRegisterCache(abi)
	rc.Reset(asm)
	return rc, asm
}

func expectAssertion(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		if r := recover(); !errors.IsAssertionFailure(r) {
			t.Errorf("%s: recovered %v, want an assertion failure", what, r)
		}
	}()
	f()
}

func TestAllocationOrderExcludesReservedRegisters(t *testing.T) {
	for _, abi := range testABIs {
		for _, r := range abi.AllocationOrder {
			if r == CPUPointer || r == abi.ReturnReg || r == x64.RSP {
				t.Errorf("%s: %s is allocatable", abi.Name, r.Name(RegSize64))
			}
		}
		rc, _ := newTestCache(abi)
		if got, want := rc.FreeHostRegisterCount(), len(abi.AllocationOrder); got != want {
			t.Errorf("%s: %d free registers, want %d", abi.Name, got, want)
		}
	}
}

func TestBindPrefersCalleeSaved(t *testing.T) {
	for _, abi := range testABIs {
		rc, _ := newTestCache(abi)
		for g := cpu.Reg(1); int(g) <= len(abi.CalleeSaved)-1; g++ {
			h := rc.Bind(g)
			if !abi.IsCalleeSaved(h) {
				t.Errorf("%s: %s bound to caller-saved %s", abi.Name, g, h.Name(RegSize64))
			}
		}
	}
}

func TestZeroRegister(t *testing.T) {
	rc, asm := newTestCache(ABISysV)
	v := rc.ReadGuestRegister(cpu.RegZero)
	if !v.IsConstant() || v.Constant != 0 {
		t.Fatalf("r0 reads as %s", v)
	}

	s := rc.AllocateScratch(RegSize32, NoHostReg)
	rc.WriteGuestRegister(cpu.RegZero, s)
	if !rc.IsFree(s.Reg) {
		t.Error("scratch written to r0 was not released")
	}
	rc.WriteGuestRegister(cpu.RegZero, Constant32(7))
	if asm.Offset() != 0 {
		t.Errorf("writes to r0 emitted %d bytes", asm.Offset())
	}
	if st := rc.State(cpu.RegZero); st.Kind != GuestUnallocated {
		t.Errorf("r0 state %s", st.Kind)
	}
}

func TestScratchHandover(t *testing.T) {
	rc, asm := newTestCache(ABISysV)
	old := rc.Bind(cpu.RegT0)
	start := asm.Offset()

	s := rc.AllocateScratch(RegSize32, NoHostReg)
	rc.WriteGuestRegister(cpu.RegT0, s)
	if asm.Offset() != start {
		t.Error("handing a scratch to a guest register emitted code")
	}
	st := rc.State(cpu.RegT0)
	if st.Kind != GuestCached || st.Host != s.Reg || !st.Dirty {
		t.Errorf("t0 state %+v, want cached dirty in %s", st, s.Reg.Name(RegSize32))
	}
	if !rc.IsFree(old) {
		t.Errorf("previous host %s of t0 still in use", old.Name(RegSize32))
	}

	rc.FreeScratches()
	if rc.IsFree(s.Reg) {
		t.Error("FreeScratches released a guest register")
	}
}

func TestSpillLeastRecentlyUsed(t *testing.T) {
	for _, abi := range testABIs {
		rc, asm := newTestCache(abi)
		n := len(abi.AllocationOrder)
		for g := cpu.Reg(1); int(g) <= n; g++ {
			rc.WriteGuestRegister(g, Constant32(uint32(g)))
		}
		rc.UnpinAll()
		if rc.FreeHostRegisterCount() != 0 {
			t.Fatalf("%s: %d registers still free", abi.Name, rc.FreeHostRegisterCount())
		}
		// the two most recent stay pinned; the oldest guest is the victim
		rc.Pin(rc.State(cpu.Reg(n - 1)).Host)
		rc.Pin(rc.State(cpu.Reg(n)).Host)
		victim := rc.State(1).Host
		before := asm.Offset()

		h := rc.Bind(cpu.Reg(n + 1))
		if h != victim {
			t.Errorf("%s: bound to %s, want the LRU register %s", abi.Name, h.Name(RegSize32), victim.Name(RegSize32))
		}
		if st := rc.State(1); st.Kind != GuestInMemory || st.Dirty {
			t.Errorf("%s: spilled guest state %+v", abi.Name, st)
		}
		if asm.Offset() == before {
			t.Errorf("%s: spilling a dirty register emitted no store", abi.Name)
		}
		for _, g := range []cpu.Reg{cpu.Reg(n - 1), cpu.Reg(n)} {
			if st := rc.State(g); st.Kind != GuestCached {
				t.Errorf("%s: pinned %s was spilled", abi.Name, g)
			}
		}
	}
}

// Runs the same spill as TestSpillLeastRecentlyUsed and checks the values
// the generated code leaves behind.
func TestSpillPreservesPinnedValues(t *testing.T) {
	value := func(g cpu.Reg) uint32 { return 0xA0000000 | uint32(g) }
	for _, abi := range testABIs {
		t.Run(abi.Name, func(t *testing.T) {
			n := len(abi.AllocationOrder)
			pinned := []cpu.Reg{cpu.Reg(n - 1), cpu.Reg(n)}
			var pinnedHost []HostReg

			r := newRig(t, abi, rigHelpers())
			entry := r.emitRaw(func(g *CodeGenerator) {
				for guest := cpu.Reg(1); int(guest) <= n; guest++ {
					g.rc.WriteGuestRegister(guest, Constant32(value(guest)))
				}
				g.rc.UnpinAll()
				for _, guest := range pinned {
					h := g.rc.State(guest).Host
					g.rc.Pin(h)
					pinnedHost = append(pinnedHost, h)
				}
				g.rc.WriteGuestRegister(cpu.Reg(n+1), Constant32(value(cpu.Reg(n+1))))
				if st := g.rc.State(1); st.Kind != GuestInMemory {
					t.Fatalf("guest 1 is %s, want spilled", st.Kind)
				}
			})

			_, core := newGuest()
			m, _ := r.run(entry, core)

			for guest := cpu.Reg(1); int(guest) <= n+1; guest++ {
				if got := core.Regs.R[guest]; got != value(guest) {
					t.Errorf("%s = 0x%08x, want 0x%08x", guest, got, value(guest))
				}
			}
			for i, h := range pinnedHost {
				if abi.IsCalleeSaved(h) {
					continue
				}
				if got := uint32(m.Reg(h)); got != value(pinned[i]) {
					t.Errorf("pinned %s holds 0x%08x, want 0x%08x", h.Name(RegSize32), got, value(pinned[i]))
				}
			}
		})
	}
}

func TestAllocateWithEverythingPinned(t *testing.T) {
	rc, _ := newTestCache(ABISysV)
	for g := cpu.Reg(1); int(g) <= len(ABISysV.AllocationOrder); g++ {
		rc.ReadGuestRegister(g)
	}
	expectAssertion(t, "allocate", func() { rc.Allocate(NoHostReg) })
}

func TestFlushAll(t *testing.T) {
	rc, asm := newTestCache(ABISysV)
	rc.Bind(cpu.RegT0)
	rc.WriteGuestRegister(cpu.RegT1, Constant32(1))
	rc.UnpinAll()

	before := asm.Offset()
	rc.WriteBackAll()
	if asm.Offset() == before {
		t.Error("write back of dirty t1 emitted nothing")
	}
	if st := rc.State(cpu.RegT1); st.Kind != GuestCached || st.Dirty {
		t.Errorf("t1 after write back %+v", st)
	}

	before = asm.Offset()
	rc.FlushAll(true)
	if asm.Offset() != before {
		t.Error("flush of clean registers emitted code")
	}
	for _, g := range []cpu.Reg{cpu.RegT0, cpu.RegT1} {
		if st := rc.State(g); st.Kind != GuestInMemory {
			t.Errorf("%s after flush: %s", g, st.Kind)
		}
	}
	if rc.FreeHostRegisterCount() != len(ABISysV.AllocationOrder) {
		t.Error("flush left registers allocated")
	}
}

func TestInvalidateRejectsPinned(t *testing.T) {
	rc, _ := newTestCache(ABISysV)
	rc.ReadGuestRegister(cpu.RegT0)
	expectAssertion(t, "invalidate pinned", func() { rc.FlushGuestRegister(cpu.RegT0, true) })
}

func TestInvalidateAllRejectsDirty(t *testing.T) {
	rc, _ := newTestCache(ABISysV)
	rc.WriteGuestRegister(cpu.RegT0, Constant32(1))
	expectAssertion(t, "invalidate dirty", rc.InvalidateAll)
}

func TestPushCallerSavedRegisters(t *testing.T) {
	rc, asm := newTestCache(ABISysV)
	// fill the callee-saved part of the order, then two caller-saved
	for g := cpu.Reg(1); g <= 7; g++ {
		rc.Bind(g)
	}
	rcx, rdx := rc.State(6).Host, rc.State(7).Host
	if rcx != x64.RCX || rdx != x64.RDX {
		t.Fatalf("guests 6 and 7 in %s, %s", rcx.Name(RegSize64), rdx.Name(RegSize64))
	}

	before := asm.Offset()
	pushed := rc.PushCallerSavedRegisters(x64.RDX)
	if len(pushed) != 1 || pushed[0] != x64.RCX {
		t.Errorf("pushed %v, want [rcx]", pushed)
	}
	rc.PopCallerSavedRegisters(pushed)
	if asm.Offset()-before != 2 {
		t.Errorf("push/pop of rcx took %d bytes", asm.Offset()-before)
	}
}

func TestNameOf(t *testing.T) {
	rc, _ := newTestCache(ABISysV)
	if got := rc.NameOf(x64.RBX, RegSize32); got != "ebx" {
		t.Errorf("NameOf(rbx, 32) = %q", got)
	}
	if got := rc.NameOf(CPUPointer, RegSize64); got != "rbp" {
		t.Errorf("NameOf(rbp, 64) = %q", got)
	}
	expectAssertion(t, "rsp", func() { rc.NameOf(x64.RSP, RegSize64) })
}
