package recompiler

import (
	"testing"

	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
)

func TestConstantFolding(t *testing.T) {
	r := newRig(t, ABISysV, rigHelpers())
	g := r.gen
	c32 := Constant32
	c8 := func(v uint64) Value { return ConstantValue(RegSize8, v) }

	tests := []struct {
		name string
		op   func() Value
		want Value
	}{
		{"add wraps", func() Value { return g.AddValues(c32(0xFFFFFFFF), c32(2)) }, c32(1)},
		{"sub wraps", func() Value { return g.SubValues(c32(0), c32(1)) }, c32(0xFFFFFFFF)},
		{"8-bit add wraps", func() Value { return g.AddValues(c8(0xF0), c8(0x20)) }, c8(0x10)},
		{"and", func() Value { return g.AndValues(c32(0xF0F0), c32(0xFF00)) }, c32(0xF000)},
		{"or", func() Value { return g.OrValues(c32(0xF0), c32(0x0F)) }, c32(0xFF)},
		{"xor", func() Value { return g.XorValues(c32(0xFF), c32(0x0F)) }, c32(0xF0)},
		{"not", func() Value { return g.NotValue(c32(0)) }, c32(0xFFFFFFFF)},
		{"mul low half", func() Value { return g.MulValues(c32(0x10000), c32(0x10001)) }, c32(0x10000)},
		{"shl", func() Value { return g.ShlValues(c32(1), c32(31)) }, c32(0x80000000)},
		{"shl count masked", func() Value { return g.ShlValues(c32(1), c32(33)) }, c32(2)},
		{"shr", func() Value { return g.ShrValues(c32(0x80000000), c32(31)) }, c32(1)},
		{"sar", func() Value { return g.SarValues(c32(0x80000000), c32(4)) }, c32(0xF8000000)},
		{"8-bit sar", func() Value { return g.SarValues(c8(0x80), c8(1)) }, c8(0xC0)},
		{"slt signed", func() Value { return g.SetLessThan(c32(0xFFFFFFFF), c32(1), true) }, c32(1)},
		{"slt unsigned", func() Value { return g.SetLessThan(c32(0xFFFFFFFF), c32(1), false) }, c32(0)},
		{"sign-extend byte", func() Value { return g.ConvertValueSize(c8(0x80), RegSize32, true) }, c32(0xFFFFFF80)},
		{"zero-extend byte", func() Value { return g.ConvertValueSize(c8(0x80), RegSize32, false) }, c32(0x80)},
		{"narrow", func() Value { return g.ConvertValueSize(c32(0x12345678), RegSize16, true) }, ConstantValue(RegSize16, 0x5678)},
		{"sign-extend to 64", func() Value { return g.ConvertValueSize(ConstantValue(RegSize16, 0x8000), RegSize64, true) }, ConstantValue(RegSize64, 0xFFFFFFFFFFFF8000)},
		{"same width", func() Value { return g.ConvertValueSize(c32(9), RegSize32, true) }, c32(9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g.beginBlock(&cpu.CodeBlock{StartPC: programBase}, make([]byte, 256))
			got := tt.op()
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
			if n := g.asm.Offset(); n != 0 {
				t.Errorf("folded operation emitted %d bytes", n)
			}
		})
	}
}

func TestValueOperandsSurvive(t *testing.T) {
	r := newRig(t, ABISysV, rigHelpers())
	g := r.gen
	g.beginBlock(&cpu.CodeBlock{StartPC: programBase}, make([]byte, 256))

	a := g.rc.ReadGuestRegister(cpu.RegT0)
	b := g.rc.ReadGuestRegister(cpu.RegT1)
	sum := g.AddValues(a, b)
	if sum.Reg == a.Reg || sum.Reg == b.Reg {
		t.Fatalf("result %s overwrote an operand", sum)
	}
	if !sum.IsScratch() {
		t.Errorf("result %s is not a scratch register", sum)
	}
	if st := g.rc.State(cpu.RegT0); st.Dirty {
		t.Error("reading an operand marked it dirty")
	}
}

// runValueOps runs body against a core whose registers t0..t7 hold in and
// returns the core afterwards.
func runValueOps(t *testing.T, abi *ABI, in [8]uint32, body func(g *CodeGenerator)) *cpu.Core {
	t.Helper()
	r := newRig(t, abi, rigHelpers())
	entry := r.emitRaw(body)
	_, core := newGuest()
	for i, v := range in {
		core.Regs.R[cpu.RegT0+cpu.Reg(i)] = v
	}
	if _, exit := r.run(entry, core); exit.Name != "dispatcher" {
		t.Fatalf("left through %q", exit.Name)
	}
	return core
}

func TestValueOpsAtRunTime(t *testing.T) {
	in := [8]uint32{0x80000010, 36, 0xFFFFFFFF, 1, 0x12345678, 7, 0, 0}
	tests := []struct {
		name string
		op   func(g *CodeGenerator, a, b Value) Value
		a, b cpu.Reg
		want uint32
	}{
		{"add", (*CodeGenerator).AddValues, cpu.RegT2, cpu.RegT3, 0},
		{"sub", (*CodeGenerator).SubValues, cpu.RegT3, cpu.RegT2, 2},
		{"and", (*CodeGenerator).AndValues, cpu.RegT4, cpu.RegT1, 0x12345678 & 36},
		{"or", (*CodeGenerator).OrValues, cpu.RegT4, cpu.RegT3, 0x12345679},
		{"xor", (*CodeGenerator).XorValues, cpu.RegT4, cpu.RegT2, ^uint32(0x12345678)},
		{"mul", (*CodeGenerator).MulValues, cpu.RegT4, cpu.RegT5, 0x12345678 * 7},
		{"shl by register", (*CodeGenerator).ShlValues, cpu.RegT3, cpu.RegT1, 1 << 4},
		{"shr by register", (*CodeGenerator).ShrValues, cpu.RegT0, cpu.RegT1, 0x08000001},
		{"sar by register", (*CodeGenerator).SarValues, cpu.RegT0, cpu.RegT1, 0xF8000001},
		{"slt", func(g *CodeGenerator, a, b Value) Value { return g.SetLessThan(a, b, true) }, cpu.RegT2, cpu.RegT3, 1},
		{"sltu", func(g *CodeGenerator, a, b Value) Value { return g.SetLessThan(a, b, false) }, cpu.RegT2, cpu.RegT3, 0},
	}
	for _, abi := range testABIs {
		for _, tt := range tests {
			t.Run(abi.Name+"/"+tt.name, func(t *testing.T) {
				core := runValueOps(t, abi, in, func(g *CodeGenerator) {
					a := g.rc.ReadGuestRegister(tt.a)
					b := g.rc.ReadGuestRegister(tt.b)
					g.rc.WriteGuestRegister(cpu.RegT7, tt.op(g, a, b))
				})
				if got := core.Regs.R[cpu.RegT7]; got != tt.want {
					t.Errorf("t7 = 0x%08x, want 0x%08x", got, tt.want)
				}
			})
		}
	}
}

func TestValueOpsWithImmediates(t *testing.T) {
	core := runValueOps(t, ABISysV, [8]uint32{5}, func(g *CodeGenerator) {
		a := g.rc.ReadGuestRegister(cpu.RegT0)
		g.rc.WriteGuestRegister(cpu.RegT1, g.AddValues(Constant32(0xFFFFFFFF), a))
		g.rc.WriteGuestRegister(cpu.RegT2, g.SubValues(Constant32(10), a))
		g.rc.WriteGuestRegister(cpu.RegT3, g.MulValues(a, Constant32(0xFFFFFFFE)))
		g.rc.WriteGuestRegister(cpu.RegT4, g.ShlValues(a, Constant32(0)))
		g.rc.WriteGuestRegister(cpu.RegT5, g.SetLessThan(a, Constant32(0xFFFFFFFF), false))
		g.rc.WriteGuestRegister(cpu.RegT6, g.SetLessThan(a, Constant32(0xFFFFFFFF), true))
	})
	want := map[cpu.Reg]uint32{
		cpu.RegT1: 4,
		cpu.RegT2: 5,
		cpu.RegT3: 0xFFFFFFF6,
		cpu.RegT4: 5,
		cpu.RegT5: 1,
		cpu.RegT6: 0,
	}
	for reg, v := range want {
		if got := core.Regs.R[reg]; got != v {
			t.Errorf("%s = 0x%08x, want 0x%08x", reg, got, v)
		}
	}
}

// A variable shift needs CL. When RCX caches a dirty guest register it is
// saved around the shift and the cached value survives.
func TestVariableShiftPreservesRCX(t *testing.T) {
	var rcxGuest cpu.Reg
	core := runValueOps(t, ABISysV, [8]uint32{0x10, 3}, func(g *CodeGenerator) {
		for reg := cpu.RegS0; g.rc.IsFree(x64.RCX); reg++ {
			g.rc.WriteGuestRegister(reg, Constant32(0xC0DE0000|uint32(reg)))
			rcxGuest = reg
		}
		g.rc.UnpinAll()
		a := g.rc.ReadGuestRegister(cpu.RegT0)
		n := g.rc.ReadGuestRegister(cpu.RegT1)
		res := g.ShlValues(a, n)
		if res.Reg == x64.RCX {
			t.Error("shift result landed in rcx")
		}
		g.rc.WriteGuestRegister(cpu.RegT2, res)
	})
	if got := core.Regs.R[rcxGuest]; got != 0xC0DE0000|uint32(rcxGuest) {
		t.Errorf("%s = 0x%08x, clobbered by the shift", rcxGuest, got)
	}
	if got := core.Regs.R[cpu.RegT2]; got != 0x80 {
		t.Errorf("t2 = 0x%x, want 0x80", got)
	}
}

func TestStoreValue(t *testing.T) {
	core := runValueOps(t, ABIWin64, [8]uint32{}, func(g *CodeGenerator) {
		g.EmitStoreField(cpu.FieldHI, Constant32(0x89ABCDEF))
		g.EmitStoreField(cpu.FieldLO, g.rc.ReadGuestRegister(cpu.RegT0))
		g.EmitStoreValue(MemoryValue(RegSize32, cpu.RegisterOffset(cpu.RegT1)), FieldValue(cpu.FieldHI))
	})
	if core.Regs.HI != 0x89ABCDEF || core.Regs.R[cpu.RegT1] != 0x89ABCDEF {
		t.Errorf("hi = 0x%08x, t1 = 0x%08x", core.Regs.HI, core.Regs.R[cpu.RegT1])
	}
	if core.Regs.LO != 0 {
		t.Errorf("lo = 0x%08x", core.Regs.LO)
	}
}

func TestConvertValueSize(t *testing.T) {
	for _, abi := range testABIs {
		t.Run(abi.Name, func(t *testing.T) {
			core := runValueOps(t, abi, [8]uint32{0x923480F0}, func(g *CodeGenerator) {
				a := g.rc.ReadGuestRegister(cpu.RegT0)
				widen := func(dst cpu.Reg, v Value, signExtend bool) {
					g.rc.WriteGuestRegister(dst, g.ConvertValueSize(v, RegSize32, signExtend))
					g.rc.FreeValue(v)
				}
				widen(cpu.RegT1, g.ConvertValueSize(a, RegSize8, false), true)
				widen(cpu.RegT2, g.ConvertValueSize(a, RegSize8, true), false)
				widen(cpu.RegT3, g.ConvertValueSize(a, RegSize16, false), true)
				widen(cpu.RegT4, MemoryValue(RegSize16, cpu.RegisterOffset(cpu.RegT0)), true)
				widen(cpu.RegT5, MemoryValue(RegSize8, cpu.RegisterOffset(cpu.RegT0)), false)

				in := g.copyToScratch(a.WithSize(RegSize8))
				g.rc.WriteGuestRegister(cpu.RegT6, g.ConvertValueSizeInPlace(in, RegSize32, true))

				wide := g.ConvertValueSize(a, RegSize64, true)
				g.EmitStoreValue(MemoryValue(RegSize64, cpu.FieldHI.Offset()), wide)
			})
			want := map[cpu.Reg]uint32{
				cpu.RegT1: 0xFFFFFFF0,
				cpu.RegT2: 0xF0,
				cpu.RegT3: 0xFFFF80F0,
				cpu.RegT4: 0xFFFF80F0,
				cpu.RegT5: 0xF0,
				cpu.RegT6: 0xFFFFFFF0,
			}
			for reg, v := range want {
				if got := core.Regs.R[reg]; got != v {
					t.Errorf("%s = 0x%08x, want 0x%08x", reg, got, v)
				}
			}
			// hi and lo are adjacent, so the 64-bit store fills both
			if core.Regs.HI != 0x923480F0 || core.Regs.LO != 0xFFFFFFFF {
				t.Errorf("hi:lo = 0x%08x:0x%08x, want 0x923480f0:0xffffffff", core.Regs.HI, core.Regs.LO)
			}
		})
	}
}
