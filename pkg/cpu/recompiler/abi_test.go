package recompiler

import (
	"runtime"
	"testing"
)

func TestABITables(t *testing.T) {
	for _, abi := range testABIs {
		for _, r := range abi.CalleeSaved {
			if abi.IsCallerSaved(r) {
				t.Errorf("%s: %s is both callee- and caller-saved", abi.Name, r)
			}
		}
		for _, r := range abi.AllocationOrder {
			if !abi.IsCalleeSaved(r) && !abi.IsCallerSaved(r) {
				t.Errorf("%s: allocatable %s is in neither set", abi.Name, r)
			}
		}
		if !abi.IsCalleeSaved(CPUPointer) {
			t.Errorf("%s: the cpu pointer register must survive calls", abi.Name)
		}
		if abi.FrameSize()%16 != 8 {
			t.Errorf("%s: frame of %d bytes, want 8 mod 16", abi.Name, abi.FrameSize())
		}
	}

	if got := ABIWin64.ArgReg(0); got != ABIWin64.ArgRegs[0] {
		t.Errorf("ArgReg(0) = %s", got)
	}
	if ABIWin64.ShadowSpace != 32 || ABISysV.ShadowSpace != 0 {
		t.Error("shadow space")
	}
}

func TestHostABI(t *testing.T) {
	want := ABISysV
	if runtime.GOOS == "windows" {
		want = ABIWin64
	}
	if HostABI != want {
		t.Errorf("HostABI = %s on %s", HostABI.Name, runtime.GOOS)
	}
}
