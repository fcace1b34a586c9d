package recompiler

import (
	"psxrec/pkg/cpu"
	"psxrec/pkg/cpu/recompiler/x64"
	"psxrec/pkg/errors"
)

type GuestRegStateKind uint8

const (
	// GuestUnallocated: not touched in this block, the state record holds the value.
	GuestUnallocated GuestRegStateKind = iota
	// GuestCached: held in Host, Dirty when the state record is stale.
	GuestCached
	// GuestInMemory: was cached earlier in the block and has been written back.
	GuestInMemory
)

func (k GuestRegStateKind) String() string {
	switch k {
	case GuestUnallocated:
		return "unallocated"
	case GuestCached:
		return "cached"
	case GuestInMemory:
		return "in-memory"
	}
	return "?"
}

type GuestRegState struct {
	Kind  GuestRegStateKind
	Host  HostReg
	Dirty bool
}

type hostRegState struct {
	inUse   bool
	scratch bool
	pinned  bool
	guest   cpu.Reg
	lastUse uint64
}

// RegisterCache maps guest registers onto host registers for one block.
// Every load, store and spill it performs is emitted through the
// assembler it was reset with, so its state describes the code emitted so
// far and must only change on paths that run unconditionally.
type RegisterCache struct {
	abi   *ABI
	asm   *x64.Assembler
	host  [x64.NumRegs]hostRegState
	guest [cpu.RegCount]GuestRegState
	clock uint64
}

func NewRegisterCache(abi *ABI) *RegisterCache {
	rc := &RegisterCache{abi: abi}
	rc.Reset(nil)
	return rc
}

// Reset forgets every mapping and directs emission to asm.
func (rc *RegisterCache) Reset(asm *x64.Assembler) {
	rc.asm = asm
	rc.clock = 0
	for i := range rc.host {
		rc.host[i] = hostRegState{guest: cpu.NoReg}
	}
	for i := range rc.guest {
		rc.guest[i] = GuestRegState{Kind: GuestUnallocated, Host: NoHostReg}
	}
}

func (rc *RegisterCache) allocatable(r HostReg) bool {
	return containsReg(rc.abi.AllocationOrder, r)
}

func (rc *RegisterCache) IsFree(r HostReg) bool {
	return rc.allocatable(r) && !rc.host[r].inUse
}

func (rc *RegisterCache) IsPinned(r HostReg) bool {
	return r < x64.NumRegs && rc.host[r].pinned
}

// FreeHostRegisterCount is the number of allocatable registers not in use.
func (rc *RegisterCache) FreeHostRegisterCount() int {
	n := 0
	for _, r := range rc.abi.AllocationOrder {
		if !rc.host[r].inUse {
			n++
		}
	}
	return n
}

func (rc *RegisterCache) State(guest cpu.Reg) GuestRegState {
	return rc.guest[guest]
}

func (rc *RegisterCache) touch(r HostReg) {
	rc.clock++
	rc.host[r].lastUse = rc.clock
}

// take returns a register for exclusive use, spilling the least recently
// used unpinned guest register when none is free.
func (rc *RegisterCache) take(preferred HostReg) HostReg {
	if preferred != NoHostReg && rc.IsFree(preferred) {
		return preferred
	}
	for _, r := range rc.abi.AllocationOrder {
		if !rc.host[r].inUse {
			return r
		}
	}

	victim := NoHostReg
	for _, r := range rc.abi.AllocationOrder {
		h := &rc.host[r]
		if h.scratch || h.pinned {
			continue
		}
		if victim == NoHostReg || h.lastUse < rc.host[victim].lastUse {
			victim = r
		}
	}
	errors.Assertf(victim != NoHostReg, "register cache: every host register is pinned or scratch")
	rc.FlushGuestRegister(rc.host[victim].guest, true)
	return victim
}

// Allocate reserves a scratch register. It never fails: when nothing is
// free an unpinned guest register is spilled.
func (rc *RegisterCache) Allocate(preferred HostReg) HostReg {
	r := rc.take(preferred)
	rc.host[r] = hostRegState{inUse: true, scratch: true, guest: cpu.NoReg}
	rc.touch(r)
	return r
}

func (rc *RegisterCache) AllocateScratch(size RegSize, preferred HostReg) Value {
	v := HostValue(size, rc.Allocate(preferred))
	v.scratch = true
	return v
}

// Free releases a scratch register.
func (rc *RegisterCache) Free(r HostReg) {
	h := &rc.host[r]
	errors.Assertf(h.inUse && h.scratch, "register cache: freeing %s which is not a scratch register", r)
	rc.host[r] = hostRegState{guest: cpu.NoReg}
}

// FreeValue releases v's register when v owns it.
func (rc *RegisterCache) FreeValue(v Value) {
	if v.IsScratch() && rc.host[v.Reg].inUse && rc.host[v.Reg].scratch {
		rc.Free(v.Reg)
	}
}

// FreeScratches releases every scratch register.
func (rc *RegisterCache) FreeScratches() {
	for r := range rc.host {
		if rc.host[r].scratch {
			rc.host[r] = hostRegState{guest: cpu.NoReg}
		}
	}
}

func (rc *RegisterCache) Pin(r HostReg) {
	errors.Assertf(rc.host[r].inUse, "register cache: pinning unused register %s", r)
	rc.host[r].pinned = true
}

func (rc *RegisterCache) Unpin(r HostReg) {
	rc.host[r].pinned = false
}

func (rc *RegisterCache) UnpinAll() {
	for r := range rc.host {
		rc.host[r].pinned = false
	}
}

func (rc *RegisterCache) guestMem(guest cpu.Reg) x64.Mem {
	return x64.MemBase(CPUPointer, int32(cpu.RegisterOffset(guest)))
}

// Bind makes guest resident in a host register, loading it from the state
// record if needed.
func (rc *RegisterCache) Bind(guest cpu.Reg) HostReg {
	errors.Assertf(guest != cpu.RegZero && guest < cpu.RegCount, "register cache: cannot bind %s", guest)
	if st := rc.guest[guest]; st.Kind == GuestCached {
		rc.touch(st.Host)
		return st.Host
	}
	r := rc.take(NoHostReg)
	rc.asm.MovRM(RegSize32, r, rc.guestMem(guest))
	rc.attach(guest, r, false)
	return r
}

func (rc *RegisterCache) attach(guest cpu.Reg, r HostReg, dirty bool) {
	rc.host[r] = hostRegState{inUse: true, guest: guest}
	rc.touch(r)
	rc.guest[guest] = GuestRegState{Kind: GuestCached, Host: r, Dirty: dirty}
}

// bindForWrite gives guest a host register without loading its old value.
func (rc *RegisterCache) bindForWrite(guest cpu.Reg) HostReg {
	if st := rc.guest[guest]; st.Kind == GuestCached {
		rc.touch(st.Host)
		return st.Host
	}
	r := rc.take(NoHostReg)
	rc.attach(guest, r, false)
	return r
}

// ReadGuestRegister returns guest as a value, pinned until UnpinAll. The
// zero register reads as a constant.
func (rc *RegisterCache) ReadGuestRegister(guest cpu.Reg) Value {
	if guest == cpu.RegZero {
		return Constant32(0)
	}
	r := rc.Bind(guest)
	rc.Pin(r)
	return HostValue(RegSize32, r)
}

// WriteGuestRegister makes v the new value of guest. A scratch value hands
// its register over to the guest register; anything else is copied.
// Writes to the zero register are dropped.
func (rc *RegisterCache) WriteGuestRegister(guest cpu.Reg, v Value) {
	errors.Assertf(v.Size == RegSize32, "register cache: %d-bit write to %s", v.Size, guest)
	if guest == cpu.RegZero {
		rc.FreeValue(v)
		return
	}

	if v.IsScratch() {
		if st := rc.guest[guest]; st.Kind == GuestCached {
			rc.host[st.Host] = hostRegState{guest: cpu.NoReg}
		}
		rc.attach(guest, v.Reg, true)
		rc.Pin(v.Reg)
		return
	}

	r := rc.bindForWrite(guest)
	rc.Pin(r)
	switch v.Kind {
	case ValueConstant:
		rc.asm.MovRI(RegSize32, r, v.Constant)
	case ValueMemory:
		rc.asm.MovRM(RegSize32, r, v.Mem())
	case ValueHostReg:
		rc.asm.MovRR(RegSize32, r, v.Reg)
	default:
		errors.Assertf(false, "register cache: writing empty value to %s", guest)
	}
	rc.guest[guest].Dirty = true
}

// MarkDirty records that code emitted outside the cache changed guest's
// host register.
func (rc *RegisterCache) MarkDirty(guest cpu.Reg) {
	errors.Assertf(rc.guest[guest].Kind == GuestCached, "register cache: %s is not cached", guest)
	rc.guest[guest].Dirty = true
}

// FlushGuestRegister writes guest back if dirty. With invalidate the host
// register is released as well.
func (rc *RegisterCache) FlushGuestRegister(guest cpu.Reg, invalidate bool) {
	st := &rc.guest[guest]
	if st.Kind != GuestCached {
		return
	}
	if st.Dirty {
		rc.asm.MovMR(RegSize32, rc.guestMem(guest), st.Host)
		st.Dirty = false
	}
	if invalidate {
		errors.Assertf(!rc.host[st.Host].pinned, "register cache: invalidating pinned %s", st.Host)
		rc.host[st.Host] = hostRegState{guest: cpu.NoReg}
		*st = GuestRegState{Kind: GuestInMemory, Host: NoHostReg}
	}
}

// FlushAll writes back every dirty guest register, releasing them all
// with invalidate.
func (rc *RegisterCache) FlushAll(invalidate bool) {
	for g := cpu.Reg(1); g < cpu.RegCount; g++ {
		rc.FlushGuestRegister(g, invalidate)
	}
}

// WriteBackAll stores dirty registers and keeps them cached.
func (rc *RegisterCache) WriteBackAll() {
	rc.FlushAll(false)
}

// InvalidateAll drops every mapping without storing anything. Used after
// code that rewrote guest registers in the state record.
func (rc *RegisterCache) InvalidateAll() {
	for g := cpu.Reg(1); g < cpu.RegCount; g++ {
		st := &rc.guest[g]
		if st.Kind != GuestCached {
			continue
		}
		errors.Assertf(!st.Dirty, "register cache: dropping dirty %s", g)
		rc.host[st.Host] = hostRegState{guest: cpu.NoReg}
		*st = GuestRegState{Kind: GuestInMemory, Host: NoHostReg}
	}
}

// PushCallerSavedRegisters saves every live caller-saved register except
// those listed and returns them in push order.
func (rc *RegisterCache) PushCallerSavedRegisters(except ...HostReg) []HostReg {
	var pushed []HostReg
	for r := HostReg(0); r < x64.NumRegs; r++ {
		if !rc.host[r].inUse || !rc.abi.IsCallerSaved(r) || containsReg(except, r) {
			continue
		}
		rc.asm.Push(r)
		pushed = append(pushed, r)
	}
	return pushed
}

func (rc *RegisterCache) PopCallerSavedRegisters(pushed []HostReg) {
	for i := len(pushed) - 1; i >= 0; i-- {
		rc.asm.Pop(pushed[i])
	}
}

// NameOf returns the assembler name of r at size. Registers outside the
// active convention's usable set are a code generation bug.
func (rc *RegisterCache) NameOf(r HostReg, size RegSize) string {
	errors.Assertf(r < x64.NumRegs && size.Valid(), "register cache: bad register %d/%d", r, size)
	errors.Assertf(rc.allocatable(r) || r == CPUPointer || r == rc.abi.ReturnReg || containsReg(rc.abi.ArgRegs, r),
		"register cache: %s is not usable under %s", r, rc.abi.Name)
	return r.Name(size)
}
