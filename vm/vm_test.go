package vm

import (
	"defs"
	"testing"
)

func mkRegion(pgn uintptr, pglen int, kind Kind_t, immutable bool) *Vminfo_t {
	vmi := &Vminfo_t{
		Mtype: VANON,
		Pgn:   pgn,
		Pglen: pglen,
		Perms: uint(PTE_U | PTE_W),
		Kind:  kind,
	}
	vmi.Immutable = immutable
	vmi.ActualEnd = vmi.End()
	return vmi
}

func TestVmregionInsertLookup(t *testing.T) {
	var vr Vmregion_t
	a := mkRegion(0x10, 4, KAnon, false)
	b := mkRegion(0x20, 4, KAnon, false)
	vr.insert(a)
	vr.insert(b)

	if got, ok := vr.Lookup(a.Start() + uintptr(PGSIZE)); !ok || got != a {
		t.Fatalf("Lookup inside a = %v, %v; want a", got, ok)
	}
	if got, ok := vr.Lookup(b.Start()); !ok || got != b {
		t.Fatalf("Lookup at b.Start() = %v, %v; want b", got, ok)
	}
	if _, ok := vr.Lookup(a.End()); ok {
		t.Fatalf("Lookup at gap between a and b should miss")
	}

	if a.next != b || b.prev != a {
		t.Fatalf("insert did not relink a<->b: a.next=%v b.prev=%v", a.next, b.prev)
	}
}

func TestVmregionRemoveAt(t *testing.T) {
	var vr Vmregion_t
	a := mkRegion(0x10, 4, KAnon, false)
	b := mkRegion(0x20, 4, KAnon, false)
	vr.insert(a)
	vr.insert(b)

	vr.removeAt(0)
	if len(vr.regions) != 1 || vr.regions[0] != b {
		t.Fatalf("removeAt(0) left %v, want just b", vr.regions)
	}
	if b.prev != nil {
		t.Fatalf("relink after removeAt left stale prev pointer: %v", b.prev)
	}
}

func TestVmregionClearEmpties(t *testing.T) {
	var vr Vmregion_t
	vr.insert(mkRegion(0x10, 4, KAnon, false))
	vr.insert(mkRegion(0x20, 4, KAnon, false))
	vr.Clear()
	if len(vr.regions) != 0 {
		t.Fatalf("Clear left %d regions", len(vr.regions))
	}
}

// Mmap never touches as.Pmap (page installation is deferred to the
// fault handler), so a zero-value Vm_t is safe to exercise directly.

func TestMmapZeroLengthRejected(t *testing.T) {
	as := &Vm_t{}
	if _, err := as.Mmap(0, 0, PROT_READ, MAP_ANONYMOUS, nil, 0); err != -defs.EINVAL {
		t.Fatalf("Mmap length=0 = %v, want -EINVAL", err)
	}
}

func TestMmapWriteExecRejected(t *testing.T) {
	as := &Vm_t{}
	prot := PROT_WRITE | PROT_EXEC
	if _, err := as.Mmap(0, PGSIZE, prot, MAP_ANONYMOUS, nil, 0); err != -defs.EINVAL {
		t.Fatalf("Mmap W|X = %v, want -EINVAL", err)
	}
}

func TestMmapFixedZeroAddrRejected(t *testing.T) {
	as := &Vm_t{}
	if _, err := as.Mmap(0, PGSIZE, PROT_READ, MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != -defs.EFAULT {
		t.Fatalf("Mmap FIXED addr=0 = %v, want -EFAULT", err)
	}
}

func TestMmapFixedPastKernelBoundaryRejected(t *testing.T) {
	as := &Vm_t{}
	addr := int(kernelBoundary)
	if _, err := as.Mmap(addr, PGSIZE, PROT_READ, MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != -defs.EFAULT {
		t.Fatalf("Mmap FIXED at kernelBoundary = %v, want -EFAULT", err)
	}
}

func TestMmapAnonInstallsRegion(t *testing.T) {
	as := &Vm_t{}
	addr := int(kernelBoundary) - 0x10*PGSIZE
	base, err := as.Mmap(addr, 3*PGSIZE, PROT_READ|PROT_WRITE, MAP_ANONYMOUS|MAP_FIXED, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap = %v, want success", err)
	}
	if base != uintptr(addr) {
		t.Fatalf("Mmap base = %#x, want %#x", base, addr)
	}
	r, ok := as.Vmregion.Lookup(base)
	if !ok {
		t.Fatalf("no region installed at %#x", base)
	}
	if r.Mtype != VANON {
		t.Fatalf("region Mtype = %v, want VANON", r.Mtype)
	}
	if r.Start() != uintptr(addr) || r.End() != uintptr(addr)+3*uintptr(PGSIZE) {
		t.Fatalf("region range = [%#x,%#x), want [%#x,%#x)", r.Start(), r.End(), addr, addr+3*PGSIZE)
	}
	if r.ActualEnd != r.End() {
		t.Fatalf("anon region ActualEnd = %#x, want End() = %#x", r.ActualEnd, r.End())
	}
}

// The non-FIXED path (addr=NULL, the common mmap call and spec.md §8
// scenario 1) relies on Vmregion_t.empty finding a gap by walking the
// region list from kernelBoundary downward, not from the caller's
// hint -- on a fresh address space with no regions at all that walk
// must still find the entire user half as one gap.

func TestMmapNoHintOnFreshAddressSpace(t *testing.T) {
	as := &Vm_t{}
	base, err := as.Mmap(0, 0x10000, PROT_READ|PROT_WRITE, MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap(addr=0) on an empty address space = %v, want success", err)
	}
	r, ok := as.Vmregion.Lookup(base)
	if !ok {
		t.Fatalf("no region installed at returned base %#x", base)
	}
	if r.End()-r.Start() != 0x10000 {
		t.Fatalf("region size = %#x, want 0x10000", r.End()-r.Start())
	}
}

func TestMmapNoHintFindsGapBelowExistingRegion(t *testing.T) {
	as := &Vm_t{}
	// Occupy the top of the user half so the gap-above-every-region
	// candidate is zero-sized and empty() must fall through to the
	// region's own Start() as the next ceiling, exactly the step the
	// unset maxpgn used to skip by clamping the ceiling to hint instead.
	topRegionStart := int(kernelBoundary) - PGSIZE
	if _, err := as.Mmap(topRegionStart, PGSIZE, PROT_READ, MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != 0 {
		t.Fatalf("setup Mmap failed: %v", err)
	}

	base, err := as.Mmap(0, PGSIZE, PROT_READ, MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap(addr=0) = %v, want success", err)
	}
	if base+uintptr(PGSIZE) > uintptr(topRegionStart) {
		t.Fatalf("Mmap base %#x overlaps the region installed at %#x", base, topRegionStart)
	}
}

func TestMmapOverlapRejected(t *testing.T) {
	as := &Vm_t{}
	addr := int(kernelBoundary) - 0x10*PGSIZE
	if _, err := as.Mmap(addr, 2*PGSIZE, PROT_READ, MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != 0 {
		t.Fatalf("first Mmap failed: %v", err)
	}
	if _, err := as.Mmap(addr+PGSIZE, PGSIZE, PROT_READ, MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != -defs.EFAULT {
		t.Fatalf("overlapping FIXED Mmap = %v, want -EFAULT", err)
	}
}

// Munmap/Mprotect only reach as.Pmap once past validation; the cases
// below stop at a rejecting return before any Pmap access, so they
// stay safe against a nil Pmap.

func TestMunmapMiddleCarveRejected(t *testing.T) {
	as := &Vm_t{}
	base := mkRegion(0x100, 4, KAnon, false)
	as.Vmregion.insert(base)

	addr := int(base.Start()) + PGSIZE
	if err := as.Munmap(addr, PGSIZE); err != -defs.EINVAL {
		t.Fatalf("Munmap of a strict middle sub-range = %v, want -EINVAL", err)
	}
	if len(as.Vmregion.regions) != 1 {
		t.Fatalf("Munmap middle-carve rejection must not mutate the region list, got %d regions", len(as.Vmregion.regions))
	}
}

func TestMunmapImmutableRejected(t *testing.T) {
	as := &Vm_t{}
	r := mkRegion(0x100, 4, KAnon, true)
	as.Vmregion.insert(r)

	if err := as.Munmap(int(r.Start()), int(r.End()-r.Start())); err != -defs.EPERM {
		t.Fatalf("Munmap of an immutable region = %v, want -EPERM", err)
	}
	if len(as.Vmregion.regions) != 1 {
		t.Fatalf("Munmap rejection must leave the region list untouched")
	}
}

func TestMunmapUncoveredRangeRejected(t *testing.T) {
	as := &Vm_t{}
	if err := as.Munmap(int(kernelBoundary)-PGSIZE, PGSIZE); err != -defs.ENOMEM {
		t.Fatalf("Munmap of an unmapped range = %v, want -ENOMEM", err)
	}
}

func TestMprotectWriteExecRejected(t *testing.T) {
	as := &Vm_t{}
	prot := PROT_WRITE | PROT_EXEC
	if err := as.Mprotect(int(kernelBoundary)-PGSIZE, PGSIZE, prot); err != -defs.EINVAL {
		t.Fatalf("Mprotect W|X = %v, want -EINVAL", err)
	}
}

func TestMprotectImmutableRejected(t *testing.T) {
	as := &Vm_t{}
	r := mkRegion(0x100, 4, KAnon, true)
	as.Vmregion.insert(r)

	if err := as.Mprotect(int(r.Start()), int(r.End()-r.Start()), PROT_READ); err != -defs.EPERM {
		t.Fatalf("Mprotect of an immutable region = %v, want -EPERM", err)
	}
	if r.Perms != uint(PTE_U|PTE_W) {
		t.Fatalf("Mprotect rejection must not alter region perms, got %#x", r.Perms)
	}
}

func TestMprotectUncoveredRangeRejected(t *testing.T) {
	as := &Vm_t{}
	if err := as.Mprotect(int(kernelBoundary)-PGSIZE, PGSIZE, PROT_READ); err != -defs.ENOMEM {
		t.Fatalf("Mprotect of an unmapped range = %v, want -ENOMEM", err)
	}
}
