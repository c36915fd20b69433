package vm

import (
	"defs"
	"fdops"
	"mem"
	"util"

	"x86"
)

// Protection and mmap flag bits, as passed by the mmap/mprotect system
// calls (spec §6.2). protPerms translates them to the PTE_{U,W} bits
// the region's Perms field stores; PROT_READ and PROT_EXEC are not
// recorded anywhere -- this kernel, like the one it is modeled on,
// does not enforce NX at the PTE level.
type Prot_t uint

const (
	PROT_NONE  Prot_t = 0
	PROT_READ  Prot_t = 1 << 0
	PROT_WRITE Prot_t = 1 << 1
	PROT_EXEC  Prot_t = 1 << 2
)

type Mapflag_t uint

const (
	MAP_ANONYMOUS Mapflag_t = 1 << 0
	MAP_FIXED     Mapflag_t = 1 << 1
	MAP_SHARED    Mapflag_t = 1 << 2
)

// kernelBoundary is the first virtual address reserved for the kernel
// half of the address space; FIXED mappings may not touch it.
const kernelBoundary = uintptr(mem.USERMIN)

func protPerms(prot Prot_t) uint {
	p := uint(PTE_U)
	if prot&PROT_WRITE != 0 {
		p |= uint(PTE_W)
	}
	return p
}

// Mmap implements the mmap system call (spec §4.3). It returns -EINVAL
// for MAP_ANONYMOUS with a non-nil fops, and for a nil fops without
// MAP_ANONYMOUS.
func (as *Vm_t) Mmap(addr, length int, prot Prot_t, flags Mapflag_t,
	fops fdops.Fdops_i, foff int) (uintptr, defs.Err_t) {

	if length == 0 {
		return 0, -defs.EINVAL
	}
	if foff&int(PGOFFSET) != 0 {
		return 0, -defs.EINVAL
	}
	if addr&int(PGOFFSET) != 0 {
		return 0, -defs.EINVAL
	}
	if prot&PROT_WRITE != 0 && prot&PROT_EXEC != 0 {
		return 0, -defs.EINVAL
	}
	anon := flags&MAP_ANONYMOUS != 0
	if anon && fops != nil {
		return 0, -defs.EINVAL
	}
	if !anon && fops == nil {
		return 0, -defs.EINVAL
	}

	as.Lock()
	defer as.Unlock()

	pglen := util.Roundup(length, PGSIZE)
	var base uintptr
	if flags&MAP_FIXED != 0 {
		if addr == 0 {
			return 0, -defs.EFAULT
		}
		base = uintptr(addr)
		if base >= kernelBoundary || base+uintptr(pglen) > kernelBoundary {
			return 0, -defs.EFAULT
		}
		if as.overlaps(base, base+uintptr(pglen)) {
			return 0, -defs.EFAULT
		}
	} else {
		gap, gaplen := as.Vmregion.empty(uintptr(addr), uintptr(pglen))
		if gaplen < uintptr(pglen) || gap+uintptr(pglen) > kernelBoundary {
			return 0, -defs.ENOMEM
		}
		base = gap
	}

	perms := mem.Pa_t(protPerms(prot))
	var vmi *Vminfo_t
	if anon {
		vmi = as.newVminfo(VANON, KAnon, int(base), pglen, perms, 0, nil, nil)
		vmi.ActualEnd = vmi.End()
	} else {
		// The Mmap hook (and the shared-vs-private answer it may
		// influence) is not consulted until the first fault -- see
		// Vminfo_t.Filepage -- matching the fault handler's lazy
		// install of every other kind of page.
		vmi = as.newVminfo(VFILE, KFile, int(base), pglen, perms, foff, fops, nil)
		vmi.file.shared = flags&MAP_SHARED != 0
		vmi.ActualEnd = vmi.End()
	}
	as.Vmregion.insert(vmi)
	return base, 0
}

func (as *Vm_t) overlaps(start, end uintptr) bool {
	for _, r := range as.Vmregion.sorted() {
		if r.Start() < end && start < r.End() {
			return true
		}
	}
	return false
}

// MapSegment installs a file-backed region for a loader-supplied
// program segment: start/filelen describe the portion backed by file
// content at foff, memlen is the segment's full in-memory extent
// (memlen > filelen for a segment with a bss tail). The tail page is
// zero-filled by Filepage; any whole pages beyond the file-backed
// portion are a separate anonymous region so brk and mprotect see two
// honestly-typed regions rather than one lying about its backing.
func (as *Vm_t) MapSegment(start, filelen, memlen int, perms mem.Pa_t,
	fops fdops.Fdops_i, foff int) defs.Err_t {

	as.Lock()
	defer as.Unlock()

	if as.overlaps(uintptr(start), uintptr(start+util.Roundup(memlen, PGSIZE))) {
		return -defs.EINVAL
	}

	if filelen > 0 {
		filePglen := util.Roundup(filelen, PGSIZE)
		vmi := as.newVminfo(VFILE, KFile, start, filePglen, perms, foff, fops, nil)
		vmi.ActualEnd = uintptr(start + filelen)
		as.Vmregion.insert(vmi)
	}
	if memlen > filelen {
		bssStart := util.Roundup(start+filelen, PGSIZE)
		bssLen := start + memlen - bssStart
		if bssLen > 0 {
			anon := as.newVminfo(VANON, KAnon, bssStart, bssLen, perms, 0, nil, nil)
			as.Vmregion.insert(anon)
		}
	}
	return 0
}

// regionsIn returns the indices (inclusive) of the contiguous run of
// regions whose union exactly spans [start,end), or ok=false if the
// range is not fully covered by touching regions.
func (as *Vm_t) regionsIn(start, end uintptr) (lo, hi int, ok bool) {
	rs := as.Vmregion.sorted()
	lo = -1
	for i, r := range rs {
		if r.End() <= start {
			continue
		}
		if r.Start() >= end {
			break
		}
		if lo == -1 {
			lo = i
			if r.Start() > start {
				return 0, 0, false
			}
		} else if rs[i-1].End() != r.Start() {
			return 0, 0, false
		}
		hi = i
	}
	if lo == -1 || rs[hi].End() < end {
		return 0, 0, false
	}
	return lo, hi, true
}

// Munmap implements the munmap system call (spec §4.3).
func (as *Vm_t) Munmap(addr, length int) defs.Err_t {
	if length == 0 || addr&int(PGOFFSET) != 0 {
		return -defs.EINVAL
	}
	start := uintptr(addr)
	end := start + uintptr(util.Roundup(length, PGSIZE))

	as.Lock()
	defer as.Unlock()

	lo, hi, ok := as.regionsIn(start, end)
	if !ok {
		return -defs.ENOMEM
	}
	rs := as.Vmregion.sorted()
	for i := lo; i <= hi; i++ {
		if rs[i].Immutable {
			return -defs.EPERM
		}
	}

	for i := hi; i >= lo; i-- {
		r := rs[i]
		switch {
		case r.Start() >= start && r.End() <= end:
			as.unmapRange(r.Start(), r.End(), !r.IO)
			as.Vmregion.removeAt(i)
		case r.Start() >= start:
			as.unmapRange(r.Start(), end, !r.IO)
			newPglen := int((r.End() - end) >> PGSHIFT)
			r.Pgn = end >> PGSHIFT
			r.Pglen = newPglen
		case r.End() <= end:
			as.unmapRange(start, r.End(), !r.IO)
			r.Pglen = int((start - r.Start()) >> PGSHIFT)
		default:
			// strict middle carve-out of a single region: unsupported.
			return -defs.EINVAL
		}
	}
	as.Tlbshoot(start, int((end-start)>>PGSHIFT))
	return 0
}

func (as *Vm_t) unmapRange(start, end uintptr, freePages bool) {
	floor, ceil := as.neighborBounds(start, end)
	x86.Default.Unmap(as.Pmap, start, end, floor, ceil, freePages)
}

// neighborBounds returns the start of the preceding region and the end
// of the following region, so the page-table walker does not free an
// intermediate table a neighboring region still indexes into.
func (as *Vm_t) neighborBounds(start, end uintptr) (floor, ceil uintptr) {
	rs := as.Vmregion.sorted()
	for _, r := range rs {
		if r.End() <= start {
			floor = r.End()
		}
		if r.Start() >= end && ceil == 0 {
			ceil = r.Start()
		}
	}
	return
}

// Mprotect implements the mprotect system call (spec §4.3).
func (as *Vm_t) Mprotect(addr, length int, prot Prot_t) defs.Err_t {
	if length == 0 || addr&int(PGOFFSET) != 0 {
		return -defs.EINVAL
	}
	if prot&PROT_WRITE != 0 && prot&PROT_EXEC != 0 {
		return -defs.EINVAL
	}
	start := uintptr(addr)
	end := start + uintptr(util.Roundup(length, PGSIZE))

	as.Lock()
	defer as.Unlock()

	lo, hi, ok := as.regionsIn(start, end)
	if !ok {
		return -defs.ENOMEM
	}
	rs := as.Vmregion.sorted()
	for i := lo; i <= hi; i++ {
		if rs[i].Immutable {
			return -defs.EPERM
		}
	}

	newPerms := mem.Pa_t(protPerms(prot))
	var replaced []*Vminfo_t
	for i := lo; i <= hi; i++ {
		r := rs[i]
		rstart, rend := r.Start(), r.End()
		left := rstart
		right := rend
		if left < start {
			left = start
		}
		if right > end {
			right = end
		}
		if rstart < left {
			head := as.splitCopy(r, rstart, left, r.Perms)
			replaced = append(replaced, head)
		}
		mid := as.splitCopy(r, left, right, uint(newPerms))
		replaced = append(replaced, mid)
		if right < rend {
			tail := as.splitCopy(r, right, rend, r.Perms)
			replaced = append(replaced, tail)
		}
	}
	for i := hi; i >= lo; i-- {
		as.Vmregion.removeAt(i)
	}
	for _, r := range replaced {
		as.Vmregion.insert(r)
	}
	replaced = as.mergeAdjacent(replaced)

	for _, r := range replaced {
		if r.Start() >= start && r.End() <= end {
			if err := as.reprotectRange(r); err != 0 {
				return -defs.EINVAL // SIGBUS delivery is the caller's job
			}
		}
	}
	as.Tlbshoot(start, int((end-start)>>PGSHIFT))
	return 0
}

// splitCopy builds a new Vminfo_t covering [s,e) with the same backing
// as r but the given permissions, for mprotect's split step.
func (as *Vm_t) splitCopy(r *Vminfo_t, s, e uintptr, perms uint) *Vminfo_t {
	n := &Vminfo_t{
		Mtype:     r.Mtype,
		Pgn:       s >> PGSHIFT,
		Pglen:     int((e - s) >> PGSHIFT),
		Perms:     perms,
		Kind:      r.Kind,
		Immutable: r.Immutable,
		IO:        r.IO,
		file:      r.file,
	}
	n.ActualEnd = n.End()
	if r.ActualEnd < e {
		n.ActualEnd = r.ActualEnd
	}
	if n.file.mfile != nil {
		n.file.mfile.mapcount++
	}
	return n
}

// mergeAdjacent folds touching regions with identical flags and
// backing into one, the way §4.3 asks mprotect to try after splitting.
func (as *Vm_t) mergeAdjacent(touched []*Vminfo_t) []*Vminfo_t {
	rs := as.Vmregion.sorted()
	i := 0
	for i < len(rs)-1 {
		a, b := rs[i], rs[i+1]
		if a.End() == b.Start() && a.Mtype == b.Mtype && a.Perms == b.Perms &&
			a.Kind == b.Kind && a.Immutable == b.Immutable &&
			a.Mtype != VFILE {
			a.Pglen += b.Pglen
			as.Vmregion.removeAt(i + 1)
			rs = as.Vmregion.sorted()
			continue
		}
		i++
	}
	return as.Vmregion.sorted()
}

// reprotectRange walks every present PTE in r's range and updates its
// protection bits in place.
func (as *Vm_t) reprotectRange(r *Vminfo_t) defs.Err_t {
	for va := r.Start(); va < r.End(); va += uintptr(PGSIZE) {
		pte, err := x86.Default.Walk(as.Pmap, va, false, 0)
		if err != 0 {
			return err
		}
		if pte == nil || *pte&PTE_P == 0 {
			continue
		}
		bits := mem.Pa_t(r.Perms) &^ PTE_COW
		if r.Perms&uint(PTE_W) != 0 && *pte&PTE_COW != 0 {
			bits = bits &^ PTE_W
		}
		*pte = (*pte &^ (PTE_W | PTE_U)) | bits | PTE_P
	}
	return 0
}

// Mimmutable implements the mimmutable system call.
func (as *Vm_t) Mimmutable(addr, length int) defs.Err_t {
	start := uintptr(addr)
	end := start + uintptr(util.Roundup(length, PGSIZE))
	as.Lock()
	defer as.Unlock()
	lo, hi, ok := as.regionsIn(start, end)
	if !ok {
		return -defs.ENOMEM
	}
	rs := as.Vmregion.sorted()
	for i := lo; i <= hi; i++ {
		rs[i].Immutable = true
	}
	return 0
}

// Brk implements the brk system call: move the heap's end to addr
// rounded up to a page. The first call, with *heap nil, creates a
// zero-size heap region at addr rounded down; every later call only
// grows or shrinks that same region's end. The old heap region is
// never retired and no heap region is created at a new start address.
func (as *Vm_t) Brk(addr int, heap **Vminfo_t) (uintptr, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	na := uintptr(util.Roundup(addr, PGSIZE))
	h := *heap
	if h == nil {
		base := uintptr(util.Rounddown(addr, PGSIZE))
		h = as.newVminfo(VANON, KHeap, int(base), PGSIZE, mem.Pa_t(PTE_U|PTE_W), 0, nil, nil)
		h.Pglen = 0
		as.Vmregion.insert(h)
		*heap = h
		return na, 0
	}

	rs := as.Vmregion.sorted()
	for _, r := range rs {
		if r == h {
			continue
		}
		if na > h.Start() && r.Start() >= h.Start() && na > r.Start() {
			return 0, -defs.ENOMEM
		}
	}
	if na < h.Start() {
		return 0, -defs.ENOMEM
	}
	if na < h.End() {
		as.unmapRange(na, h.End(), true)
		as.Tlbshoot(na, int((h.End()-na)>>PGSHIFT))
	}
	h.Pglen = int((na - h.Start()) >> PGSHIFT)
	h.ActualEnd = h.End()
	return na, 0
}

// Sbrk implements the sbrk system call in terms of Brk, returning the
// break's value before the move.
func (as *Vm_t) Sbrk(incr int, heap **Vminfo_t) (uintptr, defs.Err_t) {
	var cur uintptr
	if *heap != nil {
		cur = (*heap).End()
	}
	if _, err := as.Brk(int(cur)+incr, heap); err != 0 {
		return 0, err
	}
	return cur, 0
}

// Pinsyscalls_t holds the one-shot syscall-entry range installed by
// Pinsyscalls.
type Pinsyscalls_t struct {
	start, end uintptr
	set        bool
}

// Pinsyscalls implements the pinsyscalls system call.
func (as *Vm_t) Pinsyscalls(pin *Pinsyscalls_t, start, size int) defs.Err_t {
	if pin.set {
		return -defs.EINVAL
	}
	as.Lock()
	defer as.Unlock()
	s := uintptr(start)
	e := s + uintptr(size)
	r, ok := as.Vmregion.Lookup(s)
	if !ok || r.End() < e {
		return -defs.EINVAL
	}
	if r.Perms&uint(PTE_U) == 0 {
		return -defs.EINVAL
	}
	pin.start, pin.end, pin.set = s, e, true
	return 0
}

// Check reports whether pc falls within the pinned range,
// once one has been installed; before that every address is allowed.
func (pin *Pinsyscalls_t) Check(pc uintptr) bool {
	if !pin.set {
		return true
	}
	return pc >= pin.start && pc < pin.end
}
