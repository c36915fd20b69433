package vm

import (
	"defs"
	"fdops"
	"mem"

	"x86"
)

// mtype_t selects how the fault handler resolves an absent or
// copy-on-write PTE within a region: VANON and VFILE are private
// (copy-on-write) anonymous/file mappings; VSANON is a shared anonymous
// mapping that is always fully populated up front and should never
// reach the fault handler's install path.
type mtype_t uint8

const (
	VANON mtype_t = iota
	VSANON
	VFILE
)

// Kind_t is the region's role tag (spec §3's 2-bit type field). The
// mmap family only compares it when deciding which touching regions
// mprotect may merge; Brk tracks the heap through its own pointer, not
// by searching for KHeap.
type Kind_t uint8

const (
	KAnon Kind_t = iota
	KStack
	KHeap
	KFile
)

// Mfile_t is the state shared by every Vminfo_t backed by the same
// open file mapping: the fdops capability, the lazily-obtained nopage
// capability, an optional per-page unpin hook, and how many regions
// still reference it.
type Mfile_t struct {
	mfops    fdops.Fdops_i
	mapfile  fdops.Mapfile_i
	unpin    mem.Unpin_i
	mapcount int
}

type mfile_t struct {
	foff   int
	mfile  *Mfile_t
	shared bool
}

// Vminfo_t is one VM area: a page-aligned, protection-homogeneous
// range of an address space's virtual addresses (spec §3's VM area).
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr
	Pglen int
	Perms uint

	Kind      Kind_t
	Immutable bool
	IO        bool

	// ActualEnd is where Filepage stops asking the file for bytes.
	// MapSegment sets it to start+filelen for a program segment's
	// file-backed region; Mmap sets it to End for every region, file
	// or anonymous, so a file mapping longer than its file relies on
	// Nopage returning fewer bytes for the zero-filled tail.
	ActualEnd uintptr

	file mfile_t

	next, prev *Vminfo_t
}

func (vmi *Vminfo_t) Start() uintptr { return vmi.Pgn << PGSHIFT }
func (vmi *Vminfo_t) End() uintptr   { return (vmi.Pgn + uintptr(vmi.Pglen)) << PGSHIFT }

// Ptefor returns the leaf PTE for va within this region, allocating
// any missing intermediate page table along the way.
func (vmi *Vminfo_t) Ptefor(pgd *mem.Pmap_t, va uintptr) (*mem.Pa_t, bool) {
	pte, err := x86.Default.Walk(pgd, va, true, PTE_U|PTE_W)
	if err != 0 {
		return nil, false
	}
	return pte, true
}

// Filepage obtains the file page backing address within this region,
// calling the backing file's Mmap hook on first use and caching the
// resulting Mapfile_i capability for the lifetime of the mapping.
func (vmi *Vminfo_t) Filepage(address uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	address &^= uintptr(PGSIZE - 1)
	mf := vmi.file.mfile
	if mf.mapfile == nil {
		mapfile, shared, err := mf.mfops.Mmap(vmi.file.foff)
		if err != 0 {
			return nil, 0, err
		}
		mf.mapfile = mapfile
		vmi.file.shared = shared
	}
	length := PGSIZE
	if end := vmi.ActualEnd; address+uintptr(length) > end {
		if address >= end {
			length = 0
		} else {
			length = int(end - address)
		}
	}
	fileoff := int(address-vmi.Start()) + vmi.file.foff
	p_pg, got, err := mf.mapfile.Nopage(fileoff, length)
	if err != 0 {
		return nil, 0, err
	}
	pg := mem.Physmem.Dmap(p_pg)
	if got < PGSIZE {
		bpg := mem.Pg2bytes(pg)
		for i := got; i < PGSIZE; i++ {
			bpg[i] = 0
		}
	}
	return pg, p_pg, 0
}

// Vmregion_t is the per-address-space list of VM areas: sorted by
// start address and pairwise disjoint (spec §3's address-space
// invariant). Regions are non-empty with one exception: Brk's first
// call inserts a zero-length heap region. It is backed by an arena slice rather than
// raw next/prev pointers so that splits and merges replace slice
// entries instead of splicing shared nodes -- see design note on
// cyclic VM-area list pointers.
type Vmregion_t struct {
	regions []*Vminfo_t
}

func (vr *Vmregion_t) sorted() []*Vminfo_t { return vr.regions }

// find returns the index of the first region whose end is > the given
// page number, i.e. the insertion point / candidate container.
func (vr *Vmregion_t) find(pgn uintptr) int {
	lo, hi := 0, len(vr.regions)
	for lo < hi {
		mid := (lo + hi) / 2
		if vr.regions[mid].Pgn+uintptr(vr.regions[mid].Pglen) <= pgn {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Lookup returns the region containing virtual address va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := va >> PGSHIFT
	i := vr.find(pgn)
	if i >= len(vr.regions) {
		return nil, false
	}
	r := vr.regions[i]
	if pgn < r.Pgn {
		return nil, false
	}
	return r, true
}

// insert adds vmi to the list in sorted position. The caller must
// already have verified vmi does not overlap an existing region.
func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	if vmi.Mtype == VFILE && vmi.file.mfile != nil {
		vmi.file.mfile.mfops.Reopen()
		vmi.file.mfile.mapcount++
	}
	i := vr.find(vmi.Pgn)
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = vmi
	vr.relink()
}

// removeAt deletes the region at index i, releasing its file reference
// if it was the last region backed by that Mfile_t.
func (vr *Vmregion_t) removeAt(i int) {
	vmi := vr.regions[i]
	vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
	vr.relink()
	if vmi.Mtype == VFILE && vmi.file.mfile != nil {
		mf := vmi.file.mfile
		mf.mapcount--
		if mf.mapcount == 0 {
			if mf.mapfile != nil {
				mf.mapfile.Unpin()
			}
			mf.mfops.Close()
		}
	}
}

func (vr *Vmregion_t) relink() {
	var p *Vminfo_t
	for _, r := range vr.regions {
		r.prev = p
		if p != nil {
			p.next = r
		}
		p = r
	}
	if p != nil {
		p.next = nil
	}
}

// empty finds a free gap of at least length bytes, walking the region
// list from the tail toward the head and capping the search at
// kernelBoundary, the top of the user half of the address space --
// spec §4.3's "walk from tail to head, cap at the user/stack boundary"
// exactly, not at the caller's hint, so an addr=NULL mmap on a fresh
// address space (no regions at all) sees the whole user half as one
// gap instead of a zero-length one. Once the tail-to-head walk runs
// out of regions, hint acts as the floor below which the gap may not
// start.
func (vr *Vmregion_t) empty(hint, length uintptr) (uintptr, uintptr) {
	prevEnd := kernelBoundary
	for i := len(vr.regions) - 1; i >= 0; i-- {
		r := vr.regions[i]
		gapEnd := prevEnd
		gapStart := r.End()
		if gapEnd > gapStart && gapEnd-gapStart >= length {
			return gapStart, gapEnd - gapStart
		}
		prevEnd = r.Start()
	}
	if prevEnd >= hint {
		return hint, prevEnd - hint
	}
	return hint, 0
}

// Clear empties the region list, releasing every file-backed region's
// reference. Used when an address space is destroyed.
func (vr *Vmregion_t) Clear() {
	for len(vr.regions) > 0 {
		vr.removeAt(len(vr.regions) - 1)
	}
}
