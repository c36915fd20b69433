package mem

import "fmt"

// Allocflags_t selects the layout and preparation of pages returned by
// Physmem_t.Alloc. They compose: e.g. Contiguous|Zeroed.
type Allocflags_t uint

const (
	// Contiguous requires the returned run to be physically contiguous
	// page frames, found by a first-fit linear scan of the frame array.
	Contiguous Allocflags_t = 1 << iota
	// Discontiguous allows (and, for large n, prefers) a run chained
	// together from whatever frames are at the head of the free list.
	Discontiguous
	// Zeroed zero-fills every returned frame before Alloc returns.
	Zeroed
	// Uncached is accepted by Alloc but has no effect: the run is
	// reachable only through the default write-back direct map, and no
	// uncached mapping is installed.
	Uncached
)

// Alloc hands out n physical page frames as a singly-linked run (chained
// through the same Physpg_t.nexti field used by the free list -- a run
// is simply a list detached from the global free list) and returns the
// physical address of the run's head. Each returned frame has refcount
// 1 and is reachable through the kernel's direct map, satisfying "every
// in-use frame has a kernel identity mapping" for callers that write to
// it before handing it to a user mapping. Alloc reports ok=false if the
// request cannot be satisfied; no partial run is left allocated.
func (phys *Physmem_t) Alloc(n int, flags Allocflags_t) (head Pa_t, ok bool) {
	if n <= 0 {
		panic("bad page count")
	}

	var pgns []uint32
	if flags&Contiguous != 0 {
		pgns, ok = phys.allocContig(n)
	} else {
		pgns, ok = phys.allocDiscontig(n)
	}
	if !ok {
		return 0, false
	}

	for i, pgn := range pgns {
		phys.Pgs[pgn].Refcnt = 1
		if i+1 < len(pgns) {
			phys.Pgs[pgn].nexti = pgns[i+1]
		} else {
			phys.Pgs[pgn].nexti = ^uint32(0)
		}
		if flags&Zeroed != 0 {
			bpg := Pg2bytes(phys.Dmap(phys.pgn2addr(pgn)))
			for i := range bpg {
				bpg[i] = 0
			}
		}
		// Uncached is not acted on here: this kernel's direct map is a
		// single static identity mapping shared by all frames (see
		// dmap.go), so there is no per-frame PTE to set PCD in, and the
		// flag is not stored anywhere on the returned frames.
	}

	return phys.pgn2addr(pgns[0]), true
}

// pgn2addr converts a frame-array index back into a physical address.
func (phys *Physmem_t) pgn2addr(pgn uint32) Pa_t {
	return Pa_t(pgn+phys.startn) << PGSHIFT
}

func (phys *Physmem_t) addr2pgn(p Pa_t) uint32 {
	return _pg2pgn(p) - phys.startn
}

// allocContig scans the frame array linearly (first-fit) for n frames
// with refcount 0, then splices each out of whichever free list (global
// or per-CPU) currently holds it.
func (phys *Physmem_t) allocContig(n int) ([]uint32, bool) {
	phys.Lock()
	defer phys.Unlock()

	run := -1
	for i := 0; i+n <= len(phys.Pgs); i++ {
		if phys.Pgs[i].Refcnt != 0 {
			run = -1
			continue
		}
		if run < 0 {
			run = i
		}
		if i-run+1 == n {
			pgns := make([]uint32, n)
			for j := 0; j < n; j++ {
				pgns[j] = uint32(run + j)
			}
			phys.detachFree(pgns)
			return pgns, true
		}
	}
	return nil, false
}

// allocDiscontig pops n individual frames off the free lists (global,
// falling back page by page since the per-CPU lists are an optimization
// for single-page allocation, not runs).
func (phys *Physmem_t) allocDiscontig(n int) ([]uint32, bool) {
	pgns := make([]uint32, 0, n)
	for len(pgns) < n {
		_, p_pg, ok := phys._refpg_new()
		if !ok {
			// unwind: return whatever we already detached
			for _, pgn := range pgns {
				// frames here were parked at refcount 0 below;
				// give each one reference so _phys_put frees it
				phys.Pgs[pgn].Refcnt = 1
				phys._phys_put(phys.pgn2addr(pgn), false)
			}
			return nil, false
		}
		pgn := phys.addr2pgn(p_pg)
		// _refpg_new() already set refcnt to 1 via Refpg_new... no --
		// _refpg_new returns a page with refcount left at whatever the
		// free list had (0); Alloc sets it explicitly below, so bring
		// it back to a known state here.
		phys.Pgs[pgn].Refcnt = 0
		pgns = append(pgns, pgn)
	}
	return pgns, true
}

// detachFree removes the listed frame indices from the global free
// list. Callers must hold phys.Lock(). It is O(freelen) -- page
// allocation is not performance-critical in this kernel.
func (phys *Physmem_t) detachFree(pgns []uint32) {
	want := make(map[uint32]bool, len(pgns))
	for _, p := range pgns {
		want[p] = true
	}
	var newHead uint32 = ^uint32(0)
	var tail *uint32
	removed := 0
	for cur := phys.freei; cur != ^uint32(0); {
		next := phys.Pgs[cur].nexti
		if want[cur] {
			removed++
		} else {
			if tail == nil {
				newHead = cur
			} else {
				*tail = cur
			}
			phys.Pgs[cur].nexti = ^uint32(0)
			tail = &phys.Pgs[cur].nexti
		}
		cur = next
	}
	if removed != len(pgns) {
		panic("detachFree: frame not on free list")
	}
	phys.freei = newHead
	phys.freelen -= int32(len(pgns))
	if phys.freelen < 0 {
		panic("negative freelen")
	}
}

// Free decrements the reference count of every frame in the run headed
// by p (as returned by Alloc) and returns any frame that reaches zero to
// the free list. Freeing an already-free run is a programmer error.
func (phys *Physmem_t) Free(p Pa_t) {
	phys.RangeFree(p)
}

// RangeFree walks the nexti-linked run starting at head and frees each
// member. It expects a run as returned by Alloc (every member at
// refcount 1 or more, the last one's nexti terminated); a page from
// Refpg_new/Refpg_new_nozero has refcount 0 and an unterminated nexti
// and is released with Refdown instead.
func (phys *Physmem_t) RangeFree(head Pa_t) {
	pgn := phys.addr2pgn(head)
	for {
		next := phys.Pgs[pgn].nexti
		if phys.Pgs[pgn].Refcnt <= 0 {
			panic(fmt.Sprintf("double free of frame %#x", phys.pgn2addr(pgn)))
		}
		phys._phys_put(phys.pgn2addr(pgn), false)
		if next == ^uint32(0) {
			return
		}
		pgn = next
	}
}
