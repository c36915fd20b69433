// Package x86 is the architecture port the vm package's core logic is
// written against: four-level page-table walk primitives and a TLB
// invalidation surface. This mirrors the split the source kernel draws
// between arch/x86/page.c (walker) and the architecture-independent
// kernel/mm/vm.c. The conversion from mmap protection bits to PTE bits
// is not here; it is vm.protPerms in the vm package.
//
// The walker is written for the teacher's four-level (pml4/pdpt/pd/pt)
// layout, the amd64 scheme Biscuit actually runs. No walker for a
// 32-bit, two-level layout (one that passes Level1 and Level2 straight
// through to the next real level) is provided.
package x86

import (
	"defs"
	"mem"
)

// Level names an entry in the four-level hierarchy, outermost first.
type Level int

const (
	PGD Level = iota // pml4: top of the tree, one per address space
	PUD               // pdpt
	PMD               // pd
	PTE               // pt: leaf, maps a single 4KiB frame
	numLevels
)

func (l Level) shift() uint { return 12 + 9*uint(numLevels-1-l) }

func (l Level) index(va uintptr) int { return int((va >> l.shift()) & 0x1ff) }

// Walker_i is the primitive set the spec calls out in §4.2: the core
// only ever calls these, never touches raw table memory.
type Walker_i interface {
	// Walk returns a pointer to the leaf PTE mapping va, allocating any
	// missing intermediate table (with the given permission bits) along
	// the way when alloc is true. It returns -ENOMEM if an intermediate
	// table could not be allocated, or nil with no error if alloc is
	// false and the mapping does not exist.
	Walk(pgd *mem.Pmap_t, va uintptr, alloc bool, iperms mem.Pa_t) (*mem.Pa_t, defs.Err_t)

	// Lookup is Walk(alloc=false) without the error return, for the
	// common case of "does a PTE exist".
	Lookup(pgd *mem.Pmap_t, va uintptr) *mem.Pa_t

	// Unmap clears every leaf PTE in [start, end), freeing the backing
	// page for each present entry when freePages is true (callers pass
	// false for VM_IO regions, which hold no page refcount). It also
	// frees any intermediate table left fully empty by the clear,
	// unless doing so would affect floor/ceil -- the neighboring vm
	// areas' ranges, which may share that table and must not be
	// invalidated out from under them (see §4.2's teardown note).
	Unmap(pgd *mem.Pmap_t, start, end, floor, ceil uintptr, freePages bool)

	// CopyRange clones [start, end) from srcPgd into dstPgd, allocating
	// any missing intermediate table in dstPgd along the way. mode
	// selects how each present leaf PTE is handled: ModeCOW marks both
	// copies copy-on-write and clears their writable bit (spec §4.5's
	// fork clone of a writable private region); ModeShare copies the
	// PTE as-is and bumps the page's refcount (a non-writable private
	// region, shared safely since neither side can mutate it); ModeIO
	// copies the PTE as-is without touching refcount (a VM_IO region,
	// shared by address only).
	CopyRange(dstPgd, srcPgd *mem.Pmap_t, start, end uintptr, mode CopyMode) defs.Err_t
}

// CopyMode selects CopyRange's per-leaf-PTE behavior; see CopyRange.
type CopyMode int

const (
	ModeCOW CopyMode = iota
	ModeShare
	ModeIO
)

type Walker struct{}

var Default Walker_i = Walker{}

func (Walker) Walk(pgd *mem.Pmap_t, va uintptr, alloc bool, iperms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	cur := pgd
	for lvl := PGD; lvl < PTE; lvl++ {
		e := &cur[lvl.index(va)]
		if *e&mem.PTE_P == 0 {
			if !alloc {
				return nil, 0
			}
			_, p_pg, ok := mem.Physmem.Refpg_new()
			if !ok {
				return nil, -defs.ENOMEM
			}
			*e = p_pg | iperms | mem.PTE_P
		}
		cur = mem.Physmem.DmapPmap(*e & mem.PTE_ADDR)
	}
	return &cur[PTE.index(va)], 0
}

func (w Walker) Lookup(pgd *mem.Pmap_t, va uintptr) *mem.Pa_t {
	pte, err := w.Walk(pgd, va, false, 0)
	if err != 0 {
		panic("lookup cannot fail")
	}
	return pte
}

// Alloc allocates the child table reachable from parent at level lvl
// for address va if it is not already present, returning the child
// table's direct-mapped pointer. It implements §4.2's "alloc(parent,
// vaddr) allocates the child table if missing and links it".
func (Walker) Alloc(parent *mem.Pmap_t, lvl Level, va uintptr, iperms mem.Pa_t) (*mem.Pmap_t, defs.Err_t) {
	e := &parent[lvl.index(va)]
	if *e&mem.PTE_P == 0 {
		_, p_pg, ok := mem.Physmem.Refpg_new()
		if !ok {
			return nil, -defs.ENOMEM
		}
		*e = p_pg | iperms | mem.PTE_P
	}
	return mem.Physmem.DmapPmap(*e & mem.PTE_ADDR), 0
}

// tableEmpty reports whether every entry of tbl is clear.
func tableEmpty(tbl *mem.Pmap_t) bool {
	for _, e := range tbl {
		if e != 0 {
			return false
		}
	}
	return true
}

// freeChild frees the table referenced by *parentEntry (if non-nil) and
// clears the entry, implementing §4.2's "free(parent) releases an empty
// child table". It is called bottom-up during Unmap once a level's
// table has been observed to hold no more live entries.
func freeChild(parentEntry *mem.Pa_t) {
	phys := *parentEntry & mem.PTE_ADDR
	*parentEntry = 0
	mem.Physmem.Free(phys)
}

func (w Walker) Unmap(pgd *mem.Pmap_t, start, end, floor, ceil uintptr, freePages bool) {
	w.unmapLevel(pgd, PGD, start, end, floor, ceil, freePages)
}

func (w Walker) CopyRange(dstPgd, srcPgd *mem.Pmap_t, start, end uintptr, mode CopyMode) defs.Err_t {
	return w.copyLevel(dstPgd, srcPgd, PGD, start, end, mode)
}

// copyLevel recurses srcTbl and dstTbl in lockstep, allocating a child
// table in dstTbl wherever srcTbl has a present entry, and handles the
// leaf level per CopyRange's mode. This is fork's vm_copy (spec §4.5)
// expressed the same top-down, allocate-then-recurse shape as
// Walker.Walk and Walker.Unmap.
func (w Walker) copyLevel(dstTbl, srcTbl *mem.Pmap_t, lvl Level, start, end uintptr, mode CopyMode) defs.Err_t {
	shift := lvl.shift()
	step := uintptr(1) << shift
	for va := start; va < end; va = (va &^ (step - 1)) + step {
		idx := lvl.index(va)
		se := &srcTbl[idx]
		if *se&mem.PTE_P == 0 {
			continue
		}
		next := (va &^ (step - 1)) + step
		if next > end {
			next = end
		}
		if lvl == PTE {
			de := &dstTbl[idx]
			switch mode {
			case ModeCOW:
				*se = (*se &^ mem.PTE_W) | mem.PTE_COW
				*de = *se
				mem.Physmem.Refup(*se & mem.PTE_ADDR)
			case ModeShare:
				*de = *se
				mem.Physmem.Refup(*se & mem.PTE_ADDR)
			case ModeIO:
				*de = *se
			}
			continue
		}
		iperms := *se &^ mem.PTE_ADDR
		dchild, err := w.Alloc(dstTbl, lvl, va, iperms)
		if err != 0 {
			return err
		}
		schild := mem.Physmem.DmapPmap(*se & mem.PTE_ADDR)
		if err := w.copyLevel(dchild, schild, lvl+1, va, next, mode); err != 0 {
			return err
		}
	}
	return 0
}

// unmapLevel recurses from lvl down to the PTE leaf, clearing mappings
// in [start, end) and freeing emptied intermediate tables. floor/ceil
// bound the range outside of which a shared intermediate table must be
// preserved because a neighboring vm area may still index into it --
// mirroring pte_range_free/pmd_range_free/... in the kernel this is
// modeled on.
func (w Walker) unmapLevel(tbl *mem.Pmap_t, lvl Level, start, end, floor, ceil uintptr, freePages bool) {
	shift := lvl.shift()
	step := uintptr(1) << shift
	for va := start; va < end; va = (va &^ (step - 1)) + step {
		idx := lvl.index(va)
		e := &tbl[idx]
		if *e&mem.PTE_P == 0 {
			continue
		}
		next := (va &^ (step - 1)) + step
		if next > end {
			next = end
		}
		if lvl == PTE {
			if freePages {
				mem.Physmem.Refdown(*e & mem.PTE_ADDR)
			}
			*e = 0
			continue
		}
		child := mem.Physmem.DmapPmap(*e & mem.PTE_ADDR)
		w.unmapLevel(child, lvl+1, va, next, floor, ceil, freePages)
		if !tableEmpty(child) {
			continue
		}
		if floor != 0 && idx == lvl.index(floor) {
			continue
		}
		if ceil != 0 && idx == lvl.index(ceil) {
			continue
		}
		freeChild(e)
	}
}
