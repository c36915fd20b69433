package vm

import "mem"

// These mirror mem's PTE_* bit layout under local names so the rest of
// this package can write PTE_P, PTE_ADDR, etc. without a mem. prefix on
// every line of the fault handler and region code -- the convention the
// teacher kernel's vm package itself uses.
const (
	PGSHIFT  = mem.PGSHIFT
	PGSIZE   = mem.PGSIZE
	PGOFFSET = mem.PGOFFSET

	PTE_P    = mem.PTE_P
	PTE_W    = mem.PTE_W
	PTE_U    = mem.PTE_U
	PTE_G    = mem.PTE_G
	PTE_PCD  = mem.PTE_PCD
	PTE_PS   = mem.PTE_PS
	PTE_ADDR = mem.PTE_ADDR
)

// PTE_A, PTE_D, PTE_COW, and PTE_WASCOW are defined in mem (the x86
// port's fork clone needs them too); re-exported here under the same
// unprefixed convention as the rest of this block.
const (
	PTE_A      = mem.PTE_A
	PTE_D      = mem.PTE_D
	PTE_COW    = mem.PTE_COW
	PTE_WASCOW = mem.PTE_WASCOW
)
