package vm

import "mem"

import "x86"

// Uvmfree_inner tears down every region's mappings against pgd without
// touching vmr itself (the caller decides whether to clear the list or
// keep it, e.g. exec's old-address-space unwind keeps old_vmas around
// only long enough to free it once). IO regions are unmapped without
// dropping a page reference, matching §4.4's "IO regions hold no page
// refcount".
func Uvmfree_inner(pgd *mem.Pmap_t, p_pgd mem.Pa_t, vmr *Vmregion_t) {
	for _, r := range vmr.sorted() {
		// Blockpage_insert maps shared file pages without bumping
		// their refcount (the block cache owns that reference), so
		// tearing this process's mapping down must clear the PTE and
		// reclaim emptied page-table pages without touching refcount.
		freePages := !r.IO && !(r.Mtype == VFILE && r.file.shared)
		x86.Default.Unmap(pgd, r.Start(), r.End(), 0, 0, freePages)
	}
}
