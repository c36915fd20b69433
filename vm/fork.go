package vm

import (
	"defs"
	"mem"

	"x86"
)

// Fork clones this address space per spec §4.5's vm_copy: a fresh page
// directory, every region reference-copied into the child with the
// same COW-vs-shared-vs-IO treatment as its backing page table range.
// On any failure the partially built child is torn down and the error
// returned. The parent's page tables are modified either way: COW
// regions already copied have their writable PTEs made read-only COW.
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	npmap, p_npmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	child := &Vm_t{Pmap: npmap, P_pmap: p_npmap}

	for _, r := range as.Vmregion.sorted() {
		nr := &Vminfo_t{
			Mtype:     r.Mtype,
			Pgn:       r.Pgn,
			Pglen:     r.Pglen,
			Perms:     r.Perms,
			Kind:      r.Kind,
			Immutable: r.Immutable,
			IO:        r.IO,
			ActualEnd: r.ActualEnd,
			file:      r.file,
		}
		child.Vmregion.insert(nr)

		mode := x86.ModeShare
		switch {
		case r.IO:
			mode = x86.ModeIO
		case r.Mtype == VSANON || (r.Mtype == VFILE && r.file.shared):
			mode = x86.ModeShare
		case r.Perms&uint(PTE_W) != 0:
			mode = x86.ModeCOW
		}

		if err := x86.Default.CopyRange(child.Pmap, as.Pmap, r.Start(), r.End(), mode); err != 0 {
			Uvmfree_inner(child.Pmap, child.P_pmap, &child.Vmregion)
			mem.Physmem.Dec_pmap(child.P_pmap)
			return nil, err
		}
		if mode == x86.ModeCOW {
			// CopyRange mutated the source PTEs too (clearing their
			// writable bit), so the parent's TLB must forget its old
			// writable mappings for this region before either process
			// resumes.
			as.Tlbshoot(r.Start(), r.Pglen)
		}
	}
	return child, 0
}
