package mem

import "unsafe"

// DmapPmap is Dmap specialized for page-table pages: it returns the
// direct-mapped table at physical address p reinterpreted as a Pmap_t
// (an array of 512 page-table entries) instead of a generic page of
// ints. Page tables and data pages are both one physical page; this
// just picks the view the page-table walker wants.
func (phys *Physmem_t) DmapPmap(p Pa_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(phys.Dmap(p)))
}
