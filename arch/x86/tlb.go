package x86

// Invlpg invalidates the TLB entry for the page containing va on the
// current CPU. Implemented in cpu_amd64.s.
func Invlpg(va uintptr)

// Loadcr3 installs pa (a page directory's physical address) as the
// current CPU's address space by writing CR3, flushing every
// non-global TLB entry. Implemented in cpu_amd64.s.
func Loadcr3(pa uintptr)
