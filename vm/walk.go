package vm

import (
	"defs"
	"mem"

	"x86"
)

// pmap_walk and Pmap_lookup are the package-level names the fault
// handler and page-insert paths call through; they forward to the
// architecture port's walker so vm never touches table memory itself
// (spec §4.2's architecture boundary).
func pmap_walk(pgd *mem.Pmap_t, va int, iperms mem.Pa_t) (*mem.Pa_t, defs.Err_t) {
	return x86.Default.Walk(pgd, uintptr(va), true, iperms)
}

func Pmap_lookup(pgd *mem.Pmap_t, va int) *mem.Pa_t {
	return x86.Default.Lookup(pgd, uintptr(va))
}
