package x86

import "mem"

// Cpuid executes the CPUID instruction with the given leaf/subleaf and
// returns the eax/ebx/ecx/edx results. Implemented in cpu_amd64.s.
func Cpuid(eax, ecx uint32) (a, b, c, d uint32)

// Rcr4 reads the CR4 control register. Implemented in cpu_amd64.s.
func Rcr4() uint64

func init() {
	mem.Cpuid = Cpuid
	mem.Rcr4 = Rcr4
	mem.LoadPgd = func(p mem.Pa_t) { Loadcr3(uintptr(p)) }
}
