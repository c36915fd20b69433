package mem

import "unsafe"

// MAXCPUS bounds the per-CPU free-list array; this kernel targets PC
// hardware, which in practice never approaches it.
const MAXCPUS = 32

// CPUHint identifies the calling CPU for the percpu free-list fast
// path. The default always reports CPU 0, correct for single-CPU boot
// and a safe (merely slower) fallback under SMP until the scheduler's
// per-CPU bring-up overrides it.
var CPUHint = func() int { return 0 }

// Cpuid, Rcr4, and LoadPgd are genuine, architecture-generic CPU
// instructions; the x86 port wires them to real implementations at
// init. Vtop, Pml4freeze, and Get_phys answer questions only the boot
// image's own page-tracking can answer (which physical frame backs a
// freshly allocated Go value, and which physical pages the firmware
// memory map left free) -- boot assembly and firmware discovery are
// out of this kernel's scope (§1), so these remain nil until the boot
// glue that links against this module supplies them.
var (
	Cpuid      func(eax, ecx uint32) (a, b, c, d uint32)
	Rcr4       func() uint64
	LoadPgd    func(Pa_t)
	Vtop       func(unsafe.Pointer) (Pa_t, bool)
	Pml4freeze func()
	Get_phys   func() uintptr
)
