// Command kernel is the core's entry point: the init/teardown order
// spec §9 asks for (allocator, then the mm subsystem, then the init
// process, then everything else) made concrete as a sequence of calls
// rather than left as a paragraph of prose.
//
// Like the kernel it is modeled on, this binary only makes sense
// linked into a boot image: Phys_init and the direct map it seeds
// assume the boot assembly has already identity-mapped physical
// memory (spec §1's Non-goal), and main never returns -- there is no
// host OS underneath to return to.
package main

import (
	"fmt"
	"log"

	"fs"
	"mem"
	"proc"
	"vm"

	_ "x86" // registers Cpuid/Rcr4/LoadPgd with the mem package's arch hooks
)

func main() {
	fmt.Println("booting core")

	mem.Phys_init()

	fsys := fs.MkFs()
	populateInitramfs(fsys)

	pgd, p_pgd, ok := mem.Physmem.Pmap_new()
	if !ok {
		log.Fatal("out of memory allocating the init process's page directory")
	}

	init := proc.MkInit(fsys, &vm.Vm_t{Pmap: pgd, P_pmap: p_pgd})
	if err := init.Exec("/sbin/init", []string{"/sbin/init"}, nil); err != 0 {
		log.Fatalf("failed to exec init: %v", err)
	}

	fmt.Printf("init process running as pid %d\n", init.Pid)

	// The scheduler, trap/syscall dispatch, and interrupt entry that
	// actually run init's code live outside the core (spec §1); a
	// real boot image takes over here and never returns.
	select {}
}

// populateInitramfs installs the handful of paths the boot sequence
// expects before any real filesystem -- ext2 or procfs, both external
// collaborators per spec §6.1 -- is mounted.
func populateInitramfs(fsys *fs.Fs_t) {
	fsys.Create("/sbin/init", nil)
}
