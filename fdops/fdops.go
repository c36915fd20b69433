// Package fdops defines the capability surface the virtual-memory and
// exec subsystems need from an open file, without depending on any
// concrete filesystem. A filesystem (ext2, procfs, a device node)
// implements Fdops_i once and the core only ever calls through the
// interface -- the dynamic-dispatch boundary described for
// file->ops->mmap/read/nopage in the source this kernel is modeled on.
package fdops

import "defs"
import "mem"

// Fdops_i is the operation set attached to every open file descriptor.
// Mmap and Nopage are the two hooks the vm package drives; Read/Reopen/
// Close round out the lifecycle so a descriptor can be duplicated across
// fork and released on process teardown.
type Fdops_i interface {
	// Read copies up to len(dst) bytes starting at off into dst. It
	// returns the number of bytes copied or a negative errno.
	Read(dst []uint8, off int) (int, defs.Err_t)

	// Mmap is not called when a file-backed vm area is created; the vm
	// package calls it on the area's first page fault (Filepage) and
	// caches the result. It returns the Mapfile_i capability the fault
	// handler calls Nopage on, plus whether the mapping may be shared
	// between address spaces (MAP_SHARED) rather than copy-on-write
	// private.
	Mmap(fileoff int) (Mapfile_i, bool, defs.Err_t)

	// Reopen bumps whatever reference count backs this descriptor, for
	// fork and dup.
	Reopen() defs.Err_t

	// Close releases the descriptor's reference to its backing file.
	Close() defs.Err_t
}

// Mapfile_i is the narrower capability retained by a file-backed vm
// area after Mmap succeeds; it is all the fault handler needs.
type Mapfile_i interface {
	// Nopage produces the page holding up to length bytes of file
	// content starting at byte offset fileoff (the caller has already
	// translated the faulting virtual address into this file-relative
	// offset). It returns the physical page (with refcount already
	// bumped for the caller), the number of bytes populated (the
	// remainder is zero-filled by the caller), or a negative errno.
	Nopage(fileoff int, length int) (mem.Pa_t, int, defs.Err_t)

	// Unpin releases this mapping's hold on the backing inode; called
	// once when the owning vm area is torn down.
	Unpin()
}
