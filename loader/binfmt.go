// Package loader drives exec's binary-format plug-in loop (spec
// §4.6): peeking a file for a shebang line, dispatching to a
// registered format by its magic signature, and handing back the
// loaded image's entry point and the argv/envp/auxv vector the new
// stack needs. Only an ELF32 format is registered; the registry is
// open so a later format (a.out, PIE) slots in the same way.
package loader

import (
	"defs"

	"fs"
	"vm"
)

// Image_t is what a successful load leaves behind: the user-mode entry
// point and the brk/code bounds the caller installs on the process.
type Image_t struct {
	Entry     uintptr
	CodeStart uintptr
	CodeEnd   uintptr
	Brk       uintptr
}

// Binfmt_i is one binary format plug-in (spec §4.6): Prepare inspects
// an already-open file and may name a required interpreter (for a
// dynamically linked binary); Load installs the main object's
// segments; InterpLoad installs an interpreter chosen by a prior
// Prepare call. Cleanup releases any state Prepare/Load attached to
// the file, regardless of outcome.
type Binfmt_i interface {
	Name() string
	Matches(header []uint8) bool
	Prepare(f *fs.File_t) (interp string, err defs.Err_t)
	Load(as *vm.Vm_t, f *fs.File_t) (*Image_t, defs.Err_t)
	InterpLoad(as *vm.Vm_t, f *fs.File_t) (*Image_t, defs.Err_t)
	Cleanup(f *fs.File_t)
}

var formats []Binfmt_i

// Register adds a binary format to the set consulted by Exec. Called
// from each format's init().
func Register(b Binfmt_i) {
	formats = append(formats, b)
}

func lookupFormat(header []uint8) Binfmt_i {
	for _, b := range formats {
		if b.Matches(header) {
			return b
		}
	}
	return nil
}
