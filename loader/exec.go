package loader

import (
	"defs"

	"fs"
	"vm"
)

// maxInterp bounds how many times Exec may loop back to a new target
// (shebang to shebang, or binfmt-prepare to interpreter): the source
// this kernel is modeled on follows an unbounded shebang chain, which
// a crafted "#!/self" loop turns into a stack exhaustion -- spec §9's
// open question resolves it with this hard cap instead.
const maxInterp = 4

// AT_* auxv types this loader populates, named after the standard ELF
// auxiliary vector so a dynamic linker interpreter recognizes them.
const (
	AT_NULL   = 0
	AT_EXECFD = 2
	AT_PHDR   = 3
	AT_PHNUM  = 5
	AT_PAGESZ = 6
	AT_ENTRY  = 9
	AT_EXECFN = 31
)

// Auxv_t is one auxiliary-vector entry: a type tag and either an
// integer value or (for AT_EXECFN) a pointer into the stack's string
// area, resolved by the caller once the strings have a final address.
type Auxv_t struct {
	Type int
	Val  uintptr
}

// Result_t is everything Exec produces for the caller (proc's do_exec)
// to install: the image to jump to, the final argv (shebang may have
// prepended the script path), and the auxv entries built along the
// way minus AT_EXECFN, which the caller splices in once it knows
// where the path string landed in the new stack.
type Result_t struct {
	Image *Image_t
	Argv  []string
	Auxv  []Auxv_t
}

// Exec drives the binary-format plug-in loop of spec §4.5 step 4 and
// §4.6: open the path, peek for a shebang line, otherwise dispatch by
// magic signature to a registered Binfmt_i, following at most one
// prepare-returned interpreter.
func Exec(fsys *fs.Fs_t, as *vm.Vm_t, path string, argv []string) (*Result_t, defs.Err_t) {
	for depth := 0; ; depth++ {
		if depth >= maxInterp {
			return nil, -defs.ENOEXEC
		}

		f, err := fsys.Open(path)
		if err != 0 {
			return nil, err
		}

		header := make([]uint8, 2)
		n, rerr := f.Read(header, 0)
		if rerr != 0 {
			f.Close()
			return nil, rerr
		}
		if n == 2 && header[0] == '#' && header[1] == '!' {
			interp, rest, serr := readShebang(f)
			f.Close()
			if serr != 0 {
				return nil, serr
			}
			newArgv := make([]string, 0, len(argv)+2)
			newArgv = append(newArgv, path)
			if rest != "" {
				newArgv = append(newArgv, rest)
			}
			newArgv = append(newArgv, argv...)
			path = interp
			argv = newArgv
			continue
		}

		fullHeader := make([]uint8, 4)
		f.Read(fullHeader, 0)
		fmtImpl := lookupFormat(fullHeader)
		if fmtImpl == nil {
			f.Close()
			return nil, -defs.ENOEXEC
		}

		interp, perr := fmtImpl.Prepare(f)
		if perr != 0 {
			fmtImpl.Cleanup(f)
			f.Close()
			return nil, perr
		}

		if interp == "" {
			img, lerr := fmtImpl.Load(as, f)
			fmtImpl.Cleanup(f)
			f.Close()
			if lerr != 0 {
				return nil, lerr
			}
			return &Result_t{Image: img, Argv: argv, Auxv: baseAuxv(img)}, 0
		}

		// Dynamically linked: the main object is mapped, then the
		// interpreter is loaded as the entry target. The main object's
		// file is closed afterwards; the AT_EXECFD entry added below
		// carries the value 0 and no descriptor is installed for it.
		mainImg, lerr := fmtImpl.Load(as, f)
		if lerr != 0 {
			fmtImpl.Cleanup(f)
			f.Close()
			return nil, lerr
		}
		interpf, operr := fsys.Open(interp)
		if operr != 0 {
			fmtImpl.Cleanup(f)
			f.Close()
			return nil, operr
		}
		ih := make([]uint8, 4)
		interpf.Read(ih, 0)
		interpFmt := lookupFormat(ih)
		if interpFmt == nil {
			interpf.Close()
			fmtImpl.Cleanup(f)
			f.Close()
			return nil, -defs.ENOEXEC
		}
		interpImg, ierr := interpFmt.InterpLoad(as, interpf)
		interpf.Close()
		fmtImpl.Cleanup(f)
		f.Close()
		if ierr != 0 {
			return nil, ierr
		}
		auxv := baseAuxv(mainImg)
		auxv = append(auxv, Auxv_t{Type: AT_EXECFD, Val: 0})
		return &Result_t{Image: interpImg, Argv: argv, Auxv: auxv}, 0
	}
}

func baseAuxv(img *Image_t) []Auxv_t {
	return []Auxv_t{
		{Type: AT_PAGESZ, Val: uintptr(vm.PGSIZE)},
		{Type: AT_ENTRY, Val: img.Entry},
	}
}

// readShebang reads the rest of the "#!" line (already past the two
// magic bytes) and splits it into an interpreter path and an optional
// single argument, matching the one-argument shebang convention.
func readShebang(f *fs.File_t) (interp string, arg string, err defs.Err_t) {
	buf := make([]uint8, 128)
	n, rerr := f.Read(buf, 2)
	if rerr != 0 {
		return "", "", rerr
	}
	line := buf[:n]
	nl := len(line)
	for i, b := range line {
		if b == '\n' {
			nl = i
			break
		}
	}
	line = line[:nl]
	start := 0
	for start < len(line) && line[start] == ' ' {
		start++
	}
	end := start
	for end < len(line) && line[end] != ' ' {
		end++
	}
	if end == start {
		return "", "", -defs.ENOEXEC
	}
	interp = string(line[start:end])
	rest := end
	for rest < len(line) && line[rest] == ' ' {
		rest++
	}
	if rest < len(line) {
		arg = string(line[rest:])
	}
	return interp, arg, 0
}
