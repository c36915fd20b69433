package loader

import (
	"debug/elf"
	"io"

	"defs"
	"mem"
	"util"

	"fs"
	"vm"
)

// elfMagic is the four-byte ELF signature every binfmt.Matches call
// checks against the file's first bytes, mirroring the kernel's own
// byte-level binfmt dispatch rather than trusting a path extension.
var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

type elfFmt struct{}

func init() { Register(elfFmt{}) }

func (elfFmt) Name() string { return "elf" }

func (elfFmt) Matches(header []uint8) bool {
	return len(header) >= 4 && header[0] == elfMagic[0] && header[1] == elfMagic[1] &&
		header[2] == elfMagic[2] && header[3] == elfMagic[3]
}

// fileReaderAt adapts fs.File_t's fdops-style Read to io.ReaderAt so
// debug/elf can parse directly off the open file without a
// read-the-whole-thing-into-memory staging copy.
type fileReaderAt struct {
	f *fs.File_t
}

func (r fileReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.f.Read(p, int(off))
	if err != 0 {
		return n, io.ErrUnexpectedEOF
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Prepare parses the ELF header and program headers far enough to
// find a PT_INTERP segment, per spec §4.6's "identify a required
// interpreter" step. Dynamically linked binaries in this kernel are
// rare (most programs are statically linked against the freestanding
// libc); when present the interpreter path is read out of the
// segment's file bytes and returned so Exec loops back with it as the
// new target.
func (elfFmt) Prepare(f *fs.File_t) (string, defs.Err_t) {
	ef, err := elf.NewFile(fileReaderAt{f})
	if err != nil {
		return "", -defs.ENOEXEC
	}
	defer ef.Close()
	for _, p := range ef.Progs {
		if p.Type != elf.PT_INTERP {
			continue
		}
		buf := make([]uint8, p.Filesz)
		n, rerr := f.Read(buf, int(p.Off))
		if rerr != 0 || n == 0 {
			return "", -defs.ENOEXEC
		}
		end := n
		for end > 0 && buf[end-1] == 0 {
			end--
		}
		return string(buf[:end]), 0
	}
	return "", 0
}

// Load installs every PT_LOAD segment of f into as and returns the
// resulting image bounds. InterpLoad does the same work -- an
// interpreter is just another ELF object occupying its own slice of
// the address space -- so both delegate to loadSegments.
func (elfFmt) Load(as *vm.Vm_t, f *fs.File_t) (*Image_t, defs.Err_t) {
	return loadSegments(as, f)
}

func (elfFmt) InterpLoad(as *vm.Vm_t, f *fs.File_t) (*Image_t, defs.Err_t) {
	return loadSegments(as, f)
}

func (elfFmt) Cleanup(f *fs.File_t) {}

func loadSegments(as *vm.Vm_t, f *fs.File_t) (*Image_t, defs.Err_t) {
	ef, err := elf.NewFile(fileReaderAt{f})
	if err != nil {
		return nil, -defs.ENOEXEC
	}
	defer ef.Close()

	img := &Image_t{Entry: uintptr(ef.Entry)}
	first := true
	for _, p := range ef.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if p.Flags&elf.PF_W != 0 && p.Flags&elf.PF_X != 0 {
			return nil, -defs.ENOEXEC
		}
		perms := mem.Pa_t(vm.PTE_U)
		if p.Flags&elf.PF_W != 0 {
			perms |= vm.PTE_W
		}

		pageMask := uintptr(vm.PGSIZE - 1)
		vstart := uintptr(p.Vaddr)
		pageStart := vstart &^ pageMask
		skew := vstart - pageStart
		foff := int(p.Off) - int(skew)
		if foff < 0 {
			return nil, -defs.ENOEXEC
		}
		filelen := int(p.Filesz) + int(skew)
		memlen := int(p.Memsz) + int(skew)

		if cerr := as.MapSegment(int(pageStart), filelen, memlen, perms, f, foff); cerr != 0 {
			return nil, cerr
		}

		segEnd := pageStart + uintptr(memlen)
		if first || pageStart < img.CodeStart {
			img.CodeStart = pageStart
		}
		if segEnd > img.CodeEnd {
			img.CodeEnd = segEnd
		}
		if segEnd > img.Brk {
			img.Brk = segEnd
		}
		first = false
	}
	img.Brk = util.Roundup(img.Brk, uintptr(vm.PGSIZE))
	return img, 0
}
