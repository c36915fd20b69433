package loader

import (
	"encoding/binary"
	"testing"

	"defs"
	"fs"
	"vm"
)

// buildELF32 assembles the minimal ELF32 little-endian file loadSegments
// needs: a header, one program header, and the segment's file bytes. No
// section headers -- this loader never looks at them, only debug/elf's
// own parser touches e_shoff/e_shnum and tolerates both being zero.
func buildELF32(entry, vaddr uint32, flags uint32, data []uint8) []byte {
	const ehsize = 52
	const phentsize = 32
	phoff := uint32(ehsize)
	dataOff := phoff + phentsize

	buf := make([]uint8, int(dataOff)+len(data))
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 1 // ELFCLASS32
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(buf[16:], 2)         // e_type = ET_EXEC
	le.PutUint16(buf[18:], 3)         // e_machine = EM_386
	le.PutUint32(buf[20:], 1)         // e_version
	le.PutUint32(buf[24:], entry)     // e_entry
	le.PutUint32(buf[28:], phoff)     // e_phoff
	le.PutUint32(buf[32:], 0)         // e_shoff
	le.PutUint32(buf[36:], 0)         // e_flags
	le.PutUint16(buf[40:], ehsize)    // e_ehsize
	le.PutUint16(buf[42:], phentsize) // e_phentsize
	le.PutUint16(buf[44:], 1)         // e_phnum
	le.PutUint16(buf[46:], 0)         // e_shentsize
	le.PutUint16(buf[48:], 0)         // e_shnum
	le.PutUint16(buf[50:], 0)         // e_shstrndx

	p := buf[phoff:]
	le.PutUint32(p[0:], 1)             // p_type = PT_LOAD
	le.PutUint32(p[4:], dataOff)       // p_offset
	le.PutUint32(p[8:], vaddr)         // p_vaddr
	le.PutUint32(p[12:], vaddr)        // p_paddr
	le.PutUint32(p[16:], uint32(len(data))) // p_filesz
	le.PutUint32(p[20:], uint32(len(data))) // p_memsz
	le.PutUint32(p[24:], flags)        // p_flags
	le.PutUint32(p[28:], 0x1000)       // p_align

	copy(buf[dataOff:], data)
	return buf
}

const (
	pfX = 1
	pfW = 2
	pfR = 4
)

func TestExecLoadsStaticELF(t *testing.T) {
	fsys := fs.MkFs()
	elfBytes := buildELF32(0x1000, 0x1000, pfR|pfX, make([]uint8, 16))
	fsys.Create("/bin/hello", elfBytes)

	as := &vm.Vm_t{}
	res, err := Exec(fsys, as, "/bin/hello", []string{"hello"})
	if err != 0 {
		t.Fatalf("Exec = %v, want success", err)
	}
	if res.Image.Entry != 0x1000 {
		t.Fatalf("Entry = %#x, want 0x1000", res.Image.Entry)
	}
	if len(res.Argv) != 1 || res.Argv[0] != "hello" {
		t.Fatalf("Argv = %v, want [hello]", res.Argv)
	}
	if _, ok := as.Vmregion.Lookup(0x1000); !ok {
		t.Fatalf("no region installed at the segment's vaddr")
	}
}

func TestExecShebangPrependsScriptPath(t *testing.T) {
	fsys := fs.MkFs()
	fsys.Create("/tmp/x", []uint8("#!/bin/interp\nfoo\n"))
	fsys.Create("/bin/interp", buildELF32(0x2000, 0x2000, pfR|pfX, make([]uint8, 16)))

	as := &vm.Vm_t{}
	res, err := Exec(fsys, as, "/tmp/x", []string{"x"})
	if err != 0 {
		t.Fatalf("Exec = %v, want success", err)
	}
	want := []string{"/tmp/x", "x"}
	if len(res.Argv) != len(want) || res.Argv[0] != want[0] || res.Argv[1] != want[1] {
		t.Fatalf("Argv = %v, want %v", res.Argv, want)
	}
	if res.Image.Entry != 0x2000 {
		t.Fatalf("Entry = %#x, want the interpreter's entry 0x2000", res.Image.Entry)
	}
}

func TestExecShebangLoopHitsRecursionCap(t *testing.T) {
	fsys := fs.MkFs()
	fsys.Create("/tmp/a", []uint8("#!/tmp/a\n"))

	as := &vm.Vm_t{}
	if _, err := Exec(fsys, as, "/tmp/a", nil); err != -defs.ENOEXEC {
		t.Fatalf("Exec of a self-referencing shebang = %v, want -ENOEXEC", err)
	}
}

func TestExecRejectsWriteExecuteSegment(t *testing.T) {
	fsys := fs.MkFs()
	fsys.Create("/bin/bad", buildELF32(0x1000, 0x1000, pfW|pfX, make([]uint8, 16)))

	as := &vm.Vm_t{}
	if _, err := Exec(fsys, as, "/bin/bad", nil); err != -defs.ENOEXEC {
		t.Fatalf("Exec of a W|X segment = %v, want -ENOEXEC", err)
	}
	if _, ok := as.Vmregion.Lookup(0x1000); ok {
		t.Fatalf("rejected load must not leave any region installed")
	}
}

func TestExecMissingPathReturnsENOENT(t *testing.T) {
	fsys := fs.MkFs()
	as := &vm.Vm_t{}
	if _, err := Exec(fsys, as, "/nonexistent", nil); err != -defs.ENOENT {
		t.Fatalf("Exec of a missing path = %v, want -ENOENT", err)
	}
}
