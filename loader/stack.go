package loader

import (
	"defs"
	"util"

	"vm"
)

const ptrsize = 8

// BuildStack lays out argc/argv/envp/auxv and their backing strings at
// the top of the stack region, in ascending address order: argc, then
// pointers to the argv/envp/auxv arrays, then the NULL-terminated argv
// and envp pointer arrays, then the auxv pairs (the caller's, then
// AT_EXECFN, then the {0,0} AT_NULL terminator), then the argv, envp
// and execfn strings themselves. It returns the final stack pointer
// (pointing at argc).
func BuildStack(as *vm.Vm_t, stackTop uintptr, argv, envp []string, auxv []Auxv_t, execfn string) (uintptr, defs.Err_t) {
	var strs []string
	strs = append(strs, argv...)
	strs = append(strs, envp...)
	strs = append(strs, execfn)

	strOff := make([]int, len(strs))
	var strBlock []uint8
	for i, s := range strs {
		strOff[i] = len(strBlock)
		strBlock = append(strBlock, []uint8(s)...)
		strBlock = append(strBlock, 0)
	}

	auxvWithFn := make([]Auxv_t, len(auxv), len(auxv)+2)
	copy(auxvWithFn, auxv)

	// header = argc + argv-ptr + envp-ptr + auxv-ptr
	headerWords := 1 + 3
	argvWords := len(argv) + 1 // NULL-terminated
	envpWords := len(envp) + 1
	auxvWords := (len(auxvWithFn) + 2) * 2 // +1 AT_EXECFN, +1 AT_NULL terminator, pairs

	total := headerWords*ptrsize + argvWords*ptrsize + envpWords*ptrsize +
		auxvWords*ptrsize + len(strBlock)
	total = util.Roundup(total, 16)

	base := util.Rounddown(int(stackTop)-total, 16)
	buf := make([]uint8, int(stackTop)-base)

	stringsBase := base + headerWords*ptrsize + argvWords*ptrsize + envpWords*ptrsize + auxvWords*ptrsize
	w := func(off int, v uint64) { util.Writen(buf, 8, off-base, int(v)) }

	off := 0
	w(base+off, uint64(len(argv)))
	off += ptrsize
	argvPtrOff := base + off
	off += ptrsize
	envpPtrOff := base + off
	off += ptrsize
	auxvPtrOff := base + off
	off += ptrsize

	w(argvPtrOff, uint64(off+base))
	for i := range argv {
		w(base+off, uint64(stringsBase+strOff[i]))
		off += ptrsize
	}
	w(base+off, 0)
	off += ptrsize

	w(envpPtrOff, uint64(off+base))
	for i := range envp {
		w(base+off, uint64(stringsBase+strOff[len(argv)+i]))
		off += ptrsize
	}
	w(base+off, 0)
	off += ptrsize

	w(auxvPtrOff, uint64(off+base))
	execfnAddr := uint64(stringsBase + strOff[len(argv)+len(envp)])
	for _, a := range auxvWithFn {
		w(base+off, uint64(a.Type))
		off += ptrsize
		w(base+off, uint64(a.Val))
		off += ptrsize
	}
	w(base+off, AT_EXECFN)
	off += ptrsize
	w(base+off, execfnAddr)
	off += ptrsize
	w(base+off, AT_NULL)
	off += ptrsize
	w(base+off, 0)
	off += ptrsize

	if stringsBase+len(strBlock) > base+len(buf) {
		return 0, -defs.EINVAL
	}
	copy(buf[stringsBase-base:], strBlock)

	if err := as.K2user(buf, base); err != 0 {
		return 0, err
	}
	return uintptr(base), 0
}
