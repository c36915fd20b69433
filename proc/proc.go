// Package proc implements the scheduler-visible process: Process_t's
// fields mirror struct process/struct mm/struct files in the kernel
// this is modeled on, translated into the reference-counted,
// mutex-protected shape the vm and fdops packages already use. Fork's
// address-space clone is vm.Vm_t.Fork; exec's binary-format dance
// lives in the loader package -- this package owns only the process
// lifecycle and file table that glue them together.
package proc

import (
	"sync"

	"defs"
	"fdops"
	"mem"

	"fs"
	"loader"
	"vm"
)

// State_t is a process's scheduling state (spec §3's {RUNNING,
// WAITING, STOPPED, ZOMBIE}).
type State_t int

const (
	RUNNING State_t = iota
	WAITING
	STOPPED
	ZOMBIE
)

func (s State_t) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case WAITING:
		return "WAITING"
	case STOPPED:
		return "STOPPED"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return "?"
	}
}

const maxFiles = 32

// Files_t is a process's open-file table: a reference-counted slice of
// fdops.Fdops_i slots shared between parent and child by fork, matching
// struct files's refcount. Exec keeps the table, and nothing unshares it.
type Files_t struct {
	sync.Mutex
	refcount int
	fds      [maxFiles]fdops.Fdops_i
}

func mkFiles() *Files_t {
	return &Files_t{refcount: 1}
}

// Set installs file at descriptor fd, per process_fd_set.
func (ft *Files_t) Set(fd int, file fdops.Fdops_i) defs.Err_t {
	if fd < 0 || fd >= maxFiles {
		return -defs.EBADF
	}
	ft.Lock()
	defer ft.Unlock()
	ft.fds[fd] = file
	return 0
}

// Get returns the file installed at fd, per process_fd_get.
func (ft *Files_t) Get(fd int) (fdops.Fdops_i, defs.Err_t) {
	if fd < 0 || fd >= maxFiles {
		return nil, -defs.EBADF
	}
	ft.Lock()
	defer ft.Unlock()
	f := ft.fds[fd]
	if f == nil {
		return nil, -defs.EBADF
	}
	return f, 0
}

// ref bumps the table's refcount, for fork.
func (ft *Files_t) ref() { ft.Lock(); ft.refcount++; ft.Unlock() }

// unref drops the table's refcount, closing every open descriptor once
// the last reference is gone.
func (ft *Files_t) unref() {
	ft.Lock()
	ft.refcount--
	last := ft.refcount == 0
	ft.Unlock()
	if !last {
		return
	}
	for _, f := range ft.fds {
		if f != nil {
			f.Close()
		}
	}
}

// Process_t is a scheduler-visible process (spec §3's Process). The
// init process is statically allocated by MkInit; every other process
// is produced by Fork and destroyed by the parent's Wait once it
// reaches ZOMBIE.
type Process_t struct {
	sync.Mutex

	Pid, Ppid, Pgid, Sid defs.Pid_t
	State                State_t
	ExitStatus            int

	Vm    *vm.Vm_t
	Files *Files_t
	Fs    *fs.Fs_t

	Heap *vm.Vminfo_t
	Pin  vm.Pinsyscalls_t

	Parent   *Process_t
	Children []*Process_t

	waitChild *sync.Cond
}

// MkInit allocates the statically-rooted init process over the given
// address space, per spec §3's "init process is statically allocated".
// It installs nothing in that space; cmd/kernel passes an empty one and
// loads the init binary with Exec afterwards.
func MkInit(fsys *fs.Fs_t, as *vm.Vm_t) *Process_t {
	p := &Process_t{
		Pid: 1, Ppid: 0, Pgid: 1, Sid: 1,
		State: RUNNING,
		Vm:    as,
		Files: mkFiles(),
		Fs:    fsys,
	}
	p.waitChild = sync.NewCond(&p.Mutex)
	return p
}

var nextPid = defs.Pid_t(2)

// Fork clones p into a new child process: the address space via
// vm.Vm_t.Fork (spec §4.5's vm_copy), the file table by reference
// (struct files's refcount), and a fresh pid/parent link. On any
// failure no child is created and p is unaffected.
func (p *Process_t) Fork() (*Process_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()

	childVm, err := p.Vm.Fork()
	if err != 0 {
		return nil, err
	}
	p.Files.ref()

	child := &Process_t{
		Pid: nextPid, Ppid: p.Pid, Pgid: p.Pgid, Sid: p.Sid,
		State:  RUNNING,
		Vm:     childVm,
		Files:  p.Files,
		Fs:     p.Fs,
		Heap:   p.Heap,
		Parent: p,
	}
	child.waitChild = sync.NewCond(&child.Mutex)
	nextPid++
	p.Children = append(p.Children, child)
	return child, 0
}

// Exit marks p a zombie with the given status and wakes a parent
// blocked in Wait, per §3's "destroyed by wait on the parent after the
// child enters ZOMBIE".
func (p *Process_t) Exit(status int) {
	p.Lock()
	p.State = ZOMBIE
	p.ExitStatus = status
	p.Unlock()
	p.Files.unref()
	if p.Parent != nil {
		p.Parent.Lock()
		p.Parent.waitChild.Broadcast()
		p.Parent.Unlock()
	}
}

// Wait blocks until some child of p has become a zombie, reaps it
// (removing it from p.Children), and returns its pid and exit status.
func (p *Process_t) Wait() (defs.Pid_t, int, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	for {
		for i, c := range p.Children {
			c.Lock()
			if c.State == ZOMBIE {
				c.Unlock()
				p.Children = append(p.Children[:i], p.Children[i+1:]...)
				return c.Pid, c.ExitStatus, 0
			}
			c.Unlock()
		}
		if len(p.Children) == 0 {
			return 0, 0, -defs.ECHILD
		}
		p.waitChild.Wait()
	}
}

// Exec replaces p's address space with the binary at path, per spec
// §4.5's do_exec: drive the loader against a fresh address space,
// build the argv/envp/auxv stack, and only on success retire the old
// address space. Any failure along the way leaves p's current address
// space untouched.
func (p *Process_t) Exec(path string, argv, envp []string) defs.Err_t {
	p.Lock()
	oldVm := p.Vm
	p.Unlock()

	npmap, p_npmap, ok := mem.Physmem.Pmap_new()
	if !ok {
		return -defs.ENOMEM
	}
	newVm := &vm.Vm_t{Pmap: npmap, P_pmap: p_npmap}

	res, err := loader.Exec(p.Fs, newVm, path, argv)
	if err != 0 {
		vm.Uvmfree_inner(newVm.Pmap, newVm.P_pmap, &newVm.Vmregion)
		return err
	}

	var heap *vm.Vminfo_t
	if _, err := newVm.Brk(int(res.Image.Brk), &heap); err != 0 {
		vm.Uvmfree_inner(newVm.Pmap, newVm.P_pmap, &newVm.Vmregion)
		return err
	}

	const stackSize = 8 * 1024 * 1024
	stackTop := mem.USERMIN
	newVm.AddAnonRegion(vm.KStack, stackTop-stackSize, stackSize, mem.PTE_U|mem.PTE_W)

	if _, serr := loader.BuildStack(newVm, uintptr(stackTop)-uintptr(vm.PGSIZE), res.Argv, envp, res.Auxv, path); serr != 0 {
		vm.Uvmfree_inner(newVm.Pmap, newVm.P_pmap, &newVm.Vmregion)
		return serr
	}

	p.Lock()
	p.Vm = newVm
	p.Heap = heap
	p.Pin = vm.Pinsyscalls_t{}
	p.Unlock()

	vm.Uvmfree_inner(oldVm.Pmap, oldVm.P_pmap, &oldVm.Vmregion)
	return 0
}
