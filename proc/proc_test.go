package proc

import (
	"sync"
	"testing"
	"time"

	"defs"
	"fdops"
)

// fakeFile is a minimal fdops.Fdops_i that only tracks whether Close was
// called, enough to exercise Files_t's refcounted close-on-last-unref.
type fakeFile struct {
	closed bool
}

func (f *fakeFile) Read(dst []uint8, off int) (int, defs.Err_t)       { return 0, 0 }
func (f *fakeFile) Mmap(foff int) (fdops.Mapfile_i, bool, defs.Err_t) { return nil, false, 0 }
func (f *fakeFile) Reopen() defs.Err_t                                { return 0 }
func (f *fakeFile) Close() defs.Err_t                                 { f.closed = true; return 0 }

func TestStateString(t *testing.T) {
	cases := []struct {
		s    State_t
		want string
	}{
		{RUNNING, "RUNNING"},
		{WAITING, "WAITING"},
		{STOPPED, "STOPPED"},
		{ZOMBIE, "ZOMBIE"},
		{State_t(99), "?"},
	}
	for _, c := range cases {
		if got := c.s.String(); got != c.want {
			t.Errorf("State_t(%d).String() = %q, want %q", c.s, got, c.want)
		}
	}
}

func TestFilesSetGetBounds(t *testing.T) {
	ft := mkFiles()
	f := &fakeFile{}
	if err := ft.Set(3, f); err != 0 {
		t.Fatalf("Set(3) = %v, want success", err)
	}
	got, err := ft.Get(3)
	if err != 0 || got != f {
		t.Fatalf("Get(3) = %v, %v; want the file installed above", got, err)
	}
	if _, err := ft.Get(0); err != -defs.EBADF {
		t.Fatalf("Get of an empty slot = %v, want -EBADF", err)
	}
	if err := ft.Set(-1, f); err != -defs.EBADF {
		t.Fatalf("Set(-1) = %v, want -EBADF", err)
	}
	if err := ft.Set(maxFiles, f); err != -defs.EBADF {
		t.Fatalf("Set(maxFiles) = %v, want -EBADF", err)
	}
}

func TestFilesUnrefClosesOnLastReference(t *testing.T) {
	ft := mkFiles()
	f := &fakeFile{}
	ft.Set(0, f)
	ft.ref() // refcount now 2, as fork would leave it

	ft.unref()
	if f.closed {
		t.Fatalf("unref with a reference remaining must not close descriptors")
	}
	ft.unref()
	if !f.closed {
		t.Fatalf("unref of the last reference must close every descriptor")
	}
}

// newTestProcess builds a Process_t with just enough state for the
// Wait/Exit lifecycle -- no Vm/Fs, since those routes call into the
// physical allocator and page tables this test has no hardware for.
func newTestProcess(pid defs.Pid_t) *Process_t {
	p := &Process_t{Pid: pid, State: RUNNING, Files: mkFiles()}
	p.waitChild = sync.NewCond(&p.Mutex)
	return p
}

func TestWaitReapsZombieChild(t *testing.T) {
	parent := newTestProcess(1)
	child := newTestProcess(2)
	child.Parent = parent
	parent.Children = append(parent.Children, child)

	go func() {
		time.Sleep(10 * time.Millisecond)
		child.Exit(7)
	}()

	pid, status, err := parent.Wait()
	if err != 0 {
		t.Fatalf("Wait = %v, want success", err)
	}
	if pid != 2 || status != 7 {
		t.Fatalf("Wait = (%v, %v), want (2, 7)", pid, status)
	}
	if len(parent.Children) != 0 {
		t.Fatalf("Wait must reap the zombie out of Children, got %v", parent.Children)
	}
}

func TestWaitNoChildrenReturnsECHILD(t *testing.T) {
	parent := newTestProcess(1)
	if _, _, err := parent.Wait(); err != -defs.ECHILD {
		t.Fatalf("Wait with no children = %v, want -ECHILD", err)
	}
}

func TestExitMarksZombieAndWakesParent(t *testing.T) {
	parent := newTestProcess(1)
	child := newTestProcess(2)
	child.Parent = parent
	parent.Children = append(parent.Children, child)

	child.Exit(3)

	child.Lock()
	state := child.State
	status := child.ExitStatus
	child.Unlock()
	if state != ZOMBIE {
		t.Fatalf("State after Exit = %v, want ZOMBIE", state)
	}
	if status != 3 {
		t.Fatalf("ExitStatus after Exit = %d, want 3", status)
	}
}
