package defs

// Err_t is the kernel's one-level errno representation: negative on
// failure, zero on success. Every core operation that can fail returns
// one of these instead of a Go error so it composes with the syscall
// ABI (a single word handed back to user mode).
type Err_t int

// Pid_t identifies a process; Tid_t identifies a thread within one.
// Biscuit keeps them distinct even though this kernel never schedules
// more than one thread per process.
type (
	Pid_t int
	Tid_t int
)

// Errno values returned by core operations. Names and numbering follow
// the POSIX convention the original kernel (and Biscuit) both use.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	EIO          Err_t = 5
	EBADF        Err_t = 9
	ENOMEM       Err_t = 12
	EACCES       Err_t = 13
	EFAULT       Err_t = 14
	EBUSY        Err_t = 16
	EEXIST       Err_t = 17
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	ENOSPC       Err_t = 28
	ENOSYS       Err_t = 38
	ENAMETOOLONG Err_t = 36
	ENOEXEC      Err_t = 8
	EINTR        Err_t = 4
	ECHILD       Err_t = 10
	// ENOHEAP is not a real POSIX errno. It is defined and named by
	// String, but no function in this repository returns it.
	ENOHEAP Err_t = 1000
)

// String renders an Err_t for logging. Zero is not an error.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "success"
	case -EPERM:
		return "EPERM"
	case -ENOENT:
		return "ENOENT"
	case -EIO:
		return "EIO"
	case -EBADF:
		return "EBADF"
	case -ENOMEM:
		return "ENOMEM"
	case -EACCES:
		return "EACCES"
	case -EFAULT:
		return "EFAULT"
	case -EBUSY:
		return "EBUSY"
	case -EEXIST:
		return "EEXIST"
	case -ENOTDIR:
		return "ENOTDIR"
	case -EISDIR:
		return "EISDIR"
	case -EINVAL:
		return "EINVAL"
	case -ENOSPC:
		return "ENOSPC"
	case -ENOSYS:
		return "ENOSYS"
	case -ENAMETOOLONG:
		return "ENAMETOOLONG"
	case -ENOEXEC:
		return "ENOEXEC"
	case -EINTR:
		return "EINTR"
	case -ECHILD:
		return "ECHILD"
	case -ENOHEAP:
		return "ENOHEAP"
	default:
		return "errno(" + itoa(int(e)) + ")"
	}
}

func itoa(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
