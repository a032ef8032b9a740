// Package ptrace is the thin, logged wrapper over the kernel's
// process-trace syscall (component C1 of the Monitor). Every exported
// function here issues exactly one ptrace(2) request and normalizes
// its errno into a Go error; nothing in this package is safe to call
// from anywhere but the Monitor's owner task (see package monitor's
// funnel), because ptrace(2) only accepts requests from the task that
// attached to or forked the target.
package ptrace

import (
	"fmt"
	"syscall"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/internal/logflags"
)

// errnoName mnemonics the handful of errno values the Monitor treats
// specially, for diagnostic logging.
func errnoName(err error) string {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return "?"
	}
	switch errno {
	case sys.ESRCH:
		return "ESRCH"
	case sys.EINVAL:
		return "EINVAL"
	case sys.EBUSY:
		return "EBUSY"
	case sys.EPERM:
		return "EPERM"
	case syscall.Errno(0):
		return ""
	default:
		return errno.Error()
	}
}

func logReq(name string, tid int, extra string, err error) {
	if !logflags.TraceSyscall() {
		return
	}
	log := logflags.TraceSyscallLogger()
	if err != nil {
		log.Debugf("%s(%d%s) = error %s [%s]", name, tid, extra, err, errnoName(err))
	} else {
		log.Debugf("%s(%d%s) = ok", name, tid, extra)
	}
}

func normalize(err error) error {
	if err == syscall.Errno(0) {
		return nil
	}
	return err
}

// Attach issues PTRACE_ATTACH against pid.
func Attach(pid int) error {
	err := sys.PtraceAttach(pid)
	logReq("PTRACE_ATTACH", pid, "", err)
	return err
}

// Detach issues PTRACE_DETACH against tid, delivering sig (or 0) on
// release.
func Detach(tid, sig int) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_DETACH, uintptr(tid), 1, uintptr(sig), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_DETACH", tid, fmt.Sprintf(", sig=%d", sig), err)
	return err
}

// TraceMe issues PTRACE_TRACEME; must be called from the child after
// fork, before exec.
func TraceMe() error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_TRACEME, 0, 0, 0, 0, 0)
	return normalize(errno)
}

// SetOptions issues PTRACE_SETOPTIONS with the given option bitmask.
func SetOptions(tid int, options int) error {
	err := syscall.PtraceSetOptions(tid, options)
	logReq("PTRACE_SETOPTIONS", tid, fmt.Sprintf(", opts=%#x", options), err)
	return err
}

// Cont issues PTRACE_CONT, resuming tid with sig delivered (or none if
// sig is 0).
func Cont(tid, sig int) error {
	err := sys.PtraceCont(tid, sig)
	logReq("PTRACE_CONT", tid, fmt.Sprintf(", sig=%d", sig), err)
	return err
}

// SingleStep issues PTRACE_SINGLESTEP, resuming tid for one instruction
// with sig delivered (or none if sig is 0).
func SingleStep(tid, sig int) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, uintptr(sys.PTRACE_SINGLESTEP), uintptr(tid), 0, uintptr(sig), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_SINGLESTEP", tid, fmt.Sprintf(", sig=%d", sig), err)
	return err
}

// PeekData issues PTRACE_PEEKDATA, reading len(data) bytes of the
// tracee's memory at addr into data.
func PeekData(tid int, addr uintptr, data []byte) (int, error) {
	n, err := sys.PtracePeekData(tid, addr, data)
	logReq("PTRACE_PEEKDATA", tid, fmt.Sprintf(", addr=%#x, n=%d", addr, len(data)), err)
	return n, err
}

// PokeData issues PTRACE_POKEDATA, writing data into the tracee's
// memory at addr.
func PokeData(tid int, addr uintptr, data []byte) (int, error) {
	n, err := sys.PtracePokeData(tid, addr, data)
	logReq("PTRACE_POKEDATA", tid, fmt.Sprintf(", addr=%#x, n=%d", addr, len(data)), err)
	return n, err
}

// PeekUser issues PTRACE_PEEKUSR, reading the word at byte offset off
// in tid's per-thread register layout.
func PeekUser(tid int, off uintptr) (uintptr, error) {
	var val uintptr
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_PEEKUSR, uintptr(tid), off, uintptr(unsafe.Pointer(&val)), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_PEEKUSR", tid, fmt.Sprintf(", off=%#x", off), err)
	return val, err
}

// PokeUser issues PTRACE_POKEUSR, writing val at byte offset off in
// tid's per-thread register layout.
func PokeUser(tid int, off, val uintptr) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_POKEUSR, uintptr(tid), off, val, 0, 0)
	err := normalize(errno)
	logReq("PTRACE_POKEUSR", tid, fmt.Sprintf(", off=%#x, val=%#x", off, val), err)
	return err
}

// GetRegs issues PTRACE_GETREGS, filling regs with tid's general
// purpose registers.
func GetRegs(tid int, regs *sys.PtraceRegs) error {
	err := sys.PtraceGetRegs(tid, regs)
	logReq("PTRACE_GETREGS", tid, "", err)
	return err
}

// SetRegs issues PTRACE_SETREGS, writing regs as tid's general purpose
// registers.
func SetRegs(tid int, regs *sys.PtraceRegs) error {
	err := sys.PtraceSetRegs(tid, regs)
	logReq("PTRACE_SETREGS", tid, "", err)
	return err
}

// GetFPRegs issues PTRACE_GETFPREGS, filling buf (sized to the
// architecture's struct user_fpregs_struct, opaque to this package)
// with tid's floating point registers.
func GetFPRegs(tid int, buf []byte) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETFPREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_GETFPREGS", tid, "", err)
	return err
}

// SetFPRegs issues PTRACE_SETFPREGS, writing buf as tid's floating
// point registers.
func SetFPRegs(tid int, buf []byte) error {
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_SETFPREGS, uintptr(tid), 0, uintptr(unsafe.Pointer(&buf[0])), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_SETFPREGS", tid, "", err)
	return err
}

// GetRegSet issues PTRACE_GETREGSET for the given NT_* set id. The set
// id is passed by value in the address argument, a special case among
// the ptrace requests above; buf receives the iovec-described payload.
func GetRegSet(tid int, setID uintptr, buf []byte) error {
	iov := sys.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETREGSET, uintptr(tid), setID, uintptr(unsafe.Pointer(&iov)), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_GETREGSET", tid, fmt.Sprintf(", set=%#x, len=%d", setID, len(buf)), err)
	return err
}

// SetRegSet issues PTRACE_SETREGSET for the given NT_* set id.
func SetRegSet(tid int, setID uintptr, buf []byte) error {
	iov := sys.Iovec{Base: &buf[0], Len: uint64(len(buf))}
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_SETREGSET, uintptr(tid), setID, uintptr(unsafe.Pointer(&iov)), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_SETREGSET", tid, fmt.Sprintf(", set=%#x, len=%d", setID, len(buf)), err)
	return err
}

// GetThreadArea issues PTRACE_GET_THREAD_AREA for the descriptor table
// index idx, the 32-bit legacy thread-pointer dialect.
func GetThreadArea(tid int, idx uint32) (base uint32, err error) {
	var ud [4]uint32 // struct user_desc, we only need base_addr (second word)
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GET_THREAD_AREA, uintptr(tid), uintptr(idx), uintptr(unsafe.Pointer(&ud)), 0, 0)
	err = normalize(errno)
	logReq("PTRACE_GET_THREAD_AREA", tid, fmt.Sprintf(", idx=%d", idx), err)
	return ud[1], err
}

// GetEventMsg issues PTRACE_GETEVENTMSG, returning the kernel's
// per-event auxiliary word (new child tid on clone, exit status on the
// exit-trap).
func GetEventMsg(tid int) (uint, error) {
	msg, err := sys.PtraceGetEventMsg(tid)
	logReq("PTRACE_GETEVENTMSG", tid, "", err)
	return msg, err
}

// GetSigInfo issues PTRACE_GETSIGINFO, returning the siginfo_t that
// describes the pending stop signal.
func GetSigInfo(tid int) (*Siginfo, error) {
	var info Siginfo
	_, _, errno := sys.Syscall6(sys.SYS_PTRACE, sys.PTRACE_GETSIGINFO, uintptr(tid), 0, uintptr(unsafe.Pointer(&info.raw[0])), 0, 0)
	err := normalize(errno)
	logReq("PTRACE_GETSIGINFO", tid, "", err)
	if err != nil {
		return nil, err
	}
	return &info, nil
}
