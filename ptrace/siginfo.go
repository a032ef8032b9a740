package ptrace

import "encoding/binary"

// Siginfo is the kernel's siginfo_t, as filled in by PTRACE_GETSIGINFO.
// golang.org/x/sys/unix does not expose a ptrace-flavored siginfo_t (it
// only has the smaller SignalfdSiginfo), so the Monitor carries its own
// fixed-layout view of the x86_64 ABI: si_signo/si_errno/si_code at
// offsets 0/4/8, and the si_pid/si_uid (kill/tgkill origin) and si_addr
// (fault address) union members both at offset 16, since the kernel's
// anonymous _sifields union is aligned to 8 bytes right after si_code.
type Siginfo struct {
	raw [128]byte
}

// NewSiginfo builds a Siginfo from its logical fields, for callers that
// need to construct one without a live PTRACE_GETSIGINFO call (chiefly
// the classifier's table-driven tests in package monitor, which cannot
// reach the unexported raw bytes directly).
func NewSiginfo(signo, code int32, addr uintptr, pid int32) *Siginfo {
	var si Siginfo
	binary.LittleEndian.PutUint32(si.raw[0:], uint32(signo))
	binary.LittleEndian.PutUint32(si.raw[8:], uint32(code))
	binary.LittleEndian.PutUint64(si.raw[16:], uint64(addr))
	if pid != 0 {
		binary.LittleEndian.PutUint32(si.raw[16:], uint32(pid))
	}
	return &si
}

func (si *Siginfo) Signo() int32 {
	return int32(binary.LittleEndian.Uint32(si.raw[0:]))
}

func (si *Siginfo) Errno() int32 {
	return int32(binary.LittleEndian.Uint32(si.raw[4:]))
}

func (si *Siginfo) Code() int32 {
	return int32(binary.LittleEndian.Uint32(si.raw[8:]))
}

// Pid is si_pid, valid when the signal originated from kill/tgkill.
func (si *Siginfo) Pid() int32 {
	return int32(binary.LittleEndian.Uint32(si.raw[16:]))
}

// Uid is si_uid, valid alongside Pid.
func (si *Siginfo) Uid() uint32 {
	return binary.LittleEndian.Uint32(si.raw[20:])
}

// Addr is si_addr, the faulting address for SIGSEGV/SIGBUS/SIGILL/SIGFPE
// and the watched address for TRAP_HWBKPT.
func (si *Siginfo) Addr() uintptr {
	return uintptr(binary.LittleEndian.Uint64(si.raw[16:]))
}

// si_code values. golang.org/x/sys/unix does not export these (they
// live in uapi asm-generic/siginfo.h, not in the syscall table the
// generator scrapes), so the Monitor carries the handful the trap and
// signal classifiers need directly.
const (
	SI_USER  int32 = 0
	SI_KERNEL int32 = 0x80
	SI_TKILL int32 = -6

	TRAP_BRKPT  int32 = 1
	TRAP_TRACE  int32 = 2
	TRAP_HWBKPT int32 = 4

	SEGV_MAPERR int32 = 1
	SEGV_ACCERR int32 = 2

	BUS_ADRALN int32 = 1
	BUS_ADRERR int32 = 2

	ILL_ILLOPC int32 = 1
	ILL_ILLOPN int32 = 2

	FPE_INTDIV int32 = 1
	FPE_FLTDIV int32 = 3
	FPE_FLTOVF int32 = 4
	FPE_FLTINV int32 = 7
)
