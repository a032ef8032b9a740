package monitor

import (
	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/ptrace"
)

// classifyStop turns a plain stop (no PTRACE_EVENT_* trap cause) into a
// Message. It is a pure function of the wait status and the siginfo_t
// the wait task fetched for it, grounded on the stop-signal dispatch
// at the tail of delve's trapWaitInternal (proc_linux.go) but
// generalized: where delve's version only distinguishes "is this our
// SIGTRAP" before resuming unconditionally, this classifier names
// every stop precisely enough for a caller to decide what to do next.
func classifyStop(pid int, status sys.WaitStatus, info *ptrace.Siginfo) inferior.Message {
	sig := status.StopSignal()

	if sig == sys.SIGTRAP {
		if info == nil {
			return inferior.Message{Kind: inferior.MsgTrace, PID: pid}
		}
		switch info.Code() {
		case ptrace.SI_KERNEL, ptrace.TRAP_BRKPT:
			return inferior.Message{Kind: inferior.MsgBreak, PID: pid}
		case ptrace.TRAP_HWBKPT:
			return inferior.Message{Kind: inferior.MsgWatch, PID: pid, FaultAddr: info.Addr()}
		default:
			return inferior.Message{Kind: inferior.MsgTrace, PID: pid}
		}
	}

	// A signal's si_code tells user-space origin (kill/tgkill/sigqueue,
	// SI_USER/SI_TKILL/SI_QUEUE, all <= 0) apart from a genuine
	// kernel/hardware-generated one (si_code > 0, e.g. SEGV_MAPERR,
	// ILL_ILLOPN, SI_KERNEL). This has to run before classifyFault:
	// kill(pid, SIGSEGV) carries SIGSEGV but did not come from a fault
	// and must never be reported as a crash.
	selfDelivered := info != nil && (info.Code() == ptrace.SI_TKILL || int32(info.Pid()) == int32(pid))
	userOrigin := info != nil && info.Code() <= 0

	if !userOrigin {
		if reason, addr, fatal := classifyFault(sig, info); fatal {
			return inferior.Message{Kind: inferior.MsgCrash, PID: pid, Signo: int(sig), FaultAddr: addr, Reason: reason}
		}
	}

	if selfDelivered {
		return inferior.Message{Kind: inferior.MsgSignalDelivered, PID: pid, Signo: int(sig)}
	}

	return inferior.Message{Kind: inferior.MsgSignal, PID: pid, Signo: int(sig)}
}

// classifyFault maps the synchronous fault signals (SIGSEGV, SIGBUS,
// SIGILL, SIGFPE) to a CrashReason using si_code. fatal is false for
// every other signal, in which
// case reason and addr are zero.
func classifyFault(sig sys.Signal, info *ptrace.Siginfo) (reason inferior.CrashReason, addr uintptr, fatal bool) {
	switch sig {
	case sys.SIGSEGV:
		fatal = true
		if info != nil {
			addr = info.Addr()
			if info.Code() == ptrace.SEGV_MAPERR && addr < 0x1000 {
				reason = inferior.CrashNullPointerDereference
			} else {
				reason = inferior.CrashSegmentationFault
			}
		} else {
			reason = inferior.CrashSegmentationFault
		}
	case sys.SIGBUS:
		fatal = true
		if info != nil {
			addr = info.Addr()
			switch info.Code() {
			case ptrace.BUS_ADRALN:
				reason = inferior.CrashBusAddressAlignment
			default:
				reason = inferior.CrashBusHardwareError
			}
		} else {
			reason = inferior.CrashBusHardwareError
		}
	case sys.SIGILL:
		fatal = true
		if info != nil {
			addr = info.Addr()
			switch info.Code() {
			case ptrace.ILL_ILLOPN:
				reason = inferior.CrashIllegalOperand
			default:
				reason = inferior.CrashIllegalInstruction
			}
		} else {
			reason = inferior.CrashIllegalInstruction
		}
	case sys.SIGFPE:
		fatal = true
		if info != nil {
			addr = info.Addr()
			switch info.Code() {
			case ptrace.FPE_FLTOVF:
				reason = inferior.CrashFloatOverflow
			case ptrace.FPE_INTDIV, ptrace.FPE_FLTDIV:
				reason = inferior.CrashFloatDivideByZero
			default:
				reason = inferior.CrashFloatInvalidOperation
			}
		} else {
			reason = inferior.CrashFloatInvalidOperation
		}
	}
	return reason, addr, fatal
}

// classifyWatchpoint refines a MsgWatch message with a read/write
// direction once the caller has cross-referenced FaultAddr against its
// own watchpoint table; the Monitor has no notion of watchpoints
// itself, mechanism rather than policy, so it cannot make
// this distinction on its own.
func classifyWatchpoint(write bool) inferior.CrashReason {
	if write {
		return inferior.CrashWriteWatchpoint
	}
	return inferior.CrashReadWatchpoint
}
