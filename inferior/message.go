// Package inferior defines the types that cross the Monitor's output
// boundary: process lifecycle messages and the narrow callback
// interfaces an enclosing process object must implement to receive
// them. Nothing in this package issues a ptrace(2) request; that work
// lives in package monitor.
package inferior

import "fmt"

// Kind identifies the variant of a Message.
type Kind int

const (
	// MsgExit reports that pid (or one of its threads) has exited.
	MsgExit Kind = iota
	// MsgLimbo reports a PTRACE_EVENT_EXIT stop: the thread is parked
	// with its exit code known but not yet reaped.
	MsgLimbo
	// MsgTrace reports a plain single-step or initial-attach stop.
	MsgTrace
	// MsgBreak reports a breakpoint (SI_KERNEL or TRAP_BRKPT) stop.
	MsgBreak
	// MsgWatch reports a hardware watchpoint (TRAP_HWBKPT) stop.
	MsgWatch
	// MsgCrash reports a fatal, non-user-originated signal.
	MsgCrash
	// MsgNewThread reports a clone event; ChildTID is the new tid.
	MsgNewThread
	// MsgExec reports a PTRACE_EVENT_EXEC stop.
	MsgExec
	// MsgSignal reports any other signal delivered to the tracee.
	MsgSignal
	// MsgSignalDelivered acknowledges a signal sent by tgkill (SI_TKILL)
	// or by the tracee's own pid.
	MsgSignalDelivered
)

func (k Kind) String() string {
	switch k {
	case MsgExit:
		return "Exit"
	case MsgLimbo:
		return "Limbo"
	case MsgTrace:
		return "Trace"
	case MsgBreak:
		return "Break"
	case MsgWatch:
		return "Watch"
	case MsgCrash:
		return "Crash"
	case MsgNewThread:
		return "NewThread"
	case MsgExec:
		return "Exec"
	case MsgSignal:
		return "Signal"
	case MsgSignalDelivered:
		return "SignalDelivered"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// CrashReason classifies a Crash message's fault further than the raw
// signal number alone would, following the conventional
// SIGSEGV/SIGBUS/SIGILL/SIGFPE si_code taxonomy.
type CrashReason int

const (
	CrashUnknown CrashReason = iota
	CrashNullPointerDereference
	CrashSegmentationFault
	CrashReadWatchpoint
	CrashWriteWatchpoint
	CrashHardwareBreakpoint
	CrashBusAddressAlignment
	CrashBusHardwareError
	CrashIllegalInstruction
	CrashIllegalOperand
	CrashFloatDivideByZero
	CrashFloatOverflow
	CrashFloatInvalidOperation
)

func (r CrashReason) String() string {
	switch r {
	case CrashNullPointerDereference:
		return "null pointer dereference"
	case CrashSegmentationFault:
		return "segmentation fault"
	case CrashReadWatchpoint:
		return "read of watched address"
	case CrashWriteWatchpoint:
		return "write to watched address"
	case CrashHardwareBreakpoint:
		return "hardware breakpoint"
	case CrashBusAddressAlignment:
		return "misaligned memory access"
	case CrashBusHardwareError:
		return "hardware memory error"
	case CrashIllegalInstruction:
		return "illegal instruction"
	case CrashIllegalOperand:
		return "illegal operand"
	case CrashFloatDivideByZero:
		return "floating point divide by zero"
	case CrashFloatOverflow:
		return "floating point overflow"
	case CrashFloatInvalidOperation:
		return "invalid floating point operation"
	default:
		return "unknown crash"
	}
}

// Message is the tagged union of events the Monitor delivers to the
// upstream process object. Only the fields relevant to Kind are
// populated; the rest are zero.
type Message struct {
	Kind Kind

	PID int

	// ExitCode is valid for MsgExit and MsgLimbo.
	ExitCode int

	// Signo is valid for MsgCrash, MsgSignal and MsgSignalDelivered.
	Signo int

	// FaultAddr is valid for MsgWatch and MsgCrash.
	FaultAddr uintptr

	// Reason is valid for MsgCrash.
	Reason CrashReason

	// ParentPID and ChildTID are valid for MsgNewThread.
	ParentPID int
	ChildTID  int
}

func (m Message) String() string {
	switch m.Kind {
	case MsgExit, MsgLimbo:
		return fmt.Sprintf("%s(pid=%d, code=%d)", m.Kind, m.PID, m.ExitCode)
	case MsgWatch:
		return fmt.Sprintf("%s(pid=%d, addr=%#x)", m.Kind, m.PID, m.FaultAddr)
	case MsgCrash:
		return fmt.Sprintf("%s(pid=%d, reason=%s, signo=%d, addr=%#x)", m.Kind, m.PID, m.Reason, m.Signo, m.FaultAddr)
	case MsgNewThread:
		return fmt.Sprintf("%s(parent=%d, child=%d)", m.Kind, m.ParentPID, m.ChildTID)
	case MsgSignal, MsgSignalDelivered:
		return fmt.Sprintf("%s(pid=%d, signo=%d)", m.Kind, m.PID, m.Signo)
	default:
		return fmt.Sprintf("%s(pid=%d)", m.Kind, m.PID)
	}
}

// EventSink receives lifecycle messages from the Monitor. Delve's
// native backend plays the same role with its proc.Target/proc.Process
// split: the backend never holds a reference to the full upstream
// object, only to this narrow one-way channel.
type EventSink interface {
	SendMessage(Message)
}

// ThreadFactory lets the Monitor tell the upstream process object
// about new threads without owning the upstream thread list itself.
type ThreadFactory interface {
	// CreateNewPOSIXThread instantiates a per-thread handle for tid.
	CreateNewPOSIXThread(tid int)
	// AddThreadForInitialStopIfNeeded registers tid as awaiting its
	// initial SIGSTOP before being declared ready.
	AddThreadForInitialStopIfNeeded(tid int)
}
