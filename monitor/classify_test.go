package monitor

import (
	"testing"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/ptrace"
)

func assertNoError(err error, t testing.TB, s string) {
	if err != nil {
		t.Fatalf("%s: %v", s, err)
	}
}

func stoppedStatus(sig sys.Signal) sys.WaitStatus {
	// WaitStatus.Stopped()/StopSignal() decode bits (status&0xff==0x7f)
	// and ((status>>8)&0xff), matching the kernel's wait(2) encoding.
	return sys.WaitStatus(0x7f | (uint32(sig) << 8))
}

func TestClassifyStopBreakpoint(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGTRAP), ptrace.SI_KERNEL, 0, 0)
	msg := classifyStop(1234, stoppedStatus(sys.SIGTRAP), info)
	if msg.Kind != inferior.MsgBreak {
		t.Fatalf("expected MsgBreak, got %s", msg.Kind)
	}
	if msg.PID != 1234 {
		t.Fatalf("expected pid 1234, got %d", msg.PID)
	}
}

func TestClassifyStopWatchpoint(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGTRAP), ptrace.TRAP_HWBKPT, 0x7fff0000, 0)
	msg := classifyStop(1, stoppedStatus(sys.SIGTRAP), info)
	if msg.Kind != inferior.MsgWatch {
		t.Fatalf("expected MsgWatch, got %s", msg.Kind)
	}
	if msg.FaultAddr != 0x7fff0000 {
		t.Fatalf("expected addr 0x7fff0000, got %#x", msg.FaultAddr)
	}
}

func TestClassifyStopPlainTrace(t *testing.T) {
	msg := classifyStop(1, stoppedStatus(sys.SIGTRAP), nil)
	if msg.Kind != inferior.MsgTrace {
		t.Fatalf("expected MsgTrace, got %s", msg.Kind)
	}
}

func TestClassifyStopSelfDeliveredSigstop(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGSTOP), ptrace.SI_TKILL, 0, 0)
	msg := classifyStop(42, stoppedStatus(sys.SIGSTOP), info)
	if msg.Kind != inferior.MsgSignalDelivered {
		t.Fatalf("expected MsgSignalDelivered, got %s", msg.Kind)
	}
}

func TestClassifyStopOrdinarySignal(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGUSR1), ptrace.SI_USER, 0, 999)
	msg := classifyStop(1, stoppedStatus(sys.SIGUSR1), info)
	if msg.Kind != inferior.MsgSignal {
		t.Fatalf("expected MsgSignal, got %s", msg.Kind)
	}
	if msg.Signo != int(sys.SIGUSR1) {
		t.Fatalf("expected signo %d, got %d", sys.SIGUSR1, msg.Signo)
	}
}

func TestClassifyStopUserOriginFaultSignalIsNotCrash(t *testing.T) {
	// kill(pid, SIGSEGV) carries SIGSEGV's number but SI_USER origin;
	// it must never be reported as a crash.
	info := ptrace.NewSiginfo(int32(sys.SIGSEGV), ptrace.SI_USER, 0, 999)
	msg := classifyStop(1, stoppedStatus(sys.SIGSEGV), info)
	if msg.Kind == inferior.MsgCrash {
		t.Fatalf("user-origin SIGSEGV must not classify as Crash, got %s", msg.Kind)
	}
	if msg.Kind != inferior.MsgSignal {
		t.Fatalf("expected MsgSignal, got %s", msg.Kind)
	}
}

func TestClassifyStopKernelOriginFaultSignalIsCrash(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGSEGV), ptrace.SEGV_MAPERR, 0x40, 0)
	msg := classifyStop(1, stoppedStatus(sys.SIGSEGV), info)
	if msg.Kind != inferior.MsgCrash {
		t.Fatalf("expected MsgCrash for a genuine fault, got %s", msg.Kind)
	}
}

func TestClassifyStopSelfDeliveredNonStopSignal(t *testing.T) {
	// The self-delivered check must generalize beyond SIGSTOP.
	info := ptrace.NewSiginfo(int32(sys.SIGUSR1), ptrace.SI_TKILL, 0, 0)
	msg := classifyStop(7, stoppedStatus(sys.SIGUSR1), info)
	if msg.Kind != inferior.MsgSignalDelivered {
		t.Fatalf("expected MsgSignalDelivered, got %s", msg.Kind)
	}
}

func TestClassifyFaultNullPointerDereference(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGSEGV), ptrace.SEGV_MAPERR, 0x40, 0)
	reason, addr, fatal := classifyFault(sys.SIGSEGV, info)
	if !fatal {
		t.Fatal("expected SIGSEGV to be fatal")
	}
	if reason != inferior.CrashNullPointerDereference {
		t.Fatalf("expected null pointer dereference, got %s", reason)
	}
	if addr != 0x40 {
		t.Fatalf("expected addr 0x40, got %#x", addr)
	}
}

func TestClassifyFaultSegfaultFarFromZero(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGSEGV), ptrace.SEGV_ACCERR, 0x7fff12340000, 0)
	reason, _, fatal := classifyFault(sys.SIGSEGV, info)
	if !fatal || reason != inferior.CrashSegmentationFault {
		t.Fatalf("expected plain segmentation fault, got fatal=%v reason=%s", fatal, reason)
	}
}

func TestClassifyFaultBusAlignment(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGBUS), ptrace.BUS_ADRALN, 0x1003, 0)
	reason, _, fatal := classifyFault(sys.SIGBUS, info)
	if !fatal || reason != inferior.CrashBusAddressAlignment {
		t.Fatalf("expected misaligned access, got fatal=%v reason=%s", fatal, reason)
	}
}

func TestClassifyFaultFloatDivideByZero(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGFPE), ptrace.FPE_INTDIV, 0, 0)
	reason, _, fatal := classifyFault(sys.SIGFPE, info)
	if !fatal || reason != inferior.CrashFloatDivideByZero {
		t.Fatalf("expected float divide by zero, got fatal=%v reason=%s", fatal, reason)
	}
}

func TestClassifyFaultIllegalOpcode(t *testing.T) {
	info := ptrace.NewSiginfo(int32(sys.SIGILL), ptrace.ILL_ILLOPC, 0, 0)
	reason, _, fatal := classifyFault(sys.SIGILL, info)
	if !fatal || reason != inferior.CrashIllegalInstruction {
		t.Fatalf("expected illegal instruction, got fatal=%v reason=%s", fatal, reason)
	}
}

func TestClassifyFaultNotFatal(t *testing.T) {
	_, _, fatal := classifyFault(sys.SIGWINCH, nil)
	if fatal {
		t.Fatal("SIGWINCH must never be classified as fatal")
	}
}

func TestClassifyWatchpointDirection(t *testing.T) {
	if r := classifyWatchpoint(true); r != inferior.CrashWriteWatchpoint {
		t.Fatalf("expected write watchpoint, got %s", r)
	}
	if r := classifyWatchpoint(false); r != inferior.CrashReadWatchpoint {
		t.Fatalf("expected read watchpoint, got %s", r)
	}
}
