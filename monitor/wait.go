package monitor

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/internal/logflags"
)

// waitSignal is the directed private signal used to interrupt the
// wait task's blocking wait4(2) on shutdown. SIGUSR1 has no meaning to the Monitor
// or any reasonable inferior, and the Notify call below keeps the Go
// runtime from treating an unhandled SIGUSR1 as fatal; tgkill still
// delivers it to exactly the wait task's OS thread, which is all that
// is needed to knock it out of the syscall with EINTR.
const waitSignal = syscall.SIGUSR1

func init() {
	signal.Notify(make(chan os.Signal, 1), waitSignal)
}

// startWaitLoop launches the dedicated wait task in its own goroutine.
// Must be called exactly once, after the inferior's pid is known and
// before the caller can expect any Message deliveries.
func (m *Monitor) startWaitLoop() {
	go m.waitLoop()
}

// waitLoop is the dedicated wait task: a single
// goroutine, parked in wait4(2) on the inferior's entire process
// group, for the Monitor's whole lifetime. Grounded on delve's
// trapWaitInternal/nativeProcess.wait pairing in proc_linux.go, with
// one structural change: delve's loop resumes most threads itself
// before looping again (a breakpoint debugger's policy), whereas this
// loop only classifies and reports, leaving every resume decision to
// the caller, mechanism rather than policy. Do not replace
// this with a polling WNOHANG loop on a timer: a dedicated blocking
// waiter is the only way to learn about a stop immediately, and it is
// also the only thing that can race-free observe the group-leader's
// exit once ECHILD starts being returned for everyone else.
func (m *Monitor) waitLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(m.waitStopped)

	atomic.StoreInt32(&m.waitTid, int32(sys.Gettid()))

	for {
		var status sys.WaitStatus
		wpid, err := sys.Wait4(-m.pid, &status, sys.WALL, nil)
		if err == syscall.EINTR {
			if atomic.LoadInt32(&m.waitCancel) != 0 {
				return
			}
			if logflags.Process() {
				logflags.ProcessLogger().Debugf("%v", inferior.WaitInterrupted{PID: m.pid})
			}
			continue
		}
		if err != nil {
			// ECHILD: every thread in the group is already reaped.
			m.deliverExit(m.pid, 0)
			return
		}
		if wpid <= 0 {
			continue
		}
		if m.handleWaitStatus(wpid, status) {
			return
		}
	}
}

// cancelWaitLoop interrupts the wait task's blocking wait4 and joins
// it. Safe to call even if the wait task has already exited on its
// own (ECHILD path); tgkill against a dead tid just returns ESRCH,
// which is ignored.
func (m *Monitor) cancelWaitLoop() {
	atomic.StoreInt32(&m.waitCancel, 1)
	tid := int(atomic.LoadInt32(&m.waitTid))
	if tid != 0 {
		_ = sys.Tgkill(sys.Getpid(), tid, waitSignal)
	}
	<-m.waitStopped
}

func (m *Monitor) deliverExit(pid, code int) {
	m.mu.Lock()
	m.exited = true
	m.exitCode = code
	m.mu.Unlock()
	m.sink.SendMessage(inferior.Message{Kind: inferior.MsgExit, PID: pid, ExitCode: code})
}

// handleWaitStatus dispatches one wait4 result. It returns true when
// the wait task should stop: the thread-group leader is gone and no
// thread remains to report on.
func (m *Monitor) handleWaitStatus(wpid int, status sys.WaitStatus) bool {
	if logflags.Process() {
		logflags.ProcessLogger().Debugf("wait4 -> pid=%d status=%#x", wpid, uint32(status))
	}

	switch {
	case status.Exited():
		m.removeThread(wpid)
		m.takePendingCloneParent(wpid)
		code := status.ExitStatus()
		m.noteStopEvent(wpid, inferior.MsgExit)
		if wpid == m.pid {
			m.deliverExit(wpid, code)
			return true
		}
		m.sink.SendMessage(inferior.Message{Kind: inferior.MsgExit, PID: wpid, ExitCode: code})
		return false

	case status.Signaled():
		m.removeThread(wpid)
		m.takePendingCloneParent(wpid)
		code := -int(status.Signal())
		m.noteStopEvent(wpid, inferior.MsgExit)
		if wpid == m.pid {
			m.deliverExit(wpid, code)
			return true
		}
		m.sink.SendMessage(inferior.Message{Kind: inferior.MsgExit, PID: wpid, ExitCode: code})
		return false
	}

	if !status.Stopped() {
		return false
	}

	sig := status.StopSignal()

	if sig == sys.SIGTRAP {
		switch status.TrapCause() {
		case sys.PTRACE_EVENT_CLONE, sys.PTRACE_EVENT_VFORK, sys.PTRACE_EVENT_FORK:
			m.handleClone(wpid)
			return false
		case sys.PTRACE_EVENT_EXEC:
			m.markDelivered(wpid)
			m.sink.SendMessage(inferior.Message{Kind: inferior.MsgExec, PID: wpid})
			return false
		case sys.PTRACE_EVENT_EXIT:
			m.handleLimbo(wpid)
			return false
		}
	}

	wasInitialStop := !m.isInitialStopped(wpid) && sig == sys.SIGSTOP
	if wasInitialStop {
		m.markInitialStopped(wpid)
	}

	info, ok, serr := m.GetSignalInfo(wpid)
	if !ok {
		var errno syscall.Errno
		if errors.As(serr, &errno) && errno == syscall.EINVAL {
			// EINVAL from PTRACE_GETSIGINFO is the kernel's only tell
			// that this is a job-control group-stop, not a trace-stop:
			// there is no siginfo_t to classify and nothing user-visible
			// to report. Re-inject the stop and keep waiting.
			if logflags.Process() {
				logflags.ProcessLogger().Debugf("%v", inferior.GroupStopError{TID: wpid})
			}
			m.Resume(wpid, int(sys.SIGSTOP))
			return false
		}
		// Signal info unavailable for any other reason: if this is the
		// thread-group leader, it is gone in all but name. Report Exit
		// and terminate rather than classify a status we can't resolve.
		if wpid == m.pid {
			m.deliverExit(wpid, 0)
			return true
		}
		// A non-leader task in the same state is just vanishing; nothing
		// user-visible to report and nothing to classify without
		// siginfo_t.
		return false
	}

	if wasInitialStop {
		// Attach and Launch both consume their own initial stop directly
		// (see attachOne/Launch), never through this loop, so any
		// unpaired initial SIGSTOP reaching here belongs to a cloned
		// child. It produces no event of its own either way: if the
		// parent's clone-trap got here first, fire the MsgNewThread it
		// was waiting on; otherwise the child is now registered and
		// marked, and handleClone will find it already initial-stopped
		// when its own clone-trap arrives.
		m.markDelivered(wpid)
		if parent, pending := m.takePendingCloneParent(wpid); pending {
			m.factory.CreateNewPOSIXThread(wpid)
			m.factory.AddThreadForInitialStopIfNeeded(wpid)
			m.sink.SendMessage(inferior.Message{Kind: inferior.MsgNewThread, ParentPID: parent, ChildTID: wpid})
		}
		return false
	}

	msg := classifyStop(wpid, status, info)
	m.markDelivered(wpid)
	m.noteStopEvent(wpid, msg.Kind)
	m.sink.SendMessage(msg)
	return false
}

// handleClone reports a clone/vfork/fork trap. The new tid comes back
// through PTRACE_GETEVENTMSG. The clone-trap and the child's own
// user-origin SIGSTOP arrive as two independent events in arbitrary
// order; the child is not declared ready (MsgNewThread) until both
// have been observed. The Monitor resumes neither the parent nor the
// child automatically, leaving both parked until the caller issues a
// Resume itself.
func (m *Monitor) handleClone(parent int) {
	msg, ok := m.GetEventMessage(parent)
	if !ok {
		return
	}
	child := int(msg)

	m.mu.Lock()
	m.addThreadLocked(child)
	m.mu.Unlock()
	m.markDelivered(parent)

	if m.isInitialStopped(child) {
		m.factory.CreateNewPOSIXThread(child)
		m.factory.AddThreadForInitialStopIfNeeded(child)
		m.sink.SendMessage(inferior.Message{Kind: inferior.MsgNewThread, ParentPID: parent, ChildTID: child})
		return
	}

	m.notePendingClone(child, parent)
}

// handleLimbo reports a PTRACE_EVENT_EXIT stop: the thread's exit
// status is already final, but it is not reaped until it is resumed
// or detached. GETEVENTMSG returns the wait(2)-encoded status, not a
// bare code, so the exit code sits in the high byte.
func (m *Monitor) handleLimbo(tid int) {
	msg, ok := m.GetEventMessage(tid)
	code := 0
	if ok {
		code = int(msg) >> 8
	}
	m.markDelivered(tid)
	m.noteStopEvent(tid, inferior.MsgLimbo)
	m.sink.SendMessage(inferior.Message{Kind: inferior.MsgLimbo, PID: tid, ExitCode: code})
}
