// Package monitor implements the Inferior Process Monitor: the
// serialized, thread-affine API by which a debugger launches or
// attaches to a Linux inferior, reads and writes its memory and
// registers, resumes or single-steps its threads, and observes its
// lifecycle through the messages defined in package inferior.
//
// Grounded throughout on delve's pkg/proc/native backend (see
// DESIGN.md for the per-file mapping); generalized from a
// breakpoint-oriented debugger backend into a general-purpose process
// monitor.
package monitor

import (
	"fmt"
	"os"
	"sync"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/ptrace"
)

// traceRequest names a ptrace(2) request for inferior.TraceError, kept
// here rather than in package ptrace since it is purely a diagnostic
// label attached at the point an operation's error crosses back out to
// a caller.
type traceRequest string

const (
	reqPeekData    traceRequest = "PEEKDATA"
	reqPokeData    traceRequest = "POKEDATA"
	reqGetSigInfo  traceRequest = "GETSIGINFO"
	reqGetEventMsg traceRequest = "GETEVENTMSG"
	reqDetach      traceRequest = "PTRACE_DETACH"
)

func traceError(req traceRequest, tid int, err error) error {
	if err == nil {
		return nil
	}
	return &inferior.TraceError{Request: string(req), TID: tid, Errno: err}
}

// Siginfo re-exports the ptrace package's siginfo_t view so callers of
// GetSignalInfo don't need to import package ptrace themselves.
type Siginfo = ptrace.Siginfo

// threadHandle tracks per-tid state the wait loop and lifecycle
// controller need: whether the thread's initial SIGSTOP has been
// observed (clone reconciliation) and whether it is currently running
// at the OS level.
type threadHandle struct {
	tid            int
	initialStopped bool
	running        bool
	// delivered is set when the thread is parked on a stop it has not
	// yet been resumed from (used by StopThread to decide which
	// already-stopped threads need a poke to keep draining).
	delivered bool
}

// Monitor is the inferior's lifetime object. Owns
// the inferior's pid (the thread-group leader), the PTY master
// descriptor (valid only when launched), the funnel, the wait task,
// and the thread-handle table.
type Monitor struct {
	pid int

	pty *os.File // nil unless launched

	sink    inferior.EventSink
	factory inferior.ThreadFactory

	f *funnel

	mu      sync.Mutex
	threads map[int]*threadHandle

	waitStopped chan struct{}
	waitTid     int32 // atomic; the wait task's OS tid, for directed-signal cancellation
	waitCancel  int32 // atomic; set before signalling waitTid to stop

	// pendingClones holds child tids whose clone-trap has been seen but
	// whose own initial SIGSTOP has not, keyed by child tid with the
	// parent tid as value; reconciled in handleWaitStatus once the
	// child's SIGSTOP arrives.
	pendingClones map[int]int

	// stopMu serializes concurrent StopThread calls; stopWaiter is the
	// in-flight one, read by the wait task under mu.
	stopMu     sync.Mutex
	stopWaiter *stopWaiter

	childProcess bool
	exited       bool
	exitCode     int
	detached     bool
}

// Pid returns the inferior's thread-group id.
func (m *Monitor) Pid() int { return m.pid }

// PTY returns the pseudo-terminal master descriptor allocated for a
// launched inferior, or nil if the Monitor was constructed via Attach.
func (m *Monitor) PTY() *os.File { return m.pty }

func newMonitor(sink inferior.EventSink, factory inferior.ThreadFactory) *Monitor {
	m := &Monitor{
		sink:          sink,
		factory:       factory,
		threads:       make(map[int]*threadHandle),
		pendingClones: make(map[int]int),
		f:             newFunnel(),
		waitStopped:   make(chan struct{}),
	}
	go m.f.serve(m)
	return m
}

func (m *Monitor) addThreadLocked(tid int) *threadHandle {
	th, ok := m.threads[tid]
	if !ok {
		th = &threadHandle{tid: tid}
		m.threads[tid] = th
	}
	return th
}

func (m *Monitor) threadHandle(tid int) (*threadHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[tid]
	return th, ok
}

func (m *Monitor) removeThread(tid int) {
	m.mu.Lock()
	delete(m.threads, tid)
	m.mu.Unlock()
}

func (m *Monitor) markInitialStopped(tid int) {
	m.mu.Lock()
	th := m.addThreadLocked(tid)
	th.initialStopped = true
	m.mu.Unlock()
}

func (m *Monitor) isInitialStopped(tid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[tid]
	return ok && th.initialStopped
}

// markDelivered records that tid has just been parked on a stop that
// was forwarded to the sink and not yet resumed.
func (m *Monitor) markDelivered(tid int) {
	m.mu.Lock()
	th := m.addThreadLocked(tid)
	th.delivered = true
	m.mu.Unlock()
}

// clearDelivered records that tid has left its parked stop, called
// once Resume/SingleStep successfully puts it back in motion.
func (m *Monitor) clearDelivered(tid int) {
	m.mu.Lock()
	if th, ok := m.threads[tid]; ok {
		th.delivered = false
	}
	m.mu.Unlock()
}

// wasDelivered reports whether tid was already parked on a stop
// before the event currently being handled.
func (m *Monitor) wasDelivered(tid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[tid]
	return ok && th.delivered
}

// notePendingClone records that parent's clone-trap named child as
// the new tid, but child's own initial SIGSTOP has not yet arrived.
func (m *Monitor) notePendingClone(child, parent int) {
	m.mu.Lock()
	m.pendingClones[child] = parent
	m.mu.Unlock()
}

// takePendingCloneParent removes and returns the parent recorded for
// child by notePendingClone, if any.
func (m *Monitor) takePendingCloneParent(child int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parent, ok := m.pendingClones[child]
	if ok {
		delete(m.pendingClones, child)
	}
	return parent, ok
}

// errNotOk is returned by operations issued after the Monitor has
// detached.
var errNotOk = fmt.Errorf("inferior monitor: not ok, invalid state")

func (m *Monitor) checkAlive() error {
	if m.exited {
		return inferior.ErrProcessExited{PID: m.pid, Status: m.exitCode}
	}
	if m.detached {
		return errNotOk
	}
	return nil
}

// execute runs on the owner task only (called from funnel.serve). It
// dispatches on op.kind to the C2-level memory/register/resume
// primitives, each of which in turn calls into package ptrace.
func (m *Monitor) execute(op *operation) {
	switch op.kind {
	case opReadMemory:
		n, err := m.readMemory(op.addr, op.buf)
		op.nBytes, op.err = n, traceError(reqPeekData, m.pid, err)
	case opWriteMemory:
		n, err := m.writeMemory(op.addr, op.buf)
		op.nBytes, op.err = n, traceError(reqPokeData, m.pid, err)
	case opReadRegister:
		op.value, op.ok = m.readRegisterOffset(op.tid, op.regOffset, op.regName)
	case opWriteRegister:
		op.ok = m.writeRegisterOffset(op.tid, op.regOffset, op.regValue, op.regName)
	case opReadRegisterSet:
		op.ok = m.readRegisterSet(op.tid, op.regSetID, op.buf)
	case opWriteRegisterSet:
		op.ok = m.writeRegisterSet(op.tid, op.regSetID, op.buf)
	case opReadGPR:
		op.ok = m.readGPR(op.tid, op.buf)
	case opWriteGPR:
		op.ok = m.writeGPR(op.tid, op.buf)
	case opReadFPR:
		op.ok = m.readFPR(op.tid, op.buf)
	case opWriteFPR:
		op.ok = m.writeFPR(op.tid, op.buf)
	case opReadThreadPointer:
		op.value, op.ok = m.readThreadPointer(op.tid)
	case opResume:
		op.ok = ptrace.Cont(op.tid, op.signal) == nil
	case opSingleStep:
		op.ok = ptrace.SingleStep(op.tid, op.signal) == nil
	case opGetSignalInfo:
		info, err := ptrace.GetSigInfo(op.tid)
		op.siginfo, op.ok = info, err == nil
		op.err = traceError(reqGetSigInfo, op.tid, err)
	case opGetEventMessage:
		msg, err := ptrace.GetEventMsg(op.tid)
		op.eventMsg, op.ok = uint64(msg), err == nil
		op.err = traceError(reqGetEventMsg, op.tid, err)
	case opDetach:
		err := ptrace.Detach(op.tid, 0)
		op.ok = err == nil
		op.err = traceError(reqDetach, op.tid, err)
	case opRunFunc:
		op.fn()
	default:
		panic(fmt.Sprintf("inferior monitor: unknown operation kind %d", op.kind))
	}
}
