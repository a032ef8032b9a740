package monitor

import (
	"runtime"
	"sync"
)

// funnel is the serialized rendezvous that routes every privileged
// ptrace(2) request onto the single owner task, grounded on delve's
// pkg/proc/native Process.ptraceChan/ptraceDoneChan/handlePtraceFuncs/
// execPtraceFunc quartet. A Go channel send already blocks the sender
// until the receiver is ready to take it, which plays the role of a
// "pending" semaphore; operation.done, closed by the owner task when
// it finishes, plays the role of a "done" semaphore. The unbuffered
// channel combined with mu
// gives the "at most one pending operation" invariant without a
// separately-guarded slot variable to race on.
type funnel struct {
	mu      sync.Mutex
	submit  chan *operation
	stopped chan struct{}
}

func newFunnel() *funnel {
	return &funnel{submit: make(chan *operation), stopped: make(chan struct{})}
}

// serve is the owner task's body. It must run in its own goroutine
// with LockOSThread held for its entire lifetime: ptrace(2) only
// accepts requests from the task that originally attached to or
// forked the tracee, and LockOSThread is the only
// mechanism by which a goroutine can guarantee it keeps running on the
// same OS thread across an unbounded number of blocking syscalls.
func (f *funnel) serve(m *Monitor) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(f.stopped)

	for op := range f.submit {
		if op.kind == opExit {
			close(op.done)
			return
		}
		m.execute(op)
		close(op.done)
	}
}

// submitOp hands op to the owner task and blocks until it completes.
// Callers from different goroutines are totally ordered by mu: the
// mutex is held across the full submit-and-wait round trip, so every
// operation is fully serialized regardless of how many caller
// goroutines race to submit.
func (f *funnel) submitOp(op *operation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submit <- op
	<-op.done
}

// execFunc runs fn on the owner task and waits for it to return. Used
// only by the lifecycle controller (Launch's fork/exec, ASLR toggle and
// PTRACE_SETOPTIONS, Attach's PTRACE_ATTACH and PTRACE_SETOPTIONS,
// DetachAll's per-tid PTRACE_DETACH), all of which have to happen on
// the exact OS thread that owns every ptrace(2) call against the
// inferior.
func (f *funnel) execFunc(fn func()) {
	op := newOp(opRunFunc)
	op.fn = fn
	f.submitOp(op)
}

// stop enqueues the Exit sentinel and joins the owner task. Once the
// owner task has exited, a further stop returns immediately.
func (f *funnel) stop() {
	select {
	case <-f.stopped:
		return
	default:
	}
	f.submitOp(newOp(opExit))
	<-f.stopped
}
