package monitor

import (
	"fmt"
	"os"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/ptrace"
)

// DetachAll releases every tracked thread from ptrace and shuts down
// the Monitor's background tasks, grounded on delve's
// nativeProcess.detach (proc_linux.go). Unlike the
// single-tid Detach in api.go, this sequences the whole thread group
// and is the one callers should use to release an attached process
// for good.
func (m *Monitor) DetachAll(kill bool) error {
	// Only a launched inferior is ours to kill outright; one we merely
	// attached to belongs to whoever started it, so detaching leaves it
	// running regardless of kill. Grounded on delve's own
	// (*Process).Detach(kill bool): "if kill && dbp.childProcess".
	if kill && m.childProcess {
		return m.Kill()
	}

	m.mu.Lock()
	tids := make([]int, 0, len(m.threads))
	for tid := range m.threads {
		tids = append(tids, tid)
	}
	m.mu.Unlock()

	var firstErr error
	for _, tid := range tids {
		var err error
		m.f.execFunc(func() { err = ptrace.Detach(tid, 0) })
		if err != nil && err != sys.ESRCH && firstErr == nil {
			firstErr = err
		}
		m.removeThread(tid)
	}

	m.mu.Lock()
	m.detached = true
	m.mu.Unlock()

	m.teardown()

	if firstErr != nil {
		return firstErr
	}
	if kill {
		return nil
	}

	// Delve's own comment on this: for some reason the thread group
	// leader sometimes lands in group-stop right after the last
	// PTRACE_DETACH and doesn't leave it on its own. A short wait and a
	// SIGCONT clears it.
	time.Sleep(50 * time.Millisecond)
	if taskState(m.pid) == 'T' {
		_ = sys.Kill(m.pid, sys.SIGCONT)
	}
	return nil
}

// Kill sends the whole process group SIGKILL and waits for the
// Monitor's wait task to observe the leader's death, then tears the
// Monitor down. Grounded on processGroup.kill (proc_linux.go), but
// deliberately does not reap any pid itself: the wait task
// (wait.go) is the only goroutine allowed to call wait4 on this
// group, since a second waiter racing it for the same exit
// notifications would starve one or the other.
func (m *Monitor) Kill() error {
	if err := sys.Kill(-m.pid, sys.SIGKILL); err != nil {
		return err
	}
	<-m.waitStopped
	m.teardown()
	return nil
}

// teardown cancels the wait task and joins the funnel's owner task. It
// is idempotent enough to call from both DetachAll and Kill, and from
// the waitLoop's own ECHILD exit path by way of deliverExit, which
// sets exited without calling teardown itself: the caller that issued
// Kill/DetachAll is still the one responsible for joining.
func (m *Monitor) teardown() {
	m.cancelWaitLoop()
	m.f.stop()
	if m.pty != nil {
		m.pty.Close()
	}
}

// taskState returns the single-character process state field from
// /proc/<pid>/stat (the one after the parenthesized comm), or 0 if it
// can't be read, grounded on delve's status() helper (proc_linux.go).
func taskState(pid int) byte {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0
	}
	i := len(data) - 1
	for i >= 0 && data[i] != ')' {
		i--
	}
	i++ // skip ')'
	for i < len(data) && data[i] == ' ' {
		i++
	}
	if i >= len(data) {
		return 0
	}
	return data[i]
}
