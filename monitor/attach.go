package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/ptrace"
)

// Attach attaches to every task of an already-running process and
// returns a Monitor observing it. Grounded on delve's
// updateThreadList/addThread(attach=true) loop in
// proc_linux.go: /proc/<pid>/task is globbed repeatedly because a
// multi-threaded process can spawn a new thread between the listing
// and the last PTRACE_ATTACH, and the loop only terminates once a
// full pass adds no tid it didn't already know about.
func Attach(pid int, sink inferior.EventSink, factory inferior.ThreadFactory) (*Monitor, error) {
	if pid <= 1 {
		return nil, fmt.Errorf("inferior monitor: refusing to attach to pid %d", pid)
	}

	m := newMonitor(sink, factory)
	m.pid = pid
	m.childProcess = false

	attached := make(map[int]bool)
	for {
		tids, err := taskThreads(pid)
		if err != nil {
			if len(attached) > 0 {
				// The leader exited out from under us mid-attach; the
				// threads we already attached are the most complete
				// view we'll get.
				break
			}
			m.f.stop()
			return nil, fmt.Errorf("inferior monitor: attach: %w", err)
		}

		grew := false
		for _, tid := range tids {
			if attached[tid] {
				continue
			}
			grew = true
			if err := m.attachOne(tid); err != nil {
				if _, vanished := err.(inferior.TaskVanished); vanished {
					attached[tid] = true
					continue
				}
				m.f.stop()
				return nil, fmt.Errorf("inferior monitor: attach: tid %d: %w", tid, err)
			}
			attached[tid] = true
		}
		if !grew {
			break
		}
	}

	m.startWaitLoop()
	sink.SendMessage(inferior.Message{Kind: inferior.MsgTrace, PID: pid})
	return m, nil
}

// attachOne attaches to and waits for the initial stop of a single
// task, installs the default trace options, and registers its thread
// handle. A task that disappears (ESRCH) at any point during this
// sequence is reported as inferior.TaskVanished rather than failing
// the whole attach.
func (m *Monitor) attachOne(tid int) error {
	var attachErr error
	m.f.execFunc(func() { attachErr = ptrace.Attach(tid) })
	if attachErr == sys.ESRCH {
		return inferior.TaskVanished{TID: tid}
	}
	if attachErr != nil {
		return attachErr
	}

	var status sys.WaitStatus
	if _, err := sys.Wait4(tid, &status, sys.WALL, nil); err != nil {
		return err
	}
	if status.Exited() || status.Signaled() {
		return inferior.TaskVanished{TID: tid}
	}

	var optErr error
	m.f.execFunc(func() { optErr = ptrace.SetOptions(tid, defaultTraceOptions) })
	if err := optErr; err != nil {
		if err == sys.ESRCH {
			return inferior.TaskVanished{TID: tid}
		}
		return err
	}

	m.mu.Lock()
	th := m.addThreadLocked(tid)
	th.initialStopped = true
	th.running = false
	th.delivered = true
	m.mu.Unlock()

	m.factory.CreateNewPOSIXThread(tid)
	m.factory.AddThreadForInitialStopIfNeeded(tid)
	return nil
}

// taskThreads lists the kernel tids of every task in pid's thread
// group by reading /proc/<pid>/task, the tid-accurate enumeration an
// attach needs in place of a single pid-only attach (a multi-threaded
// process has tids distinct from its leader's pid).
func taskThreads(pid int) ([]int, error) {
	des, err := os.ReadDir(fmt.Sprintf("/proc/%d/task", pid))
	if err != nil {
		return nil, err
	}
	tids := make([]int, 0, len(des))
	for _, de := range des {
		tid, err := strconv.Atoi(filepath.Base(de.Name()))
		if err != nil {
			continue
		}
		tids = append(tids, tid)
	}
	return tids, nil
}
