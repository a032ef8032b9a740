package monitor

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/traceharbor/inferior/inferior"
)

// requireLinuxPtrace skips tests that need a live kernel and ptrace
// capability, following delve's own CI skip convention of gating
// integration tests on the host rather than mocking the kernel.
func requireLinuxPtrace(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("ptrace integration tests require linux")
	}
}

// buildFixture compiles one of this package's testdata programs into a
// temporary binary, grounded on delve's protest.BuildFixture.
func buildFixture(t *testing.T, name string) string {
	t.Helper()
	out := filepath.Join(t.TempDir(), name)
	src := filepath.Join("testdata", name+".go")
	cmd := exec.Command("go", "build", "-o", out, src)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		t.Fatalf("building fixture %s: %v", name, err)
	}
	return out
}

// recordingSink collects every Message it receives and auto-resumes
// trace, limbo and new-thread stops (both the new thread and its
// parent), a minimal stand-in for a real debugger's
// policy layer, grounded on delve's own test harnesses keeping a plain
// slice of observed events rather than asserting on each one inline.
type recordingSink struct {
	mu       sync.Mutex
	messages []inferior.Message
	m        *Monitor
	done     chan struct{}
	once     sync.Once
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) SendMessage(msg inferior.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	m := s.m
	s.mu.Unlock()

	switch msg.Kind {
	case inferior.MsgExit:
		s.once.Do(func() { close(s.done) })
	case inferior.MsgTrace, inferior.MsgSignalDelivered, inferior.MsgLimbo:
		if m != nil {
			m.Resume(msg.PID, InvalidSignal)
		}
	case inferior.MsgNewThread:
		if m != nil {
			m.Resume(msg.ChildTID, InvalidSignal)
			m.Resume(msg.ParentPID, InvalidSignal)
		}
	}
}

func (s *recordingSink) CreateNewPOSIXThread(tid int)            {}
func (s *recordingSink) AddThreadForInitialStopIfNeeded(tid int) {}

func (s *recordingSink) kinds() []inferior.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]inferior.Kind, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Kind
	}
	return out
}

// TestLaunchStopAndExit launches a trivial program, observes its
// initial stop, resumes it, and observes its exit.
func TestLaunchStopAndExit(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "exit")

	sink := newRecordingSink()
	m, err := Launch(inferior.LaunchArgs{Path: path}, sink, sink)
	assertNoError(err, t, "Launch")
	sink.mu.Lock()
	sink.m = m
	sink.mu.Unlock()

	select {
	case <-sink.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	kinds := sink.kinds()
	if len(kinds) == 0 || kinds[0] != inferior.MsgTrace {
		t.Fatalf("expected an initial MsgTrace, got %v", kinds)
	}
	if kinds[len(kinds)-1] != inferior.MsgExit {
		t.Fatalf("expected a final MsgExit, got %v", kinds)
	}
}

// TestThreadCreationSurfacesNewThread checks that a multi-threaded
// inferior's clones surface as MsgNewThread.
func TestThreadCreationSurfacesNewThread(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "threads")

	sink := newRecordingSink()
	m, err := Launch(inferior.LaunchArgs{Path: path}, sink, sink)
	assertNoError(err, t, "Launch")
	sink.mu.Lock()
	sink.m = m
	sink.mu.Unlock()

	select {
	case <-sink.done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit")
	}

	sawNewThread := false
	for _, k := range sink.kinds() {
		if k == inferior.MsgNewThread {
			sawNewThread = true
		}
	}
	if !sawNewThread {
		t.Fatal("expected at least one MsgNewThread")
	}
}

// TestDetachLeavesProcessRunning checks that after DetachAll(false), a
// running inferior is left to continue on its own.
func TestDetachLeavesProcessRunning(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "loop")

	sink := newRecordingSink()
	m, err := Launch(inferior.LaunchArgs{Path: path}, sink, sink)
	assertNoError(err, t, "Launch")
	sink.mu.Lock()
	sink.m = m
	sink.mu.Unlock()

	m.Resume(m.Pid(), InvalidSignal)
	time.Sleep(20 * time.Millisecond)

	if err := m.DetachAll(false); err != nil {
		t.Fatalf("DetachAll: %v", err)
	}
	if st := taskState(m.Pid()); st == 0 || st == 'Z' || st == 'X' {
		t.Fatalf("detached pid %d is no longer running (state %q)", m.Pid(), st)
	}

	proc, err := os.FindProcess(m.Pid())
	assertNoError(err, t, "FindProcess")
	if err := proc.Kill(); err != nil {
		t.Logf("cleanup kill of detached pid %d: %v", m.Pid(), err)
	}
}

func TestLaunchRejectsEmptyPath(t *testing.T) {
	_, err := Launch(inferior.LaunchArgs{}, newRecordingSink(), newRecordingSink())
	if err == nil {
		t.Fatal("expected an error launching with an empty path")
	}
}

func TestAttachRejectsLowPid(t *testing.T) {
	for _, pid := range []int{0, 1, -1} {
		_, err := Attach(pid, newRecordingSink(), newRecordingSink())
		if err == nil {
			t.Fatalf("expected attach to pid %d to be rejected", pid)
		}
	}
}
