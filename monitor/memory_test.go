package monitor

import (
	"os"
	"testing"
	"time"
	"unsafe"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
)

// stoppedSink records messages but never resumes the tracee itself,
// letting a test drive Resume calls explicitly once it has the stopped
// tid it needs.
type stoppedSink struct {
	ready chan int // receives the leader's tid on its initial stop
}

func newStoppedSink() *stoppedSink {
	return &stoppedSink{ready: make(chan int, 1)}
}

func (s *stoppedSink) SendMessage(msg inferior.Message) {
	if msg.Kind == inferior.MsgTrace {
		s.ready <- msg.PID
	}
}

func (s *stoppedSink) CreateNewPOSIXThread(tid int)            {}
func (s *stoppedSink) AddThreadForInitialStopIfNeeded(tid int) {}

// launchStopped launches path and blocks until its leader thread has
// reported its initial stop, returning the Monitor with the tracee
// still parked there.
func launchStopped(t *testing.T, path string) *Monitor {
	t.Helper()
	sink := newStoppedSink()
	m, err := Launch(inferior.LaunchArgs{Path: path}, sink, sink)
	assertNoError(err, t, "Launch")
	select {
	case <-sink.ready:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for initial stop")
	}
	return m
}

func killAndReap(t *testing.T, m *Monitor) {
	t.Helper()
	m.DetachAll(true)
	proc, err := os.FindProcess(m.Pid())
	if err == nil {
		proc.Kill()
	}
}

// TestMemoryRoundTripAcrossWordBoundary writes a span of bytes that
// doesn't end on a word boundary, exercising writeMemory's
// read-modify-write tail, and checks readMemory reads the same bytes
// back without disturbing whatever followed them.
func TestMemoryRoundTripAcrossWordBoundary(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "loop")
	m := launchStopped(t, path)
	defer killAndReap(t, m)

	buf := make([]byte, gprSize)
	if !m.ReadGPR(m.Pid(), buf) {
		t.Fatal("reading gpr for stack pointer")
	}
	var regs sys.PtraceRegs
	copy((*[unsafe.Sizeof(sys.PtraceRegs{})]byte)(unsafe.Pointer(&regs))[:], buf)
	addr := uintptr(regs.Rsp) - 256 // well below the live stack top, safe scratch space

	original := make([]byte, 24)
	n, err := m.ReadMemory(addr, original)
	assertNoError(err, t, "ReadMemory baseline")
	if n != len(original) {
		t.Fatalf("baseline read: got %d bytes, want %d", n, len(original))
	}

	// 11 bytes: one full word plus a 3-byte tail, forcing the
	// read-modify-write path for the trailing partial word.
	payload := make([]byte, 11)
	for i := range payload {
		payload[i] = byte(0xA0 + i)
	}
	n, err = m.WriteMemory(addr, payload)
	assertNoError(err, t, "WriteMemory")
	if n != len(payload) {
		t.Fatalf("write: got %d bytes, want %d", n, len(payload))
	}

	readBack := make([]byte, len(original))
	n, err = m.ReadMemory(addr, readBack)
	assertNoError(err, t, "ReadMemory after write")
	if n != len(readBack) {
		t.Fatalf("read-back: got %d bytes, want %d", n, len(readBack))
	}

	for i, want := range payload {
		if readBack[i] != want {
			t.Fatalf("byte %d: got %#x, want %#x", i, readBack[i], want)
		}
	}
	// Everything past the payload must be untouched by the
	// read-modify-write of the trailing word.
	for i := len(payload); i < len(original); i++ {
		if readBack[i] != original[i] {
			t.Fatalf("byte %d beyond payload was clobbered: got %#x, want %#x", i, readBack[i], original[i])
		}
	}
}

// TestWriteMemoryEmptyIsNoop checks that a zero-length write is a
// no-op rather than issuing a spurious ptrace transfer.
func TestWriteMemoryEmptyIsNoop(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "loop")
	m := launchStopped(t, path)
	defer killAndReap(t, m)

	n, err := m.WriteMemory(0, nil)
	assertNoError(err, t, "WriteMemory(nil)")
	if n != 0 {
		t.Fatalf("got %d, want 0", n)
	}
}
