package monitor

import (
	"testing"
	"time"
)

// TestStopThreadQuiescesRunningLeader launches a spinning inferior,
// lets it run, then directs a SIGSTOP at it and checks StopThread
// blocks until that stop is actually observed.
func TestStopThreadQuiescesRunningLeader(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "loop")
	m := launchStopped(t, path)
	defer killAndReap(t, m)

	if !m.Resume(m.Pid(), InvalidSignal) {
		t.Fatal("resuming leader before stop")
	}
	time.Sleep(20 * time.Millisecond)

	if err := m.StopThread(m.Pid()); err != nil {
		t.Fatalf("StopThread: %v", err)
	}
	if !m.wasDelivered(m.Pid()) {
		t.Fatal("expected the leader to be parked on a delivered stop")
	}

	if !m.Resume(m.Pid(), InvalidSignal) {
		t.Fatal("resuming leader after StopThread")
	}
}

// TestStopThreadOnAlreadyParkedThreadReturnsImmediately checks that
// calling StopThread against a thread that never left its initial stop
// doesn't block waiting for a SIGSTOP that will never be classified.
func TestStopThreadOnAlreadyParkedThreadReturnsImmediately(t *testing.T) {
	requireLinuxPtrace(t)
	path := buildFixture(t, "loop")
	m := launchStopped(t, path)
	defer killAndReap(t, m)

	done := make(chan error, 1)
	go func() { done <- m.StopThread(m.Pid()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StopThread: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StopThread on an already-parked thread should not block")
	}
}
