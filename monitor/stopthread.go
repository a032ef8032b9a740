package monitor

import (
	"sync"

	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
)

// stopWaiter tracks an in-flight StopThread call: the wait task closes
// done once it observes a final stop for target.
type stopWaiter struct {
	target int
	done   chan struct{}
	once   sync.Once
}

func (w *stopWaiter) signal() {
	w.once.Do(func() { close(w.done) })
}

// StopThread quiesces a single thread without halting the rest of the
// group: it sends a directed SIGSTOP at tid and blocks until that
// thread's own stop is observed, while every other thread's events
// continue to be classified and forwarded as usual. Grounded on the
// directed-stop half of delve's (*nativeProcess).Halt
// (proc_linux.go), generalized from "stop everyone" to "stop exactly
// one, disturb nothing else more than necessary."
func (m *Monitor) StopThread(tid int) error {
	if err := m.checkAlive(); err != nil {
		return err
	}

	m.stopMu.Lock()
	defer m.stopMu.Unlock()

	// Nothing else will service an already-parked thread while this
	// call is blocked below, so poke them loose first.
	m.mu.Lock()
	var parked []int
	for t, th := range m.threads {
		if t != tid && th.delivered {
			parked = append(parked, t)
		}
	}
	m.mu.Unlock()
	for _, t := range parked {
		m.Resume(t, InvalidSignal)
	}

	if m.wasDelivered(tid) {
		return nil
	}

	w := &stopWaiter{target: tid, done: make(chan struct{})}
	m.mu.Lock()
	m.stopWaiter = w
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.stopWaiter == w {
			m.stopWaiter = nil
		}
		m.mu.Unlock()
	}()

	if err := sys.Tgkill(m.pid, tid, sys.SIGSTOP); err != nil {
		if err := sys.Kill(tid, sys.SIGSTOP); err != nil {
			return &inferior.TraceError{Request: "TGKILL/KILL", TID: tid, Errno: err}
		}
	}

	<-w.done
	return nil
}

// noteStopEvent is called by the wait task for every stop it
// classifies. When tid is the target of an in-flight StopThread call
// and kind is a stop that parks the thread (a signal, trap or crash
// stop, or one of the terminal Limbo/Exit events), it unblocks the
// waiter.
func (m *Monitor) noteStopEvent(tid int, kind inferior.Kind) {
	m.mu.Lock()
	w := m.stopWaiter
	m.mu.Unlock()
	if w == nil || w.target != tid {
		return
	}
	switch kind {
	case inferior.MsgSignalDelivered, inferior.MsgLimbo, inferior.MsgExit,
		inferior.MsgTrace, inferior.MsgBreak, inferior.MsgWatch, inferior.MsgSignal, inferior.MsgCrash:
		w.signal()
	}
}
