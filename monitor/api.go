package monitor

// This file is the Monitor's public operational API. Every method
// submits one operation through the funnel and
// waits for the owner task to execute it; none of them touch the
// kernel directly.

// ReadMemory reads len(buf) bytes of the inferior's memory at addr
// into buf. It returns the number of bytes actually transferred
// before any error.
func (m *Monitor) ReadMemory(addr uintptr, buf []byte) (int, error) {
	if err := m.checkAlive(); err != nil {
		return 0, err
	}
	op := newOp(opReadMemory)
	op.addr, op.buf = addr, buf
	m.f.submitOp(op)
	return op.nBytes, op.err
}

// WriteMemory writes buf into the inferior's memory at addr. A
// trailing partial word is preserved via read-modify-write (see
// memory.go).
func (m *Monitor) WriteMemory(addr uintptr, buf []byte) (int, error) {
	if err := m.checkAlive(); err != nil {
		return 0, err
	}
	op := newOp(opWriteMemory)
	op.addr, op.buf = addr, buf
	m.f.submitOp(op)
	return op.nBytes, op.err
}

// ReadRegisterValue reads the word at byte offset off in tid's
// per-thread register layout. name is purely diagnostic (used only for
// logging); the offset itself is opaque to the Monitor.
func (m *Monitor) ReadRegisterValue(tid int, off uintptr, name string) (uint64, bool) {
	if m.checkAlive() != nil {
		return 0, false
	}
	op := newOp(opReadRegister)
	op.tid, op.regOffset, op.regName = tid, off, name
	m.f.submitOp(op)
	return op.value, op.ok
}

// WriteRegisterValue writes v at byte offset off in tid's per-thread
// register layout.
func (m *Monitor) WriteRegisterValue(tid int, off uintptr, name string, v uint64) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opWriteRegister)
	op.tid, op.regOffset, op.regName, op.regValue = tid, off, name, v
	m.f.submitOp(op)
	return op.ok
}

// ReadRegisterSet reads the named register set (set-id interface) into
// buf.
func (m *Monitor) ReadRegisterSet(tid int, setID uintptr, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opReadRegisterSet)
	op.tid, op.regSetID, op.buf = tid, setID, buf
	m.f.submitOp(op)
	return op.ok
}

// WriteRegisterSet writes buf to the named register set.
func (m *Monitor) WriteRegisterSet(tid int, setID uintptr, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opWriteRegisterSet)
	op.tid, op.regSetID, op.buf = tid, setID, buf
	m.f.submitOp(op)
	return op.ok
}

// ReadGPR reads tid's general purpose register set in bulk.
func (m *Monitor) ReadGPR(tid int, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opReadGPR)
	op.tid, op.buf = tid, buf
	m.f.submitOp(op)
	return op.ok
}

// WriteGPR writes tid's general purpose register set in bulk.
func (m *Monitor) WriteGPR(tid int, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opWriteGPR)
	op.tid, op.buf = tid, buf
	m.f.submitOp(op)
	return op.ok
}

// ReadFPR reads tid's floating point register set in bulk.
func (m *Monitor) ReadFPR(tid int, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opReadFPR)
	op.tid, op.buf = tid, buf
	m.f.submitOp(op)
	return op.ok
}

// WriteFPR writes tid's floating point register set in bulk.
func (m *Monitor) WriteFPR(tid int, buf []byte) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opWriteFPR)
	op.tid, op.buf = tid, buf
	m.f.submitOp(op)
	return op.ok
}

// ReadThreadPointer reads tid's thread-local storage base address.
func (m *Monitor) ReadThreadPointer(tid int) (uintptr, bool) {
	if m.checkAlive() != nil {
		return 0, false
	}
	op := newOp(opReadThreadPointer)
	op.tid = tid
	m.f.submitOp(op)
	return uintptr(op.value), op.ok
}

// InvalidSignal is passed to Resume/SingleStep to mean "no signal."
const InvalidSignal = -1

// Resume continues tid, optionally delivering signal (InvalidSignal
// for none).
func (m *Monitor) Resume(tid int, signal int) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opResume)
	op.tid, op.signal = tid, normalizeSignal(signal)
	m.f.submitOp(op)
	if op.ok {
		m.clearDelivered(tid)
	}
	return op.ok
}

// SingleStep steps tid by exactly one instruction, optionally
// delivering signal (InvalidSignal for none).
func (m *Monitor) SingleStep(tid int, signal int) bool {
	if m.checkAlive() != nil {
		return false
	}
	op := newOp(opSingleStep)
	op.tid, op.signal = tid, normalizeSignal(signal)
	m.f.submitOp(op)
	if op.ok {
		m.clearDelivered(tid)
	}
	return op.ok
}

func normalizeSignal(sig int) int {
	if sig == InvalidSignal {
		return 0
	}
	return sig
}

// GetSignalInfo returns the siginfo_t describing tid's pending stop
// signal, or an error (with errno) on failure.
func (m *Monitor) GetSignalInfo(tid int) (*Siginfo, bool, error) {
	if err := m.checkAlive(); err != nil {
		return nil, false, err
	}
	op := newOp(opGetSignalInfo)
	op.tid = tid
	m.f.submitOp(op)
	return op.siginfo, op.ok, op.err
}

// GetEventMessage returns the kernel's per-event auxiliary word for
// tid's most recent ptrace event (new child tid on clone, exit status
// on the exit-trap).
func (m *Monitor) GetEventMessage(tid int) (uint64, bool) {
	if m.checkAlive() != nil {
		return 0, false
	}
	op := newOp(opGetEventMessage)
	op.tid = tid
	m.f.submitOp(op)
	return op.eventMsg, op.ok
}

// Detach releases tid from ptrace without affecting the rest of the
// thread group; the caller sequences a full-group detach itself.
func (m *Monitor) Detach(tid int) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	op := newOp(opDetach)
	op.tid = tid
	m.f.submitOp(op)
	m.removeThread(tid)
	return op.err
}
