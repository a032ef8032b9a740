package monitor

import (
	"unsafe"

	"github.com/traceharbor/inferior/internal/logflags"
	"github.com/traceharbor/inferior/ptrace"
)

// wordSize is the host pointer width, not the inferior's. Both sides
// of a ptrace(2) PEEKDATA/POKEDATA transfer must agree on this; this
// package only builds for amd64 (monitor_amd64.go) so the two always
// match.
const wordSize = unsafe.Sizeof(uintptr(0))

func logMemOp(op string, addr uintptr, data []byte, err error) {
	if !logflags.Memory() {
		return
	}
	log := logflags.MemoryLogger()
	budget := logflags.ShortByteBudget()
	if logflags.MemoryLong() || len(data) <= budget {
		log.Debugf("%s(addr=%#x, n=%d) = %x, err=%v", op, addr, len(data), data, err)
	} else {
		log.Debugf("%s(addr=%#x, n=%d) = <%d bytes>, err=%v", op, addr, len(data), len(data), err)
	}
}

// readMemory reads len(data) bytes from the inferior at addr using a
// word-sized peek loop, grounded on delve's (*Thread).ReadMemory (which
// delegates the per-word stepping to x/sys/unix's PtracePeekData).
// Failure aborts the loop; the bytes read so far are still returned.
func (m *Monitor) readMemory(addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	n, err := ptrace.PeekData(m.pid, addr, data)
	logMemOp("ReadMemory", addr, data[:max(0, min(n, len(data)))], err)
	return n, err
}

// writeMemory writes data into the inferior at addr. Aligned
// full-word regions are written directly via PTRACE_POKEDATA; a
// trailing partial word is preserved by reading the target word,
// overlaying the requested bytes, and writing it back. The
// read-modify-write recurses into readMemory/writeMemory themselves
// rather than calling package ptrace directly, so every call in the
// chain stays on the owner task.
func (m *Monitor) writeMemory(addr uintptr, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	full := (len(data) / int(wordSize)) * int(wordSize)
	written := 0
	if full > 0 {
		n, err := ptrace.PokeData(m.pid, addr, data[:full])
		written += n
		logMemOp("WriteMemory", addr, data[:full], err)
		if err != nil {
			return written, err
		}
	}

	rem := data[full:]
	if len(rem) == 0 {
		return written, nil
	}

	wordAddr := addr + uintptr(full)
	orig := make([]byte, wordSize)
	if _, err := m.readMemory(wordAddr, orig); err != nil {
		return written, err
	}
	copy(orig, rem)
	n, err := m.writeMemory(wordAddr, orig)
	if n > len(rem) {
		n = len(rem)
	}
	written += n
	return written, err
}
