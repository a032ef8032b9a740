package monitor

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	isatty "github.com/mattn/go-isatty"
	sys "golang.org/x/sys/unix"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/ptrace"
)

const (
	personalityGetPersonality = 0xffffffff // arg to the personality(2) syscall that just reads the current value
	addrNoRandomize           = 0x0040000  // ADDR_NO_RANDOMIZE, the ASLR-disabling personality bit
)

// defaultTraceOptions is installed on every tracee right after its
// first trap, so that clones, execs and the exit-trap all surface as
// classified ptrace events instead of plain group-stops.
const defaultTraceOptions = sys.PTRACE_O_TRACECLONE | sys.PTRACE_O_TRACEVFORK | sys.PTRACE_O_TRACEEXEC | sys.PTRACE_O_TRACEEXIT

// Launch starts a new inferior under ptrace and returns a Monitor
// observing it. Grounded on delve's
// native.Launch (proc_linux.go), generalized in two ways: the PTY this
// package's teacher only allocated in its own tests is promoted here
// to the normal launch path (every launched inferior gets a
// controlling terminal unless its streams are fully redirected), and
// the new thread is left at its initial stop rather than resumed,
// consistent with the rest of the Monitor's mechanism-not-policy
// stance.
func Launch(args inferior.LaunchArgs, sink inferior.EventSink, factory inferior.ThreadFactory) (*Monitor, error) {
	if args.Path == "" {
		return nil, fmt.Errorf("inferior monitor: launch requires a path")
	}

	foreground := args.Flags&inferior.LaunchForeground != 0

	stdin, stdout, stderr, ptyMaster, usingPty, closeStreams, err := openStreams(args)
	if err != nil {
		return nil, &inferior.LaunchError{Path: args.Path, Stage: "opening stdio redirects", Err: err}
	}
	if stdin == nil || !isatty.IsTerminal(stdin.Fd()) {
		foreground = false
	}

	m := newMonitor(sink, factory)
	m.pty = ptyMaster
	m.childProcess = true

	var proc *os.Process
	var startErr error
	// The fork+exec itself must run on the funnel's owner task: Linux
	// binds PTRACE_TRACEME, which the child issues against itself right
	// after fork and before exec, to whichever OS thread is its parent
	// at that instant. Every later ptrace(2) call against this pid has
	// to come from that exact thread (package ptrace's doc comment),
	// so fork/exec has to happen there too, not on whatever thread the
	// calling goroutine happened to be scheduled on.
	m.f.execFunc(func() {
		var restorePersonality func()
		if args.Flags&inferior.LaunchDisableASLR != 0 {
			old, _, perr := syscall.Syscall(sys.SYS_PERSONALITY, personalityGetPersonality, 0, 0)
			if perr == syscall.Errno(0) {
				syscall.Syscall(sys.SYS_PERSONALITY, old|addrNoRandomize, 0, 0)
				restorePersonality = func() { syscall.Syscall(sys.SYS_PERSONALITY, old, 0, 0) }
			}
		}

		cmd := exec.Command(args.Path, args.Args...)
		cmd.Env = args.Env
		cmd.Dir = args.Dir
		cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Ptrace:     true,
			Setpgid:    !usingPty,
			Setsid:     usingPty,
			Setctty:    usingPty,
			Foreground: foreground,
		}
		if foreground {
			signal.Ignore(syscall.SIGTTOU, syscall.SIGTTIN)
		}
		startErr = cmd.Start()
		if startErr == nil {
			proc = cmd.Process
		}
		if restorePersonality != nil {
			restorePersonality()
		}
	})
	closeStreams()
	if startErr != nil {
		m.f.stop()
		return nil, &inferior.LaunchError{Path: args.Path, Stage: "fork/exec", Err: startErr}
	}

	m.pid = proc.Pid
	m.mu.Lock()
	th := m.addThreadLocked(m.pid)
	th.running = true
	m.mu.Unlock()

	// Every TRACEME tracee takes an implicit SIGTRAP at its first exec,
	// whether or not PTRACE_O_TRACEEXEC is set yet; that is the stop
	// this wait is for.
	var status sys.WaitStatus
	if _, werr := sys.Wait4(m.pid, &status, sys.WALL, nil); werr != nil {
		m.f.stop()
		return nil, &inferior.LaunchError{Path: args.Path, Stage: "waiting for initial exec stop", Err: werr}
	}

	var serr error
	m.f.execFunc(func() { serr = ptrace.SetOptions(m.pid, defaultTraceOptions) })
	if serr != nil {
		m.f.stop()
		return nil, &inferior.LaunchError{Path: args.Path, Stage: "setting trace options", Err: serr}
	}

	m.markInitialStopped(m.pid)
	m.markDelivered(m.pid)
	m.startWaitLoop()
	sink.SendMessage(inferior.Message{Kind: inferior.MsgTrace, PID: m.pid})

	return m, nil
}

// openStreams resolves LaunchArgs' stdio configuration into concrete
// files. A pseudo-terminal is always allocated (grounded on delve's
// debugger_unix_test.go use of creack/pty, generalized from a
// test-only fixture to the Monitor's normal launch path, since an
// inferior under interactive single-stepping needs a controlling
// terminal as much as a test harness does); any stream the caller
// explicitly redirected is opened in its place. usingPty reports
// whether at least one of the three streams still resolves to the
// pty's slave side, which decides whether the child should acquire it
// as a controlling terminal.
func openStreams(args inferior.LaunchArgs) (stdin, stdout, stderr, master *os.File, usingPty bool, closeFn func(), err error) {
	master, slave, perr := pty.Open()
	if perr != nil {
		return nil, nil, nil, nil, false, func() {}, fmt.Errorf("allocating pty: %w", perr)
	}

	var opened []*os.File
	opened = append(opened, slave)
	cleanup := func() {
		master.Close()
		for _, f := range opened {
			f.Close()
		}
	}

	stdin, stdout, stderr = slave, slave, slave

	if args.StdinPath != "" {
		f, oerr := os.Open(args.StdinPath)
		if oerr != nil {
			cleanup()
			return nil, nil, nil, nil, false, func() {}, oerr
		}
		stdin = f
		opened = append(opened, f)
	}
	if args.Stdout.Path != "" {
		f, oerr := os.OpenFile(args.Stdout.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if oerr != nil {
			cleanup()
			return nil, nil, nil, nil, false, func() {}, oerr
		}
		stdout = f
		opened = append(opened, f)
	}
	if args.Stderr.Path != "" {
		f, oerr := os.OpenFile(args.Stderr.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
		if oerr != nil {
			cleanup()
			return nil, nil, nil, nil, false, func() {}, oerr
		}
		stderr = f
		opened = append(opened, f)
	}
	usingPty = stdin == slave || stdout == slave || stderr == slave

	closeFn = func() {
		for _, f := range opened {
			f.Close()
		}
	}
	return stdin, stdout, stderr, master, usingPty, closeFn, nil
}
