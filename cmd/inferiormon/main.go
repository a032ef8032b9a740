package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"

	sys "golang.org/x/sys/unix"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traceharbor/inferior/inferior"
	"github.com/traceharbor/inferior/internal/logflags"
	"github.com/traceharbor/inferior/monitor"
)

var logFlag bool
var logStr string

func main() {
	rootCommand := &cobra.Command{
		Use:   "inferiormon",
		Short: "inferiormon drives an inferior process monitor from the command line.",
	}
	rootCommand.PersistentFlags().BoolVar(&logFlag, "log", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVar(&logStr, "log-dest", "", "Log output categories, comma-separated (trace-syscall, memory, registers, process); append :long for verbose output.")

	runCommand := &cobra.Command{
		Use:   "run <path> [args...]",
		Short: "Launch a program under the monitor and print every lifecycle message it reports.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logflags.Setup(logFlag, logStr)
			sink := newPrintSink()
			m, err := monitor.Launch(inferior.LaunchArgs{
				Path: args[0],
				Args: args,
			}, sink, sink)
			if err != nil {
				return err
			}
			sink.bind(m)
			return run(m, sink)
		},
	}
	rootCommand.AddCommand(runCommand)

	attachCommand := &cobra.Command{
		Use:   "attach <pid>",
		Short: "Attach the monitor to a running process and print every lifecycle message it reports.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logflags.Setup(logFlag, logStr)
			pid, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid pid %q", args[0])
			}
			sink := newPrintSink()
			m, err := monitor.Attach(pid, sink, sink)
			if err != nil {
				return err
			}
			sink.bind(m)
			return run(m, sink)
		},
	}
	rootCommand.AddCommand(attachCommand)

	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}

// run resumes the inferior's lead thread and blocks until the monitor
// reports the process has exited or an interrupt asks it to detach.
func run(m *monitor.Monitor, sink *printSink) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, sys.SIGINT)
	go func() {
		<-sigc
		fmt.Fprintln(os.Stderr, "inferiormon: detaching")
		m.DetachAll(false)
		sink.once.Do(func() { close(sink.done) })
	}()

	m.Resume(m.Pid(), monitor.InvalidSignal)
	<-sink.done
	return nil
}

// printSink is the demo CLI's EventSink/ThreadFactory: it only prints
// every Message it receives and resumes the thread that reported it,
// a policy-free "keep running" loop that exercises every Kind without
// implementing a real debugger's breakpoint bookkeeping.
type printSink struct {
	mu   sync.Mutex
	m    *monitor.Monitor
	done chan struct{}
	once sync.Once
}

func newPrintSink() *printSink {
	return &printSink{done: make(chan struct{})}
}

func (s *printSink) bind(m *monitor.Monitor) {
	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
}

func (s *printSink) SendMessage(msg inferior.Message) {
	fmt.Println(msg.String())
	switch msg.Kind {
	case inferior.MsgExit:
		s.once.Do(func() { close(s.done) })
	case inferior.MsgCrash:
		logrus.WithField("layer", "inferiormon").Errorf("inferior crashed: %s", msg)
		s.once.Do(func() { close(s.done) })
	default:
		s.resume(msg)
	}
}

func (s *printSink) resume(msg inferior.Message) {
	s.mu.Lock()
	m := s.m
	s.mu.Unlock()
	if m == nil {
		return
	}
	switch msg.Kind {
	case inferior.MsgNewThread:
		m.Resume(msg.ChildTID, monitor.InvalidSignal)
		m.Resume(msg.ParentPID, monitor.InvalidSignal)
	case inferior.MsgSignal:
		m.Resume(msg.PID, msg.Signo)
	default:
		m.Resume(msg.PID, monitor.InvalidSignal)
	}
}

func (s *printSink) CreateNewPOSIXThread(tid int) {}

func (s *printSink) AddThreadForInitialStopIfNeeded(tid int) {}
