package inferior

import "fmt"

// ErrProcessExited indicates that the process the caller asked about
// has already exited, grounded on delve's proc.ErrProcessExited
// (pkg/proc/target.go) and widened to an inferior-monitor-specific
// name so package monitor's errors don't alias a debugger-shaped type.
type ErrProcessExited struct {
	PID    int
	Status int
}

func (e ErrProcessExited) Error() string {
	return fmt.Sprintf("inferior monitor: process %d has exited with status %d", e.PID, e.Status)
}

// TraceError wraps a failed ptrace(2) request with the request's name
// and the errno the kernel returned. Errno is unwrapped via
// errors.As/Unwrap so callers can still test for a specific
// syscall.Errno.
type TraceError struct {
	Request string
	TID     int
	Errno   error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("inferior monitor: %s(tid=%d): %v", e.Request, e.TID, e.Errno)
}

func (e *TraceError) Unwrap() error { return e.Errno }

// WaitInterrupted reports a transient EINTR on the wait task's wait4
// that was not the Monitor's own shutdown signal. The wait task
// retries these, logging each one under the process category; this
// type exists for diagnostics, not for callers to act on.
type WaitInterrupted struct {
	PID int
}

func (e WaitInterrupted) Error() string {
	return fmt.Sprintf("inferior monitor: wait4(%d) interrupted", e.PID)
}

// GroupStopError reports that a thread is in a job-control group-stop
// rather than a ptrace-stop, surfaced by PTRACE_GETSIGINFO failing
// with EINVAL, the kernel's only signal that a group-stop rather than
// a trace-stop is in effect.
type GroupStopError struct {
	TID int
}

func (e GroupStopError) Error() string {
	return fmt.Sprintf("inferior monitor: tid %d is in a group-stop, not a trace-stop", e.TID)
}

// LaunchError reports that starting the inferior failed, at any point
// from opening its stdio redirects through installing the trace
// options after the kernel's post-exec SIGTRAP. Stage names the step that failed, so a caller logging this
// error doesn't have to pick it out of a free-form message.
type LaunchError struct {
	Path  string
	Stage string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("inferior monitor: launching %q: %s: %v", e.Path, e.Stage, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TaskVanished reports that a task disappeared (ESRCH) between being
// named and being operated on, a routine, not exceptional, occurrence
// during attach and clone reconciliation.
type TaskVanished struct {
	TID int
}

func (e TaskVanished) Error() string {
	return fmt.Sprintf("inferior monitor: tid %d vanished", e.TID)
}
