// Package logflags holds the Monitor's logging category toggles,
// following delve's pkg/logflags: a package-level boolean per
// category, a Setup function that parses a comma-separated category
// list, and a *logrus.Entry factory per category. Four categories are
// defined (trace-syscall, memory, registers, process), each with a
// short/long verbosity variant; verbosity is modeled here
// as a second boolean per category rather than a second category name,
// since "short" and "long" are degrees of the same category, not
// independent switches a caller would enable separately.
package logflags

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	traceSyscall      bool
	traceSyscallLong  bool
	memory            bool
	memoryLong        bool
	registers         bool
	registersLong     bool
	process           bool
	processLong       bool
	shortByteBudget = 32
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Out = os.Stderr
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// TraceSyscall reports whether ptrace(2) requests should be logged.
func TraceSyscall() bool { return traceSyscall }

// TraceSyscallLong reports whether ptrace(2) logging should include
// full argument/result bytes rather than the bounded "short" form.
func TraceSyscallLong() bool { return traceSyscallLong }

// TraceSyscallLogger returns a configured logger for package ptrace.
func TraceSyscallLogger() *logrus.Entry {
	return makeLogger(traceSyscall, logrus.Fields{"layer": "ptrace"})
}

// Memory reports whether memory peek/poke operations should be logged.
func Memory() bool { return memory }

// MemoryLong reports whether memory logging should dump full transfer
// bytes rather than the bounded "short" form.
func MemoryLong() bool { return memoryLong }

// MemoryLogger returns a configured logger for monitor/memory.go.
func MemoryLogger() *logrus.Entry {
	return makeLogger(memory, logrus.Fields{"layer": "monitor", "kind": "memory"})
}

// Registers reports whether register read/write operations should be
// logged.
func Registers() bool { return registers }

// RegistersLong reports whether register logging should include full
// register-set buffers rather than the bounded "short" form.
func RegistersLong() bool { return registersLong }

// RegistersLogger returns a configured logger for monitor/registers.go.
func RegistersLogger() *logrus.Entry {
	return makeLogger(registers, logrus.Fields{"layer": "monitor", "kind": "registers"})
}

// Process reports whether lifecycle and wait-loop events should be
// logged.
func Process() bool { return process }

// ProcessLong reports whether process-event logging should include
// full siginfo/status dumps rather than the bounded "short" form.
func ProcessLong() bool { return processLong }

// ProcessLogger returns a configured logger for the wait loop and
// lifecycle controller.
func ProcessLogger() *logrus.Entry {
	return makeLogger(process, logrus.Fields{"layer": "monitor", "kind": "process"})
}

// ShortByteBudget returns the byte budget the "short" memory/register
// logging variant is bounded to.
func ShortByteBudget() int { return shortByteBudget }

// Setup sets the Monitor's logging flags based on the contents of
// logstr, a comma-separated list of category names. A bare category
// name ("memory") enables the short variant; appending ":long"
// ("memory:long") enables the long variant instead. logFlag gates
// logging entirely, mirroring delve's own --log/--log-output pair.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		return nil
	}
	if logstr == "" {
		logstr = "process"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		name, long := logcmd, false
		if cut, ok := strings.CutSuffix(logcmd, ":long"); ok {
			name, long = cut, true
		}
		switch name {
		case "trace-syscall":
			traceSyscall = true
			traceSyscallLong = long
		case "memory":
			memory = true
			memoryLong = long
		case "registers":
			registers = true
			registersLong = long
		case "process":
			process = true
			processLong = long
		}
	}
	return nil
}
