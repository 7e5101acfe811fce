// Package exec runs external commands with separated output streams,
// explicit deadlines and typed launch failures.
package exec

import (
	"context"
	"time"
)

// Result is the captured outcome of one command.
type Result struct {
	// Stdout is the verbatim standard output.
	Stdout string
	// Stderr is the verbatim standard error.
	Stderr string
	// ExitCode is the process exit status, -1 if the process never exited normally.
	ExitCode int
	// Duration is the wall-clock run time.
	Duration time.Duration
	// TimedOut is set when the deadline killed the process.
	TimedOut bool
}

// Combined returns stdout followed by stderr.
func (r Result) Combined() string {
	return r.Stdout + r.Stderr
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command to completion. A non-zero exit is reported in
	// Result.ExitCode with a nil error; errors are reserved for launch
	// failures, timeouts and cancellation.
	Run(ctx context.Context, workDir string, name string, args ...string) (Result, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (Result, error)

	// Exists checks if a file exists at the given path.
	// The working directory is set to workDir if non-empty.
	Exists(ctx context.Context, workDir string, path string) bool
}
