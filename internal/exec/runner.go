package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

// waitDelay bounds how long Wait blocks on output pipes after the process is killed.
const waitDelay = 5 * time.Second

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment of every command.
	Env []string
}

// NewRunner creates a new ExecRunner.
func NewRunner(env ...string) *ExecRunner {
	return &ExecRunner{Env: env}
}

// Run executes a command and captures stdout and stderr separately.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, errkind.New(errkind.LaunchFailed, "exec "+name, err)
	}
	waitErr := cmd.Wait()

	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(cmd, waitErr),
		Duration: time.Since(start),
	}

	if ctxErr := errkind.FromContext(ctx, "exec "+name); ctxErr != nil {
		res.TimedOut = errkind.Is(ctxErr, errkind.Timeout)
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, errkind.New(errkind.LaunchFailed, "exec "+name, waitErr)
	}
	return res, nil
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) (Result, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Exists checks if a file exists at the given path.
func (r *ExecRunner) Exists(_ context.Context, workDir string, path string) bool {
	if !filepath.IsAbs(path) && workDir != "" {
		path = filepath.Join(workDir, path)
	}
	_, err := os.Stat(path)
	return err == nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err == nil {
		return 0
	}
	return -1
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
