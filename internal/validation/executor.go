package validation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/exec"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// Shell exit statuses for "found but not executable" and "not found".
const (
	exitNotExecutable = 126
	exitNotFound      = 127
)

// DefaultTimeout bounds a single test-command execution.
const DefaultTimeout = 10 * time.Minute

// Executor runs the configured test command and classifies its output.
type Executor struct {
	runner     exec.CommandRunner
	classifier *Classifier
	timeout    time.Duration
	logger     *zap.Logger
}

// NewExecutor creates an executor. A zero timeout selects DefaultTimeout.
func NewExecutor(runner exec.CommandRunner, classifier *Classifier, timeout time.Duration, logger *zap.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if classifier == nil {
		classifier = NewClassifier()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:     runner,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.Named("executor"),
	}
}

// Run executes command through "sh -c" in dir and returns a fresh result.
//
// A command the shell cannot launch is reported as errkind.LaunchFailed.
// A deadline returns errkind.Timeout together with the partial result.
func (e *Executor) Run(ctx context.Context, command, dir string) (models.ValidationResult, error) {
	if strings.TrimSpace(command) == "" {
		return models.ValidationResult{}, errkind.Errorf(errkind.Config, "executor", "test command is empty")
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	res, err := e.runner.RunShell(runCtx, dir, command)
	result := e.build(res)

	if err != nil {
		e.logger.Warn("test command did not complete",
			zap.String("command", command),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return result, err
	}

	if res.ExitCode == exitNotExecutable || res.ExitCode == exitNotFound {
		return result, errkind.Errorf(errkind.LaunchFailed, "executor",
			"shell could not launch %q (exit %d): %s", command, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	e.logger.Debug("test command finished",
		zap.Int("exit_code", result.ExitCode),
		zap.Int("errors", result.ErrorCount),
		zap.Int("passed", result.PassCount),
		zap.Strings("missing", result.MissingDependencies),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (e *Executor) build(res exec.Result) models.ValidationResult {
	c := e.classifier.Classify(res.Stdout, res.Stderr)
	return models.ValidationResult{
		ExitCode:            res.ExitCode,
		Stdout:              res.Stdout,
		Stderr:              res.Stderr,
		ErrorCount:          c.ErrorCount,
		PassCount:           c.PassCount,
		WarningCount:        c.WarningCount,
		MissingDependencies: c.MissingDependencies,
		Duration:            res.Duration,
		TimedOut:            res.TimedOut,
	}
}
