package remediation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/exec"
)

// DefaultPackageTimeout bounds a single package-manager invocation.
const DefaultPackageTimeout = 5 * time.Minute

// PackageManager installs and removes third-party packages.
type PackageManager interface {
	Install(ctx context.Context, pkg string) error
	Uninstall(ctx context.Context, pkg string) error
}

// Pip drives "python -m pip".
type Pip struct {
	runner  exec.CommandRunner
	python  string
	workDir string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPip creates a pip package manager. An empty python selects "python".
func NewPip(runner exec.CommandRunner, python, workDir string, timeout time.Duration, logger *zap.Logger) *Pip {
	if python == "" {
		python = "python"
	}
	if timeout <= 0 {
		timeout = DefaultPackageTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pip{
		runner:  runner,
		python:  python,
		workDir: workDir,
		timeout: timeout,
		logger:  logger.Named("pip"),
	}
}

// Install runs "pip install pkg".
func (p *Pip) Install(ctx context.Context, pkg string) error {
	return p.run(ctx, "install", pkg)
}

// Uninstall runs "pip uninstall -y pkg".
func (p *Pip) Uninstall(ctx context.Context, pkg string) error {
	return p.run(ctx, "uninstall", "-y", pkg)
}

func (p *Pip) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	full := append([]string{"-m", "pip"}, args...)
	res, err := p.runner.Run(ctx, p.workDir, p.python, full...)
	if err != nil {
		return fmt.Errorf("pip %s: %w", strings.Join(args, " "), err)
	}
	if res.ExitCode != 0 {
		p.logger.Debug("pip exited non-zero",
			zap.Strings("args", args),
			zap.Int("exit_code", res.ExitCode),
			zap.String("stderr", lastLines(res.Stderr, 5)))
		return fmt.Errorf("pip %s: exit status %d: %s", strings.Join(args, " "), res.ExitCode, lastLines(res.Stderr, 3))
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var _ PackageManager = (*Pip)(nil)
