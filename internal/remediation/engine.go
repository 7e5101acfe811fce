package remediation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// DefaultMaxAttempts is the number of executor invocations per stage.
const DefaultMaxAttempts = 3

// Executor runs the test command once and classifies the output.
type Executor interface {
	Run(ctx context.Context, command, dir string) (models.ValidationResult, error)
}

// Config configures the remediation loop.
type Config struct {
	// Command is the test command.
	Command string
	// RepoPath is the repository checkout the command runs in.
	RepoPath string
	// MaxAttempts bounds executor invocations per stage (default: 3).
	MaxAttempts int
	// Policy is the repair applied to every missing dependency.
	Policy Policy
	// Aliases maps module names onto package names for install/reinstall.
	Aliases map[string]string
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: DefaultMaxAttempts,
		Policy:      PolicyReinstall,
	}
}

// Engine runs the test command and repairs missing dependencies until none
// remain or the attempt budget is spent. It never touches application code.
type Engine struct {
	cfg      Config
	executor Executor
	packages PackageManager
	stubs    *StubWriter
	events   *report.EventLog
	logger   *zap.Logger
}

// NewEngine creates a remediation engine.
func NewEngine(cfg Config, executor Executor, packages PackageManager, events *report.EventLog, logger *zap.Logger) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyReinstall
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		executor: executor,
		packages: packages,
		stubs:    NewStubWriter(cfg.RepoPath),
		events:   events,
		logger:   logger.Named("remediation"),
	}
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run performs one validation stage. It invokes the executor at most
// MaxAttempts times. Running out of attempts with dependencies still missing
// is reported through Unresolved, not as an error. Errors are reserved for
// executor failures (launch, timeout, cancellation).
func (e *Engine) Run(ctx context.Context, stage models.Stage) (models.RemediationOutcome, error) {
	outcome := models.RemediationOutcome{Stage: stage}
	acted := make(map[string]bool)

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		res, err := e.executor.Run(ctx, e.cfg.Command, e.cfg.RepoPath)
		outcome.Executions++
		if outcome.Executions == 1 {
			outcome.Baseline = res
		}
		outcome.Final = res

		e.events.Emit(report.EventExecution,
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Int("exit_code", res.ExitCode),
			zap.Int("errors", res.ErrorCount),
			zap.Strings("missing", res.MissingDependencies))

		if err != nil {
			return outcome, fmt.Errorf("%s attempt %d: %w", stage, attempt, err)
		}

		if len(res.MissingDependencies) == 0 {
			outcome.Attempts = append(outcome.Attempts, models.RemediationAttempt{
				Attempt: attempt,
				Action:  models.ActionNone,
			})
			return outcome, nil
		}

		if attempt == e.cfg.MaxAttempts {
			outcome.Attempts = append(outcome.Attempts, models.RemediationAttempt{
				Attempt: attempt,
				Action:  models.ActionNone,
			})
			outcome.Unresolved = append([]string(nil), res.MissingDependencies...)
			e.logger.Warn("remediation budget exhausted",
				zap.String("stage", string(stage)),
				zap.Int("attempts", attempt),
				zap.Strings("unresolved", outcome.Unresolved))
			break
		}

		rec, err := e.repair(ctx, attempt, res.MissingDependencies)
		outcome.Attempts = append(outcome.Attempts, rec)
		for _, dep := range rec.ActedOn {
			if !acted[dep] {
				acted[dep] = true
				outcome.ActedOn = append(outcome.ActedOn, dep)
			}
		}

		e.events.Emit(report.EventRemediationAttempt,
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.String("action", string(rec.Action)),
			zap.Strings("acted_on", rec.ActedOn),
			zap.Strings("failed", rec.Failed))

		if err != nil {
			return outcome, err
		}
	}

	return outcome, nil
}

// repair applies the policy to every missing dependency. A failing package
// manager is recorded and the loop moves on; only timeouts and cancellation
// abort the stage.
func (e *Engine) repair(ctx context.Context, attempt int, missing []string) (models.RemediationAttempt, error) {
	rec := models.RemediationAttempt{Attempt: attempt, Action: e.cfg.Policy.Action()}

	for _, dep := range missing {
		if err := errkind.FromContext(ctx, "remediation"); err != nil {
			return rec, err
		}

		var err error
		switch e.cfg.Policy {
		case PolicyStub:
			err = e.stub(dep)
		case PolicyReinstall:
			err = e.reinstall(ctx, dep)
		default:
			err = e.install(ctx, dep)
		}
		rec.ActedOn = append(rec.ActedOn, dep)

		if err != nil {
			if kind := errkind.KindOf(err); kind == errkind.Timeout || kind == errkind.Canceled {
				return rec, err
			}
			rec.Failed = append(rec.Failed, dep)
			e.logger.Warn("repair failed",
				zap.String("module", dep),
				zap.String("policy", string(e.cfg.Policy)),
				zap.Error(err))
		}
	}
	return rec, nil
}

func (e *Engine) install(ctx context.Context, module string) error {
	pkg := PackageName(module, e.cfg.Aliases)
	err := e.packages.Install(ctx, pkg)
	e.events.Emit(report.EventPipInstall, zap.String("module", module), zap.String("package", pkg), errField(err))
	return err
}

func (e *Engine) reinstall(ctx context.Context, module string) error {
	pkg := PackageName(module, e.cfg.Aliases)
	err := e.packages.Uninstall(ctx, pkg)
	e.events.Emit(report.EventPipUninstall, zap.String("module", module), zap.String("package", pkg), errField(err))
	if kind := errkind.KindOf(err); kind == errkind.Timeout || kind == errkind.Canceled {
		return err
	}
	// Uninstalling a package that was never installed fails; the install still matters.
	return e.install(ctx, module)
}

func (e *Engine) stub(module string) error {
	created, err := e.stubs.Create(module)
	e.events.Emit(report.EventStubCreated, zap.String("module", module), zap.Strings("paths", created), errField(err))
	return err
}

func errField(err error) zap.Field {
	if err == nil {
		return zap.Skip()
	}
	return zap.String("error", err.Error())
}
