package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/api"
	iexec "github.com/ShayCichocki/verifix/internal/exec"
	"github.com/ShayCichocki/verifix/internal/git"
	"github.com/ShayCichocki/verifix/internal/patch"
	"github.com/ShayCichocki/verifix/internal/remediation"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/internal/state"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// RequiredConfig contains the minimal required configuration for a Cycle.
type RequiredConfig struct {
	// RepoPath is the repository checkout the cycle works on.
	RepoPath string
	// Command is the test command, run through the shell.
	Command string
	// Strategy selects how the cycle changes the code.
	Strategy models.Strategy
}

// ReasonerFactory builds the reasoning-service client for agent strategies.
type ReasonerFactory func(ctx context.Context) (api.Reasoner, error)

// Patcher applies the structural patch.
type Patcher interface {
	Apply(ctx context.Context, root string, recipe patch.Recipe) (models.PatchRecord, error)
}

// History records runs. Failures are logged and never abort a run.
type History interface {
	CreateRun(r *state.Run) error
	FinishRun(r *state.Run) error
}

// AgentSettings bounds the tool-dispatch loop.
type AgentSettings struct {
	// Task is the statement handed to the reasoner.
	Task string
	// Model names the reasoner model in the run_started event.
	Model             string
	MaxIterations     int
	RequestsPerMinute int
	RequestTimeout    time.Duration
	BashTimeout       time.Duration
	// Protected lists globs the file tools refuse to modify. Empty keeps
	// the defaults (.git and .verifix).
	Protected []string
}

// Option configures a Cycle. Use With* functions to create Options.
type Option func(*cycleOptions)

// cycleOptions holds all optional configuration.
type cycleOptions struct {
	runID       string
	taskID      string
	logger      *zap.Logger
	reporter    *report.Reporter
	execRunner  iexec.CommandRunner
	executor    remediation.Executor
	packages    remediation.PackageManager
	remediation remediation.Config
	recipe      patch.Recipe
	patcher     Patcher
	agent       AgentSettings
	reasoner    ReasonerFactory
	credential  func() error
	diff        git.DiffSource
	signals     api.Signals
	history     History
	now         func() time.Time
}

// WithRunID fixes the run id. By default a ULID is generated.
func WithRunID(id string) Option {
	return func(o *cycleOptions) { o.runID = id }
}

// WithTaskID records the task id in the run history.
func WithTaskID(id string) Option {
	return func(o *cycleOptions) { o.taskID = id }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *cycleOptions) { o.logger = l }
}

// WithReporter sets the artifact reporter and, through it, the event log.
func WithReporter(r *report.Reporter) Option {
	return func(o *cycleOptions) { o.reporter = r }
}

// WithExecRunner sets the process runner used by the default executor,
// package manager, git and run_bash.
func WithExecRunner(r iexec.CommandRunner) Option {
	return func(o *cycleOptions) { o.execRunner = r }
}

// WithExecutor sets the test executor.
func WithExecutor(e remediation.Executor) Option {
	return func(o *cycleOptions) { o.executor = e }
}

// WithPackageManager sets the package manager used for remediation.
func WithPackageManager(p remediation.PackageManager) Option {
	return func(o *cycleOptions) { o.packages = p }
}

// WithRemediation sets the attempt budget, policy and aliases. Command and
// RepoPath are taken from RequiredConfig.
func WithRemediation(cfg remediation.Config) Option {
	return func(o *cycleOptions) { o.remediation = cfg }
}

// WithRecipe sets the structural patch recipe.
func WithRecipe(r patch.Recipe) Option {
	return func(o *cycleOptions) { o.recipe = r }
}

// WithPatcher replaces the patch applier (mainly for testing).
func WithPatcher(p Patcher) Option {
	return func(o *cycleOptions) { o.patcher = p }
}

// WithAgent sets the tool-dispatch loop bounds.
func WithAgent(s AgentSettings) Option {
	return func(o *cycleOptions) { o.agent = s }
}

// WithReasoner sets the reasoner factory used by agent strategies.
func WithReasoner(f ReasonerFactory) Option {
	return func(o *cycleOptions) { o.reasoner = f }
}

// WithCredentialCheck sets the check run before any work when the strategy
// uses the reasoning service.
func WithCredentialCheck(check func() error) Option {
	return func(o *cycleOptions) { o.credential = check }
}

// WithDiffSource sets the working-tree diff source.
func WithDiffSource(d git.DiffSource) Option {
	return func(o *cycleOptions) { o.diff = d }
}

// WithSignals sets the stop and pause signals polled between agent turns.
func WithSignals(s api.Signals) Option {
	return func(o *cycleOptions) { o.signals = s }
}

// WithHistory sets the run history store.
func WithHistory(h History) Option {
	return func(o *cycleOptions) { o.history = h }
}

// withClock overrides time.Now in tests.
func withClock(now func() time.Time) Option {
	return func(o *cycleOptions) { o.now = now }
}
