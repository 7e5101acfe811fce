package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/api"
	"github.com/ShayCichocki/verifix/internal/errkind"
	iexec "github.com/ShayCichocki/verifix/internal/exec"
	"github.com/ShayCichocki/verifix/internal/git"
	"github.com/ShayCichocki/verifix/internal/patch"
	"github.com/ShayCichocki/verifix/internal/protect"
	"github.com/ShayCichocki/verifix/internal/remediation"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/internal/state"
	"github.com/ShayCichocki/verifix/internal/validation"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// Cycle runs one validation, remediation and verification pass.
type Cycle struct {
	req      RequiredConfig
	opts     cycleOptions
	engine   *remediation.Engine
	reporter *report.Reporter
	events   *report.EventLog
	logger   *zap.Logger
}

// NewCycle creates a cycle. Missing collaborators get production defaults:
// a shell executor with the default markers, pip, the tree-sitter patch
// applier, and git when RepoPath is a repository.
func NewCycle(req RequiredConfig, opts ...Option) *Cycle {
	o := cycleOptions{
		remediation: remediation.DefaultConfig(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("cycle")
	if o.reporter == nil {
		o.reporter = report.New(report.Paths{}, report.NopEventLog(), nil)
	}
	events := o.reporter.Events()
	if o.execRunner == nil {
		o.execRunner = iexec.NewRunner()
	}
	if o.executor == nil {
		o.executor = validation.NewExecutor(o.execRunner, validation.NewClassifier(), validation.DefaultTimeout, o.logger)
	}
	if o.packages == nil {
		o.packages = remediation.NewPip(o.execRunner, "", req.RepoPath, remediation.DefaultPackageTimeout, o.logger)
	}
	if o.patcher == nil {
		o.patcher = patch.NewApplier(events, o.logger)
	}
	if o.recipe.ClassHeader == "" {
		o.recipe = patch.DefaultRecipe()
	}
	if len(o.recipe.Include) == 0 {
		o.recipe.Include = patch.DefaultInclude
	}
	if o.diff == nil {
		if repo, err := git.Open(req.RepoPath, o.execRunner, o.logger); err == nil {
			o.diff = repo
		} else {
			logger.Warn("repository has no git work tree, diff will be empty",
				zap.String("repo", req.RepoPath), zap.Error(err))
		}
	}

	remCfg := o.remediation
	remCfg.Command = req.Command
	remCfg.RepoPath = req.RepoPath

	return &Cycle{
		req:      req,
		opts:     o,
		engine:   remediation.NewEngine(remCfg, o.executor, o.packages, events, o.logger),
		reporter: o.reporter,
		events:   events,
		logger:   logger,
	}
}

// strategyResult is what the strategy step hands to the verdict.
type strategyResult struct {
	patch      *models.PatchRecord
	agent      *models.AgentOutcome
	fixApplied bool
}

// Run executes the cycle. A fatal error returns the partial report together
// with the error; the results artifact then carries the fatal reason.
func (c *Cycle) Run(ctx context.Context) (models.RunReport, error) {
	start := c.opts.now()
	runID := c.opts.runID
	if runID == "" {
		runID = ulid.Make().String()
	}
	rep := models.RunReport{RunID: runID, Strategy: c.req.Strategy, StartedAt: start}
	run := &state.Run{
		ID:       runID,
		RepoPath: c.req.RepoPath,
		TaskID:   c.opts.taskID,
		Strategy: string(c.req.Strategy),
		Model:    c.opts.agent.Model,
	}
	c.recordStart(run)

	if !c.req.Strategy.Valid() {
		return c.fail(rep, run, errkind.Errorf(errkind.Config, "cycle", "unknown strategy %q", c.req.Strategy))
	}

	// Agent strategies need the credential before anything touches the tree.
	var reasoner api.Reasoner
	if c.req.Strategy.UsesAgent() {
		r, err := c.prepareReasoner(ctx)
		if err != nil {
			return c.fail(rep, run, err)
		}
		reasoner = r
	}

	if err := c.reporter.Reset(); err != nil {
		return c.fail(rep, run, fmt.Errorf("reset artifacts: %w", err))
	}
	if err := c.reporter.WritePrompt(c.instructions(runID)); err != nil {
		return c.fail(rep, run, fmt.Errorf("write prompt log: %w", err))
	}
	c.events.Emit(report.EventRunStarted,
		zap.String("run_id", runID),
		zap.String("repo", c.req.RepoPath),
		zap.String("strategy", string(c.req.Strategy)),
		zap.String("command", c.req.Command),
		zap.String("model", c.opts.agent.Model))
	c.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("strategy", string(c.req.Strategy)))

	base := c.snapshot(ctx)

	pre, err := c.validate(ctx, models.StagePre)
	if err != nil {
		return c.fail(rep, run, err)
	}
	rep.Pre = pre.Baseline.Summary()

	sr, err := c.applyStrategy(ctx, reasoner)
	rep.Patch = sr.patch
	if sr.agent != nil {
		rep.Agent = sr.agent.Summarize()
	}
	if err != nil {
		return c.fail(rep, run, err)
	}

	post, err := c.validate(ctx, models.StagePost)
	if err != nil {
		return c.fail(rep, run, err)
	}

	diff, stats := c.diff(ctx, base)

	final := models.Derive(pre.Baseline, post.Final, sr.fixApplied)
	final.RunID = runID
	final.Strategy = c.req.Strategy
	final.Patch = rep.Patch
	final.Agent = rep.Agent
	final.ChangeApplied = strings.TrimSpace(diff) != ""
	final.StartedAt = start
	final.Duration = c.opts.now().Sub(start)

	c.events.Emit(report.EventVerdict,
		zap.String("verdict", string(final.Verdict)),
		zap.Int("pre_errors", final.Pre.ErrorCount),
		zap.Int("post_errors", final.Post.ErrorCount),
		zap.Bool("fix_applied", final.FixApplied),
		zap.Bool("change_applied", final.ChangeApplied))

	if err := c.reporter.AppendConclusion(final.Verdict); err != nil {
		return c.fail(final, run, fmt.Errorf("write conclusion: %w", err))
	}
	results := report.FromReport(final)
	results.Diff = stats
	if err := c.reporter.WriteResults(results); err != nil {
		return c.fail(final, run, fmt.Errorf("write results: %w", err))
	}
	c.writeMetrics(final.Duration)

	c.events.Emit(report.EventRunComplete,
		zap.String("run_id", runID),
		zap.String("verdict", string(final.Verdict)),
		zap.Bool("succeeded", final.Succeeded()),
		zap.Duration("duration", final.Duration))
	c.logger.Info("run complete",
		zap.String("verdict", string(final.Verdict)),
		zap.Int("pre_errors", final.Pre.ErrorCount),
		zap.Int("post_errors", final.Post.ErrorCount),
		zap.Duration("duration", final.Duration))

	run.Record(final)
	c.recordFinish(run)
	return final, nil
}

// prepareReasoner checks the credential and builds the reasoner.
func (c *Cycle) prepareReasoner(ctx context.Context) (api.Reasoner, error) {
	if c.opts.credential != nil {
		if err := c.opts.credential(); err != nil {
			if errkind.KindOf(err) == "" {
				err = errkind.New(errkind.MissingCredential, "credential check", err)
			}
			return nil, err
		}
	}
	if c.opts.reasoner == nil {
		return nil, errkind.Errorf(errkind.Config, "cycle", "strategy %q needs a reasoner", c.req.Strategy)
	}
	r, err := c.opts.reasoner(ctx)
	if err != nil {
		return nil, fmt.Errorf("create reasoner: %w", err)
	}
	return r, nil
}

// validate runs one stage through the remediation engine and writes its log.
func (c *Cycle) validate(ctx context.Context, stage models.Stage) (models.RemediationOutcome, error) {
	outcome, err := c.engine.Run(ctx, stage)
	if err != nil {
		// Keep whatever the stage observed so the log shows the partial output.
		if outcome.Executions > 0 {
			if werr := c.reporter.WriteValidation(c.req.Command, outcome); werr != nil {
				c.logger.Warn("write validation log", zap.Error(werr))
			}
		}
		return outcome, err
	}
	if err := c.reporter.WriteValidation(c.req.Command, outcome); err != nil {
		return outcome, fmt.Errorf("write %s log: %w", stage, err)
	}
	c.reporter.Metrics().ObserveStage(outcome)

	res := outcome.Final
	c.events.Emit(report.EventValidation,
		zap.String("stage", string(stage)),
		zap.Int("exit_code", res.ExitCode),
		zap.Int("errors", res.ErrorCount),
		zap.Int("baseline_errors", outcome.Baseline.ErrorCount),
		zap.Int("passed", res.PassCount),
		zap.Int("warnings", res.WarningCount),
		zap.Int("executions", outcome.Executions),
		zap.Strings("modules_reinstalled", actedOn(outcome, models.ActionReinstall)),
		zap.Strings("modules_installed", actedOn(outcome, models.ActionInstall)),
		zap.Strings("modules_stubbed", actedOn(outcome, models.ActionStubCreated)),
		zap.Strings("unresolved", outcome.Unresolved))
	c.logger.Info("validation finished",
		zap.String("stage", string(stage)),
		zap.Int("errors", res.ErrorCount),
		zap.Int("passed", res.PassCount))
	return outcome, nil
}

// applyStrategy runs the configured strategy exactly once.
func (c *Cycle) applyStrategy(ctx context.Context, reasoner api.Reasoner) (strategyResult, error) {
	var sr strategyResult

	switch c.req.Strategy {
	case models.StrategyNone:
		return sr, nil

	case models.StrategyPatch:
		rec, err := c.opts.patcher.Apply(ctx, c.req.RepoPath, c.opts.recipe)
		if err != nil {
			return sr, err
		}
		sr.patch = &rec
		sr.fixApplied = rec.Applied
		return sr, nil

	case models.StrategyAgent:
		outcome, err := c.runAgent(ctx, reasoner)
		sr.agent = &outcome
		sr.fixApplied = outcome.Mutated
		return sr, err

	case models.StrategyBoth:
		rec, err := c.opts.patcher.Apply(ctx, c.req.RepoPath, c.opts.recipe)
		if err != nil {
			return sr, err
		}
		sr.patch = &rec
		sr.fixApplied = rec.Applied

		check, err := c.opts.executor.Run(ctx, c.req.Command, c.req.RepoPath)
		if err != nil {
			return sr, fmt.Errorf("check after patch: %w", err)
		}
		if check.Passed() {
			c.logger.Info("tests pass after patch, skipping agent loop")
			return sr, nil
		}

		outcome, err := c.runAgent(ctx, reasoner)
		sr.agent = &outcome
		sr.fixApplied = sr.fixApplied || outcome.Mutated
		if errkind.Is(err, errkind.ExternalService) {
			// The patch result stands on its own.
			c.events.Emit(report.EventStrategyError,
				zap.String("strategy", string(models.StrategyAgent)),
				zap.String("error", err.Error()))
			c.logger.Warn("agent loop failed, continuing with patch result", zap.Error(err))
			return sr, nil
		}
		return sr, err
	}

	return sr, errkind.Errorf(errkind.Config, "cycle", "unknown strategy %q", c.req.Strategy)
}

func (c *Cycle) runAgent(ctx context.Context, reasoner api.Reasoner) (models.AgentOutcome, error) {
	a := c.opts.agent
	loop := api.NewLoop(api.LoopConfig{
		Reasoner:          reasoner,
		Tools:             api.NewToolExecutor(c.req.RepoPath, c.opts.execRunner, a.BashTimeout).Protect(protect.New(a.Protected...)),
		Checker:           c.opts.executor,
		RepoPath:          c.req.RepoPath,
		TestCommand:       c.req.Command,
		Task:              a.Task,
		MaxIterations:     a.MaxIterations,
		RequestsPerMinute: a.RequestsPerMinute,
		RequestTimeout:    a.RequestTimeout,
		Signals:           c.opts.signals,
		Transcript:        c.reporter,
		Events:            c.events,
		Logger:            c.opts.logger,
	})
	outcome, err := loop.Run(ctx)
	c.reporter.Metrics().ObserveAgent(outcome)
	return outcome, err
}

// snapshot records the working tree the diff is taken against, including
// uncommitted work that predates the run.
func (c *Cycle) snapshot(ctx context.Context) git.Baseline {
	if c.opts.diff == nil {
		return git.Baseline{}
	}
	base, err := c.opts.diff.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("snapshot working tree", zap.Error(err))
		return git.Baseline{}
	}
	return base
}

// diff writes the diff artifact and returns the diff with its stats. A diff
// that cannot be produced is treated as empty.
func (c *Cycle) diff(ctx context.Context, base git.Baseline) (string, *report.DiffStats) {
	var text string
	if c.opts.diff != nil {
		d, err := c.opts.diff.Diff(ctx, base)
		if err != nil {
			c.logger.Warn("diff working tree", zap.Error(err))
		} else {
			text = d
		}
	}
	if err := c.reporter.WriteDiff(text); err != nil {
		c.logger.Warn("write diff artifact", zap.Error(err))
	}

	stats, err := report.ParseDiffStats(text)
	if err != nil {
		c.logger.Warn("parse diff stats", zap.Error(err))
		stats = nil
	}
	fields := []zap.Field{zap.Int("bytes", len(text)), zap.String("base", base.Commit)}
	if stats != nil {
		fields = append(fields,
			zap.Strings("files", stats.Files),
			zap.Int("added", stats.Added),
			zap.Int("deleted", stats.Deleted))
	}
	c.events.Emit(report.EventDiff, fields...)
	return text, stats
}

// fail records a fatal error in every artifact that is still writable.
func (c *Cycle) fail(rep models.RunReport, run *state.Run, err error) (models.RunReport, error) {
	kind := errkind.KindOf(err)
	c.events.Emit(report.EventFatal,
		zap.String("run_id", rep.RunID),
		zap.String("kind", string(kind)),
		zap.String("error", err.Error()))
	c.logger.Error("run aborted", zap.String("kind", string(kind)), zap.Error(err))

	results := report.FatalResults(rep.RunID, rep.Strategy, err)
	results.Patch = rep.Patch
	results.Agent = rep.Agent
	if werr := c.reporter.WriteResults(results); werr != nil {
		c.logger.Warn("write results", zap.Error(werr))
	}
	c.writeMetrics(c.opts.now().Sub(rep.StartedAt))

	run.Fail(err)
	c.recordFinish(run)
	return rep, err
}

func (c *Cycle) writeMetrics(d time.Duration) {
	m := c.reporter.Metrics()
	if m == nil {
		return
	}
	m.SetDuration(d)
	if err := c.reporter.WriteMetrics(); err != nil {
		c.logger.Warn("write metrics", zap.Error(err))
	}
}

func (c *Cycle) recordStart(run *state.Run) {
	if c.opts.history == nil {
		return
	}
	if err := c.opts.history.CreateRun(run); err != nil {
		c.logger.Warn("record run start", zap.Error(err))
	}
}

func (c *Cycle) recordFinish(run *state.Run) {
	if c.opts.history == nil {
		return
	}
	if err := c.opts.history.FinishRun(run); err != nil {
		c.logger.Warn("record run finish", zap.Error(err))
	}
}

// instructions is the header of the prompt log.
func (c *Cycle) instructions(runID string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", runID)
	fmt.Fprintf(&sb, "- repository: %s\n", c.req.RepoPath)
	fmt.Fprintf(&sb, "- strategy: %s\n", c.req.Strategy)
	fmt.Fprintf(&sb, "- test command: `%s`\n", c.req.Command)
	if c.req.Strategy != models.StrategyAgent && c.req.Strategy != models.StrategyNone {
		fmt.Fprintf(&sb, "- patch: %s\n", c.opts.recipe)
	}
	if task := strings.TrimSpace(c.opts.agent.Task); task != "" {
		fmt.Fprintf(&sb, "\n## Task\n\n%s\n", task)
	}
	sb.WriteString("\n")
	return sb.String()
}

// actedOn lists the modules repaired with the given action, in order.
func actedOn(outcome models.RemediationOutcome, action models.ActionKind) []string {
	var names []string
	for _, a := range outcome.Attempts {
		if a.Action == action {
			names = append(names, a.ActedOn...)
		}
	}
	return names
}
