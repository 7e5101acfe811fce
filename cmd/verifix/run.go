package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/api"
	"github.com/ShayCichocki/verifix/internal/config"
	"github.com/ShayCichocki/verifix/internal/control"
	"github.com/ShayCichocki/verifix/internal/errkind"
	iexec "github.com/ShayCichocki/verifix/internal/exec"
	"github.com/ShayCichocki/verifix/internal/orchestrator"
	"github.com/ShayCichocki/verifix/internal/remediation"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/internal/state"
	"github.com/ShayCichocki/verifix/internal/task"
	"github.com/ShayCichocki/verifix/internal/validation"
	"github.com/ShayCichocki/verifix/pkg/models"
)

var (
	runRepoPath      string
	runArtifactsDir  string
	runPreLog        string
	runPostLog       string
	runPromptLog     string
	runResults       string
	runEventLog      string
	runDiffOut       string
	runTaskFile      string
	runModel         string
	runProvider      string
	runStrategy      string
	runTestCmd       string
	runMaxAttempts   int
	runPolicy        string
	runMaxIterations int
	runTimeout       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one validate, fix and verify cycle",
	Long: `Run the verification cycle against a repository checkout.

The cycle runs in a fixed order:
  1. Pre-validation: run the tests, repairing missing dependencies
  2. Strategy: apply the fix selected by --strategy
  3. Post-validation: run the tests again, with the same repairs
  4. Verdict: compare the error counts of the first and last test runs

Strategies:
  patch   insert the task's method into its class (no network)
  agent   let the reasoning service edit the tree through a closed tool set
  both    patch first, then the agent if the tests still fail
  none    only validate

Settings come from defaults, the user config, the project .verifix.yaml,
VERIFIX_* environment variables, the task file and finally these flags.

Create a 'kill' or 'pause' file under <repo>/.verifix/signals (or use
'verifix signal') to stop or pause a running agent.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	runCmd.Flags().StringVar(&runRepoPath, "repo-path", "", "Repository checkout to verify (required)")
	runCmd.Flags().StringVar(&runArtifactsDir, "artifacts-dir", "", "Directory for run artifacts (default <repo>/.verifix/artifacts)")
	runCmd.Flags().StringVar(&runPreLog, "pre-log", "", "Pre-validation log path")
	runCmd.Flags().StringVar(&runPostLog, "post-log", "", "Post-validation log path")
	runCmd.Flags().StringVar(&runPromptLog, "prompt-log", "", "Prompt transcript path")
	runCmd.Flags().StringVar(&runResults, "results", "", "Results JSON path")
	runCmd.Flags().StringVar(&runEventLog, "event-log", "", "JSON event log path")
	runCmd.Flags().StringVar(&runDiffOut, "diff-out", "", "Diff artifact path")
	runCmd.Flags().StringVar(&runTaskFile, "task-file", "", "Task definition (YAML)")
	runCmd.Flags().StringVar(&runModel, "model", "", "Reasoning-service model")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "Reasoning-service provider: anthropic, bedrock, openai or gemini")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Fix strategy: patch, agent, both or none")
	runCmd.Flags().StringVar(&runTestCmd, "test-cmd", "", "Test command, run through the shell")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "Test executions per validation stage")
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "Dependency repair: install, reinstall or stub")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Agent turn budget")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Timeout for one test execution")
	_ = runCmd.MarkFlagRequired("repo-path")
}

func runVerify(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	repo, err := filepath.Abs(runRepoPath)
	if err != nil {
		return errkind.New(errkind.Config, "repo path", err)
	}
	if info, err := os.Stat(repo); err != nil || !info.IsDir() {
		return errkind.Errorf(errkind.Config, "repo path", "%s is not a directory", repo)
	}

	cfg, t, err := loadRunConfig(cmd, repo)
	if err != nil {
		return err
	}
	strategy := models.Strategy(cfg.Run.Strategy)
	policy, err := remediation.ParsePolicy(cfg.Remediation.Policy)
	if err != nil {
		return errkind.New(errkind.Config, "remediation policy", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var signals api.Signals
	watcher, err := control.NewWatcher(repo, cancel, logger)
	if err != nil {
		logger.Warn("signal watcher unavailable", zap.Error(err))
	} else {
		watcher.ClearSignals()
		defer watcher.Close()
		signals = watcher
	}

	paths := artifactPaths(cfg, repo)
	events, err := report.OpenEventLog(paths.EventLog, logger)
	if err != nil {
		return err
	}
	defer events.Close()
	var metrics *report.Metrics
	if cfg.Artifacts.Metrics {
		metrics = report.NewMetrics()
	} else {
		paths.Metrics = ""
	}
	reporter := report.New(paths, events, metrics)

	runner := iexec.NewRunner()
	opts := []orchestrator.Option{
		orchestrator.WithTaskID(t.ID),
		orchestrator.WithLogger(logger),
		orchestrator.WithReporter(reporter),
		orchestrator.WithExecRunner(runner),
		orchestrator.WithExecutor(validation.NewExecutor(runner,
			validation.NewClassifier(cfg.Validation.Markers...), cfg.Validation.Timeout, logger)),
		orchestrator.WithPackageManager(remediation.NewPip(runner,
			cfg.Remediation.Python, repo, cfg.Remediation.Timeout, logger)),
		orchestrator.WithRemediation(remediation.Config{
			MaxAttempts: cfg.Remediation.MaxAttempts,
			Policy:      policy,
			Aliases:     cfg.Remediation.Aliases,
		}),
		orchestrator.WithRecipe(t.Recipe(splitList(cfg.Patch.Include))),
		orchestrator.WithAgent(orchestrator.AgentSettings{
			Task:              t.Prompt(),
			Model:             cfg.Agent.Model,
			MaxIterations:     cfg.Agent.MaxIterations,
			RequestsPerMinute: cfg.Agent.RequestsPerMinute,
			RequestTimeout:    cfg.Agent.RequestTimeout,
			BashTimeout:       cfg.Agent.BashTimeout,
			Protected:         cfg.Agent.Protected,
		}),
		orchestrator.WithCredentialCheck(func() error {
			_, err := config.ResolveCredential(cfg)
			return err
		}),
		orchestrator.WithReasoner(reasonerFactory(cfg)),
	}
	if signals != nil {
		opts = append(opts, orchestrator.WithSignals(signals))
	}
	if db := openHistory(cfg, repo, logger); db != nil {
		defer db.Close()
		opts = append(opts, orchestrator.WithHistory(db))
	}

	cycle := orchestrator.NewCycle(orchestrator.RequiredConfig{
		RepoPath: repo,
		Command:  cfg.Validation.TestCommand,
		Strategy: strategy,
	}, opts...)

	out := cmd.OutOrStdout()
	printStatus(out, "→", fmt.Sprintf("Verifying %s (%s, strategy %s)", repo, t.ID, strategy), color.FgCyan)

	rep, err := cycle.Run(ctx)
	if err != nil {
		return &exitError{code: exitFatal, err: err}
	}

	fmt.Fprintln(out, renderSummary(rep, paths))
	if !rep.Succeeded() {
		printStatus(out, "✗", "Tests still failing", color.FgRed)
		return &exitError{code: exitFailing}
	}
	printStatus(out, "✓", "Tests passing", color.FgGreen)
	return nil
}

// loadRunConfig layers config, the task file and changed flags, in that order.
func loadRunConfig(cmd *cobra.Command, repo string) (*config.Config, *task.Task, error) {
	cfg, err := config.Load(repo)
	if err != nil {
		return nil, nil, err
	}

	taskFile := cfg.Run.TaskFile
	if cmd.Flags().Changed("task-file") {
		taskFile = runTaskFile
	}
	t := task.Default()
	if taskFile != "" {
		if t, err = task.Load(resolvePath(repo, taskFile)); err != nil {
			return nil, nil, err
		}
	}
	t.Apply(cfg)

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Run.Strategy = runStrategy
	}
	if flags.Changed("test-cmd") {
		cfg.Validation.TestCommand = runTestCmd
	}
	if flags.Changed("timeout") {
		cfg.Validation.Timeout = runTimeout
	}
	if flags.Changed("max-attempts") {
		cfg.Remediation.MaxAttempts = runMaxAttempts
	}
	if flags.Changed("policy") {
		cfg.Remediation.Policy = runPolicy
	}
	if flags.Changed("provider") {
		cfg.Agent.Provider = runProvider
	}
	if flags.Changed("model") {
		cfg.Agent.Model = runModel
	}
	if flags.Changed("max-iterations") {
		cfg.Agent.MaxIterations = runMaxIterations
	}
	if flags.Changed("artifacts-dir") {
		cfg.Artifacts.Dir = runArtifactsDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, t, nil
}

// artifactPaths resolves the artifact locations. Individual flags win over
// the artifacts directory.
func artifactPaths(cfg *config.Config, repo string) report.Paths {
	dir := cfg.Artifacts.Dir
	if dir == "" {
		dir = filepath.Join(".verifix", "artifacts")
	}
	paths := report.DefaultPaths(resolvePath(repo, dir))
	for _, o := range []struct {
		flag string
		dst  *string
	}{
		{runPreLog, &paths.PreLog},
		{runPostLog, &paths.PostLog},
		{runPromptLog, &paths.PromptLog},
		{runResults, &paths.Results},
		{runEventLog, &paths.EventLog},
		{runDiffOut, &paths.Diff},
	} {
		if o.flag != "" {
			*o.dst = resolvePath(repo, o.flag)
		}
	}
	return paths
}

// reasonerFactory builds the configured provider's client on demand.
func reasonerFactory(cfg *config.Config) orchestrator.ReasonerFactory {
	return func(ctx context.Context) (api.Reasoner, error) {
		cred, err := config.ResolveCredential(cfg)
		if err != nil {
			return nil, err
		}
		rc := api.ReasonerConfig{
			Provider:   api.Provider(cfg.Agent.Provider),
			Model:      cfg.Agent.Model,
			APIKey:     cred.Key,
			AWSRegion:  cfg.Providers.Bedrock.Region,
			AWSProfile: cfg.Providers.Bedrock.Profile,
		}
		switch rc.Provider {
		case api.ProviderAnthropic:
			rc.BaseURL = cfg.Providers.Anthropic.BaseURL
		case api.ProviderOpenAI:
			rc.BaseURL = cfg.Providers.OpenAI.BaseURL
		case api.ProviderGemini:
			rc.BaseURL = cfg.Providers.Gemini.BaseURL
		}
		return api.NewReasoner(ctx, rc)
	}
}

// openHistory opens the run history and settles runs a crashed process left
// behind. History is optional: failures are logged and nil is returned.
func openHistory(cfg *config.Config, repo string, logger *zap.Logger) *state.DB {
	path := state.GlobalDBPath()
	if cfg.Artifacts.HistoryDB != "" {
		path = resolvePath(repo, cfg.Artifacts.HistoryDB)
	}
	db, err := state.OpenMigrated(path)
	if err != nil {
		logger.Warn("run history unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}
	recovered, err := db.RecoverInterrupted()
	if err != nil {
		logger.Warn("recover interrupted runs", zap.Error(err))
	}
	for _, r := range recovered {
		logger.Info("marked run interrupted", zap.String("run_id", r.ID), zap.Int("pid", r.PID))
	}
	return db
}

// resolvePath makes p absolute, relative to repo.
func resolvePath(repo, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(repo, p)
}

// splitList splits a comma-separated setting, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
