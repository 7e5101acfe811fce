package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ShayCichocki/verifix/internal/api"
	"github.com/ShayCichocki/verifix/internal/config"
	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/git"
	"github.com/ShayCichocki/verifix/internal/patch"
	"github.com/ShayCichocki/verifix/internal/remediation"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/internal/state"
	"github.com/ShayCichocki/verifix/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const ordersSource = `class Orders:
    def __init__(self):
        self.items = []
`

var ordersRecipe = patch.Recipe{
	ClassHeader: "class Orders:",
	Signature:   "def pending(",
	Method:      "def pending(self):\n    return [o for o in self.items if o.pending]\n",
	Include:     []string{"**/*.py"},
}

// world simulates a checkout: the test command fails with a missing module
// until foo is installed, then fails on the missing method until it exists.
type world struct {
	repo      string
	installed bool
	calls     int
}

func (w *world) Run(context.Context, string, string) (models.ValidationResult, error) {
	w.calls++
	if !w.installed {
		return models.ValidationResult{
			ExitCode:            2,
			Stdout:              "ERROR collecting tests/test_orders.py\nModuleNotFoundError: No module named 'foo'\n",
			ErrorCount:          1,
			MissingDependencies: []string{"foo"},
		}, nil
	}
	data, _ := os.ReadFile(filepath.Join(w.repo, "shop", "orders.py"))
	if strings.Contains(string(data), "def pending(") {
		return models.ValidationResult{ExitCode: 0, Stdout: "3 passed in 0.10s\n", PassCount: 3}, nil
	}
	return models.ValidationResult{
		ExitCode:   1,
		Stdout:     "FAILED tests/test_orders.py::test_pending\n1 failed, 2 passed in 0.10s\n",
		ErrorCount: 1,
		PassCount:  2,
	}, nil
}

func (w *world) Install(_ context.Context, pkg string) error {
	if pkg == "foo" {
		w.installed = true
	}
	return nil
}

func (w *world) Uninstall(context.Context, string) error {
	return errors.New("not installed")
}

// staticDiff reports a fixed baseline and a diff once the tree changed.
type staticDiff struct {
	repo string
}

func (d staticDiff) Snapshot(context.Context) (git.Baseline, error) {
	return git.Baseline{Commit: "abc123"}, nil
}

func (d staticDiff) Diff(_ context.Context, _ git.Baseline) (string, error) {
	data, _ := os.ReadFile(filepath.Join(d.repo, "shop", "orders.py"))
	if !strings.Contains(string(data), "def pending(") {
		return "", nil
	}
	return `diff --git a/shop/orders.py b/shop/orders.py
--- a/shop/orders.py
+++ b/shop/orders.py
@@ -1,3 +1,6 @@
 class Orders:
     def __init__(self):
         self.items = []
+
+    def pending(self):
+        return [o for o in self.items if o.pending]
`, nil
}

type scriptedReasoner struct {
	replies []string
	err     error
	calls   int
}

func (r *scriptedReasoner) Name() string { return "scripted" }

func (r *scriptedReasoner) Next(context.Context, api.Prompt) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	i := r.calls
	r.calls++
	if i >= len(r.replies) {
		i = len(r.replies) - 1
	}
	return r.replies[i], nil
}

type memHistory struct {
	created, finished []state.Run
}

func (h *memHistory) CreateRun(r *state.Run) error {
	h.created = append(h.created, *r)
	return nil
}

func (h *memHistory) FinishRun(r *state.Run) error {
	h.finished = append(h.finished, *r)
	return nil
}

type fixture struct {
	repo     string
	world    *world
	events   *bytes.Buffer
	reporter *report.Reporter
	history  *memHistory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "shop"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "shop", "orders.py"), []byte(ordersSource), 0644))

	var buf bytes.Buffer
	events := report.NewEventLog(&buf, nil)
	reporter := report.New(report.DefaultPaths(filepath.Join(repo, ".verifix", "artifacts")), events, report.NewMetrics())
	return &fixture{
		repo:     repo,
		world:    &world{repo: repo},
		events:   &buf,
		reporter: reporter,
		history:  &memHistory{},
	}
}

func (f *fixture) cycle(strategy models.Strategy, opts ...Option) *Cycle {
	base := []Option{
		WithRunID("01TESTRUN"),
		WithLogger(zap.NewNop()),
		WithReporter(f.reporter),
		WithExecutor(f.world),
		WithPackageManager(f.world),
		WithRemediation(remediation.Config{MaxAttempts: 3, Policy: remediation.PolicyInstall}),
		WithRecipe(ordersRecipe),
		WithDiffSource(staticDiff{repo: f.repo}),
		WithHistory(f.history),
	}
	return NewCycle(RequiredConfig{
		RepoPath: f.repo,
		Command:  "python -m pytest tests -vv",
		Strategy: strategy,
	}, append(base, opts...)...)
}

func (f *fixture) results(t *testing.T) report.Results {
	t.Helper()
	data, err := os.ReadFile(f.reporter.Paths().Results)
	require.NoError(t, err)
	var res report.Results
	require.NoError(t, json.Unmarshal(data, &res))
	return res
}

func (f *fixture) eventNames(t *testing.T) []string {
	t.Helper()
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(f.events.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		names = append(names, rec["event"].(string))
	}
	return names
}

func TestCycle_EndToEndPatch(t *testing.T) {
	f := newFixture(t)

	rep, err := f.cycle(models.StrategyPatch).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Pre.ErrorCount, "pre is the first observation")
	assert.Equal(t, 0, rep.Post.ErrorCount)
	assert.Equal(t, models.VerdictCorrected, rep.Verdict)
	assert.True(t, rep.FixApplied)
	assert.True(t, rep.ChangeApplied)
	assert.True(t, rep.TestsPassing)
	assert.True(t, rep.Succeeded())
	require.NotNil(t, rep.Patch)
	assert.Equal(t, "shop/orders.py", rep.Patch.TargetFile)
	assert.True(t, rep.Patch.Applied)

	res := f.results(t)
	assert.Equal(t, "01TESTRUN", res.RunID)
	assert.Equal(t, 1, res.PreErrors)
	assert.Equal(t, 0, res.PostErrors)
	assert.Equal(t, models.VerdictCorrected, res.Verdict)
	assert.True(t, res.TestsPassing)
	require.NotNil(t, res.Diff)
	assert.Equal(t, []string{"shop/orders.py"}, res.Diff.Files)
	assert.Equal(t, 3, res.Diff.Added)

	post, err := os.ReadFile(f.reporter.Paths().PostLog)
	require.NoError(t, err)
	assert.Contains(t, string(post), "THE ERROR IS CORRECTED")
	assert.True(t, strings.HasSuffix(string(post), "TASK COMPLETED\n"))

	pre, err := os.ReadFile(f.reporter.Paths().PreLog)
	require.NoError(t, err)
	assert.Contains(t, string(pre), "MODULES INSTALLED")

	diff, err := os.ReadFile(f.reporter.Paths().Diff)
	require.NoError(t, err)
	assert.Contains(t, string(diff), "+    def pending(self):")

	names := f.eventNames(t)
	assert.Equal(t, "run_started", names[0])
	assert.Equal(t, "run_complete", names[len(names)-1])
	assert.Contains(t, names, "pip_install")
	assert.Contains(t, names, "patch")
	assert.Contains(t, names, "verdict")
	assert.Contains(t, names, "diff")

	_, err = os.Stat(f.reporter.Paths().Metrics)
	assert.NoError(t, err)

	require.Len(t, f.history.finished, 1)
	assert.Equal(t, state.RunCompleted, f.history.finished[0].Status)
	assert.Equal(t, models.VerdictCorrected, f.history.finished[0].Verdict)
}

// commitFixture turns the fixture repo into a git checkout with the sources
// committed, then dirties it the way a developer's tree might be.
func commitFixture(t *testing.T, f *fixture) *git.Repo {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.repo, "shop", "notes.py"), []byte("NOTE = 1\n"), 0644))
	r, err := gogit.PlainInit(f.repo, false)
	require.NoError(t, err)
	wt, err := r.Worktree()
	require.NoError(t, err)
	for _, name := range []string{"shop/orders.py", "shop/notes.py"} {
		_, err := wt.Add(name)
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(f.repo, "shop", "notes.py"), []byte("NOTE = 2\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.repo, "scratch.py"), []byte("print('wip')\n"), 0644))

	repo, err := git.Open(f.repo, nil, zap.NewNop())
	require.NoError(t, err)
	return repo
}

func TestCycle_DirtyCheckoutWithoutChanges(t *testing.T) {
	f := newFixture(t)
	repo := commitFixture(t, f)

	rep, err := f.cycle(models.StrategyNone, WithDiffSource(repo)).Run(context.Background())
	require.NoError(t, err)

	assert.False(t, rep.ChangeApplied, "edits that predate the run are not the run's changes")
	diff, err := os.ReadFile(f.reporter.Paths().Diff)
	require.NoError(t, err)
	assert.Empty(t, string(diff))
	assert.False(t, f.results(t).ChangeApplied)
}

func TestCycle_DirtyCheckoutDiffsOnlyRunChanges(t *testing.T) {
	f := newFixture(t)
	repo := commitFixture(t, f)

	rep, err := f.cycle(models.StrategyPatch, WithDiffSource(repo)).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, rep.ChangeApplied)
	data, err := os.ReadFile(f.reporter.Paths().Diff)
	require.NoError(t, err)
	diff := string(data)
	assert.Contains(t, diff, "+    def pending(self):")
	assert.NotContains(t, diff, "notes.py")
	assert.NotContains(t, diff, "scratch.py")
	assert.NotContains(t, diff, ".verifix")

	res := f.results(t)
	require.NotNil(t, res.Diff)
	assert.Equal(t, []string{"shop/orders.py"}, res.Diff.Files)
}

func TestCycle_PatchIsIdempotentAcrossRuns(t *testing.T) {
	f := newFixture(t)

	_, err := f.cycle(models.StrategyPatch).Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(f.repo, "shop", "orders.py"))
	require.NoError(t, err)

	rep, err := f.cycle(models.StrategyPatch).Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(f.repo, "shop", "orders.py"))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	require.NotNil(t, rep.Patch)
	assert.True(t, rep.Patch.AlreadyPresent)
	assert.False(t, rep.FixApplied)
	assert.Equal(t, models.VerdictAlreadyPassing, rep.Verdict)
}

func TestCycle_MissingCredentialBeforeAnyWork(t *testing.T) {
	f := newFixture(t)
	reasonerBuilt := false

	_, err := f.cycle(models.StrategyAgent,
		WithCredentialCheck(func() error {
			return errkind.New(errkind.MissingCredential, "resolve credential", config.ErrNoAPIKey)
		}),
		WithReasoner(func(context.Context) (api.Reasoner, error) {
			reasonerBuilt = true
			return &scriptedReasoner{}, nil
		}),
	).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.MissingCredential))
	assert.True(t, errors.Is(err, config.ErrNoAPIKey))
	assert.Zero(t, f.world.calls, "executor must not run")
	assert.False(t, reasonerBuilt)

	_, statErr := os.Stat(f.reporter.Paths().PreLog)
	assert.True(t, os.IsNotExist(statErr), "no pre log without a pre run")

	res := f.results(t)
	assert.Equal(t, errkind.MissingCredential, res.FatalKind)
	assert.NotEmpty(t, res.Fatal)
	assert.Equal(t, []string{"fatal"}, f.eventNames(t))

	require.Len(t, f.history.finished, 1)
	assert.Equal(t, state.RunFailed, f.history.finished[0].Status)
}

func TestCycle_PatchTargetNotFoundIsFatal(t *testing.T) {
	f := newFixture(t)
	recipe := ordersRecipe
	recipe.ClassHeader = "class Invoices:"

	_, err := f.cycle(models.StrategyPatch, WithRecipe(recipe)).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.PatchTargetNotFound))
	_, statErr := os.Stat(f.reporter.Paths().PostLog)
	assert.True(t, os.IsNotExist(statErr), "post-validation must not run")
	assert.Equal(t, errkind.PatchTargetNotFound, f.results(t).FatalKind)
}

func TestCycle_AgentWritesFix(t *testing.T) {
	f := newFixture(t)
	f.world.installed = true
	write, err := json.Marshal(map[string]any{
		"tool": "write_file",
		"args": map[string]string{
			"path":    "shop/orders.py",
			"content": ordersSource + "\n    def pending(self):\n        return []\n",
		},
	})
	require.NoError(t, err)
	reasoner := &scriptedReasoner{replies: []string{string(write)}}

	rep, err := f.cycle(models.StrategyAgent,
		WithCredentialCheck(func() error { return nil }),
		WithReasoner(func(context.Context) (api.Reasoner, error) { return reasoner, nil }),
		WithAgent(AgentSettings{Task: "Add Orders.pending.", Model: "scripted-1", MaxIterations: 3, RequestTimeout: time.Second}),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.VerdictCorrected, rep.Verdict)
	require.NotNil(t, rep.Agent)
	assert.Equal(t, models.AgentStatusDone, rep.Agent.Status)
	assert.Equal(t, 1, rep.Agent.Iterations)
	assert.True(t, rep.FixApplied)
	assert.Nil(t, rep.Patch)

	prompts, err := os.ReadFile(f.reporter.Paths().PromptLog)
	require.NoError(t, err)
	assert.Contains(t, string(prompts), "# Run 01TESTRUN")
	assert.Contains(t, string(prompts), "Add Orders.pending.")

	names := f.eventNames(t)
	assert.Contains(t, names, "agent_turn")
	assert.Contains(t, names, "tool_dispatch")
	assert.Contains(t, names, "agent_outcome")
}

func TestCycle_AgentServiceErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	f.world.installed = true
	reasoner := &scriptedReasoner{err: errkind.New(errkind.ExternalService, "messages", errors.New("503"))}

	_, err := f.cycle(models.StrategyAgent,
		WithReasoner(func(context.Context) (api.Reasoner, error) { return reasoner, nil }),
	).Run(context.Background())

	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ExternalService))
}

func TestCycle_BothSkipsAgentWhenPatchPasses(t *testing.T) {
	f := newFixture(t)
	f.world.installed = true
	reasoner := &scriptedReasoner{err: errors.New("must not be called")}

	rep, err := f.cycle(models.StrategyBoth,
		WithReasoner(func(context.Context) (api.Reasoner, error) { return reasoner, nil }),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, reasoner.calls)
	assert.Nil(t, rep.Agent)
	assert.Equal(t, models.VerdictCorrected, rep.Verdict)
}

func TestCycle_BothContinuesOnServiceError(t *testing.T) {
	f := newFixture(t)
	f.world.installed = true
	recipe := ordersRecipe
	// A method the tests do not look for: the patch applies but tests still fail.
	recipe.Signature = "def shipped("
	recipe.Method = "def shipped(self):\n    return []\n"
	reasoner := &scriptedReasoner{err: errkind.New(errkind.ExternalService, "messages", errors.New("overloaded"))}

	rep, err := f.cycle(models.StrategyBoth,
		WithRecipe(recipe),
		WithReasoner(func(context.Context) (api.Reasoner, error) { return reasoner, nil }),
	).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.VerdictStillFailing, rep.Verdict)
	assert.True(t, rep.FixApplied)
	assert.False(t, rep.Succeeded())
	assert.Contains(t, f.eventNames(t), "strategy_error")
}

func TestCycle_NoneAlreadyPassing(t *testing.T) {
	f := newFixture(t)
	f.world.installed = true
	require.NoError(t, os.WriteFile(filepath.Join(f.repo, "shop", "orders.py"),
		[]byte(ordersSource+"\n    def pending(self):\n        return []\n"), 0644))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	rep, err := f.cycle(models.StrategyNone, withClock(clock)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.VerdictAlreadyPassing, rep.Verdict)
	assert.Equal(t, time.Second, rep.Duration)
	assert.False(t, rep.FixApplied)
	assert.Equal(t, 2, f.world.calls, "one pre and one post execution")

	post, err := os.ReadFile(f.reporter.Paths().PostLog)
	require.NoError(t, err)
	assert.Contains(t, string(post), "NO ERRORS TO CORRECT - TESTS WERE ALREADY PASSING")
}

func TestCycle_StillFailingWhenBudgetExhausted(t *testing.T) {
	f := newFixture(t)
	pm := &refusingPackages{}

	rep, err := f.cycle(models.StrategyNone, WithPackageManager(pm)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.VerdictStillFailing, rep.Verdict)
	assert.Equal(t, []string{"foo"}, rep.Post.MissingDependencies)
	assert.Equal(t, 6, f.world.calls, "three attempts per stage")
}

func TestCycle_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cycle(models.StrategyAgent,
		WithReasoner(func(context.Context) (api.Reasoner, error) { return &scriptedReasoner{replies: []string{"{}"}}, nil }),
		WithExecutor(cancelAwareExecutor{}),
	).Run(ctx)

	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Canceled))
}

type refusingPackages struct{}

func (refusingPackages) Install(context.Context, string) error   { return errors.New("no index") }
func (refusingPackages) Uninstall(context.Context, string) error { return errors.New("no index") }

type cancelAwareExecutor struct{}

func (cancelAwareExecutor) Run(ctx context.Context, _, _ string) (models.ValidationResult, error) {
	if err := errkind.FromContext(ctx, "executor"); err != nil {
		return models.ValidationResult{}, err
	}
	return models.ValidationResult{}, nil
}
