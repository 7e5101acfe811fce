package api

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/report"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// scriptedReasoner replays canned replies and records the prompts it saw.
type scriptedReasoner struct {
	replies []string
	errAt   int
	err     error
	prompts []Prompt
}

func (r *scriptedReasoner) Name() string { return "scripted" }

func (r *scriptedReasoner) Next(_ context.Context, p Prompt) (string, error) {
	r.prompts = append(r.prompts, p)
	n := len(r.prompts)
	if r.err != nil && n == r.errAt {
		return "", r.err
	}
	if n > len(r.replies) {
		return r.replies[len(r.replies)-1], nil
	}
	return r.replies[n-1], nil
}

// fileChecker passes once the marker file exists in the repo.
type fileChecker struct {
	marker string
	calls  int
}

func (c *fileChecker) Run(_ context.Context, _ string, dir string) (models.ValidationResult, error) {
	c.calls++
	if _, err := os.Stat(filepath.Join(dir, c.marker)); err == nil {
		return models.ValidationResult{ExitCode: 0}, nil
	}
	return models.ValidationResult{ExitCode: 1, ErrorCount: 1}, nil
}

type memTranscript struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (m *memTranscript) AppendPrompt(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf.WriteString(text)
	return nil
}

type stubSignals struct {
	stop bool
}

func (s *stubSignals) ShouldStop() bool                        { return s.stop }
func (s *stubSignals) WaitWhilePaused(ctx context.Context) error { return nil }

func newTestLoop(t *testing.T, reasoner Reasoner, checker Checker, maxIter int) (*Loop, string, *bytes.Buffer, *memTranscript) {
	t.Helper()
	dir := t.TempDir()
	var events bytes.Buffer
	transcript := &memTranscript{}
	loop := NewLoop(LoopConfig{
		Reasoner:      reasoner,
		Tools:         NewToolExecutor(dir, nil, 5*time.Second),
		Checker:       checker,
		RepoPath:      dir,
		TestCommand:   "pytest -q",
		Task:          "make the tests pass",
		MaxIterations: maxIter,
		Transcript:    transcript,
		Events:        report.NewEventLog(&events, nil),
	})
	return loop, dir, &events, transcript
}

func TestLoop_DoneAfterWrite(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{
		`{"tool": "read_file", "args": {"path": "fixed.txt"}}`,
		`{"tool": "write_file", "args": {"path": "fixed.txt", "content": "ok\n"}}`,
	}}
	checker := &fileChecker{marker: "fixed.txt"}
	loop, _, events, transcript := newTestLoop(t, reasoner, checker, 5)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusDone, outcome.Status)
	assert.Equal(t, 2, outcome.Iterations())
	assert.True(t, outcome.Mutated)
	assert.Equal(t, 0, outcome.Malformed)
	assert.Equal(t, 1, checker.calls, "reads do not re-run the tests")

	first := outcome.Steps[0]
	assert.Equal(t, models.ToolReadFile, first.Tool)
	assert.True(t, first.IsError)
	assert.Equal(t, -1, first.TestExitCode)
	assert.Equal(t, 0, outcome.Steps[1].TestExitCode)

	// Second prompt carries the first turn's result.
	require.Len(t, reasoner.prompts, 2)
	require.Len(t, reasoner.prompts[1].History, 1)
	assert.NotContains(t, reasoner.prompts[1].History[0].Result, "Test command exited")
	assert.NotEmpty(t, reasoner.prompts[1].History[0].CallID)

	assert.Contains(t, events.String(), `"event":"tool_dispatch"`)
	assert.Contains(t, events.String(), `"event":"agent_outcome"`)
	assert.Contains(t, events.String(), `"status":"done"`)
	assert.Contains(t, transcript.buf.String(), "## Turn 2")
}

func TestLoop_ChecksOnlyAfterMutations(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{
		`{"tool": "read_file", "args": {"path": "app.py"}}`,
		`{"tool": "edit_file", "args": {"path": "app.py", "old_text": "y = 1", "new_text": "y = 2"}}`,
		`{"tool": "write_file", "args": {"path": ".git/fixed.txt", "content": "ok\n"}}`,
		`{"tool": "run_bash", "args": {"command": "echo broken >&2; exit 1"}}`,
		`{"tool": "edit_file", "args": {"path": "app.py", "old_text": "x = 1", "new_text": "x = 2"}}`,
		`{"tool": "write_file", "args": {"path": "fixed.txt", "content": "ok\n"}}`,
	}}
	checker := &fileChecker{marker: "fixed.txt"}
	loop, dir, events, _ := newTestLoop(t, reasoner, checker, 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("x = 1\n"), 0644))

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusDone, outcome.Status)
	require.Equal(t, 6, outcome.Iterations())
	// The failed shell command, the successful edit and the final write.
	assert.Equal(t, 3, checker.calls)
	for i, want := range []int{-1, -1, -1, 1, 1, 0} {
		assert.Equal(t, want, outcome.Steps[i].TestExitCode, "step %d", i+1)
	}
	assert.Equal(t, 3, strings.Count(events.String(), `"stage":"agent_check"`))
}

func TestIsMutation(t *testing.T) {
	ok := ToolResult{}
	failed := ToolResult{IsError: true}

	assert.False(t, isMutation(ReadFile{Path: "a.py"}, ok))
	assert.True(t, isMutation(WriteFile{Path: "a.py"}, ok))
	assert.False(t, isMutation(WriteFile{Path: ".git/config"}, failed))
	assert.True(t, isMutation(EditFile{Path: "a.py"}, ok))
	assert.False(t, isMutation(EditFile{Path: "a.py"}, failed))
	assert.True(t, isMutation(RunBash{Command: "false"}, failed))
}

func TestLoop_UnknownToolReprompts(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{
		`{"tool": "delete_everything", "args": {"path": "."}}`,
		`{"tool": "write_file", "args": {"path": "fixed.txt", "content": "ok\n"}}`,
	}}
	checker := &fileChecker{marker: "fixed.txt"}
	loop, dir, events, _ := newTestLoop(t, reasoner, checker, 5)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.py"), []byte("x = 1\n"), 0644))

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusDone, outcome.Status)
	assert.Equal(t, 1, outcome.Malformed)
	assert.Equal(t, 2, outcome.Iterations())
	assert.True(t, outcome.Steps[0].Malformed)
	assert.Equal(t, -1, outcome.Steps[0].TestExitCode)
	// The success check never ran for the malformed turn.
	assert.Equal(t, 1, checker.calls)

	got, err := os.ReadFile(filepath.Join(dir, "keep.py"))
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(got))

	require.Len(t, reasoner.prompts, 2)
	feedback := reasoner.prompts[1].History[0].Feedback()
	assert.Contains(t, feedback, "could not be parsed")
	assert.Contains(t, feedback, "unknown tool")
	assert.Contains(t, events.String(), `"event":"malformed_action"`)
}

func TestLoop_MalformedOnlyDoesNotMutate(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{"I'm not sure what to do."}}
	checker := &fileChecker{marker: "fixed.txt"}
	loop, _, _, _ := newTestLoop(t, reasoner, checker, 3)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.Malformed)
	assert.Equal(t, 3, outcome.Iterations())
	assert.False(t, outcome.Mutated)
	assert.Zero(t, checker.calls)
}

func TestLoop_BudgetExhausted(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{
		`{"tool": "run_bash", "args": {"command": "echo still broken"}}`,
	}}
	checker := &fileChecker{marker: "never.txt"}
	loop, _, events, _ := newTestLoop(t, reasoner, checker, 3)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.Iterations())
	assert.Equal(t, 3, checker.calls)
	assert.True(t, outcome.Mutated, "run_bash counts as a possible mutation")
	assert.Contains(t, events.String(), `"status":"failed"`)
}

func TestLoop_ReasonerErrorAborts(t *testing.T) {
	reasoner := &scriptedReasoner{
		replies: []string{`{"tool": "read_file", "args": {"path": "a.py"}}`},
		errAt:   2,
		err:     errors.New("503 service unavailable"),
	}
	checker := &fileChecker{marker: "never.txt"}
	loop, _, _, _ := newTestLoop(t, reasoner, checker, 5)

	outcome, err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.ExternalService, errkind.KindOf(err))
	assert.Equal(t, 1, outcome.Iterations())
	assert.Equal(t, models.AgentStatusFailed, outcome.Status)
}

func TestLoop_StopSignal(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{`{"tool": "read_file", "args": {"path": "a.py"}}`}}
	checker := &fileChecker{marker: "never.txt"}
	loop, _, _, _ := newTestLoop(t, reasoner, checker, 5)
	loop.cfg.Signals = &stubSignals{stop: true}

	outcome, err := loop.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errkind.Canceled, errkind.KindOf(err))
	assert.True(t, errors.Is(err, ErrStopped))
	assert.Zero(t, outcome.Iterations())
	assert.Empty(t, reasoner.prompts)
}

func TestLoop_ContextCanceled(t *testing.T) {
	reasoner := &scriptedReasoner{replies: []string{`{"tool": "read_file", "args": {"path": "a.py"}}`}}
	loop, _, _, _ := newTestLoop(t, reasoner, &fileChecker{marker: "x"}, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := loop.Run(ctx)
	assert.Equal(t, errkind.Canceled, errkind.KindOf(err))
}

func TestPrompt_Render(t *testing.T) {
	p := Prompt{
		System: "sys",
		Task:   "task",
		History: []Exchange{
			{Response: "garbage", Result: "no action object in response"},
			{Response: `{"tool":"run_bash"}`, Action: RunBash{Command: "ls"}, Result: "exit code: 0"},
		},
	}
	out := p.Render()
	assert.Contains(t, out, "## Turn 1")
	assert.Contains(t, out, "could not be parsed")
	assert.Contains(t, out, "## Turn 2")
	assert.Contains(t, out, "run_bash result:")
}

func TestProvider(t *testing.T) {
	assert.True(t, ProviderAnthropic.NeedsAPIKey())
	assert.False(t, ProviderBedrock.NeedsAPIKey())
	assert.False(t, Provider("cohere").Valid())

	_, err := NewReasoner(context.Background(), ReasonerConfig{Provider: ProviderOpenAI})
	assert.Equal(t, errkind.MissingCredential, errkind.KindOf(err))

	_, err = NewReasoner(context.Background(), ReasonerConfig{Provider: "cohere"})
	assert.Equal(t, errkind.Config, errkind.KindOf(err))
}
