package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/verifix/pkg/models"
)

// NoChangesSentinel is written to the diff artifact when the tree is unchanged.
const NoChangesSentinel = "# no changes\n"

const banner = "=================================\n"

// Paths locates every artifact. An empty path disables that artifact.
type Paths struct {
	EventLog  string
	PreLog    string
	PostLog   string
	PromptLog string
	Results   string
	Diff      string
	Metrics   string
}

// DefaultPaths places every artifact under dir.
func DefaultPaths(dir string) Paths {
	return Paths{
		EventLog:  filepath.Join(dir, "agent.log"),
		PreLog:    filepath.Join(dir, "pre_validation.log"),
		PostLog:   filepath.Join(dir, "post_validation.log"),
		PromptLog: filepath.Join(dir, "prompts.md"),
		Results:   filepath.Join(dir, "results.json"),
		Diff:      filepath.Join(dir, "changes.patch"),
		Metrics:   filepath.Join(dir, "metrics.prom"),
	}
}

// Reporter writes artifacts on behalf of the verification cycle.
type Reporter struct {
	paths   Paths
	events  *EventLog
	metrics *Metrics
	now     func() time.Time
}

// New creates a reporter. events and metrics may be nil.
func New(paths Paths, events *EventLog, metrics *Metrics) *Reporter {
	return &Reporter{
		paths:   paths,
		events:  events,
		metrics: metrics,
		now:     time.Now,
	}
}

// Events returns the run's event log.
func (r *Reporter) Events() *EventLog {
	return r.events
}

// Metrics returns the run's metrics, possibly nil.
func (r *Reporter) Metrics() *Metrics {
	return r.metrics
}

// Paths returns the artifact locations.
func (r *Reporter) Paths() Paths {
	return r.paths
}

// WriteValidation overwrites the stage's validation log with the final
// observation of the stage and a summary block.
func (r *Reporter) WriteValidation(command string, outcome models.RemediationOutcome) error {
	path := r.stagePath(outcome.Stage)
	if path == "" {
		return nil
	}
	res := outcome.Final

	var b strings.Builder
	b.WriteString(banner)
	fmt.Fprintf(&b, "STAGE     : %s\n", outcome.Stage)
	fmt.Fprintf(&b, "TIME      : %s\n", r.now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "COMMAND   : %s\n", command)
	fmt.Fprintf(&b, "ATTEMPTS  : %d\n", outcome.Executions)
	b.WriteString(banner)
	b.WriteString("\n")
	b.WriteString(res.Stdout)
	b.WriteString("\n--- STDERR ---\n")
	b.WriteString(res.Stderr)
	b.WriteString("\n--- AGENT SUMMARY ---\n")
	fmt.Fprintf(&b, "EXIT CODE     : %d\n", res.ExitCode)
	fmt.Fprintf(&b, "ERROR COUNT   : %d\n", res.ErrorCount)
	fmt.Fprintf(&b, "PASS COUNT    : %d\n", res.PassCount)
	fmt.Fprintf(&b, "WARNING COUNT : %d\n", res.WarningCount)
	if outcome.Baseline.ErrorCount != res.ErrorCount {
		fmt.Fprintf(&b, "BASELINE ERROR COUNT : %d\n", outcome.Baseline.ErrorCount)
	}
	for _, group := range groupActedOn(outcome.Attempts) {
		fmt.Fprintf(&b, "%s : %s\n", group.label, pyList(group.names))
	}
	if len(outcome.Unresolved) > 0 {
		fmt.Fprintf(&b, "UNRESOLVED DEPENDENCIES : %s\n", pyList(outcome.Unresolved))
	}
	if res.TimedOut {
		b.WriteString("TIMED OUT : yes\n")
	}

	return writeFile(path, b.String())
}

// AppendConclusion appends the final verdict block to the post-validation log.
func (r *Reporter) AppendConclusion(v models.Verdict) error {
	if r.paths.PostLog == "" {
		return nil
	}
	f, err := os.OpenFile(r.paths.PostLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open post log: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n--- FINAL AGENT CONCLUSION ---\n%s\nTASK COMPLETED\n", v.Conclusion()); err != nil {
		return fmt.Errorf("append conclusion: %w", err)
	}
	return nil
}

// WritePrompt overwrites the prompt transcript.
func (r *Reporter) WritePrompt(text string) error {
	if r.paths.PromptLog == "" {
		return nil
	}
	return writeFile(r.paths.PromptLog, text)
}

// AppendPrompt appends a section to the prompt transcript.
func (r *Reporter) AppendPrompt(text string) error {
	if r.paths.PromptLog == "" {
		return nil
	}
	f, err := os.OpenFile(r.paths.PromptLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open prompt log: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(text)
	return err
}

// WriteDiff writes the unified diff, or the sentinel when diff is empty.
func (r *Reporter) WriteDiff(diff string) error {
	if r.paths.Diff == "" {
		return nil
	}
	if strings.TrimSpace(diff) == "" {
		diff = NoChangesSentinel
	}
	return writeFile(r.paths.Diff, diff)
}

// WriteResults writes the results object as indented JSON.
func (r *Reporter) WriteResults(res Results) error {
	if r.paths.Results == "" {
		return nil
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return writeFile(r.paths.Results, string(data)+"\n")
}

// WriteMetrics writes the metrics text file.
func (r *Reporter) WriteMetrics() error {
	if r.paths.Metrics == "" || r.metrics == nil {
		return nil
	}
	return r.metrics.WriteTo(r.paths.Metrics)
}

// Reset truncates the diff artifact so a stale one never survives a new run.
func (r *Reporter) Reset() error {
	if r.paths.Diff == "" {
		return nil
	}
	return writeFile(r.paths.Diff, "")
}

func (r *Reporter) stagePath(stage models.Stage) string {
	switch stage {
	case models.StagePre:
		return r.paths.PreLog
	case models.StagePost:
		return r.paths.PostLog
	default:
		return ""
	}
}

type actedGroup struct {
	label string
	names []string
}

// groupActedOn collects the repaired dependencies per action, keeping the
// order in which they were first acted on.
func groupActedOn(attempts []models.RemediationAttempt) []actedGroup {
	labels := map[models.ActionKind]string{
		models.ActionInstall:     "MODULES INSTALLED",
		models.ActionReinstall:   "MODULES REINSTALLED",
		models.ActionStubCreated: "STUBS CREATED",
	}
	order := []models.ActionKind{models.ActionInstall, models.ActionReinstall, models.ActionStubCreated}

	byAction := make(map[models.ActionKind][]string)
	for _, a := range attempts {
		byAction[a.Action] = append(byAction[a.Action], a.ActedOn...)
	}

	var groups []actedGroup
	for _, action := range order {
		if names := byAction[action]; len(names) > 0 {
			groups = append(groups, actedGroup{label: labels[action], names: names})
		}
	}
	return groups
}

// pyList renders names the way the validation logs have always shown them: ['a', 'b'].
func pyList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = "'" + n + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
