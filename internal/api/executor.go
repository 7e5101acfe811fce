package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/exec"
	"github.com/ShayCichocki/verifix/internal/protect"
)

// DefaultBashTimeout bounds a single run_bash dispatch.
const DefaultBashTimeout = 2 * time.Minute

// maxTranscriptOutput caps tool output fed back into the transcript.
const maxTranscriptOutput = 30000

// ToolResult is the outcome of one dispatch.
type ToolResult struct {
	Content string
	IsError bool
}

// ToolExecutor dispatches validated actions against the repository.
type ToolExecutor struct {
	workDir     string
	runner      exec.CommandRunner
	bashTimeout time.Duration
	protected   *protect.Detector
}

// NewToolExecutor creates an executor rooted at workDir.
func NewToolExecutor(workDir string, runner exec.CommandRunner, bashTimeout time.Duration) *ToolExecutor {
	if runner == nil {
		runner = exec.NewRunner()
	}
	if bashTimeout <= 0 {
		bashTimeout = DefaultBashTimeout
	}
	return &ToolExecutor{
		workDir:     workDir,
		runner:      runner,
		bashTimeout: bashTimeout,
		protected:   protect.New(),
	}
}

// Protect replaces the paths write_file and edit_file refuse to modify.
// run_bash is not restricted.
func (e *ToolExecutor) Protect(d *protect.Detector) *ToolExecutor {
	e.protected = d
	return e
}

// Dispatch runs the action. Tool failures come back as error results for the
// reasoner to see; only cancellation of ctx is returned as an error.
func (e *ToolExecutor) Dispatch(ctx context.Context, action Action) (ToolResult, error) {
	if err := errkind.FromContext(ctx, "dispatch"); err != nil {
		return ToolResult{}, err
	}
	switch a := action.(type) {
	case ReadFile:
		return e.execRead(a), nil
	case WriteFile:
		return e.execWrite(a), nil
	case EditFile:
		return e.execEdit(a), nil
	case RunBash:
		return e.execBash(ctx, a)
	default:
		return ToolResult{Content: fmt.Sprintf("Unknown tool: %T", action), IsError: true}, nil
	}
}

func (e *ToolExecutor) execRead(a ReadFile) ToolResult {
	path, err := e.resolvePath(a.Path)
	if err != nil {
		return errorResult(err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Error reading file: %v", err), IsError: true}
	}

	lines := strings.Split(string(content), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%6d\t%s\n", i+1, line)
	}
	return ToolResult{Content: truncate(sb.String())}
}

func (e *ToolExecutor) execWrite(a WriteFile) ToolResult {
	path, err := e.resolveWritable(a.Path)
	if err != nil {
		return errorResult(err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ToolResult{Content: fmt.Sprintf("Error creating directory: %v", err), IsError: true}
	}
	if err := os.WriteFile(path, []byte(a.Content), 0644); err != nil {
		return ToolResult{Content: fmt.Sprintf("Error writing file: %v", err), IsError: true}
	}
	return ToolResult{Content: fmt.Sprintf("Wrote %d bytes to %s", len(a.Content), a.Path)}
}

func (e *ToolExecutor) execEdit(a EditFile) ToolResult {
	if a.Old == "" {
		return ToolResult{Content: "old_text must not be empty", IsError: true}
	}
	path, err := e.resolveWritable(a.Path)
	if err != nil {
		return errorResult(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Error reading file: %v", err), IsError: true}
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ToolResult{Content: fmt.Sprintf("Error reading file: %v", err), IsError: true}
	}

	text := string(content)
	if !strings.Contains(text, a.Old) {
		return ToolResult{Content: fmt.Sprintf("old_text not found in %s", a.Path), IsError: true}
	}
	updated := strings.Replace(text, a.Old, a.New, 1)
	if err := os.WriteFile(path, []byte(updated), info.Mode().Perm()); err != nil {
		return ToolResult{Content: fmt.Sprintf("Error writing file: %v", err), IsError: true}
	}
	return ToolResult{Content: "Edit successful"}
}

func (e *ToolExecutor) execBash(ctx context.Context, a RunBash) (ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.bashTimeout)
	defer cancel()

	res, err := e.runner.RunShell(ctx, e.workDir, a.Command)
	output := res.Combined()
	if err != nil {
		switch errkind.KindOf(err) {
		case errkind.Canceled:
			return ToolResult{}, err
		case errkind.Timeout:
			return ToolResult{
				Content: truncate(fmt.Sprintf("Command timed out after %v:\n%s", e.bashTimeout, output)),
				IsError: true,
			}, nil
		}
		return ToolResult{Content: truncate(fmt.Sprintf("%s\nError: %v", output, err)), IsError: true}, nil
	}

	return ToolResult{
		Content: truncate(fmt.Sprintf("exit code: %d\n%s", res.ExitCode, output)),
		IsError: res.ExitCode != 0,
	}, nil
}

// resolvePath maps a tool path into the repository and rejects escapes.
func (e *ToolExecutor) resolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	root, err := filepath.Abs(e.workDir)
	if err != nil {
		return "", err
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(root, path)
	}
	resolved = filepath.Clean(resolved)
	rel, err := filepath.Rel(root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the repository", path)
	}
	return resolved, nil
}

// resolveWritable is resolvePath plus the protected-path check.
func (e *ToolExecutor) resolveWritable(path string) (string, error) {
	resolved, err := e.resolvePath(path)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(e.workDir)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return "", err
	}
	if ok, reason := e.protected.IsProtectedWithReason(rel); ok {
		return "", fmt.Errorf("refusing to modify %s: %s", path, reason)
	}
	return resolved, nil
}

func errorResult(err error) ToolResult {
	return ToolResult{Content: err.Error(), IsError: true}
}

func truncate(s string) string {
	if len(s) > maxTranscriptOutput {
		return s[:maxTranscriptOutput] + "\n... (output truncated)"
	}
	return s
}

// FormatToolAction returns a human-readable description of an action.
func FormatToolAction(action Action) string {
	switch a := action.(type) {
	case ReadFile:
		return "Reading " + filepath.Base(a.Path)
	case WriteFile:
		return "Writing " + filepath.Base(a.Path)
	case EditFile:
		return "Editing " + filepath.Base(a.Path)
	case RunBash:
		cmd := strings.Split(a.Command, " ")[0]
		if len(cmd) > 20 {
			cmd = cmd[:17] + "..."
		}
		return "Running " + cmd
	default:
		return string(action.Tool())
	}
}
