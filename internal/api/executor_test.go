package api

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/internal/protect"
)

func newTestExecutor(t *testing.T) (*ToolExecutor, string) {
	t.Helper()
	dir := t.TempDir()
	return NewToolExecutor(dir, nil, 5*time.Second), dir
}

func TestToolExecutor_Read(t *testing.T) {
	executor, dir := newTestExecutor(t)
	if err := os.WriteFile(filepath.Join(dir, "test.txt"), []byte("line1\nline2\nline3\n"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	result, err := executor.Dispatch(context.Background(), ReadFile{Path: "test.txt"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.IsError {
		t.Fatalf("Read failed: %s", result.Content)
	}
	want := "     1\tline1\n     2\tline2\n     3\tline3\n"
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestToolExecutor_Read_NotFound(t *testing.T) {
	executor, _ := newTestExecutor(t)

	result, err := executor.Dispatch(context.Background(), ReadFile{Path: "missing.py"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error for nonexistent file")
	}
}

func TestToolExecutor_Write_CreatesDirs(t *testing.T) {
	executor, dir := newTestExecutor(t)

	result, _ := executor.Dispatch(context.Background(), WriteFile{Path: "pkg/sub/mod.py", Content: "x = 1\n"})
	if result.IsError {
		t.Fatalf("Write failed: %s", result.Content)
	}
	got, err := os.ReadFile(filepath.Join(dir, "pkg", "sub", "mod.py"))
	if err != nil {
		t.Fatalf("Failed to read written file: %v", err)
	}
	if string(got) != "x = 1\n" {
		t.Errorf("File content = %q", got)
	}
}

func TestToolExecutor_Edit_FirstOccurrence(t *testing.T) {
	executor, dir := newTestExecutor(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("x = 1\nx = 1\n"), 0600); err != nil {
		t.Fatal(err)
	}

	result, _ := executor.Dispatch(context.Background(), EditFile{Path: "a.py", Old: "x = 1", New: "x = 2"})
	if result.IsError {
		t.Fatalf("Edit failed: %s", result.Content)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "x = 2\nx = 1\n" {
		t.Errorf("File content = %q, want only the first occurrence replaced", got)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestToolExecutor_Edit_Absent(t *testing.T) {
	executor, dir := newTestExecutor(t)
	path := filepath.Join(dir, "a.py")
	if err := os.WriteFile(path, []byte("x = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	result, _ := executor.Dispatch(context.Background(), EditFile{Path: "a.py", Old: "y = 1", New: "y = 2"})
	if !result.IsError {
		t.Fatal("Expected error when old_text is absent")
	}
	if !strings.Contains(result.Content, "not found") {
		t.Errorf("Content = %q", result.Content)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "x = 1\n" {
		t.Errorf("file modified: %q", got)
	}
}

func TestToolExecutor_PathEscape(t *testing.T) {
	executor, _ := newTestExecutor(t)

	for _, action := range []Action{
		ReadFile{Path: "../outside.txt"},
		WriteFile{Path: "../../etc/evil", Content: "x"},
		ReadFile{Path: "/etc/passwd"},
	} {
		result, err := executor.Dispatch(context.Background(), action)
		if err != nil {
			t.Fatalf("Dispatch(%v): %v", action, err)
		}
		if !result.IsError || !strings.Contains(result.Content, "outside the repository") {
			t.Errorf("Dispatch(%v) = %+v, want escape rejection", action, result)
		}
	}
}

func TestToolExecutor_ProtectedPaths(t *testing.T) {
	executor, dir := newTestExecutor(t)
	signal := filepath.Join(dir, ".verifix", "signals", "kill")
	if err := os.MkdirAll(filepath.Dir(signal), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(signal, []byte("now"), 0644); err != nil {
		t.Fatal(err)
	}

	for _, action := range []Action{
		WriteFile{Path: ".git/config", Content: "[core]"},
		EditFile{Path: ".verifix/signals/kill", Old: "now", New: "later"},
	} {
		result, err := executor.Dispatch(context.Background(), action)
		if err != nil {
			t.Fatalf("Dispatch(%v): %v", action, err)
		}
		if !result.IsError || !strings.Contains(result.Content, "refusing to modify") {
			t.Errorf("Dispatch(%v) = %+v, want protected-path rejection", action, result)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".git")); !os.IsNotExist(err) {
		t.Error(".git should not have been created")
	}
	if got, _ := os.ReadFile(signal); string(got) != "now" {
		t.Errorf("signal file modified: %q", got)
	}

	// Reading protected files is allowed.
	result, err := executor.Dispatch(context.Background(), ReadFile{Path: ".verifix/signals/kill"})
	if err != nil || result.IsError {
		t.Errorf("read protected file: %+v, %v", result, err)
	}
}

func TestToolExecutor_CustomProtection(t *testing.T) {
	executor, dir := newTestExecutor(t)
	executor.Protect(protect.New("tests/**"))

	result, err := executor.Dispatch(context.Background(), WriteFile{Path: "tests/test_orders.py", Content: "pass\n"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.IsError {
		t.Errorf("write into tests/ should be refused: %+v", result)
	}

	result, err = executor.Dispatch(context.Background(), WriteFile{Path: ".git/info/exclude", Content: "x\n"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.IsError {
		t.Errorf("custom patterns replace the defaults: %+v", result)
	}
	if _, err := os.Stat(filepath.Join(dir, ".git", "info", "exclude")); err != nil {
		t.Errorf("expected file to be written: %v", err)
	}
}

func TestToolExecutor_Bash(t *testing.T) {
	executor, dir := newTestExecutor(t)

	result, err := executor.Dispatch(context.Background(), RunBash{Command: "pwd && echo hello"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.IsError {
		t.Fatalf("Bash failed: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") || !strings.Contains(result.Content, "exit code: 0") {
		t.Errorf("Content = %q", result.Content)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	if !strings.Contains(result.Content, dir) && !strings.Contains(result.Content, resolved) {
		t.Errorf("command did not run in repo dir: %q", result.Content)
	}
}

func TestToolExecutor_Bash_Failure(t *testing.T) {
	executor, _ := newTestExecutor(t)

	result, err := executor.Dispatch(context.Background(), RunBash{Command: "echo boom >&2; exit 3"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.IsError {
		t.Error("Expected error result for non-zero exit")
	}
	if !strings.Contains(result.Content, "exit code: 3") || !strings.Contains(result.Content, "boom") {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestToolExecutor_Bash_Timeout(t *testing.T) {
	executor := NewToolExecutor(t.TempDir(), nil, 200*time.Millisecond)

	result, err := executor.Dispatch(context.Background(), RunBash{Command: "sleep 5"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !result.IsError || !strings.Contains(result.Content, "timed out") {
		t.Errorf("result = %+v, want timeout error result", result)
	}
}

func TestToolExecutor_Canceled(t *testing.T) {
	executor, _ := newTestExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Dispatch(ctx, ReadFile{Path: "a.py"})
	if !errkind.Is(err, errkind.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("x", maxTranscriptOutput+10)
	got := truncate(long)
	if !strings.HasSuffix(got, "(output truncated)") {
		t.Error("long output not truncated")
	}
	if truncate("short") != "short" {
		t.Error("short output changed")
	}
}

func TestFormatToolAction(t *testing.T) {
	tests := []struct {
		action Action
		want   string
	}{
		{ReadFile{Path: "/repo/openlibrary/core/imports.py"}, "Reading imports.py"},
		{WriteFile{Path: "foo/__init__.py"}, "Writing __init__.py"},
		{EditFile{Path: "a.py"}, "Editing a.py"},
		{RunBash{Command: "pytest -q tests"}, "Running pytest"},
	}
	for _, tt := range tests {
		if got := FormatToolAction(tt.action); got != tt.want {
			t.Errorf("FormatToolAction(%v) = %q, want %q", tt.action, got, tt.want)
		}
	}
}
