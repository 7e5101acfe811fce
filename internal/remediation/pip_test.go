package remediation

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/verifix/internal/exec"
)

type recordingRunner struct {
	name     string
	args     []string
	dir      string
	exitCode int
	stderr   string
}

func (r *recordingRunner) Run(_ context.Context, workDir, name string, args ...string) (exec.Result, error) {
	r.name, r.args, r.dir = name, args, workDir
	return exec.Result{ExitCode: r.exitCode, Stderr: r.stderr}, nil
}

func (r *recordingRunner) RunShell(ctx context.Context, workDir, command string) (exec.Result, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

func (r *recordingRunner) Exists(context.Context, string, string) bool { return false }

func TestPip_Commands(t *testing.T) {
	runner := &recordingRunner{}
	pip := NewPip(runner, "python3", "/repo", 0, nil)

	if err := pip.Install(context.Background(), "foo"); err != nil {
		t.Fatal(err)
	}
	if runner.name != "python3" || !reflect.DeepEqual(runner.args, []string{"-m", "pip", "install", "foo"}) {
		t.Errorf("install ran %s %v", runner.name, runner.args)
	}
	if runner.dir != "/repo" {
		t.Errorf("dir = %q", runner.dir)
	}

	if err := pip.Uninstall(context.Background(), "foo"); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(runner.args, []string{"-m", "pip", "uninstall", "-y", "foo"}) {
		t.Errorf("uninstall ran %v", runner.args)
	}
}

func TestPip_NonZeroExit(t *testing.T) {
	runner := &recordingRunner{exitCode: 1, stderr: "line1\nERROR: No matching distribution found for foo\n"}
	pip := NewPip(runner, "", "", 0, nil)

	err := pip.Install(context.Background(), "foo")
	if err == nil {
		t.Fatal("expected an error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "No matching distribution") {
		t.Errorf("error should carry pip's stderr: %v", err)
	}
	if runner.name != "python" {
		t.Errorf("default interpreter = %q, want python", runner.name)
	}
}
