package exec

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ShayCichocki/verifix/internal/errkind"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecRunner_SeparatesStreams(t *testing.T) {
	r := NewRunner()
	res, err := r.RunShell(context.Background(), "", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if res.Stdout != "out\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "out\n")
	}
	if res.Stderr != "err\n" {
		t.Errorf("Stderr = %q, want %q", res.Stderr, "err\n")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if res.Combined() != "out\nerr\n" {
		t.Errorf("Combined() = %q", res.Combined())
	}
}

func TestExecRunner_WorkDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	r := NewRunner()
	res, err := r.RunShell(context.Background(), dir, "ls")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if res.Stdout != "marker.txt\n" {
		t.Errorf("Stdout = %q, want marker.txt", res.Stdout)
	}
	if !r.Exists(context.Background(), dir, "marker.txt") {
		t.Error("Exists() = false for a present file")
	}
	if r.Exists(context.Background(), dir, "missing.txt") {
		t.Error("Exists() = true for a missing file")
	}
}

func TestExecRunner_Env(t *testing.T) {
	r := NewRunner("VERIFIX_TEST_VALUE=42")
	res, err := r.RunShell(context.Background(), "", "printf %s \"$VERIFIX_TEST_VALUE\"")
	if err != nil {
		t.Fatalf("RunShell() error = %v", err)
	}
	if res.Stdout != "42" {
		t.Errorf("Stdout = %q, want 42", res.Stdout)
	}
}

func TestExecRunner_LaunchFailure(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "", "verifix-no-such-binary-xyz")
	if !errkind.Is(err, errkind.LaunchFailed) {
		t.Fatalf("error kind = %q, want launch_failed (err=%v)", errkind.KindOf(err), err)
	}
}

func TestExecRunner_Timeout(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := r.RunShell(ctx, "", "echo started; sleep 10")
	if !errkind.Is(err, errkind.Timeout) {
		t.Fatalf("error kind = %q, want timeout (err=%v)", errkind.KindOf(err), err)
	}
	if !res.TimedOut {
		t.Error("TimedOut should be set")
	}
	if res.Stdout != "started\n" {
		t.Errorf("partial output lost: %q", res.Stdout)
	}
	if time.Since(start) > 8*time.Second {
		t.Error("timeout did not kill the child process")
	}
}

func TestExecRunner_Canceled(t *testing.T) {
	r := NewRunner()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.RunShell(ctx, "", "sleep 10")
	if !errkind.Is(err, errkind.Canceled) {
		t.Fatalf("error kind = %q, want canceled (err=%v)", errkind.KindOf(err), err)
	}
}
