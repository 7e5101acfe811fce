package control

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestWatcher(t *testing.T, onKill func()) *Watcher {
	t.Helper()
	w, err := NewWatcher(t.TempDir(), onKill, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Close)
	return w
}

func TestNewWatcher_CreatesSignalsDir(t *testing.T) {
	repo := t.TempDir()
	w, err := NewWatcher(repo, nil, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	want := filepath.Join(repo, ".verifix", "signals")
	if w.Dir() != want {
		t.Errorf("Dir() = %q, want %q", w.Dir(), want)
	}
	if info, err := os.Stat(want); err != nil || !info.IsDir() {
		t.Errorf("signals dir not created: %v", err)
	}
}

func TestWatcher_Kill(t *testing.T) {
	var fired atomic.Int32
	w := newTestWatcher(t, func() { fired.Add(1) })

	if w.ShouldStop() {
		t.Fatal("ShouldStop before any signal")
	}
	if err := w.SendKill(); err != nil {
		t.Fatalf("SendKill: %v", err)
	}
	if !w.ShouldStop() {
		t.Error("ShouldStop = false after kill file")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Errorf("onKill fired %d times, want 1", fired.Load())
	}
}

func TestWatcher_ClearSignals(t *testing.T) {
	w := newTestWatcher(t, nil)
	if err := w.SendKill(); err != nil {
		t.Fatal(err)
	}
	if err := w.SendPause(); err != nil {
		t.Fatal(err)
	}

	w.ClearSignals()

	if w.ShouldStop() {
		t.Error("ShouldStop after ClearSignals")
	}
	if w.Paused() {
		t.Error("Paused after ClearSignals")
	}
}

func TestWatcher_WaitWhilePaused(t *testing.T) {
	w := newTestWatcher(t, nil)
	if err := w.SendPause(); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- w.WaitWhilePaused(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("WaitWhilePaused returned while paused")
	case <-time.After(100 * time.Millisecond):
	}

	if err := w.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitWhilePaused: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("WaitWhilePaused did not return after resume")
	}
}

func TestWatcher_WaitWhilePaused_ContextCanceled(t *testing.T) {
	w := newTestWatcher(t, nil)
	if err := w.SendPause(); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := w.WaitWhilePaused(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestWatcher_WaitWhilePaused_NotPaused(t *testing.T) {
	w := newTestWatcher(t, nil)
	if err := w.WaitWhilePaused(context.Background()); err != nil {
		t.Errorf("WaitWhilePaused: %v", err)
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Close()
	w.Close()
}
