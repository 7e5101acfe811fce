package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	err := New(PatchTargetNotFound, "patch.locate", base)

	if got := KindOf(err); got != PatchTargetNotFound {
		t.Errorf("KindOf() = %q, want %q", got, PatchTargetNotFound)
	}
	if !errors.Is(err, base) {
		t.Error("kinded error should unwrap to its cause")
	}

	wrapped := fmt.Errorf("cycle: %w", err)
	if !Is(wrapped, PatchTargetNotFound) {
		t.Error("Is should see through fmt.Errorf wrapping")
	}
	if Is(wrapped, Timeout) {
		t.Error("Is should not match a different kind")
	}
	if KindOf(base) != "" {
		t.Error("plain error should have no kind")
	}
	if Is(nil, Timeout) {
		t.Error("nil error has no kind")
	}
}

func TestError_Message(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Kind: Timeout, Op: "exec", Err: errors.New("deadline")}, "exec: timeout: deadline"},
		{&Error{Kind: Timeout, Err: errors.New("deadline")}, "timeout: deadline"},
		{&Error{Kind: Canceled, Op: "agent"}, "agent: canceled"},
		{&Error{Kind: Config}, "config"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestKind_Fatal(t *testing.T) {
	recoverable := []Kind{MissingDependency, MalformedAgentResponse}
	for _, k := range recoverable {
		if k.Fatal() {
			t.Errorf("%s should be recoverable", k)
		}
	}
	fatal := []Kind{PatchTargetNotFound, ExternalService, Timeout, LaunchFailed, MissingCredential, Canceled, Config}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%s should be fatal", k)
		}
	}
}

func TestFromContext(t *testing.T) {
	if err := FromContext(context.Background(), "op"); err != nil {
		t.Errorf("live context should give nil, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if err := FromContext(ctx, "op"); !Is(err, Timeout) {
		t.Errorf("expired context should map to Timeout, got %v", err)
	}

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	if err := FromContext(ctx2, "op"); !Is(err, Canceled) {
		t.Errorf("canceled context should map to Canceled, got %v", err)
	}
}
