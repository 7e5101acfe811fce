// Package errkind tags errors with the failure kinds a run must tell apart.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can handle each case distinctly.
type Kind string

const (
	// MissingDependency is a module the test run could not import.
	MissingDependency Kind = "missing_dependency"
	// PatchTargetNotFound means no file contains the class being patched.
	PatchTargetNotFound Kind = "patch_target_not_found"
	// MalformedAgentResponse is a reply that is not exactly one valid action.
	MalformedAgentResponse Kind = "malformed_agent_response"
	// ExternalService is a failed call to the reasoning service.
	ExternalService Kind = "external_service"
	// Timeout means a blocking call hit its deadline.
	Timeout Kind = "timeout"
	// LaunchFailed means a command could not be started at all.
	LaunchFailed Kind = "launch_failed"
	// MissingCredential means the reasoning-service secret is absent.
	MissingCredential Kind = "missing_credential"
	// Canceled means the run was stopped by a signal or its context.
	Canceled Kind = "canceled"
	// Config is an invalid configuration value.
	Config Kind = "config"
)

// Fatal reports whether an error of this kind must abort the run.
func (k Kind) Fatal() bool {
	switch k {
	case MissingDependency, MalformedAgentResponse:
		return false
	default:
		return true
	}
}

// Error is an error carrying an explicit kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and the operation that failed.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a format string.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost kinded error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromContext maps a context error onto Timeout or Canceled.
// It returns nil when ctx has not finished.
func FromContext(ctx context.Context, op string) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return New(Timeout, op, err)
	default:
		return New(Canceled, op, err)
	}
}
