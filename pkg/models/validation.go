package models

import "time"

// ValidationResult is the outcome of a single test-command execution.
// It is built once per execution and never mutated afterwards.
type ValidationResult struct {
	// ExitCode is the exit status reported by the shell.
	ExitCode int `json:"exit_code"`
	// Stdout is the verbatim standard output of the command.
	Stdout string `json:"-"`
	// Stderr is the verbatim standard error of the command.
	Stderr string `json:"-"`
	// ErrorCount is the number of lines carrying a failure marker.
	ErrorCount int `json:"error_count"`
	// PassCount is the passed-case count from the summary line.
	PassCount int `json:"pass_count"`
	// WarningCount is the warning count from the summary line.
	WarningCount int `json:"warning_count"`
	// MissingDependencies is the sorted set of unresolved module names.
	MissingDependencies []string `json:"missing_dependencies,omitempty"`
	// Duration is how long the command ran.
	Duration time.Duration `json:"duration"`
	// TimedOut is set when the command was killed at its deadline.
	TimedOut bool `json:"timed_out,omitempty"`
}

// Passed reports whether the command exited cleanly with no failure lines.
func (r ValidationResult) Passed() bool {
	return r.ExitCode == 0 && r.ErrorCount == 0
}

// Summary drops the raw output and keeps the derived counts.
func (r ValidationResult) Summary() ValidationSummary {
	deps := make([]string, len(r.MissingDependencies))
	copy(deps, r.MissingDependencies)
	return ValidationSummary{
		ExitCode:            r.ExitCode,
		ErrorCount:          r.ErrorCount,
		PassCount:           r.PassCount,
		WarningCount:        r.WarningCount,
		MissingDependencies: deps,
	}
}

// ValidationSummary is the comparable, output-free view of a ValidationResult.
type ValidationSummary struct {
	ExitCode            int      `json:"exit_code"`
	ErrorCount          int      `json:"error_count"`
	PassCount           int      `json:"pass_count"`
	WarningCount        int      `json:"warning_count"`
	MissingDependencies []string `json:"missing_dependencies,omitempty"`
}

// Stage names a validation stage of a run.
type Stage string

const (
	// StagePre is the validation run before any change is applied.
	StagePre Stage = "pre_validation"
	// StagePost is the validation run after the strategy has been applied.
	StagePost Stage = "post_validation"
	// StageAgent is a success check inside the tool-dispatch loop.
	StageAgent Stage = "agent_check"
)
