package models

import "time"

// Verdict is the literal classification of a run.
type Verdict string

const (
	// VerdictCorrected means failures existed before and none remain.
	VerdictCorrected Verdict = "CORRECTED"
	// VerdictStillFailing means failures existed before and some remain.
	VerdictStillFailing Verdict = "STILL_FAILING"
	// VerdictAlreadyPassing means the run started with no failures.
	VerdictAlreadyPassing Verdict = "ALREADY_PASSING"
)

// Valid returns true if the verdict is a known value.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictCorrected, VerdictStillFailing, VerdictAlreadyPassing:
		return true
	default:
		return false
	}
}

// Conclusion is the human-readable line written to the post-validation log.
func (v Verdict) Conclusion() string {
	switch v {
	case VerdictCorrected:
		return "THE ERROR IS CORRECTED"
	case VerdictStillFailing:
		return "ERRORS STILL PRESENT"
	default:
		return "NO ERRORS TO CORRECT - TESTS WERE ALREADY PASSING"
	}
}

// ComputeVerdict derives the verdict from the pre and post error counts only.
// A run that starts green is ALREADY_PASSING regardless of the post count.
func ComputeVerdict(preErrors, postErrors int) Verdict {
	switch {
	case preErrors == 0:
		return VerdictAlreadyPassing
	case postErrors == 0:
		return VerdictCorrected
	default:
		return VerdictStillFailing
	}
}

// Strategy selects how the cycle tries to change the code.
type Strategy string

const (
	// StrategyPatch applies the deterministic structural patch.
	StrategyPatch Strategy = "patch"
	// StrategyAgent runs the tool-dispatch loop.
	StrategyAgent Strategy = "agent"
	// StrategyBoth patches first and falls back to the loop if tests still fail.
	StrategyBoth Strategy = "both"
	// StrategyNone only validates.
	StrategyNone Strategy = "none"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPatch, StrategyAgent, StrategyBoth, StrategyNone:
		return true
	default:
		return false
	}
}

// UsesAgent reports whether the strategy may call the reasoning service.
func (s Strategy) UsesAgent() bool {
	return s == StrategyAgent || s == StrategyBoth
}

// RunReport is the final, derived record of a run. Build it with Derive.
type RunReport struct {
	RunID         string            `json:"run_id"`
	Strategy      Strategy          `json:"strategy"`
	Pre           ValidationSummary `json:"pre"`
	Post          ValidationSummary `json:"post"`
	FixApplied    bool              `json:"fix_applied"`
	ChangeApplied bool              `json:"change_applied"`
	TestsPassing  bool              `json:"tests_passing"`
	Verdict       Verdict           `json:"verdict"`
	Patch         *PatchRecord      `json:"patch,omitempty"`
	Agent         *AgentSummary     `json:"agent,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	Duration      time.Duration     `json:"duration"`
}

// AgentSummary is the persisted view of an AgentOutcome.
type AgentSummary struct {
	Status     AgentStatus `json:"status"`
	Iterations int         `json:"iterations"`
	Malformed  int         `json:"malformed"`
	Mutated    bool        `json:"mutated"`
}

// Summarize reduces an outcome to its persisted view.
func (o AgentOutcome) Summarize() *AgentSummary {
	return &AgentSummary{
		Status:     o.Status,
		Iterations: o.Iterations(),
		Malformed:  o.Malformed,
		Mutated:    o.Mutated,
	}
}

// Derive builds a RunReport from the observed pre and post results.
// The verdict depends only on the error counts; fixApplied records whether
// the strategy mutated the tree.
func Derive(pre, post ValidationResult, fixApplied bool) RunReport {
	return RunReport{
		Pre:          pre.Summary(),
		Post:         post.Summary(),
		FixApplied:   fixApplied,
		TestsPassing: post.ErrorCount == 0,
		Verdict:      ComputeVerdict(pre.ErrorCount, post.ErrorCount),
	}
}

// Succeeded reports whether the run should exit with status zero.
func (r RunReport) Succeeded() bool {
	if r.Agent != nil && r.Agent.Status == AgentStatusFailed {
		return false
	}
	return r.Post.ExitCode == 0 && r.Post.ErrorCount == 0
}
