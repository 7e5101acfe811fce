package models

// ActionKind is the repair performed on missing dependencies during one attempt.
type ActionKind string

const (
	// ActionInstall installs the package through the package manager.
	ActionInstall ActionKind = "install"
	// ActionReinstall uninstalls and then installs the package.
	ActionReinstall ActionKind = "reinstall"
	// ActionStubCreated synthesizes an empty placeholder module in the repository.
	ActionStubCreated ActionKind = "stub_created"
	// ActionNone means the attempt found nothing to repair.
	ActionNone ActionKind = "none"
)

// Valid returns true if the action kind is a known value.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionInstall, ActionReinstall, ActionStubCreated, ActionNone:
		return true
	default:
		return false
	}
}

// RemediationAttempt records one iteration of the remediation loop.
type RemediationAttempt struct {
	// Attempt is the 1-based attempt number.
	Attempt int `json:"attempt"`
	// ActedOn lists the dependencies repaired during this attempt, in order.
	ActedOn []string `json:"acted_on,omitempty"`
	// Action is the kind of repair performed.
	Action ActionKind `json:"action"`
	// Failed lists dependencies whose repair command itself failed.
	Failed []string `json:"failed,omitempty"`
}

// RemediationOutcome is what the remediation loop hands back for one stage.
type RemediationOutcome struct {
	// Stage is the validation stage this outcome belongs to.
	Stage Stage `json:"stage"`
	// Baseline is the first observation of the stage, before any repair.
	Baseline ValidationResult `json:"baseline"`
	// Final is the last observation of the stage.
	Final ValidationResult `json:"final"`
	// Attempts holds every loop iteration in order.
	Attempts []RemediationAttempt `json:"attempts"`
	// Executions is the number of executor invocations made.
	Executions int `json:"executions"`
	// ActedOn is the cumulative set of dependencies repaired, in first-seen order.
	ActedOn []string `json:"acted_on,omitempty"`
	// Unresolved lists dependencies still missing when the budget ran out.
	Unresolved []string `json:"unresolved,omitempty"`
}

// Exhausted reports whether the loop stopped with dependencies still missing.
func (o RemediationOutcome) Exhausted() bool {
	return len(o.Unresolved) > 0
}
