package models

// ToolName is one of the closed set of tools the reasoning service may call.
type ToolName string

const (
	// ToolReadFile returns a file's contents.
	ToolReadFile ToolName = "read_file"
	// ToolWriteFile replaces a file's full contents.
	ToolWriteFile ToolName = "write_file"
	// ToolEditFile replaces one exact substring occurrence inside a file.
	ToolEditFile ToolName = "edit_file"
	// ToolRunBash runs a shell command in the repository.
	ToolRunBash ToolName = "run_bash"
)

// Valid returns true if the tool belongs to the registry.
func (t ToolName) Valid() bool {
	switch t {
	case ToolReadFile, ToolWriteFile, ToolEditFile, ToolRunBash:
		return true
	default:
		return false
	}
}

// Mutating reports whether dispatching the tool may change the working tree.
func (t ToolName) Mutating() bool {
	return t == ToolWriteFile || t == ToolEditFile || t == ToolRunBash
}

// AgentStep is one turn of the tool-dispatch loop.
type AgentStep struct {
	// Iteration is the 1-based turn number.
	Iteration int `json:"iteration"`
	// Prompt is the text sent to the reasoning service for this turn.
	Prompt string `json:"-"`
	// Response is the raw action text returned by the reasoning service.
	Response string `json:"-"`
	// Tool is the dispatched tool, empty for malformed turns.
	Tool ToolName `json:"tool,omitempty"`
	// Args are the validated tool arguments.
	Args map[string]string `json:"args,omitempty"`
	// Result is the tool output, or the parse failure for malformed turns.
	Result string `json:"result"`
	// IsError is set when the tool reported an error.
	IsError bool `json:"is_error,omitempty"`
	// Malformed is set when the response could not be parsed into an action.
	Malformed bool `json:"malformed,omitempty"`
	// TestExitCode is the exit code of the success check after dispatch, -1 if none ran.
	TestExitCode int `json:"test_exit_code"`
}

// AgentStatus is the terminal state of the tool-dispatch loop.
type AgentStatus string

const (
	// AgentStatusDone means the test command passed after a dispatch.
	AgentStatusDone AgentStatus = "done"
	// AgentStatusFailed means the iteration budget ran out without success.
	AgentStatusFailed AgentStatus = "failed"
)

// AgentOutcome is what the tool-dispatch loop hands back to the cycle.
type AgentOutcome struct {
	// Status is the terminal loop state.
	Status AgentStatus `json:"status"`
	// Steps is the append-only turn history.
	Steps []AgentStep `json:"steps"`
	// Mutated is set once any dispatched tool may have changed the tree.
	Mutated bool `json:"mutated"`
	// Malformed counts turns rejected at the parse boundary.
	Malformed int `json:"malformed"`
}

// Iterations returns the number of turns consumed.
func (o AgentOutcome) Iterations() int {
	return len(o.Steps)
}
