package models

// PatchRecord describes the single structural patch of a run.
type PatchRecord struct {
	// TargetFile is the repository-relative file holding the class.
	TargetFile string `json:"target_file"`
	// AlreadyPresent is set when the method signature was found before writing.
	AlreadyPresent bool `json:"already_present"`
	// Applied is set when the file was rewritten.
	Applied bool `json:"applied"`
	// InsertionLine is the 1-based line of the inserted definition, 0 if none.
	InsertionLine int `json:"insertion_line"`
	// Anchor names how the insertion point was found ("syntax_tree" or "line_scan").
	Anchor string `json:"anchor,omitempty"`
}
