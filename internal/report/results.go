package report

import (
	"github.com/ShayCichocki/verifix/internal/errkind"
	"github.com/ShayCichocki/verifix/pkg/models"
)

// Results is the flat record written to the results file.
type Results struct {
	RunID         string               `json:"run_id,omitempty"`
	PreErrors     int                  `json:"pre_errors"`
	PostErrors    int                  `json:"post_errors"`
	TestsPassing  bool                 `json:"tests_passing"`
	ChangeApplied bool                 `json:"change_applied"`
	FixApplied    bool                 `json:"fix_applied"`
	Verdict       models.Verdict       `json:"verdict,omitempty"`
	Strategy      models.Strategy      `json:"strategy,omitempty"`
	PrePassed     int                  `json:"pre_passed"`
	PostPassed    int                  `json:"post_passed"`
	Patch         *models.PatchRecord  `json:"patch,omitempty"`
	Agent         *models.AgentSummary `json:"agent,omitempty"`
	Diff          *DiffStats           `json:"diff,omitempty"`
	Fatal         string               `json:"fatal,omitempty"`
	FatalKind     errkind.Kind         `json:"fatal_kind,omitempty"`
}

// DiffStats summarizes the diff artifact.
type DiffStats struct {
	Files   []string `json:"files"`
	Added   int      `json:"added"`
	Deleted int      `json:"deleted"`
}

// FromReport flattens a run report into a results object.
func FromReport(r models.RunReport) Results {
	return Results{
		RunID:         r.RunID,
		PreErrors:     r.Pre.ErrorCount,
		PostErrors:    r.Post.ErrorCount,
		TestsPassing:  r.TestsPassing,
		ChangeApplied: r.ChangeApplied,
		FixApplied:    r.FixApplied,
		Verdict:       r.Verdict,
		Strategy:      r.Strategy,
		PrePassed:     r.Pre.PassCount,
		PostPassed:    r.Post.PassCount,
		Patch:         r.Patch,
		Agent:         r.Agent,
	}
}

// FatalResults builds the results object for a run that aborted.
func FatalResults(runID string, strategy models.Strategy, err error) Results {
	return Results{
		RunID:     runID,
		Strategy:  strategy,
		Fatal:     err.Error(),
		FatalKind: errkind.KindOf(err),
	}
}
