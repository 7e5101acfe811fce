// Package git captures the working-tree state at run start and reports the
// diff against it at the end.
package git

import "context"

// Baseline is the working-tree state a run starts from.
type Baseline struct {
	// Commit holds the tracked files as they were at run start: a dangling
	// stash commit for a dirty tree, HEAD for a clean one, "" for an unborn
	// branch.
	Commit string
	// Untracked lists the untracked files that already existed. They are
	// left out of the diff.
	Untracked []string
}

// DiffSource defines the git operations a run needs.
// This abstraction allows faking the repository in tests.
type DiffSource interface {
	// Snapshot records the working tree before the run changes anything.
	Snapshot(ctx context.Context) (Baseline, error)
	// Diff returns the unified diff of the working tree against base,
	// including files created since the snapshot.
	Diff(ctx context.Context, base Baseline) (string, error)
}
