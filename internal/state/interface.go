package state

import "io"

// RunStore handles run-history persistence.
type RunStore interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	FinishRun(r *Run) error
	ListRuns(limit int) ([]Run, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// HistoryStore is the full state backend used by the CLI.
type HistoryStore interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ HistoryStore = (*DB)(nil)
	_ Migrator     = (*DB)(nil)
	_ RunStore     = (*DB)(nil)
)
