package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ShayCichocki/verifix/pkg/models"
)

// RunStatus represents the lifecycle state of a recorded run.
type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunFailed      RunStatus = "failed"
	RunInterrupted RunStatus = "interrupted"
)

// Run is one recorded invocation of the verification cycle.
type Run struct {
	ID              string         `json:"id"`
	RepoPath        string         `json:"repo_path"`
	TaskID          string         `json:"task_id,omitempty"`
	Strategy        string         `json:"strategy"`
	Model           string         `json:"model,omitempty"`
	Status          RunStatus      `json:"status"`
	PID             int            `json:"pid,omitempty"`
	Verdict         models.Verdict `json:"verdict,omitempty"`
	PreErrors       int            `json:"pre_errors"`
	PostErrors      int            `json:"post_errors"`
	FixApplied      bool           `json:"fix_applied"`
	ChangeApplied   bool           `json:"change_applied"`
	AgentIterations int            `json:"agent_iterations"`
	Fatal           string         `json:"fatal,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      *time.Time     `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record copies a finished report onto the run.
func (r *Run) Record(rep models.RunReport) {
	r.Verdict = rep.Verdict
	r.PreErrors = rep.Pre.ErrorCount
	r.PostErrors = rep.Post.ErrorCount
	r.FixApplied = rep.FixApplied
	r.ChangeApplied = rep.ChangeApplied
	if rep.Agent != nil {
		r.AgentIterations = rep.Agent.Iterations
	}
	if rep.Succeeded() {
		r.Status = RunCompleted
	} else {
		r.Status = RunFailed
	}
}

// Fail marks the run as aborted by err.
func (r *Run) Fail(err error) {
	r.Status = RunFailed
	r.Fatal = err.Error()
}

const runColumns = `id, repo_path, task_id, strategy, model, status, pid, verdict, pre_errors, post_errors,
	fix_applied, change_applied, agent_iterations, fatal, started_at, finished_at`

// CreateRun inserts a run in the running state, stamping the current PID.
func (db *DB) CreateRun(r *Run) error {
	if r.Status == "" {
		r.Status = RunRunning
	}
	if r.PID == 0 {
		r.PID = os.Getpid()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO runs (id, repo_path, task_id, strategy, model, status, pid, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.RepoPath, r.TaskID, r.Strategy, r.Model, string(r.Status), r.PID, formatTime(r.StartedAt))
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// FinishRun stores the run's outcome and completion time.
func (db *DB) FinishRun(r *Run) error {
	if r.FinishedAt == nil {
		now := time.Now()
		r.FinishedAt = &now
	}
	_, err := db.Exec(`
		UPDATE runs SET status = ?, verdict = ?, pre_errors = ?, post_errors = ?, fix_applied = ?,
			change_applied = ?, agent_iterations = ?, fatal = ?, finished_at = ?
		WHERE id = ?
	`, string(r.Status), string(r.Verdict), r.PreErrors, r.PostErrors, r.FixApplied,
		r.ChangeApplied, r.AgentIterations, r.Fatal, formatTime(*r.FinishedAt), r.ID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID. It returns nil when no run matches.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A non-positive limit returns
// every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.listRuns(query, args...)
}

// ListRunsByStatus returns runs in the given state, most recent first.
func (db *DB) ListRunsByStatus(status RunStatus) ([]Run, error) {
	return db.listRuns(`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at DESC`, string(status))
}

func (db *DB) listRuns(query string, args ...any) ([]Run, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                         Run
		taskID, model, verdict    sql.NullString
		fatal, finishedAt         sql.NullString
		pid                       sql.NullInt64
		startedAt, status         string
		fixApplied, changeApplied bool
	)
	err := s.Scan(&r.ID, &r.RepoPath, &taskID, &r.Strategy, &model, &status, &pid, &verdict,
		&r.PreErrors, &r.PostErrors, &fixApplied, &changeApplied, &r.AgentIterations, &fatal,
		&startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	r.TaskID = taskID.String
	r.Model = model.String
	r.Status = RunStatus(status)
	r.PID = int(pid.Int64)
	r.Verdict = models.Verdict(verdict.String)
	r.FixApplied = fixApplied
	r.ChangeApplied = changeApplied
	r.Fatal = fatal.String
	r.StartedAt, _ = parseTime(startedAt)
	r.FinishedAt = parseNullableTime(finishedAt)
	return &r, nil
}
