package state

import (
	"fmt"
	"os"
	"syscall"
)

// RecoverInterrupted marks runs left in the running state by a process that
// no longer exists as interrupted. It returns the runs it changed.
func (db *DB) RecoverInterrupted() ([]Run, error) {
	running, err := db.ListRunsByStatus(RunRunning)
	if err != nil {
		return nil, fmt.Errorf("list running runs: %w", err)
	}

	var recovered []Run
	for _, r := range running {
		if r.PID > 0 && isProcessAlive(r.PID) {
			continue
		}
		if _, err := db.Exec(`UPDATE runs SET status = ?, fatal = ? WHERE id = ?`,
			string(RunInterrupted), "process exited before the run finished", r.ID); err != nil {
			return recovered, fmt.Errorf("mark run %s interrupted: %w", r.ID, err)
		}
		r.Status = RunInterrupted
		recovered = append(recovered, r)
	}
	return recovered, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 probes for existence.
	return process.Signal(syscall.Signal(0)) == nil
}
