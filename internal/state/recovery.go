package state

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// InterruptedRun describes a run whose process died before finishing.
type InterruptedRun struct {
	RunID     string
	Repo      string
	PID       int
	StartedAt time.Time
	Results   int
}

// RecoveryManager detects runs left active by a crashed or killed process.
type RecoveryManager struct {
	db *DB
	// alive is swapped in tests.
	alive func(pid int) bool
}

// NewRecoveryManager creates a new RecoveryManager with the given database.
func NewRecoveryManager(db *DB) *RecoveryManager {
	return &RecoveryManager{db: db, alive: isProcessAlive}
}

// MarkInterrupted finds active runs whose process is gone, marks them
// interrupted and returns them. Runs owned by a live process are left alone.
func (rm *RecoveryManager) MarkInterrupted() ([]InterruptedRun, error) {
	runs, err := rm.db.activeRuns()
	if err != nil {
		return nil, err
	}

	var out []InterruptedRun
	for _, r := range runs {
		if r.PID > 0 && rm.alive(r.PID) {
			continue
		}
		results, err := rm.db.ListResults(r.ID)
		if err != nil {
			return nil, fmt.Errorf("list results for %s: %w", r.ID, err)
		}
		if err := rm.db.FinishRun(r.ID, RunInterrupted, "process exited before the run finished"); err != nil {
			return nil, err
		}
		out = append(out, InterruptedRun{
			RunID:     r.ID,
			Repo:      r.Repo,
			PID:       r.PID,
			StartedAt: r.StartedAt,
			Results:   len(results),
		})
	}
	return out, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds, so we need to send signal 0
	err = process.Signal(syscall.Signal(0))
	return err == nil
}
