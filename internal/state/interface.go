package state

import (
	"io"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// RunStore handles run-related persistence operations.
type RunStore interface {
	CreateRun(r *Run) error
	GetRun(id string) (*Run, error)
	FinishRun(id string, status RunStatus, errMsg string) error
	ListRuns(limit int) ([]Run, error)
}

// ResultStore handles per-item result persistence.
type ResultStore interface {
	RecordResult(runID string, res models.WorkResult) error
	ListResults(runID string) ([]Result, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store composes the focused store interfaces.
type Store interface {
	io.Closer
	Migrator
	RunStore
	ResultStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store       = (*DB)(nil)
	_ Migrator    = (*DB)(nil)
	_ RunStore    = (*DB)(nil)
	_ ResultStore = (*DB)(nil)
)
