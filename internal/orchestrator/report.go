package orchestrator

import (
	"time"

	"github.com/ShayCichocki/issuepilot/internal/source"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Report summarises one run.
type Report struct {
	RunID      string              `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time           `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time           `json:"finished_at" yaml:"finished_at"`
	Results    []models.WorkResult `json:"results" yaml:"results"`
	Skipped    []source.Skip       `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	MaxBusy    int                 `json:"max_busy" yaml:"max_busy"`
	// Error is the reason the run stopped early, if it did.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Counts tallies results by outcome.
func (r *Report) Counts() map[models.Outcome]int {
	counts := make(map[models.Outcome]int)
	for _, res := range r.Results {
		counts[res.Outcome]++
	}
	return counts
}

// AllSucceeded reports whether every result counts as success.
func (r *Report) AllSucceeded() bool {
	for _, res := range r.Results {
		if !res.Outcome.Succeeded() {
			return false
		}
	}
	return true
}

// Duration returns the wall-clock time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
