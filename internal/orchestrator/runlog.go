package orchestrator

import (
	"sync"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// ResultRecorder persists results as they arrive. Record is called from
// worker goroutines and must be safe for concurrent use.
type ResultRecorder interface {
	Record(res models.WorkResult) error
}

// RunLog is the append-only, completion-ordered list of results of one run.
type RunLog struct {
	mu      sync.Mutex
	results []models.WorkResult
}

// Append adds one final result.
func (l *RunLog) Append(res models.WorkResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
}

// Results returns a copy of the results in completion order.
func (l *RunLog) Results() []models.WorkResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.WorkResult(nil), l.results...)
}

// Len returns the number of results recorded.
func (l *RunLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}
