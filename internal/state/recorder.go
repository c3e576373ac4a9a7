package state

import "github.com/ShayCichocki/issuepilot/pkg/models"

// Recorder writes the results of one run to the database as they complete.
type Recorder struct {
	store ResultStore
	runID string
}

// NewRecorder returns a recorder for runID.
func NewRecorder(store ResultStore, runID string) *Recorder {
	return &Recorder{store: store, runID: runID}
}

// Record stores res under the recorder's run.
func (r *Recorder) Record(res models.WorkResult) error {
	return r.store.RecordResult(r.runID, res)
}
