package models

import "time"

// Outcome is the terminal state of one WorkItem.
type Outcome string

const (
	// OutcomeSuccess means the agent exited cleanly and a linked PR exists.
	OutcomeSuccess Outcome = "success"
	// OutcomeAgentFailure means the agent exited non-zero or timed out.
	OutcomeAgentFailure Outcome = "agent_failure"
	// OutcomeResourceRejected means the resource gate refused the dispatch.
	OutcomeResourceRejected Outcome = "resource_rejected"
	// OutcomeAborted means preparation failed before the agent started,
	// or the run was cancelled.
	OutcomeAborted Outcome = "aborted"
	// OutcomeDryRun means discovery and prompt construction ran without
	// invoking the agent or touching remote state.
	OutcomeDryRun Outcome = "dry_run"
)

// Valid returns true if the outcome is a known value.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeAgentFailure, OutcomeResourceRejected, OutcomeAborted, OutcomeDryRun:
		return true
	default:
		return false
	}
}

// Succeeded reports whether the outcome counts towards full success.
// Dry runs count, since nothing was attempted.
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess || o == OutcomeDryRun
}

// WorkResult is produced exactly once per dispatched WorkItem. Treat it as
// immutable once created.
type WorkResult struct {
	Item        WorkItem  `json:"item" yaml:"item"`
	Slot        int       `json:"slot" yaml:"slot"`
	Outcome     Outcome   `json:"outcome" yaml:"outcome"`
	PRURL       string    `json:"pr_url,omitempty" yaml:"pr_url,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty" yaml:"error_detail,omitempty"`
	ExitCode    int       `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time `json:"finished_at" yaml:"finished_at"`
}

// Duration returns how long the item ran.
func (r WorkResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
