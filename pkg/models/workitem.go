package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidWorkItem is returned when a WorkItem violates its construction
// contract. It indicates a bug rather than an operational condition.
var ErrInvalidWorkItem = errors.New("invalid work item")

// Mode selects between starting new work and resuming an existing pull request.
type Mode string

const (
	// ModeFresh is an issue with no open pull request.
	ModeFresh Mode = "fresh"
	// ModeContinue resumes an issue that already has an open pull request.
	ModeContinue Mode = "continue"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	switch m {
	case ModeFresh, ModeContinue:
		return true
	default:
		return false
	}
}

// WorkItem is one unit of dispatchable work. Its Mode is fixed when the item
// is created; workers never change it.
type WorkItem struct {
	Issue Issue `json:"issue" yaml:"issue"`
	Mode  Mode  `json:"mode" yaml:"mode"`
	// BranchName and WorkingDirectory are pre-set for continue items and
	// allocated by the worker for fresh items.
	BranchName       string `json:"branch_name,omitempty" yaml:"branch_name,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty" yaml:"working_directory,omitempty"`
	PullRequest      *PRRef `json:"pull_request,omitempty" yaml:"pull_request,omitempty"`
	MergeStateStatus string `json:"merge_state_status,omitempty" yaml:"merge_state_status,omitempty"`
	// UnresolvedComments summarises open review threads on PullRequest.
	UnresolvedComments []string `json:"unresolved_comments,omitempty" yaml:"unresolved_comments,omitempty"`
}

// HasIssueNumber reports whether the item originates from an issue rather
// than only from a pull request.
func (w WorkItem) HasIssueNumber() bool {
	return w.Issue.Ref.Number > 0
}

// Key identifies the work for the one-in-flight-per-issue rule. Items
// without an issue number are keyed by their pull request.
func (w WorkItem) Key() string {
	if w.HasIssueNumber() {
		return w.Issue.Ref.Key()
	}
	if w.PullRequest != nil {
		return "pr:" + strings.ToLower(w.PullRequest.String())
	}
	return ""
}

// Label returns a short human-readable identity for logs and reports.
func (w WorkItem) Label() string {
	if w.HasIssueNumber() {
		return w.Issue.Ref.String()
	}
	if w.PullRequest != nil {
		return w.PullRequest.Repo.String() + " PR #" + strconv.Itoa(w.PullRequest.Number)
	}
	return "(unidentified)"
}

// Validate checks the construction contract of the item.
func (w WorkItem) Validate() error {
	if !w.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidWorkItem, w.Mode)
	}
	if w.Issue.Ref.Repo.IsZero() {
		return fmt.Errorf("%w: missing repository", ErrInvalidWorkItem)
	}
	switch w.Mode {
	case ModeFresh:
		if !w.HasIssueNumber() {
			return fmt.Errorf("%w: fresh item needs an issue number", ErrInvalidWorkItem)
		}
		if w.PullRequest != nil {
			return fmt.Errorf("%w: fresh item %s carries a pull request", ErrInvalidWorkItem, w.Label())
		}
	case ModeContinue:
		if w.PullRequest == nil || w.PullRequest.Number <= 0 {
			return fmt.Errorf("%w: continue item %s has no pull request", ErrInvalidWorkItem, w.Label())
		}
		if w.BranchName == "" || w.WorkingDirectory == "" {
			return fmt.Errorf("%w: continue item %s has no branch or working directory", ErrInvalidWorkItem, w.Label())
		}
	}
	return nil
}
