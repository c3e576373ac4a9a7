package models

import (
	"errors"
	"testing"
	"time"
)

func TestParseRepoID(t *testing.T) {
	tests := []struct {
		in      string
		want    RepoID
		wantErr bool
	}{
		{"octo/widgets", RepoID{"octo", "widgets"}, false},
		{"  octo/widgets.go  ", RepoID{"octo", "widgets.go"}, false},
		{"octo", RepoID{}, true},
		{"/widgets", RepoID{}, true},
		{"octo/", RepoID{}, true},
		{"octo/widgets/extra", RepoID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRepoID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepoID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseRepoID(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRepoID_Equal(t *testing.T) {
	a := RepoID{"Octo", "Widgets"}
	if !a.Equal(RepoID{"octo", "widgets"}) {
		t.Error("Equal should ignore case")
	}
	if a.Equal(RepoID{"octo", "gadgets"}) {
		t.Error("Equal should compare names")
	}
}

func TestIssueRef_Key(t *testing.T) {
	a := IssueRef{Repo: RepoID{"Octo", "Widgets"}, Number: 7}
	b := IssueRef{Repo: RepoID{"octo", "widgets"}, Number: 7}
	if a.Key() != b.Key() {
		t.Errorf("Key() differs by case: %q vs %q", a.Key(), b.Key())
	}
	if got := a.String(); got != "Octo/Widgets#7" {
		t.Errorf("String() = %q", got)
	}
}

func TestMode_Valid(t *testing.T) {
	tests := []struct {
		mode Mode
		want bool
	}{
		{ModeFresh, true},
		{ModeContinue, true},
		{Mode(""), false},
		{Mode("resume"), false},
	}
	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("Mode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}

func TestOutcome_Valid(t *testing.T) {
	for _, o := range []Outcome{OutcomeSuccess, OutcomeAgentFailure, OutcomeResourceRejected, OutcomeAborted, OutcomeDryRun} {
		if !o.Valid() {
			t.Errorf("Outcome(%q).Valid() = false", o)
		}
	}
	if Outcome("crashed").Valid() {
		t.Error("unknown outcome should be invalid")
	}
	if OutcomeAgentFailure.Succeeded() {
		t.Error("agent_failure should not count as success")
	}
}

func TestWorkItem_Validate(t *testing.T) {
	repo := RepoID{"o", "r"}
	pr := &PRRef{Repo: repo, Number: 72, URL: "https://github.com/o/r/pull/72", HeadBranch: "issue-71-abc"}

	tests := []struct {
		name    string
		item    WorkItem
		wantErr bool
	}{
		{
			name: "fresh with issue",
			item: WorkItem{Issue: Issue{Ref: IssueRef{repo, 71}}, Mode: ModeFresh},
		},
		{
			name:    "fresh without issue number",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{repo, 0}}, Mode: ModeFresh},
			wantErr: true,
		},
		{
			name:    "fresh carrying a PR",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{repo, 71}}, Mode: ModeFresh, PullRequest: pr},
			wantErr: true,
		},
		{
			name: "continue complete",
			item: WorkItem{Issue: Issue{Ref: IssueRef{repo, 71}}, Mode: ModeContinue, PullRequest: pr, BranchName: "issue-71-abc", WorkingDirectory: "/tmp/t"},
		},
		{
			name: "continue from PR only",
			item: WorkItem{Issue: Issue{Ref: IssueRef{repo, 0}}, Mode: ModeContinue, PullRequest: pr, BranchName: "issue-71-abc", WorkingDirectory: "/tmp/t"},
		},
		{
			name:    "continue without PR",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{repo, 71}}, Mode: ModeContinue, BranchName: "b", WorkingDirectory: "/tmp/t"},
			wantErr: true,
		},
		{
			name:    "continue without directory",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{repo, 71}}, Mode: ModeContinue, PullRequest: pr, BranchName: "b"},
			wantErr: true,
		},
		{
			name:    "missing repo",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{Number: 1}}, Mode: ModeFresh},
			wantErr: true,
		},
		{
			name:    "unknown mode",
			item:    WorkItem{Issue: Issue{Ref: IssueRef{repo, 1}}, Mode: "later"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidWorkItem) {
				t.Errorf("Validate() error %v does not wrap ErrInvalidWorkItem", err)
			}
		})
	}
}

func TestWorkItem_KeyAndLabel(t *testing.T) {
	repo := RepoID{"o", "r"}
	issueItem := WorkItem{Issue: Issue{Ref: IssueRef{repo, 5}}}
	if got := issueItem.Key(); got != "o/r#5" {
		t.Errorf("Key() = %q", got)
	}

	prItem := WorkItem{Issue: Issue{Ref: IssueRef{Repo: repo}}, PullRequest: &PRRef{Repo: repo, Number: 9}}
	if got := prItem.Key(); got != "pr:o/r#9" {
		t.Errorf("Key() = %q", got)
	}
	if got := prItem.Label(); got != "o/r PR #9" {
		t.Errorf("Label() = %q", got)
	}
}

func TestSlot_Tag(t *testing.T) {
	if got := Slot(3).Tag(); got != "[slot-3] " {
		t.Errorf("Tag() = %q", got)
	}
}

func TestWorkResult_Duration(t *testing.T) {
	start := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	r := WorkResult{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	if r.Duration() != 90*time.Second {
		t.Errorf("Duration() = %v", r.Duration())
	}
	if (WorkResult{}).Duration() != 0 {
		t.Error("zero result should have zero duration")
	}
}
