package models

import (
	"fmt"
	"strconv"
	"strings"
)

// RepoID identifies a repository on the issue tracker as owner/name.
type RepoID struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// ParseRepoID parses an "owner/name" string.
func ParseRepoID(s string) (RepoID, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepoID{}, fmt.Errorf("invalid repository %q: expected owner/name", s)
	}
	return RepoID{Owner: owner, Name: name}, nil
}

// String returns the owner/name form.
func (r RepoID) String() string {
	if r.IsZero() {
		return ""
	}
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the repository is unset.
func (r RepoID) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// Equal compares repositories case-insensitively, matching tracker semantics.
func (r RepoID) Equal(other RepoID) bool {
	return strings.EqualFold(r.Owner, other.Owner) && strings.EqualFold(r.Name, other.Name)
}

// IssueRef identifies a single issue. Number is zero for work that only
// has an originating pull request.
type IssueRef struct {
	Repo   RepoID `json:"repo" yaml:"repo"`
	Number int    `json:"number" yaml:"number"`
}

// String returns the owner/name#N form.
func (r IssueRef) String() string {
	return r.Repo.String() + "#" + strconv.Itoa(r.Number)
}

// Key returns a case-normalised identity used for de-duplication.
func (r IssueRef) Key() string {
	return strings.ToLower(r.String())
}

// Issue is an immutable snapshot of a tracker issue taken at discovery time.
type Issue struct {
	Ref           IssueRef `json:"ref" yaml:"ref"`
	Title         string   `json:"title" yaml:"title"`
	URL           string   `json:"url" yaml:"url"`
	Labels        []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	ProjectStatus string   `json:"project_status,omitempty" yaml:"project_status,omitempty"`
	LinkedPR      *PRRef   `json:"linked_pr,omitempty" yaml:"linked_pr,omitempty"`
}

// HasLabel reports whether the issue carries the label (case-insensitive).
func (i Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// PRRef identifies a pull request and the branch it was opened from.
type PRRef struct {
	Repo       RepoID `json:"repo" yaml:"repo"`
	Number     int    `json:"number" yaml:"number"`
	URL        string `json:"url" yaml:"url"`
	HeadBranch string `json:"head_branch" yaml:"head_branch"`
	BaseBranch string `json:"base_branch,omitempty" yaml:"base_branch,omitempty"`
	// HeadRepo is the repository holding HeadBranch; it differs from Repo
	// when the pull request was opened from a fork.
	HeadRepo RepoID `json:"head_repo,omitempty" yaml:"head_repo,omitempty"`
}

// String returns the owner/name#N form.
func (p PRRef) String() string {
	return p.Repo.String() + "#" + strconv.Itoa(p.Number)
}
