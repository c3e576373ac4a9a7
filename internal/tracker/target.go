package tracker

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// TargetKind distinguishes issue and pull request targets.
type TargetKind string

const (
	TargetIssue       TargetKind = "issue"
	TargetPullRequest TargetKind = "pull"
)

// Target is an explicitly requested issue or pull request.
type Target struct {
	Kind   TargetKind
	Repo   models.RepoID
	Number int
	URL    string
}

// ParseTarget parses https://github.com/<owner>/<repo>/issues/<n> and
// https://github.com/<owner>/<repo>/pull/<n> URLs.
func ParseTarget(raw string) (Target, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Target{}, fmt.Errorf("parse target %q: %w", raw, err)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return Target{}, fmt.Errorf("target %q is not a github.com URL", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 4 {
		return Target{}, fmt.Errorf("target %q: expected /owner/repo/issues/N or /owner/repo/pull/N", raw)
	}

	var kind TargetKind
	switch parts[2] {
	case "issues":
		kind = TargetIssue
	case "pull", "pulls":
		kind = TargetPullRequest
	default:
		return Target{}, fmt.Errorf("target %q: unsupported path segment %q", raw, parts[2])
	}

	n, err := strconv.Atoi(parts[3])
	if err != nil || n <= 0 {
		return Target{}, fmt.Errorf("target %q: invalid number %q", raw, parts[3])
	}

	repo := models.RepoID{Owner: parts[0], Name: parts[1]}
	canonical := "https://github.com/" + repo.String() + "/issues/" + parts[3]
	if kind == TargetPullRequest {
		canonical = "https://github.com/" + repo.String() + "/pull/" + parts[3]
	}
	return Target{Kind: kind, Repo: repo, Number: n, URL: canonical}, nil
}
