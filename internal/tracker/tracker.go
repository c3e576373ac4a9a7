// Package tracker abstracts the remote issue tracker: discovering issues,
// reading and updating pull requests, and managing forks.
package tracker

import (
	"context"
	"errors"

	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var (
	// ErrNotFound is returned when a requested issue, PR or field does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForkOutput is returned when fork output contains no repository name.
	ErrForkOutput = errors.New("no repository in fork output")
)

// Filters narrows issue discovery on the tracker side.
type Filters struct {
	Labels []string
	Limit  int
}

// CreatePROptions are the parameters for opening a pull request.
type CreatePROptions struct {
	// Repo is the repository the PR is opened against.
	Repo models.RepoID
	// Head is the source branch, "owner:branch" for cross-repository PRs.
	Head  string
	Base  string
	Title string
	Body  string
	Draft bool
}

// Client is the contract the orchestrator requires from an issue tracker.
type Client interface {
	ListIssues(ctx context.Context, repo models.RepoID, filters Filters) ([]models.Issue, error)
	GetIssue(ctx context.Context, repo models.RepoID, number int) (models.Issue, error)
	// FindOpenPR returns the open PR that targets issue, or nil when none does.
	FindOpenPR(ctx context.Context, issue models.Issue) (*models.PRRef, error)
	// FindPRForBranch returns the open PR whose head is branch, or nil.
	FindPRForBranch(ctx context.Context, repo models.RepoID, branch string) (*models.PRRef, error)
	GetPR(ctx context.Context, repo models.RepoID, number int) (*models.PRRef, error)
	GetMergeState(ctx context.Context, pr models.PRRef) (string, error)
	// UnresolvedComments summarises unresolved review threads, one line each.
	UnresolvedComments(ctx context.Context, pr models.PRRef) ([]string, error)
	CreatePR(ctx context.Context, opts CreatePROptions) (*models.PRRef, error)
	GetPRBody(ctx context.Context, pr models.PRRef) (string, error)
	UpdatePRBody(ctx context.Context, pr models.PRRef, body string) error
	GetDefaultBranch(ctx context.Context, repo models.RepoID) (string, error)
	// ForkRepo creates (or finds) the authenticated user's fork of repo.
	ForkRepo(ctx context.Context, repo models.RepoID) (models.RepoID, error)
}
