// Package trackertest provides an in-memory tracker.Client for tests.
package trackertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Fake is an in-memory tracker. Exported maps may be populated directly
// before use; methods are safe for concurrent callers.
type Fake struct {
	mu sync.Mutex

	Issues         []models.Issue
	OpenPRs        map[int]*models.PRRef // issue number -> open PR
	MergeStates    map[int]string        // PR number -> merge state
	Comments       map[int][]string      // PR number -> unresolved comments
	Bodies         map[int]string        // PR number -> body
	DefaultBranch  string
	Fork           models.RepoID
	PRsByNumber    map[int]*models.PRRef
	nextPRNumber   int
	ErrListIssues  error
	ErrFindOpenPR  map[int]error // issue number -> error
	ErrCreatePR    error
	ErrDefault     error
	CreatedPRs     []tracker.CreatePROptions
	BodyUpdates    map[int][]string
	MutatingCalls  int
	FindOpenPRCall int
}

// New returns an empty fake whose default branch is "main".
func New() *Fake {
	return &Fake{
		OpenPRs:       map[int]*models.PRRef{},
		MergeStates:   map[int]string{},
		Comments:      map[int][]string{},
		Bodies:        map[int]string{},
		PRsByNumber:   map[int]*models.PRRef{},
		ErrFindOpenPR: map[int]error{},
		BodyUpdates:   map[int][]string{},
		DefaultBranch: "main",
		nextPRNumber:  1000,
	}
}

// AddOpenPR registers pr as the open PR for issue number n.
func (f *Fake) AddOpenPR(n int, pr *models.PRRef, mergeState string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.OpenPRs[n] = pr
	f.PRsByNumber[pr.Number] = pr
	if mergeState != "" {
		f.MergeStates[pr.Number] = mergeState
	}
}

func (f *Fake) ListIssues(ctx context.Context, repo models.RepoID, filters tracker.Filters) ([]models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrListIssues != nil {
		return nil, f.ErrListIssues
	}
	out := make([]models.Issue, 0, len(f.Issues))
	for _, is := range f.Issues {
		if filters.Limit > 0 && len(out) >= filters.Limit {
			break
		}
		out = append(out, is)
	}
	return out, nil
}

func (f *Fake) GetIssue(ctx context.Context, repo models.RepoID, number int) (models.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, is := range f.Issues {
		if is.Ref.Number == number && is.Ref.Repo.Equal(repo) {
			return is, nil
		}
	}
	return models.Issue{}, fmt.Errorf("issue %s#%d: %w", repo, number, tracker.ErrNotFound)
}

func (f *Fake) FindOpenPR(ctx context.Context, issue models.Issue) (*models.PRRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FindOpenPRCall++
	if err := f.ErrFindOpenPR[issue.Ref.Number]; err != nil {
		return nil, err
	}
	return f.OpenPRs[issue.Ref.Number], nil
}

func (f *Fake) FindPRForBranch(ctx context.Context, repo models.RepoID, branch string) (*models.PRRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, pr := range f.PRsByNumber {
		if pr.HeadBranch == branch {
			return pr, nil
		}
	}
	return nil, nil
}

func (f *Fake) GetPR(ctx context.Context, repo models.RepoID, number int) (*models.PRRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.PRsByNumber[number]
	if !ok {
		return nil, fmt.Errorf("pr %d: %w", number, tracker.ErrNotFound)
	}
	return pr, nil
}

func (f *Fake) GetMergeState(ctx context.Context, pr models.PRRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.MergeStates[pr.Number]
	if !ok {
		return "", fmt.Errorf("merge state %d: %w", pr.Number, tracker.ErrNotFound)
	}
	return state, nil
}

func (f *Fake) UnresolvedComments(ctx context.Context, pr models.PRRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Comments[pr.Number], nil
}

func (f *Fake) CreatePR(ctx context.Context, opts tracker.CreatePROptions) (*models.PRRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MutatingCalls++
	if f.ErrCreatePR != nil {
		return nil, f.ErrCreatePR
	}
	f.nextPRNumber++
	n := f.nextPRNumber
	_, branch, found := strings.Cut(opts.Head, ":")
	if !found {
		branch = opts.Head
	}
	pr := &models.PRRef{
		Repo:       opts.Repo,
		Number:     n,
		URL:        fmt.Sprintf("https://github.com/%s/pull/%d", opts.Repo, n),
		HeadBranch: branch,
		BaseBranch: opts.Base,
	}
	f.PRsByNumber[n] = pr
	f.Bodies[n] = opts.Body
	f.CreatedPRs = append(f.CreatedPRs, opts)
	return pr, nil
}

func (f *Fake) GetPRBody(ctx context.Context, pr models.PRRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Bodies[pr.Number], nil
}

func (f *Fake) UpdatePRBody(ctx context.Context, pr models.PRRef, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MutatingCalls++
	f.Bodies[pr.Number] = body
	f.BodyUpdates[pr.Number] = append(f.BodyUpdates[pr.Number], body)
	return nil
}

func (f *Fake) GetDefaultBranch(ctx context.Context, repo models.RepoID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrDefault != nil {
		return "", f.ErrDefault
	}
	return f.DefaultBranch, nil
}

func (f *Fake) ForkRepo(ctx context.Context, repo models.RepoID) (models.RepoID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.MutatingCalls++
	if f.Fork.IsZero() {
		return models.RepoID{}, fmt.Errorf("fork %s: %w", repo, tracker.ErrNotFound)
	}
	return f.Fork, nil
}

// Mutations returns the number of remote-mutating calls made so far.
func (f *Fake) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.MutatingCalls
}

// Verify Fake implements tracker.Client at compile time.
var _ tracker.Client = (*Fake)(nil)
