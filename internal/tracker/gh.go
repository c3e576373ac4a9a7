package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ShayCichocki/issuepilot/internal/exec"
	"github.com/ShayCichocki/issuepilot/internal/linker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second

	// maxOutputBytes bounds command output quoted in errors.
	maxOutputBytes = 300

	prFields = "number,url,headRefName,baseRefName,headRepository,headRepositoryOwner,isCrossRepository"
)

// GitHubCLI implements Client on top of the gh command-line tool.
type GitHubCLI struct {
	binary string
	runner exec.CommandRunner
	log    *zap.SugaredLogger
}

// GitHubOption configures a GitHubCLI.
type GitHubOption func(*GitHubCLI)

// WithBinary overrides the gh executable.
func WithBinary(path string) GitHubOption {
	return func(g *GitHubCLI) {
		if path != "" {
			g.binary = path
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(log *zap.SugaredLogger) GitHubOption {
	return func(g *GitHubCLI) {
		g.log = log
	}
}

// NewGitHubCLI creates a tracker client that shells out to gh.
func NewGitHubCLI(runner exec.CommandRunner, opts ...GitHubOption) *GitHubCLI {
	g := &GitHubCLI{
		binary: "gh",
		runner: runner,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ghJSON runs gh with args and decodes its stdout into v.
func (g *GitHubCLI) ghJSON(ctx context.Context, v any, args ...string) error {
	out, err := g.gh(ctx, readTimeout, nil, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("gh %s: decode output: %w", args[0], err)
	}
	return nil
}

func (g *GitHubCLI) gh(ctx context.Context, timeout time.Duration, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command{Name: g.binary, Args: args}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	g.log.Debugw("gh", "args", strings.Join(args, " "))

	stdout, stderr, err := g.runner.Output(ctx, cmd)
	if err != nil {
		msg := trimOutput(stderr)
		if isNotFound(msg) {
			return nil, fmt.Errorf("gh %s: %w: %s", strings.Join(args[:min(2, len(args))], " "), ErrNotFound, msg)
		}
		return nil, fmt.Errorf("gh %s: %w: %s", strings.Join(args[:min(2, len(args))], " "), err, msg)
	}
	return stdout, nil
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghProjectItem struct {
	Title  string `json:"title"`
	Status struct {
		Name string `json:"name"`
	} `json:"status"`
}

type ghIssue struct {
	Number       int             `json:"number"`
	Title        string          `json:"title"`
	URL          string          `json:"url"`
	Labels       []ghLabel       `json:"labels"`
	ProjectItems []ghProjectItem `json:"projectItems"`
}

func (r ghIssue) toIssue(repo models.RepoID) models.Issue {
	issue := models.Issue{
		Ref:   models.IssueRef{Repo: repo, Number: r.Number},
		Title: r.Title,
		URL:   r.URL,
	}
	for _, l := range r.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, p := range r.ProjectItems {
		if p.Status.Name != "" {
			issue.ProjectStatus = p.Status.Name
			break
		}
	}
	return issue
}

// ghPR mirrors the fields we care about from gh's JSON output.
type ghPR struct {
	Number         int    `json:"number"`
	URL            string `json:"url"`
	HeadRefName    string `json:"headRefName"`
	BaseRefName    string `json:"baseRefName"`
	Body           string `json:"body"`
	HeadRepository struct {
		Name string `json:"name"`
	} `json:"headRepository"`
	HeadRepositoryOwner struct {
		Login string `json:"login"`
	} `json:"headRepositoryOwner"`
	IsCrossRepository bool `json:"isCrossRepository"`
}

func (p ghPR) toRef(repo models.RepoID) *models.PRRef {
	ref := &models.PRRef{
		Repo:       repo,
		Number:     p.Number,
		URL:        p.URL,
		HeadBranch: p.HeadRefName,
		BaseBranch: p.BaseRefName,
		HeadRepo:   repo,
	}
	if p.HeadRepositoryOwner.Login != "" && p.HeadRepository.Name != "" {
		ref.HeadRepo = models.RepoID{Owner: p.HeadRepositoryOwner.Login, Name: p.HeadRepository.Name}
	}
	return ref
}

// ListIssues lists open issues in tracker order.
func (g *GitHubCLI) ListIssues(ctx context.Context, repo models.RepoID, filters Filters) ([]models.Issue, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 30
	}
	args := []string{
		"issue", "list",
		"--repo", repo.String(),
		"--state", "open",
		"--limit", strconv.Itoa(limit),
		"--json", "number,title,url,labels,projectItems",
	}
	for _, l := range filters.Labels {
		args = append(args, "--label", l)
	}

	var raw []ghIssue
	if err := g.ghJSON(ctx, &raw, args...); err != nil {
		return nil, err
	}

	issues := make([]models.Issue, 0, len(raw))
	for _, r := range raw {
		issues = append(issues, r.toIssue(repo))
	}
	return issues, nil
}

// GetIssue reads one issue by number.
func (g *GitHubCLI) GetIssue(ctx context.Context, repo models.RepoID, number int) (models.Issue, error) {
	var r ghIssue
	err := g.ghJSON(ctx, &r, "issue", "view", strconv.Itoa(number), "--repo", repo.String(), "--json", "number,title,url,labels,projectItems")
	if err != nil {
		return models.Issue{}, err
	}
	return r.toIssue(repo), nil
}

// FindOpenPR returns the open PR that closes issue or was opened from one of
// its issue branches.
func (g *GitHubCLI) FindOpenPR(ctx context.Context, issue models.Issue) (*models.PRRef, error) {
	repo := issue.Ref.Repo
	var prs []ghPR
	err := g.ghJSON(ctx, &prs,
		"pr", "list",
		"--repo", repo.String(),
		"--state", "open",
		"--search", strconv.Itoa(issue.Ref.Number),
		"--json", prFields+",body",
	)
	if err != nil {
		return nil, err
	}

	shortRef := "#" + strconv.Itoa(issue.Ref.Number)
	branchPrefix := "issue-" + strconv.Itoa(issue.Ref.Number) + "-"
	for _, p := range prs {
		if strings.HasPrefix(p.HeadRefName, branchPrefix) ||
			linker.References(p.Body, shortRef) ||
			linker.References(p.Body, issue.Ref.String()) {
			return p.toRef(repo), nil
		}
	}
	return nil, nil
}

// FindPRForBranch returns the open PR whose head branch is branch.
func (g *GitHubCLI) FindPRForBranch(ctx context.Context, repo models.RepoID, branch string) (*models.PRRef, error) {
	var prs []ghPR
	err := g.ghJSON(ctx, &prs,
		"pr", "list",
		"--repo", repo.String(),
		"--state", "open",
		"--head", branch,
		"--json", prFields,
	)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0].toRef(repo), nil
}

// GetPR reads a pull request by number.
func (g *GitHubCLI) GetPR(ctx context.Context, repo models.RepoID, number int) (*models.PRRef, error) {
	var p ghPR
	err := g.ghJSON(ctx, &p, "pr", "view", strconv.Itoa(number), "--repo", repo.String(), "--json", prFields)
	if err != nil {
		return nil, err
	}
	return p.toRef(repo), nil
}

// GetMergeState returns the PR's mergeStateStatus, e.g. CLEAN or DIRTY.
func (g *GitHubCLI) GetMergeState(ctx context.Context, pr models.PRRef) (string, error) {
	var out struct {
		MergeStateStatus string `json:"mergeStateStatus"`
	}
	err := g.ghJSON(ctx, &out, "pr", "view", strconv.Itoa(pr.Number), "--repo", pr.Repo.String(), "--json", "mergeStateStatus")
	if err != nil {
		return "", err
	}
	if out.MergeStateStatus == "" {
		return "", fmt.Errorf("merge state of %s: %w", pr, ErrNotFound)
	}
	return out.MergeStateStatus, nil
}

const reviewThreadsQuery = `query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      reviewThreads(first: 100) {
        nodes {
          isResolved
          path
          line
          comments(first: 1) {
            nodes { author { login } body }
          }
        }
      }
    }
  }
}`

type reviewThreadsResponse struct {
	Data struct {
		Repository struct {
			PullRequest struct {
				ReviewThreads struct {
					Nodes []struct {
						IsResolved bool   `json:"isResolved"`
						Path       string `json:"path"`
						Line       int    `json:"line"`
						Comments   struct {
							Nodes []struct {
								Author struct {
									Login string `json:"login"`
								} `json:"author"`
								Body string `json:"body"`
							} `json:"nodes"`
						} `json:"comments"`
					} `json:"nodes"`
				} `json:"reviewThreads"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

// UnresolvedComments summarises unresolved review threads as
// "path:line (author): first line of the first comment".
func (g *GitHubCLI) UnresolvedComments(ctx context.Context, pr models.PRRef) ([]string, error) {
	var resp reviewThreadsResponse
	err := g.ghJSON(ctx, &resp,
		"api", "graphql",
		"-f", "query="+reviewThreadsQuery,
		"-F", "owner="+pr.Repo.Owner,
		"-F", "name="+pr.Repo.Name,
		"-F", "number="+strconv.Itoa(pr.Number),
	)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, th := range resp.Data.Repository.PullRequest.ReviewThreads.Nodes {
		if th.IsResolved || len(th.Comments.Nodes) == 0 {
			continue
		}
		c := th.Comments.Nodes[0]
		location := th.Path
		if th.Line > 0 {
			location += ":" + strconv.Itoa(th.Line)
		}
		first, _, _ := strings.Cut(strings.TrimSpace(c.Body), "\n")
		lines = append(lines, fmt.Sprintf("%s (%s): %s", location, c.Author.Login, first))
	}
	return lines, nil
}

// CreatePR opens a pull request and returns a reference to it.
func (g *GitHubCLI) CreatePR(ctx context.Context, opts CreatePROptions) (*models.PRRef, error) {
	args := []string{
		"pr", "create",
		"--repo", opts.Repo.String(),
		"--head", opts.Head,
		"--title", opts.Title,
		"--body-file", "-",
	}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	out, err := g.gh(ctx, writeTimeout, []byte(opts.Body), args...)
	if err != nil {
		return nil, err
	}

	url := lastLine(out)
	number, err := ParsePRNumber(url)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %w", err)
	}
	_, branch, found := strings.Cut(opts.Head, ":")
	if !found {
		branch = opts.Head
	}
	return &models.PRRef{
		Repo:       opts.Repo,
		Number:     number,
		URL:        url,
		HeadBranch: branch,
		BaseBranch: opts.Base,
	}, nil
}

// GetPRBody returns the current PR description.
func (g *GitHubCLI) GetPRBody(ctx context.Context, pr models.PRRef) (string, error) {
	var out struct {
		Body string `json:"body"`
	}
	if err := g.ghJSON(ctx, &out, "pr", "view", strconv.Itoa(pr.Number), "--repo", pr.Repo.String(), "--json", "body"); err != nil {
		return "", err
	}
	return out.Body, nil
}

// UpdatePRBody replaces the PR description.
func (g *GitHubCLI) UpdatePRBody(ctx context.Context, pr models.PRRef, body string) error {
	_, err := g.gh(ctx, writeTimeout, []byte(body),
		"pr", "edit", strconv.Itoa(pr.Number),
		"--repo", pr.Repo.String(),
		"--body-file", "-",
	)
	return err
}

// GetDefaultBranch reads the repository's default branch from the tracker.
func (g *GitHubCLI) GetDefaultBranch(ctx context.Context, repo models.RepoID) (string, error) {
	var out struct {
		DefaultBranchRef struct {
			Name string `json:"name"`
		} `json:"defaultBranchRef"`
	}
	if err := g.ghJSON(ctx, &out, "repo", "view", repo.String(), "--json", "defaultBranchRef"); err != nil {
		return "", err
	}
	if out.DefaultBranchRef.Name == "" {
		return "", fmt.Errorf("default branch of %s: %w", repo, ErrNotFound)
	}
	return out.DefaultBranchRef.Name, nil
}

// ForkRepo creates the authenticated user's fork through the REST API, which
// returns the existing fork when there already is one. Output that is not
// the expected JSON is parsed as free text.
func (g *GitHubCLI) ForkRepo(ctx context.Context, repo models.RepoID) (models.RepoID, error) {
	out, err := g.gh(ctx, writeTimeout, nil, "api", "--method", "POST", "repos/"+repo.String()+"/forks")
	if err != nil {
		return models.RepoID{}, err
	}

	var resp struct {
		FullName string `json:"full_name"`
	}
	if json.Unmarshal(out, &resp) == nil && resp.FullName != "" {
		return models.ParseRepoID(resp.FullName)
	}
	g.log.Debugw("fork response was not JSON, parsing text", "repo", repo.String())
	return ParseForkOutput(string(out))
}

// ParsePRNumber extracts the number from a pull request URL.
func ParsePRNumber(url string) (int, error) {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	idx := strings.LastIndex(url, "/pull/")
	if idx < 0 {
		return 0, fmt.Errorf("not a pull request URL: %q", url)
	}
	n, err := strconv.Atoi(url[idx+len("/pull/"):])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("not a pull request URL: %q", url)
	}
	return n, nil
}

func isNotFound(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "could not resolve") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "no pull requests found")
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// trimOutput shortens command output for error messages without splitting
// a multi-byte rune.
func trimOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= maxOutputBytes {
		return s
	}
	cut := maxOutputBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Verify GitHubCLI implements Client at compile time.
var _ Client = (*GitHubCLI)(nil)
