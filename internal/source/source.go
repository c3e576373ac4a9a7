// Package source discovers work items on the issue tracker. Filtering and
// fresh/continue classification happen here, once, so rejected issues never
// reach the worker pool.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// ErrExhausted is returned by Next when no work items remain.
var ErrExhausted = errors.New("work item source exhausted")

// Filters decide which issues become work items.
type Filters struct {
	// Labels must all be present on an issue.
	Labels []string
	// ExcludeLabels must all be absent.
	ExcludeLabels []string
	// SkipIfPROpen drops issues that already have an open pull request
	// instead of continuing them.
	SkipIfPROpen bool
	// ProjectStatus, when set, must match the issue's project board status.
	ProjectStatus string
	Limit         int
}

// Confirmer decides whether a continuable item should be resumed.
type Confirmer interface {
	ConfirmContinue(ctx context.Context, item models.WorkItem) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, item models.WorkItem) (bool, error)

// ConfirmContinue calls f.
func (f ConfirmFunc) ConfirmContinue(ctx context.Context, item models.WorkItem) (bool, error) {
	return f(ctx, item)
}

// DirResolver maps a branch to the working directory it is checked out in.
type DirResolver interface {
	DirFor(repo models.RepoID, branch string) string
}

// Skip records a candidate that did not become a work item.
type Skip struct {
	Label  string `json:"item" yaml:"item"`
	Reason string `json:"reason" yaml:"reason"`
}

// Options configure a Source.
type Options struct {
	Repo    models.RepoID
	Filters Filters
	// Targets restrict discovery to explicit issues or pull requests.
	// Label and project filters are not applied to them.
	Targets []tracker.Target
	// AutoContinue resumes every continuable item without asking.
	AutoContinue bool
	// Confirmer is asked about continuable items unless AutoContinue is
	// set. A nil Confirmer accepts every item.
	Confirmer Confirmer
	Dirs      DirResolver
}

type candidate struct {
	issue  models.Issue
	target *tracker.Target
}

// Source yields work items lazily, one per eligible candidate, in tracker
// order. It is not safe for concurrent use; the pool's dispatch loop is its
// only caller.
type Source struct {
	client tracker.Client
	opts   Options
	log    *zap.SugaredLogger

	loaded     bool
	candidates []candidate
	pos        int
	seen       map[string]bool
	skipped    []Skip
}

// New creates a Source.
func New(client tracker.Client, opts Options, log *zap.SugaredLogger) *Source {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Source{
		client: client,
		opts:   opts,
		log:    log,
		seen:   make(map[string]bool),
	}
}

// Skipped returns the candidates rejected so far with their reasons.
func (s *Source) Skipped() []Skip {
	return append([]Skip(nil), s.skipped...)
}

// Next returns the next eligible work item, or ErrExhausted. Listing
// failures are returned as errors; per-candidate tracker errors skip the
// candidate and move on.
func (s *Source) Next(ctx context.Context) (models.WorkItem, error) {
	if err := s.load(ctx); err != nil {
		return models.WorkItem{}, err
	}
	for s.pos < len(s.candidates) {
		if err := ctx.Err(); err != nil {
			return models.WorkItem{}, err
		}
		c := s.candidates[s.pos]
		s.pos++

		item, reason, err := s.classify(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return models.WorkItem{}, ctx.Err()
			}
			reason = err.Error()
		}
		if reason != "" {
			s.skip(labelOf(c), reason)
			continue
		}
		keys := claims(item)
		if s.claimed(keys) {
			s.skip(item.Label(), "duplicate")
			continue
		}
		for _, k := range keys {
			s.seen[k] = true
		}
		return item, nil
	}
	return models.WorkItem{}, ErrExhausted
}

func (s *Source) claimed(keys []string) bool {
	for _, k := range keys {
		if s.seen[k] {
			return true
		}
	}
	return false
}

// claims lists every identity an item occupies. A continue item holds its
// issue, its pull request and its working directory, so an issue target and
// a target naming the same pull request collapse into one item.
func claims(item models.WorkItem) []string {
	keys := []string{item.Key()}
	if item.PullRequest != nil {
		keys = append(keys, "pr:"+strings.ToLower(item.PullRequest.String()))
	}
	if item.WorkingDirectory != "" {
		keys = append(keys, "dir:"+item.WorkingDirectory)
	}
	return keys
}

func (s *Source) skip(label, reason string) {
	s.log.Infow("skipping", "item", label, "reason", reason)
	s.skipped = append(s.skipped, Skip{Label: label, Reason: reason})
}

func (s *Source) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	if len(s.opts.Targets) > 0 {
		for i := range s.opts.Targets {
			t := s.opts.Targets[i]
			s.candidates = append(s.candidates, candidate{target: &t})
		}
		s.loaded = true
		return nil
	}

	issues, err := s.client.ListIssues(ctx, s.opts.Repo, tracker.Filters{
		Labels: s.opts.Filters.Labels,
		Limit:  s.opts.Filters.Limit,
	})
	if err != nil {
		return fmt.Errorf("list issues of %s: %w", s.opts.Repo, err)
	}
	for _, is := range issues {
		s.candidates = append(s.candidates, candidate{issue: is})
	}
	s.loaded = true
	s.log.Debugw("issues listed", "repo", s.opts.Repo.String(), "count", len(issues))
	return nil
}

// classify turns a candidate into a work item. A non-empty reason means the
// candidate is filtered out.
func (s *Source) classify(ctx context.Context, c candidate) (models.WorkItem, string, error) {
	if c.target != nil {
		return s.classifyTarget(ctx, *c.target)
	}
	if reason := s.filter(c.issue); reason != "" {
		return models.WorkItem{}, reason, nil
	}
	return s.classifyIssue(ctx, c.issue)
}

func (s *Source) classifyTarget(ctx context.Context, t tracker.Target) (models.WorkItem, string, error) {
	switch t.Kind {
	case tracker.TargetIssue:
		issue, err := s.client.GetIssue(ctx, t.Repo, t.Number)
		if err != nil {
			return models.WorkItem{}, "", fmt.Errorf("read issue: %w", err)
		}
		if issue.URL == "" {
			issue.URL = t.URL
		}
		return s.classifyIssue(ctx, issue)
	case tracker.TargetPullRequest:
		pr, err := s.client.GetPR(ctx, t.Repo, t.Number)
		if err != nil {
			return models.WorkItem{}, "", fmt.Errorf("read pull request: %w", err)
		}
		issue := models.Issue{Ref: models.IssueRef{Repo: t.Repo}}
		return s.continueItem(ctx, issue, pr)
	default:
		return models.WorkItem{}, "", fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

func (s *Source) filter(issue models.Issue) string {
	f := s.opts.Filters
	for _, l := range f.Labels {
		if !issue.HasLabel(l) {
			return "missing label " + l
		}
	}
	for _, l := range f.ExcludeLabels {
		if issue.HasLabel(l) {
			return "excluded label " + l
		}
	}
	if f.ProjectStatus != "" && !strings.EqualFold(issue.ProjectStatus, f.ProjectStatus) {
		if issue.ProjectStatus == "" {
			return "not on a project board"
		}
		return fmt.Sprintf("project status %q", issue.ProjectStatus)
	}
	return ""
}

func (s *Source) classifyIssue(ctx context.Context, issue models.Issue) (models.WorkItem, string, error) {
	pr := issue.LinkedPR
	if pr == nil {
		found, err := s.client.FindOpenPR(ctx, issue)
		if err != nil {
			return models.WorkItem{}, "", fmt.Errorf("look up open pull request: %w", err)
		}
		pr = found
	}
	if pr == nil {
		return models.WorkItem{Issue: issue, Mode: models.ModeFresh}, "", nil
	}
	if s.opts.Filters.SkipIfPROpen {
		return models.WorkItem{}, "pull request already open: " + pr.URL, nil
	}
	return s.continueItem(ctx, issue, pr)
}

// continueItem builds a continue item for pr. When the merge state cannot
// be retrieved the issue falls back to a fresh item; a PR-only target with
// no issue to fall back to is skipped.
func (s *Source) continueItem(ctx context.Context, issue models.Issue, pr *models.PRRef) (models.WorkItem, string, error) {
	state, err := s.client.GetMergeState(ctx, *pr)
	if err != nil {
		if !errors.Is(err, tracker.ErrNotFound) {
			return models.WorkItem{}, "", fmt.Errorf("read merge state of %s: %w", pr, err)
		}
		if issue.Ref.Number == 0 {
			return models.WorkItem{}, "merge state unavailable for " + pr.String(), nil
		}
		s.log.Warnw("merge state unavailable, treating as fresh", "item", issue.Ref.String(), "pr", pr.String())
		return models.WorkItem{Issue: issue, Mode: models.ModeFresh}, "", nil
	}
	if pr.HeadBranch == "" {
		return models.WorkItem{}, "pull request " + pr.String() + " has no head branch", nil
	}

	item := models.WorkItem{
		Issue:            issue,
		Mode:             models.ModeContinue,
		BranchName:       pr.HeadBranch,
		PullRequest:      pr,
		MergeStateStatus: state,
	}
	if s.opts.Dirs != nil {
		item.WorkingDirectory = s.opts.Dirs.DirFor(pr.Repo, pr.HeadBranch)
	}

	comments, err := s.client.UnresolvedComments(ctx, *pr)
	if err != nil {
		s.log.Warnw("unresolved comments unavailable", "pr", pr.String(), "error", err)
	}
	item.UnresolvedComments = comments

	if !s.opts.AutoContinue && s.opts.Confirmer != nil {
		ok, err := s.opts.Confirmer.ConfirmContinue(ctx, item)
		if err != nil {
			return models.WorkItem{}, "", fmt.Errorf("confirm continue: %w", err)
		}
		if !ok {
			return models.WorkItem{}, "continue declined", nil
		}
	}
	return item, "", nil
}

func labelOf(c candidate) string {
	if c.target != nil {
		return c.target.URL
	}
	return c.issue.Ref.String()
}
