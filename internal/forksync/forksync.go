// Package forksync keeps a fork's default branch identical to upstream's.
package forksync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Syncer fast-forwards (or force-resets) the fork's copy of the upstream
// default branch. The local checkout is never modified; only remote refs
// and remote-tracking refs move.
type Syncer struct {
	git     git.Runner
	tracker tracker.Client
	fork    models.RepoID
	log     *zap.SugaredLogger

	flight singleflight.Group

	mu       sync.Mutex
	branches map[string]string
}

// New creates a Syncer. A zero fork means work is pushed straight to
// upstream, in which case Sync only refreshes the upstream ref.
func New(runner git.Runner, client tracker.Client, fork models.RepoID, log *zap.SugaredLogger) *Syncer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Syncer{
		git:      runner,
		tracker:  client,
		fork:     fork,
		log:      log,
		branches: make(map[string]string),
	}
}

// HasFork reports whether a fork is configured.
func (s *Syncer) HasFork() bool {
	return !s.fork.IsZero()
}

// DefaultBranch returns upstream's default branch as reported by the
// tracker. The answer is cached for the lifetime of the Syncer.
func (s *Syncer) DefaultBranch(ctx context.Context, repo models.RepoID) (string, error) {
	key := repo.String()
	s.mu.Lock()
	b, ok := s.branches[key]
	s.mu.Unlock()
	if ok {
		return b, nil
	}

	b, err := s.tracker.GetDefaultBranch(ctx, repo)
	if err != nil {
		return "", fmt.Errorf("default branch of %s: %w", repo, err)
	}
	s.mu.Lock()
	s.branches[key] = b
	s.mu.Unlock()
	return b, nil
}

// UpstreamRef is the remote-tracking ref of an upstream branch.
func UpstreamRef(branch string) string {
	return "refs/remotes/" + git.UpstreamRemote + "/" + branch
}

// ForkRef is the remote-tracking ref of a fork branch.
func ForkRef(branch string) string {
	return "refs/remotes/" + git.ForkRemote + "/" + branch
}

// Sync fetches upstream's default branch, resets the fork's branch of the
// same name to it when they differ, and returns the upstream commit.
// Concurrent calls for one repository share a single sync.
func (s *Syncer) Sync(ctx context.Context, repo models.RepoID) (string, error) {
	v, err, shared := s.flight.Do(repo.String(), func() (interface{}, error) {
		return s.sync(ctx, repo)
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.log.Debugw("joined in-flight fork sync", "repo", repo.String())
	}
	return v.(string), nil
}

func (s *Syncer) sync(ctx context.Context, repo models.RepoID) (string, error) {
	branch, err := s.DefaultBranch(ctx, repo)
	if err != nil {
		return "", err
	}

	upRef := UpstreamRef(branch)
	if err := s.git.Fetch(ctx, git.UpstreamRemote, "+refs/heads/"+branch+":"+upRef); err != nil {
		return "", fmt.Errorf("fetch upstream %s: %w", branch, err)
	}
	upSha, err := s.git.RevParse(ctx, upRef)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", upRef, err)
	}
	if !s.HasFork() {
		return upSha, nil
	}

	forkRef := ForkRef(branch)
	forkSha := ""
	if err := s.git.Fetch(ctx, git.ForkRemote, "+refs/heads/"+branch+":"+forkRef); err != nil {
		// A fork without the branch yet is pushed below; anything else
		// surfaces on the push.
		s.log.Debugw("fetch fork branch failed", "branch", branch, "error", err)
	} else if sha, err := s.git.RevParse(ctx, forkRef); err == nil {
		forkSha = sha
	}

	if forkSha == upSha {
		s.log.Debugw("fork already in sync", "fork", s.fork.String(), "branch", branch, "sha", upSha)
		return upSha, nil
	}

	if err := s.git.Push(ctx, git.ForkRemote, upRef+":refs/heads/"+branch, true); err != nil {
		return "", fmt.Errorf("reset %s:%s: %w", s.fork, branch, err)
	}
	if err := s.git.Fetch(ctx, git.ForkRemote, "+refs/heads/"+branch+":"+forkRef); err != nil {
		return "", fmt.Errorf("refetch fork %s: %w", branch, err)
	}
	s.log.Infow("fork synced with upstream",
		"fork", s.fork.String(),
		"branch", branch,
		"from", shortSha(forkSha),
		"to", shortSha(upSha),
	)
	return upSha, nil
}

func shortSha(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	if sha == "" {
		return "(none)"
	}
	return sha
}
