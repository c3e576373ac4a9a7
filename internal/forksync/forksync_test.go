package forksync

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/internal/git/gittest"
	"github.com/ShayCichocki/issuepilot/internal/tracker/trackertest"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var (
	upstreamRepo = models.RepoID{Owner: "octo", Name: "widgets"}
	forkRepo     = models.RepoID{Owner: "me", Name: "widgets"}
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// countingRunner counts pushes made through the wrapped runner.
type countingRunner struct {
	git.Runner
	pushes atomic.Int32
}

func (c *countingRunner) Push(ctx context.Context, remote, refspec string, force bool) error {
	c.pushes.Add(1)
	return c.Runner.Push(ctx, remote, refspec, force)
}

type fixture struct {
	upstream string
	fork     string
	local    string
	runner   *countingRunner
}

// newFixture creates an upstream repository, a bare fork cloned from it and
// a local repository with both as remotes.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	f := &fixture{upstream: t.TempDir(), fork: t.TempDir(), local: t.TempDir()}

	gitCmd(t, f.upstream, "init", "--quiet", "--initial-branch=main")
	gitCmd(t, f.upstream, "config", "user.email", "test@example.com")
	gitCmd(t, f.upstream, "config", "user.name", "Test")
	gitCmd(t, f.upstream, "commit", "--quiet", "--allow-empty", "-m", "init")
	gitCmd(t, f.fork, "clone", "--quiet", "--bare", f.upstream, ".")

	gitCmd(t, f.local, "init", "--quiet", "--initial-branch=main")
	gitCmd(t, f.local, "remote", "add", git.UpstreamRemote, f.upstream)
	gitCmd(t, f.local, "remote", "add", git.ForkRemote, f.fork)

	f.runner = &countingRunner{Runner: git.NewRunner(f.local)}
	return f
}

func (f *fixture) advanceUpstream(t *testing.T, msg string) string {
	t.Helper()
	gitCmd(t, f.upstream, "commit", "--quiet", "--allow-empty", "-m", msg)
	return gitCmd(t, f.upstream, "rev-parse", "HEAD")
}

func TestSync_ResetsForkToUpstream(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := New(f.runner, trackertest.New(), forkRepo, nil)

	want := f.advanceUpstream(t, "upstream moved")

	got, err := s.Sync(ctx, upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, want, gitCmd(t, f.fork, "rev-parse", "refs/heads/main"))
	require.EqualValues(t, 1, f.runner.pushes.Load())
}

func TestSync_SecondCallIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := New(f.runner, trackertest.New(), forkRepo, nil)
	f.advanceUpstream(t, "upstream moved")

	_, err := s.Sync(ctx, upstreamRepo)
	require.NoError(t, err)
	before := gitCmd(t, f.fork, "rev-parse", "refs/heads/main")

	_, err = s.Sync(ctx, upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, before, gitCmd(t, f.fork, "rev-parse", "refs/heads/main"))
	require.EqualValues(t, 1, f.runner.pushes.Load(), "second sync must not push")
}

func TestSync_DivergedForkIsReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Give the fork a commit upstream does not have.
	scratch := t.TempDir()
	gitCmd(t, scratch, "clone", "--quiet", f.fork, ".")
	gitCmd(t, scratch, "config", "user.email", "test@example.com")
	gitCmd(t, scratch, "config", "user.name", "Test")
	gitCmd(t, scratch, "commit", "--quiet", "--allow-empty", "-m", "fork only")
	gitCmd(t, scratch, "push", "--quiet", "origin", "main")

	want := f.advanceUpstream(t, "upstream moved")

	got, err := New(f.runner, trackertest.New(), forkRepo, nil).Sync(ctx, upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, want, gitCmd(t, f.fork, "rev-parse", "refs/heads/main"))
}

func TestSync_WithoutForkOnlyFetchesUpstream(t *testing.T) {
	f := newFixture(t)
	want := f.advanceUpstream(t, "upstream moved")
	forkBefore := gitCmd(t, f.fork, "rev-parse", "refs/heads/main")

	s := New(f.runner, trackertest.New(), models.RepoID{}, nil)
	require.False(t, s.HasFork())

	got, err := s.Sync(context.Background(), upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, forkBefore, gitCmd(t, f.fork, "rev-parse", "refs/heads/main"))
	require.Zero(t, f.runner.pushes.Load())
}

func TestSync_UsesTrackerDefaultBranch(t *testing.T) {
	fake := gittest.New()
	fake.SetRef(UpstreamRef("trunk"), "aaa")
	fake.SetRef(ForkRef("trunk"), "aaa")
	tr := trackertest.New()
	tr.DefaultBranch = "trunk"

	sha, err := New(fake, tr, forkRepo, nil).Sync(context.Background(), upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, "aaa", sha)
	require.True(t, fake.Called("Fetch upstream +refs/heads/trunk:refs/remotes/upstream/trunk"))
	require.False(t, fake.Called("Push"))
}

func TestSync_Errors(t *testing.T) {
	t.Run("default branch", func(t *testing.T) {
		tr := trackertest.New()
		tr.ErrDefault = errors.New("rate limited")
		_, err := New(gittest.New(), tr, forkRepo, nil).Sync(context.Background(), upstreamRepo)
		require.ErrorContains(t, err, "rate limited")
	})

	t.Run("push rejected", func(t *testing.T) {
		fake := gittest.New()
		fake.SetRef(UpstreamRef("main"), "new")
		fake.SetRef(ForkRef("main"), "old")
		fake.Errs["Push"] = errors.New("permission denied")

		_, err := New(fake, trackertest.New(), forkRepo, nil).Sync(context.Background(), upstreamRepo)
		require.ErrorContains(t, err, "permission denied")
		require.ErrorContains(t, err, "me/widgets:main")
	})

	t.Run("upstream fetch", func(t *testing.T) {
		fake := gittest.New()
		fake.Errs["Fetch"] = errors.New("network unreachable")

		_, err := New(fake, trackertest.New(), forkRepo, nil).Sync(context.Background(), upstreamRepo)
		require.ErrorContains(t, err, "network unreachable")
		require.False(t, fake.Called("Push"))
	})
}

func TestDefaultBranch_Cached(t *testing.T) {
	tr := trackertest.New()
	s := New(gittest.New(), tr, forkRepo, nil)

	b, err := s.DefaultBranch(context.Background(), upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, "main", b)

	tr.ErrDefault = errors.New("should not be called")
	b, err = s.DefaultBranch(context.Background(), upstreamRepo)
	require.NoError(t, err)
	require.Equal(t, "main", b)
}
