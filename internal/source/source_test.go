package source

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/internal/tracker/trackertest"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var widgets = models.RepoID{Owner: "octo", Name: "widgets"}

type dirs struct{}

func (dirs) DirFor(repo models.RepoID, branch string) string {
	return filepath.Join("/ws", repo.Owner+"-"+repo.Name, branch)
}

func issue(n int, labels ...string) models.Issue {
	return models.Issue{
		Ref:    models.IssueRef{Repo: widgets, Number: n},
		Title:  "issue",
		URL:    "https://github.com/octo/widgets/issues/" + strconv.Itoa(n),
		Labels: labels,
	}
}

func prFor(n int) *models.PRRef {
	return &models.PRRef{
		Repo:       widgets,
		Number:     n,
		URL:        "https://github.com/octo/widgets/pull/" + strconv.Itoa(n),
		HeadBranch: "issue-" + strconv.Itoa(n-100) + "-abcdef",
		HeadRepo:   widgets,
	}
}

// drain collects every item the source yields.
func drain(t *testing.T, s *Source) []models.WorkItem {
	t.Helper()
	var items []models.WorkItem
	for {
		item, err := s.Next(context.Background())
		if errors.Is(err, ErrExhausted) {
			return items
		}
		require.NoError(t, err)
		items = append(items, item)
	}
}

func TestNext_FreshItemsInTrackerOrder(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(3), issue(1), issue(2)}

	items := drain(t, New(tr, Options{Repo: widgets, Dirs: dirs{}}, nil))
	require.Len(t, items, 3)
	for i, want := range []int{3, 1, 2} {
		require.Equal(t, want, items[i].Issue.Ref.Number)
		require.Equal(t, models.ModeFresh, items[i].Mode)
		require.NoError(t, items[i].Validate())
	}
}

func TestNext_IsLazy(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(1), issue(2)}
	s := New(tr, Options{Repo: widgets}, nil)

	_, err := s.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, tr.FindOpenPRCall, "only the first candidate should be classified")
}

func TestNext_Filters(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{
		issue(1, "bug"),
		issue(2, "bug", "wontfix"),
		issue(3, "docs"),
		issue(4, "Bug"),
	}
	s := New(tr, Options{
		Repo: widgets,
		Filters: Filters{
			Labels:        []string{"bug"},
			ExcludeLabels: []string{"wontfix"},
		},
	}, nil)

	items := drain(t, s)
	require.Len(t, items, 2)
	require.Equal(t, 1, items[0].Issue.Ref.Number)
	require.Equal(t, 4, items[1].Issue.Ref.Number)

	skipped := s.Skipped()
	require.Len(t, skipped, 2)
	require.Equal(t, "excluded label wontfix", skipped[0].Reason)
	require.Equal(t, "missing label bug", skipped[1].Reason)
}

func TestNext_ProjectStatusFilter(t *testing.T) {
	todo := issue(1)
	todo.ProjectStatus = "Todo"
	done := issue(2)
	done.ProjectStatus = "Done"
	tr := trackertest.New()
	tr.Issues = []models.Issue{todo, done, issue(3)}

	items := drain(t, New(tr, Options{Repo: widgets, Filters: Filters{ProjectStatus: "todo"}}, nil))
	require.Len(t, items, 1)
	require.Equal(t, 1, items[0].Issue.Ref.Number)
}

func TestNext_ContinueDetection(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(7)}
	pr := prFor(107)
	tr.AddOpenPR(7, pr, "BLOCKED")
	tr.Comments[107] = []string{"main.go:10 (rev): please add a test"}

	items := drain(t, New(tr, Options{Repo: widgets, AutoContinue: true, Dirs: dirs{}}, nil))
	require.Len(t, items, 1)

	item := items[0]
	require.Equal(t, models.ModeContinue, item.Mode)
	require.Equal(t, "BLOCKED", item.MergeStateStatus)
	require.Equal(t, pr.HeadBranch, item.BranchName)
	require.Equal(t, filepath.Join("/ws", "octo-widgets", pr.HeadBranch), item.WorkingDirectory)
	require.Equal(t, []string{"main.go:10 (rev): please add a test"}, item.UnresolvedComments)
	require.NoError(t, item.Validate())
}

func TestNext_MergeStateUnavailableFallsBackToFresh(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(7)}
	tr.AddOpenPR(7, prFor(107), "")

	items := drain(t, New(tr, Options{Repo: widgets, AutoContinue: true, Dirs: dirs{}}, nil))
	require.Len(t, items, 1)
	require.Equal(t, models.ModeFresh, items[0].Mode)
	require.Nil(t, items[0].PullRequest)
}

func TestNext_SkipIfPROpen(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(7), issue(8)}
	tr.AddOpenPR(7, prFor(107), "CLEAN")

	s := New(tr, Options{Repo: widgets, Filters: Filters{SkipIfPROpen: true}}, nil)
	items := drain(t, s)
	require.Len(t, items, 1)
	require.Equal(t, 8, items[0].Issue.Ref.Number)
	require.Contains(t, s.Skipped()[0].Reason, "pull request already open")
}

func TestNext_TransientErrorSkipsItem(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(1), issue(2)}
	tr.ErrFindOpenPR[1] = errors.New("API rate limit exceeded")

	s := New(tr, Options{Repo: widgets}, nil)
	items := drain(t, s)
	require.Len(t, items, 1)
	require.Equal(t, 2, items[0].Issue.Ref.Number)
	require.Contains(t, s.Skipped()[0].Reason, "rate limit")
}

func TestNext_ListErrorIsReturned(t *testing.T) {
	tr := trackertest.New()
	tr.ErrListIssues = errors.New("bad credentials")

	_, err := New(tr, Options{Repo: widgets}, nil).Next(context.Background())
	require.ErrorContains(t, err, "bad credentials")
	require.False(t, errors.Is(err, ErrExhausted))
}

func TestNext_Deduplicates(t *testing.T) {
	tr := trackertest.New()
	dup := issue(5)
	dup.Ref.Repo = models.RepoID{Owner: "Octo", Name: "Widgets"}
	tr.Issues = []models.Issue{issue(5), dup}

	s := New(tr, Options{Repo: widgets}, nil)
	require.Len(t, drain(t, s), 1)
	require.Equal(t, "duplicate", s.Skipped()[0].Reason)
}

func TestNext_Confirmer(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(7), issue(8)}
	tr.AddOpenPR(7, prFor(107), "CLEAN")
	tr.AddOpenPR(8, prFor(108), "DIRTY")

	var asked []int
	confirm := ConfirmFunc(func(ctx context.Context, item models.WorkItem) (bool, error) {
		asked = append(asked, item.Issue.Ref.Number)
		return item.MergeStateStatus == "CLEAN", nil
	})

	s := New(tr, Options{Repo: widgets, Confirmer: confirm, Dirs: dirs{}}, nil)
	items := drain(t, s)
	require.Equal(t, []int{7, 8}, asked)
	require.Len(t, items, 1)
	require.Equal(t, 7, items[0].Issue.Ref.Number)
	require.Equal(t, "continue declined", s.Skipped()[0].Reason)

	// AutoContinue bypasses the confirmer.
	asked = nil
	items = drain(t, New(tr, Options{Repo: widgets, Confirmer: confirm, AutoContinue: true, Dirs: dirs{}}, nil))
	require.Empty(t, asked)
	require.Len(t, items, 2)
}

func TestNext_Targets(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(4, "wontfix")}
	pr := prFor(150)
	tr.PRsByNumber[150] = pr
	tr.MergeStates[150] = "UNSTABLE"

	issueTarget, err := tracker.ParseTarget("https://github.com/octo/widgets/issues/4")
	require.NoError(t, err)
	prTarget, err := tracker.ParseTarget("https://github.com/octo/widgets/pull/150")
	require.NoError(t, err)

	s := New(tr, Options{
		Repo:         widgets,
		Filters:      Filters{ExcludeLabels: []string{"wontfix"}},
		Targets:      []tracker.Target{issueTarget, prTarget},
		AutoContinue: true,
		Dirs:         dirs{},
	}, nil)
	items := drain(t, s)
	require.Len(t, items, 2)

	require.Equal(t, models.ModeFresh, items[0].Mode, "label filters do not apply to explicit targets")
	require.Equal(t, 4, items[0].Issue.Ref.Number)

	require.Equal(t, models.ModeContinue, items[1].Mode)
	require.False(t, items[1].HasIssueNumber())
	require.Equal(t, 150, items[1].PullRequest.Number)
	require.Equal(t, "UNSTABLE", items[1].MergeStateStatus)
	require.NoError(t, items[1].Validate())
}

func TestNext_IssueAndItsPullRequestYieldOneItem(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(50)}
	tr.AddOpenPR(50, prFor(150), "CLEAN")

	issueTarget, err := tracker.ParseTarget("https://github.com/octo/widgets/issues/50")
	require.NoError(t, err)
	prTarget, err := tracker.ParseTarget("https://github.com/octo/widgets/pull/150")
	require.NoError(t, err)

	for name, targets := range map[string][]tracker.Target{
		"issue first": {issueTarget, prTarget},
		"pr first":    {prTarget, issueTarget},
	} {
		t.Run(name, func(t *testing.T) {
			s := New(tr, Options{Repo: widgets, Targets: targets, AutoContinue: true, Dirs: dirs{}}, nil)
			items := drain(t, s)
			require.Len(t, items, 1)
			require.Equal(t, models.ModeContinue, items[0].Mode)
			require.Equal(t, 150, items[0].PullRequest.Number)
			require.Len(t, s.Skipped(), 1)
			require.Equal(t, "duplicate", s.Skipped()[0].Reason)
		})
	}
}

func TestNext_Cancelled(t *testing.T) {
	tr := trackertest.New()
	tr.Issues = []models.Issue{issue(1)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(tr, Options{Repo: widgets}, nil).Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
