// Package worker runs one work item end to end: it prepares the branch and
// working directory, drives the coding agent, and publishes the result as a
// linked pull request.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/issuepilot/internal/agent"
	"github.com/ShayCichocki/issuepilot/internal/forksync"
	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/internal/linker"
	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// Syncer brings the fork up to date before fresh work starts.
type Syncer interface {
	Sync(ctx context.Context, repo models.RepoID) (string, error)
	DefaultBranch(ctx context.Context, repo models.RepoID) (string, error)
}

// Config holds a Worker's settings and collaborators. It is shared
// read-only by every worker of a run.
type Config struct {
	// Repo is the upstream repository. Fork, when set, receives pushes.
	Repo models.RepoID
	Fork models.RepoID

	Model       string
	AgentBinary string
	AgentArgs   []string
	AgentEnv    []string
	// Timeout bounds one agent invocation. Zero disables it.
	Timeout time.Duration

	DryRun        bool
	AutoCleanup   bool
	AttachLogs    bool
	PriorLogLines int

	Tracker   tracker.Client
	Git       git.RemoteOperations
	Syncer    Syncer
	Workspace agent.WorkspaceProvider
	Agent     agent.Runner
	// PriorLogs is optional; without it agent output is not kept.
	PriorLogs *agent.PriorLogs
	// Output receives the slot-tagged agent output of every worker.
	Output *agent.SyncWriter
	Logger *zap.SugaredLogger
}

// Worker executes work items. One Worker value serves all slots.
type Worker struct {
	cfg Config
	log *zap.SugaredLogger
	now func() time.Time
}

// New creates a Worker.
func New(cfg Config) *Worker {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.PriorLogLines <= 0 {
		cfg.PriorLogLines = agent.DefaultPriorLogLines
	}
	return &Worker{cfg: cfg, log: log.Named("worker"), now: time.Now}
}

// run tracks one item through Run.
type run struct {
	slot     models.Slot
	item     models.WorkItem
	result   models.WorkResult
	prepared bool
	log      *zap.SugaredLogger
}

func (r *run) finish(now time.Time, outcome models.Outcome, detail string) models.WorkResult {
	r.result.Item = r.item
	r.result.Outcome = outcome
	r.result.ErrorDetail = detail
	r.result.FinishedAt = now
	return r.result
}

// Run processes item in slot and always returns exactly one result.
func (w *Worker) Run(ctx context.Context, slot models.Slot, item models.WorkItem) models.WorkResult {
	r := &run{
		slot:   slot,
		item:   item,
		result: models.WorkResult{Slot: int(slot), StartedAt: w.now()},
		log:    w.log.With("slot", int(slot), "item", item.Label(), "mode", string(item.Mode)),
	}

	if err := item.Validate(); err != nil {
		return r.finish(w.now(), models.OutcomeAborted, err.Error())
	}
	if w.cfg.DryRun {
		return w.dryRun(r)
	}

	res := w.execute(ctx, r)
	if w.cfg.AutoCleanup && r.prepared {
		// Remove the working directory on success and failure alike.
		cleanupCtx := context.WithoutCancel(ctx)
		if err := w.cfg.Workspace.Remove(cleanupCtx, r.item.WorkingDirectory); err != nil {
			r.log.Warnw("cleanup failed", "dir", r.item.WorkingDirectory, "error", err)
		} else {
			r.log.Debugw("working directory removed", "dir", r.item.WorkingDirectory)
		}
	}
	return res
}

func (w *Worker) dryRun(r *run) models.WorkResult {
	if r.item.Mode == models.ModeFresh {
		r.item.BranchName = agent.NewBranchName(r.item.Issue.Ref.Number)
		r.item.WorkingDirectory = w.cfg.Workspace.DirFor(w.cfg.Repo, r.item.BranchName)
	}
	prompt := agent.BuildPrompt(agent.PromptInputFor(r.item, ""))
	r.log.Debugw("dry run prompt", "prompt", prompt)
	r.log.Infow("dry run", "branch", r.item.BranchName, "dir", r.item.WorkingDirectory)
	return r.finish(w.now(), models.OutcomeDryRun,
		"would run agent on branch "+r.item.BranchName+" in "+r.item.WorkingDirectory)
}

func (w *Worker) execute(ctx context.Context, r *run) models.WorkResult {
	base, pushRemote, err := w.prepare(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return r.finish(w.now(), models.OutcomeAborted, "cancelled: "+err.Error())
		}
		r.log.Warnw("preparation failed", "error", err)
		return r.finish(w.now(), models.OutcomeAborted, err.Error())
	}

	result, err := w.runAgent(ctx, r)
	if err != nil {
		r.log.Warnw("agent did not start", "error", err)
		return r.finish(w.now(), models.OutcomeAborted, err.Error())
	}
	r.result.ExitCode = result.ExitCode

	switch {
	case ctx.Err() != nil:
		return r.finish(w.now(), models.OutcomeAborted, "cancelled: "+ctx.Err().Error())
	case errors.Is(result.Interrupted, context.DeadlineExceeded):
		detail := "timed out after " + w.cfg.Timeout.String()
		return r.finish(w.now(), models.OutcomeAgentFailure, withTail(detail, result.StderrTail))
	case !result.Succeeded():
		detail := "agent exited with code " + strconv.Itoa(result.ExitCode)
		return r.finish(w.now(), models.OutcomeAgentFailure, withTail(detail, result.StderrTail))
	}

	pr, err := w.publish(ctx, r, base, pushRemote)
	if err != nil {
		r.log.Warnw("publishing failed", "error", err)
		return r.finish(w.now(), models.OutcomeAgentFailure, "publish: "+err.Error())
	}
	r.result.PRURL = pr.URL
	r.log.Infow("work item solved", "pr", pr.URL, "summary", result.Summary)
	return r.finish(w.now(), models.OutcomeSuccess, "")
}

// prepare readies the branch and working directory. It returns the base
// branch for new pull requests and the remote the branch is pushed to.
func (w *Worker) prepare(ctx context.Context, r *run) (string, string, error) {
	if r.item.Mode == models.ModeContinue {
		pr := r.item.PullRequest
		remote, err := w.pushRemoteFor(*pr)
		if err != nil {
			return "", "", err
		}
		ref := "refs/pull/" + strconv.Itoa(pr.Number) + "/head"
		if err := w.cfg.Workspace.PrepareContinue(ctx, r.item.WorkingDirectory, r.item.BranchName, git.UpstreamRemote, ref); err != nil {
			return "", "", fmt.Errorf("prepare continue workspace: %w", err)
		}
		r.prepared = true
		return pr.BaseBranch, remote, nil
	}

	sha, err := w.cfg.Syncer.Sync(ctx, w.cfg.Repo)
	if err != nil {
		return "", "", fmt.Errorf("fork sync: %w", err)
	}
	base, err := w.cfg.Syncer.DefaultBranch(ctx, w.cfg.Repo)
	if err != nil {
		return "", "", err
	}

	r.item.BranchName = agent.NewBranchName(r.item.Issue.Ref.Number)
	r.item.WorkingDirectory = w.cfg.Workspace.DirFor(w.cfg.Repo, r.item.BranchName)
	if err := w.cfg.Workspace.PrepareFresh(ctx, r.item.WorkingDirectory, r.item.BranchName, forksync.UpstreamRef(base)); err != nil {
		return "", "", fmt.Errorf("prepare fresh workspace: %w", err)
	}
	r.prepared = true
	r.log.Infow("workspace ready", "branch", r.item.BranchName, "dir", r.item.WorkingDirectory, "base", base, "upstream", sha)

	remote := git.UpstreamRemote
	if !w.cfg.Fork.IsZero() {
		remote = git.ForkRemote
	}
	return base, remote, nil
}

// pushRemoteFor returns the remote holding an existing PR's head branch.
func (w *Worker) pushRemoteFor(pr models.PRRef) (string, error) {
	switch {
	case pr.HeadRepo.IsZero() || pr.HeadRepo.Equal(w.cfg.Repo):
		return git.UpstreamRemote, nil
	case !w.cfg.Fork.IsZero() && pr.HeadRepo.Equal(w.cfg.Fork):
		return git.ForkRemote, nil
	default:
		return "", fmt.Errorf("head repository %s of %s is neither upstream nor the configured fork", pr.HeadRepo, pr)
	}
}

func (w *Worker) runAgent(ctx context.Context, r *run) (agent.Result, error) {
	priorLog := ""
	out := agent.Output{Sink: w.cfg.Output, Tag: r.slot.Tag()}

	if logs := w.cfg.PriorLogs; logs != nil {
		if w.cfg.AttachLogs && r.item.Mode == models.ModeContinue {
			tail, err := logs.Tail(r.item, w.cfg.PriorLogLines)
			if err != nil {
				r.log.Warnw("prior log unavailable", "error", err)
			}
			priorLog = tail
		}
		f, err := logs.Create(r.item)
		if err != nil {
			r.log.Warnw("agent output will not be kept", "error", err)
		} else {
			defer closeQuietly(f)
			out.Raw = agent.NewSyncWriter(f)
		}
	}

	spec := agent.Spec{
		Binary: w.cfg.AgentBinary,
		Args:   w.cfg.AgentArgs,
		Model:  w.cfg.Model,
		Dir:    r.item.WorkingDirectory,
		Prompt: agent.BuildPrompt(agent.PromptInputFor(r.item, priorLog)),
		Env:    w.cfg.AgentEnv,
	}

	runCtx := ctx
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.Timeout)
		defer cancel()
	}

	r.log.Infow("starting agent", "dir", spec.Dir, "branch", r.item.BranchName)
	res, err := w.cfg.Agent.Run(runCtx, spec, out)
	if err != nil {
		return agent.Result{}, err
	}
	r.log.Infow("agent finished", "exit_code", res.ExitCode, "duration", res.Duration.Round(time.Second))
	return res, nil
}

// publish pushes the branch and makes sure a pull request exists whose body
// references the issue.
func (w *Worker) publish(ctx context.Context, r *run, base, remote string) (*models.PRRef, error) {
	branch := r.item.BranchName
	if err := w.cfg.Git.Push(ctx, remote, "refs/heads/"+branch+":refs/heads/"+branch, false); err != nil {
		return nil, fmt.Errorf("push %s: %w", branch, err)
	}

	pr := r.item.PullRequest
	if pr == nil {
		head := branch
		if remote == git.ForkRemote {
			head = w.cfg.Fork.Owner + ":" + branch
		}
		existing, err := w.cfg.Tracker.FindPRForBranch(ctx, w.cfg.Repo, branch)
		if err != nil && !errors.Is(err, tracker.ErrNotFound) {
			return nil, fmt.Errorf("look up pull request for %s: %w", branch, err)
		}
		pr = existing
		if pr == nil {
			ref := linker.IssueRefFor(r.item.Issue.Ref, w.cfg.Repo)
			pr, err = w.cfg.Tracker.CreatePR(ctx, tracker.CreatePROptions{
				Repo:  w.cfg.Repo,
				Head:  head,
				Base:  base,
				Title: prTitle(r.item.Issue),
				Body:  linker.EnsureLinked("", ref),
			})
			if err != nil {
				return nil, fmt.Errorf("create pull request: %w", err)
			}
			r.log.Infow("pull request created", "pr", pr.URL)
		}
	}

	if r.item.HasIssueNumber() {
		if err := w.link(ctx, *pr, r.item.Issue.Ref); err != nil {
			return nil, err
		}
	}
	return pr, nil
}

func (w *Worker) link(ctx context.Context, pr models.PRRef, issue models.IssueRef) error {
	body, err := w.cfg.Tracker.GetPRBody(ctx, pr)
	if err != nil {
		return fmt.Errorf("read body of %s: %w", pr, err)
	}
	linked := linker.EnsureLinked(body, linker.IssueRefFor(issue, pr.Repo))
	if linked == body {
		return nil
	}
	if err := w.cfg.Tracker.UpdatePRBody(ctx, pr, linked); err != nil {
		return fmt.Errorf("update body of %s: %w", pr, err)
	}
	return nil
}

func prTitle(issue models.Issue) string {
	if t := strings.TrimSpace(issue.Title); t != "" {
		return "Fix #" + strconv.Itoa(issue.Ref.Number) + ": " + t
	}
	return "Fix #" + strconv.Itoa(issue.Ref.Number)
}

func withTail(detail string, tail []string) string {
	if len(tail) == 0 {
		return detail
	}
	return detail + "\n" + strings.Join(tail, "\n")
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
