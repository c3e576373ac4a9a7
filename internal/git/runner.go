package git

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/issuepilot/internal/exec"
)

// ExecRunner implements Runner by invoking the git binary.
type ExecRunner struct {
	repoPath string
	cmd      exec.CommandRunner
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return NewRunnerWithExec(repoPath, exec.NewRunner())
}

// NewRunnerWithExec creates a git runner on top of a custom command runner.
func NewRunnerWithExec(repoPath string, cmd exec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.repoPath, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

// Fetch fetches refs from remote.
func (r *ExecRunner) Fetch(ctx context.Context, remote string, refs ...string) error {
	args := append([]string{"fetch", "--quiet", remote}, refs...)
	return r.runSilent(ctx, args...)
}

// Push pushes refspec to remote.
func (r *ExecRunner) Push(ctx context.Context, remote, refspec string, force bool) error {
	args := []string{"push", "--quiet"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remote, refspec)
	return r.runSilent(ctx, args...)
}

// RemoteURL returns the URL of the named remote.
func (r *ExecRunner) RemoteURL(ctx context.Context, name string) (string, error) {
	return r.run(ctx, "remote", "get-url", name)
}

// AddRemote adds a new remote.
func (r *ExecRunner) AddRemote(ctx context.Context, name, url string) error {
	return r.runSilent(ctx, "remote", "add", name, url)
}

// RevParse resolves ref to a commit hash.
func (r *ExecRunner) RevParse(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	out, err := r.cmd.Run(ctx, r.repoPath, "git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// Exit code 1 means branch doesn't exist (not an error)
		if exec.ExitCode(err) == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "branch", "-D", name)
}

// TopLevel returns the repository root.
func (r *ExecRunner) TopLevel(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--show-toplevel")
}

// WorktreeAddNewBranch creates a new worktree with a new branch.
func (r *ExecRunner) WorktreeAddNewBranch(ctx context.Context, path, branch, startPoint string) error {
	args := []string{"worktree", "add", "-b", branch, path}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	return r.runSilent(ctx, args...)
}

// WorktreeAddReset creates a worktree, resetting branch to startPoint.
func (r *ExecRunner) WorktreeAddReset(ctx context.Context, path, branch, startPoint string) error {
	return r.runSilent(ctx, "worktree", "add", "-B", branch, path, startPoint)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string, force bool) error {
	if force {
		return r.runSilent(ctx, "worktree", "remove", "--force", path)
	}
	return r.runSilent(ctx, "worktree", "remove", path)
}

// WorktreeList returns all worktrees of the repository.
func (r *ExecRunner) WorktreeList(ctx context.Context) ([]Worktree, error) {
	out, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeList(out)
}

// WorktreePrune prunes worktrees with --expire now.
func (r *ExecRunner) WorktreePrune(ctx context.Context) error {
	return r.runSilent(ctx, "worktree", "prune", "--expire", "now")
}

// ParseWorktreeList parses the output of 'git worktree list --porcelain'.
func ParseWorktreeList(output string) ([]Worktree, error) {
	var worktrees []Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			if current != nil {
				worktrees = append(worktrees, *current)
				current = nil
			}
		case strings.HasPrefix(line, "worktree "):
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "detached":
			current.Detached = true
		}
	}

	// Don't forget the last worktree if output doesn't end with blank line
	if current != nil {
		worktrees = append(worktrees, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return worktrees, nil
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
