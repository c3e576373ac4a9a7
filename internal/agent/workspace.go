package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

// BranchPrefix starts every branch this tool creates.
const BranchPrefix = "issue-"

// NewBranchName returns "issue-<n>-<suffix>" with a short random suffix so
// repeated attempts on one issue never collide.
func NewBranchName(issueNumber int) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return BranchPrefix + strconv.Itoa(issueNumber) + "-" + suffix
}

// WorkspaceProvider defines the interface for per-item working directories.
type WorkspaceProvider interface {
	// DirFor returns the working directory used for branch of repo.
	DirFor(repo models.RepoID, branch string) string
	// PrepareFresh creates dir as a worktree on a new branch from startPoint.
	PrepareFresh(ctx context.Context, dir, branch, startPoint string) error
	// PrepareContinue reuses dir when it already holds a worktree, or
	// recreates it from remoteRef after fetching it from remote.
	PrepareContinue(ctx context.Context, dir, branch, remote, remoteRef string) error
	// Remove deletes the working directory and its worktree registration.
	Remove(ctx context.Context, dir string) error
	// List returns worktrees under the base directory on issue branches.
	List(ctx context.Context) ([]git.Worktree, error)
	// Prune drops registrations of worktrees missing from disk.
	Prune(ctx context.Context) error
}

// Verify Workspace implements WorkspaceProvider at compile time.
var _ WorkspaceProvider = (*Workspace)(nil)

// Workspace manages git worktrees under a base directory, one per branch.
type Workspace struct {
	baseDir string
	fs      afero.Fs
	git     git.Runner
	log     *zap.SugaredLogger
	mu      sync.Mutex
}

// NewWorkspace creates a workspace manager. fs is used for directory
// bookkeeping; worktrees themselves are created by git on the real disk.
func NewWorkspace(baseDir string, fs afero.Fs, runner git.Runner, log *zap.SugaredLogger) (*Workspace, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create workspace directory: %w", err)
	}
	return &Workspace{baseDir: baseDir, fs: fs, git: runner, log: log}, nil
}

// BaseDir returns the directory holding all worktrees.
func (w *Workspace) BaseDir() string {
	return w.baseDir
}

// DirFor returns <base>/<owner>-<name>/<branch>.
func (w *Workspace) DirFor(repo models.RepoID, branch string) string {
	return filepath.Join(w.baseDir, repo.Owner+"-"+repo.Name, branch)
}

// PrepareFresh creates a worktree on a new branch.
func (w *Workspace) PrepareFresh(ctx context.Context, dir, branch, startPoint string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if exists, _ := afero.Exists(w.fs, dir); exists {
		return fmt.Errorf("working directory %s already exists", dir)
	}
	if err := w.fs.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dir, err)
	}
	if err := w.git.WorktreeAddNewBranch(ctx, dir, branch, startPoint); err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}
	w.log.Debugw("worktree created", "dir", dir, "branch", branch, "start", startPoint)
	return nil
}

// PrepareContinue reuses or recreates the worktree of an existing branch.
func (w *Workspace) PrepareContinue(ctx context.Context, dir, branch, remote, remoteRef string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWorktree(ctx, dir) {
		w.log.Debugw("reusing worktree", "dir", dir, "branch", branch)
		return nil
	}

	tracking := "refs/remotes/" + remote + "/" + branch
	if err := w.git.Fetch(ctx, remote, "+"+remoteRef+":"+tracking); err != nil {
		return fmt.Errorf("fetch %s: %w", remoteRef, err)
	}
	if exists, _ := afero.Exists(w.fs, dir); exists {
		// Leftover directory git no longer tracks.
		if err := w.fs.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove stale %s: %w", dir, err)
		}
	}
	if err := w.fs.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return fmt.Errorf("create parent of %s: %w", dir, err)
	}
	_ = w.git.WorktreePrune(ctx)
	if err := w.git.WorktreeAddReset(ctx, dir, branch, tracking); err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}
	w.log.Debugw("worktree recreated", "dir", dir, "branch", branch, "from", tracking)
	return nil
}

func (w *Workspace) isWorktree(ctx context.Context, dir string) bool {
	if exists, _ := afero.DirExists(w.fs, dir); !exists {
		return false
	}
	list, err := w.git.WorktreeList(ctx)
	if err != nil {
		return false
	}
	for _, wt := range list {
		if filepath.Clean(wt.Path) == filepath.Clean(dir) {
			return true
		}
	}
	return false
}

// Remove removes a worktree, falling back to deleting the directory.
func (w *Workspace) Remove(ctx context.Context, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.git.WorktreeRemove(ctx, dir, true); err != nil {
		w.log.Debugw("git worktree remove failed, deleting directory", "dir", dir, "error", err)
		if rmErr := w.fs.RemoveAll(dir); rmErr != nil && !os.IsNotExist(rmErr) {
			return fmt.Errorf("remove worktree %s: %w", dir, rmErr)
		}
	}
	return w.git.WorktreePrune(ctx)
}

// List returns worktrees under the base directory on issue branches.
func (w *Workspace) List(ctx context.Context) ([]git.Worktree, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.git.WorktreeList(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	base := filepath.Clean(w.baseDir) + string(filepath.Separator)
	var managed []git.Worktree
	for _, wt := range all {
		if strings.HasPrefix(filepath.Clean(wt.Path), base) && strings.HasPrefix(wt.Branch, BranchPrefix) {
			managed = append(managed, wt)
		}
	}
	return managed, nil
}

// Prune drops registrations of worktrees missing from disk.
func (w *Workspace) Prune(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.git.WorktreePrune(ctx)
}
