// Package git provides an interface for git operations.
package git

import "context"

// Worktree is one entry of `git worktree list --porcelain`.
type Worktree struct {
	Path     string
	Branch   string
	Head     string
	Detached bool
}

// RemoteOperations defines the interface for git remote operations.
type RemoteOperations interface {
	// Fetch fetches refs from the remote. No refs means the remote's defaults.
	Fetch(ctx context.Context, remote string, refs ...string) error
	// Push pushes refspec to remote, optionally with --force.
	Push(ctx context.Context, remote, refspec string, force bool) error
	// RemoteURL returns the fetch URL of the named remote.
	RemoteURL(ctx context.Context, name string) (string, error)
	// AddRemote adds a remote with the given URL.
	AddRemote(ctx context.Context, name, url string) error
}

// RefOperations defines the interface for reading and changing refs.
type RefOperations interface {
	// RevParse resolves ref to a commit hash.
	RevParse(ctx context.Context, ref string) (string, error)
	// BranchExists returns true if the local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch force-deletes the local branch.
	DeleteBranch(ctx context.Context, name string) error
	// TopLevel returns the repository root directory.
	TopLevel(ctx context.Context) (string, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch started at startPoint.
	WorktreeAddNewBranch(ctx context.Context, path, branch, startPoint string) error
	// WorktreeAddReset creates a worktree at path on branch, resetting the
	// branch to startPoint if it already exists (git worktree add -B).
	WorktreeAddReset(ctx context.Context, path, branch, startPoint string) error
	// WorktreeRemove removes the worktree at the given path.
	WorktreeRemove(ctx context.Context, path string, force bool) error
	// WorktreeList returns all worktrees of the repository.
	WorktreeList(ctx context.Context) ([]Worktree, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune(ctx context.Context) error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer using focused interfaces when possible.
type Runner interface {
	RemoteOperations
	RefOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(ctx context.Context, args ...string) (string, error)
}
