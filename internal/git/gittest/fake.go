// Package gittest provides an in-memory git.Runner for tests.
package gittest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ShayCichocki/issuepilot/internal/git"
)

// Fake records every call and keeps a small model of refs, remotes and
// worktrees. Set Errs[method] to make a method fail.
type Fake struct {
	mu sync.Mutex

	Calls      []string
	Refs       map[string]string
	RemoteURLs map[string]string
	Worktrees  []git.Worktree
	Branches   map[string]bool
	Errs       map[string]error

	// OnPush runs after a successful Push, e.g. to move a remote ref.
	OnPush func(f *Fake, remote, refspec string, force bool)
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		Refs:       make(map[string]string),
		RemoteURLs: make(map[string]string),
		Branches:   make(map[string]bool),
		Errs:       make(map[string]error),
	}
}

// Verify Fake implements git.Runner at compile time.
var _ git.Runner = (*Fake)(nil)

func (f *Fake) record(method string, args ...string) error {
	f.Calls = append(f.Calls, strings.TrimSpace(method+" "+strings.Join(args, " ")))
	return f.Errs[method]
}

// Called reports whether a call starting with prefix was recorded.
func (f *Fake) Called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

// CallLog returns a copy of the recorded calls.
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// SetRef sets the commit a ref resolves to.
func (f *Fake) SetRef(ref, sha string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refs[ref] = sha
}

func (f *Fake) Fetch(ctx context.Context, remote string, refs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("Fetch", append([]string{remote}, refs...)...)
}

func (f *Fake) Push(ctx context.Context, remote, refspec string, force bool) error {
	f.mu.Lock()
	args := []string{remote, refspec}
	if force {
		args = append(args, "--force")
	}
	err := f.record("Push", args...)
	hook := f.OnPush
	f.mu.Unlock()
	if err == nil && hook != nil {
		hook(f, remote, refspec, force)
	}
	return err
}

func (f *Fake) RemoteURL(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoteURL", name); err != nil {
		return "", err
	}
	url, ok := f.RemoteURLs[name]
	if !ok {
		return "", fmt.Errorf("git remote get-url %s: no such remote", name)
	}
	return url, nil
}

func (f *Fake) AddRemote(ctx context.Context, name, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddRemote", name, url); err != nil {
		return err
	}
	f.RemoteURLs[name] = url
	return nil
}

func (f *Fake) RevParse(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RevParse", ref); err != nil {
		return "", err
	}
	sha, ok := f.Refs[ref]
	if !ok {
		return "", fmt.Errorf("git rev-parse %s: unknown revision", ref)
	}
	return sha, nil
}

func (f *Fake) BranchExists(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BranchExists", name); err != nil {
		return false, err
	}
	return f.Branches[name], nil
}

func (f *Fake) DeleteBranch(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteBranch", name); err != nil {
		return err
	}
	delete(f.Branches, name)
	return nil
}

func (f *Fake) TopLevel(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TopLevel"); err != nil {
		return "", err
	}
	return "/repo", nil
}

func (f *Fake) WorktreeAddNewBranch(ctx context.Context, path, branch, startPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WorktreeAddNewBranch", path, branch, startPoint); err != nil {
		return err
	}
	if f.Branches[branch] {
		return errors.New("git worktree add: branch already exists")
	}
	f.Branches[branch] = true
	f.Worktrees = append(f.Worktrees, git.Worktree{Path: path, Branch: branch})
	return nil
}

func (f *Fake) WorktreeAddReset(ctx context.Context, path, branch, startPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WorktreeAddReset", path, branch, startPoint); err != nil {
		return err
	}
	f.Branches[branch] = true
	f.Worktrees = append(f.Worktrees, git.Worktree{Path: path, Branch: branch})
	return nil
}

func (f *Fake) WorktreeRemove(ctx context.Context, path string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WorktreeRemove", path); err != nil {
		return err
	}
	kept := f.Worktrees[:0]
	found := false
	for _, wt := range f.Worktrees {
		if filepath.Clean(wt.Path) == filepath.Clean(path) {
			found = true
			continue
		}
		kept = append(kept, wt)
	}
	f.Worktrees = kept
	if !found {
		return fmt.Errorf("git worktree remove: %s is not a working tree", path)
	}
	return nil
}

func (f *Fake) WorktreeList(ctx context.Context) ([]git.Worktree, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WorktreeList"); err != nil {
		return nil, err
	}
	return append([]git.Worktree(nil), f.Worktrees...), nil
}

func (f *Fake) WorktreePrune(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("WorktreePrune")
}

func (f *Fake) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "", f.record("Run", args...)
}
