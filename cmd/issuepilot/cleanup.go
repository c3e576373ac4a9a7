package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issuepilot/internal/agent"
	"github.com/ShayCichocki/issuepilot/internal/config"
	"github.com/ShayCichocki/issuepilot/internal/exec"
	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/internal/logging"
	"github.com/ShayCichocki/issuepilot/internal/state"
	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var (
	cleanupForce  bool
	cleanupDryRun bool
	cleanupRuns   bool
)

// runMaxAge is how long run history is kept by cleanup --runs.
const runMaxAge = 30 * 24 * time.Hour

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktrees whose pull request is no longer open",
	Long: `Clean up worktrees left behind by earlier runs.

This command:
  - Lists issue-* worktrees under the workspace directory
  - Keeps those whose branch still has an open pull request
  - Removes the rest after confirmation
  - Runs git worktree prune

With --runs flag:
  - Deletes run history older than 30 days

Examples:
  issuepilot cleanup              # Interactive cleanup with confirmation
  issuepilot cleanup --force      # Skip confirmation prompt
  issuepilot cleanup --dry-run    # Show what would be removed`,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Purge run history older than 30 days")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx := cmd.Context()
	gitRunner, _, err := repoContext(ctx, cfg)
	if err != nil {
		return err
	}
	repo, err := cfg.RepoID()
	if err != nil {
		return fmt.Errorf("repo: %w", err)
	}

	workspace, err := agent.NewWorkspace(cfg.Paths.WorkspaceDir, afero.NewOsFs(), gitRunner, log)
	if err != nil {
		return err
	}
	client := tracker.NewGitHubCLI(
		exec.NewRunner(config.TrackerEnv(cfg)...),
		tracker.WithBinary(cfg.Tracker.Binary),
		tracker.WithLogger(log),
	)

	out := cmd.OutOrStdout()
	stale, err := staleWorktrees(ctx, workspace, client, repo)
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		fmt.Fprintln(out, "No stale worktrees found.")
	} else {
		fmt.Fprintf(out, "Found %d worktree(s) without an open pull request:\n", len(stale))
		for _, wt := range stale {
			fmt.Fprintf(out, "  - %s (branch: %s)\n", wt.Path, wt.Branch)
		}
		fmt.Fprintln(out)

		switch {
		case cleanupDryRun:
			fmt.Fprintln(out, "Dry run mode - no worktrees were removed.")
		case !cleanupForce && !confirm(cmd.InOrStdin(), out, "Remove these worktrees?"):
			fmt.Fprintln(out, "Worktree cleanup cancelled.")
		default:
			removed := 0
			for _, wt := range stale {
				if err := workspace.Remove(ctx, wt.Path); err != nil {
					printStatus(out, "✗", fmt.Sprintf("%s: %v", wt.Path, err), color.FgRed)
					continue
				}
				printStatus(out, "✓", "Removed "+wt.Path, color.FgGreen)
				removed++
			}
			fmt.Fprintf(out, "Removed %d of %d worktree(s).\n", removed, len(stale))
		}
	}

	if !cleanupDryRun {
		if err := workspace.Prune(ctx); err != nil {
			return fmt.Errorf("prune worktrees: %w", err)
		}
	}

	if cleanupRuns {
		return purgeRuns(out, cfg.Paths.StateDir)
	}
	return nil
}

// staleWorktrees returns managed worktrees whose branch has no open pull
// request in repo.
func staleWorktrees(ctx context.Context, ws agent.WorkspaceProvider, client tracker.Client, repo models.RepoID) ([]git.Worktree, error) {
	managed, err := ws.List(ctx)
	if err != nil {
		return nil, err
	}
	var stale []git.Worktree
	for _, wt := range managed {
		pr, err := client.FindPRForBranch(ctx, repo, wt.Branch)
		if err != nil {
			return nil, fmt.Errorf("look up pull request for %s: %w", wt.Branch, err)
		}
		if pr == nil {
			stale = append(stale, wt)
		}
	}
	return stale, nil
}

// purgeRuns deletes run history older than runMaxAge.
func purgeRuns(out io.Writer, stateDir string) error {
	if _, err := os.Stat(state.DBPath(stateDir)); os.IsNotExist(err) {
		fmt.Fprintln(out, "No run history found.")
		return nil
	}
	db, err := state.OpenStateDir(stateDir)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()

	if cleanupDryRun {
		runs, err := db.ListRuns(0)
		if err != nil {
			return err
		}
		cutoff := time.Now().Add(-runMaxAge)
		count := 0
		for _, r := range runs {
			if r.StartedAt.Before(cutoff) {
				count++
			}
		}
		fmt.Fprintf(out, "Dry run: would purge %d run(s) older than 30 days.\n", count)
		return nil
	}

	purged, err := db.PurgeOldRuns(runMaxAge)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d run(s) older than 30 days.\n", purged)
	return nil
}

// confirm asks a y/N question; anything but y or yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N] ", question)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
