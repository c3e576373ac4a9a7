package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issuepilot/internal/state"
)

var (
	statusLimit int
	statusRun   string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and their results",
	Long: `Display run history from the state database.

Shows the most recent runs with their status. With --run, shows the
per-item results of that run instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to show")
	statusCmd.Flags().StringVar(&statusRun, "run", "", "Show the results of this run ID")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, _, err := repoContext(cmd.Context(), cfg); err != nil {
		return err
	}

	dbPath := state.DBPath(cfg.Paths.StateDir)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs yet. Run 'issuepilot solve' to start.")
		return nil
	}

	db, err := state.OpenStateDir(cfg.Paths.StateDir)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()

	if statusRun != "" {
		return displayRunResults(cmd.OutOrStdout(), db, statusRun)
	}
	return displayRecentRuns(cmd.OutOrStdout(), db, statusLimit)
}

func displayRecentRuns(w io.Writer, db *state.DB, limit int) error {
	runs, err := db.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs yet. Run 'issuepilot solve' to start.")
		return nil
	}

	t := newTable("RUN", "REPO", "STARTED", "DURATION", "STATUS", "ITEMS")
	for _, r := range runs {
		results, err := db.ListResults(r.ID)
		if err != nil {
			return err
		}
		succeeded := 0
		for _, res := range results {
			if res.Outcome.Succeeded() {
				succeeded++
			}
		}
		status := string(r.Status)
		if r.DryRun {
			status += " (dry run)"
		}
		t.Row(
			r.ID,
			r.Repo,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			runDuration(r),
			status,
			fmt.Sprintf("%d/%d ok", succeeded, len(results)),
		)
	}
	fmt.Fprintln(w, t.String())
	return nil
}

func displayRunResults(w io.Writer, db *state.DB, runID string) error {
	run, err := db.GetRun(runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run not found: %s", runID)
	}
	results, err := db.ListResults(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run %s on %s: %s, started %s\n", run.ID, run.Repo, run.Status, run.StartedAt.Local().Format(time.RFC3339))
	if run.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", run.Error)
	}
	if len(results) == 0 {
		fmt.Fprintln(w, "No results recorded.")
		return nil
	}

	t := newTable("SLOT", "ITEM", "MODE", "OUTCOME", "BRANCH", "DETAIL")
	for _, r := range results {
		detail := r.PRURL
		if detail == "" {
			detail = r.ErrorDetail
		}
		t.Row(fmt.Sprintf("%d", r.Slot), r.Label, string(r.Mode), string(r.Outcome), r.Branch, truncate(detail, 80))
	}
	fmt.Fprintln(w, t.String())
	return nil
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return cellStyle
		}).
		Headers(headers...)
}

func runDuration(r state.Run) string {
	if r.FinishedAt == nil {
		return "-"
	}
	return formatDuration(r.FinishedAt.Sub(r.StartedAt))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
