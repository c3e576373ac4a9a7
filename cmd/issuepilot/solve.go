package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/issuepilot/internal/agent"
	"github.com/ShayCichocki/issuepilot/internal/config"
	"github.com/ShayCichocki/issuepilot/internal/exec"
	"github.com/ShayCichocki/issuepilot/internal/forksync"
	"github.com/ShayCichocki/issuepilot/internal/git"
	"github.com/ShayCichocki/issuepilot/internal/logging"
	"github.com/ShayCichocki/issuepilot/internal/orchestrator"
	"github.com/ShayCichocki/issuepilot/internal/resource"
	"github.com/ShayCichocki/issuepilot/internal/signals"
	"github.com/ShayCichocki/issuepilot/internal/source"
	"github.com/ShayCichocki/issuepilot/internal/state"
	"github.com/ShayCichocki/issuepilot/internal/tracker"
	"github.com/ShayCichocki/issuepilot/internal/worker"
	"github.com/ShayCichocki/issuepilot/pkg/models"
)

var (
	solveRepo           string
	solveFork           string
	solveConcurrency    int
	solveModel          string
	solveDryRun         bool
	solveAutoContinue   bool
	solveAttachLogs     bool
	solveMinDiskMB      int
	solveMinMemoryMB    int
	solveAutoCleanup    bool
	solveRequireSuccess bool
	solveLabels         []string
	solveExcludeLabels  []string
	solveSkipIfPROpen   bool
	solveProjectStatus  string
	solveLimit          int
	solveTimeout        string
	solveReport         string
)

// eventBuffer sizes the pool event channel read by the progress printer.
const eventBuffer = 100

var solveCmd = &cobra.Command{
	Use:   "solve [issue-or-pr-url...]",
	Short: "Run agents on open issues",
	Long: `Discover open issues, run a coding agent on each in its own worktree,
and open or update the pull request for it.

Without arguments, issues are listed from the configured repository and
filtered by label, project status and limit. With arguments, only the given
issue or pull request URLs are worked on.

An issue that already has an open pull request is continued on that
branch. Without --auto-continue you are asked before each one.

Examples:
  issuepilot solve                                   # work the configured repo
  issuepilot solve -c 4 --label bug                  # four agents, bug issues only
  issuepilot solve https://github.com/o/r/issues/12  # one issue
  issuepilot solve --dry-run --report plan.yaml      # plan without running agents

Touch <state_dir>/signals/stop (or run 'issuepilot stop') to cancel a run
from another terminal.`,
	RunE: runSolve,
}

func init() {
	f := solveCmd.Flags()
	f.StringVar(&solveRepo, "repo", "", "Upstream repository as owner/name")
	f.StringVar(&solveFork, "fork", "", "Fork to push to as owner/name, or 'auto'")
	f.IntVarP(&solveConcurrency, "concurrency", "c", 0, "Number of agents run at once")
	f.StringVar(&solveModel, "model", "", "Agent model")
	f.BoolVar(&solveDryRun, "dry-run", false, "Plan the work without running agents or touching remotes")
	f.BoolVar(&solveAutoContinue, "auto-continue", false, "Continue open pull requests without asking")
	f.BoolVar(&solveAttachLogs, "attach-logs", false, "Attach the tail of the previous agent log to continue prompts")
	f.IntVar(&solveMinDiskMB, "min-disk-space", 0, "Minimum free disk in MB before starting an agent")
	f.IntVar(&solveMinMemoryMB, "min-memory", 0, "Minimum free memory in MB before starting an agent")
	f.BoolVar(&solveAutoCleanup, "auto-cleanup", false, "Remove each worktree after its agent finishes")
	f.BoolVar(&solveRequireSuccess, "require-success", false, "Exit non-zero unless every item succeeds")
	f.StringSliceVar(&solveLabels, "label", nil, "Only issues with this label (repeatable)")
	f.StringSliceVar(&solveExcludeLabels, "exclude-label", nil, "Skip issues with this label (repeatable)")
	f.BoolVar(&solveSkipIfPROpen, "skip-if-pr-open", false, "Skip issues that already have an open pull request")
	f.StringVar(&solveProjectStatus, "project-status", "", "Only issues in this project board status")
	f.IntVar(&solveLimit, "limit", 0, "Maximum number of issues to list")
	f.StringVar(&solveTimeout, "timeout", "", "Per-item agent timeout, e.g. 30m (0 disables)")
	f.StringVar(&solveReport, "report", "", "Write the ordered results to this YAML file")
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applySolveFlags(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Repo == "" {
		return errors.New("no repository configured: set repo in .issuepilot.yaml, ISSUEPILOT_REPO or --repo")
	}
	targets, err := parseTargets(args)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := checkBinary("git", "worktrees"); err != nil {
		return err
	}
	if err := checkBinary(cfg.Tracker.Binary, "issue tracking"); err != nil {
		return err
	}
	if !cfg.DryRun {
		if err := checkBinary(cfg.Agent.Binary, "running the agent"); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gitRunner, _, err := repoContext(ctx, cfg)
	if err != nil {
		return err
	}

	watcher, err := signals.NewStopWatcher(cfg.Paths.StateDir, log)
	if err != nil {
		return err
	}
	watcher.Start(ctx, stop)
	defer watcher.Close()

	client := tracker.NewGitHubCLI(
		exec.NewRunner(config.TrackerEnv(cfg)...),
		tracker.WithBinary(cfg.Tracker.Binary),
		tracker.WithLogger(log),
	)

	repo, err := cfg.RepoID()
	if err != nil {
		return err
	}
	fork, err := resolveFork(ctx, cfg, client, log)
	if err != nil {
		return err
	}
	if err := git.EnsureRemote(ctx, gitRunner, git.UpstreamRemote, git.GitHubURL(repo.String())); err != nil {
		return err
	}
	if !fork.IsZero() {
		if err := git.EnsureRemote(ctx, gitRunner, git.ForkRemote, git.GitHubURL(fork.String())); err != nil {
			return err
		}
	}

	osFs := afero.NewOsFs()
	workspace, err := agent.NewWorkspace(cfg.Paths.WorkspaceDir, osFs, gitRunner, log)
	if err != nil {
		return err
	}

	db, err := state.OpenStateDir(cfg.Paths.StateDir)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer db.Close()
	if interrupted, err := state.NewRecoveryManager(db).MarkInterrupted(); err != nil {
		log.Warnw("could not check for interrupted runs", "error", err)
	} else {
		for _, r := range interrupted {
			log.Warnw("previous run was interrupted", "run", r.RunID, "started", r.StartedAt, "results", r.Results)
		}
	}

	runID := ulid.Make().String()
	if err := db.CreateRun(&state.Run{
		ID:          runID,
		Repo:        repo.String(),
		Concurrency: cfg.Concurrency,
		DryRun:      cfg.DryRun,
		PID:         os.Getpid(),
	}); err != nil {
		return err
	}

	src := source.New(client, source.Options{
		Repo: repo,
		Filters: source.Filters{
			Labels:        cfg.Filters.Labels,
			ExcludeLabels: cfg.Filters.ExcludeLabels,
			SkipIfPROpen:  cfg.Filters.SkipIfPROpen,
			ProjectStatus: cfg.Filters.ProjectStatus,
			Limit:         cfg.Filters.Limit,
		},
		Targets:      targets,
		AutoContinue: cfg.AutoContinue,
		Confirmer:    newStdinConfirmer(os.Stdin, os.Stderr),
		Dirs:         workspace,
	}, log)

	w := worker.New(worker.Config{
		Repo:        repo,
		Fork:        fork,
		Model:       cfg.Model,
		AgentBinary: cfg.Agent.Binary,
		AgentArgs:   cfg.Agent.Args,
		Timeout:     cfg.Agent.Timeout,
		DryRun:      cfg.DryRun,
		AutoCleanup: cfg.AutoCleanup,
		AttachLogs:  cfg.AttachLogs,
		Tracker:     client,
		Git:         gitRunner,
		Syncer:      forksync.New(gitRunner, client, fork, log),
		Workspace:   workspace,
		Agent:       agent.NewProcess(agent.WithTailLines(cfg.Agent.StderrTailLines), agent.WithLogger(log)),
		PriorLogs:   agent.NewPriorLogs(osFs, filepath.Join(cfg.Paths.StateDir, "logs")),
		Output:      agent.NewSyncWriter(os.Stdout),
		Logger:      log,
	})

	events := orchestrator.NewEventEmitter(eventBuffer, log)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(os.Stderr, events.Events())
	}()

	pool := orchestrator.NewPool(orchestrator.PoolConfig{
		Concurrency: cfg.Concurrency,
		Thresholds: resource.Thresholds{
			MinDiskMB:   int64(cfg.Resources.MinDiskMB),
			MinMemoryMB: int64(cfg.Resources.MinMemoryMB),
		},
		Worker:   w,
		Events:   events,
		Recorder: state.NewRecorder(db, runID),
		RunID:    runID,
		Logger:   log,
	})
	gate := resource.NewGate(resource.NewHostProbe(cfg.Paths.WorkspaceDir), log)

	report, runErr := pool.Run(ctx, src, gate)
	events.Close()
	<-printed

	status := solveRunStatus(ctx, runErr)
	if err := db.FinishRun(runID, status, report.Error); err != nil {
		log.Warnw("failed to record run status", "run", runID, "error", err)
	}

	printSummary(os.Stdout, report)
	if solveReport != "" {
		if err := writeReport(solveReport, report); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Report written to %s\n", solveReport)
	}

	return solveExitError(ctx, runErr, report, cfg.RequireSuccess)
}

// applySolveFlags overrides loaded configuration with flags the user set.
func applySolveFlags(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("repo") {
		cfg.Repo = solveRepo
	}
	if f.Changed("fork") {
		cfg.Fork = solveFork
	}
	if f.Changed("concurrency") {
		cfg.Concurrency = solveConcurrency
	}
	if f.Changed("model") {
		cfg.Model = solveModel
	}
	if f.Changed("dry-run") {
		cfg.DryRun = solveDryRun
	}
	if f.Changed("auto-continue") {
		cfg.AutoContinue = solveAutoContinue
	}
	if f.Changed("attach-logs") {
		cfg.AttachLogs = solveAttachLogs
	}
	if f.Changed("min-disk-space") {
		cfg.Resources.MinDiskMB = solveMinDiskMB
	}
	if f.Changed("min-memory") {
		cfg.Resources.MinMemoryMB = solveMinMemoryMB
	}
	if f.Changed("auto-cleanup") {
		cfg.AutoCleanup = solveAutoCleanup
	}
	if f.Changed("require-success") {
		cfg.RequireSuccess = solveRequireSuccess
	}
	if f.Changed("label") {
		cfg.Filters.Labels = solveLabels
	}
	if f.Changed("exclude-label") {
		cfg.Filters.ExcludeLabels = solveExcludeLabels
	}
	if f.Changed("skip-if-pr-open") {
		cfg.Filters.SkipIfPROpen = solveSkipIfPROpen
	}
	if f.Changed("project-status") {
		cfg.Filters.ProjectStatus = solveProjectStatus
	}
	if f.Changed("limit") {
		cfg.Filters.Limit = solveLimit
	}
	if f.Changed("timeout") {
		d, err := parseTimeout(solveTimeout)
		if err != nil {
			return err
		}
		cfg.Agent.Timeout = d
	}
	return nil
}

// resolveFork returns the configured fork, asking the tracker for the
// user's fork when it is "auto". Dry runs never create a fork.
func resolveFork(ctx context.Context, cfg *config.Config, client tracker.Client, log *zap.SugaredLogger) (models.RepoID, error) {
	if cfg.Fork != config.ForkAuto {
		return cfg.ForkID()
	}
	if cfg.DryRun {
		log.Infow("dry run: not resolving fork, pushes would go upstream")
		return models.RepoID{}, nil
	}
	repo, err := cfg.RepoID()
	if err != nil {
		return models.RepoID{}, err
	}
	fork, err := client.ForkRepo(ctx, repo)
	if err != nil {
		return models.RepoID{}, fmt.Errorf("resolve fork of %s: %w", repo, err)
	}
	log.Infow("using fork", "fork", fork.String())
	return fork, nil
}

func parseTargets(args []string) ([]tracker.Target, error) {
	targets := make([]tracker.Target, 0, len(args))
	for _, a := range args {
		t, err := tracker.ParseTarget(a)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func solveRunStatus(ctx context.Context, runErr error) state.RunStatus {
	switch {
	case ctx.Err() != nil:
		return state.RunCanceled
	case runErr != nil:
		return state.RunFailed
	default:
		return state.RunCompleted
	}
}

// solveExitError decides whether the run ends with a non-zero exit.
func solveExitError(ctx context.Context, runErr error, report *orchestrator.Report, requireSuccess bool) error {
	if ctx.Err() != nil {
		return errors.New("run cancelled")
	}
	if runErr != nil {
		return runErr
	}
	if requireSuccess && !report.AllSucceeded() {
		failed := 0
		for _, res := range report.Results {
			if !res.Outcome.Succeeded() {
				failed++
			}
		}
		return fmt.Errorf("%d of %d items did not succeed", failed, len(report.Results))
	}
	return nil
}
