package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issuepilot/internal/config"
	"github.com/ShayCichocki/issuepilot/internal/git"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "issuepilot",
	Short: "Run coding agents against open issues in parallel",
	Long: `issuepilot pulls open issues from a GitHub repository, runs a coding agent
on each one in its own git worktree, and opens or updates a pull request
that links back to the issue.

Issues with an open pull request are continued on that pull request's
branch instead of starting over.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .issuepilot.yaml, then ~/.config/issuepilot/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration named by --config, or the standard
// locations, and applies --log-level.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// repoContext locates the enclosing git repository and resolves the state
// directory relative to it.
func repoContext(ctx context.Context, cfg *config.Config) (*git.ExecRunner, string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("get working directory: %w", err)
	}
	root, err := git.NewRunner(cwd).TopLevel(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("find git repository: %w", err)
	}
	cfg.ResolveStateDir(root)
	return git.NewRunner(root), root, nil
}

// checkBinary verifies that name resolves in PATH.
func checkBinary(name, purpose string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s not found in PATH (needed for %s)", name, purpose)
	}
	return nil
}
