package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/issuepilot/internal/config"
)

var (
	configInitProject bool
	configInitForce   bool
	configInitRepo    string
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Display the configuration issuepilot would run with, after merging
defaults, the user config, the project .issuepilot.yaml and ISSUEPILOT_*
environment variables.

The user config is stored at ~/.config/issuepilot/config.yaml.
Project-specific overrides can be placed in .issuepilot.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return displayConfig(cmd.OutOrStdout(), cfg)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if configInitProject {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("get working directory: %w", err)
			}
			path = filepath.Join(cwd, ".issuepilot.yaml")
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}

		cfg := config.Default()
		cfg.Repo = configInitRepo
		if err := config.Save(cfg, path); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitProject, "project", false, "Write .issuepilot.yaml in the current directory instead of the user config")
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().StringVar(&configInitRepo, "repo", "", "Upstream repository as owner/name")
	configCmd.AddCommand(configInitCmd)
}

// displayConfig prints cfg as YAML followed by where the tracker token comes
// from. The token itself is never printed.
func displayConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	fmt.Fprint(w, string(data))
	fmt.Fprintf(w, "# tracker token: %s (%s)\n", config.MaskToken(cfg.Tracker.Token), config.GetTokenSource(cfg))
	if p := config.GetProjectConfigPath(); p != "" {
		fmt.Fprintf(w, "# project config: %s\n", p)
	}
	return nil
}
