package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/issuepilot/internal/signals"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running solve in this repository to cancel",
	Long: `Create the stop file watched by a running 'issuepilot solve'.

The run cancels exactly as on Ctrl-C: agents are terminated and the run
waits for every slot to report before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if _, _, err := repoContext(cmd.Context(), cfg); err != nil {
			return err
		}
		if err := signals.RequestStop(cfg.Paths.StateDir); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stop requested (%s)\n", signals.StopPath(cfg.Paths.StateDir))
		return nil
	},
}
