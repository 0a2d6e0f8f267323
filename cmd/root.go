// Package cmd implements the crowd-radio command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"crowd-radio/internal/version"
)

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     "crowd-radio",
		Short:   "Crowd-sourced radio station server",
		Version: version.String(),
		Long: `crowd-radio stores short browser recordings per user, converts them for
radio playback in the background, and gives every uploader a station frequency.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "crowd-radio.yaml",
		"path to YAML config file (missing file uses defaults)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(doctorCmd(&configPath))
	rootCmd.AddCommand(stationsCmd(&configPath))
	rootCmd.AddCommand(convertCmd(&configPath))

	return rootCmd
}
