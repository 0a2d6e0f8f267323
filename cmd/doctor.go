package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crowd-radio/internal/config"
	"crowd-radio/internal/db"
	"crowd-radio/pkg/deps"
)

// CheckResult represents the outcome of a single check
type CheckResult struct {
	Name    string
	OK      bool
	Details string
}

func doctorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the transcoder, storage directories and station database",
		Long: `Check that the server can run with the current configuration.

Validates:
- The transcoder binary (ffmpeg) is installed
- Recording and converted directories exist or can be created, and are writable
- The station database opens and its schema is current

Exit code is non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}
}

func runDoctor(ctx context.Context, out io.Writer, cfg *config.Config) error {
	fmt.Fprintln(out, "Transcoder:")
	toolErr := deps.NewChecker(cfg.Encoder.Binary).CheckAndPrint(out)

	results := []CheckResult{
		checkWritableDir("recordings dir", cfg.Storage.RecordingsDir),
		checkWritableDir("converted dir", cfg.Storage.ConvertedDir),
		checkDatabase(ctx, cfg.Database.Path),
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Check              Status")
	fmt.Fprintln(out, "─────────────────────────")
	failed := toolErr != nil
	for _, r := range results {
		status := color.New(color.FgGreen).Sprint("✓")
		if !r.OK {
			status = color.New(color.FgRed).Sprint("✗")
			failed = true
		}
		fmt.Fprintf(out, "%-18s %s\n", r.Name, status)
	}

	for _, r := range results {
		if r.Details != "" {
			fmt.Fprintf(out, "\n%s: %s\n", r.Name, r.Details)
		}
	}

	if failed {
		return errors.New("doctor found problems")
	}
	return nil
}

func checkWritableDir(name, dir string) CheckResult {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return CheckResult{Name: name, Details: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return CheckResult{Name: name, Details: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	f.Close()
	os.Remove(f.Name())
	return CheckResult{Name: name, OK: true}
}

func checkDatabase(ctx context.Context, path string) CheckResult {
	const name = "station database"

	conn, err := db.Open(path)
	if err != nil {
		return CheckResult{Name: name, Details: err.Error()}
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM stations").Scan(&count); err != nil {
		return CheckResult{Name: name, Details: fmt.Sprintf("failed to query stations: %v", err)}
	}
	return CheckResult{Name: name, OK: true}
}
