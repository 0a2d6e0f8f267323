package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crowd-radio/internal/encoder"
	"crowd-radio/internal/storage"
)

func convertCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert every recording that is missing a radio variant",
		Long: `Walk the recordings directory and convert every recording lacking either
converted variant, one at a time, then exit.

Examples:
  crowd-radio convert
  crowd-radio convert --force    # reconvert everything`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			transcoder := encoder.NewFFmpegTranscoder(a.cfg.TranscoderConfig(), a.log)
			return runConvert(ctx, cmd.OutOrStdout(), a.store, transcoder, force, a.log)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "convert recordings even if both variants exist")

	return cmd
}

// pendingConversions returns the recordings that still need converting.
func pendingConversions(store *storage.Store, force bool) ([]string, error) {
	sources, err := store.Recordings()
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, src := range sources {
		if force || !converted(encoder.NewJob(store.Layout(), src)) {
			pending = append(pending, src)
		}
	}
	return pending, nil
}

func converted(job encoder.Job) bool {
	for _, out := range job.Outputs {
		if _, err := os.Stat(out); err != nil {
			return false
		}
	}
	return true
}

func runConvert(ctx context.Context, out io.Writer, store *storage.Store, t encoder.Transcoder, force bool, log zerolog.Logger) error {
	pending, err := pendingConversions(store, force)
	if err != nil {
		return fmt.Errorf("failed to scan recordings: %w", err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "Nothing to convert.")
		return nil
	}

	pipeline := encoder.NewPipeline(t, store.Layout(), len(pending), log, nil)
	for _, src := range pending {
		if err := pipeline.Submit(src); err != nil {
			return fmt.Errorf("failed to queue %s: %w", src, err)
		}
	}
	pipeline.Close()

	fmt.Fprintf(out, "Converting %d recordings...\n", len(pending))
	if err := pipeline.Run(ctx); err != nil {
		return err
	}

	remaining, err := pendingConversions(store, false)
	if err != nil {
		return fmt.Errorf("failed to rescan recordings: %w", err)
	}
	fmt.Fprintf(out, "Done: %d converted, %d still missing a variant.\n", len(pending)-len(remaining), len(remaining))
	return nil
}
