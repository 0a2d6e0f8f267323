package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"crowd-radio/internal/station"
)

func stationsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stations",
		Short: "List stations with their frequencies and converted recordings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			dir := station.NewDirectory(a.stations, a.store)
			return printStations(cmd.Context(), cmd.OutOrStdout(), dir, a.cfg.Storage.ConvertedDir)
		},
	}
}

func printStations(ctx context.Context, out io.Writer, dir *station.Directory, convertedRoot string) error {
	listings, err := dir.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stations: %w", err)
	}

	if len(listings) == 0 {
		fmt.Fprintln(out, "No stations yet.")
		return nil
	}

	freq := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.Faint)

	for _, l := range listings {
		var size uint64
		for _, f := range l.Files {
			if info, err := os.Stat(filepath.Join(convertedRoot, filepath.FromSlash(f.Path))); err == nil {
				size += uint64(info.Size())
			}
		}

		fmt.Fprintf(out, "%s MHz  %-20s %s  %d files, %s\n",
			freq.Sprintf("%5s", station.FormatMHz(l.Frequency)),
			l.Name,
			dim.Sprint(l.Token),
			len(l.Files),
			humanize.Bytes(size),
		)
	}

	fmt.Fprintf(out, "\n%d stations\n", len(listings))
	return nil
}
