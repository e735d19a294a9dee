package main

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"insight_server/core/domain"
	"insight_server/internal/bootstrap"
	"insight_server/pkg/logger"
)

func analyzeCmd() *cobra.Command {
	var (
		input   string
		output  string
		noBar   bool
		compact bool
	)

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a Gmail API message export offline",
		Long: `Runs the full pipeline over a JSON export of Gmail messages
(format=full) and writes the job results as JSON.

The lookback window is measured from the newest message in the export.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var bar *progressbar.ProgressBar
			if !noBar {
				bar = newProgressBar(cmd.ErrOrStderr())
			}

			results, err := bootstrap.Analyze(cmd.Context(), cfg, input, func(ev domain.StreamEvent) {
				if bar == nil || ev.Progress == nil {
					return
				}
				bar.Describe(fmt.Sprintf("[cyan]%s[reset]", ev.CurrentStep))
				if err := bar.Set(int(*ev.Progress)); err != nil {
					logger.Warn("Failed to update progress bar: %v", err)
				}
			})
			if err != nil {
				return err
			}
			return writeResults(cmd.OutOrStdout(), output, results, !compact)
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "mailbox export file (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "results file (default: stdout)")
	cmd.Flags().BoolVar(&noBar, "no-progress", false, "disable the progress bar")
	cmd.Flags().BoolVar(&compact, "compact", false, "write compact JSON")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetDescription("[cyan]Starting...[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

func writeResults(stdout io.Writer, path string, results *domain.JobResults, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(results, "", "  ")
	} else {
		data, err = json.Marshal(results)
	}
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	logger.Info("Results written to %s", path)
	return nil
}
