package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/embano1/transcribe/internal/batch"
	"github.com/embano1/transcribe/internal/output"
	"github.com/embano1/transcribe/internal/types"
)

func (a *app) batchCmd() *cobra.Command {
	var (
		manifest    string
		concurrency int
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "batch [files or dirs...]",
		Short: "Transcribe several files one after another",
		Long: `Transcribe every given file, and every audio file inside given
directories, with the same settings. One file's failure never stops the
batch. A summary is written to the batch_processing output directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := batch.Expand(args)
			if err != nil {
				return err
			}
			if manifest != "" {
				listed, err := batch.LoadManifest(manifest)
				if err != nil {
					return usageError(err)
				}
				files = append(files, listed...)
			}

			base := a.requestOptions(cmd, "")
			// every file shares these settings, so a bad token is a usage error
			if _, err := types.NewRequest(a.requestOptions(cmd, "settings.wav")); err != nil {
				return usageError(err)
			}

			w, err := a.wire()
			if err != nil {
				return err
			}
			defer w.close()

			orch := batch.New(w.runner, a.log, batch.WithConcurrency(concurrency))
			summary, runErr := orch.Run(cmd.Context(), base, files)
			if summary == nil {
				return runErr
			}

			if path, err := w.output.WriteBatchSummary(summary); err != nil {
				a.log.Error().Err(err).Msg("write batch summary")
			} else {
				a.log.Debug().Str("path", path).Msg("wrote batch summary")
			}

			if asJSON {
				if err := printJSON(a.stdout, summary); err != nil {
					return err
				}
			} else {
				printSummary(a.stdout, summary)
			}
			if runErr != nil {
				return runErr
			}
			if summary.Failed > 0 {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&manifest, "manifest", "", "File listing inputs, one per line or as a YAML list")
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Files in flight at once (requires --method api)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(w io.Writer, s *batch.Summary) {
	style := successStyle
	if s.Failed > 0 {
		style = errorStyle
	}
	fmt.Fprintln(w, style.Render(s.Tally()))
	for _, it := range s.FailedItems() {
		kind := "unknown"
		if it.Error != nil {
			kind = string(it.Error.Kind)
		}
		fmt.Fprintf(w, "  ✗ %s %s\n", it.AudioPath, dimStyle.Render(kind))
	}
}

func (a *app) methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "Show which backends are available",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := types.NewRequest(a.requestOptions(cmd, "settings.wav"))
			if err != nil {
				return usageError(err)
			}
			w, err := a.wire()
			if err != nil {
				return err
			}
			defer w.close()

			fmt.Fprintln(a.stdout, titleStyle.Render("Backends"))
			for _, st := range w.selector.Probe(cmd.Context(), req) {
				if st.Available {
					fmt.Fprintf(a.stdout, "%s %-7s %s\n", successStyle.Render("●"), st.Method, "available")
					continue
				}
				fmt.Fprintf(a.stdout, "%s %-7s %s\n", dimStyle.Render("○"), st.Method, dimStyle.Render(st.Reason))
			}
			return nil
		},
	}
}

func (a *app) outputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "Inspect and prune the output tree",
	}

	var (
		dir     string
		pattern string
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List output files, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			m, err := output.New(a.cfg.Output.Dir, a.log)
			if err != nil {
				return err
			}
			files, err := m.List(dir, pattern)
			if err != nil {
				return usageError(err)
			}
			if len(files) == 0 {
				fmt.Fprintln(a.stdout, dimStyle.Render("No outputs found."))
				return nil
			}
			for _, f := range files {
				fmt.Fprintf(a.stdout, "%s  %8d  %s\n", f.ModTime.Format(time.DateTime), f.Size, f.Path)
			}
			return nil
		},
	}
	list.Flags().StringVar(&dir, "dir", output.DirProduction, "Output subdirectory")
	list.Flags().StringVar(&pattern, "pattern", "*.txt", "Glob pattern")

	var (
		cleanDir  string
		olderThan time.Duration
	)
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove old development or test outputs",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			m, err := output.New(a.cfg.Output.Dir, a.log)
			if err != nil {
				return err
			}
			removed, err := m.Cleanup(cleanDir, olderThan)
			if err != nil {
				return usageError(err)
			}
			fmt.Fprintln(a.stdout, successStyle.Render(fmt.Sprintf("Removed %d files", len(removed))))
			return nil
		},
	}
	clean.Flags().StringVar(&cleanDir, "dir", output.DirTestResults, "Output subdirectory")
	clean.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Minimum file age")

	cmd.AddCommand(list, clean)
	return cmd
}
