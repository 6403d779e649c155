package cli

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/output"
	"github.com/embano1/transcribe/internal/queue"
	"github.com/embano1/transcribe/internal/scheduler"
	"github.com/embano1/transcribe/internal/types"
	"github.com/embano1/transcribe/internal/watch"
)

// serve runs fn alongside the metrics endpoint and the cleanup schedule
// until ctx is done or fn returns.
func (a *app) serve(ctx context.Context, w *wiring, metricsAddr string, fn func(ctx context.Context) error) error {
	if schedule := a.cfg.Cleanup.Schedule; schedule != "" {
		s := scheduler.New(a.log)
		dirs := []string{output.DirDevelopment, output.DirTestResults}
		if err := s.AddCleanup(schedule, w.output, dirs, a.cfg.Cleanup.OlderThan); err != nil {
			return usageError(err)
		}
		s.Start()
		defer s.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	if metricsAddr != "" {
		g.Go(func() error { return w.metrics.Serve(gctx, metricsAddr) })
		a.log.Info().Str("addr", metricsAddr).Msg("serving metrics")
	}
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

func (a *app) workerCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process jobs from the Redis queue",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := a.queueClient()
			defer c.Close()
			if err := c.Ping(cmd.Context()); err != nil {
				return err
			}

			w, err := a.wire()
			if err != nil {
				return err
			}
			defer w.close()

			worker := queue.NewWorker(c, w.runner, w.metrics, a.log)
			return a.serve(cmd.Context(), w, a.metricsAddr(cmd, metricsAddr), worker.Run)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Transcribe audio files as they appear in a directory",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Watch.Dir
			if len(args) == 1 {
				dir = args[0]
			}

			// validate the settings once before waiting for files
			if _, err := types.NewRequest(a.requestOptions(cmd, "settings.wav")); err != nil {
				return usageError(err)
			}

			w, err := a.wire()
			if err != nil {
				return err
			}
			defer w.close()

			handler := watch.HandlerFunc(func(ctx context.Context, path string) {
				log := a.log.With().Str(logger.FieldFile, path).Logger()
				req, err := types.NewRequest(a.requestOptions(cmd, path))
				if err != nil {
					log.Error().Err(err).Msg("invalid request")
					return
				}
				res, err := w.runner.Run(ctx, req)
				if err != nil {
					log.Error().Err(err).Msg("write outputs")
					return
				}
				printResult(a.stdout, req, res)
			})
			watcher := watch.New(dir, a.cfg.Watch.Settle, handler, a.log)
			return a.serve(cmd.Context(), w, a.metricsAddr(cmd, metricsAddr), watcher.Run)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) metricsAddr(cmd *cobra.Command, flag string) string {
	if cmd.Flags().Changed("metrics-addr") {
		return flag
	}
	return a.cfg.Metrics.Addr
}
