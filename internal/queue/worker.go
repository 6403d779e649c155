package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/metrics"
	"github.com/embano1/transcribe/internal/types"
)

// Runner transcribes one request.
type Runner interface {
	Run(ctx context.Context, req *types.Request) (*types.Result, error)
}

// Worker pops jobs and runs them one at a time.
type Worker struct {
	client  *Client
	runner  Runner
	metrics *metrics.Metrics
	log     zerolog.Logger

	// PopTimeout bounds each blocking pop so that cancellation is noticed.
	PopTimeout time.Duration
}

// NewWorker returns a Worker. m may be nil.
func NewWorker(c *Client, r Runner, m *metrics.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		client:     c,
		runner:     r,
		metrics:    m,
		log:        logger.Component(log, "worker"),
		PopTimeout: 10 * time.Second,
	}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Str("queue", w.client.cfg.Queue).Msg("worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("worker stopped")
			return nil
		}
		job, err := w.client.pop(ctx, w.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("pop failed")
			// back off on a broken connection
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if job == nil {
			continue
		}
		if _, err := w.Handle(ctx, job); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Error().Err(err).Str(logger.FieldJobID, job.ID).Msg("job failed")
		}
	}
}

// Handle runs one job and stores its result.
func (w *Worker) Handle(ctx context.Context, job *Job) (*JobResult, error) {
	log := w.log.With().Str(logger.FieldJobID, job.ID).Str(logger.FieldFile, job.AudioFile).Logger()
	log.Info().Msg("processing job")

	jr := &JobResult{JobID: job.ID}
	req, err := types.NewRequest(job.Options())
	if err != nil {
		jr.Status = StatusError
		jr.Error = apperrors.File("invalid job").WithCause(err)
	} else {
		res, runErr := w.runner.Run(ctx, req)
		switch {
		case runErr != nil:
			jr.Status = StatusError
			jr.Error = apperrors.Processing("write outputs").WithCause(apperrors.RedactedError(runErr))
		case res.Success:
			jr.Status = StatusCompleted
			jr.MethodUsed = res.MethodUsed
			jr.Text = res.Text
			jr.OutputFiles = res.OutputFiles
		default:
			jr.Status = StatusFailed
			jr.MethodUsed = res.MethodUsed
			jr.Error = res.Error
		}
	}
	jr.CompletedAt = w.client.now().UTC()
	w.metrics.ObserveJob(jr.Status == StatusCompleted)

	// store even when ctx is done so the client sees an outcome
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.client.store(storeCtx, jr); err != nil {
		return jr, err
	}
	log.Info().Str("status", jr.Status).Msg("job done")
	return jr, nil
}
