// Package batch runs one transcription request per input file and
// aggregates the outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

var (
	// ErrNoFiles is returned for an empty input list.
	ErrNoFiles = errors.New("no input files")
	// ErrConcurrency is returned when concurrency is requested for a method
	// other than a forced api.
	ErrConcurrency = errors.New("concurrency requires --method api")
)

// Runner transcribes a single request.
type Runner interface {
	Run(ctx context.Context, req *types.Request) (*types.Result, error)
}

// Item is the outcome for one input file.
type Item struct {
	AudioPath   string                  `json:"audio_path"`
	Success     bool                    `json:"success"`
	MethodUsed  types.Method            `json:"method_used,omitempty"`
	OutputFiles map[types.Format]string `json:"output_files,omitempty"`
	Warnings    []string                `json:"warnings,omitempty"`
	Error       *apperrors.Error        `json:"error,omitempty"`
}

// Summary aggregates a batch run. Items are in input order.
type Summary struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Items      []Item        `json:"items"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// Tally returns the "N/M succeeded" line.
func (s *Summary) Tally() string {
	return fmt.Sprintf("%d/%d succeeded", s.Successful, s.Total)
}

// FailedItems returns the failed entries in input order.
func (s *Summary) FailedItems() []Item {
	var out []Item
	for _, it := range s.Items {
		if !it.Success {
			out = append(out, it)
		}
	}
	return out
}

// Orchestrator processes input lists through a Runner.
type Orchestrator struct {
	runner      Runner
	concurrency int
	log         zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConcurrency allows up to n requests in flight. Only forced api runs
// accept n > 1.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) { o.concurrency = n }
}

// New returns an Orchestrator.
func New(r Runner, log zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{runner: r, concurrency: 1, log: logger.Component(log, "batch")}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// Run transcribes every file with the parameters of base. A failed file never
// stops the batch; an output write failure or cancellation does, and is
// returned along with the partial summary.
func (o *Orchestrator) Run(ctx context.Context, base types.Options, files []string) (*Summary, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if o.concurrency > 1 && base.Method != types.MethodAPI {
		return nil, ErrConcurrency
	}

	start := time.Now()
	items := make([]Item, len(files))
	done := make([]bool, len(files))

	var err error
	if o.concurrency == 1 {
		for i, f := range files {
			if err = ctx.Err(); err != nil {
				err = fmt.Errorf("batch interrupted: %w", err)
				break
			}
			if items[i], err = o.one(ctx, i, len(files), base, f); err != nil {
				break
			}
			done[i] = true
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.concurrency)
		for i, f := range files {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return fmt.Errorf("batch interrupted: %w", err)
				}
				it, err := o.one(gctx, i, len(files), base, f)
				if err != nil {
					return err
				}
				items[i], done[i] = it, true
				return nil
			})
		}
		err = g.Wait()
	}

	s := &Summary{Elapsed: time.Since(start)}
	for i := range files {
		if !done[i] {
			continue
		}
		s.Items = append(s.Items, items[i])
		s.Total++
		if items[i].Success {
			s.Successful++
		} else {
			s.Failed++
		}
	}
	o.log.Info().Int("total", s.Total).Int("failed", s.Failed).Msg(s.Tally())
	return s, err
}

func (o *Orchestrator) one(ctx context.Context, i, n int, base types.Options, path string) (Item, error) {
	log := o.log.With().Str(logger.FieldFile, path).Logger()
	log.Info().Msgf("processing file %d/%d", i+1, n)

	opts := base
	opts.AudioPath = path
	req, err := types.NewRequest(opts)
	if err != nil {
		e := apperrors.File("invalid input %q", path).WithCause(err)
		return Item{AudioPath: path, Error: e}, nil
	}

	res, err := o.runner.Run(ctx, req)
	if err != nil {
		return Item{}, err
	}
	return Item{
		AudioPath:   path,
		Success:     res.Success,
		MethodUsed:  res.MethodUsed,
		OutputFiles: res.OutputFiles,
		Warnings:    res.Warnings,
		Error:       res.Error,
	}, nil
}
