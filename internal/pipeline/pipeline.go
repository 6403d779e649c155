// Package pipeline runs one request through selection, transcription and
// output writing.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/metrics"
	"github.com/embano1/transcribe/internal/types"
)

// Selector picks a backend for a request.
type Selector interface {
	Select(ctx context.Context, req *types.Request) (backend.Backend, error)
}

// Writer persists a successful result.
type Writer interface {
	Write(req *types.Request, res *types.Result) error
}

// Runner wires a Selector, the chosen backend and a Writer together.
type Runner struct {
	selector Selector
	writer   Writer
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New returns a Runner. m may be nil.
func New(sel Selector, w Writer, m *metrics.Metrics, log zerolog.Logger) *Runner {
	return &Runner{selector: sel, writer: w, metrics: m, log: logger.Component(log, "pipeline")}
}

// Run transcribes req. Backend and selection failures are reported in the
// returned result; the error is non-nil only when writing outputs failed.
func (r *Runner) Run(ctx context.Context, req *types.Request) (*types.Result, error) {
	start := time.Now()
	defer r.metrics.Track()()

	log := r.log.With().Str(logger.FieldFile, req.AudioPath()).Logger()

	res, method := r.transcribe(ctx, req)
	res.Elapsed = time.Since(start)
	if res.MethodUsed == "" {
		res.MethodUsed = method
	}

	if !res.Success {
		r.metrics.ObserveRequest(string(method), false, res.Elapsed)
		msg := "transcription failed"
		if res.Error != nil {
			msg = res.Error.Message
		}
		log.Warn().
			Str(logger.FieldMethod, string(method)).
			Str("kind", string(res.ErrorKind())).
			Msg(msg)
		return res, nil
	}

	if err := r.writer.Write(req, res); err != nil {
		r.metrics.ObserveRequest(string(method), false, res.Elapsed)
		return res, fmt.Errorf("write outputs: %w", err)
	}
	r.metrics.ObserveRequest(string(method), true, res.Elapsed)

	for _, w := range res.Warnings {
		log.Warn().Msg(w)
	}
	log.Info().
		Str(logger.FieldMethod, string(method)).
		Dur("elapsed", res.Elapsed).
		Int("files", len(res.OutputFiles)).
		Msg("transcription complete")
	return res, nil
}

func (r *Runner) transcribe(ctx context.Context, req *types.Request) (*types.Result, types.Method) {
	b, err := r.selector.Select(ctx, req)
	if err != nil {
		return types.Failed(err), ""
	}

	res, err := b.Transcribe(ctx, req)
	if err != nil {
		return types.Failed(err), b.Method()
	}
	if res == nil {
		return types.Failed(fmt.Errorf("%s backend returned no result", b.Method())), b.Method()
	}
	return res, b.Method()
}
