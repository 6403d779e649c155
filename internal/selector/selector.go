// Package selector picks the backend that serves a request.
package selector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// Selector maps a request's method to one backend. With MethodAuto it probes
// backends in types.ProbeOrder and picks the first available one; a forced
// method is returned without probing.
type Selector struct {
	backends map[types.Method]backend.Backend
	log      zerolog.Logger
}

// New returns a Selector over the given backends.
func New(log zerolog.Logger, backends ...backend.Backend) *Selector {
	m := make(map[types.Method]backend.Backend, len(backends))
	for _, b := range backends {
		m[b.Method()] = b
	}
	return &Selector{backends: m, log: logger.Component(log, "selector")}
}

// Status is one backend's probe outcome.
type Status struct {
	Method    types.Method `json:"method"`
	Available bool         `json:"available"`
	Reason    string       `json:"reason,omitempty"`
}

// Select returns the backend for req.
func (s *Selector) Select(ctx context.Context, req *types.Request) (backend.Backend, error) {
	if m := req.Method(); m != types.MethodAuto {
		b, ok := s.backends[m]
		if !ok {
			return nil, apperrors.Environment("%s backend is not configured", m).WithDetail("method", string(m))
		}
		return b, nil
	}

	var reasons []string
	details := make(map[string]string, len(types.ProbeOrder))
	for _, st := range s.probe(ctx, req, true) {
		if st.Available {
			s.log.Debug().Str(logger.FieldMethod, string(st.Method)).Msg("selected backend")
			return s.backends[st.Method], nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", st.Method, st.Reason))
		details[string(st.Method)] = st.Reason
	}
	return nil, apperrors.Environment("no transcription backend available (%s)", strings.Join(reasons, "; ")).
		WithDetail("probes", details)
}

// Probe reports the availability of every backend in priority order.
func (s *Selector) Probe(ctx context.Context, req *types.Request) []Status {
	return s.probe(ctx, req, false)
}

func (s *Selector) probe(ctx context.Context, req *types.Request, stopAtFirst bool) []Status {
	out := make([]Status, 0, len(types.ProbeOrder))
	for _, m := range types.ProbeOrder {
		st := Status{Method: m}
		b, ok := s.backends[m]
		if !ok {
			st.Reason = "not configured"
			out = append(out, st)
			continue
		}
		if err := b.Available(ctx, req); err != nil {
			st.Reason = apperrors.Redact(err.Error())
			s.log.Debug().Str(logger.FieldMethod, string(m)).Str("reason", st.Reason).Msg("backend unavailable")
		} else {
			st.Available = true
		}
		out = append(out, st)
		if st.Available && stopAtFirst {
			break
		}
	}
	return out
}
