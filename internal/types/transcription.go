package types

import (
	"sort"
	"time"

	apperrors "github.com/embano1/transcribe/internal/errors"
)

// Segment is a timed span of transcript text. Times are in seconds.
type Segment struct {
	Start   float64 `json:"start_time"`
	End     float64 `json:"end_time"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Result is the outcome of one Request.
type Result struct {
	Success          bool              `json:"success"`
	MethodUsed       Method            `json:"method_used,omitempty"`
	Text             string            `json:"text,omitempty"`
	Segments         []Segment         `json:"segments"`
	LanguageDetected string            `json:"language_detected,omitempty"`
	OutputFiles      map[Format]string `json:"output_files,omitempty"`
	Warnings         []string          `json:"warnings,omitempty"`
	Elapsed          time.Duration     `json:"elapsed_ns,omitempty"`
	Error            *apperrors.Error  `json:"error,omitempty"`
}

// Succeeded builds a successful result for a backend. Segments are
// normalized so that start times never decrease and spans never overlap.
func Succeeded(method Method, text, language string, segments []Segment) *Result {
	return &Result{
		Success:          true,
		MethodUsed:       method,
		Text:             text,
		Segments:         NormalizeSegments(segments),
		LanguageDetected: language,
	}
}

// Failed builds a failed result carrying err. Errors without a Kind are
// reported as processing errors.
func Failed(err error) *Result {
	e, ok := apperrors.As(err)
	if !ok {
		e = apperrors.Processing("transcription failed").WithCause(apperrors.RedactedError(err))
	}
	return &Result{Success: false, Segments: []Segment{}, Error: e}
}

// Warn attaches a non-fatal note to the result.
func (r *Result) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// ErrorKind returns the failure kind, or an empty Kind on success.
func (r *Result) ErrorKind() apperrors.Kind {
	if r == nil || r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// NormalizeSegments returns a copy of segs ordered by start time, with each
// segment's start clamped to the previous end and each end clamped to be no
// earlier than its start. A nil input yields an empty slice.
func NormalizeSegments(segs []Segment) []Segment {
	out := make([]Segment, len(segs))
	copy(out, segs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	prevEnd := 0.0
	for i := range out {
		if out[i].Start < 0 {
			out[i].Start = 0
		}
		if i > 0 && out[i].Start < prevEnd {
			out[i].Start = prevEnd
		}
		if out[i].End < out[i].Start {
			out[i].End = out[i].Start
		}
		prevEnd = out[i].End
	}
	return out
}
