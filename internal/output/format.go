package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/types"
)

// FormatTXT returns the transcript text with a single trailing newline.
func FormatTXT(res *types.Result) []byte {
	return []byte(res.Text + "\n")
}

// FormatSRT renders segments as numbered SubRip blocks.
func FormatSRT(segs []types.Segment) []byte {
	var b bytes.Buffer
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n", i+1, Timestamp(s.Start, ','), Timestamp(s.End, ','), cueText(s))
	}
	return b.Bytes()
}

// FormatVTT renders segments as a WebVTT document.
func FormatVTT(segs []types.Segment) []byte {
	var b bytes.Buffer
	b.WriteString("WEBVTT\n")
	for _, s := range segs {
		fmt.Fprintf(&b, "\n%s --> %s\n%s\n", Timestamp(s.Start, '.'), Timestamp(s.End, '.'), cueText(s))
	}
	return b.Bytes()
}

func cueText(s types.Segment) string {
	if s.Speaker != "" {
		return s.Speaker + ": " + s.Text
	}
	return s.Text
}

// Timestamp formats seconds as HH:MM:SS followed by sep and milliseconds,
// rounded to the nearest millisecond.
func Timestamp(seconds float64, sep byte) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	ms := int64(math.Round(seconds * 1000))
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", h, m, s, sep, ms)
}

// jsonDocument is the debugging dump of a result. It omits the output file
// map so the document never refers to itself.
type jsonDocument struct {
	Success          bool             `json:"success"`
	MethodUsed       types.Method     `json:"method_used"`
	Text             string           `json:"text"`
	Segments         []types.Segment  `json:"segments"`
	LanguageDetected string           `json:"language_detected"`
	Warnings         []string         `json:"warnings,omitempty"`
	Error            *apperrors.Error `json:"error,omitempty"`
	Request          types.Params     `json:"request"`
}

// FormatJSON renders the result and the request parameters as indented JSON.
func FormatJSON(req *types.Request, res *types.Result) ([]byte, error) {
	segs := res.Segments
	if segs == nil {
		segs = []types.Segment{}
	}
	doc := jsonDocument{
		Success:          res.Success,
		MethodUsed:       res.MethodUsed,
		Text:             res.Text,
		Segments:         segs,
		LanguageDetected: res.LanguageDetected,
		Warnings:         res.Warnings,
		Error:            res.Error,
		Request:          req.Params(),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json output: %w", err)
	}
	return append(data, '\n'), nil
}
