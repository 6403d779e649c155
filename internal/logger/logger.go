// Package logger builds the zerolog loggers used across the application.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field names shared by all components.
const (
	FieldComponent = "component"
	FieldMethod    = "method"
	FieldFile      = "file"
	FieldJobID     = "job_id"
)

// New returns a logger writing to w at the given level. Format "json" emits
// one JSON object per line; anything else is human-readable console output.
// A nil w means os.Stderr.
func New(level, format string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	out := w
	if strings.ToLower(format) != "json" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger { return zerolog.Nop() }

// Component returns l tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(FieldComponent, name).Logger()
}
