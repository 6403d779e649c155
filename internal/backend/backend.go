// Package backend defines the capability shared by every transcription
// engine and the helpers each engine uses to honor it.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/types"
)

// Backend transcribes audio to text. Implementations validate the input
// before invoking their engine, return a typed *errors.Error on failure and
// leave Result.OutputFiles empty.
type Backend interface {
	// Method names the backend.
	Method() types.Method
	// Available reports nil when the backend can serve req right now. It is
	// evaluated on every call and must not cache environment state.
	Available(ctx context.Context, req *types.Request) error
	// Transcribe runs req to completion.
	Transcribe(ctx context.Context, req *types.Request) (*types.Result, error)
}

// ValidateAudio checks that path names a readable, non-empty regular file.
// WAV files must also carry a valid RIFF/WAVE header.
func ValidateAudio(path string) (fs.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperrors.File("audio file not found: %s", path).WithDetail("path", path)
		}
		return nil, apperrors.File("cannot stat audio file: %s", path).WithCause(err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperrors.File("not a regular file: %s", path).WithDetail("path", path)
	}
	if info.Size() == 0 {
		return nil, apperrors.File("audio file is empty: %s", path).WithDetail("path", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.File("cannot read audio file: %s", path).WithCause(err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".wav") && !wav.NewDecoder(f).IsValidFile() {
		return nil, apperrors.File("not a valid WAV file: %s", path).WithDetail("path", path)
	}
	return info, nil
}

// WithTimeout derives a context bounded by d; zero means no extra bound.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ContextError converts an ended context into a ProcessingError. Deadline
// expiry is tagged as a timeout. It returns nil if ctx is still live.
func ContextError(ctx context.Context, what string) *apperrors.Error {
	switch err := ctx.Err(); {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.Processing("%s timed out", what).AsTimeout().WithCause(err)
	case err != nil:
		return apperrors.Processing("%s canceled", what).WithCause(err)
	default:
		return nil
	}
}

// TempDir creates a private directory under root (os.TempDir when empty),
// passes it to fn and removes it on every exit path, panics included.
func TempDir(root, prefix string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp(root, prefix)
	if err != nil {
		return apperrors.Processing("create temp dir").WithCause(err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

// Unavailable builds the EnvironmentError returned when a forced backend
// cannot run.
func Unavailable(m types.Method, reason error) *apperrors.Error {
	return apperrors.Environment("%s backend unavailable: %v", m, reason).
		WithDetail("method", string(m))
}

// FormatBytes renders n as a MiB figure for messages.
func FormatBytes(n int64) string {
	return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
}
