package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/embano1/transcribe/internal/process"
	"github.com/embano1/transcribe/internal/types"
)

// Engine loads model weights into a runnable Model.
type Engine interface {
	// Check reports whether the engine can run on this host.
	Check() error
	// Load prepares the weights at path for transcription.
	Load(ctx context.Context, weights string) (Model, error)
}

// Model is a loaded set of weights.
type Model interface {
	Transcribe(ctx context.Context, audio string, opts Options) (*Transcript, error)
	Close() error
}

// Options are per-call engine settings.
type Options struct {
	// Language is an ISO-639-1 code or "auto".
	Language  string
	Translate bool
	// WorkDir is a private scratch directory owned by the caller.
	WorkDir string
}

// Transcript is the engine's raw output.
type Transcript struct {
	Text     string
	Language string
	Segments []types.Segment
}

// CLIEngine drives the whisper.cpp command line tool. Inputs that are not
// WAV are converted with ffmpeg first.
type CLIEngine struct {
	Binary  string
	FFmpeg  string
	Threads int
}

// Check implements Engine.
func (e *CLIEngine) Check() error {
	_, err := process.LookPath(e.Binary)
	return err
}

// Load implements Engine. whisper-cli reads weights on every run, so loading
// only verifies the file.
func (e *CLIEngine) Load(_ context.Context, weights string) (Model, error) {
	if _, err := os.Stat(weights); err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	return &cliModel{engine: e, weights: weights}, nil
}

type cliModel struct {
	engine  *CLIEngine
	weights string
}

func (m *cliModel) Close() error { return nil }

func (m *cliModel) Transcribe(ctx context.Context, audio string, opts Options) (*Transcript, error) {
	input := audio
	if !strings.EqualFold(filepath.Ext(audio), ".wav") {
		input = filepath.Join(opts.WorkDir, "input.wav")
		if _, err := process.Run(ctx, process.Command{
			Binary: m.engine.FFmpeg,
			Args:   []string{"-nostdin", "-y", "-i", audio, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", input},
		}); err != nil {
			return nil, fmt.Errorf("convert audio: %w", err)
		}
	}

	prefix := filepath.Join(opts.WorkDir, "transcript")
	lang := opts.Language
	if lang == "" {
		lang = types.LanguageAuto
	}
	args := []string{"-m", m.weights, "-f", input, "-l", lang, "-oj", "-of", prefix, "-np"}
	if opts.Translate {
		args = append(args, "-tr")
	}
	if m.engine.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(m.engine.Threads))
	}

	res, err := process.Run(ctx, process.Command{Binary: m.engine.Binary, Args: args})
	if err != nil {
		if res != nil {
			if tail := process.Tail(res.Stderr, 5); len(tail) > 0 {
				return nil, fmt.Errorf("run whisper: %w: %s", err, strings.Join(tail, " | "))
			}
		}
		return nil, fmt.Errorf("run whisper: %w", err)
	}

	raw, err := os.ReadFile(prefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return parseWhisperJSON(raw)
}

// whisperOutput is the document written by whisper-cli -oj.
type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseWhisperJSON(raw []byte) (*Transcript, error) {
	var doc whisperOutput
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}

	t := &Transcript{Language: doc.Result.Language}
	var parts []string
	for _, s := range doc.Transcription {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		t.Segments = append(t.Segments, types.Segment{
			Start: float64(s.Offsets.From) / 1000,
			End:   float64(s.Offsets.To) / 1000,
			Text:  text,
		})
	}
	t.Text = strings.Join(parts, " ")
	return t, nil
}

// WeightsFile returns the ggml file name for a model token.
func WeightsFile(m types.Model) string {
	name := string(m)
	switch m {
	case types.ModelLarge:
		name = "large-v3"
	case types.ModelTurbo:
		name = "large-v3-turbo"
	}
	return "ggml-" + name + ".bin"
}

// KnownModel reports whether m has published whisper.cpp weights.
func KnownModel(m types.Model) bool {
	return slices.Contains(types.Models, m)
}
