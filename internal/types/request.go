package types

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Model is a whisper model size token.
type Model string

// Supported model sizes.
const (
	ModelTiny   Model = "tiny"
	ModelBase   Model = "base"
	ModelSmall  Model = "small"
	ModelMedium Model = "medium"
	ModelLarge  Model = "large"
	ModelTurbo  Model = "turbo"

	DefaultModel = ModelSmall
)

// Models lists every accepted model token.
var Models = []Model{ModelTiny, ModelBase, ModelSmall, ModelMedium, ModelLarge, ModelTurbo}

// Format is an output file format token.
type Format string

// Supported output formats.
const (
	FormatTXT  Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatJSON Format = "json"
)

// Formats lists every accepted format token.
var Formats = []Format{FormatTXT, FormatSRT, FormatVTT, FormatJSON}

// Mode is the output naming policy.
type Mode string

// Output modes.
const (
	ModeProduction  Mode = "production"
	ModeDevelopment Mode = "development"
)

// Method is the caller's backend preference.
type Method string

// Backend methods. MethodAuto asks the selector to probe.
const (
	MethodAuto   Method = "auto"
	MethodLocal  Method = "local"
	MethodDocker Method = "docker"
	MethodAPI    Method = "api"
)

// ProbeOrder is the fixed priority used when the method is auto.
var ProbeOrder = []Method{MethodLocal, MethodDocker, MethodAPI}

// Task selects plain transcription or translation into English.
type Task string

// Tasks.
const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// LanguageAuto asks the backend to detect the spoken language.
const LanguageAuto = "auto"

// ErrInvalidRequest is returned by NewRequest for any argument problem.
var ErrInvalidRequest = errors.New("invalid request")

// Options is the mutable input used to build a Request.
type Options struct {
	AudioPath string        `validate:"required"`
	Model     Model         `validate:"omitempty,oneof=tiny base small medium large turbo"`
	Language  string        `validate:"omitempty,langcode"`
	Formats   []Format      `validate:"dive,oneof=txt srt vtt json"`
	Mode      Mode          `validate:"omitempty,oneof=production development"`
	Method    Method        `validate:"omitempty,oneof=auto local docker api"`
	Task      Task          `validate:"omitempty,oneof=transcribe translate"`
	Timeout   time.Duration `validate:"gte=0"`
}

// Request is one transcription invocation. It is built once by NewRequest
// and never mutated afterwards.
type Request struct {
	audioPath string
	model     Model
	language  string
	formats   []Format
	mode      Mode
	method    Method
	task      Task
	timeout   time.Duration
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("langcode", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == LanguageAuto {
			return true
		}
		if len(s) != 2 {
			return false
		}
		for _, r := range s {
			if r < 'a' || r > 'z' {
				return false
			}
		}
		return true
	})
	return v
}

// NewRequest validates opts, applies defaults and returns an immutable Request.
func NewRequest(opts Options) (*Request, error) {
	opts.Language = strings.ToLower(strings.TrimSpace(opts.Language))
	if err := validate.Struct(opts); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, fmt.Errorf("%w: %s: unsupported value %q", ErrInvalidRequest, strings.ToLower(fe.Field()), fmt.Sprint(fe.Value()))
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	r := &Request{
		audioPath: opts.AudioPath,
		model:     opts.Model,
		language:  opts.Language,
		mode:      opts.Mode,
		method:    opts.Method,
		task:      opts.Task,
		timeout:   opts.Timeout,
	}
	if r.model == "" {
		r.model = DefaultModel
	}
	if r.language == "" {
		r.language = LanguageAuto
	}
	if r.mode == "" {
		r.mode = ModeProduction
	}
	if r.method == "" {
		r.method = MethodAuto
	}
	if r.task == "" {
		r.task = TaskTranscribe
	}

	for _, f := range opts.Formats {
		if !slices.Contains(r.formats, f) {
			r.formats = append(r.formats, f)
		}
	}
	if len(r.formats) == 0 {
		r.formats = []Format{FormatTXT}
	}
	return r, nil
}

// AudioPath returns the input file path.
func (r *Request) AudioPath() string { return r.audioPath }

// Stem returns the input file name without directory and extension.
func (r *Request) Stem() string {
	base := filepath.Base(r.audioPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Model returns the requested model size.
func (r *Request) Model() Model { return r.model }

// Language returns the ISO-639-1 code or LanguageAuto.
func (r *Request) Language() string { return r.language }

// AutoLanguage reports whether the backend should detect the language.
func (r *Request) AutoLanguage() bool { return r.language == LanguageAuto }

// Formats returns a copy of the requested output formats, in request order.
func (r *Request) Formats() []Format { return slices.Clone(r.formats) }

// Mode returns the output naming policy.
func (r *Request) Mode() Mode { return r.mode }

// Method returns the backend preference.
func (r *Request) Method() Method { return r.method }

// Task returns the requested task.
func (r *Request) Task() Task { return r.task }

// Timeout returns the per-backend-call timeout; zero means none.
func (r *Request) Timeout() time.Duration { return r.timeout }

// Options returns the request's parameters as Options, e.g. to derive a
// request for another file in a batch.
func (r *Request) Options() Options {
	return Options{
		AudioPath: r.audioPath,
		Model:     r.model,
		Language:  r.language,
		Formats:   r.Formats(),
		Mode:      r.mode,
		Method:    r.method,
		Task:      r.task,
		Timeout:   r.timeout,
	}
}

// Params is the JSON view of a request embedded into json output files.
type Params struct {
	AudioPath string   `json:"audio_path"`
	Model     Model    `json:"model"`
	Language  string   `json:"language"`
	Formats   []Format `json:"requested_formats"`
	Mode      Mode     `json:"mode"`
	Method    Method   `json:"method"`
	Task      Task     `json:"task"`
}

// Params returns the serializable view of the request.
func (r *Request) Params() Params {
	return Params{
		AudioPath: r.audioPath,
		Model:     r.model,
		Language:  r.language,
		Formats:   r.Formats(),
		Mode:      r.mode,
		Method:    r.method,
		Task:      r.task,
	}
}

// ParseFormats converts tokens such as "txt,srt" or ["txt","srt"] into Formats.
func ParseFormats(tokens []string) []Format {
	var out []Format
	for _, tok := range tokens {
		for _, part := range strings.Split(tok, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" {
				out = append(out, Format(part))
			}
		}
	}
	return out
}

// Extension returns the file extension for f without the leading dot.
func (f Format) Extension() string { return string(f) }

// AudioExtensions are the file extensions treated as audio input when
// expanding directories.
var AudioExtensions = []string{".mp3", ".mp4", ".wav", ".m4a", ".flac", ".ogg", ".webm"}

// IsAudioFile reports whether path has a known audio extension.
func IsAudioFile(path string) bool {
	return slices.Contains(AudioExtensions, strings.ToLower(filepath.Ext(path)))
}
