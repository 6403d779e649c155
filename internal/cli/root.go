// Package cli implements the transcribe command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/embano1/transcribe/internal/backend"
	"github.com/embano1/transcribe/internal/batch"
	"github.com/embano1/transcribe/internal/config"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitInvalid = 2
)

// exitError carries an exit code. A nil err means the failure was already
// reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error { return &exitError{code: ExitInvalid, err: err} }

// errFailed signals that at least one transcription failed.
var errFailed = &exitError{code: ExitFailed}

// usageArgs maps positional argument errors to ExitInvalid.
func usageArgs(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

// app holds state shared by all commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	logLevel   string
	logFormat  string
	outputDir  string

	model    string
	language string
	method   string
	formats  []string
	dev      bool
	task     string
	timeout  time.Duration

	cfg *config.Config
	log zerolog.Logger

	// newBackends replaces the configured backends, e.g. in tests.
	newBackends func(cfg *config.Config, log zerolog.Logger) []backend.Backend
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr).execute(ctx, args)
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr, log: logger.Nop()}
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}

	code := ExitFailed
	var ee *exitError
	switch {
	case errors.As(err, &ee):
		code = ee.code
		if ee.err == nil {
			return code
		}
	case errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, batch.ErrNoFiles),
		errors.Is(err, batch.ErrConcurrency):
		code = ExitInvalid
	}
	fmt.Fprintln(a.stderr, errorStyle.Render("Error: "+err.Error()))
	return code
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <audio_file>",
		Short: "Transcribe audio with a local, containerized or cloud whisper backend",
		Long: titleStyle.Render("transcribe") + `

Routes an audio file to the first available backend (local whisper.cpp,
a whisper container, or a cloud API) and writes the transcript to the
output tree.

` + dimStyle.Render("Use 'transcribe [command] --help' for more information."),
		Args:          usageArgs(cobra.ExactArgs(1)),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		RunE: a.runTranscribe,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError(err) })

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.configFile, "config", "c", "", "Config file (default ./transcribe.yaml or ~/.config/transcribe/transcribe.yaml)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "", "Log format: console or json")
	pf.StringVarP(&a.outputDir, "output-dir", "o", "", "Output root directory")
	pf.StringVarP(&a.model, "model", "m", "", "Model size: tiny, base, small, medium, large, turbo")
	pf.StringVarP(&a.language, "language", "l", "", "ISO-639-1 language code or auto")
	pf.StringVar(&a.method, "method", "", "Backend: auto, local, docker, api")
	pf.StringSliceVarP(&a.formats, "format", "f", nil, "Output formats: txt, srt, vtt, json (repeatable)")
	pf.BoolVar(&a.dev, "dev", false, "Development mode: simple overwrite-friendly file names")
	pf.StringVar(&a.task, "task", "", "Task: transcribe or translate (into English)")
	pf.DurationVar(&a.timeout, "timeout", 0, "Per-file backend timeout, e.g. 10m")

	cmd.Flags().Bool("json", false, "Print the result as JSON")

	cmd.AddCommand(
		a.batchCmd(),
		a.methodsCmd(),
		a.outputsCmd(),
		a.queueCmd(),
		a.workerCmd(),
		a.watchCmd(),
		a.versionCmd(),
	)
	return cmd
}

// init loads the configuration and applies flag overrides.
func (a *app) init(cmd *cobra.Command) error {
	v, err := config.New(a.configFile)
	if err != nil {
		return usageError(err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return usageError(err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = a.logFormat
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = a.outputDir
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	a.cfg = cfg
	a.log = logger.New(cfg.Log.Level, cfg.Log.Format, a.stderr)
	return nil
}

// requestOptions merges request flags over the configured defaults.
func (a *app) requestOptions(cmd *cobra.Command, path string) types.Options {
	d := a.cfg.Defaults
	flags := cmd.Flags()

	opts := types.Options{
		AudioPath: path,
		Model:     types.Model(d.Model),
		Language:  d.Language,
		Method:    types.Method(d.Method),
		Formats:   types.ParseFormats(d.Formats),
		Mode:      types.Mode(d.Mode),
		Task:      types.Task(d.Task),
		Timeout:   d.Timeout,
	}
	if flags.Changed("model") {
		opts.Model = types.Model(a.model)
	}
	if flags.Changed("language") {
		opts.Language = a.language
	}
	if flags.Changed("method") {
		opts.Method = types.Method(a.method)
	}
	if flags.Changed("format") {
		opts.Formats = types.ParseFormats(a.formats)
	}
	if flags.Changed("task") {
		opts.Task = types.Task(a.task)
	}
	if flags.Changed("timeout") {
		opts.Timeout = a.timeout
	}
	if a.dev {
		opts.Mode = types.ModeDevelopment
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			opts.AudioPath = abs
		}
	}
	return opts
}

func (a *app) runTranscribe(cmd *cobra.Command, args []string) error {
	req, err := types.NewRequest(a.requestOptions(cmd, args[0]))
	if err != nil {
		return usageError(err)
	}

	w, err := a.wire()
	if err != nil {
		return err
	}
	defer w.close()

	res, err := w.runner.Run(cmd.Context(), req)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if err := printJSON(a.stdout, res); err != nil {
			return err
		}
	} else {
		printResult(a.stdout, req, res)
	}
	if !res.Success {
		return errFailed
	}
	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			fmt.Fprint(a.stdout, config.VersionString())
			return nil
		},
	}
}
