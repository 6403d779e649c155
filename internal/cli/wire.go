package cli

import (
	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	"github.com/embano1/transcribe/internal/backend/api"
	"github.com/embano1/transcribe/internal/backend/docker"
	"github.com/embano1/transcribe/internal/backend/local"
	"github.com/embano1/transcribe/internal/config"
	"github.com/embano1/transcribe/internal/metrics"
	"github.com/embano1/transcribe/internal/output"
	"github.com/embano1/transcribe/internal/pipeline"
	"github.com/embano1/transcribe/internal/selector"
)

// wiring is the component graph of one command.
type wiring struct {
	backends []backend.Backend
	selector *selector.Selector
	output   *output.Manager
	metrics  *metrics.Metrics
	runner   *pipeline.Runner
}

func (a *app) wire() (*wiring, error) {
	build := a.newBackends
	if build == nil {
		build = configuredBackends
	}
	backends := build(a.cfg, a.log)

	out, err := output.New(a.cfg.Output.Dir, a.log)
	if err != nil {
		return nil, err
	}
	sel := selector.New(a.log, backends...)
	m := metrics.New()
	return &wiring{
		backends: backends,
		selector: sel,
		output:   out,
		metrics:  m,
		runner:   pipeline.New(sel, out, m, a.log),
	}, nil
}

// close releases resident models.
func (w *wiring) close() {
	for _, b := range w.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

func configuredBackends(cfg *config.Config, log zerolog.Logger) []backend.Backend {
	env := config.NewEnv(cfg.EnvFile)

	localClient := local.New(local.Config{
		Engine: &local.CLIEngine{
			Binary:  cfg.Local.Binary,
			FFmpeg:  cfg.Local.FFmpeg,
			Threads: cfg.Local.Threads,
		},
		ModelDir:      cfg.Local.ModelDir,
		AllowDownload: cfg.Local.AllowDownload,
		DownloadURL:   cfg.Local.DownloadURL,
	}, log)

	image := cfg.Docker.Image
	if cfg.Docker.Faster {
		image = cfg.Docker.FasterImage
	}
	dockerClient := docker.New(docker.Config{
		Host:       cfg.Docker.Host,
		Image:      image,
		GPU:        cfg.Docker.GPU,
		AllowPull:  cfg.Docker.AllowPull,
		StderrTail: cfg.Docker.StderrTail,
	}, log)

	apiClient := api.New(api.Config{
		Vendors:        vendors(cfg, env, log),
		Env:            env,
		MaxRetries:     cfg.API.MaxRetries,
		InitialBackoff: cfg.API.InitialBackoff,
		MaxBackoff:     cfg.API.MaxBackoff,
		ProbeTimeout:   cfg.API.ProbeTimeout,
	}, log)

	return []backend.Backend{localClient, dockerClient, apiClient}
}

// vendors returns the configured vendor, or all of them in preference order
// for "auto".
func vendors(cfg *config.Config, env api.Env, log zerolog.Logger) []api.Vendor {
	openai := func() api.Vendor { return api.NewOpenAI(cfg.API.OpenAI.BaseURL, cfg.API.OpenAI.Model, nil) }
	groq := func() api.Vendor { return api.NewGroq(cfg.API.Groq.BaseURL, cfg.API.Groq.Model, nil) }
	aws := func() api.Vendor {
		return api.NewAWS(api.AWSConfig{
			Region:             cfg.API.AWS.Region,
			Bucket:             cfg.API.AWS.Bucket,
			SpeakerDiarization: cfg.API.AWS.SpeakerDiarization,
			MaxSpeakers:        cfg.API.AWS.MaxSpeakers,
			PollInterval:       cfg.API.AWS.PollInterval,
			Env:                env,
		}, log)
	}

	switch cfg.API.Vendor {
	case "openai":
		return []api.Vendor{openai()}
	case "groq":
		return []api.Vendor{groq()}
	case "aws":
		return []api.Vendor{aws()}
	default:
		return []api.Vendor{openai(), groq(), aws()}
	}
}
