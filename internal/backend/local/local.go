// Package local runs whisper models installed on this machine.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// Config configures a Client.
type Config struct {
	Engine Engine
	// ModelDir holds ggml-*.bin weights.
	ModelDir string
	// AllowDownload lets missing weights be fetched from DownloadURL.
	AllowDownload bool
	DownloadURL   string
	HTTPClient    *http.Client
	// TempRoot is where scratch directories are created; empty means os.TempDir.
	TempRoot string
}

// Client is the local backend. At most one model is resident at a time; it
// is loaded on first use and replaced when a different size is requested.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	model  Model
	loaded types.Model
}

var _ backend.Backend = (*Client)(nil)

// New returns a local backend client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Client{cfg: cfg, log: logger.Component(log, "local")}
}

// Method implements backend.Backend.
func (c *Client) Method() types.Method { return types.MethodLocal }

// Available implements backend.Backend.
func (c *Client) Available(_ context.Context, req *types.Request) error {
	if c.cfg.Engine == nil {
		return errors.New("no local engine configured")
	}
	if err := c.cfg.Engine.Check(); err != nil {
		return err
	}
	if !KnownModel(req.Model()) {
		return fmt.Errorf("unknown model %q", req.Model())
	}
	if c.hasWeights(req.Model()) {
		return nil
	}
	if c.cfg.AllowDownload && c.cfg.DownloadURL != "" {
		return nil
	}
	return fmt.Errorf("model weights %s not found in %s", WeightsFile(req.Model()), c.cfg.ModelDir)
}

// Transcribe implements backend.Backend.
func (c *Client) Transcribe(ctx context.Context, req *types.Request) (*types.Result, error) {
	if _, err := backend.ValidateAudio(req.AudioPath()); err != nil {
		return nil, err
	}
	if c.cfg.Engine == nil {
		return nil, backend.Unavailable(types.MethodLocal, errors.New("no local engine configured"))
	}
	if err := c.cfg.Engine.Check(); err != nil {
		return nil, backend.Unavailable(types.MethodLocal, err)
	}
	if !KnownModel(req.Model()) {
		return nil, apperrors.Model("unknown model %q", req.Model())
	}

	ctx, cancel := backend.WithTimeout(ctx, req.Timeout())
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	model, err := c.ensureModel(ctx, req.Model())
	if err != nil {
		if e := backend.ContextError(ctx, "model load"); e != nil {
			return nil, e
		}
		return nil, err
	}

	var tr *Transcript
	err = backend.TempDir(c.cfg.TempRoot, "transcribe-local-*", func(dir string) error {
		var terr error
		tr, terr = model.Transcribe(ctx, req.AudioPath(), Options{
			Language:  req.Language(),
			Translate: req.Task() == types.TaskTranslate,
			WorkDir:   dir,
		})
		return terr
	})
	if err != nil {
		if e := backend.ContextError(ctx, "local transcription"); e != nil {
			return nil, e
		}
		if e, ok := apperrors.As(err); ok {
			return nil, e
		}
		return nil, apperrors.Processing("local transcription failed").WithCause(apperrors.RedactedError(err))
	}

	lang := tr.Language
	if lang == "" && !req.AutoLanguage() {
		lang = req.Language()
	}
	return types.Succeeded(types.MethodLocal, tr.Text, lang, tr.Segments), nil
}

// Close unloads the resident model.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unload()
}

// Loaded returns the resident model size, if any.
func (c *Client) Loaded() (types.Model, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded, c.model != nil
}

// caller holds c.mu
func (c *Client) ensureModel(ctx context.Context, m types.Model) (Model, error) {
	if c.model != nil && c.loaded == m {
		return c.model, nil
	}
	if err := c.unload(); err != nil {
		c.log.Warn().Err(err).Str("model", string(c.loaded)).Msg("unloading model")
	}

	path, err := c.weights(ctx, m)
	if err != nil {
		return nil, err
	}
	c.log.Debug().Str("model", string(m)).Str("weights", path).Msg("loading model")
	model, err := c.cfg.Engine.Load(ctx, path)
	if err != nil {
		return nil, apperrors.Model("load model %s", m).WithCause(apperrors.RedactedError(err))
	}
	c.model, c.loaded = model, m
	return model, nil
}

// caller holds c.mu
func (c *Client) unload() error {
	if c.model == nil {
		return nil
	}
	err := c.model.Close()
	c.model, c.loaded = nil, ""
	return err
}

func (c *Client) weightsPath(m types.Model) string {
	return filepath.Join(c.cfg.ModelDir, WeightsFile(m))
}

func (c *Client) hasWeights(m types.Model) bool {
	info, err := os.Stat(c.weightsPath(m))
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func (c *Client) weights(ctx context.Context, m types.Model) (string, error) {
	path := c.weightsPath(m)
	if c.hasWeights(m) {
		return path, nil
	}
	if !c.cfg.AllowDownload || c.cfg.DownloadURL == "" {
		return "", apperrors.Model("model weights %s not found in %s", WeightsFile(m), c.cfg.ModelDir).
			WithCause(fs.ErrNotExist)
	}

	url := joinURL(c.cfg.DownloadURL, WeightsFile(m))
	c.log.Info().Str("model", string(m)).Str("url", url).Msg("downloading model weights")
	if err := download(ctx, c.cfg.HTTPClient, url, path); err != nil {
		return "", apperrors.Model("fetch model %s", m).WithCause(err)
	}
	return path, nil
}
