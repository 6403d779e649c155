// Package docker runs whisper inside a container, one container per request.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	dockertypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/process"
	"github.com/embano1/transcribe/internal/types"
)

const (
	inputMount  = "/data/input"
	outputMount = "/data/output"

	probeTimeout   = 10 * time.Second
	cleanupTimeout = 15 * time.Second
)

// API is the subset of the Docker Engine client used by the backend.
type API interface {
	Ping(ctx context.Context) (dockertypes.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, opts container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, opts container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, opts container.RemoveOptions) error
	Close() error
}

var _ API = (*client.Client)(nil)

// Config configures a Client.
type Config struct {
	// Host is the daemon address; empty means DOCKER_HOST or the default socket.
	Host      string
	Image     string
	GPU       bool
	AllowPull bool
	// StderrTail is the number of stderr lines kept in failure messages.
	StderrTail int
	// TempRoot is where staging directories are created; empty means os.TempDir.
	TempRoot string
}

// Client is the docker backend.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu  sync.Mutex
	api API
}

var _ backend.Backend = (*Client)(nil)

// New returns a docker backend client. The engine client is created on first use.
func New(cfg Config, log zerolog.Logger) *Client {
	return &Client{cfg: cfg, log: logger.Component(log, "docker")}
}

// NewWithAPI returns a docker backend client backed by api.
func NewWithAPI(cfg Config, api API, log zerolog.Logger) *Client {
	c := New(cfg, log)
	c.api = api
	return c
}

// Method implements backend.Backend.
func (c *Client) Method() types.Method { return types.MethodDocker }

// Close releases the engine client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api == nil {
		return nil
	}
	err := c.api.Close()
	c.api = nil
	return err
}

func (c *Client) engine() (API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if c.cfg.Host != "" {
		opts = append(opts, client.WithHost(c.cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	c.api = cli
	return cli, nil
}

// Available implements backend.Backend. The daemon must answer and the
// image must be present locally unless pulling is allowed.
func (c *Client) Available(ctx context.Context, _ *types.Request) error {
	api, err := c.engine()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if _, err := api.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	if c.cfg.AllowPull {
		return nil
	}
	if _, err := api.ImageInspect(ctx, c.cfg.Image); err != nil {
		return fmt.Errorf("image %s not present: %w", c.cfg.Image, err)
	}
	return nil
}

// Transcribe implements backend.Backend.
func (c *Client) Transcribe(ctx context.Context, req *types.Request) (*types.Result, error) {
	if _, err := backend.ValidateAudio(req.AudioPath()); err != nil {
		return nil, err
	}
	if err := c.Available(ctx, req); err != nil {
		return nil, backend.Unavailable(types.MethodDocker, apperrors.RedactedError(err))
	}
	audio, err := filepath.Abs(req.AudioPath())
	if err != nil {
		return nil, apperrors.File("resolve audio path: %s", req.AudioPath()).WithCause(err)
	}
	api, err := c.engine()
	if err != nil {
		return nil, backend.Unavailable(types.MethodDocker, err)
	}

	ctx, cancel := backend.WithTimeout(ctx, req.Timeout())
	defer cancel()

	var result *types.Result
	err = backend.TempDir(c.cfg.TempRoot, "transcribe-docker-*", func(staging string) error {
		// the container user must be able to write here
		if err := os.Chmod(staging, 0o777); err != nil {
			return apperrors.Processing("prepare staging dir").WithCause(err)
		}
		var rerr error
		result, rerr = c.run(ctx, api, req, audio, staging)
		return rerr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) run(ctx context.Context, api API, req *types.Request, audio, staging string) (*types.Result, error) {
	name := "transcribe-" + uuid.NewString()
	log := c.log.With().Str("container", name).Str(logger.FieldFile, audio).Logger()

	if err := c.ensureImage(ctx, api, log); err != nil {
		if e := backend.ContextError(ctx, "docker pull"); e != nil {
			return nil, e
		}
		return nil, apperrors.Environment("docker image %s unavailable", c.cfg.Image).WithCause(apperrors.RedactedError(err))
	}

	cfg, hostCfg := c.containerConfig(req, audio, staging)
	log.Debug().Str("image", c.cfg.Image).Msg("starting container")
	start := time.Now()

	created, err := api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		if e := backend.ContextError(ctx, "docker create"); e != nil {
			return nil, e.WithDetail("container", name)
		}
		return nil, apperrors.Processing("create container").WithCause(apperrors.RedactedError(err))
	}
	defer c.remove(api, created.ID, name, log)

	if err := api.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		if e := backend.ContextError(ctx, "docker start"); e != nil {
			return nil, e.WithDetail("container", name)
		}
		return nil, apperrors.Processing("start container").WithCause(apperrors.RedactedError(err))
	}

	code, err := wait(ctx, api, created.ID)
	if err != nil {
		if e := backend.ContextError(ctx, "docker run"); e != nil {
			return nil, e.WithDetail("container", name)
		}
		return nil, apperrors.Processing("wait for container").WithCause(apperrors.RedactedError(err))
	}
	if code != 0 {
		tail := c.stderrTail(ctx, api, created.ID, log)
		msg := fmt.Sprintf("container exited with code %d", code)
		if len(tail) > 0 {
			msg += ": " + strings.Join(tail, "\n")
		}
		return nil, apperrors.Processing("%s", msg).
			WithDetail("exit_code", code).
			WithDetail("stderr_tail", tail)
	}

	raw, err := os.ReadFile(filepath.Join(staging, req.Stem()+".json"))
	if err != nil {
		return nil, apperrors.Processing("container produced no transcript").WithCause(err)
	}
	var doc whisperJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Processing("malformed container output").WithCause(err)
	}

	segs := make([]types.Segment, 0, len(doc.Segments))
	for _, s := range doc.Segments {
		segs = append(segs, types.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	lang := doc.Language
	if lang == "" && !req.AutoLanguage() {
		lang = req.Language()
	}
	log.Debug().Dur("took", time.Since(start)).Msg("container finished")
	return types.Succeeded(types.MethodDocker, strings.TrimSpace(doc.Text), lang, segs), nil
}

// ensureImage pulls the image when it is missing and pulling is allowed.
func (c *Client) ensureImage(ctx context.Context, api API, log zerolog.Logger) error {
	_, err := api.ImageInspect(ctx, c.cfg.Image)
	if err == nil {
		return nil
	}
	if !c.cfg.AllowPull || !client.IsErrNotFound(err) {
		return err
	}

	log.Info().Str("image", c.cfg.Image).Msg("pulling image")
	rc, err := api.ImagePull(ctx, c.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", c.cfg.Image, err)
	}
	defer rc.Close()
	// the pull completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", c.cfg.Image, err)
	}
	return nil
}

func (c *Client) containerConfig(req *types.Request, audio, staging string) (*container.Config, *container.HostConfig) {
	cmd := []string{
		"--model", string(req.Model()),
		"--task", string(req.Task()),
		"--output_dir", outputMount,
		"--output_format", "json",
	}
	if !req.AutoLanguage() {
		cmd = append(cmd, "--language", req.Language())
	}
	cmd = append(cmd, inputMount+"/"+filepath.Base(audio))

	cfg := &container.Config{
		Image:  c.cfg.Image,
		Cmd:    cmd,
		Labels: map[string]string{"managed-by": "transcribe"},
	}
	if uid, gid := os.Getuid(), os.Getgid(); uid >= 0 {
		cfg.User = strconv.Itoa(uid) + ":" + strconv.Itoa(gid)
	}

	hostCfg := &container.HostConfig{
		Binds: []string{
			filepath.Dir(audio) + ":" + inputMount + ":ro",
			staging + ":" + outputMount,
		},
	}
	if c.cfg.GPU {
		hostCfg.Resources.DeviceRequests = []container.DeviceRequest{
			{Count: -1, Capabilities: [][]string{{"gpu"}}},
		}
	}
	return cfg, hostCfg
}

// wait blocks until the container stops and returns its exit code.
func wait(ctx context.Context, api API, id string) (int, error) {
	statusCh, errCh := api.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case st := <-statusCh:
		if st.Error != nil && st.Error.Message != "" {
			return int(st.StatusCode), fmt.Errorf("container wait: %s", st.Error.Message)
		}
		return int(st.StatusCode), nil
	case err := <-errCh:
		return -1, err
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// remove force-removes the container. It uses its own context because the
// request context may already be done.
func (c *Client) remove(api API, id, name string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := api.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		log.Warn().Err(err).Str("container", name).Msg("removing container")
	}
}

func (c *Client) stderrTail(ctx context.Context, api API, id string, log zerolog.Logger) []string {
	rc, err := api.ContainerLogs(ctx, id, container.LogsOptions{ShowStderr: true})
	if err != nil {
		log.Warn().Err(err).Msg("reading container logs")
		return nil
	}
	defer rc.Close()

	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(io.Discard, &stderr, rc); err != nil {
		log.Warn().Err(err).Msg("demultiplexing container logs")
	}
	lines := process.Tail(stderr.Bytes(), c.cfg.StderrTail)
	for i, l := range lines {
		lines[i] = apperrors.Redact(l)
	}
	return lines
}

// whisperJSON is the openai-whisper JSON writer's document.
type whisperJSON struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}
