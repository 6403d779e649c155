// Package api sends audio to cloud transcription vendors.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/backend"
	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/types"
)

// Retry defaults.
const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultProbeTimeout   = 3 * time.Second
)

// Config configures a Client.
type Config struct {
	// Vendors are tried in order; the first with a credential serves the request.
	Vendors []Vendor
	Env     Env
	// MaxRetries bounds the retries after a rate-limited attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ProbeTimeout   time.Duration
	// Dial is used by the reachability probe. Defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Client is the cloud API backend.
type Client struct {
	cfg Config
	log zerolog.Logger
}

var _ backend.Backend = (*Client)(nil)

// New returns an API backend client. A negative MaxRetries disables retries.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Client{cfg: cfg, log: logger.Component(log, "api")}
}

// Method implements backend.Backend.
func (c *Client) Method() types.Method { return types.MethodAPI }

// Available implements backend.Backend: a credential must be set and the
// vendor endpoint must accept a connection.
func (c *Client) Available(ctx context.Context, _ *types.Request) error {
	v, _, err := c.vendor()
	if err != nil {
		return err
	}
	if r, ok := v.(interface{ Ready() error }); ok {
		if err := r.Ready(); err != nil {
			return err
		}
	}

	addr := v.Endpoint()
	if addr == "" {
		return fmt.Errorf("%s: no endpoint configured", v.Name())
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()
	conn, err := c.cfg.Dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", v.Name(), err)
	}
	return conn.Close()
}

// Transcribe implements backend.Backend. The credential, the file and the
// vendor's size ceiling are checked before any network call.
func (c *Client) Transcribe(ctx context.Context, req *types.Request) (*types.Result, error) {
	v, cred, err := c.vendor()
	if err != nil {
		return nil, err
	}
	info, err := backend.ValidateAudio(req.AudioPath())
	if err != nil {
		return nil, err
	}
	if limit := v.MaxFileSize(); limit > 0 && info.Size() > limit {
		return nil, apperrors.File("audio file is %s, exceeding the %s limit of %s",
			backend.FormatBytes(info.Size()), v.Name(), backend.FormatBytes(limit)).
			WithDetail("size", info.Size()).
			WithDetail("limit", limit)
	}

	ctx, cancel := backend.WithTimeout(ctx, req.Timeout())
	defer cancel()

	log := c.log.With().Str("vendor", v.Name()).Str(logger.FieldFile, req.AudioPath()).Logger()

	for attempt := 0; ; attempt++ {
		tr, err := v.Transcribe(ctx, req, cred)
		if err == nil {
			lang := tr.Language
			if lang == "" && !req.AutoLanguage() {
				lang = req.Language()
			}
			return types.Succeeded(types.MethodAPI, tr.Text, lang, tr.Segments), nil
		}
		if e := backend.ContextError(ctx, v.Name()+" request"); e != nil {
			return nil, e
		}

		var se *StatusError
		if !errors.As(err, &se) || se.Code != http.StatusTooManyRequests {
			return nil, c.classify(v, cred, err)
		}
		if attempt >= c.cfg.MaxRetries {
			return nil, apperrors.Processing("%s rate limit persisted after %d retries", v.Name(), c.cfg.MaxRetries).
				AsRetryable().
				WithDetail("attempts", attempt+1).
				WithCause(apperrors.RedactedError(err, cred.Value))
		}

		delay := c.Backoff(attempt)
		if se.RetryAfter > delay {
			delay = min(se.RetryAfter, c.cfg.MaxBackoff)
		}
		log.Warn().Int("attempt", attempt+1).Dur("backoff", delay).Msg("rate limited, retrying")
		if err := c.cfg.Sleep(ctx, delay); err != nil {
			if e := backend.ContextError(ctx, v.Name()+" request"); e != nil {
				return nil, e
			}
			return nil, apperrors.Processing("retry wait interrupted").WithCause(err)
		}
	}
}

// Backoff returns the delay before retry number attempt (zero based):
// InitialBackoff doubled per attempt, capped at MaxBackoff.
func (c *Client) Backoff(attempt int) time.Duration {
	d := c.cfg.InitialBackoff
	for range attempt {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return min(d, c.cfg.MaxBackoff)
}

// Schedule lists every delay the retry loop may wait, in order.
func (c *Client) Schedule() []time.Duration {
	out := make([]time.Duration, c.cfg.MaxRetries)
	for i := range out {
		out[i] = c.Backoff(i)
	}
	return out
}

// Vendor reports the vendor that would serve a request right now.
func (c *Client) Vendor() (string, error) {
	v, _, err := c.vendor()
	if err != nil {
		return "", err
	}
	return v.Name(), nil
}

func (c *Client) vendor() (Vendor, Credential, error) {
	var names []string
	for _, v := range c.cfg.Vendors {
		for _, key := range v.CredentialEnv() {
			names = append(names, key)
			if c.cfg.Env == nil {
				continue
			}
			if val, ok := c.cfg.Env.Lookup(key); ok {
				return v, Credential{Name: key, Value: val}, nil
			}
		}
	}
	if len(names) == 0 {
		return nil, Credential{}, apperrors.Authentication("no API vendor configured")
	}
	return nil, Credential{}, apperrors.Authentication("no API credential set; export one of %s", strings.Join(names, ", ")).
		WithDetail("variables", names)
}

func (c *Client) classify(v Vendor, cred Credential, err error) *apperrors.Error {
	if e, ok := apperrors.As(err); ok {
		return e
	}
	cause := apperrors.RedactedError(err, cred.Value)

	var se *StatusError
	if !errors.As(err, &se) {
		return apperrors.Processing("%s request failed", v.Name()).WithCause(cause)
	}
	switch {
	case se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden:
		return apperrors.Authentication("%s rejected the credential in %s", v.Name(), cred.Name).
			WithDetail("status", se.Code).WithCause(cause)
	case se.Code == http.StatusRequestEntityTooLarge:
		return apperrors.File("%s rejected the file as too large", v.Name()).
			WithDetail("status", se.Code).WithCause(cause)
	case se.Code >= 500:
		return apperrors.Processing("%s returned HTTP %d", v.Name(), se.Code).
			AsRetryable().WithDetail("status", se.Code).WithCause(cause)
	default:
		return apperrors.Processing("%s returned HTTP %d", v.Name(), se.Code).
			WithDetail("status", se.Code).WithCause(cause)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
