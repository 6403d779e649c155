package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/logger"
	"github.com/embano1/transcribe/internal/testutil"
	"github.com/embano1/transcribe/internal/types"
)

const testKey = "sk-test0123456789abcdef"

// mapEnv is a mutable credential source.
type mapEnv struct {
	mu sync.Mutex
	m  map[string]string
}

func newEnv(kv ...string) *mapEnv {
	e := &mapEnv{m: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		e.m[kv[i]] = kv[i+1]
	}
	return e
}

func (e *mapEnv) Lookup(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.m[key]
	return v, ok && v != ""
}

func (e *mapEnv) Set(key, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.m[key] = value
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

type vendorServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newVendorServer(t *testing.T, h http.HandlerFunc) *vendorServer {
	t.Helper()
	vs := &vendorServer{}
	vs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vs.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(vs.Close)
	return vs
}

func newClient(srv *vendorServer, env Env, sleeper *sleepRecorder) *Client {
	cfg := Config{
		Vendors:        []Vendor{NewOpenAI(srv.URL, "whisper-1", srv.Client())},
		Env:            env,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
	}
	if sleeper != nil {
		cfg.Sleep = sleeper.Sleep
	}
	return New(cfg, logger.Nop())
}

func request(t *testing.T, opts types.Options) *types.Request {
	t.Helper()
	if opts.Method == "" {
		opts.Method = types.MethodAPI
	}
	r, err := types.NewRequest(opts)
	require.NoError(t, err)
	return r
}

func okJSON(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func TestMissingCredentialIsAuthenticationError(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) { okJSON(w, `{"text":"x"}`) })
	c := newClient(srv, newEnv(), nil)

	req := request(t, types.Options{AudioPath: "sample.wav", Model: types.ModelSmall, Language: "en", Formats: []types.Format{types.FormatTXT}})
	_, err := c.Transcribe(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindAuthentication, apperrors.KindOf(err))
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
	assert.Zero(t, srv.hits.Load())
}

func TestOversizedFileFailsBeforeNetwork(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) { okJSON(w, `{"text":"x"}`) })
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)

	big := testutil.WriteSparse(t, t.TempDir(), "big.mp3", 30*1024*1024)
	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: big}))
	require.Error(t, err)

	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindFile, e.Kind)
	assert.Contains(t, e.Message, "25.0 MB")
	assert.Zero(t, srv.hits.Load(), "no outbound request")
}

func TestMissingFileIsFileError(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) { okJSON(w, `{"text":"x"}`) })
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)

	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: "/nonexistent/a.wav"}))
	assert.Equal(t, apperrors.KindFile, apperrors.KindOf(err))
	assert.Zero(t, srv.hits.Load())
}

func TestVerboseJSON(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer "+testKey, r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "de", r.FormValue("language"))
		if _, hdr, err := r.FormFile("file"); assert.NoError(t, err) {
			assert.Equal(t, "talk.wav", hdr.Filename)
		}

		okJSON(w, `{"text":" Hallo Welt ","language":"german","segments":[
			{"start":0.0,"end":0.8,"text":" Hallo"},{"start":0.8,"end":1.5,"text":" Welt"}]}`)
	})
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)
	audio := testutil.WriteWAV(t, t.TempDir(), "talk.wav")

	res, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio, Language: "de"}))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, types.MethodAPI, res.MethodUsed)
	assert.Equal(t, "Hallo Welt", res.Text)
	assert.Equal(t, "de", res.LanguageDetected)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, "Welt", res.Segments[1].Text)
	assert.Empty(t, res.OutputFiles)
}

func TestPlainTextResponse(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello world\n")
	})
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	res, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio, Language: "en"}))
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "en", res.LanguageDetected)
	assert.Empty(t, res.Segments)
	assert.NotNil(t, res.Segments)
}

func TestTranslationEndpoint(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/translations", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Empty(t, r.FormValue("language"))
		okJSON(w, `{"text":"good morning"}`)
	})
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	res, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio, Language: "fr", Task: types.TaskTranslate}))
	require.NoError(t, err)
	assert.Equal(t, "good morning", res.Text)
}

func TestRateLimitRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		okJSON(w, `{"text":"finally"}`)
	})
	sleeper := &sleepRecorder{}
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), sleeper)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	res, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
	require.NoError(t, err)
	assert.Equal(t, "finally", res.Text)
	assert.EqualValues(t, 3, srv.hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
}

func TestRateLimitExhausted(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited for "+testKey, http.StatusTooManyRequests)
	})
	sleeper := &sleepRecorder{}
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), sleeper)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
	require.Error(t, err)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindProcessing, e.Kind)
	assert.True(t, e.Retryable)
	assert.NotContains(t, e.Error(), testKey)

	assert.EqualValues(t, 4, srv.hits.Load(), "first attempt plus three retries")
	assert.Equal(t, c.Schedule(), sleeper.delays)
}

func TestRetryAfterHeader(t *testing.T) {
	var calls atomic.Int32
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		okJSON(w, `{"text":"ok"}`)
	})
	sleeper := &sleepRecorder{}
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), sleeper)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, sleeper.delays)
}

func TestStatusClassification(t *testing.T) {
	tests := []struct {
		code      int
		kind      apperrors.Kind
		retryable bool
	}{
		{http.StatusUnauthorized, apperrors.KindAuthentication, false},
		{http.StatusForbidden, apperrors.KindAuthentication, false},
		{http.StatusRequestEntityTooLarge, apperrors.KindFile, false},
		{http.StatusServiceUnavailable, apperrors.KindProcessing, true},
		{http.StatusBadRequest, apperrors.KindProcessing, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.code), func(t *testing.T) {
			srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				_, _ = fmt.Fprintf(w, `{"error":{"message":"Incorrect API key provided: %s"}}`, testKey)
			})
			c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), &sleepRecorder{})
			audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

			_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
			require.Error(t, err)
			e, ok := apperrors.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.retryable, e.Retryable)
			assert.NotContains(t, e.Error(), testKey)
			assert.EqualValues(t, 1, srv.hits.Load(), "only rate limits are retried")
		})
	}
}

func TestMalformedResponse(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) { okJSON(w, `{"text":`) })
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
	assert.Equal(t, apperrors.KindProcessing, apperrors.KindOf(err))

	srv2 := newVendorServer(t, func(w http.ResponseWriter, _ *http.Request) { okJSON(w, `{"segments":[]}`) })
	c2 := newClient(srv2, newEnv("OPENAI_API_KEY", testKey), nil)
	_, err = c2.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio}))
	assert.Equal(t, apperrors.KindProcessing, apperrors.KindOf(err))
}

func TestTimeout(t *testing.T) {
	srv := newVendorServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	c := newClient(srv, newEnv("OPENAI_API_KEY", testKey), nil)
	audio := testutil.WriteWAV(t, t.TempDir(), "sample.wav")

	_, err := c.Transcribe(context.Background(), request(t, types.Options{AudioPath: audio, Timeout: 100 * time.Millisecond}))
	require.Error(t, err)
	e, ok := apperrors.As(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindProcessing, e.Kind)
	assert.True(t, e.Timeout)
}

func TestBackoffSchedule(t *testing.T) {
	c := New(Config{MaxRetries: 5, InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}, logger.Nop())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, c.Schedule())
	assert.Equal(t, 5*time.Second, c.Backoff(40))

	c = New(Config{MaxRetries: -1}, logger.Nop())
	assert.Empty(t, c.Schedule())
}

func TestAvailabilityIsEvaluatedPerCall(t *testing.T) {
	var dials atomic.Int32
	var dialed string
	env := newEnv()
	c := New(Config{
		Vendors: []Vendor{NewOpenAI("https://api.openai.com/v1", "whisper-1", nil)},
		Env:     env,
		Dial: func(_ context.Context, _, addr string) (net.Conn, error) {
			dials.Add(1)
			dialed = addr
			client, server := net.Pipe()
			_ = server.Close()
			return client, nil
		},
	}, logger.Nop())
	req := request(t, types.Options{AudioPath: "a.wav"})

	err := c.Available(context.Background(), req)
	assert.Equal(t, apperrors.KindAuthentication, apperrors.KindOf(err))
	assert.Zero(t, dials.Load())

	// credential exported mid-session
	env.Set("OPENAI_API_KEY", testKey)
	require.NoError(t, c.Available(context.Background(), req))
	assert.EqualValues(t, 1, dials.Load())
	assert.Equal(t, "api.openai.com:443", dialed)
}

func TestUnreachableEndpoint(t *testing.T) {
	c := New(Config{
		Vendors: []Vendor{NewOpenAI("https://api.openai.com/v1", "whisper-1", nil)},
		Env:     newEnv("OPENAI_API_KEY", testKey),
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("network is unreachable")
		},
	}, logger.Nop())
	err := c.Available(context.Background(), request(t, types.Options{AudioPath: "a.wav"}))
	assert.ErrorContains(t, err, "unreachable")
}

func TestVendorPreference(t *testing.T) {
	vendors := []Vendor{
		NewOpenAI("https://api.openai.com/v1", "whisper-1", nil),
		NewGroq("https://api.groq.com/openai/v1", "whisper-large-v3", nil),
	}
	c := New(Config{Vendors: vendors, Env: newEnv("GROQ_API_KEY", "gsk_abcdefghijkl")}, logger.Nop())
	name, err := c.Vendor()
	require.NoError(t, err)
	assert.Equal(t, "groq", name)

	c = New(Config{Vendors: vendors, Env: newEnv("GROQ_API_KEY", "gsk_abcdefghijkl", "OPENAI_API_KEY", testKey)}, logger.Nop())
	name, err = c.Vendor()
	require.NoError(t, err)
	assert.Equal(t, "openai", name)

	c = New(Config{Vendors: vendors, Env: newEnv()}, logger.Nop())
	_, err = c.Vendor()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "OPENAI_API_KEY") && strings.Contains(err.Error(), "GROQ_API_KEY"))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", normalizeLanguage("English"))
	assert.Equal(t, "en", normalizeLanguage("en-US"))
	assert.Equal(t, "fr", normalizeLanguage("fr"))
	assert.Equal(t, "", normalizeLanguage(""))
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "api.groq.com:443", NewGroq("https://api.groq.com/openai/v1", "m", nil).Endpoint())
	assert.Equal(t, "127.0.0.1:8080", NewOpenAI("http://127.0.0.1:8080/v1", "m", nil).Endpoint())
	assert.Equal(t, "localhost:80", NewOpenAI("http://localhost/v1", "m", nil).Endpoint())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteFieldsReturnsFirstError(t *testing.T) {
	err := writeFields(multipart.NewWriter(brokenWriter{}), [][2]string{{"model", "whisper-1"}, {"language", "en"}})
	require.Error(t, err)
	assert.ErrorContains(t, err, "write form field model")
	assert.ErrorContains(t, err, "disk full")

	var buf strings.Builder
	w := multipart.NewWriter(&buf)
	require.NoError(t, writeFields(w, [][2]string{{"model", "whisper-1"}, {"language", "en"}}))
	require.NoError(t, w.Close())
	assert.Contains(t, buf.String(), `name="language"`)
}
