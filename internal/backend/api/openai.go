package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/types"
)

// OpenAI's documented upload ceiling; Groq applies the same limit.
const openAIMaxFileSize = 25 * 1024 * 1024

const maxErrorBody = 2048

// OpenAICompatible is a vendor speaking the OpenAI audio transcription API.
type OpenAICompatible struct {
	name    string
	baseURL string
	model   string
	envs    []string
	maxSize int64
	client  *http.Client
}

// NewOpenAI returns the OpenAI vendor.
func NewOpenAI(baseURL, model string, client *http.Client) *OpenAICompatible {
	return newCompatible("openai", baseURL, model, []string{"OPENAI_API_KEY"}, client)
}

// NewGroq returns the Groq vendor.
func NewGroq(baseURL, model string, client *http.Client) *OpenAICompatible {
	return newCompatible("groq", baseURL, model, []string{"GROQ_API_KEY"}, client)
}

func newCompatible(name, baseURL, model string, envs []string, client *http.Client) *OpenAICompatible {
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAICompatible{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		envs:    envs,
		maxSize: openAIMaxFileSize,
		client:  client,
	}
}

// Name implements Vendor.
func (o *OpenAICompatible) Name() string { return o.name }

// CredentialEnv implements Vendor.
func (o *OpenAICompatible) CredentialEnv() []string { return o.envs }

// MaxFileSize implements Vendor.
func (o *OpenAICompatible) MaxFileSize() int64 { return o.maxSize }

// Endpoint implements Vendor.
func (o *OpenAICompatible) Endpoint() string {
	u, err := url.Parse(o.baseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	port := "443"
	if u.Scheme == "http" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// Transcribe implements Vendor.
func (o *OpenAICompatible) Transcribe(ctx context.Context, req *types.Request, cred Credential) (*Transcript, error) {
	body, contentType, err := o.form(req)
	if err != nil {
		return nil, err
	}

	path := "/audio/transcriptions"
	if req.Task() == types.TaskTranslate {
		path = "/audio/translations"
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Value)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", o.name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", o.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt := raw
		if len(excerpt) > maxErrorBody {
			excerpt = excerpt[:maxErrorBody]
		}
		return nil, &StatusError{
			Vendor:     o.name,
			Code:       resp.StatusCode,
			Body:       apperrors.Redact(strings.TrimSpace(string(excerpt)), cred.Value),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return parseResponse(resp.Header.Get("Content-Type"), raw)
}

func (o *OpenAICompatible) form(req *types.Request) (io.Reader, string, error) {
	f, err := os.Open(req.AudioPath())
	if err != nil {
		return nil, "", apperrors.File("cannot read audio file: %s", req.AudioPath()).WithCause(err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(req.AudioPath()))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}
	fields := [][2]string{{"model", o.model}, {"response_format", "verbose_json"}}
	if req.Task() == types.TaskTranscribe {
		fields = append(fields, [2]string{"timestamp_granularities[]", "segment"})
		if !req.AutoLanguage() {
			fields = append(fields, [2]string{"language", req.Language()})
		}
	}
	if err := writeFields(w, fields); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// writeFields writes name/value pairs in order and stops at the first error.
func writeFields(w *multipart.Writer, fields [][2]string) error {
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write form field %s: %w", f[0], err)
		}
	}
	return nil
}

// verboseJSON is the verbose_json response shape.
type verboseJSON struct {
	Text     *string `json:"text"`
	Language string  `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// parseResponse accepts a JSON document or a plain-text transcript.
func parseResponse(contentType string, raw []byte) (*Transcript, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "application/json" {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			return &Transcript{Text: strings.TrimSpace(string(raw))}, nil
		}
	}

	var doc verboseJSON
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.Processing("malformed vendor response").WithCause(err)
	}
	if doc.Text == nil {
		return nil, apperrors.Processing("vendor response has no text field")
	}

	t := &Transcript{Text: strings.TrimSpace(*doc.Text), Language: normalizeLanguage(doc.Language)}
	for _, s := range doc.Segments {
		t.Segments = append(t.Segments, types.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return t, nil
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
