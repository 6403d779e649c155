package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/embano1/transcribe/internal/types"
)

// Env resolves credentials at call time.
type Env interface {
	Lookup(key string) (string, bool)
}

// Credential is a resolved vendor secret.
type Credential struct {
	// Name is the environment variable that supplied Value.
	Name  string
	Value string
}

// Transcript is a vendor's parsed response.
type Transcript struct {
	Text     string
	Language string
	Segments []types.Segment
}

// Vendor is one cloud transcription service. All vendors accept an audio
// payload and return a structured or plain-text transcript.
type Vendor interface {
	Name() string
	// CredentialEnv lists the variables that can hold a credential, in
	// preference order.
	CredentialEnv() []string
	// MaxFileSize is the upload ceiling in bytes.
	MaxFileSize() int64
	// Endpoint is the host:port used to probe reachability.
	Endpoint() string
	Transcribe(ctx context.Context, req *types.Request, cred Credential) (*Transcript, error)
}

// StatusError is a non-success vendor response.
type StatusError struct {
	Vendor string
	Code   int
	// Body is a credential-scrubbed excerpt of the response body.
	Body string
	// RetryAfter is the server's requested delay, if any.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Vendor, e.Code)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Vendor, e.Code, e.Body)
}

// languageCodes maps the language names some vendors report to ISO-639-1.
var languageCodes = map[string]string{
	"arabic": "ar", "chinese": "zh", "czech": "cs", "danish": "da", "dutch": "nl",
	"english": "en", "finnish": "fi", "french": "fr", "german": "de", "greek": "el",
	"hebrew": "he", "hindi": "hi", "hungarian": "hu", "indonesian": "id", "italian": "it",
	"japanese": "ja", "korean": "ko", "norwegian": "no", "polish": "pl", "portuguese": "pt",
	"romanian": "ro", "russian": "ru", "spanish": "es", "swedish": "sv", "thai": "th",
	"turkish": "tr", "ukrainian": "uk", "vietnamese": "vi",
}

// normalizeLanguage converts a vendor language label into an ISO-639-1 code
// where one is known. Region suffixes such as en-US are dropped.
func normalizeLanguage(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	if i := strings.IndexAny(l, "-_"); i == 2 {
		return l[:2]
	}
	return l
}
