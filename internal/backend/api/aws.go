package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/rs/zerolog"

	awssvc "github.com/embano1/transcribe/internal/aws"
	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/formatting"
	"github.com/embano1/transcribe/internal/types"
)

// Amazon Transcribe accepts media up to 2 GB.
const awsMaxFileSize = 2 * 1024 * 1024 * 1024

// AWSConfig configures the Amazon Transcribe vendor.
type AWSConfig struct {
	Region string
	Bucket string
	// MaxSpeakers enables speaker diarization when SpeakerDiarization is set.
	SpeakerDiarization bool
	MaxSpeakers        int
	PollInterval       time.Duration
	// Env supplies secrets that are only present in a .env file.
	Env Env
}

// AWS uploads audio to S3 and runs an Amazon Transcribe job on it.
type AWS struct {
	cfg AWSConfig
	log zerolog.Logger

	mu         sync.Mutex
	s3         *awssvc.S3Service
	transcribe *awssvc.TranscribeService
}

// NewAWS returns the AWS vendor. SDK clients are created on first use.
func NewAWS(cfg AWSConfig, log zerolog.Logger) *AWS {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &AWS{cfg: cfg, log: log.With().Str("vendor", "aws").Logger()}
}

// NewAWSWithClients returns the AWS vendor backed by the given clients.
func NewAWSWithClients(cfg AWSConfig, s3c awssvc.S3API, tc awssvc.TranscribeAPI, log zerolog.Logger) *AWS {
	a := NewAWS(cfg, log)
	a.s3 = awssvc.NewS3Service(s3c)
	a.transcribe = awssvc.NewTranscribeService(tc, cfg.PollInterval, a.log)
	return a
}

// Name implements Vendor.
func (a *AWS) Name() string { return "aws" }

// CredentialEnv implements Vendor.
func (a *AWS) CredentialEnv() []string { return []string{"AWS_ACCESS_KEY_ID", "AWS_PROFILE"} }

// MaxFileSize implements Vendor.
func (a *AWS) MaxFileSize() int64 { return awsMaxFileSize }

// Endpoint implements Vendor.
func (a *AWS) Endpoint() string {
	return fmt.Sprintf("transcribe.%s.amazonaws.com:443", a.cfg.Region)
}

// Ready reports whether an output bucket is configured.
func (a *AWS) Ready() error {
	if a.cfg.Bucket == "" {
		return errors.New("aws: no S3 bucket configured (api.aws.bucket)")
	}
	return nil
}

// Transcribe implements Vendor.
func (a *AWS) Transcribe(ctx context.Context, req *types.Request, cred Credential) (*Transcript, error) {
	if err := a.Ready(); err != nil {
		return nil, apperrors.Environment("%v", err)
	}
	if req.Task() == types.TaskTranslate {
		return nil, apperrors.Model("aws does not support translation")
	}
	s3svc, tsvc, err := a.services(ctx, cred)
	if err != nil {
		return nil, err
	}

	hash, err := fileHash(req.AudioPath())
	if err != nil {
		return nil, apperrors.File("cannot read audio file: %s", req.AudioPath()).WithCause(err)
	}
	fileName := filepath.Base(req.AudioPath())
	key := fmt.Sprintf("uploads/%s_%s", hash, fileName)
	lang := awsLanguage(req.Language())
	jobName := fmt.Sprintf("transcribe-%s-%s", hash, jobSuffix(lang))

	if err := s3svc.HeadBucket(ctx, a.cfg.Bucket); err != nil {
		if awssvc.IsNotFound(err) {
			return nil, apperrors.Environment("S3 bucket %q does not exist", a.cfg.Bucket)
		}
		return nil, awsError(err, "check S3 bucket")
	}
	exists, err := s3svc.CheckObjectExists(ctx, a.cfg.Bucket, key)
	if err != nil {
		return nil, awsError(err, "check S3 object")
	}
	if exists {
		a.log.Debug().Str("key", key).Msg("file already in S3; skipping upload")
	} else if err := s3svc.UploadFile(ctx, a.cfg.Bucket, key, req.AudioPath()); err != nil {
		return nil, awsError(err, "upload to S3")
	}

	maxSpeakers := 0
	if a.cfg.SpeakerDiarization {
		maxSpeakers = a.cfg.MaxSpeakers
	}
	detected, err := tsvc.EnsureTranscriptionJob(ctx, awssvc.Job{
		Name:         jobName,
		Bucket:       a.cfg.Bucket,
		MediaKey:     key,
		MediaFormat:  mediaFormat(fileName),
		LanguageCode: lang,
		MaxSpeakers:  maxSpeakers,
	})
	if err != nil {
		return nil, awsError(err, "transcription job")
	}

	doc, err := s3svc.GetTranscript(ctx, a.cfg.Bucket, jobName+".json")
	if err != nil {
		return nil, awsError(err, "fetch transcript")
	}

	text := doc.Text()
	if a.cfg.SpeakerDiarization && doc.Results.SpeakerLabels != nil {
		text = formatting.FormatTranscriptWithSpeakers(doc)
	}
	if detected == "" {
		detected = doc.Results.LanguageCode
	}
	return &Transcript{
		Text:     text,
		Language: normalizeLanguage(detected),
		Segments: formatting.Segments(doc, a.cfg.SpeakerDiarization),
	}, nil
}

func (a *AWS) services(ctx context.Context, cred Credential) (*awssvc.S3Service, *awssvc.TranscribeService, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.s3 != nil && a.transcribe != nil {
		return a.s3, a.transcribe, nil
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(a.cfg.Region)}
	switch cred.Name {
	case "AWS_ACCESS_KEY_ID":
		secret := a.lookup("AWS_SECRET_ACCESS_KEY")
		if secret == "" {
			return nil, nil, apperrors.Authentication("AWS_ACCESS_KEY_ID is set but AWS_SECRET_ACCESS_KEY is not")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cred.Value, secret, a.lookup("AWS_SESSION_TOKEN"))))
	case "AWS_PROFILE":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cred.Value))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, nil, apperrors.Authentication("load AWS configuration").WithCause(apperrors.RedactedError(err))
	}
	return awssvc.NewS3Service(s3.NewFromConfig(awsCfg)),
		awssvc.NewTranscribeService(transcribe.NewFromConfig(awsCfg), a.cfg.PollInterval, a.log),
		nil
}

func (a *AWS) lookup(key string) string {
	if a.cfg.Env == nil {
		return ""
	}
	v, _ := a.cfg.Env.Lookup(key)
	return v
}

// awsError maps SDK failures onto the vendor status model so the client's
// retry loop and classifier treat every vendor alike.
func awsError(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	switch awssvc.ErrorCode(err) {
	case "ThrottlingException", "LimitExceededException", "TooManyRequestsException", "SlowDown":
		return &StatusError{Vendor: "aws", Code: http.StatusTooManyRequests, Body: apperrors.Redact(err.Error())}
	case "AccessDenied", "AccessDeniedException", "UnrecognizedClientException",
		"InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "ExpiredTokenException":
		return &StatusError{Vendor: "aws", Code: http.StatusForbidden, Body: apperrors.Redact(err.Error())}
	}
	if errors.Is(err, awssvc.ErrJobFailed) {
		return apperrors.Processing("aws %s failed", op).WithCause(apperrors.RedactedError(err))
	}
	return fmt.Errorf("aws %s: %w", op, err)
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil))[:16], nil
}

// awsLocales maps ISO-639-1 codes to the locale Amazon Transcribe expects.
var awsLocales = map[string]string{
	"en": "en-US", "es": "es-US", "fr": "fr-FR", "de": "de-DE", "it": "it-IT",
	"pt": "pt-BR", "nl": "nl-NL", "ja": "ja-JP", "ko": "ko-KR", "zh": "zh-CN",
	"ru": "ru-RU", "ar": "ar-SA", "hi": "hi-IN", "sv": "sv-SE", "da": "da-DK",
	"tr": "tr-TR", "pl": "pl-PL", "fi": "fi-FI", "no": "no-NO", "he": "he-IL",
}

// awsLanguage returns the Transcribe locale for lang, or "" for detection.
func awsLanguage(lang string) string {
	if lang == "" || lang == types.LanguageAuto {
		return ""
	}
	if l, ok := awsLocales[lang]; ok {
		return l
	}
	return lang
}

func jobSuffix(lang string) string {
	if lang == "" {
		return types.LanguageAuto
	}
	return strings.ToLower(lang)
}

func mediaFormat(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	switch ext {
	case "mp3", "mp4", "wav", "flac", "ogg", "amr", "webm", "m4a":
		return ext
	default:
		return "mp3"
	}
}

var _ Vendor = (*AWS)(nil)
