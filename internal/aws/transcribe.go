package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/rs/zerolog"
)

// ErrJobFailed is returned when Amazon Transcribe reports a failed job.
var ErrJobFailed = errors.New("transcription job failed")

// TranscribeAPI is the subset of the Transcribe client used here.
type TranscribeAPI interface {
	GetTranscriptionJob(ctx context.Context, in *transcribe.GetTranscriptionJobInput, opts ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
	StartTranscriptionJob(ctx context.Context, in *transcribe.StartTranscriptionJobInput, opts ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
}

// Job describes a transcription job to run.
type Job struct {
	Name     string
	Bucket   string
	MediaKey string
	// MediaFormat is the container format, e.g. "m4a" or "wav".
	MediaFormat string
	// LanguageCode such as "en-US"; empty enables language identification.
	LanguageCode string
	// MaxSpeakers enables speaker diarization when positive.
	MaxSpeakers int
}

// TranscribeService handles Transcribe operations
type TranscribeService struct {
	client       TranscribeAPI
	pollInterval time.Duration
	log          zerolog.Logger
}

// NewTranscribeService creates a new Transcribe service
func NewTranscribeService(client TranscribeAPI, pollInterval time.Duration, log zerolog.Logger) *TranscribeService {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &TranscribeService{client: client, pollInterval: pollInterval, log: log}
}

// EnsureTranscriptionJob starts job unless it already exists and waits
// until it completes. It returns the language Transcribe used.
func (t *TranscribeService) EnsureTranscriptionJob(ctx context.Context, job Job) (string, error) {
	status, err := t.getTranscriptionJob(ctx, job.Name)
	if err != nil {
		return "", fmt.Errorf("checking transcription job status: %w", err)
	}

	if status == nil {
		t.log.Info().Str("job", job.Name).Msg("starting transcription job")
		if err := t.startTranscriptionJob(ctx, job); err != nil {
			return "", fmt.Errorf("start transcription job: %w", err)
		}
	} else {
		t.log.Info().Str("job", job.Name).Str("status", string(status.TranscriptionJobStatus)).Msg("transcription job already exists")
		if done, lang, err := jobDone(status); done || err != nil {
			return lang, err
		}
	}

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
			status, err := t.getTranscriptionJob(ctx, job.Name)
			if err != nil {
				return "", fmt.Errorf("retrieving transcription job status: %w", err)
			}
			if status == nil {
				return "", fmt.Errorf("transcription job %s disappeared", job.Name)
			}
			t.log.Debug().Str("job", job.Name).Str("status", string(status.TranscriptionJobStatus)).Msg("job status")
			if done, lang, err := jobDone(status); done || err != nil {
				return lang, err
			}
		}
	}
}

func jobDone(job *types.TranscriptionJob) (bool, string, error) {
	switch job.TranscriptionJobStatus {
	case types.TranscriptionJobStatusCompleted:
		return true, string(job.LanguageCode), nil
	case types.TranscriptionJobStatusFailed:
		if reason := awssdk.ToString(job.FailureReason); reason != "" {
			return true, "", fmt.Errorf("%w: %s", ErrJobFailed, reason)
		}
		return true, "", ErrJobFailed
	default:
		return false, "", nil
	}
}

// getTranscriptionJob returns the job, or nil if it does not exist.
func (t *TranscribeService) getTranscriptionJob(ctx context.Context, jobName string) (*types.TranscriptionJob, error) {
	out, err := t.client.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: &jobName,
	})
	if err != nil {
		var nf *types.NotFoundException
		if errors.As(err, &nf) || IsNotFound(err) {
			return nil, nil
		}
		if strings.Contains(err.Error(), "The requested job couldn't be found") {
			return nil, nil
		}
		return nil, err
	}
	return out.TranscriptionJob, nil
}

// startTranscriptionJob starts a transcription job using the uploaded media.
func (t *TranscribeService) startTranscriptionJob(ctx context.Context, job Job) error {
	mediaURI := fmt.Sprintf("s3://%s/%s", job.Bucket, job.MediaKey)
	input := &transcribe.StartTranscriptionJobInput{
		TranscriptionJobName: &job.Name,
		MediaFormat:          types.MediaFormat(job.MediaFormat),
		Media: &types.Media{
			MediaFileUri: &mediaURI,
		},
		OutputBucketName: &job.Bucket,
	}
	if job.LanguageCode != "" {
		input.LanguageCode = types.LanguageCode(job.LanguageCode)
	} else {
		identify := true
		input.IdentifyLanguage = &identify
	}

	if job.MaxSpeakers > 0 {
		show := true
		maxSpeakers := int32(job.MaxSpeakers)
		input.Settings = &types.Settings{
			ShowSpeakerLabels: &show,
			MaxSpeakerLabels:  &maxSpeakers,
		}
	}
	_, err := t.client.StartTranscriptionJob(ctx, input)
	return err
}
