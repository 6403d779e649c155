package aws

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	ttypes "github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Key] = b
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Key]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

// fakeTranscribe completes a job after a number of status polls.
type fakeTranscribe struct {
	mu         sync.Mutex
	jobs       map[string]*ttypes.TranscriptionJob
	polls      map[string]int
	pollsToEnd int
	fail       bool
	started    []*transcribe.StartTranscriptionJobInput
	// onComplete runs when a job completes, e.g. to write its output.
	onComplete func(name string)
}

func newFakeTranscribe(pollsToEnd int) *fakeTranscribe {
	return &fakeTranscribe{jobs: map[string]*ttypes.TranscriptionJob{}, polls: map[string]int{}, pollsToEnd: pollsToEnd}
}

func (f *fakeTranscribe) GetTranscriptionJob(_ context.Context, in *transcribe.GetTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[*in.TranscriptionJobName]
	if !ok {
		msg := "The requested job couldn't be found. Check the job name and try your request again."
		return nil, &ttypes.BadRequestException{Message: &msg}
	}
	f.polls[*job.TranscriptionJobName]++
	if job.TranscriptionJobStatus == ttypes.TranscriptionJobStatusInProgress && f.polls[*job.TranscriptionJobName] > f.pollsToEnd {
		if f.fail {
			reason := "unsupported media"
			job.TranscriptionJobStatus = ttypes.TranscriptionJobStatusFailed
			job.FailureReason = &reason
		} else {
			job.TranscriptionJobStatus = ttypes.TranscriptionJobStatusCompleted
			if job.LanguageCode == "" {
				job.LanguageCode = ttypes.LanguageCodeEnUs
			}
			if f.onComplete != nil {
				f.onComplete(*job.TranscriptionJobName)
			}
		}
	}
	cp := *job
	return &transcribe.GetTranscriptionJobOutput{TranscriptionJob: &cp}, nil
}

func (f *fakeTranscribe) StartTranscriptionJob(_ context.Context, in *transcribe.StartTranscriptionJobInput, _ ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, in)
	name := *in.TranscriptionJobName
	f.jobs[name] = &ttypes.TranscriptionJob{
		TranscriptionJobName:   &name,
		TranscriptionJobStatus: ttypes.TranscriptionJobStatusInProgress,
		LanguageCode:           in.LanguageCode,
	}
	return &transcribe.StartTranscriptionJobOutput{}, nil
}
