package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3API is the subset of the S3 client used here.
type S3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Service handles S3 operations
type S3Service struct {
	client S3API
}

// NewS3Service creates a new S3 service
func NewS3Service(client S3API) *S3Service {
	return &S3Service{client: client}
}

// CheckObjectExists uses HeadObject to determine if the object already exists.
func (s *S3Service) CheckObjectExists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// UploadFile uploads the given file to the specified bucket and key.
func (s *S3Service) UploadFile(ctx context.Context, bucket, key, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat upload: %w", err)
	}
	size := fi.Size()
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          f,
		ContentLength: &size,
	}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// GetTranscript downloads and decodes the transcription result document.
func (s *S3Service) GetTranscript(ctx context.Context, bucket, key string) (*TranscriptDocument, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()

	var doc TranscriptDocument
	if err := json.NewDecoder(out.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if len(doc.Results.Transcripts) == 0 {
		return nil, fmt.Errorf("no transcript found in result")
	}
	return &doc, nil
}

// HeadBucket checks if bucket exists and is accessible.
func (s *S3Service) HeadBucket(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: &bucket,
	})
	return err
}

// IsNotFound determines if an error from AWS indicates a "not found" condition.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFoundException", "NotFound", "NoSuchKey", "404":
			return true
		}
	}
	return strings.Contains(err.Error(), "NotFound:")
}

// ErrorCode returns the AWS error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
