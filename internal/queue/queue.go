// Package queue distributes transcription jobs through a Redis list.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/embano1/transcribe/internal/errors"
	"github.com/embano1/transcribe/internal/types"
)

// Defaults match the key layout used by existing workers.
const (
	DefaultQueue        = "whisper:jobs"
	DefaultResultPrefix = "whisper:result:"
	DefaultResultTTL    = time.Hour
)

// ErrTimeout is returned by Wait when no result arrived in time.
var ErrTimeout = errors.New("timed out waiting for result")

// Job statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusError     = "error"
)

// Job is a queued request.
type Job struct {
	ID          string         `json:"job_id"`
	AudioFile   string         `json:"audio_file"`
	Model       types.Model    `json:"model"`
	Language    string         `json:"language"`
	Method      types.Method   `json:"method"`
	Formats     []types.Format `json:"formats"`
	Mode        types.Mode     `json:"mode"`
	Task        types.Task     `json:"task"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Options converts the job into request options.
func (j *Job) Options() types.Options {
	return types.Options{
		AudioPath: j.AudioFile,
		Model:     j.Model,
		Language:  j.Language,
		Method:    j.Method,
		Formats:   j.Formats,
		Mode:      j.Mode,
		Task:      j.Task,
	}
}

// JobResult is stored under the result prefix once a job is handled.
type JobResult struct {
	JobID       string                  `json:"job_id"`
	Status      string                  `json:"status"`
	MethodUsed  types.Method            `json:"method_used,omitempty"`
	Text        string                  `json:"text,omitempty"`
	OutputFiles map[types.Format]string `json:"output_files,omitempty"`
	Error       *apperrors.Error        `json:"error,omitempty"`
	CompletedAt time.Time               `json:"completed_at"`
}

// Config configures a Client.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Queue        string
	ResultPrefix string
	ResultTTL    time.Duration
}

// Client submits jobs and reads results.
type Client struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time
}

// New returns a Client. The connection is not checked; see Ping.
func New(cfg Config) *Client {
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}
	if cfg.ResultPrefix == "" {
		cfg.ResultPrefix = DefaultResultPrefix
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Client{rdb: rdb, cfg: cfg, now: time.Now}
}

// Ping checks that Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Submit validates and enqueues a job and returns its id.
func (c *Client) Submit(ctx context.Context, opts types.Options) (string, error) {
	req, err := types.NewRequest(opts)
	if err != nil {
		return "", err
	}
	job := Job{
		ID:          uuid.NewString(),
		AudioFile:   req.AudioPath(),
		Model:       req.Model(),
		Language:    req.Language(),
		Method:      req.Method(),
		Formats:     req.Formats(),
		Mode:        req.Mode(),
		Task:        req.Task(),
		SubmittedAt: c.now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	if err := c.rdb.RPush(ctx, c.cfg.Queue, data).Err(); err != nil {
		return "", fmt.Errorf("push job: %w", err)
	}
	return job.ID, nil
}

// Result returns the stored result of id, or nil if none exists yet.
func (c *Client) Result(ctx context.Context, id string) (*JobResult, error) {
	data, err := c.rdb.Get(ctx, c.cfg.ResultPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	var r JobResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

// Wait polls for the result of id until it exists, timeout passes or ctx ends.
func (c *Client) Wait(ctx context.Context, id string, timeout, interval time.Duration) (*JobResult, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := c.Result(ctx, id)
		if err != nil && ctx.Err() == nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("job %s: %w", id, ErrTimeout)
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Status summarizes the queue.
type Status struct {
	Pending int64       `json:"pending"`
	Results []JobResult `json:"results"`
}

// Status returns the queue length and up to limit stored results.
func (c *Client) Status(ctx context.Context, limit int) (*Status, error) {
	n, err := c.rdb.LLen(ctx, c.cfg.Queue).Result()
	if err != nil {
		return nil, fmt.Errorf("queue length: %w", err)
	}
	s := &Status{Pending: n}

	iter := c.rdb.Scan(ctx, 0, c.cfg.ResultPrefix+"*", 100).Iterator()
	for iter.Next(ctx) && (limit <= 0 || len(s.Results) < limit) {
		r, err := c.Result(ctx, iter.Val()[len(c.cfg.ResultPrefix):])
		if err != nil {
			return nil, err
		}
		if r != nil {
			s.Results = append(s.Results, *r)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return s, nil
}

// pop blocks up to wait for the next job. It returns nil when none arrived.
func (c *Client) pop(ctx context.Context, wait time.Duration) (*Job, error) {
	vals, err := c.rdb.BLPop(ctx, wait, c.cfg.Queue).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop job: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(vals[1]), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (c *Client) store(ctx context.Context, r *JobResult) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := c.rdb.Set(ctx, c.cfg.ResultPrefix+r.JobID, data, c.cfg.ResultTTL).Err(); err != nil {
		return fmt.Errorf("store result: %w", err)
	}
	return nil
}
