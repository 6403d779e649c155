package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/embano1/transcribe/internal/logger"
)

type fakeCleaner struct {
	mu    sync.Mutex
	calls []string
	fail  string
}

func (f *fakeCleaner) Cleanup(dir string, _ time.Duration) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dir)
	if dir == f.fail {
		return nil, errors.New("permission denied")
	}
	return []string{dir + "/old.txt"}, nil
}

func (f *fakeCleaner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestCleanupJobVisitsEveryDir(t *testing.T) {
	c := &fakeCleaner{fail: "development"}
	CleanupJob(c, []string{"development", "test_results"}, time.Hour, logger.Nop())()
	assert.Equal(t, []string{"development", "test_results"}, c.calls)
}

func TestAddCleanupRejectsBadSchedule(t *testing.T) {
	s := New(logger.Nop())
	assert.Error(t, s.AddCleanup("every tuesday", &fakeCleaner{}, nil, time.Hour))
}

func TestScheduledCleanupRuns(t *testing.T) {
	c := &fakeCleaner{}
	s := New(logger.Nop())
	require.NoError(t, s.AddCleanup("@every 1s", c, []string{"test_results"}, time.Hour))
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return c.count() > 0 }, 3*time.Second, 50*time.Millisecond)
}
