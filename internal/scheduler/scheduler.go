// Package scheduler runs periodic maintenance for the long-running commands.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/embano1/transcribe/internal/logger"
)

// Cleaner prunes old files in one output directory.
type Cleaner interface {
	Cleanup(dir string, olderThan time.Duration) ([]string, error)
}

// Scheduler wraps a cron runner.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New returns an idle Scheduler.
func New(log zerolog.Logger) *Scheduler {
	return &Scheduler{cron: cron.New(), log: logger.Component(log, "scheduler")}
}

// AddCleanup prunes files older than olderThan in each of dirs on the cron
// cron expression schedule, e.g. "0 3 * * *" or "@every 1h".
func (s *Scheduler) AddCleanup(schedule string, c Cleaner, dirs []string, olderThan time.Duration) error {
	if _, err := s.cron.AddFunc(schedule, CleanupJob(c, dirs, olderThan, s.log)); err != nil {
		return fmt.Errorf("schedule cleanup %q: %w", schedule, err)
	}
	s.log.Info().Str("schedule", schedule).Strs("dirs", dirs).Dur("older_than", olderThan).Msg("cleanup scheduled")
	return nil
}

// CleanupJob returns the func run on every cleanup tick.
func CleanupJob(c Cleaner, dirs []string, olderThan time.Duration, log zerolog.Logger) func() {
	return func() {
		for _, d := range dirs {
			removed, err := c.Cleanup(d, olderThan)
			if err != nil {
				log.Error().Err(err).Str("dir", d).Msg("cleanup failed")
				continue
			}
			log.Debug().Str("dir", d).Int("removed", len(removed)).Msg("cleanup done")
		}
	}
}

// Start runs the scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
