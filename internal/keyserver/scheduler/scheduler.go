// Package scheduler runs the periodic jobs of the key server: federation sync and
// retention cleanup.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/exposurekeys/keyserver/internal/keyserver/metrics"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Syncer runs one federation cycle.
type Syncer interface {
	RunCycle(ctx context.Context) error
}

// Cleaner deletes keys past retention.
type Cleaner interface {
	CleanUp(ctx context.Context, retention time.Duration) (int64, error)
}

// Purger drops cached exports.
type Purger interface {
	Purge()
}

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

// SyncJob runs a federation cycle.
func SyncJob(s Syncer) Job {
	return s.RunCycle
}

// CleanupJob deletes keys older than retention. Cached exports may still hold deleted
// keys, so the cache is purged whenever something was removed.
func CleanupJob(store Cleaner, purger Purger, retention time.Duration) Job {
	return func(ctx context.Context) error {
		n, err := store.CleanUp(ctx, retention)
		if err != nil {
			return err
		}
		metrics.KeysCleanedUp.Add(float64(n))
		if n > 0 && purger != nil {
			purger.Purge()
		}
		log.Ctx(ctx).Info().Int64("deleted", n).Msg("retention cleanup done")
		return nil
	}
}

// cronLogger routes cron's own messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler wraps a cron instance. A job still running when its next tick fires is
// skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// New returns a scheduler whose jobs run with ctx, which carries the logger.
func New(ctx context.Context) *Scheduler {
	logger := cronLogger{logger: log.Ctx(ctx).With().Str("component", "scheduler").Logger()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx: ctx,
	}
}

// Add registers job under name with a standard cron spec or a descriptor such as
// "@every 5m".
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.run(name, job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	return nil
}

func (s *Scheduler) run(name string, job Job) {
	logger := log.Ctx(s.ctx).With().Str("job", name).Logger()
	ctx := logger.WithContext(s.ctx)
	start := time.Now()
	if err := job(ctx); err != nil {
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("job finished")
}

// RunNow runs the job synchronously, outside the schedule.
func (s *Scheduler) RunNow(name string, job Job) {
	s.run(name, job)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for running jobs, or until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Entries returns the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}
