// Package reclaimer periodically removes expired tokens from the token store.
package reclaimer

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/fastauth/internal/dbx"
	"github.com/dmitrijs2005/fastauth/internal/logging"
	"github.com/robfig/cron/v3"
)

// Sweeper deletes expired tokens within one unit of work.
type Sweeper interface {
	ReclaimExpiredTokens(ctx context.Context, tx dbx.DBTX) (int64, error)
}

// Scheduler runs a Sweeper on a cron schedule, one sweep at a time.
type Scheduler struct {
	runner   dbx.Runner
	sweeper  Sweeper
	schedule string
	logger   logging.Logger
}

func NewScheduler(runner dbx.Runner, sweeper Sweeper, schedule string, logger logging.Logger) *Scheduler {
	return &Scheduler{
		runner:   runner,
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger.With("module", "reclaimer"),
	}
}

// RunOnce performs a single sweep in its own unit of work.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	var removed int64
	err := s.runner.Within(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		removed, err = s.sweeper.ReclaimExpiredTokens(ctx, tx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Run schedules sweeps and blocks until ctx is done, then waits for a
// running sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{ctx: ctx, l: s.logger})))

	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error(ctx, "token sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reclaim schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.logger.Info(ctx, "reclaimer started", "schedule", s.schedule)

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	s.logger.Info(context.Background(), "reclaimer stopped")
	return nil
}

// cronLogger adapts logging.Logger to cron.Logger.
type cronLogger struct {
	ctx context.Context
	l   logging.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(c.ctx, msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(c.ctx, msg, append(keysAndValues, "error", err)...)
}
