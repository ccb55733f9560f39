// Package cleanup runs garbage collection of dead credentials on a cron schedule.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nkiryanov/gopherauth/internal/logger"
	"github.com/nkiryanov/gopherauth/internal/metrics"
	"github.com/nkiryanov/gopherauth/internal/service/auth/revocation"
)

// Every hour at minute 17, off the top of the hour when other jobs usually run
const DefaultSchedule = "17 * * * *"

type cleaner interface {
	Cleanup(ctx context.Context) revocation.Report
}

type Job struct {
	schedule cron.Schedule
	cleaner  cleaner
	metrics  *metrics.Metrics
	log      logger.Logger
}

// New validates the standard 5 fields cron expression (descriptors like '@hourly' allowed)
func New(schedule string, cl cleaner, m *metrics.Metrics, log logger.Logger) (*Job, error) {
	if cl == nil {
		return nil, errors.New("cleaner must not be nil")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	parsed, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Job{schedule: parsed, cleaner: cl, metrics: m, log: log}, nil
}

// Run single cleanup pass
func (j *Job) RunOnce(ctx context.Context) revocation.Report {
	report := j.cleaner.Cleanup(ctx)
	j.metrics.CleanupFinished(report.OTPs, report.RefreshTokens, report.ResetTokens, report.Err)
	return report
}

// Run blocks until ctx is done, waits for the running pass to finish before return
// Overlapping passes are skipped
func (j *Job) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(j.schedule, cron.FuncJob(func() {
		j.RunOnce(ctx)
	}))

	c.Start()
	j.log.Info("cleanup job started", "next_run", j.schedule.Next(time.Now()))

	<-ctx.Done()

	stopped := c.Stop()
	<-stopped.Done()
	j.log.Info("cleanup job stopped")

	return nil
}
