/**
 * @description
 * Cron scheduler for the relay's audit retention job.
 */
package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/transfa/corebank/internal/logging"
	"github.com/transfa/corebank/internal/metrics"
	"github.com/transfa/corebank/internal/relay/store"
)

// AuditPruner deletes audit rows older than the retention window.
type AuditPruner struct {
	audit     store.AuditStore
	retention time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

func NewAuditPruner(audit store.AuditStore, retentionDays int) *AuditPruner {
	return &AuditPruner{
		audit:     audit,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
		logger:    logging.WithComponent("audit_pruner"),
	}
}

// Prune runs one retention pass and returns the number of rows removed.
func (p *AuditPruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	removed, err := p.audit.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AuditRowsPruned.Add(float64(removed))
	return removed, nil
}

// Run is the cron entry point.
func (p *AuditPruner) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	p.logger.Info().Msg("starting audit retention job")
	removed, err := p.Prune(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("audit retention job failed")
		return
	}
	p.logger.Info().Int64("rows_removed", removed).Msg("audit retention job completed")
}

// Scheduler manages the relay's cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	pruner   *AuditPruner
	schedule string
	logger   zerolog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(pruner *AuditPruner, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(logging.StdLogger("cron"))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		pruner:   pruner,
		schedule: schedule,
		logger:   logging.WithComponent("scheduler"),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.pruner.Run); err != nil {
		s.logger.Error().Err(err).Str("schedule", s.schedule).Msg("failed to schedule audit retention job")
		return err
	}
	s.logger.Info().Str("schedule", s.schedule).Msg("scheduled audit retention job")

	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
