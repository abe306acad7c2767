/**
 * @description
 * Cron scheduler setup for the polling jobs and the reconciliation sweep.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"github.com/transfa/spenn-service/internal/config"
)

// Scheduler runs Jobs on their configured cron schedules. Runs of the same job never overlap.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger *slog.Logger
	config config.Config
}

func NewScheduler(jobs *Jobs, logger *slog.Logger, cfg config.Config) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:   c,
		jobs:   jobs,
		logger: logger,
		config: cfg,
	}
}

// Start registers every job and starts the cron loop.
// A job with an invalid schedule is logged and left out.
func (s *Scheduler) Start() {
	s.schedule("simulation", s.config.SimulationJobSchedule, s.jobs.SimulateNewOrders)
	s.schedule("submission", s.config.SubmissionJobSchedule, s.jobs.SubmitSimulatedOrders)
	s.schedule("reconciliation", s.config.ReconciliationJobSchedule, s.jobs.ReconcileTransactions)
	s.cron.Start()
}

func (s *Scheduler) schedule(name, spec string, job func()) {
	if _, err := s.cron.AddFunc(spec, job); err != nil {
		s.logger.Error("failed to schedule job", "job", name, "schedule", spec, "error", err)
		return
	}
	s.logger.Info("scheduled job", "job", name, "schedule", spec)
}

// Stop halts scheduling; the returned context is done once running jobs have finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
