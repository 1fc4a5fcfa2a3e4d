// Package scheduler runs periodic maintenance: OTP challenge sweeps and
// ledger reconciliation.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

type Config struct {
	SweepSchedule     string
	ReconcileSchedule string
}

type Scheduler struct {
	cron *cron.Cron
	jobs *Jobs
	cfg  Config
	log  *slog.Logger
}

func New(jobs *Jobs, cfg Config, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(log.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, jobs: jobs, cfg: cfg, log: log}
}

// Start registers the jobs and starts the cron loop. An empty schedule
// disables its job; an invalid one is logged and skipped.
func (s *Scheduler) Start() {
	s.add("otp challenge sweep", s.cfg.SweepSchedule, s.jobs.SweepChallenges)
	s.add("ledger reconciliation", s.cfg.ReconcileSchedule, s.jobs.ReconcileAccounts)
	s.cron.Start()
}

func (s *Scheduler) add(name, spec string, fn func()) {
	if spec == "" {
		s.log.Info("job disabled", "job", name)
		return
	}
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		s.log.Error("failed to schedule job", "job", name, "schedule", spec, "error", err)
		return
	}
	s.log.Info("scheduled job", "job", name, "schedule", spec)
}

// Entries is the number of registered jobs.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop halts the loop. The returned context is done when running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
