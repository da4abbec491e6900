/*
scheduler.go - Cron cadence for the batch jobs

PURPOSE:
  Runs the hold/burn sweep and the shift auto-closer on their configured
  cron schedules. Every job is an engine operation tagged with trigger
  "scheduler"; the engine records the run, so the audit trail is the same
  as for a manual or CLI run.

DESIGN:
  - robfig/cron with SkipIfStillRunning: a slow sweep is never overlapped
    by the next tick of the same job
  - Recover: a panic in one job is logged and the scheduler keeps going
  - Jobs are idempotent, so a missed tick is caught up by the next one

USAGE:
  s, err := NewScheduler(eng, cfg.SweepSchedule, cfg.AutoCloseSchedule, logger)
  s.Start()
  // ... later
  <-s.Stop().Done()

SEE ALSO:
  - handlers.go: RunSweep / RunAutoClose (manual trigger)
  - engine/holds.go, engine/shifts.go: the jobs themselves
*/
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/umbra/earnings-engine/engine"
	"go.uber.org/zap"
)

// Jobs is what the scheduler runs. *engine.Engine satisfies it.
type Jobs interface {
	SweepBonusHolds(ctx context.Context) (engine.SweepReport, error)
	AutoCloseShifts(ctx context.Context) (engine.AutoCloseReport, error)
}

type Scheduler struct {
	cron    *cron.Cron
	jobs    Jobs
	log     *zap.Logger
	timeout time.Duration
	ids     map[string]cron.EntryID
}

// NewScheduler registers the sweep and auto-close jobs. An empty schedule
// disables that job.
func NewScheduler(jobs Jobs, sweepSpec, autoCloseSpec string, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("scheduler")
	cronLog := cron.PrintfLogger(zap.NewStdLog(log))
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		jobs:    jobs,
		log:     log,
		timeout: 10 * time.Minute,
		ids:     make(map[string]cron.EntryID),
	}

	if err := s.add("sweep", sweepSpec, s.runSweep); err != nil {
		return nil, err
	}
	if err := s.add("auto-close", autoCloseSpec, s.runAutoClose); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	if spec == "" {
		s.log.Info("job disabled", zap.String("job", name))
		return nil
	}
	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.ids[name] = id
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for name, id := range s.ids {
		s.log.Info("job scheduled", zap.String("job", name), zap.Time("next", s.cron.Entry(id).Next))
	}
}

// Stop halts scheduling. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.log.Info("scheduler stopped")
	return ctx
}

// Next reports when a job fires next. ok is false for disabled jobs.
func (s *Scheduler) Next(job string) (next time.Time, ok bool) {
	id, ok := s.ids[job]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(engine.WithTrigger(context.Background(), "scheduler"), s.timeout)
}

func (s *Scheduler) runSweep() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.jobs.SweepBonusHolds(ctx); err != nil {
		s.log.Error("scheduled sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) runAutoClose() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if _, err := s.jobs.AutoCloseShifts(ctx); err != nil {
		s.log.Error("scheduled auto-close failed", zap.Error(err))
	}
}
