package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"acquisition_backend/internal/pipeline"
	"acquisition_backend/platform/logger"
)

// CycleRunner runs one pipeline cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (pipeline.CycleReport, error)
}

// CycleScheduler triggers RunCycle every polling interval. Overlapping runs in this
// process are skipped by cron; across processes the cycle lock decides.
type CycleScheduler struct {
	cron    *cron.Cron
	runner  CycleRunner
	timeout time.Duration
	log     *logger.Logger
}

func NewCycleScheduler(runner CycleRunner, interval time.Duration, log *logger.Logger) (*CycleScheduler, error) {
	cl := cronLogger{log: log}
	s := &CycleScheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		runner:  runner,
		timeout: cycleTimeout(interval),
		log:     log,
	}
	if _, err := s.cron.AddFunc(everySpec(interval), s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule pipeline cycle: %w", err)
	}
	return s, nil
}

// Run starts the schedule, runs one cycle immediately and blocks until ctx is done.
func (s *CycleScheduler) Run(ctx context.Context) {
	s.cron.Start()
	s.runOnce()
	<-ctx.Done()
	<-s.cron.Stop().Done()
}

func (s *CycleScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	report, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, pipeline.ErrCycleInProgress):
		s.log.Info("pipeline cycle skipped, another instance is running")
	case err != nil:
		s.log.Error("pipeline cycle failed", "error", err)
	default:
		s.log.Debug("pipeline cycle finished", "cycle_id", report.CycleID, "intake_created", report.Intake.Created)
	}
}

func everySpec(interval time.Duration) string {
	if interval < time.Second {
		interval = time.Second
	}
	return "@every " + interval.String()
}

// cycleTimeout bounds a single cycle so a hung collaborator cannot hold the lock forever.
func cycleTimeout(interval time.Duration) time.Duration {
	if t := 10 * interval; t > 2*time.Minute {
		return t
	}
	return 2 * time.Minute
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
