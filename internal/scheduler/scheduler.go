package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"health-agent/internal/logging"
)

// Job is the work run on every tick. now is the tick time in the
// scheduler's location.
type Job func(ctx context.Context, now time.Time) error

// Scheduler runs a Job on a cron schedule. Ticks that fire while the
// previous run is still going are skipped.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	loc    *time.Location
	job    Job
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	wg     sync.WaitGroup
}

func New(spec string, loc *time.Location, job Job, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	ctx, cancel := context.WithCancel(context.Background())
	logger = logging.OrDefault(logger)
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(loc)),
		spec:   spec,
		loc:    loc,
		job:    job,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the job and starts the cron loop. With runNow the job
// also runs once immediately in the background, catching up a day missed
// while the process was down.
func (s *Scheduler) Start(runNow bool) error {
	if s.job == nil {
		return fmt.Errorf("scheduler: no job set")
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.run("cron") }); err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", s.spec, "location", s.loc.String())

	if runNow {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run("startup")
		}()
	}
	return nil
}

// Trigger runs the job synchronously unless a run is already in progress.
func (s *Scheduler) Trigger() bool { return s.run("manual") }

func (s *Scheduler) run(trigger string) bool {
	if !s.mu.TryLock() {
		s.logger.Warn("previous run still in progress, skipping", "trigger", trigger)
		return false
	}
	defer s.mu.Unlock()

	now := time.Now().In(s.loc)
	s.logger.Info("scheduled job triggered", "trigger", trigger)
	if err := s.job(s.ctx, now); err != nil {
		s.logger.Error("scheduled job failed", "trigger", trigger, "error", err)
	}
	return true
}

// Stop cancels the running job, waits for it and stops the cron loop.
func (s *Scheduler) Stop() {
	s.cancel()
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether a schedule is registered.
func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
