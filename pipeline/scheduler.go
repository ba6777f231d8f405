package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"polpi-mx/utils"
)

// Job is a scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs jobs on standard 5-field cron expressions. A job that is
// still running when its next tick fires is skipped for that tick.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser
	logger *utils.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]cron.EntryID
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *utils.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		parser: parser,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Add registers job under name. An empty spec disables the job.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.logger.Info("[scheduler] %s disabled (no schedule)", name)
		return nil
	}
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return utils.Wrap(utils.ErrInvalidInput, fmt.Sprintf("schedule %s %q", name, spec), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return utils.NewError(utils.ErrInvalidInput, "job %s already scheduled", name)
	}

	id := s.cron.Schedule(schedule, cron.FuncJob(func() {
		start := time.Now()
		s.logger.Info("[scheduler] %s triggered", name)
		if err := job(s.ctx); err != nil {
			s.logger.Error("[scheduler] %s failed after %s: %v", name, time.Since(start).Round(time.Millisecond), err)
			return
		}
		s.logger.Info("[scheduler] %s finished in %s", name, time.Since(start).Round(time.Millisecond))
	}))
	s.jobs[name] = id

	s.logger.Info("[scheduler] %s scheduled %q, next run %s", name, spec, schedule.Next(time.Now()).Format("2006-01-02 15:04:05"))
	return nil
}

// Next returns the next run time of the named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if e.Schedule == nil {
		return time.Time{}, false
	}
	if !e.Next.IsZero() {
		return e.Next, true
	}
	return e.Schedule.Next(time.Now()), true
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("[scheduler] Gave up waiting for running jobs")
	}
}
