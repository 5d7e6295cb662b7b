// Package scheduler runs periodic rescans. Jobs are registered under a name
// with a cron expression; a job that is still running when its next tick
// fires is skipped rather than started twice.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/mcscan/internal/logging"
)

// JobFunc is the work a scheduled job performs.
type JobFunc func(ctx context.Context) error

// Scheduler manages scheduled jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *logging.Logger
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// ScheduledJob represents a scheduled job wrapper.
type ScheduledJob struct {
	ID       uuid.UUID
	Name     string
	CronExpr string
	CronID   cron.EntryID

	fn      JobFunc
	running bool
	lastRun time.Time
	lastErr error
	runs    int
	skipped int
}

// JobInfo is a snapshot of a job's state.
type JobInfo struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	CronExpr string    `json:"cron"`
	Running  bool      `json:"running"`
	LastRun  time.Time `json:"last_run"`
	NextRun  time.Time `json:"next_run"`
	LastErr  string    `json:"last_error,omitempty"`
	Runs     int       `json:"runs"`
	Skipped  int       `json:"skipped"`
}

// cronLogger adapts the logger to cron's logging interface.
type cronLogger struct {
	logger *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// NewScheduler creates a new job scheduler. A nil logger uses the default.
func NewScheduler(logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.WithComponent("scheduler")
	ctx, cancel := context.WithCancel(context.Background())

	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger: logger,
		jobs:   make(map[string]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// AddJob schedules fn under name using a standard cron expression or a
// descriptor such as "@hourly" or "@every 10m".
func (s *Scheduler) AddJob(name, cronExpr string, fn JobFunc) (uuid.UUID, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return uuid.Nil, fmt.Errorf("job %q already exists", name)
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		CronExpr: cronExpr,
		fn:       fn,
	}

	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(job) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	job.CronID = cronID
	s.jobs[name] = job

	s.logger.Info("Added scheduled job", "job", name, "schedule", cronExpr)
	return job.ID, nil
}

// RunNow runs a job immediately in the caller's goroutine, unless it is
// already running. It reports whether the job ran.
func (s *Scheduler) RunNow(name string) (bool, error) {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()
	if !exists {
		return false, fmt.Errorf("job %q not found", name)
	}
	return s.execute(job), nil
}

// GetJobs returns a snapshot of all jobs ordered by name.
func (s *Scheduler) GetJobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]JobInfo, 0, len(s.jobs))
	for _, job := range s.jobs {
		info := JobInfo{
			ID:       job.ID,
			Name:     job.Name,
			CronExpr: job.CronExpr,
			Running:  job.running,
			LastRun:  job.lastRun,
			Runs:     job.runs,
			Skipped:  job.skipped,
			NextRun:  s.cron.Entry(job.CronID).Next,
		}
		if job.lastErr != nil {
			info.LastErr = job.lastErr.Error()
		}
		jobs = append(jobs, info)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// execute runs job unless it is already running or the scheduler has been
// stopped.
func (s *Scheduler) execute(job *ScheduledJob) bool {
	if !s.prepareJobExecution(job) {
		return false
	}
	defer s.wg.Done()

	var err error
	defer func() { s.cleanupJobExecution(job, err) }()

	logger := s.logger.WithFields("job", job.Name)
	logger.Info("Executing scheduled job")
	start := time.Now()

	err = job.fn(s.ctx)
	if err != nil {
		logger.Error("Scheduled job failed", "error", err, "duration", time.Since(start))
	} else {
		logger.Info("Scheduled job completed", "duration", time.Since(start))
	}
	return true
}

// prepareJobExecution marks the job running. It returns false when the job
// is already running or the scheduler is shutting down.
func (s *Scheduler) prepareJobExecution(job *ScheduledJob) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx.Err() != nil {
		return false
	}
	if job.running {
		job.skipped++
		s.logger.Warn("Scheduled job is already running, skipping", "job", job.Name)
		return false
	}

	job.running = true
	job.lastRun = time.Now()
	s.wg.Add(1)
	return true
}

func (s *Scheduler) cleanupJobExecution(job *ScheduledJob, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.running = false
	job.lastErr = err
	job.runs++
}
