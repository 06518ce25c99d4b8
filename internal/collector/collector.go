// Package collector runs the jobs declared in the profiles file on a cron
// schedule and keeps the latest result of each.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gluk-w/claworc/shellbridge/internal/config"
	"github.com/gluk-w/claworc/shellbridge/internal/logutil"
	"github.com/gluk-w/claworc/shellbridge/internal/sshshell"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultJobTimeout bounds one job run when no timeout is configured.
const DefaultJobTimeout = 5 * time.Minute

// ErrUnknownJob is returned by RunNow for a name that was not scheduled.
var ErrUnknownJob = errors.New("unknown job")

// Runner executes a command on a named session. *sshpool.Pool implements it.
type Runner interface {
	Exec(ctx context.Context, session, command string) (*sshshell.Transaction, error)
}

// Purger removes audit rows older than the retention window.
// *sshaudit.Auditor implements it.
type Purger interface {
	PurgeOlderThan(days int) (int64, error)
	RetentionDays() int
}

// JobResult is the latest outcome of a job plus running totals.
type JobResult struct {
	Name     string           `json:"name"`
	Profile  string           `json:"profile"`
	Schedule string           `json:"schedule"`
	Command  string           `json:"command"`
	Runs     int64            `json:"runs"`
	Failures int64            `json:"failures"`
	LastRun  time.Time        `json:"last_run,omitempty"`
	Duration time.Duration    `json:"duration"`
	Outcome  sshshell.Outcome `json:"outcome,omitempty"`
	Output   string           `json:"output,omitempty"`
	Error    string           `json:"error,omitempty"`
	NextRun  time.Time        `json:"next_run,omitempty"`
}

type scheduledJob struct {
	job   config.Job
	entry cron.EntryID

	// run serializes executions of this job.
	run sync.Mutex
}

// Scheduler owns a cron instance with one entry per job.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	timeout time.Duration
	logger  zerolog.Logger

	jobs map[string]*scheduledJob

	mu      sync.RWMutex
	results map[string]*JobResult

	// ctx is cancelled by Stop so in-flight runs end promptly.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option customizes a Scheduler.
type Option func(*Scheduler) error

// WithTimeout bounds each job run.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) error {
		if d > 0 {
			s.timeout = d
		}
		return nil
	}
}

// WithAuditPurge schedules p.PurgeOlderThan(p.RetentionDays()) on schedule,
// "@daily" when schedule is empty.
func WithAuditPurge(p Purger, schedule string) Option {
	return func(s *Scheduler) error {
		if schedule == "" {
			schedule = "@daily"
		}
		_, err := s.cron.AddFunc(schedule, func() {
			days := p.RetentionDays()
			n, err := p.PurgeOlderThan(days)
			if err != nil {
				s.logger.Error().Err(err).Msg("audit purge failed")
				return
			}
			s.logger.Info().Int64("deleted", n).Int("retention_days", days).Msg("audit purge complete")
		})
		if err != nil {
			return fmt.Errorf("audit purge schedule %q: %w", schedule, err)
		}
		return nil
	}
}

// New validates every job schedule and registers the jobs. Nothing runs
// until Start.
func New(runner Runner, jobs []config.Job, opts ...Option) (*Scheduler, error) {
	logger := log.With().Str("component", "collector").Logger()
	cl := cronLogger{l: logger}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		runner:  runner,
		timeout: DefaultJobTimeout,
		logger:  logger,
		jobs:    make(map[string]*scheduledJob, len(jobs)),
		results: make(map[string]*JobResult, len(jobs)),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			cancel()
			return nil, err
		}
	}

	for _, j := range jobs {
		if _, dup := s.jobs[j.Name]; dup {
			cancel()
			return nil, fmt.Errorf("duplicate job %q", j.Name)
		}
		sj := &scheduledJob{job: j}
		id, err := s.cron.AddFunc(j.Schedule, func() { s.run(s.ctx, sj) })
		if err != nil {
			cancel()
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", j.Name, j.Schedule, err)
		}
		sj.entry = id
		s.jobs[j.Name] = sj
		s.results[j.Name] = &JobResult{
			Name:     j.Name,
			Profile:  j.Profile,
			Schedule: j.Schedule,
			Command:  j.Command,
		}
	}
	return s, nil
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop halts scheduling, cancels running jobs and waits for them to
// return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a job immediately, outside its schedule, and returns the
// updated result.
func (s *Scheduler) RunNow(ctx context.Context, name string) (JobResult, error) {
	sj, ok := s.jobs[name]
	if !ok {
		return JobResult{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	s.run(ctx, sj)
	res, _ := s.Result(name)
	return res, nil
}

func (s *Scheduler) run(ctx context.Context, sj *scheduledJob) {
	// A run still in progress makes the next tick a no-op.
	if !sj.run.TryLock() {
		s.logger.Warn().Str("job", sj.job.Name).Msg("previous run still in progress, skipping")
		return
	}
	defer sj.run.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	tx, err := s.runner.Exec(ctx, sj.job.Profile, sj.job.Command)
	elapsed := time.Since(start)

	s.mu.Lock()
	res := s.results[sj.job.Name]
	res.Runs++
	res.LastRun = start
	res.Duration = elapsed
	res.Outcome, res.Output, res.Error = "", "", ""
	if tx != nil {
		res.Outcome = tx.Outcome
		res.Output = tx.Output
	}
	if err != nil {
		res.Failures++
		res.Error = err.Error()
	}
	s.mu.Unlock()

	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Str("job", sj.job.Name).
		Str("profile", sj.job.Profile).
		Str("command", logutil.SanitizeForLog(sj.job.Command)).
		Dur("elapsed", elapsed).
		Msg("job run")
}

// Result returns the latest result of the named job.
func (s *Scheduler) Result(name string) (JobResult, bool) {
	s.mu.RLock()
	res, ok := s.results[name]
	var out JobResult
	if ok {
		out = *res
	}
	s.mu.RUnlock()
	if !ok {
		return JobResult{}, false
	}
	if sj := s.jobs[name]; sj != nil {
		out.NextRun = s.cron.Entry(sj.entry).Next
	}
	return out, true
}

// Results returns every job's latest result, sorted by name.
func (s *Scheduler) Results() []JobResult {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]JobResult, 0, len(names))
	for _, name := range names {
		if res, ok := s.Result(name); ok {
			out = append(out, res)
		}
	}
	return out
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
