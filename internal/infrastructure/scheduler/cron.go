package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ResearchDigest/internal/ports"
)

const defaultJobTimeout = 30 * time.Minute

// CronScheduler runs named jobs on cron expressions. Jobs share one run
// lock: a job that fires while any other job is running is skipped.
type CronScheduler struct {
	cron       *cron.Cron
	logger     *slog.Logger
	jobTimeout time.Duration

	mu      sync.Mutex
	baseCtx context.Context
	entries map[string]cron.EntryID
	running sync.Mutex
}

var _ ports.Scheduler = (*CronScheduler)(nil)

// NewCronScheduler builds a scheduler evaluating expressions in loc.
func NewCronScheduler(loc *time.Location, logger *slog.Logger) *CronScheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cl := cronLogger{logger: logger}
	return &CronScheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:     logger,
		jobTimeout: defaultJobTimeout,
		baseCtx:    context.Background(),
		entries:    map[string]cron.EntryID{},
	}
}

// AddJob registers job under name with a five-field cron expression.
func (c *CronScheduler) AddJob(name, spec string, job ports.Job) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}
	id, err := c.cron.AddFunc(spec, c.wrap(name, job))
	if err != nil {
		return fmt.Errorf("schedule job %s (%q): %w", name, spec, err)
	}
	c.entries[name] = id
	c.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

// Start begins firing jobs; ctx bounds every job run.
func (c *CronScheduler) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	c.cron.Start()
	for _, info := range c.Jobs() {
		c.logger.Info("next run", "job", info.Name, "at", info.NextRun)
	}
	return nil
}

// Stop prevents new runs and waits for a running job or ctx, whichever ends first.
func (c *CronScheduler) Stop(ctx context.Context) error {
	done := c.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running job: %w", ctx.Err())
	}
}

// JobInfo describes one scheduled entry.
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}

// Jobs lists scheduled entries.
func (c *CronScheduler) Jobs() []JobInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]JobInfo, 0, len(c.entries))
	for name, id := range c.entries {
		entry := c.cron.Entry(id)
		infos = append(infos, JobInfo{Name: name, NextRun: entry.Next, LastRun: entry.Prev})
	}
	return infos
}

func (c *CronScheduler) wrap(name string, job ports.Job) func() {
	return func() {
		if !c.running.TryLock() {
			c.logger.Warn("job skipped, another run in progress", "job", name)
			return
		}
		defer c.running.Unlock()

		c.mu.Lock()
		base := c.baseCtx
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(base, c.jobTimeout)
		defer cancel()

		start := time.Now()
		c.logger.Info("job started", "job", name)
		if err := job(ctx, start); err != nil {
			c.logger.Error("job failed", "job", name, "error", err, "elapsed", time.Since(start))
			return
		}
		c.logger.Info("job completed", "job", name, "elapsed", time.Since(start))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
