package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var ErrJobRunning = errors.New("job still running")

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(ctx context.Context, name string) error
	Start(ctx context.Context)
	Stop()
}

// runner serializes executions of one job; overlapping triggers are skipped.
type runner struct {
	job     Job
	spec    string
	entry   cron.EntryID
	running atomic.Bool
}

func (r *runner) run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrJobRunning
	}
	defer r.running.Store(false)

	logger := logutil.GetLogger(ctx).With(zap.String("job", r.job.Name()), zap.String("spec", r.spec))
	start := time.Now()
	logger.Info("job started")
	err := r.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return err
	}
	logger.Info("job finished", zap.Duration("duration", elapsed))
	return nil
}

type CronScheduler struct {
	cron *cron.Cron

	mu   sync.RWMutex
	jobs map[string]*runner
	ctx  context.Context
}

func NewCronScheduler() *CronScheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &CronScheduler{
		cron: cron.New(cron.WithParser(parser)),
		jobs: make(map[string]*runner),
		ctx:  context.Background(),
	}
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	r := &runner{job: job, spec: spec}
	entryID, err := c.cron.AddFunc(spec, func() {
		if err := r.run(c.context()); errors.Is(err, ErrJobRunning) {
			logutil.GetLogger(context.Background()).Info("job skipped: still running",
				zap.String("job", name), zap.String("spec", spec))
		}
	})
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	r.entry = entryID
	c.jobs[name] = r
	logger.Info("job scheduled")
	return nil
}

// RunNow executes a scheduled job immediately on the caller's goroutine.
func (c *CronScheduler) RunNow(ctx context.Context, name string) error {
	c.mu.RLock()
	r, ok := c.jobs[name]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	return r.run(ctx)
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

func (c *CronScheduler) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *CronScheduler) context() context.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ctx
}
