package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/tvrec/internal/observability"
)

// Runner errors.
var (
	ErrRunnerStarted = errors.New("runner already started")
	ErrUnknownJob    = errors.New("unknown job")
)

// JobFunc is one run of a maintenance job.
type JobFunc func(ctx context.Context) error

// Job is a named maintenance job on a five-field cron schedule.
type Job struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      JobFunc
}

// JobInfo describes a registered job.
type JobInfo struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitzero"`
	Prev     time.Time `json:"prev,omitzero"`
	Runs     int       `json:"runs"`
	Failures int       `json:"failures"`
	LastErr  string    `json:"last_error,omitempty"`
}

type registeredJob struct {
	job      Job
	id       cron.EntryID
	runs     int
	failures int
	lastErr  string
}

// Runner runs maintenance jobs (playlist refresh, history pruning) on cron
// schedules. A job does not overlap with itself.
type Runner struct {
	mu sync.RWMutex

	cron   *cron.Cron
	parser cron.Parser
	logger *slog.Logger
	jobs   map[string]*registeredJob

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a runner evaluating schedules in loc.
func NewRunner(loc *time.Location) *Runner {
	if loc == nil {
		loc = time.Local
	}
	r := &Runner{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: observability.WithComponent(slog.Default(), "cron"),
		jobs:   make(map[string]*registeredJob),
	}
	r.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithParser(r.parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{r})),
	)
	return r
}

// WithLogger sets a custom logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = observability.WithComponent(logger, "cron")
	return r
}

// ValidateCron validates a cron expression.
func (r *Runner) ValidateCron(expr string) error {
	if _, err := r.parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Add registers job. An empty schedule disables the job.
func (r *Runner) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a function")
	}
	if job.Schedule == "" {
		r.logger.Info("job disabled", slog.String("job", job.Name))
		return nil
	}
	if err := r.ValidateCron(job.Schedule); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("job %s already registered", job.Name)
	}
	rj := &registeredJob{job: job}
	id, err := r.cron.AddFunc(job.Schedule, func() { r.execute(rj) })
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.Name, err)
	}
	rj.id = id
	r.jobs[job.Name] = rj
	return nil
}

// Start begins evaluating schedules.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx != nil {
		return ErrRunnerStarted
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.cron.Start()
	r.logger.Info("runner started", slog.Int("jobs", len(r.jobs)))
	return nil
}

// Stop halts scheduling and waits for running jobs until ctx ends.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	select {
	case <-r.cron.Stop().Done():
		r.logger.Info("runner stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs: %w", ctx.Err())
	}
}

// RunNow executes the named job synchronously.
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.RLock()
	rj, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.invoke(ctx, rj)
}

// Jobs lists registered jobs by name.
func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobInfo, 0, len(r.jobs))
	for _, rj := range r.jobs {
		e := r.cron.Entry(rj.id)
		out = append(out, JobInfo{
			Name:     rj.job.Name,
			Schedule: rj.job.Schedule,
			Next:     e.Next,
			Prev:     e.Prev,
			Runs:     rj.runs,
			Failures: rj.failures,
			LastErr:  rj.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) execute(rj *registeredJob) {
	r.mu.RLock()
	ctx := r.ctx
	r.mu.RUnlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	_ = r.invoke(ctx, rj)
}

func (r *Runner) invoke(ctx context.Context, rj *registeredJob) (err error) {
	if rj.job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rj.job.Timeout)
		defer cancel()
	}

	logger := r.logger.With(slog.String("job", rj.job.Name))
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", rj.job.Name, p)
		}
		r.mu.Lock()
		rj.runs++
		if err != nil {
			rj.failures++
			rj.lastErr = err.Error()
		} else {
			rj.lastErr = ""
		}
		r.mu.Unlock()

		if err != nil {
			logger.Error("job failed", slog.Duration("took", time.Since(started)), slog.String("error", err.Error()))
			return
		}
		logger.Debug("job completed", slog.Duration("took", time.Since(started)))
	}()

	return rj.job.Run(ctx)
}

// cronLogger adapts the runner's slog logger to cron.Logger.
type cronLogger struct{ r *Runner }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.r.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.r.logger.Error(msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
