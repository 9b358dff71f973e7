// Package scheduler maps recording requests, immediate or delayed, to
// cancellable tasks keyed by their correlation key, and runs the periodic
// maintenance jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/tvrec/internal/observability"
	"github.com/jmylchreest/tvrec/internal/recorder"
)

// TargetLayout is the wall-clock layout accepted for scheduled starts.
const TargetLayout = "02-01-2006 15:04:05"

// Scheduler errors.
var (
	ErrDuplicateKey  = errors.New("a recording with this key is already active")
	ErrShuttingDown  = errors.New("scheduler is shutting down")
	ErrInvalidTarget = errors.New("invalid start time")
)

// TaskFactory creates recording tasks.
type TaskFactory interface {
	NewTask(req recorder.Request) (*recorder.Task, error)
	Location() *time.Location
}

type entry struct {
	task   *recorder.Task
	cancel context.CancelFunc
}

// Scheduler owns the registry of active tasks. An entry lives from creation
// until its task reaches a terminal status or is cancelled.
type Scheduler struct {
	mu sync.RWMutex

	factory TaskFactory
	logger  *slog.Logger
	now     func() time.Time

	ctx     context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	closed  bool
	entries map[string]*entry
}

// NewScheduler creates a scheduler for tasks built by factory.
func NewScheduler(factory TaskFactory) *Scheduler {
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		factory: factory,
		logger:  observability.WithComponent(slog.Default(), "scheduler"),
		now:     time.Now,
		ctx:     ctx,
		stop:    stop,
		entries: make(map[string]*entry),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// WithClock replaces the wall clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// StartNow creates a task for req and runs it immediately.
func (s *Scheduler) StartNow(req recorder.Request) (*recorder.Task, error) {
	return s.launch(req, 0)
}

// StartAt creates a task for req that starts at target. The delay is
// computed in the recorder's zone and a target in the past starts at once.
// The call does not block; the task is registered straight away.
func (s *Scheduler) StartAt(req recorder.Request, target time.Time) (*recorder.Task, error) {
	loc := s.factory.Location()
	delay := target.In(loc).Sub(s.now().In(loc))
	if delay < 0 {
		delay = 0
	}
	req.ScheduledFor = target.In(loc)
	return s.launch(req, delay)
}

func (s *Scheduler) launch(req recorder.Request, delay time.Duration) (*recorder.Task, error) {
	task, err := s.factory.NewTask(req)
	if err != nil {
		return nil, err
	}
	key := task.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrShuttingDown
	}
	if _, exists := s.entries[key]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	e := &entry{task: task, cancel: cancel}
	s.entries[key] = e
	s.wg.Add(1)
	s.mu.Unlock()

	logger := s.logger.With(slog.String("key", key))
	if delay > 0 {
		logger.Info("recording scheduled",
			slog.Time("start_at", req.ScheduledFor),
			slog.Duration("delay", delay))
	}

	go s.run(ctx, e, delay, logger)
	return task, nil
}

func (s *Scheduler) run(ctx context.Context, e *entry, delay time.Duration, logger *slog.Logger) {
	defer s.wg.Done()
	defer s.evict(e)
	defer e.cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recording goroutine panicked", slog.Any("panic", r))
		}
	}()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			e.task.Cancel()
		}
	}

	if err := e.task.Run(ctx); err != nil && !errors.Is(err, recorder.ErrCancelled) {
		logger.Debug("recording ended with error", slog.String("error", err.Error()))
	}
}

// evict drops e unless the key has since been reused by another task.
func (s *Scheduler) evict(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.task.Key()
	if cur, ok := s.entries[key]; ok && cur == e {
		delete(s.entries, key)
	}
}

// Cancel stops the task registered under key and removes it. It reports
// whether an entry existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	e, ok := s.entries[key]
	if ok {
		delete(s.entries, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.task.Cancel()
	e.cancel()
	s.logger.Info("recording cancelled", slog.String("key", key))
	return true
}

// Get returns the active task registered under key.
func (s *Scheduler) Get(key string) (*recorder.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.task, true
}

// Active returns snapshots of all registered tasks, oldest first.
func (s *Scheduler) Active() []recorder.Snapshot {
	s.mu.RLock()
	out := make([]recorder.Snapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.task.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered tasks.
func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Shutdown cancels every task and waits for their goroutines to exit or for
// ctx to end. New requests are rejected afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		e.task.Cancel()
	}
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped", slog.Int("cancelled", len(entries)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for recordings: %w", ctx.Err())
	}
}

// ParseTarget parses "DD-MM-YYYY HH:MM:SS" in loc.
func ParseTarget(date, clock string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	t, err := time.ParseInLocation(TargetLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want DD-MM-YYYY HH:MM:SS)", ErrInvalidTarget, value)
	}
	return t, nil
}
