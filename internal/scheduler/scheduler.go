package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/activity-defender/internal/metrics"
)

// DefaultTick is the timer period used by the detection service.
const DefaultTick = 5 * time.Second

// Scheduler drives a fixed list of tasks from a single repeating timer. All
// work runs sequentially on the goroutine that calls Run.
type Scheduler struct {
	tick  time.Duration
	tasks []*Task
	log   *slog.Logger
}

// New creates a scheduler with the given tick period and tasks. Tasks run in
// the order given.
func New(tick time.Duration, logger *slog.Logger, tasks ...*Task) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{tick: tick, tasks: tasks, log: logger}
}

// TickInterval returns the timer period.
func (s *Scheduler) TickInterval() time.Duration {
	return s.tick
}

// Tasks returns the registered tasks.
func (s *Scheduler) Tasks() []*Task {
	return s.tasks
}

// Elapsed returns the elapsed-tick counter of the first task of the given
// kind, or -1 if none is registered.
func (s *Scheduler) Elapsed(kind Kind) int {
	for _, t := range s.tasks {
		if t.Kind == kind {
			return t.Elapsed()
		}
	}
	return -1
}

// Tick advances every task by one tick and runs those that are due.
func (s *Scheduler) Tick(ctx context.Context) {
	metrics.IncTick()
	tickSeconds := int(s.tick / time.Second)
	for _, t := range s.tasks {
		if !t.due(tickSeconds) {
			continue
		}
		s.log.Debug("running task", "task", t.String())
		start := time.Now()
		err := t.Work(ctx)
		metrics.ObserveTask(t.Kind.String(), time.Since(start).Seconds(), err)
		if err != nil {
			s.log.Debug("task failed", "task", t.Kind.String(), "err", err)
		}
		t.reset()
	}
}

// Run ticks immediately and then once per period until ctx is cancelled.
// Cancellation only prevents future ticks: task work receives a context that
// keeps its values but is never cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	workCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(workCtx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A stop may race with a ready tick; stop wins.
			if ctx.Err() != nil {
				return
			}
			s.Tick(workCtx)
		}
	}
}
