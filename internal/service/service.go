package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/activity-defender/internal/collector"
	"github.com/cptspacemanspiff/activity-defender/internal/logging"
	"github.com/cptspacemanspiff/activity-defender/internal/metrics"
	"github.com/cptspacemanspiff/activity-defender/internal/scheduler"
)

// Store is the persistence the service writes through.
type Store interface {
	collector.Sink
	ResetAllData() error
	DeleteOlderThan(before int64) (int64, error)
}

// SourceOpener registers the platform event listener. Each call must return a
// fresh source since a closed source cannot be reopened.
type SourceOpener func() (collector.EventSource, error)

// Options configures a Service. Zero values fall back to the defaults below.
type Options struct {
	Tick                time.Duration
	ProcessEverySeconds int
	// RetentionDays enables the retention task when positive.
	RetentionDays       int
	CleanupEverySeconds int
	Lister              collector.ProcessLister
	OpenEvents          SourceOpener
	Logger              *slog.Logger
}

const (
	DefaultProcessEverySeconds = 10
	DefaultCleanupEverySeconds = 24 * 60 * 60
)

// TaskStatus describes one scheduled task.
type TaskStatus struct {
	Kind            string `json:"kind"`
	RunEverySeconds int    `json:"run_every_seconds"`
	Elapsed         int    `json:"elapsed_ticks"`
}

// Status is a point-in-time view of the detection lifecycle.
type Status struct {
	Running      bool         `json:"running"`
	SessionID    string       `json:"session_id,omitempty"`
	StartedAt    int64        `json:"started_at,omitempty"`
	TickSeconds  int          `json:"tick_seconds"`
	EventsActive bool         `json:"events_active"`
	Tasks        []TaskStatus `json:"tasks"`
}

// Service owns the Stopped/Running lifecycle: the repeating timer that drives
// the recurring tasks and the registered event listener.
type Service struct {
	store Store
	opts  Options
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	source  collector.EventSource
	sched   *scheduler.Scheduler
	session string
	started time.Time

	wg sync.WaitGroup
}

// New creates a stopped service.
func New(store Store, opts Options) (*Service, error) {
	if store == nil {
		return nil, errors.New("service: store must not be nil")
	}
	if opts.Tick <= 0 {
		opts.Tick = scheduler.DefaultTick
	}
	if opts.Tick < time.Second {
		return nil, fmt.Errorf("service: tick must be at least 1s, got %s", opts.Tick)
	}
	if opts.ProcessEverySeconds <= 0 {
		opts.ProcessEverySeconds = DefaultProcessEverySeconds
	}
	if opts.CleanupEverySeconds <= 0 {
		opts.CleanupEverySeconds = DefaultCleanupEverySeconds
	}
	if opts.RetentionDays < 0 {
		return nil, fmt.Errorf("service: retention days must not be negative, got %d", opts.RetentionDays)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, opts: opts, log: logger, now: time.Now}, nil
}

// StartDetection registers the event listener and starts the timer. A failed
// listener registration is logged and detection continues without events.
// Starting while already running is a no-op.
func (s *Service) StartDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.log.Info("detection already running", "session", s.session)
		return nil
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("new session id: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	if s.opts.OpenEvents != nil {
		src, err := s.opts.OpenEvents()
		if err != nil {
			s.log.Warn("event listener unavailable", "err", err)
		} else {
			s.source = src
			ec := collector.NewEventCollector(s.store, logging.Topic(s.log, "events"))
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				ec.Run(ctx, src)
			}()
		}
	}

	sched := scheduler.New(s.opts.Tick, logging.Topic(s.log, "scheduler"), s.tasks()...)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sched.Run(ctx)
	}()

	s.cancel = cancel
	s.sched = sched
	s.session = id.String()
	s.started = s.now()
	metrics.SetDetectionRunning(true)
	s.log.Info("detection started",
		"session", s.session,
		"tick", sched.TickInterval(),
		"events", s.source != nil)
	return nil
}

// StopDetection cancels the timer and closes the event listener. It does not
// wait for a task that is already running. Stopping while stopped is a no-op.
func (s *Service) StopDetection() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		s.log.Debug("detection not running")
		return
	}
	s.cancel()
	s.cancel = nil
	if s.source != nil {
		if err := s.source.Close(); err != nil {
			s.log.Debug("close event listener", "err", err)
		}
		s.source = nil
	}
	metrics.SetDetectionRunning(false)
	s.log.Info("detection stopped", "session", s.session)
	s.sched = nil
	s.session = ""
	s.started = time.Time{}
}

// ResetData removes every persisted record.
func (s *Service) ResetData() error {
	return s.store.ResetAllData()
}

// Running reports whether detection is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status returns the current lifecycle state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:      s.cancel != nil,
		SessionID:    s.session,
		TickSeconds:  int(s.opts.Tick / time.Second),
		EventsActive: s.source != nil,
		Tasks:        []TaskStatus{},
	}
	if !s.started.IsZero() {
		st.StartedAt = s.started.Unix()
	}
	if s.sched != nil {
		for _, t := range s.sched.Tasks() {
			st.Tasks = append(st.Tasks, TaskStatus{
				Kind:            t.Kind.String(),
				RunEverySeconds: t.RunEverySeconds,
				Elapsed:         t.Elapsed(),
			})
		}
	}
	return st
}

// Close stops detection and waits for the timer and listener goroutines,
// including any task still in progress.
func (s *Service) Close() {
	s.StopDetection()
	s.wg.Wait()
}

func (s *Service) tasks() []*scheduler.Task {
	pc := collector.NewProcessCollector(s.opts.Lister, s.store, logging.Topic(s.log, "process"))
	tasks := []*scheduler.Task{
		scheduler.NewProcessSnapshotTask(s.opts.ProcessEverySeconds, pc.Run),
	}
	if s.opts.RetentionDays > 0 {
		tasks = append(tasks, scheduler.NewRetentionTask(s.opts.CleanupEverySeconds, s.pruneOld))
	}
	return tasks
}

func (s *Service) pruneOld(context.Context) error {
	cutoff := s.now().Add(-time.Duration(s.opts.RetentionDays) * 24 * time.Hour).Unix()
	n, err := s.store.DeleteOlderThan(cutoff)
	if err != nil {
		return fmt.Errorf("delete rows before %d: %w", cutoff, err)
	}
	s.log.Info("retention pass", "deleted", n, "before", cutoff)
	return nil
}
