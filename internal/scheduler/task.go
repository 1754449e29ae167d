package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Kind identifies one of the fixed set of recurring task variants.
type Kind int

const (
	// KindProcessSnapshot records the running process list.
	KindProcessSnapshot Kind = iota
	// KindRetention prunes rows older than the configured retention window.
	KindRetention
)

func (k Kind) String() string {
	switch k {
	case KindProcessSnapshot:
		return "process_snapshot"
	case KindRetention:
		return "retention"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// WorkFunc is the body of a task. Errors are logged by the scheduler and
// otherwise dropped.
type WorkFunc func(ctx context.Context) error

// Task is a recurring unit of work. The scheduler owns the elapsed counter.
type Task struct {
	Kind            Kind
	RunEverySeconds int
	Work            WorkFunc

	elapsed atomic.Int64
}

// NewProcessSnapshotTask builds the process snapshot variant.
func NewProcessSnapshotTask(runEverySeconds int, work WorkFunc) *Task {
	return &Task{Kind: KindProcessSnapshot, RunEverySeconds: runEverySeconds, Work: work}
}

// NewRetentionTask builds the retention variant.
func NewRetentionTask(runEverySeconds int, work WorkFunc) *Task {
	return &Task{Kind: KindRetention, RunEverySeconds: runEverySeconds, Work: work}
}

// Elapsed returns the number of ticks since the task last ran.
func (t *Task) Elapsed() int {
	return int(t.elapsed.Load())
}

func (t *Task) String() string {
	return fmt.Sprintf("%s(every %ds)", t.Kind, t.RunEverySeconds)
}

// due advances the counter by one tick and reports whether the task should
// run now.
func (t *Task) due(tickSeconds int) bool {
	n := int(t.elapsed.Add(1))
	return n*tickSeconds >= t.RunEverySeconds
}

func (t *Task) reset() {
	t.elapsed.Store(0)
}
