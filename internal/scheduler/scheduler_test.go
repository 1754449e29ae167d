package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTick_FiresOncePerTwoTicks(t *testing.T) {
	var runs int
	task := NewProcessSnapshotTask(10, func(context.Context) error {
		runs++
		return nil
	})
	s := New(5*time.Second, discardLogger(), task)
	ctx := context.Background()

	s.Tick(ctx)
	assert.Equal(t, 0, runs)
	assert.Equal(t, 1, task.Elapsed())

	s.Tick(ctx)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 0, task.Elapsed(), "counter resets right after firing")

	for i := 0; i < 8; i++ {
		s.Tick(ctx)
	}
	assert.Equal(t, 5, runs, "ten ticks fire five times")
	assert.Equal(t, 0, s.Elapsed(KindProcessSnapshot))
}

func TestTick_IntervalShorterThanTickFiresEveryTick(t *testing.T) {
	var runs int
	task := NewProcessSnapshotTask(1, func(context.Context) error {
		runs++
		return nil
	})
	s := New(5*time.Second, discardLogger(), task)

	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
	}
	assert.Equal(t, 3, runs)
}

func TestTick_TasksRunInOrderAndIndependently(t *testing.T) {
	var order []Kind
	fast := NewProcessSnapshotTask(5, func(context.Context) error {
		order = append(order, KindProcessSnapshot)
		return nil
	})
	slow := NewRetentionTask(15, func(context.Context) error {
		order = append(order, KindRetention)
		return nil
	})
	s := New(5*time.Second, discardLogger(), fast, slow)

	for i := 0; i < 3; i++ {
		s.Tick(context.Background())
	}

	assert.Equal(t, []Kind{KindProcessSnapshot, KindProcessSnapshot, KindProcessSnapshot, KindRetention}, order)
	assert.Equal(t, 0, s.Elapsed(KindRetention))
	assert.Equal(t, -1, New(time.Second, nil).Elapsed(KindRetention))
}

func TestTick_WorkErrorStillResetsCounter(t *testing.T) {
	task := NewProcessSnapshotTask(5, func(context.Context) error {
		return errors.New("insert failed")
	})
	s := New(5*time.Second, discardLogger(), task)

	s.Tick(context.Background())
	assert.Equal(t, 0, task.Elapsed())
}

func TestRun_TicksImmediatelyAndStopsOnCancel(t *testing.T) {
	var runs atomic.Int32
	task := NewProcessSnapshotTask(1, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s := New(time.Second, discardLogger(), task)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 500*time.Millisecond, 5*time.Millisecond,
		"first tick fires without waiting a full period")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	after := runs.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "no ticks after cancel")
}

func TestRun_WorkContextIsNotCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gotErr := make(chan error, 1)
	task := NewProcessSnapshotTask(1, func(workCtx context.Context) error {
		cancel()
		gotErr <- workCtx.Err()
		return nil
	})
	s := New(time.Second, discardLogger(), task)

	s.Run(ctx)
	require.NoError(t, <-gotErr)
}

func TestNew_Defaults(t *testing.T) {
	s := New(0, nil)
	assert.Equal(t, DefaultTick, s.TickInterval())
	assert.Empty(t, s.Tasks())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "process_snapshot", KindProcessSnapshot.String())
	assert.Equal(t, "retention", KindRetention.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
