package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cptspacemanspiff/activity-defender/internal/metrics"
)

// EventSource is a stream of platform notifications. The channel is closed
// once the source is closed; a closed source cannot be restarted.
type EventSource interface {
	Events() <-chan Notification
	Close() error
}

// EventCollector persists every notification from a source as it arrives.
type EventCollector struct {
	sink Sink
	log  *slog.Logger
}

// NewEventCollector creates an event collector writing to sink.
func NewEventCollector(sink Sink, logger *slog.Logger) *EventCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventCollector{sink: sink, log: logger}
}

// Run consumes src until its stream ends or ctx is cancelled.
func (c *EventCollector) Run(ctx context.Context, src EventSource) {
	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			c.Handle(n)
		}
	}
}

// Handle writes a single notification. Write failures are dropped.
func (c *EventCollector) Handle(n Notification) {
	metrics.IncEvent(n.Type.String())
	err := c.sink.InsertEvent(n.Record())
	metrics.IncInsert("event", err)
	if err != nil {
		c.log.Debug("store event", "type", n.Type, "err", err)
		return
	}
	c.log.Info("event", "type", n.Type, "extra", n.Extra)
}

// merged fans several sources into one stream.
type merged struct {
	sources []EventSource
	out     chan Notification
	wg      sync.WaitGroup
	once    sync.Once
	err     error
}

// Merge combines sources into a single EventSource. Closing the result closes
// every underlying source.
func Merge(sources ...EventSource) EventSource {
	m := &merged{sources: sources, out: make(chan Notification, 16)}
	for _, s := range sources {
		m.wg.Add(1)
		go func(s EventSource) {
			defer m.wg.Done()
			for n := range s.Events() {
				m.out <- n
			}
		}(s)
	}
	go func() {
		m.wg.Wait()
		close(m.out)
	}()
	return m
}

func (m *merged) Events() <-chan Notification {
	return m.out
}

func (m *merged) Close() error {
	m.once.Do(func() {
		var errs []error
		for _, s := range m.sources {
			if err := s.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		m.err = errors.Join(errs...)
		// Drain so forwarders blocked on a full buffer can exit.
		go func() {
			for range m.out {
			}
		}()
	})
	return m.err
}
