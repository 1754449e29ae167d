package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ticks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "defender",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Number of scheduler timer ticks.",
		},
	)
	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "defender",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Number of task invocations, by task and result.",
		}, []string{"task", "result"},
	)
	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "defender",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent in a task's work function.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"},
	)
	inserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "defender",
			Subsystem: "store",
			Name:      "inserts_total",
			Help:      "Number of record inserts attempted, by table and result.",
		}, []string{"table", "result"},
	)
	events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "defender",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Number of platform notifications received, by type.",
		}, []string{"type"},
	)
	detectionRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "defender",
			Subsystem: "service",
			Name:      "detection_running",
			Help:      "1 while detection is running, 0 otherwise.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{ticks, taskRuns, taskDuration, inserts, events, detectionRunning}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register succeeds.

func IncTick() {
	if regOK.Load() {
		ticks.Inc()
	}
}

func ObserveTask(task string, seconds float64, err error) {
	if !regOK.Load() {
		return
	}
	taskRuns.WithLabelValues(task, result(err)).Inc()
	taskDuration.WithLabelValues(task).Observe(seconds)
}

func IncInsert(table string, err error) {
	if regOK.Load() {
		inserts.WithLabelValues(table, result(err)).Inc()
	}
}

func IncEvent(eventType string) {
	if regOK.Load() {
		events.WithLabelValues(eventType).Inc()
	}
}

func SetDetectionRunning(running bool) {
	if !regOK.Load() {
		return
	}
	var v float64
	if running {
		v = 1
	}
	detectionRunning.Set(v)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
