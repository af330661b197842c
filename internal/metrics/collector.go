// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector aggregates the Prometheus metrics of the workflow engine.
// All record methods are nil-safe so callers can run without metrics wired.
type Collector struct {
	// Turn metrics
	turnsTotal   *prometheus.CounterVec
	turnDuration *prometheus.HistogramVec

	// Stage metrics
	stagesTotal   *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	// Checkpoint metrics
	checkpointsWritten prometheus.Counter
	versionConflicts   prometheus.Counter

	// Interrupt metrics
	suspensions prometheus.Counter
	resolutions *prometheus.CounterVec

	// Event feed metrics
	eventsPublished *prometheus.CounterVec

	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWith creates a collector on an explicit registerer; tests pass
// a fresh registry to avoid duplicate registration.
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// Turn metrics
	c.turnsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of executed turns by result",
		},
		[]string{"result"},
	)

	c.turnDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Turn duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// Stage metrics
	c.stagesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_total",
			Help:      "Total number of stage invocations by action and result",
		},
		[]string{"action", "result"},
	)

	c.stageDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Stage duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	// Checkpoint metrics
	c.checkpointsWritten = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_written_total",
			Help:      "Total number of checkpoint versions written",
		},
	)

	c.versionConflicts = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_version_conflicts_total",
			Help:      "Total number of checkpoint writes rejected with a version conflict",
		},
	)

	// Interrupt metrics
	c.suspensions = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suspensions_total",
			Help:      "Total number of turns suspended on an interrupt",
		},
	)

	c.resolutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interrupt_resolutions_total",
			Help:      "Total number of resolved interrupts by resolution",
		},
		[]string{"resolution"},
	)

	// Event feed metrics
	c.eventsPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of feed events published by type",
		},
		[]string{"type"},
	)

	// HTTP metrics
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// RecordTurn records a completed turn.
func (c *Collector) RecordTurn(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.turnsTotal.WithLabelValues(result).Inc()
	c.turnDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordStage records a stage invocation.
func (c *Collector) RecordStage(action, result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stagesTotal.WithLabelValues(action, result).Inc()
	c.stageDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordCheckpoint records a successful checkpoint write.
func (c *Collector) RecordCheckpoint() {
	if c == nil {
		return
	}
	c.checkpointsWritten.Inc()
}

// RecordVersionConflict records a rejected checkpoint write.
func (c *Collector) RecordVersionConflict() {
	if c == nil {
		return
	}
	c.versionConflicts.Inc()
}

// RecordSuspension records a turn suspended on an interrupt.
func (c *Collector) RecordSuspension() {
	if c == nil {
		return
	}
	c.suspensions.Inc()
}

// RecordResolution records an interrupt resolution.
func (c *Collector) RecordResolution(resolution string) {
	if c == nil {
		return
	}
	c.resolutions.WithLabelValues(resolution).Inc()
}

// RecordEvent records a published feed event.
func (c *Collector) RecordEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsPublished.WithLabelValues(eventType).Inc()
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// StatusCode buckets an HTTP status code for the status label.
func StatusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
