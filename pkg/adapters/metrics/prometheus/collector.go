// Package prometheus implements ports.MetricsCollector with Prometheus
// counters, histograms and gauges.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements MetricsCollector using Prometheus
type Collector struct {
	executionsSubmitted *prometheus.CounterVec
	executionsTotal     *prometheus.CounterVec
	stepsTotal          *prometheus.CounterVec
	invocationsTotal    *prometheus.CounterVec
	fanOutItemsTotal    *prometheus.CounterVec
	executionDuration   prometheus.Histogram
	stepDuration        *prometheus.HistogramVec
	activeExecutions    prometheus.Gauge
	workerPoolIdle      prometheus.Gauge
	workerPoolBusy      prometheus.Gauge
	workerPoolStopped   prometheus.Gauge
}

// NewCollector registers the orchestrator metrics with reg. A nil reg uses
// the default registerer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		executionsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2aflow_executions_submitted_total",
				Help: "Total number of asynchronous submissions",
			},
			[]string{"status"},
		),
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2aflow_executions_total",
				Help: "Total number of finished executions by verdict",
			},
			[]string{"verdict"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2aflow_steps_total",
				Help: "Total number of executed steps by status",
			},
			[]string{"status"},
		),
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2aflow_invocations_total",
				Help: "Total number of remote invocations by outcome",
			},
			[]string{"outcome"},
		),
		fanOutItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "a2aflow_fanout_items_total",
				Help: "Total number of fan-out items by status",
			},
			[]string{"status"},
		),
		executionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "a2aflow_execution_duration_seconds",
				Help:    "Execution duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "a2aflow_step_duration_seconds",
				Help:    "Step duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind"},
		),
		activeExecutions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "a2aflow_active_executions",
				Help: "Number of currently active executions",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "a2aflow_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "a2aflow_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "a2aflow_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordSubmission counts an asynchronous submission (accepted or rejected)
func (c *Collector) RecordSubmission(status string) {
	c.executionsSubmitted.WithLabelValues(status).Inc()
}

// RecordExecution records a finished execution
func (c *Collector) RecordExecution(verdict string, duration time.Duration) {
	c.executionsTotal.WithLabelValues(verdict).Inc()
	c.executionDuration.Observe(duration.Seconds())
}

// RecordStep records one step of the given kind (primitive, fanout, composite)
func (c *Collector) RecordStep(kind, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordInvocation counts a remote call by outcome
func (c *Collector) RecordInvocation(outcome string) {
	c.invocationsTotal.WithLabelValues(outcome).Inc()
}

// RecordFanOutItem counts one fan-out item
func (c *Collector) RecordFanOutItem(status string) {
	c.fanOutItemsTotal.WithLabelValues(status).Inc()
}

// SetActiveExecutions sets the number of currently active executions
func (c *Collector) SetActiveExecutions(count int) {
	c.activeExecutions.Set(float64(count))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
