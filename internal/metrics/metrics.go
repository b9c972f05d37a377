// Package metrics exposes scheduler, runner and store measurements in
// prometheus format. Each Metrics owns its registry so tests and multiple
// schedulers in one process do not collide. All methods are nil-safe.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"workmgr/internal/work"
)

type Metrics struct {
	reg *prometheus.Registry

	transitions *prometheus.CounterVec
	records     *prometheus.GaugeVec
	passes      prometheus.Counter
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	storeRetry  *prometheus.CounterVec
}

// New builds a Metrics with a fresh registry that also carries the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmgr_state_transitions_total",
				Help: "Work record state transitions by target state",
			},
			[]string{"state"},
		),
		records: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "workmgr_records",
				Help: "Work records currently held by the scheduler, by state",
			},
			[]string{"state"},
		),
		passes: f.NewCounter(
			prometheus.CounterOpts{
				Name: "workmgr_scheduler_passes_total",
				Help: "Scheduler evaluation passes",
			},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmgr_runs_total",
				Help: "Work executions by worker and outcome",
			},
			[]string{"worker", "outcome"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workmgr_run_duration_seconds",
				Help:    "Work execution latency in seconds",
				Buckets: []float64{.001, .01, .05, .1, .5, 1, 5, 15, 60, 300},
			},
			[]string{"worker"},
		),
		storeRetry: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workmgr_store_retries_total",
				Help: "Retried store operations",
			},
			[]string{"op"},
		),
	}
}

// Registry returns the underlying registry (nil for a nil Metrics).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Transition(to work.State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to.String()).Inc()
}

// SetRecordCounts replaces the per-state record gauge. States missing from
// counts are reported as zero.
func (m *Metrics) SetRecordCounts(counts map[work.State]int) {
	if m == nil {
		return
	}
	for _, st := range []work.State{work.Enqueued, work.Blocked, work.Running, work.Succeeded, work.Failed, work.Cancelled} {
		m.records.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

func (m *Metrics) Pass() {
	if m == nil {
		return
	}
	m.passes.Inc()
}

// ObserveRun implements runner.Observer.
func (m *Metrics) ObserveRun(worker, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(worker, outcome).Inc()
	m.runDuration.WithLabelValues(worker).Observe(d.Seconds())
}

// StoreRetry implements storage.RetryObserver.
func (m *Metrics) StoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetry.WithLabelValues(op).Inc()
}
