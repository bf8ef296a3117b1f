// Package metrics exposes sync counters in the Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tasksync"

type Metrics struct {
	registry *prometheus.Registry

	pulls             *prometheus.CounterVec
	reconciles        *prometheus.CounterVec
	reconcileDuration prometheus.Histogram
	registryConflicts prometheus.Counter
	registryWrites    prometheus.Counter
	changeRecords     *prometheus.CounterVec
	remoteFailures    *prometheus.CounterVec
	cacheFallbacks    *prometheus.CounterVec
	boardTasks        prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pulls_total",
			Help: "Registry pulls by outcome.",
		}, []string{"result"}),
		reconciles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconciles_total",
			Help: "Debounced reconcile passes by outcome.",
		}, []string{"result"}),
		reconcileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "reconcile_duration_seconds",
			Help:    "Duration of reconcile passes.",
			Buckets: prometheus.DefBuckets,
		}),
		registryConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registry_conflicts_total",
			Help: "Registry writes retried because the file changed underneath.",
		}),
		registryWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "registry_writes_total",
			Help: "Registry file writes.",
		}),
		changeRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "change_records_total",
			Help: "Change-feed records applied to the registry by type and outcome.",
		}, []string{"type", "result"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "remote_failures_total",
			Help: "Record store operations that failed, by entity kind.",
		}, []string{"kind", "op"}),
		cacheFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_fallbacks_total",
			Help: "Reads served from the local cache because the record store failed.",
		}, []string{"kind"}),
		boardTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "board_tasks",
			Help: "Tasks currently held in memory.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pulls, m.reconciles, m.reconcileDuration, m.registryConflicts,
		m.registryWrites, m.changeRecords, m.remoteFailures, m.cacheFallbacks, m.boardTasks,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObservePull(err error) {
	if m == nil {
		return
	}
	m.pulls.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveReconcile(start time.Time, err error) {
	if m == nil {
		return
	}
	m.reconciles.WithLabelValues(result(err)).Inc()
	m.reconcileDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) RegistryConflict() {
	if m == nil {
		return
	}
	m.registryConflicts.Inc()
}

func (m *Metrics) RegistryWrite() {
	if m == nil {
		return
	}
	m.registryWrites.Inc()
}

func (m *Metrics) ObserveChange(changeType string, err error) {
	if m == nil {
		return
	}
	m.changeRecords.WithLabelValues(changeType, result(err)).Inc()
}

func (m *Metrics) RemoteFailure(kind, op string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(kind, op).Inc()
}

func (m *Metrics) CacheFallback(kind string) {
	if m == nil {
		return
	}
	m.cacheFallbacks.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetBoardTasks(n int) {
	if m == nil {
		return
	}
	m.boardTasks.Set(float64(n))
}
