// Package metrics exposes Prometheus collectors for jobs and source polling.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "mediaflow"

// Metrics holds all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	JobsStartedTotal   *prometheus.CounterVec
	JobsFinishedTotal  *prometheus.CounterVec
	JobDurationSeconds *prometheus.HistogramVec
	JobBytesTotal      *prometheus.CounterVec
	JobRetriesTotal    *prometheus.CounterVec
	JobsRunning        *prometheus.GaugeVec

	SourceChecksTotal  *prometheus.CounterVec
	ItemsDiscovered    prometheus.Counter
	PollDurationSecond prometheus.Histogram
	PollingEnabled     prometheus.Gauge
}

// New creates and registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initJobMetrics(factory)
	m.initPollingMetrics(factory)
	return m
}

func (m *Metrics) initJobMetrics(factory promauto.Factory) {
	m.JobsStartedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "started_total",
		Help:      "Total number of jobs started",
	}, []string{"kind"})

	m.JobsFinishedTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Total number of jobs that reached a terminal status",
	}, []string{"kind", "status", "error_kind"})

	m.JobDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Wall-clock duration of jobs",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~2h
	}, []string{"kind"})

	m.JobBytesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "artifact_bytes_total",
		Help:      "Total size of artifacts produced by finished jobs",
	}, []string{"kind"})

	m.JobRetriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "retries_total",
		Help:      "Retries after transient upstream failures",
	}, []string{"kind"})

	m.JobsRunning = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Jobs currently running per kind",
	}, []string{"kind"})
}

func (m *Metrics) initPollingMetrics(factory promauto.Factory) {
	m.SourceChecksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "polling",
		Name:      "source_checks_total",
		Help:      "Source checks by result",
	}, []string{"result"})

	m.ItemsDiscovered = factory.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "polling",
		Name:      "items_discovered_total",
		Help:      "New items recorded across all sources",
	})

	m.PollDurationSecond = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "polling",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of a full polling cycle",
		Buckets:   prometheus.DefBuckets,
	})

	m.PollingEnabled = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "polling",
		Name:      "enabled",
		Help:      "1 when the polling loop is enabled",
	})
}

func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.JobsStartedTotal.WithLabelValues(kind).Inc()
	m.JobsRunning.WithLabelValues(kind).Inc()
}

func (m *Metrics) JobFinished(kind, status, errorKind string, d time.Duration, bytes int64) {
	if m == nil {
		return
	}
	m.JobsRunning.WithLabelValues(kind).Dec()
	m.JobsFinishedTotal.WithLabelValues(kind, status, errorKind).Inc()
	m.JobDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
	if bytes > 0 {
		m.JobBytesTotal.WithLabelValues(kind).Add(float64(bytes))
	}
}

func (m *Metrics) JobRetried(kind string) {
	if m == nil {
		return
	}
	m.JobRetriesTotal.WithLabelValues(kind).Inc()
}

// SourceChecked records one source check. result is "new_items",
// "no_change" or "error".
func (m *Metrics) SourceChecked(result string, newItems int) {
	if m == nil {
		return
	}
	m.SourceChecksTotal.WithLabelValues(result).Inc()
	if newItems > 0 {
		m.ItemsDiscovered.Add(float64(newItems))
	}
}

func (m *Metrics) PollCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.PollDurationSecond.Observe(d.Seconds())
}

func (m *Metrics) SetPollingEnabled(enabled bool) {
	if m == nil {
		return
	}
	if enabled {
		m.PollingEnabled.Set(1)
	} else {
		m.PollingEnabled.Set(0)
	}
}
