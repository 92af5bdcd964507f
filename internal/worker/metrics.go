package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vsalomaa/spmirror/internal/catalog"
)

// Metrics is the worker's Prometheus instrumentation. All series live in a
// private registry so tests never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	runsTotal   *prometheus.CounterVec
	runDuration prometheus.Histogram
	itemsTotal  *prometheus.CounterVec
	bytesTotal  prometheus.Counter
	lastRunUnix prometheus.Gauge
	documents   prometheus.Gauge
	blobs       prometheus.Gauge
}

// NewMetrics builds and registers the worker's metric set, Go and process
// collectors included.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spmirror_runs_total",
			Help: "Sync runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "spmirror_run_duration_seconds",
			Help:    "Wall-clock duration of sync runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "spmirror_items_total",
			Help: "Items processed by action.",
		}, []string{"action"}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spmirror_bytes_downloaded_total",
			Help: "Content bytes downloaded.",
		}),
		lastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spmirror_last_run_unix_seconds",
			Help: "Completion time of the most recent run.",
		}),
		documents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spmirror_documents",
			Help: "Live documents in the catalog.",
		}),
		blobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spmirror_blobs",
			Help: "Unique content blobs in the store.",
		}),
	}

	reg.MustRegister(
		m.runsTotal, m.runDuration, m.itemsTotal, m.bytesTotal,
		m.lastRunUnix, m.documents, m.blobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveRun records one terminal run.
func (m *Metrics) ObserveRun(run *catalog.Run) {
	m.runsTotal.WithLabelValues(string(run.Status)).Inc()
	m.runDuration.Observe(run.Duration().Seconds())

	m.itemsTotal.WithLabelValues("added").Add(float64(run.Counters.Added))
	m.itemsTotal.WithLabelValues("modified").Add(float64(run.Counters.Modified))
	m.itemsTotal.WithLabelValues("removed").Add(float64(run.Counters.Removed))
	m.itemsTotal.WithLabelValues("unchanged").Add(float64(run.Counters.Unchanged))
	m.itemsTotal.WithLabelValues("skipped").Add(float64(run.Counters.Skipped))

	m.bytesTotal.Add(float64(run.Counters.BytesDownloaded))

	if run.CompletedAt != nil {
		m.lastRunUnix.Set(float64(run.CompletedAt.Unix()))
	}
}

// ObserveSkipped records a scheduled run that found another run in progress.
func (m *Metrics) ObserveSkipped() {
	m.runsTotal.WithLabelValues("skipped").Inc()
}

// SetTotals refreshes the catalog gauges.
func (m *Metrics) SetTotals(totals *catalog.Totals) {
	m.documents.Set(float64(totals.Documents))
	m.blobs.Set(float64(totals.Blobs))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
