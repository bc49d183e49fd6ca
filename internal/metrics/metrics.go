// Package metrics provides Prometheus metrics for the warehouse loader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the loader. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	// File metrics
	FilesProcessed *prometheus.CounterVec
	FilesFailed    *prometheus.CounterVec
	FilesSkipped   *prometheus.CounterVec

	// Row metrics
	RowsWritten   *prometheus.CounterVec
	RowsDropped   *prometheus.CounterVec
	FieldWarnings *prometheus.CounterVec

	// Timing metrics
	FileLoadDuration *prometheus.HistogramVec
	RunDuration      prometheus.Histogram
	LastRunTimestamp prometheus.Gauge

	InFlightFiles prometheus.Gauge

	// Error metrics
	WriteRetries  *prometheus.CounterVec
	ArchiveErrors prometheus.Counter
	AuditErrors   prometheus.Counter
	LedgerErrors  prometheus.Counter
}

// Init registers the loader metrics with the default registry served by
// Handler. Call this once at startup.
func Init(namespace string) *Metrics {
	return New(namespace, prometheus.DefaultRegisterer)
}

// New registers the loader metrics with reg.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "tg_warehouse"
	}
	f := promauto.With(reg)

	return &Metrics{
		FilesProcessed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_processed_total",
				Help:      "Total number of partition files loaded",
			},
			[]string{"channel"},
		),
		FilesFailed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_failed_total",
				Help:      "Total number of partition files that failed",
			},
			[]string{"channel", "kind"},
		),
		FilesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_skipped_total",
				Help:      "Total number of partition files skipped (already loaded)",
			},
			[]string{"channel"},
		),
		RowsWritten: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_written_total",
				Help:      "Total number of rows appended to the warehouse",
			},
			[]string{"table"},
		),
		RowsDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_dropped_total",
				Help:      "Total number of source records dropped as malformed",
			},
			[]string{"channel"},
		),
		FieldWarnings: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_warnings_total",
				Help:      "Total number of fields stored as NULL after failed coercion",
			},
			[]string{"field"},
		),
		FileLoadDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "file_load_duration_seconds",
				Help:      "Time to load one partition file",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
			[]string{"result"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time for a complete load run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
		),
		LastRunTimestamp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last load run finished",
			},
		),
		InFlightFiles: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_files",
				Help:      "Number of files currently being processed",
			},
		),
		WriteRetries: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_retries_total",
				Help:      "Total number of warehouse write retries",
			},
			[]string{"operation"},
		),
		ArchiveErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "archive_errors_total",
				Help:      "Total number of parquet archive failures",
			},
		),
		AuditErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit event emission failures",
			},
		),
		LedgerErrors: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_errors_total",
				Help:      "Total number of status ledger save failures",
			},
		),
	}
}

// Handler returns the HTTP handler serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	return http.ListenAndServe(address, Handler())
}

// IncFilesProcessed increments the files processed counter.
func (m *Metrics) IncFilesProcessed(channel string) {
	if m == nil {
		return
	}
	m.FilesProcessed.WithLabelValues(channel).Inc()
}

// IncFilesFailed increments the files failed counter.
func (m *Metrics) IncFilesFailed(channel, kind string) {
	if m == nil {
		return
	}
	m.FilesFailed.WithLabelValues(channel, kind).Inc()
}

// IncFilesSkipped increments the files skipped counter.
func (m *Metrics) IncFilesSkipped(channel string) {
	if m == nil {
		return
	}
	m.FilesSkipped.WithLabelValues(channel).Inc()
}

// AddRowsWritten adds to the rows written counter for table.
func (m *Metrics) AddRowsWritten(table string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsWritten.WithLabelValues(table).Add(float64(n))
}

// AddRowsDropped adds to the dropped records counter.
func (m *Metrics) AddRowsDropped(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsDropped.WithLabelValues(channel).Add(float64(n))
}

// IncFieldWarning increments the field warnings counter.
func (m *Metrics) IncFieldWarning(field string) {
	if m == nil {
		return
	}
	m.FieldWarnings.WithLabelValues(field).Inc()
}

// ObserveFileLoadDuration records the time spent on one file.
func (m *Metrics) ObserveFileLoadDuration(result string, seconds float64) {
	if m == nil {
		return
	}
	m.FileLoadDuration.WithLabelValues(result).Observe(seconds)
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(seconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.RunDuration.Observe(seconds)
	m.LastRunTimestamp.Set(finishedUnix)
}

// AddInFlightFiles adjusts the in-flight gauge.
func (m *Metrics) AddInFlightFiles(delta float64) {
	if m == nil {
		return
	}
	m.InFlightFiles.Add(delta)
}

// IncWriteRetries increments the write retries counter.
func (m *Metrics) IncWriteRetries(operation string) {
	if m == nil {
		return
	}
	m.WriteRetries.WithLabelValues(operation).Inc()
}

// IncArchiveErrors increments the archive errors counter.
func (m *Metrics) IncArchiveErrors() {
	if m == nil {
		return
	}
	m.ArchiveErrors.Inc()
}

// IncAuditErrors increments the audit errors counter.
func (m *Metrics) IncAuditErrors() {
	if m == nil {
		return
	}
	m.AuditErrors.Inc()
}

// IncLedgerErrors increments the ledger errors counter.
func (m *Metrics) IncLedgerErrors() {
	if m == nil {
		return
	}
	m.LedgerErrors.Inc()
}
