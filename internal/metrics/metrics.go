// Package metrics provides Prometheus metrics for the crashvault server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all crashvault metrics.
var Registry = prometheus.NewRegistry()

func init() {
	// Register standard Go metrics
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// ServerMetrics holds all Prometheus metrics for the crashvault server.
type ServerMetrics struct {
	// Upload path
	UploadsTotal      *prometheus.CounterVec // labels: kind (dump|artifact), outcome (staged|duplicate|rejected)
	UploadBytesStaged prometheus.Counter

	// Background processing
	JobsInFlight prometheus.Gauge
	JobsTotal    *prometheus.CounterVec // labels: status (success|failure|duplicate)

	// Download path
	RedirectsTotal *prometheus.CounterVec // labels: status (redirected|not_found)

	// Archive assembly
	ArchivesTotal    *prometheus.CounterVec // labels: status (success|failure|cancelled)
	ArchiveEntries   prometheus.Counter
	ArchiveDuration  prometheus.Histogram
	ArchiveBytesRead prometheus.Counter
}

// New initializes all server metrics on the package registry.
func New() *ServerMetrics {
	return newWithRegistry(Registry)
}

// NewForTesting initializes metrics on a private registry so parallel
// tests do not trip duplicate-registration panics.
func NewForTesting() *ServerMetrics {
	return newWithRegistry(prometheus.NewRegistry())
}

func newWithRegistry(reg *prometheus.Registry) *ServerMetrics {
	return &ServerMetrics{
		UploadsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "crashvault_uploads_total",
			Help: "Total upload requests by kind and outcome",
		}, []string{"kind", "outcome"}),
		UploadBytesStaged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "crashvault_upload_bytes_staged_total",
			Help: "Total bytes written to the staging store",
		}),
		JobsInFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "crashvault_jobs_in_flight",
			Help: "Background processing jobs currently running",
		}),
		JobsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "crashvault_jobs_total",
			Help: "Completed background processing jobs by status",
		}, []string{"status"}),
		RedirectsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "crashvault_redirects_total",
			Help: "Artifact download redirect responses by status",
		}, []string{"status"}),
		ArchivesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "crashvault_archives_total",
			Help: "Archive assembly operations by status",
		}, []string{"status"}),
		ArchiveEntries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "crashvault_archive_entries_total",
			Help: "Artifact entries written into assembled archives",
		}),
		ArchiveDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "crashvault_archive_duration_seconds",
			Help:    "Wall time to assemble one incident archive",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		ArchiveBytesRead: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "crashvault_archive_bytes_read_total",
			Help: "Decompressed artifact bytes copied into archives",
		}),
	}
}
