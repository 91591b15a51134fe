package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects per-run ingestion metrics on a private registry. A batch
// CLI has no scrape endpoint, so WriteTextfile dumps it for node_exporter.
type Recorder struct {
	registry   *prometheus.Registry
	files      *prometheus.CounterVec
	bars       *prometheus.CounterVec
	violations prometheus.Counter
	duration   prometheus.Histogram
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdingest_files_total",
				Help: "Vendor files processed, by outcome",
			},
			[]string{"status"},
		),
		bars: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mdingest_bars_total",
				Help: "Bars written to the bar store, by kind",
			},
			[]string{"kind"},
		),
		violations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mdingest_validation_violations_total",
				Help: "Validation violations found across files",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mdingest_file_duration_seconds",
				Help:    "Wall time to ingest one file",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	r.registry.MustRegister(r.files, r.bars, r.violations, r.duration)
	return r
}

func (r *Recorder) RecordFile(status string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.files.WithLabelValues(status).Inc()
	r.duration.Observe(elapsed.Seconds())
}

func (r *Recorder) RecordBars(inserted, updated int) {
	if r == nil {
		return
	}
	r.bars.WithLabelValues("inserted").Add(float64(inserted))
	r.bars.WithLabelValues("updated").Add(float64(updated))
}

func (r *Recorder) RecordViolations(n int) {
	if r == nil {
		return
	}
	r.violations.Add(float64(n))
}

// WriteTextfile writes the registry in text exposition format. No-op for
// an empty path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
