// Package metrics counts conversion and validation work with Prometheus
// collectors held in a private registry. A nil *Recorder is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jameshyojaelee/omnispatial/errors"
)

const namespace = "omnispatial"

// Recorder owns the collectors for one process.
type Recorder struct {
	registry  *prometheus.Registry
	chunks    *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	issues    *prometheus.CounterVec
	writes    prometheus.Histogram
}

// New registers every collector on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_written_total",
			Help:      "Chunks written to bundles, by layer kind.",
		}, []string{"layer"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Encoded chunk bytes written to bundles, by layer kind.",
		}, []string{"layer"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_fallbacks_total",
			Help:      "Arrays created with the fallback chunk shape, by layer kind.",
		}, []string{"layer"}),
		issues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_issues_total",
			Help:      "Validation issues reported, by code and severity.",
		}, []string{"code", "severity"}),
		writes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_duration_seconds",
			Help:      "Wall time of complete bundle writes.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	r.registry.MustRegister(r.chunks, r.bytes, r.fallbacks, r.issues, r.writes)
	return r
}

// Registry exposes the underlying registry for HTTP handlers or tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ChunkWritten(layer string, n int) {
	if r == nil {
		return
	}
	r.chunks.WithLabelValues(layer).Inc()
	r.bytes.WithLabelValues(layer).Add(float64(n))
}

func (r *Recorder) ChunkFallback(layer string) {
	if r == nil {
		return
	}
	r.fallbacks.WithLabelValues(layer).Inc()
}

func (r *Recorder) ValidationIssue(code, severity string) {
	if r == nil {
		return
	}
	r.issues.WithLabelValues(code, severity).Inc()
}

func (r *Recorder) ObserveWrite(d time.Duration) {
	if r == nil {
		return
	}
	r.writes.Observe(d.Seconds())
}

// WriteTextfile writes every metric in the node_exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return errors.Wrapf(prometheus.WriteToTextfile(path, r.registry), "write metrics to %s", path)
}
