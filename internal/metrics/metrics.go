// Package metrics records apply outcomes in a Prometheus registry that can be
// served or dumped to a node-exporter textfile.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Run results used as the result label
const (
	ResultSuccess = "success"
	ResultNoop    = "noop"
	ResultFailure = "failure"
)

// Recorder owns the apply metrics and their registry
type Recorder struct {
	registry *prometheus.Registry

	runs      *prometheus.CounterVec
	patches   prometheus.Counter
	changes   *prometheus.CounterVec
	duration  prometheus.Histogram
	installed *prometheus.GaugeVec

	mu      sync.Mutex
	current string
}

// NewRecorder creates a Recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upnet_apply_runs_total",
			Help: "Apply runs by result.",
		}, []string{"result"}),
		patches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upnet_patches_applied_total",
			Help: "Patches committed successfully.",
		}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upnet_changes_committed_total",
			Help: "Changes committed successfully by kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upnet_apply_duration_seconds",
			Help:    "Wall time of apply runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		installed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "upnet_installed_version_info",
			Help: "Installed version, value is always 1.",
		}, []string{"version"}),
	}

	r.registry.MustRegister(r.runs, r.patches, r.changes, r.duration, r.installed)
	return r
}

// Registry exposes the underlying registry for gathering or serving
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun counts one apply run and its duration
func (r *Recorder) ObserveRun(result string, elapsed time.Duration) {
	r.runs.WithLabelValues(result).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// AddPatches counts committed patches
func (r *Recorder) AddPatches(n int) {
	if n > 0 {
		r.patches.Add(float64(n))
	}
}

// AddChanges counts committed changes of one kind
func (r *Recorder) AddChanges(kind string, n int) {
	if n > 0 {
		r.changes.WithLabelValues(kind).Add(float64(n))
	}
}

// SetInstalled replaces the installed version series
func (r *Recorder) SetInstalled(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != "" && r.current != version {
		r.installed.DeleteLabelValues(r.current)
	}
	r.installed.WithLabelValues(version).Set(1)
	r.current = version
}

// WriteTextfile dumps the registry in the text exposition format, atomically
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
