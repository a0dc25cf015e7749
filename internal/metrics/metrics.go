// Package metrics exposes Prometheus collectors for the offload
// runtime. The core only records; exposition belongs to the host.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModulesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offload_modules_created_total",
		Help: "Number of offload modules constructed from graph descriptions",
	})

	ModulesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offload_modules_loaded_total",
		Help: "Number of offload modules reconstructed from serialized form",
	})

	LayersBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offload_layers_built_total",
		Help: "Number of native engine layers built, by operator",
	}, []string{"op"})

	BuildErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offload_build_errors_total",
		Help: "Number of fatal module/layer build failures, by kind",
	}, []string{"kind"})

	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "offload_run_duration_seconds",
		Help:    "Duration of one offload module forward pass",
		Buckets: prometheus.DefBuckets,
	})

	MarshalledElements = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offload_marshalled_elements_total",
		Help: "Elements copied across the host/engine layout boundary, by direction",
	}, []string{"direction"})
)

// ObserveRun records one forward-pass duration.
func ObserveRun(start time.Time) {
	RunDuration.Observe(time.Since(start).Seconds())
}

// RecordLayerBuilt counts one successful layer build for op.
func RecordLayerBuilt(op string) {
	LayersBuilt.WithLabelValues(op).Inc()
}

// RecordBuildError counts one fatal build failure of the given kind.
func RecordBuildError(kind string) {
	BuildErrors.WithLabelValues(kind).Inc()
}

// RecordMarshal counts elements copied host->engine ("in") or engine->host ("out").
func RecordMarshal(direction string, elements int) {
	MarshalledElements.WithLabelValues(direction).Add(float64(elements))
}
