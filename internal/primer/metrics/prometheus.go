// Package metrics provides Prometheus metrics for the heap-primer component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds heap-primer specific Prometheus metrics.
type Metrics struct {
	// Allocation progress
	AllocatedMB  prometheus.Gauge
	RetainedMB   prometheus.Gauge
	UnitsTotal   prometheus.Counter
	BlocksTotal  prometheus.Counter
	TargetMB     prometheus.Gauge
	BytesPerUnit prometheus.Gauge

	// Per-allocation latency in seconds
	AllocLatency prometheus.Histogram

	// Session state
	CurrentPass   prometheus.Gauge
	PrimerRunning prometheus.Gauge
}

// New creates a new Metrics instance registered on the default registerer.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates a new Metrics instance registered on the given registerer.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AllocatedMB: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_allocated_mb",
				Help: "Megabytes allocated so far in the current pass (retained plus scratch)",
			},
		),
		RetainedMB: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_retained_mb",
				Help: "Megabytes currently retained by the priming pass",
			},
		),
		UnitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heapprimer_units_total",
				Help: "Total number of allocation units created",
			},
		),
		BlocksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "heapprimer_blocks_total",
				Help: "Total number of 10MB allocation blocks completed",
			},
		),
		TargetMB: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_target_mb",
				Help: "Target size of the current priming pass in megabytes",
			},
		),
		BytesPerUnit: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_bytes_per_unit",
				Help: "Calibrated per-unit footprint in bytes",
			},
		),
		AllocLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "heapprimer_alloc_latency_seconds",
				Help:    "Per-allocation latency in seconds",
				Buckets: []float64{1e-7, 5e-7, 1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1},
			},
		),
		CurrentPass: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_current_pass",
				Help: "The allocation pass currently running (0 when idle)",
			},
		),
		PrimerRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "heapprimer_running",
				Help: "Whether a priming session is running (1) or not (0)",
			},
		),
	}
}
