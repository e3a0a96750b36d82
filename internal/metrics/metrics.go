package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all Prometheus metrics for the collector
type Registry struct {
	// Poll cycle metrics
	CyclesTotal    prometheus.Counter
	CycleDuration  prometheus.Histogram
	PilotsOnline   prometheus.Gauge
	SnapshotErrors prometheus.Counter

	// Event metrics
	EventsTotal prometheus.CounterVec

	// Write buffer metrics
	BufferFlushesTotal prometheus.CounterVec
	BufferFlushSize    prometheus.Histogram

	// Dispatch metrics
	DispatchBatchesTotal prometheus.CounterVec
	DispatchQueueDepth   prometheus.GaugeVec
	DispatchDroppedTotal prometheus.CounterVec
}

// NewRegistry initializes and returns a new Registry with all metrics
func NewRegistry() *Registry {
	return &Registry{
		CyclesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mindseye_cycles_total",
				Help: "Total poll cycles executed by the diffing engine",
			},
		),
		CycleDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mindseye_cycle_duration_seconds",
				Help:    "Diffing pass latency distribution in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		PilotsOnline: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mindseye_pilots_online",
				Help: "Pilots seen in the most recent snapshot",
			},
		),
		SnapshotErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mindseye_snapshot_errors_total",
				Help: "Failed snapshot fetches from the map endpoint",
			},
		),
		EventsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindseye_events_total",
				Help: "Domain events detected, by event type",
			},
			[]string{"type"},
		),
		BufferFlushesTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindseye_buffer_flushes_total",
				Help: "Write buffer flushes, by outcome",
			},
			[]string{"outcome"},
		),
		BufferFlushSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mindseye_buffer_flush_size",
				Help:    "Number of write models per bulk write",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
			},
		),
		DispatchBatchesTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindseye_dispatch_batches_total",
				Help: "Webhook batches sent downstream, by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		DispatchQueueDepth: *promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mindseye_dispatch_queue_depth",
				Help: "Pending webhook requests per category queue",
			},
			[]string{"category"},
		),
		DispatchDroppedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mindseye_dispatch_dropped_total",
				Help: "Webhook requests dropped on overflow or send failure",
			},
			[]string{"category"},
		),
	}
}
