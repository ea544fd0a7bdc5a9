// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FramesReceivedTotal counts frames handed to the dispatchers by source
	FramesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_frames_received_total",
			Help: "Total number of frames received",
		},
		[]string{"source"},
	)

	// DropsTotal counts rejected frames by protocol layer and reason
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_drops_total",
			Help: "Total number of frames rejected by the ingress validator",
		},
		[]string{"layer", "reason"},
	)

	// ForwardedTotal counts frames handed to a protocol handler
	ForwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_forwarded_total",
			Help: "Total number of frames forwarded to ARP or layer-4 handlers",
		},
		[]string{"protocol"},
	)

	// SourceErrorsTotal counts frames the source could not deliver
	SourceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingress_source_errors_total",
			Help: "Total number of frames skipped by the packet source",
		},
		[]string{"source", "error_type"},
	)

	// ProcessLatencySeconds measures time spent in Dispatcher.Process
	ProcessLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingress_process_latency_seconds",
			Help:    "Latency of per-frame validation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0000001, 2, 20), // 100ns to ~50ms
		},
	)

	// ReassemblyActiveFlows tracks datagrams awaiting more fragments
	ReassemblyActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingress_reassembly_active_flows",
			Help: "Number of fragmented datagrams in the reassembly queue",
		},
	)

	// WorkerQueueDepth tracks frames waiting in each worker queue
	WorkerQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ingress_worker_queue_depth",
			Help: "Current number of frames queued for a worker",
		},
		[]string{"worker"},
	)
)
