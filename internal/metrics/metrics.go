package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Worker metrics exposed on /metrics
var (
	// Realtime connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_ws_active_connections",
			Help: "Number of live realtime connections",
		},
	)

	WatchedMachines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_ws_watched_machines",
			Help: "Number of machines with at least one subscriber",
		},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_ws_messages_total",
			Help: "Outbound realtime messages by type and result",
		},
		[]string{"type", "result"},
	)

	PrunedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_ws_pruned_connections_total",
			Help: "Connections dropped after a failed send",
		},
	)

	// Detection metrics
	DetectorKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_detector_keys",
			Help: "Number of (machine, sensor) detection states held in memory",
		},
	)

	DetectorEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_detector_evictions_total",
			Help: "Detection states evicted from the LRU or forgotten",
		},
	)

	ModelRetrains = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_detector_retrains_total",
			Help: "Full isolation forest retrains",
		},
	)

	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_anomalies_total",
			Help: "Anomaly events emitted by severity",
		},
		[]string{"severity"},
	)

	DetectionCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_detection_cycles_total",
			Help: "Per-machine detection cycles by result",
		},
		[]string{"result"},
	)

	DetectionCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemetry_detection_cycle_duration_seconds",
			Help:    "Per-machine detection cycle duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	// Alert lifecycle metrics
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_alert_transitions_total",
			Help: "Alert state changes by resulting status",
		},
		[]string{"status"},
	)

	// Ingest metrics
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_readings_ingested_total",
			Help: "Ingested readings by validation status",
		},
		[]string{"status"},
	)
)
