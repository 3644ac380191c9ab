package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine operational metrics, exposed on /metrics via promhttp.
var (
	SamplesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_samples_ingested_total",
		Help: "Raw sensor samples accepted into the open window.",
	}, []string{"asset"})

	SamplesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_samples_rejected_total",
		Help: "Samples rejected for falling outside the open window.",
	}, []string{"asset"})

	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_evaluations_total",
		Help: "Completed evaluation pipelines per asset.",
	}, []string{"asset"})

	WindowsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_windows_dropped_total",
		Help: "Closed windows dropped because the per-asset backlog was full.",
	}, []string{"asset"})

	EvalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_evaluation_duration_seconds",
		Help:    "Wall-clock duration of one asset evaluation.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"asset"})

	CommandsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_commands_issued_total",
		Help: "Damper control commands handed to the actuation layer.",
	}, []string{"asset"})

	ActuationFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_actuation_faults_total",
		Help: "Commands the actuation collaborator failed to apply.",
	}, []string{"asset"})

	EmergencyStops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_emergency_stops_total",
		Help: "Emergency stop signals processed.",
	})

	RiskIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_risk_index",
		Help: "Latest Risk Index per asset.",
	}, []string{"asset"})
)
