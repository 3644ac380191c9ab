package types

import "time"

// Asset lifecycle states. Transitions between them are owned exclusively by
// the control decision machine; everything else reads them.
const (
	StateHealthy  = "healthy"
	StateWarning  = "warning"
	StateCritical = "critical"
	StateStopped  = "stopped"
	StateUnknown  = "unknown"
)

// Channel kinds. The kind decides which features a channel contributes to the
// feature vector and which threshold bands apply to it.
const (
	KindVibration = "vibration"
	KindThermal   = "thermal"
	KindAcoustic  = "acoustic"
)

// Fault annotations attached to RiskRecords so downstream consumers can tell
// a genuinely healthy reading from a degraded one.
const (
	AnnotationSensorFault       = "sensor_fault"
	AnnotationStaleScore        = "stale_score"
	AnnotationLateSample        = "late_sample"
	AnnotationActuationFault    = "actuation_fault"
	AnnotationEvaluationTimeout = "evaluation_timeout"
)

// Sample is one raw channel reading pushed by a sample source. Samples are
// consumed once by the feature aggregator and not retained beyond their
// evaluation window.
type Sample struct {
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Value   float64   `json:"value"`
	Unit    string    `json:"unit,omitempty"`
}

// FeatureVector is the fixed-width numeric tuple one evaluation window
// aggregates into. Labels and Values are index-aligned; their layout is fixed
// at asset registration and must match the scorer's calibration exactly.
type FeatureVector struct {
	AssetID     string    `json:"asset_id"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Labels      []string  `json:"labels"`
	Values      []float64 `json:"values"`

	// StaleChannels lists channels whose readings were carried forward from
	// the last known-good value because no samples arrived this window.
	StaleChannels []string `json:"stale_channels,omitempty"`
}

// AnomalyResult is the scorer output for one window. Score is in (0, 1] with
// higher = more anomalous; Anomalous is Score checked against the calibrated
// threshold. Vector is kept for audit and replay.
type AnomalyResult struct {
	Score     float64        `json:"score"`
	Anomalous bool           `json:"anomalous"`
	Stale     bool           `json:"stale,omitempty"` // carried forward from the prior window
	Vector    *FeatureVector `json:"vector,omitempty"`
}

// RULEstimate is a remaining-useful-life projection in hours. Valid is false
// when the risk trend is flat or improving — the estimate is then
// indeterminate, never infinite.
type RULEstimate struct {
	Valid bool    `json:"valid"`
	Hours float64 `json:"hours,omitempty"`
	Lower float64 `json:"lower,omitempty"`
	Upper float64 `json:"upper,omitempty"`
}

// RiskRecord is one immutable risk evaluation for an asset. History is kept
// per asset as an append-only, time-ordered, bounded sequence.
type RiskRecord struct {
	AssetID      string             `json:"asset_id"`
	Index        float64            `json:"risk_index"` // bounded [0, 100]
	State        string             `json:"state"`
	AnomalyScore float64            `json:"anomaly_score"`
	Anomalous    bool               `json:"anomalous"`
	RUL          RULEstimate        `json:"rul"`
	Factors      map[string]float64 `json:"factors,omitempty"` // contributor -> partial score
	Annotations  []string           `json:"annotations,omitempty"`
	At           time.Time          `json:"at"`
}

// Annotated reports whether the record carries the given fault annotation.
func (r *RiskRecord) Annotated(annotation string) bool {
	for _, a := range r.Annotations {
		if a == annotation {
			return true
		}
	}
	return false
}

// ControlCommand is one damper actuation directive. It is created by the
// control decision machine, consumed exactly once by the actuation
// collaborator, and never mutated after creation.
type ControlCommand struct {
	AssetID  string             `json:"asset_id"`
	Forces   map[string]float64 `json:"forces"` // actuator id -> force in newtons
	Reason   string             `json:"reason"`
	Risk     *RiskRecord        `json:"risk,omitempty"` // triggering record, nil for emergency stop
	IssuedAt time.Time          `json:"issued_at"`
}
