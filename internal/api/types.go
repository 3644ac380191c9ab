package api

import "github.com/avcs-dna/sentinel/pkg/types"

// HealthResponse is the payload for GET /api/v1/health — the fleet rollup.
type HealthResponse struct {
	State         string  `json:"state"`
	AssetCount    int     `json:"asset_count"`
	HealthyCount  int     `json:"healthy_count"`
	WarningCount  int     `json:"warning_count"`
	CriticalCount int     `json:"critical_count"`
	StoppedCount  int     `json:"stopped_count"`
	FaultCount    int     `json:"fault_count"`
	MaxRisk       float64 `json:"max_risk"`
}

// AssetResponse is one asset in GET /api/v1/assets or GET /api/v1/assets/{id}.
type AssetResponse struct {
	ID          string          `json:"id"`
	State       string          `json:"state"`
	SensorFault bool            `json:"sensor_fault"`
	DamperForce float64         `json:"damper_force"`
	WindowMs    int64           `json:"window_ms"`
	Channels    []string        `json:"channels"`
	Dampers     []string        `json:"dampers"`
	Latest      *RecordResponse `json:"latest,omitempty"`
	UpdatedAt   string          `json:"updated_at,omitempty"` // RFC3339
}

// RecordResponse is one risk evaluation in asset and history payloads.
type RecordResponse struct {
	AssetID      string             `json:"asset_id"`
	Index        float64            `json:"risk_index"`
	State        string             `json:"state"`
	AnomalyScore float64            `json:"anomaly_score"`
	Anomalous    bool               `json:"anomalous"`
	RUL          *RULResponse       `json:"rul,omitempty"`
	Factors      map[string]float64 `json:"factors,omitempty"`
	Annotations  []string           `json:"annotations,omitempty"`
	At           string             `json:"at"` // RFC3339
}

// RULResponse is the remaining-useful-life estimate within a record. It is
// present only when the risk trend supports an extrapolation.
type RULResponse struct {
	Hours float64 `json:"hours"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// SampleRequest is one raw reading in POST /api/v1/assets/{id}/samples.
type SampleRequest struct {
	Channel string  `json:"channel"`
	At      string  `json:"at"` // RFC3339
	Value   float64 `json:"value"`
	Unit    string  `json:"unit,omitempty"`
}

// IngestRequest is the JSON body for POST /api/v1/assets/{id}/samples.
type IngestRequest struct {
	Samples []SampleRequest `json:"samples"`
}

// FleetResponse is the payload broadcast over the WebSocket hub.
type FleetResponse struct {
	Health      HealthResponse  `json:"health"`
	Assets      []AssetResponse `json:"assets"`
	GeneratedAt string          `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

func toRecordResponse(rec *types.RiskRecord) *RecordResponse {
	if rec == nil {
		return nil
	}
	out := &RecordResponse{
		AssetID:      rec.AssetID,
		Index:        rec.Index,
		State:        rec.State,
		AnomalyScore: rec.AnomalyScore,
		Anomalous:    rec.Anomalous,
		Factors:      rec.Factors,
		Annotations:  rec.Annotations,
		At:           rec.At.UTC().Format(rfc3339Milli),
	}
	if rec.RUL.Valid {
		out.RUL = &RULResponse{
			Hours: rec.RUL.Hours,
			Lower: rec.RUL.Lower,
			Upper: rec.RUL.Upper,
		}
	}
	return out
}
