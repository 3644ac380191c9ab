package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/avcs-dna/sentinel/internal/engine"
	"github.com/avcs-dna/sentinel/pkg/types"
)

const rfc3339Milli = "2006-01-02T15:04:05.000Z07:00"

// Engine is the coordinator surface the API needs. Satisfied by
// *engine.Engine.
type Engine interface {
	Ingest(assetID string, samples []types.Sample) (engine.IngestReport, error)
	List() []engine.AssetView
	Snapshot(assetID string) (engine.AssetView, bool)
	History(assetID string, limit int) ([]*types.RiskRecord, error)
	EmergencyStop(ctx context.Context, assetID string) error
	Reset(ctx context.Context, assetID string) error
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	eng Engine
	mux *http.ServeMux
	now func() time.Time
}

// New creates a Handler wired to the engine and registers all routes.
func New(eng Engine) *Handler {
	h := &Handler{eng: eng, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/assets", h.listAssets)
	h.mux.HandleFunc("/api/v1/assets/", h.assetSubtree) // extracts {id}[/op]

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — worst-state rollup across the fleet.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, buildHealth(h.eng.List()))
}

func buildHealth(views []engine.AssetView) HealthResponse {
	resp := HealthResponse{AssetCount: len(views), State: types.StateUnknown}
	worst := -1
	for _, v := range views {
		switch v.State {
		case types.StateHealthy:
			resp.HealthyCount++
		case types.StateWarning:
			resp.WarningCount++
		case types.StateCritical:
			resp.CriticalCount++
		case types.StateStopped:
			resp.StoppedCount++
		}
		if v.SensorFault {
			resp.FaultCount++
		}
		if v.Latest != nil && v.Latest.Index > resp.MaxRisk {
			resp.MaxRisk = v.Latest.Index
		}
		if r := stateRank(v.State); r > worst {
			worst = r
			resp.State = v.State
		}
	}
	return resp
}

// BuildFleet assembles the full fleet snapshot, shared by the WebSocket
// broadcast loop.
func BuildFleet(eng Engine) FleetResponse {
	views := eng.List()
	assets := make([]AssetResponse, 0, len(views))
	for _, v := range views {
		assets = append(assets, toAssetResponse(v))
	}
	return FleetResponse{
		Health:      buildHealth(views),
		Assets:      assets,
		GeneratedAt: time.Now().UTC().Format(rfc3339Milli),
	}
}

// listAssets returns GET /api/v1/assets — every registered asset.
func (h *Handler) listAssets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	views := h.eng.List()
	out := make([]AssetResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toAssetResponse(v))
	}
	jsonResp(w, http.StatusOK, out)
}

// assetSubtree dispatches /api/v1/assets/{id} and its sub-resources:
//
//	GET  /api/v1/assets/{id}
//	GET  /api/v1/assets/{id}/history?limit=N
//	POST /api/v1/assets/{id}/samples
//	POST /api/v1/assets/{id}/stop
//	POST /api/v1/assets/{id}/reset
func (h *Handler) assetSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/assets/")
	if rest == "" {
		h.listAssets(w, r)
		return
	}
	id, op, _ := strings.Cut(rest, "/")

	switch op {
	case "":
		h.getAsset(w, r, id)
	case "history":
		h.history(w, r, id)
	case "samples":
		h.ingest(w, r, id)
	case "stop":
		h.stop(w, r, id)
	case "reset":
		h.reset(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) getAsset(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	v, ok := h.eng.Snapshot(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "asset not found")
		return
	}
	jsonResp(w, http.StatusOK, toAssetResponse(v))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := h.eng.History(id, limit)
	if err != nil {
		jsonErr(w, http.StatusNotFound, "asset not found")
		return
	}
	out := make([]*RecordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecordResponse(rec))
	}
	jsonResp(w, http.StatusOK, out)
}

// ingest handles POST /api/v1/assets/{id}/samples. Two body formats are
// accepted, switched on Content-Type: a JSON sample batch, or a Prometheus
// text exposition where each family name is a channel id.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var (
		samples []types.Sample
		err     error
	)
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "text/plain"), strings.HasPrefix(ct, "application/openmetrics-text"):
		samples, err = h.parseExposition(r.Body)
	default:
		samples, err = parseJSONBatch(r.Body)
	}
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	rep, err := h.eng.Ingest(id, samples)
	if errors.Is(err, engine.ErrUnknownAsset) {
		jsonErr(w, http.StatusNotFound, "asset not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusAccepted, rep)
}

func (h *Handler) stop(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.eng.EmergencyStop(r.Context(), id); err != nil {
		jsonErr(w, http.StatusNotFound, "asset not found")
		return
	}
	jsonResp(w, http.StatusOK, map[string]string{"state": types.StateStopped})
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := h.eng.Reset(r.Context(), id); err != nil {
		jsonErr(w, http.StatusNotFound, "asset not found")
		return
	}
	v, _ := h.eng.Snapshot(id)
	jsonResp(w, http.StatusOK, map[string]string{"state": v.State})
}

// --- body parsing -----------------------------------------------------------

func parseJSONBatch(r io.Reader) ([]types.Sample, error) {
	var req IngestRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if len(req.Samples) == 0 {
		return nil, errors.New("empty sample batch")
	}
	samples := make([]types.Sample, 0, len(req.Samples))
	for i, s := range req.Samples {
		if s.Channel == "" {
			return nil, fmt.Errorf("sample %d: missing channel", i)
		}
		at, err := time.Parse(time.RFC3339, s.At)
		if err != nil {
			return nil, fmt.Errorf("sample %d: bad timestamp: %w", i, err)
		}
		samples = append(samples, types.Sample{
			Channel: s.Channel,
			At:      at,
			Value:   s.Value,
			Unit:    s.Unit,
		})
	}
	return samples, nil
}

// parseExposition decodes a Prometheus text exposition into samples. Each
// metric family maps to one channel; gauge, counter and untyped values are
// accepted. Families with a sample timestamp use it, the rest take now.
func (h *Handler) parseExposition(r io.Reader) ([]types.Sample, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse exposition: %w", err)
	}

	now := h.now()
	var samples []types.Sample
	for name, mf := range mfs {
		for _, m := range mf.GetMetric() {
			v, ok := metricValue(m)
			if !ok {
				continue
			}
			at := now
			if ts := m.GetTimestampMs(); ts > 0 {
				at = time.UnixMilli(ts)
			}
			samples = append(samples, types.Sample{Channel: name, At: at, Value: v})
		}
	}
	if len(samples) == 0 {
		return nil, errors.New("empty sample batch")
	}
	return samples, nil
}

func metricValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.Gauge != nil:
		return m.Gauge.GetValue(), true
	case m.Counter != nil:
		return m.Counter.GetValue(), true
	case m.Untyped != nil:
		return m.Untyped.GetValue(), true
	default:
		return 0, false
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func stateRank(state string) int {
	switch state {
	case types.StateHealthy:
		return 0
	case types.StateWarning:
		return 1
	case types.StateCritical:
		return 2
	case types.StateStopped:
		return 3
	default:
		return -1
	}
}

func toAssetResponse(v engine.AssetView) AssetResponse {
	out := AssetResponse{
		ID:          v.ID,
		State:       v.State,
		SensorFault: v.SensorFault,
		DamperForce: v.DamperForce,
		WindowMs:    v.Window.Milliseconds(),
		Channels:    v.Channels,
		Dampers:     v.Dampers,
		Latest:      toRecordResponse(v.Latest),
	}
	if !v.UpdatedAt.IsZero() {
		out.UpdatedAt = v.UpdatedAt.UTC().Format(rfc3339Milli)
	}
	return out
}
