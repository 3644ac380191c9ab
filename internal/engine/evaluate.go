package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avcs-dna/sentinel/internal/anomaly"
	"github.com/avcs-dna/sentinel/internal/metrics"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// evaluate runs the full pipeline for one closed window: aggregate features,
// score against the frozen forest, fold in risk and RUL, advance the control
// state machine, persist the record and hand any command to the actuation
// layer. Runs on a pool worker; the asset mutex keeps the pipeline exclusive
// with stop/reset signals.
func (e *Engine) evaluate(j job) {
	defer j.wg.Done()

	e.mu.RLock()
	timeout := e.cfg.Engine.EvalTimeout
	e.mu.RUnlock()

	a := j.a
	started := time.Now()

	a.mu.Lock()

	agg := a.agg.Aggregate(a.cfg.ID, j.win.start, j.win.end, j.win.samples)
	annotations := a.pending
	a.pending = nil

	fault := len(agg.FaultedChannels) > 0
	if fault {
		annotations = append(annotations, types.AnnotationSensorFault)
		slog.Warn("sensor fault", "asset", a.cfg.ID,
			"channels", agg.FaultedChannels)
	}

	res, err := a.forest.Score(agg.Vector)
	if err != nil {
		// A degenerate vector never crashes the pipeline: carry the prior
		// score forward, annotated as stale, and keep evaluating.
		res = staleResult(a.last, agg.Vector, a.forest.Threshold())
		annotations = append(annotations, types.AnnotationStaleScore)
		if errors.Is(err, anomaly.ErrNonFinite) {
			slog.Warn("non-finite features, score carried forward",
				"asset", a.cfg.ID, "window_end", j.win.end)
		} else {
			slog.Error("anomaly scoring failed", "asset", a.cfg.ID, "error", err)
		}
	}
	a.last = res

	if elapsed := time.Since(started); timeout > 0 && elapsed > timeout {
		annotations = append(annotations, types.AnnotationEvaluationTimeout)
		fault = true
		slog.Warn("evaluation exceeded deadline", "asset", a.cfg.ID,
			"elapsed", elapsed, "deadline", timeout)
	}

	history := e.store.History(a.cfg.ID, 0)
	rec := a.est.Evaluate(res, history, annotations, j.win.end)
	cmd := a.machine.Evaluate(rec, fault, j.win.end)
	rec.State = a.machine.State()

	a.sensorFault = a.machine.SensorFault()
	a.updatedAt = j.win.end
	a.evaluating = false

	e.store.Append(rec)
	metrics.Evaluations.WithLabelValues(a.cfg.ID).Inc()
	metrics.EvalDuration.WithLabelValues(a.cfg.ID).Observe(time.Since(started).Seconds())
	metrics.RiskIndex.WithLabelValues(a.cfg.ID).Set(rec.Index)

	a.mu.Unlock()

	slog.Debug("window evaluated", "asset", a.cfg.ID,
		"window_end", j.win.end, "risk", rec.Index, "state", rec.State,
		"anomaly_score", res.Score)

	if cmd != nil {
		e.apply(j.ctx, a, cmd)
	}
	j.col.add(rec, cmd)
}

// apply hands a command to the actuation layer. A failed actuation is
// recorded against the asset's next evaluation rather than retried.
func (e *Engine) apply(ctx context.Context, a *asset, cmd *types.ControlCommand) {
	metrics.CommandsIssued.WithLabelValues(cmd.AssetID).Inc()
	if err := e.applier.Apply(ctx, cmd); err != nil {
		metrics.ActuationFaults.WithLabelValues(cmd.AssetID).Inc()
		slog.Error("actuation failed", "asset", cmd.AssetID,
			"reason", cmd.Reason, "error", err)
		a.mu.Lock()
		a.annotate(types.AnnotationActuationFault)
		a.mu.Unlock()
	}
}

// staleResult carries the previous window's score forward when the current
// vector cannot be scored. With no prior result the window scores zero.
func staleResult(prev *types.AnomalyResult, vec *types.FeatureVector, threshold float64) *types.AnomalyResult {
	res := &types.AnomalyResult{Stale: true, Vector: vec}
	if prev != nil {
		res.Score = prev.Score
		res.Anomalous = res.Score >= threshold
	}
	return res
}
