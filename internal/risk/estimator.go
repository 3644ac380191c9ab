package risk

import (
	"math"
	"time"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// Estimator derives one RiskRecord per window from the latest anomaly result
// and the asset's retained risk history. It is stateless: everything it needs
// arrives as arguments, so one Estimator per asset can be driven from any
// worker without locking.
type Estimator struct {
	cfg      config.RiskConfig
	channels []config.ChannelConfig
	window   time.Duration
}

// New builds an Estimator for one asset's channel set. window is the asset's
// evaluation window length, used to convert trend slopes into wall-clock RUL.
func New(cfg config.RiskConfig, asset config.AssetConfig) *Estimator {
	return &Estimator{cfg: cfg, channels: asset.Channels, window: asset.Window}
}

// Evaluate combines three weighted terms into a bounded Risk Index:
// the normalized anomaly score, per-channel threshold-band breaches, and the
// short-term trend slope of recent anomaly scores. The result is clamped to
// [0, 100] regardless of inputs.
func (e *Estimator) Evaluate(res *types.AnomalyResult, history []*types.RiskRecord, annotations []string, now time.Time) *types.RiskRecord {
	factors := make(map[string]float64, len(e.channels)+2)

	anomalyTerm := res.Score * 100

	var breachTerm float64
	for _, ch := range e.channels {
		level, ok := peakOf(res.Vector, ch.ID)
		if !ok {
			continue
		}
		var inc float64
		switch {
		case level > ch.Bands.Critical:
			inc = ch.Increments.Critical
		case level > ch.Bands.Warning:
			inc = ch.Increments.Warning
		case level > ch.Bands.Normal:
			inc = ch.Increments.Normal
		}
		if inc > 0 {
			factors[ch.ID] = inc * e.cfg.BreachWeight
			breachTerm += inc
		}
	}

	trendTerm := e.trendTerm(res, history)

	index := clamp(e.cfg.AnomalyWeight*anomalyTerm+
		e.cfg.BreachWeight*breachTerm+
		e.cfg.TrendWeight*trendTerm, 0, 100)

	factors["anomaly"] = e.cfg.AnomalyWeight * anomalyTerm
	if trendTerm > 0 {
		factors["trend"] = e.cfg.TrendWeight * trendTerm
	}

	rec := &types.RiskRecord{
		AssetID:      res.Vector.AssetID,
		Index:        index,
		AnomalyScore: res.Score,
		Anomalous:    res.Anomalous,
		Factors:      factors,
		Annotations:  annotations,
		At:           now,
	}
	rec.RUL = e.estimateRUL(index, history)
	return rec
}

// trendTerm maps the least-squares slope of the last K anomaly scores onto
// the 0–100 risk scale: the projected score gain over a full lookback at the
// current slope. A rising trend raises risk before any absolute threshold is
// crossed; a flat or improving trend contributes nothing.
func (e *Estimator) trendTerm(res *types.AnomalyResult, history []*types.RiskRecord) float64 {
	scores := lastScores(history, e.cfg.TrendLookback-1)
	scores = append(scores, res.Score)
	if len(scores) < 2 {
		return 0
	}
	slope, _, _ := fitLine(scores)
	if slope <= 0 {
		return 0
	}
	return clamp(slope*float64(e.cfg.TrendLookback)*100, 0, 100)
}

// estimateRUL extrapolates the Risk Index trend to the configured failure
// threshold. Flat or improving trends yield an indeterminate estimate —
// reported as such, never as infinity. The confidence band widens with fewer
// history points and with higher slope variance; it is a degraded-but-safe
// estimate, not a guarantee.
func (e *Estimator) estimateRUL(current float64, history []*types.RiskRecord) types.RULEstimate {
	const minPoints = 3
	const slopeEps = 1e-6

	indices := make([]float64, 0, e.cfg.TrendLookback)
	for _, r := range lastRecords(history, e.cfg.TrendLookback-1) {
		indices = append(indices, r.Index)
	}
	indices = append(indices, current)
	if len(indices) < minPoints {
		return types.RULEstimate{}
	}

	slope, _, residStd := fitLine(indices)
	if slope <= slopeEps {
		return types.RULEstimate{}
	}
	if current >= e.cfg.FailureThreshold {
		return types.RULEstimate{Valid: true}
	}

	windows := (e.cfg.FailureThreshold - current) / slope
	hours := windows * e.window.Hours()

	// Slope standard error over evenly spaced x = 0..n-1.
	n := float64(len(indices))
	sxx := n * (n*n - 1) / 12
	se := residStd / math.Sqrt(sxx)

	margin := hours * (se/slope + 1/math.Sqrt(n))
	return types.RULEstimate{
		Valid: true,
		Hours: hours,
		Lower: math.Max(0, hours-margin),
		Upper: hours + margin,
	}
}

// fitLine fits y = slope*x + intercept over x = 0..n-1 by least squares and
// returns the residual standard deviation alongside the coefficients.
func fitLine(ys []float64) (slope, intercept, residStd float64) {
	n := float64(len(ys))
	if n < 2 {
		return 0, 0, 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	den := n*sumXX - sumX*sumX
	if den == 0 {
		return 0, sumY / n, 0
	}
	slope = (n*sumXY - sumX*sumY) / den
	intercept = (sumY - slope*sumX) / n

	var ss float64
	for i, y := range ys {
		r := y - (slope*float64(i) + intercept)
		ss += r * r
	}
	if len(ys) > 2 {
		residStd = math.Sqrt(ss / (n - 2))
	}
	return slope, intercept, residStd
}

func lastRecords(history []*types.RiskRecord, k int) []*types.RiskRecord {
	if len(history) <= k {
		return history
	}
	return history[len(history)-k:]
}

func lastScores(history []*types.RiskRecord, k int) []float64 {
	recs := lastRecords(history, k)
	out := make([]float64, 0, k+1)
	for _, r := range recs {
		out = append(out, r.AnomalyScore)
	}
	return out
}

// peakOf finds the channel's peak feature in the vector by label.
func peakOf(vec *types.FeatureVector, channelID string) (float64, bool) {
	want := channelID + ".peak"
	for i, label := range vec.Labels {
		if label == want && i < len(vec.Values) {
			return vec.Values[i], true
		}
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
