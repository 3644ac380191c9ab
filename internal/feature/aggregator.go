package feature

import (
	"math"
	"time"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// Aggregator turns one window of raw samples into a feature vector for a
// single asset. It is stateful: thermal rate-of-change and last-known-good
// stale fill both depend on the previous window. One Aggregator belongs to
// exactly one asset and is only ever driven by that asset's evaluation, so
// it needs no internal locking.
type Aggregator struct {
	channels   []config.ChannelConfig
	staleLimit int

	lastGood   map[string]float64 // last known-good mean per channel
	hasGood    map[string]bool
	prevMean   map[string]float64 // previous window mean, thermal delta input
	hasPrev    map[string]bool
	staleRun   map[string]int // consecutive windows with no samples
}

// New builds an Aggregator for the asset's registered channel set.
// staleLimit is the number of consecutive sample-less windows after which a
// channel trips the asset into a sensor-fault condition.
func New(asset config.AssetConfig, staleLimit int) *Aggregator {
	return &Aggregator{
		channels:   asset.Channels,
		staleLimit: staleLimit,
		lastGood:   make(map[string]float64, len(asset.Channels)),
		hasGood:    make(map[string]bool, len(asset.Channels)),
		prevMean:   make(map[string]float64, len(asset.Channels)),
		hasPrev:    make(map[string]bool, len(asset.Channels)),
		staleRun:   make(map[string]int, len(asset.Channels)),
	}
}

// Schema returns the feature labels in vector order. The layout is fixed by
// the registered channel order: every channel contributes rms and peak;
// thermal channels add a rate-of-change delta; acoustic channels add a
// peak-to-average envelope ratio.
func Schema(channels []config.ChannelConfig) []string {
	labels := make([]string, 0, len(channels)*3)
	for _, ch := range channels {
		labels = append(labels, ch.ID+".rms", ch.ID+".peak")
		switch ch.Kind {
		case types.KindThermal:
			labels = append(labels, ch.ID+".delta")
		case types.KindAcoustic:
			labels = append(labels, ch.ID+".env")
		}
	}
	return labels
}

// Result is the aggregation output for one window.
type Result struct {
	Vector *types.FeatureVector

	// FaultedChannels lists channels absent for more than the stale limit.
	// Non-empty means the asset must be handled as a sensor fault.
	FaultedChannels []string
}

// Aggregate computes the feature vector for one closed window. samples holds
// the window's readings grouped by channel id; channels missing from the map
// are filled with the last-known-good value and flagged stale. Pure numeric
// computation — the only side effects are on the aggregator's own per-window
// carry-over state.
func (a *Aggregator) Aggregate(assetID string, winStart, winEnd time.Time, samples map[string][]types.Sample) Result {
	vec := &types.FeatureVector{
		AssetID:     assetID,
		WindowStart: winStart,
		WindowEnd:   winEnd,
		Labels:      Schema(a.channels),
	}
	res := Result{Vector: vec}

	for _, ch := range a.channels {
		values := samples[ch.ID]
		if len(values) == 0 {
			a.staleRun[ch.ID]++
			vec.StaleChannels = append(vec.StaleChannels, ch.ID)
			if a.staleRun[ch.ID] > a.staleLimit {
				res.FaultedChannels = append(res.FaultedChannels, ch.ID)
			}
			a.appendStale(vec, ch)
			continue
		}
		a.staleRun[ch.ID] = 0

		rms, peak, mean := stats(values)
		vec.Values = append(vec.Values, rms, peak)
		switch ch.Kind {
		case types.KindThermal:
			var delta float64
			if a.hasPrev[ch.ID] {
				delta = mean - a.prevMean[ch.ID]
			}
			vec.Values = append(vec.Values, delta)
			a.prevMean[ch.ID] = mean
			a.hasPrev[ch.ID] = true
		case types.KindAcoustic:
			vec.Values = append(vec.Values, envelope(values, rms))
		}

		a.lastGood[ch.ID] = mean
		a.hasGood[ch.ID] = true
	}
	return res
}

// appendStale fills a missing channel's features from its last known-good
// mean: a constant signal has rms == peak == |mean|, zero thermal delta and
// a unit acoustic envelope.
func (a *Aggregator) appendStale(vec *types.FeatureVector, ch config.ChannelConfig) {
	v := 0.0
	if a.hasGood[ch.ID] {
		v = math.Abs(a.lastGood[ch.ID])
	}
	vec.Values = append(vec.Values, v, v)
	switch ch.Kind {
	case types.KindThermal:
		vec.Values = append(vec.Values, 0)
	case types.KindAcoustic:
		vec.Values = append(vec.Values, 1)
	}
}

// stats returns the window's RMS, absolute peak and mean in one pass.
func stats(samples []types.Sample) (rms, peak, mean float64) {
	var sumSq, sum float64
	for _, s := range samples {
		sumSq += s.Value * s.Value
		sum += s.Value
		if av := math.Abs(s.Value); av > peak {
			peak = av
		}
	}
	n := float64(len(samples))
	return math.Sqrt(sumSq / n), peak, sum / n
}

// envelope is the window's peak-to-average ratio of the rectified signal,
// a cheap crest-style statistic for the acoustic channel.
func envelope(samples []types.Sample, rms float64) float64 {
	var peak, sumAbs float64
	for _, s := range samples {
		av := math.Abs(s.Value)
		sumAbs += av
		if av > peak {
			peak = av
		}
	}
	avg := sumAbs / float64(len(samples))
	if avg == 0 {
		return 1
	}
	return peak / avg
}
