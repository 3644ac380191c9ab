package feature

import (
	"math"
	"testing"
	"time"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

func testAsset() config.AssetConfig {
	return config.AssetConfig{
		ID:     "pump-1",
		Window: 10 * time.Second,
		Channels: []config.ChannelConfig{
			{ID: "vib", Kind: types.KindVibration},
			{ID: "temp", Kind: types.KindThermal},
			{ID: "mic", Kind: types.KindAcoustic},
		},
	}
}

func win(n int) (time.Time, time.Time) {
	start := baseTime.Add(time.Duration(n) * 10 * time.Second)
	return start, start.Add(10 * time.Second)
}

func mkSamples(ch string, at time.Time, values ...float64) []types.Sample {
	out := make([]types.Sample, 0, len(values))
	for i, v := range values {
		out = append(out, types.Sample{
			Channel: ch,
			At:      at.Add(time.Duration(i) * time.Second),
			Value:   v,
		})
	}
	return out
}

func TestSchema(t *testing.T) {
	got := Schema(testAsset().Channels)
	want := []string{"vib.rms", "vib.peak", "temp.rms", "temp.peak", "temp.delta", "mic.rms", "mic.peak", "mic.env"}
	if len(got) != len(want) {
		t.Fatalf("Schema length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schema[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAggregate_Stats(t *testing.T) {
	a := New(testAsset(), 3)
	start, end := win(0)

	res := a.Aggregate("pump-1", start, end, map[string][]types.Sample{
		"vib":  mkSamples("vib", start, 3, -4),
		"temp": mkSamples("temp", start, 70, 72),
		"mic":  mkSamples("mic", start, 60, 60),
	})

	vec := res.Vector
	if vec.AssetID != "pump-1" || !vec.WindowStart.Equal(start) || !vec.WindowEnd.Equal(end) {
		t.Fatalf("vector identity wrong: %+v", vec)
	}
	if len(res.FaultedChannels) != 0 || len(vec.StaleChannels) != 0 {
		t.Fatalf("unexpected stale/fault channels: %+v", res)
	}
	if len(vec.Values) != 8 {
		t.Fatalf("Values length: got %d, want 8", len(vec.Values))
	}

	// vib: rms = sqrt((9+16)/2), peak = 4
	if !almostEqual(vec.Values[0], math.Sqrt(12.5), 1e-9) {
		t.Errorf("vib rms: got %f", vec.Values[0])
	}
	if !almostEqual(vec.Values[1], 4, 1e-9) {
		t.Errorf("vib peak: got %f", vec.Values[1])
	}
	// temp delta on the first window is zero — no previous mean to diff.
	if vec.Values[4] != 0 {
		t.Errorf("first-window thermal delta: got %f, want 0", vec.Values[4])
	}
	// mic: constant signal has a unit envelope.
	if !almostEqual(vec.Values[7], 1, 1e-9) {
		t.Errorf("constant-signal envelope: got %f, want 1", vec.Values[7])
	}
}

func TestAggregate_ThermalDelta(t *testing.T) {
	a := New(testAsset(), 3)

	start, end := win(0)
	a.Aggregate("pump-1", start, end, map[string][]types.Sample{
		"vib":  mkSamples("vib", start, 1),
		"temp": mkSamples("temp", start, 70, 70),
		"mic":  mkSamples("mic", start, 60),
	})

	start, end = win(1)
	res := a.Aggregate("pump-1", start, end, map[string][]types.Sample{
		"vib":  mkSamples("vib", start, 1),
		"temp": mkSamples("temp", start, 74, 74),
		"mic":  mkSamples("mic", start, 60),
	})

	if !almostEqual(res.Vector.Values[4], 4, 1e-9) {
		t.Errorf("thermal delta: got %f, want 4", res.Vector.Values[4])
	}
}

func TestAggregate_StaleFill(t *testing.T) {
	a := New(testAsset(), 3)

	start, end := win(0)
	a.Aggregate("pump-1", start, end, map[string][]types.Sample{
		"vib":  mkSamples("vib", start, 2, 2),
		"temp": mkSamples("temp", start, 70),
		"mic":  mkSamples("mic", start, 60),
	})

	// vib goes silent: fill rms and peak from its last good mean.
	start, end = win(1)
	res := a.Aggregate("pump-1", start, end, map[string][]types.Sample{
		"temp": mkSamples("temp", start, 70),
		"mic":  mkSamples("mic", start, 60),
	})

	vec := res.Vector
	if len(vec.StaleChannels) != 1 || vec.StaleChannels[0] != "vib" {
		t.Fatalf("StaleChannels: got %v, want [vib]", vec.StaleChannels)
	}
	if len(res.FaultedChannels) != 0 {
		t.Fatalf("one stale window must not fault: %v", res.FaultedChannels)
	}
	if !almostEqual(vec.Values[0], 2, 1e-9) || !almostEqual(vec.Values[1], 2, 1e-9) {
		t.Errorf("stale fill: got rms=%f peak=%f, want 2/2", vec.Values[0], vec.Values[1])
	}
}

func TestAggregate_StaleWithoutHistory(t *testing.T) {
	a := New(testAsset(), 3)
	start, end := win(0)

	res := a.Aggregate("pump-1", start, end, map[string][]types.Sample{})
	vec := res.Vector
	if len(vec.StaleChannels) != 3 {
		t.Fatalf("StaleChannels: got %v, want all three", vec.StaleChannels)
	}
	// No known-good history: channels fill with zeros (unit envelope).
	want := []float64{0, 0, 0, 0, 0, 0, 0, 1}
	for i, v := range want {
		if !almostEqual(vec.Values[i], v, 1e-9) {
			t.Errorf("Values[%d]: got %f, want %f", i, vec.Values[i], v)
		}
	}
}

func TestAggregate_FaultAfterStaleLimit(t *testing.T) {
	a := New(testAsset(), 2)
	full := func(start time.Time) map[string][]types.Sample {
		return map[string][]types.Sample{
			"temp": mkSamples("temp", start, 70),
			"mic":  mkSamples("mic", start, 60),
		}
	}

	// Windows 0..1: vib silent, within the stale limit.
	for n := 0; n < 2; n++ {
		start, end := win(n)
		res := a.Aggregate("pump-1", start, end, full(start))
		if len(res.FaultedChannels) != 0 {
			t.Fatalf("window %d: unexpected fault %v", n, res.FaultedChannels)
		}
	}

	// Window 2: third consecutive silent window exceeds the limit.
	start, end := win(2)
	res := a.Aggregate("pump-1", start, end, full(start))
	if len(res.FaultedChannels) != 1 || res.FaultedChannels[0] != "vib" {
		t.Fatalf("FaultedChannels: got %v, want [vib]", res.FaultedChannels)
	}

	// A good window clears the run.
	start, end = win(3)
	m := full(start)
	m["vib"] = mkSamples("vib", start, 2)
	res = a.Aggregate("pump-1", start, end, m)
	if len(res.FaultedChannels) != 0 {
		t.Fatalf("fault must clear on data: %v", res.FaultedChannels)
	}
}
