package anomaly

import (
	"errors"
	"math"
	"testing"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/internal/feature"
	"github.com/avcs-dna/sentinel/pkg/types"
)

func testCalibration() config.CalibrationConfig {
	return config.CalibrationConfig{
		Trees:      50,
		SampleSize: 128,
		Population: 1024,
		Seed:       42,
		Threshold:  0.62,
	}
}

func testChannels() []config.ChannelConfig {
	return []config.ChannelConfig{
		{ID: "vib", Kind: types.KindVibration, Baseline: config.BaselineConfig{Mean: 1.0, Stddev: 0.5}},
		{ID: "temp", Kind: types.KindThermal, Baseline: config.BaselineConfig{Mean: 65, Stddev: 5}},
	}
}

func newTestForest(t *testing.T) *Forest {
	t.Helper()
	channels := testChannels()
	f, err := New(testCalibration(), channels, feature.Schema(channels))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

// baselineVector is a vector sitting exactly on the channel baselines — the
// least surprising input the forest can see.
func baselineVector() *types.FeatureVector {
	return &types.FeatureVector{
		AssetID: "pump-1",
		Labels:  []string{"vib.rms", "vib.peak", "temp.rms", "temp.peak", "temp.delta"},
		Values:  []float64{1.0, 1.0, 65, 65, 0},
	}
}

func TestScore_Deterministic(t *testing.T) {
	f1 := newTestForest(t)
	f2 := newTestForest(t)

	vec := baselineVector()
	r1, err := f1.Score(vec)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	r2, err := f2.Score(vec)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if r1.Score != r2.Score {
		t.Errorf("same seed, same vector: got %f vs %f", r1.Score, r2.Score)
	}
}

func TestScore_Pure(t *testing.T) {
	f := newTestForest(t)
	vec := baselineVector()

	first, err := f.Score(vec)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for i := 0; i < 10; i++ {
		r, err := f.Score(vec)
		if err != nil {
			t.Fatalf("Score: %v", err)
		}
		if r.Score != first.Score {
			t.Fatalf("call %d: score drifted from %f to %f", i, first.Score, r.Score)
		}
	}
}

func TestScore_Bounded(t *testing.T) {
	f := newTestForest(t)
	vectors := []*types.FeatureVector{
		baselineVector(),
		{Values: []float64{0, 0, 0, 0, 0}},
		{Values: []float64{100, 200, 500, 500, 80}},
	}
	for i, vec := range vectors {
		r, err := f.Score(vec)
		if err != nil {
			t.Fatalf("vector %d: %v", i, err)
		}
		if r.Score <= 0 || r.Score > 1 {
			t.Errorf("vector %d: score %f out of (0, 1]", i, r.Score)
		}
	}
}

func TestScore_OutlierAboveBaseline(t *testing.T) {
	f := newTestForest(t)

	normal, err := f.Score(baselineVector())
	if err != nil {
		t.Fatalf("Score normal: %v", err)
	}
	// Ten baseline deviations out on every feature.
	outlier, err := f.Score(&types.FeatureVector{
		Values: []float64{6.0, 6.0, 115, 115, 50},
	})
	if err != nil {
		t.Fatalf("Score outlier: %v", err)
	}
	if outlier.Score <= normal.Score {
		t.Errorf("outlier score %f not above baseline score %f", outlier.Score, normal.Score)
	}
	if !outlier.Anomalous {
		t.Errorf("extreme outlier not flagged anomalous (score %f, threshold %f)",
			outlier.Score, f.Threshold())
	}
	if normal.Anomalous {
		t.Errorf("baseline vector flagged anomalous (score %f)", normal.Score)
	}
}

func TestScore_WidthMismatch(t *testing.T) {
	f := newTestForest(t)
	_, err := f.Score(&types.FeatureVector{Values: []float64{1, 2}})
	if err == nil {
		t.Fatal("expected error for mismatched vector width")
	}
}

func TestScore_NonFinite(t *testing.T) {
	f := newTestForest(t)
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := f.Score(&types.FeatureVector{
			Values: []float64{1, 1, 65, 65, bad},
		})
		if !errors.Is(err, ErrNonFinite) {
			t.Errorf("value %f: got err %v, want ErrNonFinite", bad, err)
		}
	}
}

func TestNew_UnknownChannelInSchema(t *testing.T) {
	_, err := New(testCalibration(), testChannels(), []string{"ghost.rms"})
	if err == nil {
		t.Fatal("expected error for label referencing an unregistered channel")
	}
}
