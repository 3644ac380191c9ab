package anomaly

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// ErrNonFinite is returned when a feature vector carries NaN or ±Inf values.
// The pipeline reacts by carrying the prior window's score forward with a
// stale-score annotation instead of propagating the fault.
var ErrNonFinite = errors.New("anomaly: feature vector contains non-finite values")

// Forest is an isolation-forest scorer over standardized feature vectors.
//
// The forest and its standardization statistics are frozen at build time and
// shared read-only across all evaluation workers. Recalibration is a
// quiesce-and-swap of the whole Forest, never in-place mutation.
type Forest struct {
	labels    []string
	mean      []float64
	stddev    []float64
	threshold float64

	trees  []*node
	cNorm  float64 // c(sample_size), the expected path length normalizer
}

type node struct {
	// internal node
	feature int
	split   float64
	left    *node
	right   *node

	// external node
	size int
}

// New builds a Forest for the given channel schema from the frozen
// calibration parameters. The calibration population is drawn
// deterministically from cal.Seed over the standardized feature space, so
// the same config always yields the same model.
//
// The schema width is fixed here; a later vector of a different width is a
// configuration error surfaced by Score, not a recoverable condition.
func New(cal config.CalibrationConfig, channels []config.ChannelConfig, labels []string) (*Forest, error) {
	mean, stddev, err := standardization(channels, labels)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(cal.Seed))
	population := make([][]float64, cal.Population)
	for i := range population {
		row := make([]float64, len(labels))
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		population[i] = row
	}

	maxDepth := int(math.Ceil(math.Log2(float64(cal.SampleSize))))
	trees := make([]*node, cal.Trees)
	for i := range trees {
		sub := subsample(population, cal.SampleSize, rng)
		trees[i] = build(sub, 0, maxDepth, rng)
	}

	return &Forest{
		labels:    labels,
		mean:      mean,
		stddev:    stddev,
		threshold: cal.Threshold,
		trees:     trees,
		cNorm:     avgPathLength(cal.SampleSize),
	}, nil
}

// Labels returns the feature schema the forest was calibrated for.
func (f *Forest) Labels() []string { return f.labels }

// Threshold returns the calibrated anomaly flag threshold.
func (f *Forest) Threshold() float64 { return f.threshold }

// Score computes the anomaly score for one feature vector. It is a pure
// function of the vector and the frozen calibration: same input, same
// output, no hidden state.
//
// The score is 2^(-E(h)/c(ψ)) over the ensemble's average isolation path
// length — bounded in (0, 1], higher = more anomalous.
func (f *Forest) Score(vec *types.FeatureVector) (*types.AnomalyResult, error) {
	if len(vec.Values) != len(f.mean) {
		return nil, fmt.Errorf("anomaly: vector width %d does not match calibrated schema width %d",
			len(vec.Values), len(f.mean))
	}

	z := make([]float64, len(vec.Values))
	for i, v := range vec.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNonFinite
		}
		z[i] = (v - f.mean[i]) / f.stddev[i]
	}

	var total float64
	for _, t := range f.trees {
		total += pathLength(t, z, 0)
	}
	avg := total / float64(len(f.trees))
	score := math.Pow(2, -avg/f.cNorm)

	return &types.AnomalyResult{
		Score:     score,
		Anomalous: score >= f.threshold,
		Vector:    vec,
	}, nil
}

// standardization expands per-channel baselines into per-feature mean/stddev
// in schema order. RMS and peak features standardize against the channel
// baseline; delta features are centered at zero (a steady machine has no
// thermal drift); envelope features center at the crest factor of a clean
// sinusoid.
func standardization(channels []config.ChannelConfig, labels []string) ([]float64, []float64, error) {
	byID := make(map[string]config.ChannelConfig, len(channels))
	for _, ch := range channels {
		byID[ch.ID] = ch
	}

	mean := make([]float64, len(labels))
	stddev := make([]float64, len(labels))
	for i, label := range labels {
		id, feat, ok := splitLabel(label)
		if !ok {
			return nil, nil, fmt.Errorf("anomaly: malformed feature label %q", label)
		}
		ch, ok := byID[id]
		if !ok {
			return nil, nil, fmt.Errorf("anomaly: feature label %q references unregistered channel", label)
		}
		switch feat {
		case "rms", "peak":
			mean[i] = ch.Baseline.Mean
			stddev[i] = ch.Baseline.Stddev
		case "delta":
			mean[i] = 0
			stddev[i] = ch.Baseline.Stddev
		case "env":
			mean[i] = math.Sqrt2 // crest factor of a pure tone
			stddev[i] = 0.5
		default:
			return nil, nil, fmt.Errorf("anomaly: unknown feature %q in label %q", feat, label)
		}
		if stddev[i] <= 0 {
			stddev[i] = 1
		}
	}
	return mean, stddev, nil
}

func splitLabel(label string) (channel, feature string, ok bool) {
	for i := len(label) - 1; i >= 0; i-- {
		if label[i] == '.' {
			return label[:i], label[i+1:], i > 0 && i < len(label)-1
		}
	}
	return "", "", false
}

func subsample(population [][]float64, size int, rng *rand.Rand) [][]float64 {
	if size >= len(population) {
		return population
	}
	idx := rng.Perm(len(population))[:size]
	out := make([][]float64, size)
	for i, j := range idx {
		out[i] = population[j]
	}
	return out
}

// build grows one isolation tree by recursive random axis-aligned splits.
func build(points [][]float64, depth, maxDepth int, rng *rand.Rand) *node {
	if len(points) <= 1 || depth >= maxDepth {
		return &node{size: max(len(points), 1)}
	}

	dim := len(points[0])
	feat := rng.Intn(dim)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p[feat])
		hi = math.Max(hi, p[feat])
	}
	if lo == hi {
		return &node{size: len(points)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][]float64
	for _, p := range points {
		if p[feat] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}
	return &node{
		feature: feat,
		split:   split,
		left:    build(left, depth+1, maxDepth, rng),
		right:   build(right, depth+1, maxDepth, rng),
	}
}

func pathLength(n *node, z []float64, depth int) float64 {
	if n.left == nil {
		return float64(depth) + avgPathLength(n.size)
	}
	if z[n.feature] < n.split {
		return pathLength(n.left, z, depth+1)
	}
	return pathLength(n.right, z, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search over n points — the standard isolation-forest normalizer.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
