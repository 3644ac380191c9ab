// Package anomaly scores feature vectors with an isolation forest: an
// ensemble of randomized partition trees where short isolation paths mean
// outliers. Point anomalies in mixed vibration/thermal/acoustic features
// rarely sit behind a single linear boundary, and partition-based isolation
// needs no density estimate once the features are standardized.
//
// Calibration (per-feature standardization plus the seeded tree ensemble)
// is frozen at build time; the engine swaps whole Forest values on reload
// rather than mutating a live one.
package anomaly
