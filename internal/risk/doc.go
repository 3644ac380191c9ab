// Package risk turns anomaly results and threshold breaches into a bounded
// Risk Index (0–100) and extrapolates the index trend into a remaining
// useful life estimate with a confidence band.
package risk
