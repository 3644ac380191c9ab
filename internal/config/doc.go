// Package config parses and validates the engine's YAML configuration:
// asset and channel registration, threshold bands, model calibration
// parameters, control hysteresis and rate limits, and retention.
//
// Everything is validated once at load time. A schema problem here is a
// fatal configuration error — the engine never tries to recover from a bad
// channel set or a non-positive window at runtime. Watch provides hot
// reload; the engine quiesces in-flight evaluations before applying a
// reloaded config.
package config
