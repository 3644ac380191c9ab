// Package engine coordinates the monitoring fleet. It owns the per-asset
// sample windows, runs a fixed-size worker pool over a bounded per-asset
// backlog of closed windows, and drives each window through feature
// aggregation, anomaly scoring, risk estimation and the damper control
// state machine. At most one evaluation is in flight per asset; the fleet
// as a whole evaluates concurrently.
package engine
