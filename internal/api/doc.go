// Package api exposes the engine over HTTP: sample ingest (JSON batches or
// Prometheus text expositions), per-asset state and risk history queries, a
// fleet health rollup, and the emergency stop / reset operations. All
// responses are JSON.
package api
