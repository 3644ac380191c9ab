// Package feature aggregates raw per-tick sensor samples into the
// fixed-width feature vector the anomaly scorer consumes: per-channel RMS
// and peak, a rate-of-change delta for thermal channels, and a
// peak-to-average envelope ratio for acoustics.
//
// Channels that go quiet are filled from their last known-good value and
// flagged stale; a channel quiet beyond the configured window limit is
// reported as a faulted channel for the control layer to degrade on.
package feature
