// Package types holds the domain model shared by the engine pipeline and its
// external surfaces (HTTP API, WebSocket stream, actuation).
//
// Everything here is plain data. RiskRecord and ControlCommand are immutable
// once created; the engine never mutates a record after it has been stored or
// a command after it has been handed to the actuation layer.
package types
