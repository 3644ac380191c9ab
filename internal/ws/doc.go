// Package ws implements the WebSocket hub that pushes live fleet snapshots
// to connected dashboards.
//
// Clients connect to /ws and receive a JSON Message every broadcast
// interval, plus one immediately on connect. The hub applies per-client
// send buffering: a client that cannot keep up is disconnected rather than
// allowed to stall the broadcast loop.
package ws
