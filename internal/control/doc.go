// Package control maps Risk Index readings onto the asset lifecycle state
// machine and the MR damper setpoints it implies. Downgrades are hysteretic
// to keep the dampers from chattering at a threshold boundary, commands are
// rate-limited to the actuator's physical response time, and the stopped
// state latches until an explicit external reset.
package control
