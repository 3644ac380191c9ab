package control

import (
	"time"

	"github.com/avcs-dna/sentinel/internal/config"
	"github.com/avcs-dna/sentinel/pkg/types"
)

// Machine is the per-asset control decision state machine. It owns the
// asset's lifecycle state (healthy → warning → critical → stopped), the
// orthogonal sensor-fault overlay, and the damper command bookkeeping.
//
// One Machine belongs to exactly one asset and is only driven from that
// asset's evaluation, so it needs no internal locking.
type Machine struct {
	cfg     config.ControlConfig
	assetID string
	dampers []string

	state       string
	sensorFault bool
	belowRun    int // consecutive windows below the current state's exit threshold

	hasCommanded  bool
	lastForce     float64
	lastCommandAt time.Time
}

// New builds a Machine starting in the healthy state.
func New(cfg config.ControlConfig, asset config.AssetConfig) *Machine {
	return &Machine{
		cfg:     cfg,
		assetID: asset.ID,
		dampers: asset.Dampers,
		state:   types.StateHealthy,
	}
}

// State returns the asset's current lifecycle state.
func (m *Machine) State() string { return m.state }

// Adopt carries lifecycle state across a config reload so a rebuilt machine
// keeps the stopped latch and fault overlay of the one it replaces.
func (m *Machine) Adopt(state string, sensorFault bool) {
	if rank(state) > 0 {
		m.state = state
	}
	m.sensorFault = sensorFault
}

// SensorFault reports whether the sensor-fault overlay is active.
func (m *Machine) SensorFault() bool { return m.sensorFault }

// DamperForce returns the last commanded force in newtons.
func (m *Machine) DamperForce() float64 {
	if !m.hasCommanded {
		return m.cfg.Forces.Standby
	}
	return m.lastForce
}

// Evaluate advances the state machine by one window and returns a damper
// command when the implied setting changed, nil otherwise. Upgrades take
// effect immediately; downgrades require the Risk Index to stay below the
// current state's exit threshold for the configured number of consecutive
// windows. The stopped state is latched: once entered it is only left via
// Reset.
func (m *Machine) Evaluate(rec *types.RiskRecord, fault bool, now time.Time) *types.ControlCommand {
	if m.state == types.StateStopped {
		return nil
	}

	if rec.Index >= m.cfg.StopCeiling {
		m.state = types.StateStopped
		m.sensorFault = fault
		return m.command(0, "risk ceiling", rec, now, true)
	}

	target := m.severityFor(rec.Index)
	if fault {
		// Sensor fault: upgrades still apply, downgrades are suspended, and
		// the effective state is never more permissive than warning.
		m.sensorFault = true
		if rank(target) > rank(m.state) {
			m.state = target
		}
		if rank(m.state) < rank(types.StateWarning) {
			m.state = types.StateWarning
		}
		m.belowRun = 0
	} else {
		m.sensorFault = false
		switch {
		case rank(target) > rank(m.state):
			m.state = target
			m.belowRun = 0
		case rank(target) < rank(m.state):
			if rec.Index < m.exitThreshold() {
				m.belowRun++
				if m.belowRun >= m.cfg.HysteresisWindows {
					m.state = stepDown(m.state)
					m.belowRun = 0
				}
			} else {
				m.belowRun = 0
			}
		default:
			m.belowRun = 0
		}
	}

	return m.command(m.forceFor(rec.Index), "state "+m.state, rec, now, false)
}

// EmergencyStop latches the stopped state and returns an immediate
// zero-force command, bypassing the rate limit. Returns nil when the asset
// is already stopped.
func (m *Machine) EmergencyStop(now time.Time) *types.ControlCommand {
	if m.state == types.StateStopped {
		return nil
	}
	m.state = types.StateStopped
	m.belowRun = 0
	return m.command(0, "emergency stop", nil, now, true)
}

// Reset releases the stopped latch back to healthy and arms the dampers at
// standby force. It reports false when the asset was not stopped.
func (m *Machine) Reset(now time.Time) (*types.ControlCommand, bool) {
	if m.state != types.StateStopped {
		return nil, false
	}
	m.state = types.StateHealthy
	m.sensorFault = false
	m.belowRun = 0
	return m.command(m.cfg.Forces.Standby, "reset", nil, now, true), true
}

// command emits a ControlCommand when the desired force differs from the
// last commanded one and the actuator rate limit allows it. A skipped
// command is retried naturally on the next window. bypass is reserved for
// safety transitions (stop, reset) that must not wait out the interval.
func (m *Machine) command(force float64, reason string, rec *types.RiskRecord, now time.Time, bypass bool) *types.ControlCommand {
	if m.hasCommanded && m.lastForce == force {
		return nil
	}
	if m.hasCommanded && !bypass && now.Sub(m.lastCommandAt) < m.cfg.CommandMinInterval {
		return nil
	}

	forces := make(map[string]float64, len(m.dampers))
	for _, d := range m.dampers {
		forces[d] = force
	}
	m.hasCommanded = true
	m.lastForce = force
	m.lastCommandAt = now

	return &types.ControlCommand{
		AssetID:  m.assetID,
		Forces:   forces,
		Reason:   reason,
		Risk:     rec,
		IssuedAt: now,
	}
}

func (m *Machine) severityFor(index float64) string {
	switch {
	case index >= m.cfg.CriticalEnter:
		return types.StateCritical
	case index >= m.cfg.WarningEnter:
		return types.StateWarning
	default:
		return types.StateHealthy
	}
}

// exitThreshold is the re-entry bound for leaving the current state downward.
func (m *Machine) exitThreshold() float64 {
	switch m.state {
	case types.StateCritical:
		return m.cfg.CriticalExit
	default:
		return m.cfg.WarningExit
	}
}

func (m *Machine) forceFor(index float64) float64 {
	switch m.state {
	case types.StateCritical:
		return m.cfg.Forces.Critical
	case types.StateWarning:
		return m.cfg.Forces.Warning
	default:
		if index < m.cfg.StandbyBelow {
			return m.cfg.Forces.Standby
		}
		return m.cfg.Forces.Normal
	}
}

func rank(state string) int {
	switch state {
	case types.StateWarning:
		return 1
	case types.StateCritical:
		return 2
	case types.StateStopped:
		return 3
	default:
		return 0
	}
}

func stepDown(state string) string {
	switch state {
	case types.StateCritical:
		return types.StateWarning
	default:
		return types.StateHealthy
	}
}
