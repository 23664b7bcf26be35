package main

import (
	"fmt"
	"time"
)

// Event kinds emitted by the monitor, in the order they can appear
// within a single observation.
const (
	EventPowerLost     = "power_lost"
	EventPowerRestored = "power_restored"
	EventBatteryWarn   = "battery_warn"
	EventBatteryCrit   = "battery_crit"
	EventBatteryUpdate = "battery_update"
)

// periodicInterval is the on-battery heartbeat spacing. Independent of
// the warn/crit latches.
const periodicInterval = 300 * time.Second

// Event is one alert produced by the monitor: a kind, the snapshot that
// triggered it, and a human-readable message.
type Event struct {
	Kind    string
	Status  *UPSStatus
	Message string
}

// Thresholds holds the bounds for a single alert level. A nil bound
// never breaches.
type Thresholds struct {
	BatteryPct   *int     `json:"battery_pct,omitempty" yaml:"battery_pct,omitempty"`
	OnBatteryMin *float64 `json:"on_battery_min,omitempty" yaml:"on_battery_min,omitempty"`
	RuntimeMin   *float64 `json:"runtime_min,omitempty" yaml:"runtime_min,omitempty"`
}

func (t Thresholds) AnySet() bool {
	return t.BatteryPct != nil || t.OnBatteryMin != nil || t.RuntimeMin != nil
}

func (t Thresholds) String() string {
	if !t.AnySet() {
		return "disabled"
	}
	s := ""
	if t.BatteryPct != nil {
		s += fmt.Sprintf("pct<=%d", *t.BatteryPct)
	}
	if t.OnBatteryMin != nil {
		if s != "" {
			s += " / "
		}
		s += fmt.Sprintf("time>=%gmin", *t.OnBatteryMin)
	}
	if t.RuntimeMin != nil {
		if s != "" {
			s += " / "
		}
		s += fmt.Sprintf("runtime<=%gmin", *t.RuntimeMin)
	}
	return s
}

// Check reports the first breached bound, in fixed order: charge
// percent, time on battery, estimated runtime. The charge comparison is
// inclusive.
func (t Thresholds) Check(status *UPSStatus, onBattery time.Duration) (string, bool) {
	if t.BatteryPct != nil && status.ChargePct <= *t.BatteryPct {
		return fmt.Sprintf("charge %d%% <= %d%%", status.ChargePct, *t.BatteryPct), true
	}
	if t.OnBatteryMin != nil && onBattery.Seconds() >= *t.OnBatteryMin*60 {
		return fmt.Sprintf("on battery %.0f min >= %g min", onBattery.Minutes(), *t.OnBatteryMin), true
	}
	if t.RuntimeMin != nil && status.RuntimeMin() <= *t.RuntimeMin {
		return fmt.Sprintf("runtime %.0f min <= %g min", status.RuntimeMin(), *t.RuntimeMin), true
	}
	return "", false
}

// acState is the monitor's memory of the previous AC reading. Unknown at
// startup: the very first observation only records state, so comparing
// against it is never valid until a second snapshot arrives.
type acState int

const (
	acUnknown acState = iota
	acOnline
	acOnBattery
)

func acStateOf(acPresent bool) acState {
	if acPresent {
		return acOnline
	}
	return acOnBattery
}

// Monitor turns successive status snapshots into a deduplicated event
// stream. It is owned by the poll loop; nothing here is safe for
// concurrent use and nothing needs to be.
//
// Invariants: batterySince is set iff an on-battery episode is open, and
// the warn/crit latches reset together on every AC transition, never
// independently.
type Monitor struct {
	warn Thresholds
	crit Thresholds

	prevAC       acState
	warnFired    bool
	critFired    bool
	batterySince time.Time
	lastPeriodic time.Time
}

func NewMonitor(warn, crit Thresholds) *Monitor {
	return &Monitor{warn: warn, crit: crit}
}

// Observe consumes one snapshot and returns the events it produces, in
// fixed order: AC transition, warn breach, crit breach, periodic update.
// Between zero and three events per call.
func (m *Monitor) Observe(status *UPSStatus, now time.Time) []Event {
	if m.prevAC == acUnknown {
		m.prevAC = acStateOf(status.ACPresent)
		return nil
	}

	var events []Event

	cur := acStateOf(status.ACPresent)
	if cur != m.prevAC {
		if cur == acOnBattery {
			m.batterySince = now
			m.lastPeriodic = now
			m.warnFired = false
			m.critFired = false
			events = append(events, Event{
				Kind:   EventPowerLost,
				Status: status,
				Message: fmt.Sprintf("Power lost! On battery - %d%% charge, %.0f min runtime",
					status.ChargePct, status.RuntimeMin()),
			})
		} else {
			var duration time.Duration
			if !m.batterySince.IsZero() {
				duration = now.Sub(m.batterySince)
			}
			m.batterySince = time.Time{}
			m.warnFired = false
			m.critFired = false
			events = append(events, Event{
				Kind:   EventPowerRestored,
				Status: status,
				Message: fmt.Sprintf("Power restored after %.1f min - %d%% charge, %dV input",
					duration.Minutes(), status.ChargePct, status.InputVoltage),
			})
		}
	}

	// Threshold checks and the periodic heartbeat only run inside an open
	// on-battery episode. Warn and crit are evaluated independently; a
	// crit breach never implies warn and both may fire in one call.
	if status.OnBattery() && !m.batterySince.IsZero() {
		onBattery := now.Sub(m.batterySince)

		if !m.warnFired {
			if reason, ok := m.warn.Check(status, onBattery); ok {
				m.warnFired = true
				events = append(events, Event{
					Kind:   EventBatteryWarn,
					Status: status,
					Message: fmt.Sprintf("Battery warning (%s) - %d%%, %.0f min remaining",
						reason, status.ChargePct, status.RuntimeMin()),
				})
			}
		}

		if !m.critFired {
			if reason, ok := m.crit.Check(status, onBattery); ok {
				m.critFired = true
				events = append(events, Event{
					Kind:   EventBatteryCrit,
					Status: status,
					Message: fmt.Sprintf("BATTERY CRITICAL (%s) - %d%%, %.0f min remaining",
						reason, status.ChargePct, status.RuntimeMin()),
				})
			}
		}

		if now.Sub(m.lastPeriodic) >= periodicInterval {
			m.lastPeriodic = now
			events = append(events, Event{
				Kind:   EventBatteryUpdate,
				Status: status,
				Message: fmt.Sprintf("On battery for %.0f min - %d%%, %.0f min remaining",
					onBattery.Minutes(), status.ChargePct, status.RuntimeMin()),
			})
		}
	}

	m.prevAC = cur
	return events
}
