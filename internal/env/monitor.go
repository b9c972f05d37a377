// Package env tracks the device-like environment (network, charging, battery)
// that work constraints are evaluated against, and announces changes on the
// eventbus so the scheduler can re-evaluate blocked work.
package env

import (
	"sync"
	"time"

	"workmgr/internal/eventbus"
	"workmgr/internal/work/constraint"
	logx "workmgr/pkg/logx"
)

// Change is the payload of eventbus.TypeEnvChanged events.
type Change struct {
	Old constraint.Environment
	New constraint.Environment
}

// Monitor holds the current environment snapshot.
type Monitor struct {
	mu  sync.RWMutex
	cur constraint.Environment

	bus eventbus.Bus
	log logx.Logger
}

func NewMonitor(initial constraint.Environment, bus eventbus.Bus, log logx.Logger) *Monitor {
	return &Monitor{cur: initial, bus: bus, log: log}
}

// Current returns the latest snapshot.
func (m *Monitor) Current() constraint.Environment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Set replaces the snapshot. It reports whether anything changed; only real
// changes are published.
func (m *Monitor) Set(next constraint.Environment) bool {
	m.mu.Lock()
	old := m.cur
	if old == next {
		m.mu.Unlock()
		return false
	}
	m.cur = next
	m.mu.Unlock()

	m.log.Info("environment changed",
		logx.Bool("connected", next.Network.Connected),
		logx.Bool("metered", next.Network.Metered),
		logx.Bool("roaming", next.Network.Roaming),
		logx.Bool("charging", next.Charging),
		logx.Bool("battery_low", next.BatteryLow),
	)
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{
			Type: eventbus.TypeEnvChanged,
			Time: time.Now(),
			Data: Change{Old: old, New: next},
		})
	}
	return true
}

// Update applies fn to a copy of the current snapshot and stores the result.
func (m *Monitor) Update(fn func(*constraint.Environment)) bool {
	if fn == nil {
		return false
	}
	next := m.Current()
	fn(&next)
	return m.Set(next)
}
