// Package constraint decides whether a request's constraints hold in a given
// environment snapshot. Evaluation is pure: no I/O, no clocks, no state.
package constraint

import "workmgr/internal/work"

// Network describes the current connectivity.
type Network struct {
	Connected bool `json:"connected" yaml:"connected"`
	Metered   bool `json:"metered" yaml:"metered"`
	Roaming   bool `json:"roaming" yaml:"roaming"`
}

// Environment is a point-in-time snapshot of the conditions constraints refer to.
type Environment struct {
	Network    Network `json:"network" yaml:"network"`
	Charging   bool    `json:"charging" yaml:"charging"`
	BatteryLow bool    `json:"battery_low" yaml:"battery_low"`
}

// Evaluate reports whether every declared constraint in c is satisfied by env.
func Evaluate(c work.Constraints, env Environment) bool {
	if c.RequiresCharging && !env.Charging {
		return false
	}
	if c.RequiresBatteryNotLow && env.BatteryLow {
		return false
	}
	return networkSatisfied(c.RequiredNetwork, env.Network)
}

// Unsatisfied lists the constraints of c that env does not satisfy.
// It returns nil when Evaluate would return true.
func Unsatisfied(c work.Constraints, env Environment) []string {
	var out []string
	if c.RequiresCharging && !env.Charging {
		out = append(out, "charging")
	}
	if c.RequiresBatteryNotLow && env.BatteryLow {
		out = append(out, "battery_not_low")
	}
	if !networkSatisfied(c.RequiredNetwork, env.Network) {
		out = append(out, "network:"+c.RequiredNetwork.String())
	}
	return out
}

func networkSatisfied(want work.NetworkType, n Network) bool {
	switch want {
	case work.NetworkNotRequired:
		return true
	case work.NetworkConnected:
		return n.Connected
	case work.NetworkUnmetered:
		return n.Connected && !n.Metered
	case work.NetworkNotRoaming:
		return n.Connected && !n.Roaming
	case work.NetworkMetered:
		return n.Connected && n.Metered
	default:
		// Requests are validated on enqueue; an unknown value never matches.
		return false
	}
}
