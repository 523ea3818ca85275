package service

import (
	"math"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
)

// Direction of a power flow seen from the fleet: discharge covers a
// grid deficit, charge absorbs a surplus.
type Direction int

const (
	DirectionIdle Direction = iota
	DirectionCharge
	DirectionDischarge
)

func (d Direction) String() string {
	switch d {
	case DirectionCharge:
		return "charge"
	case DirectionDischarge:
		return "discharge"
	}
	return "idle"
}

// DirectionOf maps the sign of a target to a direction. Positive means
// net draw to satisfy by discharging, negative means surplus to absorb
// by charging.
func DirectionOf(targetWatt float64) Direction {
	switch {
	case targetWatt > 0:
		return DirectionDischarge
	case targetWatt < 0:
		return DirectionCharge
	}
	return DirectionIdle
}

// ChargeCapacity is the relative charge headroom weight of a device:
// pack count scaled SoC distance to the configured charge ceiling.
// It is a proportionality weight, not a wattage.
func ChargeCapacity(d domain.DeviceSnapshot) float64 {
	return float64(d.PackCount) * math.Max(0, d.MaxStateOfCharge-d.StateOfCharge)
}

// DischargeCapacity is the relative discharge headroom weight of a
// device: pack count scaled SoC distance to the configured floor.
func DischargeCapacity(d domain.DeviceSnapshot) float64 {
	return float64(d.PackCount) * math.Max(0, d.StateOfCharge-d.MinStateOfCharge)
}

// CapacityWeight returns the headroom weight for the active direction.
// Stale devices weigh zero so they receive no allocation this cycle.
func CapacityWeight(d domain.DeviceSnapshot, dir Direction) float64 {
	if d.Stale {
		return 0
	}
	switch dir {
	case DirectionCharge:
		return ChargeCapacity(d)
	case DirectionDischarge:
		return DischargeCapacity(d)
	}
	return 0
}

// RatedPowerLimit returns the device rated limit for the direction.
func RatedPowerLimit(d domain.DeviceSnapshot, dir Direction) float64 {
	switch dir {
	case DirectionCharge:
		return d.MaxChargePowerWatt
	case DirectionDischarge:
		return d.MaxDischargePowerWatt
	}
	return 0
}
