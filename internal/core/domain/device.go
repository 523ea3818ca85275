package domain

import (
	"errors"
	"time"
)

// ClusterTier is the certified power class of a device cluster. Devices
// wired behind a shared fuse declare the tier of that circuit, and the
// whole cluster is capped to the tier budget no matter how many devices
// it holds. An own-circuit device is only bounded by its rated limits.
type ClusterTier string

const (
	ClusterTierOwnCircuit ClusterTier = "own_circuit"
	ClusterTier800        ClusterTier = "group_800"
	ClusterTier1200       ClusterTier = "group_1200"
	ClusterTier2400       ClusterTier = "group_2400"
	ClusterTier3600       ClusterTier = "group_3600"
)

func ClusterTiers() []ClusterTier {
	return []ClusterTier{ClusterTierOwnCircuit, ClusterTier800, ClusterTier1200, ClusterTier2400, ClusterTier3600}
}

func ParseClusterTier(s string) (ClusterTier, error) {
	if s == "" {
		return ClusterTierOwnCircuit, nil
	}
	for _, t := range ClusterTiers() {
		if string(t) == s {
			return t, nil
		}
	}
	return ClusterTierOwnCircuit, errors.New("unknown cluster tier: " + s)
}

func (t ClusterTier) MaxDischargePowerWatt() float64 {
	switch t {
	case ClusterTier800:
		return 800
	case ClusterTier1200:
		return 1200
	case ClusterTier2400:
		return 2400
	}
	return 3600
}

func (t ClusterTier) MaxChargePowerWatt() float64 {
	switch t {
	case ClusterTier800:
		return 1200
	case ClusterTier1200:
		return 1800
	}
	return 3600
}

// DeviceSnapshot is the fleet actor's merged view of one device: static
// topology from configuration plus the latest telemetry. SoC values are
// percentages; power values are watts.
type DeviceSnapshot struct {
	Id          string
	Name        string
	Model       string
	PhaseId     string
	ClusterId   string
	ClusterTier ClusterTier

	PackCount        uint
	StateOfCharge    float64
	MinStateOfCharge float64
	MaxStateOfCharge float64

	MaxChargePowerWatt    float64
	MaxDischargePowerWatt float64

	HomeOutputPowerWatt float64
	GridInputPowerWatt  float64

	LastSeen time.Time
	// telemetry older than the configured max age
	Stale bool
}

// EffectiveClusterId gives each device a cluster key even when it has no
// configured cluster: unclustered and own-circuit devices each form a
// singleton cluster of their own.
func (d DeviceSnapshot) EffectiveClusterId() string {
	if d.ClusterId == "" || d.ClusterTier == ClusterTierOwnCircuit {
		return "device:" + d.Id
	}
	return d.ClusterId
}

// PhaseConfig caps a mains phase. Both limits are magnitudes.
type PhaseConfig struct {
	Id                    string
	MaxChargePowerWatt    float64
	MaxDischargePowerWatt float64
}

// Topology is the allocation input: every known phase and every known
// device, already merged with telemetry.
type Topology struct {
	Phases  map[string]PhaseConfig
	Devices map[string]DeviceSnapshot
}

type FleetSnapshot struct {
	TakenAt  time.Time
	Topology Topology
}

func (s FleetSnapshot) ActiveDeviceCount() int {
	var n int
	for _, d := range s.Topology.Devices {
		if !d.Stale {
			n++
		}
	}
	return n
}

// MeterReading is one grid power sample. Positive means importing from
// the grid, negative means exporting.
type MeterReading struct {
	PowerWatt float64
	At        time.Time
}
