package domain

import (
	"errors"
	"fmt"
)

// OperationMode selects how the power manager computes the allocation
// target each cycle.
type OperationMode int

const (
	ModeOff OperationMode = iota
	ModeManual
	ModeSmartMatch
	ModeSmartDischargeOnly
	ModeSmartChargeOnly
)

func (m OperationMode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeManual:
		return "manual"
	case ModeSmartMatch:
		return "smart_matching"
	case ModeSmartDischargeOnly:
		return "smart_discharging"
	case ModeSmartChargeOnly:
		return "smart_charging"
	}
	return "unknown"
}

func OperationModes() []OperationMode {
	return []OperationMode{ModeOff, ModeManual, ModeSmartMatch, ModeSmartDischargeOnly, ModeSmartChargeOnly}
}

func ParseOperationMode(s string) (OperationMode, error) {
	for _, m := range OperationModes() {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeOff, errors.New("unknown operation mode: " + s)
}

// DeviceCommand is the sole output of one control cycle for one device.
// Charge and discharge are mutually exclusive non-negative magnitudes.
// A zero command is always sent explicitly, never implied by absence.
type DeviceCommand struct {
	DeviceId           string
	ChargePowerWatt    float64
	DischargePowerWatt float64
}

func ZeroCommand(deviceId string) DeviceCommand {
	return DeviceCommand{DeviceId: deviceId}
}

func ChargeCommand(deviceId string, powerWatt float64) DeviceCommand {
	return DeviceCommand{DeviceId: deviceId, ChargePowerWatt: powerWatt}
}

func DischargeCommand(deviceId string, powerWatt float64) DeviceCommand {
	return DeviceCommand{DeviceId: deviceId, DischargePowerWatt: powerWatt}
}

func (c DeviceCommand) IsZero() bool {
	return c.ChargePowerWatt == 0 && c.DischargePowerWatt == 0
}

// SignedPowerWatt folds the command back to the signed convention of the
// allocation target: positive discharge, negative charge.
func (c DeviceCommand) SignedPowerWatt() float64 {
	return c.DischargePowerWatt - c.ChargePowerWatt
}

// AllocationResult is what one allocation pass produced, including the
// clipped magnitudes per level for observability.
type AllocationResult struct {
	TargetWatt    float64
	DeliveredWatt float64
	Commands      map[string]DeviceCommand

	ClippedPhaseWatt   float64
	ClippedClusterWatt float64
	ClippedDeviceWatt  float64

	// devices present in the topology but excluded from distribution
	// (unknown phase and similar configuration errors)
	ExcludedDevices []string
}

func (r AllocationResult) ClippedTotalWatt() float64 {
	return r.ClippedPhaseWatt + r.ClippedClusterWatt + r.ClippedDeviceWatt
}

// PowerManagerRequest

type PowerManagerRequest interface {
	ActorRequest
	PowerManagerCommand() string
}

type PowerManagerRequestMixIn struct {
	ActorRequestMixIn
}

func (r PowerManagerRequestMixIn) PowerManagerCommand() string {
	return fmt.Sprintf("%T", r)
}

// PowerManager commands

type PowerManagerSetModeRequest struct {
	PowerManagerRequestMixIn
	Mode OperationMode
}

type PowerManagerSetManualPowerRequest struct {
	PowerManagerRequestMixIn
	PowerWatt float64
}

// PowerManagerSetEnabledRequest pauses or resumes the manager. While
// disabled every pass allocates a zero target, so devices keep getting
// explicit zero commands instead of silence.
type PowerManagerSetEnabledRequest struct {
	PowerManagerRequestMixIn
	Enabled bool
}

type PowerManagerRunPassRequest struct {
	PowerManagerRequestMixIn
}

type PowerManagerGetStateRequest struct {
	PowerManagerRequestMixIn
}

type PowerManagerGetStateResponse struct {
	ActorResponseMixIn
	Mode            OperationMode
	Enabled         bool
	ManualPowerWatt float64
	LastResult      *AllocationResult
}

// ensure interface compliance
var _ PowerManagerRequest = (*PowerManagerSetModeRequest)(nil)
