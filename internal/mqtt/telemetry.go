package mqtt

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
)

// DeviceTelemetryMessage is the JSON payload devices publish on their
// state topic. Every field except model is optional: devices report
// what they know and partial updates are merged by the fleet actor.
type DeviceTelemetryMessage struct {
	Model                 string   `json:"model,omitempty"`
	StateOfCharge         *float64 `json:"soc,omitempty"`
	MinStateOfCharge      *float64 `json:"minSoc,omitempty"`
	MaxStateOfCharge      *float64 `json:"socSet,omitempty"`
	PackCount             *uint    `json:"packCount,omitempty"`
	MaxChargePowerWatt    *float64 `json:"maxChargePower,omitempty"`
	MaxDischargePowerWatt *float64 `json:"maxDischargePower,omitempty"`
	HomeOutputPowerWatt   *float64 `json:"homeOutputPower,omitempty"`
	GridInputPowerWatt    *float64 `json:"gridInputPower,omitempty"`
}

// DeviceCommandMessage is the JSON payload sent to a device command
// topic. Both fields are always present so a zero command is explicit.
type DeviceCommandMessage struct {
	ChargePowerWatt    float64 `json:"chargePower"`
	DischargePowerWatt float64 `json:"dischargePower"`
}

func ParseDeviceTelemetry(deviceId string, payload []byte, at time.Time) (*domain.DeviceTelemetryReport, error) {
	var msg DeviceTelemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	if msg.StateOfCharge != nil && (*msg.StateOfCharge < 0 || *msg.StateOfCharge > 100) {
		return nil, errors.New("state of charge out of range")
	}
	return &domain.DeviceTelemetryReport{
		DeviceId:              deviceId,
		Model:                 msg.Model,
		At:                    at,
		StateOfCharge:         msg.StateOfCharge,
		MinStateOfCharge:      msg.MinStateOfCharge,
		MaxStateOfCharge:      msg.MaxStateOfCharge,
		PackCount:             msg.PackCount,
		MaxChargePowerWatt:    msg.MaxChargePowerWatt,
		MaxDischargePowerWatt: msg.MaxDischargePowerWatt,
		HomeOutputPowerWatt:   msg.HomeOutputPowerWatt,
		GridInputPowerWatt:    msg.GridInputPowerWatt,
	}, nil
}

func EncodeDeviceCommand(cmd domain.DeviceCommand) ([]byte, error) {
	return json.Marshal(DeviceCommandMessage{
		ChargePowerWatt:    cmd.ChargePowerWatt,
		DischargePowerWatt: cmd.DischargePowerWatt,
	})
}

// ParseMeterReading parses a grid power sample published on the meter
// topic: a bare number in watts, positive importing, negative exporting.
func ParseMeterReading(payload []byte, at time.Time) (*domain.MeterReading, error) {
	var value float64
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, errors.New("meter payload is not a number")
	}
	return &domain.MeterReading{PowerWatt: value, At: at}, nil
}
