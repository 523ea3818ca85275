package domain

import "time"

const (
	ACTOR_ID_MASTER        = "master"
	ACTOR_ID_MQTT          = "mqtt"
	ACTOR_ID_FLEET         = "fleet"
	ACTOR_ID_POWER_MANAGER = "power_manager"
	ACTOR_ID_METER         = "meter"
	ACTOR_ID_HA_DISCOVERY  = "hadiscovery"
)

// DeviceTelemetryReport is one parsed device state message, forwarded by
// the MQTT actor to the fleet actor. Optional fields are pointers so a
// partial report never overwrites known values with zeros.
type DeviceTelemetryReport struct {
	DeviceId string
	Model    string
	At       time.Time

	StateOfCharge         *float64
	MinStateOfCharge      *float64
	MaxStateOfCharge      *float64
	PackCount             *uint
	MaxChargePowerWatt    *float64
	MaxDischargePowerWatt *float64
	HomeOutputPowerWatt   *float64
	GridInputPowerWatt    *float64
}

type GetFleetSnapshotRequest struct {
	ActorRequestMixIn
}

type GetFleetSnapshotResponse struct {
	ActorResponseMixIn
	Snapshot FleetSnapshot
}

// DeviceDiscovered is raised by the fleet actor the first time a device
// reports valid telemetry, so HA discovery can be published for it.
type DeviceDiscovered struct {
	Device DeviceSnapshot
}

type GetMeterReadingRequest struct {
	ActorRequestMixIn
}

type GetMeterReadingResponse struct {
	ActorResponseMixIn
	Reading MeterReading
}

type SendDeviceCommandRequest struct {
	ActorRequestMixIn
	Command DeviceCommand
}

type SendDeviceCommandResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Switches     []GenericSwitch
	InputNumbers []GenericInputNumber
	Selects      []GenericSelect
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
