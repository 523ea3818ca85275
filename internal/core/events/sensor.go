package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	SENSOR_ID_POWER_TARGET       = "power_target"
	SENSOR_ID_POWER_DELIVERED    = "power_delivered"
	SENSOR_ID_POWER_CLIPPED      = "power_clipped"
	SENSOR_ID_ACTIVE_DEVICES     = "active_devices"
	SELECT_ID_OPERATION_MODE     = "operation_mode"
	INPUT_NUMBER_ID_MANUAL_POWER = "manual_power"
	SWITCH_ID_MANAGER_ENABLED    = "manager_enabled"

	DEVICE_SENSOR_SOC                = "soc"
	DEVICE_SENSOR_HOME_OUTPUT_POWER  = "home_output_power"
	DEVICE_SENSOR_GRID_INPUT_POWER   = "grid_input_power"
	DEVICE_SENSOR_CHARGE_SETPOINT    = "charge_setpoint"
	DEVICE_SENSOR_DISCHARGE_SETPOINT = "discharge_setpoint"
	DEVICE_SENSOR_AVAILABLE          = "available"

	STATE_CLASS_DURATION         = "duration"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_BATTERY         = "battery"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	ENTITY_CLASS_CONFIG          = "config"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
	INPUT_NUMBER_MODE_BOX        = "box"
	INPUT_NUMBER_MODE_SLIDER     = "slider"
)

func BridgeDevice(baseTopic string) domain.Device {
	return domain.Device{
		Id:           fmt.Sprintf("zenfleet_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Zenfleet",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Zenfleet %s", md5HashShort(baseTopic)),
	}
}

func BatteryDevice(bridgeDevice domain.Device, snap domain.DeviceSnapshot) domain.Device {
	name := snap.Name
	if name == "" {
		name = snap.Id
	}
	model := snap.Model
	if model == "" {
		model = "Battery"
	}
	return domain.Device{
		Id:           fmt.Sprintf("zfl_device_%s", md5HashShort(snap.Id)),
		Manufacturer: "Zendure",
		Model:        model,
		Name:         name,
		ViaDevice:    bridgeDevice.Id,
	}
}

func IdDevice(device domain.Device) domain.Device {
	return domain.Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// DeviceSensorId composes the fleet-wide sensor id for a per-device
// metric. Telemetry and command events use this same id space.
func DeviceSensorId(deviceId, sensor string) string {
	return fmt.Sprintf("%s_%s", deviceId, sensor)
}

func ManagerSensors(bridgeDevice domain.Device) []domain.GenericSensor {

	var sensors []domain.GenericSensor

	// Power target
	sensors = append(sensors, domain.GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_POWER_TARGET,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power target",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_POWER_TARGET),
	})

	// Power delivered
	sensors = append(sensors, domain.GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_POWER_DELIVERED,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power delivered",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_POWER_DELIVERED),
	})

	// Power clipped by phase, cluster or device limits
	sensors = append(sensors, domain.GenericSensor{
		Device:            bridgeDevice,
		Id:                SENSOR_ID_POWER_CLIPPED,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Power clipped",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		EntityCategory:    ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:          uniqueId(bridgeDevice.Id, SENSOR_ID_POWER_CLIPPED),
	})

	// Active devices
	sensors = append(sensors, domain.GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_ACTIVE_DEVICES,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Active devices",
		StateClass:     STATE_CLASS_MEASUREMENT,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		Icon:           "mdi:counter",
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_ACTIVE_DEVICES),
	})

	return sensors
}

func BridgeSensors(bridgeDevice domain.Device) []domain.GenericSensor {

	var sensors []domain.GenericSensor

	// Bridge connection state
	sensors = append(sensors, domain.GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func ManagerSelects(bridgeDevice domain.Device) []domain.GenericSelect {

	var selects []domain.GenericSelect

	var options []string
	for _, m := range domain.OperationModes() {
		options = append(options, m.String())
	}

	// Operation mode
	selects = append(selects, domain.GenericSelect{
		Device:       bridgeDevice,
		Id:           SELECT_ID_OPERATION_MODE,
		Name:         "Operation mode",
		UniqueId:     uniqueId(bridgeDevice.Id, SELECT_ID_OPERATION_MODE),
		Icon:         "mdi:tune",
		Options:      options,
		InitialValue: domain.ModeOff.String(),
	})

	return selects
}

func ManagerSwitches(bridgeDevice domain.Device) []domain.GenericSwitch {

	var switches []domain.GenericSwitch

	// Manager enabled. While off, every cycle allocates zero.
	switches = append(switches, domain.GenericSwitch{
		Device:   bridgeDevice,
		Id:       SWITCH_ID_MANAGER_ENABLED,
		Name:     "Manager enabled",
		UniqueId: uniqueId(bridgeDevice.Id, SWITCH_ID_MANAGER_ENABLED),
		Icon:     "mdi:power",
	})

	return switches
}

func ManagerInputNumbers(bridgeDevice domain.Device) []domain.GenericInputNumber {

	var inputNumbers []domain.GenericInputNumber

	// Manual power setpoint. Positive discharges, negative charges.
	inputNumbers = append(inputNumbers, domain.GenericInputNumber{
		Device:       bridgeDevice,
		Id:           INPUT_NUMBER_ID_MANUAL_POWER,
		Name:         "Manual power",
		UniqueId:     uniqueId(bridgeDevice.Id, INPUT_NUMBER_ID_MANUAL_POWER),
		Icon:         "mdi:flash",
		Max:          10000,
		Min:          -10000,
		Step:         50,
		Mode:         INPUT_NUMBER_MODE_BOX,
		InitialValue: 0,
	})

	return inputNumbers
}

func BatteryDeviceSensors(batteryDevice domain.Device, snap domain.DeviceSnapshot) []domain.GenericSensor {

	var sensors []domain.GenericSensor

	// SoC
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                DeviceSensorId(snap.Id, DEVICE_SENSOR_SOC),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		UniqueId:          uniqueId(batteryDevice.Id, DEVICE_SENSOR_SOC),
	})

	// Home output power
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                DeviceSensorId(snap.Id, DEVICE_SENSOR_HOME_OUTPUT_POWER),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Home output power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(batteryDevice.Id, DEVICE_SENSOR_HOME_OUTPUT_POWER),
	})

	// Grid input power
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                DeviceSensorId(snap.Id, DEVICE_SENSOR_GRID_INPUT_POWER),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Grid input power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(batteryDevice.Id, DEVICE_SENSOR_GRID_INPUT_POWER),
	})

	// Charge setpoint
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                DeviceSensorId(snap.Id, DEVICE_SENSOR_CHARGE_SETPOINT),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Charge setpoint",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(batteryDevice.Id, DEVICE_SENSOR_CHARGE_SETPOINT),
	})

	// Discharge setpoint
	sensors = append(sensors, domain.GenericSensor{
		Device:            batteryDevice,
		Id:                DeviceSensorId(snap.Id, DEVICE_SENSOR_DISCHARGE_SETPOINT),
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Discharge setpoint",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(batteryDevice.Id, DEVICE_SENSOR_DISCHARGE_SETPOINT),
	})

	// Availability
	sensors = append(sensors, domain.GenericSensor{
		Device:         batteryDevice,
		Id:             DeviceSensorId(snap.Id, DEVICE_SENSOR_AVAILABLE),
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Available",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(batteryDevice.Id, DEVICE_SENSOR_AVAILABLE),
	})

	return sensors
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
