package events

import (
	. "github.com/berfenger/zenfleet2mqtt/internal/core/domain"
)

func FleetSnapshotToUpdateEvents(s FleetSnapshot) []any {
	var events []any

	// Active devices
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_ACTIVE_DEVICES,
		},
		Value:    float64(s.ActiveDeviceCount()),
		Decimals: 0,
	})

	for _, d := range s.Topology.Devices {
		events = append(events, DeviceTelemetryToUpdateEvents(d)...)
	}

	return events
}

func DeviceTelemetryToUpdateEvents(d DeviceSnapshot) []any {
	var events []any

	// SoC
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_SOC),
		},
		Value:    d.StateOfCharge,
		Decimals: 1,
	})
	// Home Output Power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_HOME_OUTPUT_POWER),
		},
		Value:    d.HomeOutputPowerWatt,
		Decimals: 2,
	})
	// Grid Input Power
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_GRID_INPUT_POWER),
		},
		Value:    d.GridInputPowerWatt,
		Decimals: 2,
	})
	// Availability
	events = append(events, BinarySensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: DeviceSensorId(d.Id, DEVICE_SENSOR_AVAILABLE),
		},
		Value: !d.Stale,
	})

	return events
}

func AllocationResultToUpdateEvents(r AllocationResult) []any {
	var events []any

	// Power Target
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_POWER_TARGET,
		},
		Value:    r.TargetWatt,
		Decimals: 2,
	})
	// Power Delivered
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_POWER_DELIVERED,
		},
		Value:    r.DeliveredWatt,
		Decimals: 2,
	})
	// Power Clipped
	events = append(events, FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SENSOR_ID_POWER_CLIPPED,
		},
		Value:    r.ClippedTotalWatt(),
		Decimals: 2,
	})

	for _, cmd := range r.Commands {
		// Charge setpoint
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: DeviceSensorId(cmd.DeviceId, DEVICE_SENSOR_CHARGE_SETPOINT),
			},
			Value:    cmd.ChargePowerWatt,
			Decimals: 2,
		})
		// Discharge setpoint
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: DeviceSensorId(cmd.DeviceId, DEVICE_SENSOR_DISCHARGE_SETPOINT),
			},
			Value:    cmd.DischargePowerWatt,
			Decimals: 2,
		})
	}

	return events
}

func OperationModeUpdateEvent(mode OperationMode) any {
	return SelectSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SELECT_ID_OPERATION_MODE,
		},
		Value: mode.String(),
	}
}

func ManagerEnabledUpdateEvent(enabled bool) any {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: SWITCH_ID_MANAGER_ENABLED,
		},
		Value: enabled,
	}
}

func ManualPowerUpdateEvent(value float64) any {
	return InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: INPUT_NUMBER_ID_MANUAL_POWER,
		},
		Value: value,
	}
}
