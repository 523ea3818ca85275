package util

import (
	"github.com/berfenger/zenfleet2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		MQTT: config.MQTTConfig{
			Host:      "localhost",
			Port:      1883,
			BaseTopic: "zenfleet",
		},
		PowerManagerConfig: config.PowerManagerConfig{
			ControlIntervalMillis: 10000,
			MinMeterTriggerMillis: 1000,
			TelemetryMaxAgeMillis: 60000,
			MeterMaxAgeMillis:     15000,
		},
		MeterConfig: config.MeterConfig{
			Source: config.METER_SOURCE_NONE,
		},
		TopologyConfig: config.TopologyConfig{
			DefaultPhase: "l1",
			Phases: []config.PhaseConfig{
				{Id: "l1", MaxChargePower: 3600, MaxDischargePower: 3600},
			},
			Devices: []config.DeviceTopologyItem{
				{Id: "hub1", Name: "Hub 1", Phase: "l1", Cluster: "c1", ClusterTier: "group_800"},
				{Id: "hub2", Name: "Hub 2", Phase: "l1", Cluster: "c1", ClusterTier: "group_800"},
			},
		},
		Port: 8080,
	}
}
