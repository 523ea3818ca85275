package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	MQTT     MQTTConfig `mapstructure:"mqtt"`

	PowerManagerConfig PowerManagerConfig `mapstructure:"power_manager"`
	MeterConfig        MeterConfig        `mapstructure:"meter"`
	TopologyConfig     TopologyConfig     `mapstructure:"topology"`
	Port               uint               `mapstructure:"port"`
	HttpLog            bool               `mapstructure:"http_log"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type PowerManagerConfig struct {
	ControlIntervalMillis uint32 `mapstructure:"control_interval_millis"`
	// minimum spacing between meter-triggered passes, so a noisy meter
	// cannot flood the loop
	MinMeterTriggerMillis uint32 `mapstructure:"min_meter_trigger_millis"`
	TelemetryMaxAgeMillis uint32 `mapstructure:"telemetry_max_age_millis"`
	MeterMaxAgeMillis     uint32 `mapstructure:"meter_max_age_millis"`
}

const (
	METER_SOURCE_NONE   = "none"
	METER_SOURCE_MQTT   = "mqtt"
	METER_SOURCE_MODBUS = "modbus"
)

type MeterConfig struct {
	Source    string               `mapstructure:"source"` // none, mqtt, modbus
	Topic     string               `mapstructure:"topic"`  // for source=mqtt: topic with signed watts
	ModbusTcp MeterModbusTCPConfig `mapstructure:"modbus_tcp"`
}

type MeterModbusTCPConfig struct {
	Host               string
	Port               uint
	UnitId             uint   `mapstructure:"unit_id"`
	PowerRegister      uint16 `mapstructure:"power_register"`
	PowerRegisterWidth uint   `mapstructure:"power_register_width"` // 16 or 32 bit signed
	PollIntervalMillis uint32 `mapstructure:"poll_interval_millis"`
}

type TopologyConfig struct {
	DefaultPhase string               `mapstructure:"default_phase"`
	Phases       []PhaseConfig        `mapstructure:"phases"`
	Devices      []DeviceTopologyItem `mapstructure:"devices"`
}

type PhaseConfig struct {
	Id                string  `mapstructure:"id"`
	MaxChargePower    float64 `mapstructure:"max_charge_power"`
	MaxDischargePower float64 `mapstructure:"max_discharge_power"`
}

// DeviceTopologyItem pins a device to a phase and cluster. Devices that
// report telemetry without an entry here land on the default phase as
// their own single-device circuit.
type DeviceTopologyItem struct {
	Id          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Phase       string `mapstructure:"phase"`
	Cluster     string `mapstructure:"cluster"`
	ClusterTier string `mapstructure:"cluster_tier"`
}

func (c TopologyConfig) Phase(id string) *PhaseConfig {
	for i := range c.Phases {
		if c.Phases[i].Id == id {
			return &c.Phases[i]
		}
	}
	return nil
}

func (c TopologyConfig) Device(id string) *DeviceTopologyItem {
	for i := range c.Devices {
		if c.Devices[i].Id == id {
			return &c.Devices[i]
		}
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
