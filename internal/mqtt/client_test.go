package mqtt

import (
	"testing"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_entity/command"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "my_entity", "entity extract")
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/switch/my_entity/state"
	r := switchCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/number/manual_power/set"
	r := inputNumberCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "manual_power", "number_id extract")
}

func TestSelectCommandParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/select/operation_mode/set"
	r := selectCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "operation_mode", "select_id extract")
}

func TestSelectCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/select/operation_mode/state"
	r := selectCommandExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(len(matches), 0, "no matches")
}

func TestDeviceStateTopicParse(t *testing.T) {

	assert := assert.New(t)

	baseTopic := "loremTopic"
	topic := "loremTopic/device/hub-2000-a1/state"
	r := deviceStateExtractor(baseTopic)
	matches := r.FindAllStringSubmatch(topic, 1)

	assert.Equal(matches[0][1], "hub-2000-a1", "device_id extract")
}

func TestParseDeviceTelemetry(t *testing.T) {
	payload := []byte(`{"model":"Hub 2000","soc":64.5,"minSoc":10,"socSet":90,"packCount":2,"homeOutputPower":120}`)

	now := time.Now()
	report, err := ParseDeviceTelemetry("hub1", payload, now)
	require.NoError(t, err)

	assert.Equal(t, "hub1", report.DeviceId)
	assert.Equal(t, "Hub 2000", report.Model)
	assert.Equal(t, now, report.At)
	require.NotNil(t, report.StateOfCharge)
	assert.Equal(t, 64.5, *report.StateOfCharge)
	require.NotNil(t, report.PackCount)
	assert.Equal(t, uint(2), *report.PackCount)
	// absent fields stay nil so they never overwrite known values
	assert.Nil(t, report.MaxChargePowerWatt)
	assert.Nil(t, report.GridInputPowerWatt)
}

func TestParseDeviceTelemetryRejectsBadSoC(t *testing.T) {
	_, err := ParseDeviceTelemetry("hub1", []byte(`{"soc":140}`), time.Now())
	assert.Error(t, err)
}

func TestParseDeviceTelemetryRejectsGarbage(t *testing.T) {
	_, err := ParseDeviceTelemetry("hub1", []byte(`not json`), time.Now())
	assert.Error(t, err)
}

func TestEncodeDeviceCommandAlwaysExplicit(t *testing.T) {
	payload, err := EncodeDeviceCommand(domain.ZeroCommand("hub1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"chargePower":0,"dischargePower":0}`, string(payload))
}

func TestParseMeterReading(t *testing.T) {
	now := time.Now()
	reading, err := ParseMeterReading([]byte("  -423.5 "), now)
	require.NoError(t, err)
	assert.Equal(t, -423.5, reading.PowerWatt)
	assert.Equal(t, now, reading.At)

	_, err = ParseMeterReading([]byte("watts"), now)
	assert.Error(t, err)
}
