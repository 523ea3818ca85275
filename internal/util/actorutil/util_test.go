package actorutil

import (
	"testing"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/events"
	"github.com/berfenger/zenfleet2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {

	cmd, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: events.SELECT_ID_OPERATION_MODE, Command: "select", Payload: "manual",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PowerManagerSetModeRequest{Mode: domain.ModeManual}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: events.INPUT_NUMBER_ID_MANUAL_POWER, Command: "number", Payload: "-250",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PowerManagerSetManualPowerRequest{PowerWatt: -250}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: events.SWITCH_ID_MANAGER_ENABLED, Command: "switch", Payload: mqtt.MQTT_PAYLOAD_ON,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PowerManagerSetEnabledRequest{Enabled: true}, cmd)

	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: events.SWITCH_ID_MANAGER_ENABLED, Command: "switch", Payload: mqtt.MQTT_PAYLOAD_OFF,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.PowerManagerSetEnabledRequest{Enabled: false}, cmd)

	// unknown entities map to nil, not an error
	cmd, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: "mystery", Command: "switch", Payload: mqtt.MQTT_PAYLOAD_ON,
	})
	require.NoError(t, err)
	assert.Nil(t, cmd)
}
