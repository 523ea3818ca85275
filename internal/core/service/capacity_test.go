package service

import (
	"testing"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func capDev(packs uint, soc, minSoc, socSet float64) domain.DeviceSnapshot {
	return domain.DeviceSnapshot{
		Id:               "dev",
		PackCount:        packs,
		StateOfCharge:    soc,
		MinStateOfCharge: minSoc,
		MaxStateOfCharge: socSet,
	}
}

func TestCapacityNonNegative(t *testing.T) {
	cases := []domain.DeviceSnapshot{
		capDev(1, 50, 10, 90),
		capDev(2, 0, 10, 90),
		capDev(2, 100, 10, 90),
		capDev(0, 50, 10, 90),
		capDev(3, 5, 10, 90), // below floor
		capDev(3, 95, 10, 90), // above ceiling
	}
	for _, d := range cases {
		assert.GreaterOrEqual(t, ChargeCapacity(d), 0.0)
		assert.GreaterOrEqual(t, DischargeCapacity(d), 0.0)
	}
}

func TestCapacityZeroAtBounds(t *testing.T) {
	atCeiling := capDev(2, 90, 10, 90)
	assert.Equal(t, 0.0, ChargeCapacity(atCeiling))
	assert.Equal(t, 160.0, DischargeCapacity(atCeiling))

	atFloor := capDev(2, 10, 10, 90)
	assert.Equal(t, 0.0, DischargeCapacity(atFloor))
	assert.Equal(t, 160.0, ChargeCapacity(atFloor))
}

func TestCapacityScalesWithPackCount(t *testing.T) {
	one := capDev(1, 50, 10, 90)
	three := capDev(3, 50, 10, 90)
	assert.Equal(t, 3*ChargeCapacity(one), ChargeCapacity(three))
	assert.Equal(t, 3*DischargeCapacity(one), DischargeCapacity(three))
}

func TestCapacityZeroPackCount(t *testing.T) {
	d := capDev(0, 50, 10, 90)
	assert.Equal(t, 0.0, ChargeCapacity(d))
	assert.Equal(t, 0.0, DischargeCapacity(d))
}

func TestStaleDeviceHasZeroWeight(t *testing.T) {
	d := capDev(2, 50, 10, 90)
	d.Stale = true
	assert.Equal(t, 0.0, CapacityWeight(d, DirectionCharge))
	assert.Equal(t, 0.0, CapacityWeight(d, DirectionDischarge))
}

func TestDirectionOf(t *testing.T) {
	assert.Equal(t, DirectionDischarge, DirectionOf(400))
	assert.Equal(t, DirectionCharge, DirectionOf(-400))
	assert.Equal(t, DirectionIdle, DirectionOf(0))
}
