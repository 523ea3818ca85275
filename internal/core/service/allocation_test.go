package service

import (
	"testing"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDevice(id, phase, cluster string, tier domain.ClusterTier, packs uint, soc float64) domain.DeviceSnapshot {
	return domain.DeviceSnapshot{
		Id:                    id,
		PhaseId:               phase,
		ClusterId:             cluster,
		ClusterTier:           tier,
		PackCount:             packs,
		StateOfCharge:         soc,
		MinStateOfCharge:      10,
		MaxStateOfCharge:      90,
		MaxChargePowerWatt:    1200,
		MaxDischargePowerWatt: 800,
	}
}

func testTopology(devices ...domain.DeviceSnapshot) domain.Topology {
	topo := domain.Topology{
		Phases: map[string]domain.PhaseConfig{
			"l1": {Id: "l1", MaxChargePowerWatt: 3600, MaxDischargePowerWatt: 3600},
		},
		Devices: make(map[string]domain.DeviceSnapshot),
	}
	for _, d := range devices {
		topo.Devices[d.Id] = d
	}
	return topo
}

func testEngine() *AllocationEngine {
	return NewAllocationEngine(zap.NewNop())
}

func TestZeroTargetEmitsExplicitZeroCommands(t *testing.T) {
	topo := testTopology(
		testDevice("a", "l1", "garage", domain.ClusterTier2400, 2, 50),
		testDevice("b", "l1", "garage", domain.ClusterTier2400, 1, 50),
	)

	result := testEngine().Allocate(0, topo)

	require.Len(t, result.Commands, 2)
	for id, cmd := range result.Commands {
		assert.Equal(t, id, cmd.DeviceId)
		assert.True(t, cmd.IsZero(), "device %s should get an explicit zero command", id)
	}
	assert.Equal(t, 0.0, result.DeliveredWatt)
}

func TestChargeSplitProportionalToHeadroom(t *testing.T) {
	// A: (90-80)*2 packs = 20 weight, B: (90-80)*1 pack = 10 weight
	a := testDevice("a", "l1", "garage", domain.ClusterTier2400, 2, 80)
	b := testDevice("b", "l1", "garage", domain.ClusterTier2400, 1, 80)
	topo := testTopology(a, b)

	result := testEngine().Allocate(-1000, topo)

	require.Len(t, result.Commands, 2)
	assert.InDelta(t, 666.67, result.Commands["a"].ChargePowerWatt, 0.01)
	assert.InDelta(t, 333.33, result.Commands["b"].ChargePowerWatt, 0.01)
	assert.Equal(t, 0.0, result.Commands["a"].DischargePowerWatt)
	assert.Equal(t, 0.0, result.Commands["b"].DischargePowerWatt)
	assert.InDelta(t, 1000, result.DeliveredWatt, 0.01)
	assert.InDelta(t, 0, result.ClippedTotalWatt(), 0.01)
}

func TestUnclusteredDeviceClampedToRatedLimit(t *testing.T) {
	d := testDevice("solo", "l1", "", "", 2, 50)
	topo := testTopology(d)

	result := testEngine().Allocate(1500, topo)

	require.Len(t, result.Commands, 1)
	assert.InDelta(t, 800, result.Commands["solo"].DischargePowerWatt, 0.01)
	assert.InDelta(t, 800, result.DeliveredWatt, 0.01)
	// the 700 W remainder is dropped for this cycle, not redistributed
	assert.InDelta(t, 700, result.ClippedTotalWatt(), 0.01)
}

func TestZeroWeightDeviceGetsZeroShare(t *testing.T) {
	full := testDevice("full", "l1", "garage", domain.ClusterTier2400, 2, 90) // at socSet
	empty := testDevice("empty", "l1", "garage", domain.ClusterTier2400, 2, 50)
	topo := testTopology(full, empty)

	result := testEngine().Allocate(-600, topo)

	assert.Equal(t, 0.0, result.Commands["full"].ChargePowerWatt)
	assert.InDelta(t, 600, result.Commands["empty"].ChargePowerWatt, 0.01)
}

func TestZeroPackCountDeviceGetsZeroShare(t *testing.T) {
	noPacks := testDevice("nopacks", "l1", "garage", domain.ClusterTier2400, 0, 50)
	ok := testDevice("ok", "l1", "garage", domain.ClusterTier2400, 2, 50)
	topo := testTopology(noPacks, ok)

	result := testEngine().Allocate(700, topo)

	assert.Equal(t, 0.0, result.Commands["nopacks"].DischargePowerWatt)
	assert.InDelta(t, 700, result.Commands["ok"].DischargePowerWatt, 0.01)
}

func TestStaleDeviceExcludedFromDistribution(t *testing.T) {
	stale := testDevice("stale", "l1", "garage", domain.ClusterTier2400, 2, 50)
	stale.Stale = true
	fresh := testDevice("fresh", "l1", "garage", domain.ClusterTier2400, 2, 50)
	topo := testTopology(stale, fresh)

	result := testEngine().Allocate(500, topo)

	assert.True(t, result.Commands["stale"].IsZero())
	assert.InDelta(t, 500, result.Commands["fresh"].DischargePowerWatt, 0.01)
}

func TestClusterCapNeverExceeded(t *testing.T) {
	topo := testTopology(
		testDevice("a", "l1", "attic", domain.ClusterTier800, 2, 50),
		testDevice("b", "l1", "attic", domain.ClusterTier800, 2, 50),
		testDevice("c", "l1", "attic", domain.ClusterTier800, 2, 50),
	)

	result := testEngine().Allocate(3000, topo)

	var sum float64
	for _, cmd := range result.Commands {
		assert.LessOrEqual(t, cmd.DischargePowerWatt, 800.0)
		sum += cmd.DischargePowerWatt
	}
	assert.LessOrEqual(t, sum, 800.0+0.01)
}

func TestClusterTierMismatchUsesSmallerCap(t *testing.T) {
	// misconfigured cluster: members declare different tiers
	topo := testTopology(
		testDevice("a", "l1", "attic", domain.ClusterTier800, 2, 50),
		testDevice("b", "l1", "attic", domain.ClusterTier1200, 2, 50),
	)

	result := testEngine().Allocate(3000, topo)

	var sum float64
	for _, cmd := range result.Commands {
		sum += cmd.DischargePowerWatt
	}
	assert.LessOrEqual(t, sum, 800.0+0.01)
	assert.InDelta(t, 800, result.DeliveredWatt, 0.01)
}

func TestPhaseCapNeverExceeded(t *testing.T) {
	topo := testTopology(
		testDevice("a", "l1", "attic", domain.ClusterTier2400, 2, 50),
		testDevice("b", "l1", "cellar", domain.ClusterTier2400, 2, 50),
	)
	topo.Phases["l1"] = domain.PhaseConfig{Id: "l1", MaxChargePowerWatt: 1000, MaxDischargePowerWatt: 1000}

	result := testEngine().Allocate(5000, topo)

	var sum float64
	for _, cmd := range result.Commands {
		sum += cmd.DischargePowerWatt
	}
	assert.LessOrEqual(t, sum, 1000.0+0.01)
	assert.Greater(t, result.ClippedPhaseWatt, 0.0)
}

func TestDeviceRatedLimitNeverExceeded(t *testing.T) {
	topo := testTopology(
		testDevice("a", "l1", "garage", domain.ClusterTier3600, 2, 50),
		testDevice("b", "l1", "garage", domain.ClusterTier3600, 2, 50),
	)

	result := testEngine().Allocate(3000, topo)

	for _, cmd := range result.Commands {
		assert.LessOrEqual(t, cmd.DischargePowerWatt, 800.0)
	}
}

func TestPhaseClipNotShiftedToOtherPhase(t *testing.T) {
	topo := domain.Topology{
		Phases: map[string]domain.PhaseConfig{
			"l1": {Id: "l1", MaxChargePowerWatt: 3600, MaxDischargePowerWatt: 400},
			"l2": {Id: "l2", MaxChargePowerWatt: 3600, MaxDischargePowerWatt: 3600},
		},
		Devices: map[string]domain.DeviceSnapshot{},
	}
	a := testDevice("a", "l1", "garage", domain.ClusterTier2400, 2, 50)
	b := testDevice("b", "l2", "cellar", domain.ClusterTier2400, 2, 50)
	topo.Devices["a"] = a
	topo.Devices["b"] = b

	result := testEngine().Allocate(1600, topo)

	// equal weights: each phase is asked for 800, l1 clips to 400 and the
	// excess is lost, l2 still delivers only its own 800 share
	assert.InDelta(t, 400, result.Commands["a"].DischargePowerWatt, 0.01)
	assert.InDelta(t, 800, result.Commands["b"].DischargePowerWatt, 0.01)
	assert.InDelta(t, 400, result.ClippedPhaseWatt, 0.01)
}

func TestDeviceOnUndefinedPhaseExcluded(t *testing.T) {
	lost := testDevice("lost", "l9", "garage", domain.ClusterTier2400, 2, 50)
	ok := testDevice("ok", "l1", "garage", domain.ClusterTier2400, 2, 50)
	topo := testTopology(lost, ok)

	result := testEngine().Allocate(600, topo)

	assert.Contains(t, result.ExcludedDevices, "lost")
	assert.True(t, result.Commands["lost"].IsZero())
	assert.InDelta(t, 600, result.Commands["ok"].DischargePowerWatt, 0.01)
}

func TestAllocationIsIdempotent(t *testing.T) {
	topo := testTopology(
		testDevice("a", "l1", "garage", domain.ClusterTier2400, 2, 64),
		testDevice("b", "l1", "garage", domain.ClusterTier2400, 1, 31),
		testDevice("c", "l1", "", "", 3, 87),
	)

	first := testEngine().Allocate(-1234, topo)
	second := testEngine().Allocate(-1234, topo)

	assert.Equal(t, first.Commands, second.Commands)
	assert.Equal(t, first.DeliveredWatt, second.DeliveredWatt)
	assert.Equal(t, first.ClippedTotalWatt(), second.ClippedTotalWatt())
}

func TestNoHeadroomYieldsAllZero(t *testing.T) {
	// both devices at their charge ceiling
	topo := testTopology(
		testDevice("a", "l1", "garage", domain.ClusterTier2400, 2, 90),
		testDevice("b", "l1", "garage", domain.ClusterTier2400, 1, 90),
	)

	result := testEngine().Allocate(-900, topo)

	for _, cmd := range result.Commands {
		assert.True(t, cmd.IsZero())
	}
	assert.Equal(t, 0.0, result.DeliveredWatt)
}
