package actor

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	adactor "github.com/berfenger/zenfleet2mqtt/internal/adapter/actor"
	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/service"
	"github.com/berfenger/zenfleet2mqtt/internal/util"
	"github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPowerManagerManualPass(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	es := &eventstream.EventStream{}

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, es, logger)
	})
	mqttActorPID := context.Spawn(mqttProps)

	fleetProps := actor.PropsFromProducer(func() actor.Actor {
		return NewFleetActor(&cfg, es, logger)
	})
	fleetActorPID := context.Spawn(fleetProps)

	pmProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPowerManagerActor(&cfg, fleetActorPID, mqttActorPID,
			service.NewAllocationEngine(logger),
			&service.DefaultTargetLogic{MeterMaxAgeDuration: 15 * time.Second, Logger: logger},
			es, logger)
	})
	pmActorPID := context.Spawn(pmProps)

	time.Sleep(500 * time.Millisecond)

	hcr, err := healthCheck(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(t, hcr.Healthy, "actor should be healthy")
	assert.Equal(t, "idle", hcr.State, "actor state should be idle")

	// both devices report fresh telemetry
	context.Send(fleetActorPID, deviceReport("hub1", 50, 10, 90, 800))
	context.Send(fleetActorPID, deviceReport("hub2", 50, 10, 90, 800))
	time.Sleep(200 * time.Millisecond)

	// manual discharge of 400 W
	context.Send(pmActorPID, domain.PowerManagerSetModeRequest{Mode: domain.ModeManual})
	context.Send(pmActorPID, domain.PowerManagerSetManualPowerRequest{PowerWatt: 400})
	time.Sleep(500 * time.Millisecond)

	st, err := managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, domain.ModeManual, st.Mode)
	assert.Equal(t, float64(400), st.ManualPowerWatt)
	if assert.NotNil(t, st.LastResult) {
		assert.Equal(t, float64(400), st.LastResult.TargetWatt)
		assert.InDelta(t, 400, st.LastResult.DeliveredWatt, 0.01)
		assert.InDelta(t, 200, st.LastResult.Commands["hub1"].DischargePowerWatt, 0.01)
		assert.InDelta(t, 200, st.LastResult.Commands["hub2"].DischargePowerWatt, 0.01)
	}

	// off idles the fleet with explicit zeros
	context.Send(pmActorPID, domain.PowerManagerSetModeRequest{Mode: domain.ModeOff})
	time.Sleep(500 * time.Millisecond)

	st, err = managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, domain.ModeOff, st.Mode)
	if assert.NotNil(t, st.LastResult) {
		assert.Equal(t, float64(0), st.LastResult.TargetWatt)
		assert.True(t, st.LastResult.Commands["hub1"].IsZero())
		assert.True(t, st.LastResult.Commands["hub2"].IsZero())
	}

	context.Stop(pmActorPID)
	context.Stop(fleetActorPID)
	context.Stop(mqttActorPID)
	as.Shutdown()
}

func TestPowerManagerSmartPass(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	es := &eventstream.EventStream{}

	mqttActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, es, logger)
	}))
	fleetActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewFleetActor(&cfg, es, logger)
	}))
	pmActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPowerManagerActor(&cfg, fleetActorPID, mqttActorPID,
			service.NewAllocationEngine(logger),
			&service.DefaultTargetLogic{MeterMaxAgeDuration: 15 * time.Second, Logger: logger},
			es, logger)
	}))

	context.Send(fleetActorPID, deviceReport("hub1", 50, 10, 90, 800))
	context.Send(fleetActorPID, deviceReport("hub2", 50, 10, 90, 800))
	time.Sleep(500 * time.Millisecond)

	context.Send(pmActorPID, domain.PowerManagerSetModeRequest{Mode: domain.ModeSmartMatch})
	context.Send(pmActorPID, domain.MeterReading{PowerWatt: 600, At: time.Now()})
	time.Sleep(500 * time.Millisecond)

	st, err := managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, domain.ModeSmartMatch, st.Mode)
	if assert.NotNil(t, st.LastResult) {
		assert.InDelta(t, 600, st.LastResult.DeliveredWatt, 0.01)
		assert.InDelta(t, 300, st.LastResult.Commands["hub1"].DischargePowerWatt, 0.01)
		assert.InDelta(t, 300, st.LastResult.Commands["hub2"].DischargePowerWatt, 0.01)
	}

	// a stale meter must idle the fleet, not hold the last target
	context.Send(pmActorPID, domain.MeterReading{PowerWatt: 900, At: time.Now().Add(-time.Minute)})
	context.Send(pmActorPID, domain.PowerManagerRunPassRequest{})
	time.Sleep(500 * time.Millisecond)

	st, err = managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	if assert.NotNil(t, st.LastResult) {
		assert.Equal(t, float64(0), st.LastResult.TargetWatt)
		assert.True(t, st.LastResult.Commands["hub1"].IsZero())
		assert.True(t, st.LastResult.Commands["hub2"].IsZero())
	}

	context.Stop(pmActorPID)
	context.Stop(fleetActorPID)
	context.Stop(mqttActorPID)
	as.Shutdown()
}

func TestPowerManagerDisableForcesZeroTarget(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	es := &eventstream.EventStream{}

	mqttActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, es, logger)
	}))
	fleetActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewFleetActor(&cfg, es, logger)
	}))
	pmActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPowerManagerActor(&cfg, fleetActorPID, mqttActorPID,
			service.NewAllocationEngine(logger),
			&service.DefaultTargetLogic{MeterMaxAgeDuration: 15 * time.Second, Logger: logger},
			es, logger)
	}))

	context.Send(fleetActorPID, deviceReport("hub1", 50, 10, 90, 800))
	context.Send(fleetActorPID, deviceReport("hub2", 50, 10, 90, 800))
	time.Sleep(200 * time.Millisecond)

	context.Send(pmActorPID, domain.PowerManagerSetModeRequest{Mode: domain.ModeManual})
	context.Send(pmActorPID, domain.PowerManagerSetManualPowerRequest{PowerWatt: 400})
	time.Sleep(500 * time.Millisecond)

	st, err := managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(t, st.Enabled)
	if assert.NotNil(t, st.LastResult) {
		assert.InDelta(t, 400, st.LastResult.DeliveredWatt, 0.01)
	}

	// disabling idles the fleet with explicit zeros, mode untouched
	context.Send(pmActorPID, domain.PowerManagerSetEnabledRequest{Enabled: false})
	time.Sleep(500 * time.Millisecond)

	st, err = managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.False(t, st.Enabled)
	assert.Equal(t, domain.ModeManual, st.Mode)
	if assert.NotNil(t, st.LastResult) {
		assert.Equal(t, float64(0), st.LastResult.TargetWatt)
		assert.True(t, st.LastResult.Commands["hub1"].IsZero())
		assert.True(t, st.LastResult.Commands["hub2"].IsZero())
	}

	// re-enabling resumes the manual setpoint
	context.Send(pmActorPID, domain.PowerManagerSetEnabledRequest{Enabled: true})
	time.Sleep(500 * time.Millisecond)

	st, err = managerState(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(t, st.Enabled)
	if assert.NotNil(t, st.LastResult) {
		assert.InDelta(t, 400, st.LastResult.DeliveredWatt, 0.01)
	}

	context.Stop(pmActorPID)
	context.Stop(fleetActorPID)
	context.Stop(mqttActorPID)
	as.Shutdown()
}

func TestPowerManagerCoalescesTriggersMidPass(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	es := &eventstream.EventStream{}

	var snapshotRequests atomic.Int32

	mqttActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, es, logger)
	}))
	fleetActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return &slowFleetActor{delay: 300 * time.Millisecond, requests: &snapshotRequests}
	}))
	pmActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPowerManagerActor(&cfg, fleetActorPID, mqttActorPID,
			service.NewAllocationEngine(logger),
			&service.DefaultTargetLogic{MeterMaxAgeDuration: 15 * time.Second, Logger: logger},
			es, logger)
	}))

	// boot pass
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), snapshotRequests.Load())

	// start a pass, then flood while it is in flight: everything that
	// arrives mid pass must coalesce into exactly one follow-up
	context.Send(pmActorPID, domain.PowerManagerRunPassRequest{})
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		context.Send(pmActorPID, domain.PowerManagerRunPassRequest{})
	}
	time.Sleep(1 * time.Second)
	assert.Equal(t, int32(3), snapshotRequests.Load())

	hcr, err := healthCheck(context, pmActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.True(t, hcr.Healthy)
	assert.Equal(t, "idle", hcr.State)

	context.Stop(pmActorPID)
	context.Stop(fleetActorPID)
	context.Stop(mqttActorPID)
	as.Shutdown()
}

func TestPowerManagerMeterTriggerSpacing(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.PowerManagerConfig.MinMeterTriggerMillis = 60000
	es := &eventstream.EventStream{}

	var snapshotRequests atomic.Int32

	mqttActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewTestMQTTActor(&cfg, es, logger)
	}))
	fleetActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return &slowFleetActor{delay: 10 * time.Millisecond, requests: &snapshotRequests}
	}))
	pmActorPID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPowerManagerActor(&cfg, fleetActorPID, mqttActorPID,
			service.NewAllocationEngine(logger),
			&service.DefaultTargetLogic{MeterMaxAgeDuration: 15 * time.Second, Logger: logger},
			es, logger)
	}))

	// boot pass, then one more for the mode change
	time.Sleep(300 * time.Millisecond)
	context.Send(pmActorPID, domain.PowerManagerSetModeRequest{Mode: domain.ModeSmartMatch})
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(2), snapshotRequests.Load())

	// first reading triggers a pass
	context.Send(pmActorPID, domain.MeterReading{PowerWatt: 600, At: time.Now()})
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(3), snapshotRequests.Load())

	// second reading inside the spacing window must not
	context.Send(pmActorPID, domain.MeterReading{PowerWatt: 650, At: time.Now()})
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(3), snapshotRequests.Load())

	context.Stop(pmActorPID)
	context.Stop(fleetActorPID)
	context.Stop(mqttActorPID)
	as.Shutdown()
}

// slowFleetActor answers snapshot requests with an empty topology after a
// fixed delay, counting the requests it served.
type slowFleetActor struct {
	delay    time.Duration
	requests *atomic.Int32
}

func (state *slowFleetActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetFleetSnapshotRequest:
		state.requests.Add(1)
		time.Sleep(state.delay)
		actorutil.ForRequest(msg).Respond(ctx, domain.GetFleetSnapshotResponse{
			Snapshot: domain.FleetSnapshot{
				TakenAt: time.Now(),
				Topology: domain.Topology{
					Phases:  map[string]domain.PhaseConfig{},
					Devices: map[string]domain.DeviceSnapshot{},
				},
			},
		})
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_FLEET,
			Healthy: true,
			State:   "idle",
		})
	}
}

func deviceReport(id string, soc, minSoc, socSet float64, ratedWatt float64) domain.DeviceTelemetryReport {
	packCount := uint(1)
	return domain.DeviceTelemetryReport{
		DeviceId:              id,
		Model:                 "SolarFlow Hub",
		At:                    time.Now(),
		StateOfCharge:         &soc,
		MinStateOfCharge:      &minSoc,
		MaxStateOfCharge:      &socSet,
		PackCount:             &packCount,
		MaxChargePowerWatt:    &ratedWatt,
		MaxDischargePowerWatt: &ratedWatt,
	}
}

func managerState(ctx *actor.RootContext, pid *actor.PID) (*domain.PowerManagerGetStateResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.PowerManagerGetStateRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	st, ok := resp.(domain.PowerManagerGetStateResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &st, nil
}

func healthCheck(ctx *actor.RootContext, pid *actor.PID) (*domain.ActorHealthResponse, error) {
	resp, err := ctx.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	hcr, ok := resp.(domain.ActorHealthResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &hcr, nil
}
