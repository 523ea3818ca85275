package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/config"
	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/events"
	"github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// HADiscoveryActor publishes the Home Assistant discovery documents:
// the bridge and manager entities once at boot, then one set of battery
// entities per device the fleet discovers.
type HADiscoveryActor struct {
	config            *config.Config
	behavior          actor.Behavior
	stash             *actorutil.Stash
	fleetActor        *actor.PID
	mqttActor         *actor.PID
	fleetActorHealthy bool
	mqttActorHealthy  bool
	healthyRecv       int
	bridgeDevice      domain.Device

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, fleetActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:     config,
		fleetActor: fleetActor,
		mqttActor:  mqttActor,
		behavior:   actor.NewBehavior(),
		stash:      &actorutil.Stash{},
		logger:     actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check Fleet and MQTT actor healthy
		state.healthyRecv = 0
		state.fleetActorHealthy = false
		state.mqttActorHealthy = false
		// Fleet Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.fleetActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_FLEET,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_FLEET:
				state.fleetActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {

			if state.fleetActorHealthy && state.mqttActorHealthy {
				state.publishManagerDiscovery(ctx)
				state.behavior.Become(state.RunningReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Fleet Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// RunningReceive keeps publishing discovery for late joining devices.
func (state *HADiscoveryActor) RunningReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.DeviceDiscovered:
		state.logger.Info("hadiscovery: publishing discovery for device",
			zap.String("device", msg.Device.Id))
		state.publishBatteryDiscovery(ctx, msg.Device)
	default:
		state.logger.Debug("hadiscovery@running: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) publishManagerDiscovery(ctx actor.Context) {
	var sensors []domain.GenericSensor
	var switches []domain.GenericSwitch
	var inputNumbers []domain.GenericInputNumber
	var selects []domain.GenericSelect

	state.bridgeDevice = events.BridgeDevice(state.config.MQTT.BaseTopic)
	sensors = append(sensors, events.BridgeSensors(state.bridgeDevice)...)

	managerSensors := events.ManagerSensors(state.bridgeDevice)
	for i := range managerSensors {
		managerSensors[i].Device = events.IdDevice(state.bridgeDevice)
		sensors = append(sensors, managerSensors[i])
	}

	switches = append(switches, events.ManagerSwitches(state.bridgeDevice)...)
	selects = append(selects, events.ManagerSelects(state.bridgeDevice)...)
	inputNumbers = append(inputNumbers, events.ManagerInputNumbers(state.bridgeDevice)...)

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Switches:     switches,
		InputNumbers: inputNumbers,
		Selects:      selects,
	})
}

func (state *HADiscoveryActor) publishBatteryDiscovery(ctx actor.Context, snap domain.DeviceSnapshot) {
	var sensors []domain.GenericSensor

	batteryDevice := events.BatteryDevice(state.bridgeDevice, snap)
	batterySensors := events.BatteryDeviceSensors(batteryDevice, snap)
	for i := range batterySensors {
		if i > 0 {
			batterySensors[i].Device = events.IdDevice(batteryDevice)
		}
		sensors = append(sensors, batterySensors[i])
	}

	ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
		Sensors: sensors,
	})
}
