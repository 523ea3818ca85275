package actor

import (
	"fmt"
	"sort"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/config"
	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/events"
	"github.com/berfenger/zenfleet2mqtt/internal/core/port"
	. "github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PowerManagerActor runs the control loop: each pass it takes a fleet
// snapshot, derives the target for the current mode, allocates it over
// the topology and sends one explicit command per device. Passes are
// single flight; triggers arriving mid-pass coalesce into one follow-up.
type PowerManagerActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	fleetActor  *actor.PID
	mqttActor   *actor.PID
	config      *config.Config
	eventStream *eventstream.EventStream
	allocator   port.PowerAllocator
	targetLogic port.TargetLogic

	mode             domain.OperationMode
	enabled          bool
	manualPowerWatt  float64
	lastMeter        *domain.MeterReading
	lastMeterTrigger time.Time
	lastResult       *domain.AllocationResult
	pendingPass      bool

	controlInterval time.Duration
	minMeterTrigger time.Duration
	cancelTick      scheduler.CancelFunc

	logger *zap.Logger
}

type powerManagerTick struct {
}

func NewPowerManagerActor(cfg *config.Config, fleetActor, mqttActor *actor.PID,
	allocator port.PowerAllocator, targetLogic port.TargetLogic,
	eventStream *eventstream.EventStream, logger *zap.Logger) *PowerManagerActor {

	act := &PowerManagerActor{
		config:          cfg,
		fleetActor:      fleetActor,
		mqttActor:       mqttActor,
		allocator:       allocator,
		targetLogic:     targetLogic,
		eventStream:     eventStream,
		stash:           &Stash{},
		mode:            domain.ModeOff,
		enabled:         true,
		controlInterval: time.Duration(cfg.PowerManagerConfig.ControlIntervalMillis) * time.Millisecond,
		minMeterTrigger: time.Duration(cfg.PowerManagerConfig.MinMeterTriggerMillis) * time.Millisecond,
		logger:          ActorLogger(domain.ACTOR_ID_POWER_MANAGER, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PMStartingState{
		actor: act,
	})
	return act
}

func (state *PowerManagerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type PMStartingState struct {
	ActorState
	actor *PowerManagerActor
}

func (state PMStartingState) Name() string {
	return "starting"
}

func (state PMStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("power_manager@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.Become(PMIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
		ctx.Send(ctx.Self(), powerManagerTick{})
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("power_manager@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type PMIdleState struct {
	ActorState
	actor *PowerManagerActor
}

func (state PMIdleState) Name() string {
	return "idle"
}

func (state PMIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case powerManagerTick:
		state.actor.logger.Debug("power_manager@idle tick")
		state.actor.startPass(ctx)
	case domain.PowerManagerSetModeRequest:
		if msg.Mode == state.actor.mode {
			break
		}
		state.actor.logger.Info("power_manager: mode change",
			zap.String("from", state.actor.mode.String()),
			zap.String("to", msg.Mode.String()))
		state.actor.mode = msg.Mode
		state.actor.eventStream.Publish(events.OperationModeUpdateEvent(msg.Mode))
		state.actor.startPass(ctx)
	case domain.PowerManagerSetManualPowerRequest:
		state.actor.logger.Info("power_manager: manual power change",
			zap.Float64("watt", msg.PowerWatt))
		state.actor.manualPowerWatt = msg.PowerWatt
		state.actor.eventStream.Publish(events.ManualPowerUpdateEvent(msg.PowerWatt))
		if state.actor.mode == domain.ModeManual {
			state.actor.startPass(ctx)
		}
	case domain.PowerManagerSetEnabledRequest:
		if msg.Enabled == state.actor.enabled {
			break
		}
		state.actor.logger.Info("power_manager: enabled change",
			zap.Bool("enabled", msg.Enabled))
		state.actor.enabled = msg.Enabled
		state.actor.eventStream.Publish(events.ManagerEnabledUpdateEvent(msg.Enabled))
		state.actor.startPass(ctx)
	case domain.PowerManagerRunPassRequest:
		state.actor.logger.Debug("power_manager@idle PowerManagerRunPassRequest")
		state.actor.startPass(ctx)
	case domain.MeterReading:
		state.actor.lastMeter = &msg
		if state.actor.meterTriggersPass() {
			state.actor.lastMeterTrigger = msg.At
			state.actor.startPass(ctx)
		}
	case domain.PowerManagerGetStateRequest:
		state.actor.respondState(ctx, msg)
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, state.Name())
	default:
		state.actor.logger.Debug("power_manager@idle recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Await snapshot state

type PMAwaitSnapshotState struct {
	ActorState
	actor *PowerManagerActor
}

func (state PMAwaitSnapshotState) Name() string {
	return "awaiting_snapshot"
}

func (state PMAwaitSnapshotState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetFleetSnapshotResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("power_manager: fleet snapshot failed, skipping pass",
				zap.Error(msg.GetResponseError()))
		} else {
			state.actor.runPass(ctx, msg.Snapshot)
		}
		state.actor.finishPass(ctx)
	case powerManagerTick:
		state.actor.pendingPass = true
	case domain.PowerManagerRunPassRequest:
		state.actor.pendingPass = true
	case domain.MeterReading:
		// keep the freshest sample and fold the trigger into the
		// follow-up pass instead of starting one mid flight
		state.actor.lastMeter = &msg
		if state.actor.meterTriggersPass() {
			state.actor.lastMeterTrigger = msg.At
			state.actor.pendingPass = true
		}
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx, state.Name())
	case domain.PowerManagerGetStateRequest:
		state.actor.respondState(ctx, msg)
	default:
		state.actor.logger.Debug("power_manager@awaiting_snapshot: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state *PowerManagerActor) startPass(ctx actor.Context) {
	if state.cancelTick != nil {
		state.cancelTick()
		state.cancelTick = nil
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.fleetActor, domain.GetFleetSnapshotRequest{}, 1*time.Second), func(err error) any {
		return domain.GetFleetSnapshotResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
	state.Become(PMAwaitSnapshotState{
		actor: state,
	})
}

func (state *PowerManagerActor) runPass(ctx actor.Context, snapshot domain.FleetSnapshot) {
	target, ok := state.targetLogic.TargetFor(state.mode, state.manualPowerWatt, state.lastMeter, snapshot.TakenAt)
	if !ok || !state.enabled {
		target = 0
	}
	result := state.allocator.Allocate(target, snapshot.Topology)
	state.lastResult = &result

	ids := make([]string, 0, len(result.Commands))
	for id := range result.Commands {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ctx.Send(state.mqttActor, domain.SendDeviceCommandRequest{
			Command: result.Commands[id],
		})
	}

	state.logger.Debug("power_manager: pass complete",
		zap.Float64("target", result.TargetWatt),
		zap.Float64("delivered", result.DeliveredWatt),
		zap.Int("commands", len(result.Commands)))

	for _, ev := range events.AllocationResultToUpdateEvents(result) {
		state.eventStream.Publish(ev)
	}
	for _, ev := range events.FleetSnapshotToUpdateEvents(snapshot) {
		state.eventStream.Publish(ev)
	}
}

func (state *PowerManagerActor) finishPass(ctx actor.Context) {
	state.cancelTick = state.scheduler.RequestOnce(state.controlInterval, ctx.Self(), powerManagerTick{})
	state.Become(PMIdleState{
		actor: state,
	})
	state.stash.UnstashAll(ctx)
	if state.pendingPass {
		state.pendingPass = false
		ctx.Send(ctx.Self(), powerManagerTick{})
	}
}

// meterTriggersPass rate-limits meter driven passes so a chatty meter
// cannot outrun the fleet.
func (state *PowerManagerActor) meterTriggersPass() bool {
	switch state.mode {
	case domain.ModeSmartMatch, domain.ModeSmartDischargeOnly, domain.ModeSmartChargeOnly:
	default:
		return false
	}
	return state.lastMeter.At.Sub(state.lastMeterTrigger) >= state.minMeterTrigger
}

func (state *PowerManagerActor) respondState(ctx actor.Context, msg domain.PowerManagerGetStateRequest) {
	ForRequest(msg).Respond(ctx, domain.PowerManagerGetStateResponse{
		Mode:            state.mode,
		Enabled:         state.enabled,
		ManualPowerWatt: state.manualPowerWatt,
		LastResult:      state.lastResult,
	})
}

func (state *PowerManagerActor) respondHealth(ctx actor.Context, stateName string) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_POWER_MANAGER,
		Healthy: true,
		State:   stateName,
	})
}
