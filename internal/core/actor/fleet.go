package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/config"
	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/events"
	. "github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

// FleetActor keeps the merged view of every device: static topology from
// configuration plus the latest telemetry per device. It is the single
// source of truth the power manager allocates against.
type FleetActor struct {
	behavior        actor.Behavior
	config          *config.Config
	eventStream     *eventstream.EventStream
	devices         map[string]*domain.DeviceSnapshot
	discovered      map[string]bool
	telemetryMaxAge time.Duration

	logger *zap.Logger
}

func NewFleetActor(cfg *config.Config, eventStream *eventstream.EventStream, logger *zap.Logger) *FleetActor {
	act := &FleetActor{
		config:          cfg,
		eventStream:     eventStream,
		behavior:        actor.NewBehavior(),
		devices:         make(map[string]*domain.DeviceSnapshot),
		discovered:      make(map[string]bool),
		telemetryMaxAge: time.Duration(cfg.PowerManagerConfig.TelemetryMaxAgeMillis) * time.Millisecond,
		logger:          ActorLogger(domain.ACTOR_ID_FLEET, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *FleetActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *FleetActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("fleet@default started")
		// pre-register configured devices so they appear in snapshots
		// (stale) before their first telemetry
		for _, item := range state.config.TopologyConfig.Devices {
			snap, err := state.snapshotFromConfig(item)
			if err != nil {
				state.logger.Warn("fleet: invalid device topology entry",
					zap.String("device", item.Id), zap.Error(err))
				continue
			}
			state.devices[item.Id] = snap
		}
	case domain.ActorHealthRequest:
		state.logger.Debug("fleet@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_FLEET,
			Healthy: true,
			State:   "idle",
		})
	case domain.DeviceTelemetryReport:
		state.mergeTelemetry(ctx, msg)
	case domain.GetFleetSnapshotRequest:
		state.logger.Debug("fleet@default GetFleetSnapshotRequest")
		ForRequest(msg).Respond(ctx, domain.GetFleetSnapshotResponse{
			Snapshot: state.snapshot(time.Now()),
		})
	default:
		state.logger.Debug("fleet@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *FleetActor) mergeTelemetry(ctx actor.Context, report domain.DeviceTelemetryReport) {
	snap, known := state.devices[report.DeviceId]
	if !known {
		var err error
		snap, err = state.snapshotForUnknownDevice(report.DeviceId)
		if err != nil {
			state.logger.Warn("fleet: rejected telemetry from unknown device",
				zap.String("device", report.DeviceId), zap.Error(err))
			return
		}
		state.devices[report.DeviceId] = snap
	}

	if report.Model != "" {
		snap.Model = report.Model
	}
	if report.StateOfCharge != nil {
		snap.StateOfCharge = *report.StateOfCharge
	}
	if report.MinStateOfCharge != nil {
		snap.MinStateOfCharge = *report.MinStateOfCharge
	}
	if report.MaxStateOfCharge != nil {
		snap.MaxStateOfCharge = *report.MaxStateOfCharge
	}
	if report.PackCount != nil {
		snap.PackCount = *report.PackCount
	}
	if report.MaxChargePowerWatt != nil {
		snap.MaxChargePowerWatt = *report.MaxChargePowerWatt
	}
	if report.MaxDischargePowerWatt != nil {
		snap.MaxDischargePowerWatt = *report.MaxDischargePowerWatt
	}
	if report.HomeOutputPowerWatt != nil {
		snap.HomeOutputPowerWatt = *report.HomeOutputPowerWatt
	}
	if report.GridInputPowerWatt != nil {
		snap.GridInputPowerWatt = *report.GridInputPowerWatt
	}
	snap.LastSeen = report.At
	snap.Stale = false

	state.logger.Debug("fleet: telemetry merged",
		zap.String("device", report.DeviceId),
		zap.Float64("soc", snap.StateOfCharge))

	if !state.discovered[report.DeviceId] {
		state.discovered[report.DeviceId] = true
		if ctx.Parent() != nil {
			ctx.Send(ctx.Parent(), domain.DeviceDiscovered{Device: *snap})
		}
	}

	for _, ev := range events.DeviceTelemetryToUpdateEvents(*snap) {
		state.eventStream.Publish(ev)
	}
}

func (state *FleetActor) snapshot(now time.Time) domain.FleetSnapshot {
	topo := domain.Topology{
		Phases:  make(map[string]domain.PhaseConfig, len(state.config.TopologyConfig.Phases)),
		Devices: make(map[string]domain.DeviceSnapshot, len(state.devices)),
	}
	for _, p := range state.config.TopologyConfig.Phases {
		topo.Phases[p.Id] = domain.PhaseConfig{
			Id:                    p.Id,
			MaxChargePowerWatt:    p.MaxChargePower,
			MaxDischargePowerWatt: p.MaxDischargePower,
		}
	}
	for id, d := range state.devices {
		copied := *d
		copied.Stale = d.LastSeen.IsZero() || now.Sub(d.LastSeen) > state.telemetryMaxAge
		topo.Devices[id] = copied
	}
	return domain.FleetSnapshot{
		TakenAt:  now,
		Topology: topo,
	}
}

func (state *FleetActor) snapshotFromConfig(item config.DeviceTopologyItem) (*domain.DeviceSnapshot, error) {
	tier, err := domain.ParseClusterTier(item.ClusterTier)
	if err != nil {
		return nil, err
	}
	phase := item.Phase
	if phase == "" {
		phase = state.config.TopologyConfig.DefaultPhase
	}
	return &domain.DeviceSnapshot{
		Id:          item.Id,
		Name:        item.Name,
		PhaseId:     phase,
		ClusterId:   item.Cluster,
		ClusterTier: tier,
		Stale:       true,
	}, nil
}

// snapshotForUnknownDevice places a device that reports telemetry
// without a topology entry on the default phase as its own circuit.
func (state *FleetActor) snapshotForUnknownDevice(deviceId string) (*domain.DeviceSnapshot, error) {
	if state.config.TopologyConfig.DefaultPhase == "" {
		return nil, fmt.Errorf("device %s has no topology entry and no default phase is configured", deviceId)
	}
	return &domain.DeviceSnapshot{
		Id:          deviceId,
		PhaseId:     state.config.TopologyConfig.DefaultPhase,
		ClusterTier: domain.ClusterTierOwnCircuit,
		Stale:       true,
	}, nil
}
