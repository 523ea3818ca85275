package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"
	"github.com/berfenger/zenfleet2mqtt/pkg/gridmeter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// MeterActor polls a modbus grid meter and forwards each sample to its
// parent. The MQTT meter source bypasses this actor entirely: samples
// arrive through the MQTT actor instead.
type MeterActor struct {
	behavior     actor.Behavior
	stash        *actorutil.Stash
	scheduler    *scheduler.TimerScheduler
	reader       gridmeter_modbus.PowerMeterReader
	pollInterval time.Duration
	lastReading  *domain.MeterReading
	logger       *zap.Logger
}

type meterPollTick struct {
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewMeterActor(reader gridmeter_modbus.PowerMeterReader, pollInterval time.Duration, log *zap.Logger) *MeterActor {
	act := &MeterActor{
		reader:       reader,
		pollInterval: pollInterval,
		behavior:     actor.NewBehavior(),
		stash:        &actorutil.Stash{},
		logger:       actorutil.ActorLogger(domain.ACTOR_ID_METER, log),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		if err := state.reader.Open(); err != nil {
			panic(err)
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
		ctx.Send(ctx.Self(), meterPollTick{})
	case *actor.Restarting:
		state.reader.Close()
	default:
		state.logger.Debug("meter@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "idle",
		})
	case meterPollTick:
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readMeter),
			func(r *domain.MeterReading) *backgroundTaskResult {
				return &backgroundTaskResult{message: *r}
			}).OnError(func(err error) {
			// a failed poll skips the sample, the next tick retries
			ctx.Send(ctx.Self(), backgroundTaskResult{message: meterReadFailed{error: err}})
		}).WithTimeout(2 * time.Second).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetMeterReadingRequest:
		state.logger.Debug("meter@default GetMeterReadingRequest")
		resp := domain.GetMeterReadingResponse{}
		if state.lastReading != nil {
			resp.Reading = *state.lastReading
		}
		actorutil.ForRequest(msg).Respond(ctx, resp)
	case *actor.Stopping:
		state.reader.Close()
	default:
		state.logger.Debug("meter@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		switch result := msg.message.(type) {
		case domain.MeterReading:
			state.lastReading = &result
			if ctx.Parent() != nil {
				ctx.Send(ctx.Parent(), result)
			}
		case meterReadFailed:
			state.logger.Warn("meter: poll failed", zap.Error(result.error))
		}
		state.scheduler.RequestOnce(state.pollInterval, ctx.Self(), meterPollTick{})
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.reader.Close()
	default:
		state.logger.Debug("meter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

type meterReadFailed struct {
	error error
}

func (state *MeterActor) readMeter() (*domain.MeterReading, error) {
	value, err := state.reader.GetCurrentPowerFlowWatt()
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.MeterReading{
		PowerWatt: value,
		At:        time.Now(),
	}, nil
}
