package actor

import (
	"errors"
	"testing"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/util/actorutil"
	"github.com/berfenger/zenfleet2mqtt/pkg/gridmeter_modbus"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMeterActorPolls(t *testing.T) {

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	reader := gridmeter_modbus.CreateTestPowerMeterReader()
	reader.SetPowerFlowWatt(1234)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(reader, 100*time.Millisecond, logger)
	})
	meterActorPID := context.Spawn(meterProps)

	time.Sleep(500 * time.Millisecond)

	reading, err := meterReading(context, meterActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, float64(1234), reading.PowerWatt)
	assert.False(t, reading.At.IsZero())

	// sign flips when the house starts exporting
	reader.SetPowerFlowWatt(-500)
	time.Sleep(500 * time.Millisecond)

	reading, err = meterReading(context, meterActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, float64(-500), reading.PowerWatt)

	// read failures skip the sample and keep the last good one
	reader.FailReads(errors.New("connection reset"))
	time.Sleep(500 * time.Millisecond)

	reading, err = meterReading(context, meterActorPID)
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal(t, float64(-500), reading.PowerWatt)

	context.Stop(meterActorPID)
	as.Shutdown()
}

func meterReading(ctx *actor.RootContext, pid *actor.PID) (*domain.MeterReading, error) {
	resp, err := ctx.RequestFuture(pid, domain.GetMeterReadingRequest{}, 2*time.Second).Result()
	if err != nil {
		return nil, err
	}
	mr, ok := resp.(domain.GetMeterReadingResponse)
	if !ok {
		return nil, errors.New("unexpected response type")
	}
	return &mr.Reading, nil
}
