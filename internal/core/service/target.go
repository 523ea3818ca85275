package service

import (
	"math"
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// DefaultTargetLogic turns the operating mode and the latest external
// signals into the signed allocation target for one pass.
type DefaultTargetLogic struct {
	MeterMaxAgeDuration time.Duration
	Logger              *zap.Logger
}

// TargetFor computes the pass target. In the smart modes a missing or
// stale meter reading means no target is computable: the pass must idle
// the fleet instead of acting on extrapolated data.
func (l *DefaultTargetLogic) TargetFor(mode domain.OperationMode, manualPowerWatt float64, meter *domain.MeterReading, now time.Time) (float64, bool) {
	switch mode {
	case domain.ModeOff:
		return 0, true
	case domain.ModeManual:
		return manualPowerWatt, true
	}

	if meter == nil || now.Sub(meter.At) > l.MeterMaxAgeDuration {
		l.Logger.Warn("meter reading missing or stale, idling fleet for this pass",
			zap.String("mode", mode.String()))
		return 0, false
	}

	switch mode {
	case domain.ModeSmartMatch:
		return meter.PowerWatt, true
	case domain.ModeSmartDischargeOnly:
		return math.Max(0, meter.PowerWatt), true
	case domain.ModeSmartChargeOnly:
		return math.Min(0, meter.PowerWatt), true
	}
	return 0, false
}

func (l *DefaultTargetLogic) MeterMaxAge() time.Duration {
	return l.MeterMaxAgeDuration
}

// ensure interface compliance
var _ port.TargetLogic = (*DefaultTargetLogic)(nil)
