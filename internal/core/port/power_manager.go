package port

import (
	"time"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
)

// PowerAllocator distributes a signed aggregate target over the devices
// of a topology snapshot. Implementations must be pure: same inputs,
// same commands.
type PowerAllocator interface {
	Allocate(targetWatt float64, topology domain.Topology) domain.AllocationResult
}

// TargetLogic derives the allocation target for one pass from the
// operating mode and the latest external signals. ok is false when no
// target can be computed (for example a stale meter in a smart mode);
// the caller must then emit an all-zero command set.
type TargetLogic interface {
	TargetFor(mode domain.OperationMode, manualPowerWatt float64, meter *domain.MeterReading, now time.Time) (targetWatt float64, ok bool)
	MeterMaxAge() time.Duration
}
