package service

import (
	"math"
	"sort"

	"github.com/berfenger/zenfleet2mqtt/internal/core/domain"
	"github.com/berfenger/zenfleet2mqtt/internal/core/port"

	"go.uber.org/zap"
)

// AllocationEngine distributes a signed aggregate power target across
// phases, then clusters, then devices, proportionally to capacity
// headroom and clamped at every level. Clipped remainder is dropped for
// the cycle, never shifted to siblings: the true target may go unmet,
// but no phase, cluster or device is ever driven past its limit.
type AllocationEngine struct {
	logger *zap.Logger
}

func NewAllocationEngine(logger *zap.Logger) *AllocationEngine {
	return &AllocationEngine{
		logger: logger.With(zap.String("service", "allocation")),
	}
}

type allocCluster struct {
	id      string
	maxWatt float64
	weight  float64
	devices []domain.DeviceSnapshot
}

type allocPhase struct {
	cfg      domain.PhaseConfig
	weight   float64
	clusters []*allocCluster
}

func (e *AllocationEngine) Allocate(targetWatt float64, topology domain.Topology) domain.AllocationResult {
	result := domain.AllocationResult{
		TargetWatt: targetWatt,
		Commands:   make(map[string]domain.DeviceCommand, len(topology.Devices)),
	}

	// every device present gets an explicit command, zero by default
	for id := range topology.Devices {
		result.Commands[id] = domain.ZeroCommand(id)
	}

	dir := DirectionOf(targetWatt)
	if dir == DirectionIdle {
		return result
	}

	phases, excluded := e.groupByPhase(topology, dir)
	result.ExcludedDevices = excluded

	var totalWeight float64
	for _, p := range phases {
		totalWeight += p.weight
	}
	if totalWeight == 0 {
		e.logger.Debug("no capacity headroom for target",
			zap.Float64("target", targetWatt), zap.String("direction", dir.String()))
		return result
	}

	magnitude := math.Abs(targetWatt)
	for _, p := range phases {
		phaseShare := magnitude * p.weight / totalWeight
		phaseDelivered := math.Min(phaseShare, phaseMaxWatt(p.cfg, dir))
		result.ClippedPhaseWatt += phaseShare - phaseDelivered
		if phaseDelivered <= 0 || p.weight == 0 {
			continue
		}

		for _, c := range p.clusters {
			clusterShare := phaseDelivered * c.weight / p.weight
			clusterDelivered := math.Min(clusterShare, c.maxWatt)
			result.ClippedClusterWatt += clusterShare - clusterDelivered
			if clusterDelivered <= 0 || c.weight == 0 {
				continue
			}

			for _, d := range c.devices {
				deviceShare := clusterDelivered * CapacityWeight(d, dir) / c.weight
				deviceDelivered := math.Min(deviceShare, RatedPowerLimit(d, dir))
				result.ClippedDeviceWatt += deviceShare - deviceDelivered
				result.DeliveredWatt += deviceDelivered
				if dir == DirectionCharge {
					result.Commands[d.Id] = domain.ChargeCommand(d.Id, deviceDelivered)
				} else {
					result.Commands[d.Id] = domain.DischargeCommand(d.Id, deviceDelivered)
				}
			}
		}
	}

	if clipped := result.ClippedTotalWatt(); clipped > 0 {
		e.logger.Debug("allocation clipped by limits",
			zap.Float64("target", targetWatt),
			zap.Float64("delivered", result.DeliveredWatt),
			zap.Float64("clipped", clipped))
	}

	return result
}

// groupByPhase builds the phase/cluster tree for one pass. Devices on an
// undefined phase are excluded and flagged, never fatal. Iteration is id
// ordered so identical inputs always produce identical output.
func (e *AllocationEngine) groupByPhase(topology domain.Topology, dir Direction) ([]*allocPhase, []string) {
	deviceIds := make([]string, 0, len(topology.Devices))
	for id := range topology.Devices {
		deviceIds = append(deviceIds, id)
	}
	sort.Strings(deviceIds)

	var excluded []string
	phaseById := make(map[string]*allocPhase)
	clusterByKey := make(map[string]*allocCluster)

	for _, id := range deviceIds {
		d := topology.Devices[id]
		cfg, ok := topology.Phases[d.PhaseId]
		if !ok {
			e.logger.Warn("device assigned to undefined phase, excluded from allocation",
				zap.String("device", d.Id), zap.String("phase", d.PhaseId))
			excluded = append(excluded, d.Id)
			continue
		}

		p := phaseById[d.PhaseId]
		if p == nil {
			p = &allocPhase{cfg: cfg}
			phaseById[d.PhaseId] = p
		}

		clusterKey := d.PhaseId + "/" + d.EffectiveClusterId()
		c := clusterByKey[clusterKey]
		if c == nil {
			c = &allocCluster{id: d.EffectiveClusterId()}
			clusterByKey[clusterKey] = c
			p.clusters = append(p.clusters, c)
		}
		c.devices = append(c.devices, d)

		weight := CapacityWeight(d, dir)
		c.weight += weight
		p.weight += weight

		capWatt := memberClusterCap(d, dir)
		if len(c.devices) == 1 {
			c.maxWatt = capWatt
		} else if capWatt != c.maxWatt {
			e.logger.Warn("cluster members disagree on cluster cap, using the smaller",
				zap.String("cluster", c.id),
				zap.String("device", d.Id),
				zap.Float64("memberCap", capWatt),
				zap.Float64("clusterCap", c.maxWatt))
			c.maxWatt = math.Min(c.maxWatt, capWatt)
		}
	}

	phaseIds := make([]string, 0, len(phaseById))
	for id := range phaseById {
		phaseIds = append(phaseIds, id)
	}
	sort.Strings(phaseIds)

	phases := make([]*allocPhase, 0, len(phaseIds))
	for _, id := range phaseIds {
		phases = append(phases, phaseById[id])
	}
	return phases, excluded
}

func phaseMaxWatt(cfg domain.PhaseConfig, dir Direction) float64 {
	if dir == DirectionCharge {
		return cfg.MaxChargePowerWatt
	}
	return cfg.MaxDischargePowerWatt
}

// memberClusterCap is the cluster cap a single member implies.
// Singleton clusters (unclustered or own-circuit devices) are bounded by
// the device's own rated limit, tiered clusters by the tier budget.
func memberClusterCap(d domain.DeviceSnapshot, dir Direction) float64 {
	if d.ClusterId == "" || d.ClusterTier == domain.ClusterTierOwnCircuit {
		return RatedPowerLimit(d, dir)
	}
	if dir == DirectionCharge {
		return d.ClusterTier.MaxChargePowerWatt()
	}
	return d.ClusterTier.MaxDischargePowerWatt()
}

// ensure interface compliance
var _ port.PowerAllocator = (*AllocationEngine)(nil)
