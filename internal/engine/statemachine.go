package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/utils"
)

const (
	// anomalyDegradedThreshold is the primary-region anomaly score above
	// which a Stable group degrades even while its composite holds up.
	anomalyDegradedThreshold = 0.8

	// cascadeFailingThreshold is the aggregate cascade risk that fails a
	// group regardless of the consecutive failure count.
	cascadeFailingThreshold = 0.9
)

// Thresholds carries the state machine tuning shared by every group.
type Thresholds struct {
	Health              float64
	Warning             float64
	ConsecutiveFailures int
	CooldownCycles      int
	AutoFailback        bool
}

// EvalInput is the immutable per-cycle snapshot a state machine consumes.
// Secondaries holds the current snapshot for each configured secondary
// region; missing entries are treated as fully unhealthy.
type EvalInput struct {
	Now         time.Time
	Primary     models.RegionHealth
	CascadeRisk float64
	Secondaries map[string]models.RegionHealth
}

// EvalResult reports what one evaluation changed. A single evaluation can
// record several transitions (entering Failing immediately chains into
// FailedOver) but never more than one decision.
type EvalResult struct {
	Transitions []models.StateTransition
	Decision    *models.FailoverDecision
}

// StateMachine tracks one traffic group through the failover lifecycle.
// All methods are safe for concurrent use.
type StateMachine struct {
	logger     *slog.Logger
	group      models.TrafficGroup
	thresholds Thresholds

	mu             sync.Mutex
	state          models.FailoverState
	activeRegion   string
	healthyCycles  int
	lastTransition *models.StateTransition
}

// NewStateMachine creates a machine starting Stable with traffic on the
// group's primary region.
func NewStateMachine(group models.TrafficGroup, thresholds Thresholds, logger *slog.Logger) *StateMachine {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{
		logger:       logger,
		group:        group,
		thresholds:   thresholds,
		state:        models.StateStable,
		activeRegion: group.Primary,
	}
}

// Evaluate advances the machine by one cycle using the primary region's
// snapshot. Failing criteria are checked before degradation so a sharp
// collapse moves Stable groups straight through Failing into FailedOver.
func (m *StateMachine) Evaluate(in EvalInput) EvalResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result EvalResult
	composite := in.Primary.CompositeScore
	anomaly := in.Primary.MaxAnomaly
	failures := in.Primary.ConsecutiveFailures

	switch m.state {
	case models.StateStable, models.StateDegraded:
		if reason, failing := m.failingReason(composite, failures, in.CascadeRisk); failing {
			result.Transitions = append(result.Transitions, m.transition(models.StateFailing, in, reason))
			target := m.selectTarget(in.Secondaries)
			decision := m.buildDecision(in.Now, m.activeRegion, target, reason, false)
			result.Transitions = append(result.Transitions,
				m.transition(models.StateFailedOver, in, "failing over to "+target))
			m.activeRegion = target
			m.healthyCycles = 0
			result.Decision = &decision
			break
		}
		if m.state == models.StateStable {
			if composite < m.thresholds.Warning {
				result.Transitions = append(result.Transitions, m.transition(models.StateDegraded, in,
					fmt.Sprintf("composite below warning threshold %.2f", m.thresholds.Warning)))
			} else if anomaly > anomalyDegradedThreshold {
				result.Transitions = append(result.Transitions, m.transition(models.StateDegraded, in,
					fmt.Sprintf("anomaly score above %.2f", anomalyDegradedThreshold)))
			}
		} else if composite >= m.thresholds.Warning && anomaly <= anomalyDegradedThreshold {
			result.Transitions = append(result.Transitions,
				m.transition(models.StateStable, in, "primary recovered above warning threshold"))
		}

	case models.StateFailedOver:
		if composite >= m.thresholds.Warning {
			m.healthyCycles++
		} else {
			m.healthyCycles = 0
		}
		if m.healthyCycles >= m.thresholds.CooldownCycles {
			result.Transitions = append(result.Transitions, m.transition(models.StateRecovering, in,
				fmt.Sprintf("primary healthy for %d consecutive cycles", m.thresholds.CooldownCycles)))
		}

	case models.StateRecovering:
		if composite < m.thresholds.Warning {
			m.healthyCycles = 0
			result.Transitions = append(result.Transitions,
				m.transition(models.StateFailedOver, in, "primary regressed during recovery"))
			break
		}
		if !m.thresholds.AutoFailback {
			// Hold: traffic stays on the secondary until an operator acts.
			break
		}
		decision := m.buildDecision(in.Now, m.activeRegion, m.group.Primary, "automatic fail-back to recovered primary", false)
		result.Transitions = append(result.Transitions,
			m.transition(models.StateStable, in, "failing back to "+m.group.Primary))
		m.activeRegion = m.group.Primary
		m.healthyCycles = 0
		result.Decision = &decision
	}

	return result
}

// Trigger executes a manual traffic move. The target must be one of the
// group's configured regions and differ from the current active region.
// Moving onto the primary lands the group in Stable, anywhere else in
// FailedOver.
func (m *StateMachine) Trigger(fromRegion, toRegion, reason string, now time.Time) (EvalResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.knowsRegion(toRegion) {
		return EvalResult{}, utils.NewAppError("engine.trigger",
			fmt.Sprintf("region %q is not configured for group %q", toRegion, m.group.Name), nil)
	}
	if toRegion == m.activeRegion {
		return EvalResult{}, utils.NewAppError("engine.trigger",
			fmt.Sprintf("group %q already serves from %q", m.group.Name, toRegion), nil)
	}
	if fromRegion != "" && fromRegion != m.activeRegion {
		return EvalResult{}, utils.NewAppError("engine.trigger",
			fmt.Sprintf("group %q serves from %q, not %q", m.group.Name, m.activeRegion, fromRegion), nil)
	}
	if reason == "" {
		reason = "manual failover"
	}

	in := EvalInput{Now: now}
	decision := m.buildDecision(now, m.activeRegion, toRegion, reason, true)
	target := models.StateFailedOver
	if toRegion == m.group.Primary {
		target = models.StateStable
	}

	result := EvalResult{Decision: &decision}
	result.Transitions = append(result.Transitions, m.transition(target, in, reason))
	m.activeRegion = toRegion
	m.healthyCycles = 0
	return result, nil
}

// Status returns the queryable view of the group.
func (m *StateMachine) Status() models.GroupStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.GroupStatus{
		Group:         m.group.Name,
		State:         m.state,
		PrimaryRegion: m.group.Primary,
		ActiveRegion:  m.activeRegion,
		HealthyCycles: m.healthyCycles,
	}
	if m.lastTransition != nil {
		last := *m.lastTransition
		status.LastTransition = &last
	}
	return status
}

// Group returns the group declaration the machine was built with.
func (m *StateMachine) Group() models.TrafficGroup {
	return m.group
}

func (m *StateMachine) failingReason(composite float64, failures int, cascadeRisk float64) (string, bool) {
	if failures >= m.thresholds.ConsecutiveFailures && composite < m.thresholds.Health {
		return fmt.Sprintf("composite below %.2f for %d consecutive cycles",
			m.thresholds.Health, m.thresholds.ConsecutiveFailures), true
	}
	if cascadeRisk > cascadeFailingThreshold {
		return fmt.Sprintf("cascade risk above %.2f", cascadeFailingThreshold), true
	}
	return "", false
}

// selectTarget picks the healthiest secondary. Iterating in declared order
// with a strict comparison resolves score ties by configured priority. A
// secondary without a snapshot counts as fully unhealthy yet stays
// eligible: with every candidate down the first declared one still wins.
func (m *StateMachine) selectTarget(snapshots map[string]models.RegionHealth) string {
	best := ""
	bestScore := -1.0
	for _, region := range m.group.Secondaries {
		score := 0.0
		if snapshot, ok := snapshots[region]; ok {
			score = snapshot.CompositeScore
		}
		if score > bestScore {
			best = region
			bestScore = score
		}
	}
	return best
}

func (m *StateMachine) knowsRegion(region string) bool {
	if region == m.group.Primary {
		return true
	}
	for _, secondary := range m.group.Secondaries {
		if secondary == region {
			return true
		}
	}
	return false
}

func (m *StateMachine) transition(to models.FailoverState, in EvalInput, reason string) models.StateTransition {
	t := models.StateTransition{
		ID:                  uuid.NewString(),
		Group:               m.group.Name,
		From:                m.state,
		To:                  to,
		Timestamp:           in.Now,
		CompositeScore:      in.Primary.CompositeScore,
		AnomalyScore:        in.Primary.MaxAnomaly,
		CascadeRisk:         in.CascadeRisk,
		ConsecutiveFailures: in.Primary.ConsecutiveFailures,
		Reason:              reason,
	}
	m.state = to
	m.lastTransition = &t
	m.logger.Info("state transition",
		slog.String("group", m.group.Name),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)),
		slog.String("reason", reason))
	return t
}

func (m *StateMachine) buildDecision(now time.Time, from, to, reason string, manual bool) models.FailoverDecision {
	endpoint := m.group.RegionEndpoints[to]
	return models.FailoverDecision{
		ID:        uuid.NewString(),
		Group:     m.group.Name,
		From:      from,
		To:        to,
		Reason:    reason,
		Manual:    manual,
		Timestamp: now,
		Actions: []models.ActionStep{
			{Kind: models.ActionDNS, Zone: m.group.DNSZone, Record: m.group.DNSRecord, Target: endpoint},
			{Kind: models.ActionCDN, DistributionID: m.group.CDNDistribution, Origin: endpoint},
			{Kind: models.ActionScaling, ScalingTarget: m.group.ScalingTargets[to], Delta: m.group.ScaleSurge},
		},
	}
}
