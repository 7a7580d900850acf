package models

import (
	"fmt"
	"time"
)

// FailoverState enumerates the operational states of a traffic group.
type FailoverState string

const (
	StateStable     FailoverState = "stable"
	StateDegraded   FailoverState = "degraded"
	StateFailing    FailoverState = "failing"
	StateFailedOver FailoverState = "failed_over"
	StateRecovering FailoverState = "recovering"
)

// ActionKind enumerates remediation step types.
type ActionKind string

const (
	ActionDNS     ActionKind = "dns"
	ActionCDN     ActionKind = "cdn"
	ActionScaling ActionKind = "scaling"
)

// TrafficGroup is a unit of traffic that fails over as a whole. Secondaries
// are listed in declared priority order. RegionEndpoints and ScalingTargets
// map every region the group can serve to its origin hostname and capacity
// pool identifier.
type TrafficGroup struct {
	Name            string
	Primary         string
	Secondaries     []string
	DNSZone         string
	DNSRecord       string
	CDNDistribution string
	RegionEndpoints map[string]string
	ScalingTargets  map[string]string
	ScaleSurge      int
}

// Regions returns the primary followed by the secondaries in priority order.
func (g TrafficGroup) Regions() []string {
	out := make([]string, 0, len(g.Secondaries)+1)
	out = append(out, g.Primary)
	out = append(out, g.Secondaries...)
	return out
}

// ActionStep is one ordered remediation step within a decision. Kind selects
// which field group is meaningful.
type ActionStep struct {
	Kind ActionKind

	// DNS
	Zone   string
	Record string
	Target string

	// CDN
	DistributionID string
	Origin         string

	// Scaling
	ScalingTarget string
	Delta         int
}

// FailoverDecision is an immutable directive to repoint a traffic group from
// one region to another. Actions are applied in order.
type FailoverDecision struct {
	ID        string
	Group     string
	From      string
	To        string
	Reason    string
	Manual    bool
	Timestamp time.Time
	Actions   []ActionStep
}

// IdempotencyKey identifies the decision for at-most-once application. Two
// decisions for the same group issued at the same instant are the same
// decision.
func (d FailoverDecision) IdempotencyKey() string {
	return fmt.Sprintf("%s:%d", d.Group, d.Timestamp.UnixNano())
}

// DecisionState tracks how far a decision's actions have progressed.
type DecisionState string

const (
	DecisionPending DecisionState = "pending"
	DecisionApplied DecisionState = "applied"
	DecisionPartial DecisionState = "partially_applied"
)

// ActionOutcome records a single remediation attempt. Outcome logs are
// append-only.
type ActionOutcome struct {
	DecisionKey string
	Action      ActionKind
	Attempt     int
	Success     bool
	Error       string
	Timestamp   time.Time
}

// DecisionRecord pairs a decision with its application progress.
type DecisionRecord struct {
	Decision  FailoverDecision
	State     DecisionState
	Outcomes  []ActionOutcome
	UpdatedAt time.Time
}

// StateTransition records one state machine move together with the scores
// that triggered it.
type StateTransition struct {
	ID                  string
	Group               string
	From                FailoverState
	To                  FailoverState
	Timestamp           time.Time
	CompositeScore      float64
	AnomalyScore        float64
	CascadeRisk         float64
	ConsecutiveFailures int
	Reason              string
}

// GroupStatus is the queryable view of one traffic group.
type GroupStatus struct {
	Group           string
	State           FailoverState
	PrimaryRegion   string
	ActiveRegion    string
	HealthyCycles   int
	LastTransition  *StateTransition
	Recommendations []string
}
