package api

// StatusResponse is the payload for GET /readyz once the engine has
// committed at least one evaluation cycle.
type StatusResponse struct {
	Ready          bool    `json:"ready"`
	Cycles         uint64  `json:"cycles"`
	CycleP95Ms     float64 `json:"cycle_p95_ms"`
	LastCycleAt    string  `json:"last_cycle_at"` // RFC3339
	PollIntervalMs float64 `json:"poll_interval_ms"`
}

// RegionResponse is one region entry in GET /v1/regions.
type RegionResponse struct {
	Region              string             `json:"region"`
	CompositeScore      float64            `json:"composite_score"`
	ServiceScores       map[string]float64 `json:"service_scores"`
	AnomalyScores       map[string]float64 `json:"anomaly_scores"`
	MaxAnomaly          float64            `json:"max_anomaly"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	UpdatedAt           string             `json:"updated_at"` // RFC3339
}

// CascadeRiskResponse attributes propagated risk in a region to the
// unhealthy service that originated it.
type CascadeRiskResponse struct {
	Region string  `json:"region"`
	Origin string  `json:"origin"`
	Risk   float64 `json:"risk"`
}

// RegionDetailResponse is the payload for GET /v1/regions/{region}.
type RegionDetailResponse struct {
	RegionResponse
	CascadeRisks []CascadeRiskResponse `json:"cascade_risks"`
	CascadeTotal float64               `json:"cascade_total"`
}

// GroupResponse is one traffic group in GET /v1/groups or
// GET /v1/groups/{group}.
type GroupResponse struct {
	Group           string              `json:"group"`
	State           string              `json:"state"`
	PrimaryRegion   string              `json:"primary_region"`
	ActiveRegion    string              `json:"active_region"`
	HealthyCycles   int                 `json:"healthy_cycles"`
	LastTransition  *TransitionResponse `json:"last_transition,omitempty"`
	Recommendations []string            `json:"recommendations"`
}

// TransitionResponse is one state machine move, used in group status,
// GET /v1/history and stream frames.
type TransitionResponse struct {
	ID                  string  `json:"id"`
	Group               string  `json:"group"`
	From                string  `json:"from"`
	To                  string  `json:"to"`
	Timestamp           string  `json:"timestamp"` // RFC3339
	CompositeScore      float64 `json:"composite_score"`
	AnomalyScore        float64 `json:"anomaly_score"`
	CascadeRisk         float64 `json:"cascade_risk"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Reason              string  `json:"reason"`
}

// TriggerBody is the request body for POST /v1/groups/{group}/failover.
// FromRegion is optional; when empty the group's active region is assumed.
type TriggerBody struct {
	FromRegion string `json:"from_region,omitempty"`
	ToRegion   string `json:"to_region"`
	Reason     string `json:"reason,omitempty"`
}

// ActionStepResponse is one ordered remediation step within a decision.
// Kind selects which of the remaining fields are meaningful.
type ActionStepResponse struct {
	Kind           string `json:"kind"`
	Zone           string `json:"zone,omitempty"`
	Record         string `json:"record,omitempty"`
	Target         string `json:"target,omitempty"`
	DistributionID string `json:"distribution_id,omitempty"`
	Origin         string `json:"origin,omitempty"`
	ScalingTarget  string `json:"scaling_target,omitempty"`
	Delta          int    `json:"delta,omitempty"`
}

// DecisionResponse is an issued failover decision, returned from
// POST /v1/groups/{group}/failover and pushed on stream frames.
type DecisionResponse struct {
	ID        string               `json:"id"`
	Group     string               `json:"group"`
	From      string               `json:"from"`
	To        string               `json:"to"`
	Reason    string               `json:"reason"`
	Manual    bool                 `json:"manual"`
	Timestamp string               `json:"timestamp"` // RFC3339
	Actions   []ActionStepResponse `json:"actions"`
}

// ActionOutcomeResponse records a single remediation attempt.
type ActionOutcomeResponse struct {
	Action    string `json:"action"`
	Attempt   int    `json:"attempt"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// DecisionRecordResponse pairs a decision with its application progress,
// used in GET /v1/decisions and GET /v1/decisions/{id}.
type DecisionRecordResponse struct {
	Decision  DecisionResponse        `json:"decision"`
	State     string                  `json:"state"`
	Outcomes  []ActionOutcomeResponse `json:"outcomes"`
	UpdatedAt string                  `json:"updated_at"` // RFC3339
}

// RecurrenceResponse is one aggregated transition shape in
// GET /v1/history/recurrences.
type RecurrenceResponse struct {
	Group      string  `json:"group"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	Reason     string  `json:"reason"`
	Count      int     `json:"count"`
	Prevalence float64 `json:"prevalence"`
	LastSeen   string  `json:"last_seen"` // RFC3339
}

// StreamEvent is the JSON envelope for every frame pushed to stream
// clients. Type is one of "groups", "transition" or "decision".
type StreamEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
