package models

import "time"

// TriggerRequest represents a manual failover command for a traffic group.
// FromRegion is optional; when empty the group's current active region is
// assumed. ToRegion must be one of the group's configured regions.
type TriggerRequest struct {
	Group      string
	FromRegion string
	ToRegion   string
	Reason     string
}

// ListHistoryRequest captures filters for the transition history.
type ListHistoryRequest struct {
	Group string
	Start time.Time
	End   time.Time
	Limit int
}

// RecurrenceSummary aggregates transitions that repeat with the same group,
// edge and reason. Prevalence is the share of all recorded transitions.
type RecurrenceSummary struct {
	Group      string
	From       FailoverState
	To         FailoverState
	Reason     string
	Count      int
	Prevalence float64
	LastSeen   time.Time
}

// EngineStatus reports liveness facts about the evaluation loop.
type EngineStatus struct {
	Ready        bool
	Cycles       uint64
	CycleP95     time.Duration
	LastCycleAt  time.Time
	PollInterval time.Duration
}
