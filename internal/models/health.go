package models

import "time"

// HealthSample is one normalised probe reading for a service in a region.
type HealthSample struct {
	Service      string
	Region       string
	Timestamp    time.Time
	SuccessRatio float64
	Latency      time.Duration
	Reachable    bool
}

// AnomalyScore grades how far the newest sample for a service sits outside
// its recent window. Zero is nominal, one is an extreme outlier.
type AnomalyScore struct {
	Service   string
	Region    string
	Timestamp time.Time
	Score     float64
}

// RegionHealth is the per-region aggregate produced once per evaluation cycle.
// ServiceScores and AnomalyScores are keyed by service name.
type RegionHealth struct {
	Region              string
	CompositeScore      float64
	ServiceScores       map[string]float64
	AnomalyScores       map[string]float64
	MaxAnomaly          float64
	ConsecutiveFailures int
	UpdatedAt           time.Time
}

// Clone returns a deep copy safe to hand across goroutines.
func (r RegionHealth) Clone() RegionHealth {
	out := r
	out.ServiceScores = make(map[string]float64, len(r.ServiceScores))
	for k, v := range r.ServiceScores {
		out.ServiceScores[k] = v
	}
	out.AnomalyScores = make(map[string]float64, len(r.AnomalyScores))
	for k, v := range r.AnomalyScores {
		out.AnomalyScores[k] = v
	}
	return out
}

// DependencyEdge declares that Downstream degrades when Upstream does,
// scaled by Weight in (0, 1].
type DependencyEdge struct {
	Upstream   string
	Downstream string
	Weight     float64
}

// CascadeRisk attributes propagated risk in a region to the unhealthy
// service that originated it.
type CascadeRisk struct {
	Region string
	Origin string
	Risk   float64
}

// Severity captures alert impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)
