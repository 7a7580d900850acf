package engine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

// Aggregator folds per-service observations into one RegionHealth per cycle.
// Observe collects a cycle's samples; Evaluate closes the cycle for a region
// and returns an immutable snapshot. The consecutive failure counter advances
// exactly once per Evaluate call.
type Aggregator struct {
	logger                *slog.Logger
	weights               map[string]float64
	serviceNames          []string
	healthThreshold       float64
	penaltyWeight         float64
	responseTimeThreshold time.Duration

	mu      sync.Mutex
	regions map[string]*regionState
}

type regionState struct {
	cycle               map[string]observation
	consecutiveFailures int
}

type observation struct {
	sample  models.HealthSample
	anomaly float64
}

// NewAggregator creates an aggregator weighting services per the given map.
// Weights are expected to sum to one; validation happens at config load.
func NewAggregator(weights map[string]float64, healthThreshold, penaltyWeight float64, responseTimeThreshold time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	names := make([]string, 0, len(weights))
	for name := range weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Aggregator{
		logger:                logger,
		weights:               weights,
		serviceNames:          names,
		healthThreshold:       healthThreshold,
		penaltyWeight:         penaltyWeight,
		responseTimeThreshold: responseTimeThreshold,
	}
}

// Observe records one service observation for the sample's region within the
// current cycle. Unknown services are dropped with a warning so a probe for
// a decommissioned service cannot skew the composite.
func (g *Aggregator) Observe(sample models.HealthSample, anomaly models.AnomalyScore) {
	if _, known := g.weights[sample.Service]; !known {
		g.logger.Warn("dropping observation for unconfigured service",
			slog.String("service", sample.Service), slog.String("region", sample.Region))
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	state := g.ensureRegion(sample.Region)
	state.cycle[sample.Service] = observation{sample: sample, anomaly: anomaly.Score}
}

// Evaluate closes the current cycle for the region. Services without an
// observation this cycle contribute a zero score, bounded by their weight.
func (g *Aggregator) Evaluate(region string, now time.Time) models.RegionHealth {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.ensureRegion(region)
	scores := make(map[string]float64, len(g.serviceNames))
	anomalies := make(map[string]float64, len(g.serviceNames))

	composite := 0.0
	maxAnomaly := 0.0
	for _, service := range g.serviceNames {
		score := 0.0
		anomalyScore := 0.0
		if obs, ok := state.cycle[service]; ok {
			score = g.normalize(obs.sample)
			anomalyScore = obs.anomaly
		}
		scores[service] = score
		anomalies[service] = anomalyScore
		composite += g.weights[service] * score
		if anomalyScore > maxAnomaly {
			maxAnomaly = anomalyScore
		}
	}

	composite -= g.penaltyWeight * maxAnomaly
	composite = clamp(composite, 0, 1)

	if composite < g.healthThreshold {
		state.consecutiveFailures++
	} else {
		state.consecutiveFailures = 0
	}
	state.cycle = make(map[string]observation)

	return models.RegionHealth{
		Region:              region,
		CompositeScore:      composite,
		ServiceScores:       scores,
		AnomalyScores:       anomalies,
		MaxAnomaly:          maxAnomaly,
		ConsecutiveFailures: state.consecutiveFailures,
		UpdatedAt:           now,
	}
}

// normalize maps one sample to a [0, 1] service score. Unreachable services
// score zero; slow responses scale the success ratio down proportionally to
// how far the latency overshoots the threshold.
func (g *Aggregator) normalize(sample models.HealthSample) float64 {
	if !sample.Reachable {
		return 0
	}
	score := clamp(sample.SuccessRatio, 0, 1)
	if g.responseTimeThreshold > 0 && sample.Latency > g.responseTimeThreshold {
		score *= g.responseTimeThreshold.Seconds() / sample.Latency.Seconds()
	}
	return clamp(score, 0, 1)
}

func (g *Aggregator) ensureRegion(region string) *regionState {
	if g.regions == nil {
		g.regions = make(map[string]*regionState)
	}
	state, ok := g.regions[region]
	if !ok {
		state = &regionState{cycle: make(map[string]observation)}
		g.regions[region] = state
	}
	return state
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
