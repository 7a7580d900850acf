// Package anomaly grades how far the newest health sample for a service
// sits outside its recent window.
package anomaly

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/utils"
)

// Scorer judges the newest sample of a window. Implementations must return
// a neutral score alongside any error so callers can always proceed.
type Scorer interface {
	Score(service, region string, window []models.HealthSample, now time.Time) (models.AnomalyScore, error)
}

// RobustScorer scores the newest sample against the window's median and
// mean absolute deviation, per signal. Success ratio and latency are scored
// independently and the worse signal wins. Robust statistics keep a single
// historic spike from masking a fresh one.
type RobustScorer struct {
	minSamples int
}

// NewRobustScorer creates a scorer that stays neutral until a window holds
// at least minSamples readings.
func NewRobustScorer(minSamples int) *RobustScorer {
	if minSamples <= 0 {
		minSamples = 5
	}
	return &RobustScorer{minSamples: minSamples}
}

// Score implements Scorer.
func (s *RobustScorer) Score(service, region string, window []models.HealthSample, now time.Time) (models.AnomalyScore, error) {
	result := models.AnomalyScore{Service: service, Region: region, Timestamp: now}
	if len(window) < s.minSamples {
		return result, nil
	}

	ratios := make([]float64, len(window))
	latencies := make([]float64, len(window))
	for i, sample := range window {
		ratios[i] = sample.SuccessRatio
		latencies[i] = sample.Latency.Seconds()
	}

	score := math.Max(signalScore(ratios), signalScore(latencies))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return result, utils.NewAppError("anomaly.score",
			fmt.Sprintf("non-finite outlier score for %s in %s", service, region), nil)
	}
	result.Score = clamp(score, 0, 1)
	return result, nil
}

// signalScore maps the newest value's deviation from the window median,
// measured in mean absolute deviations, onto [0, 1]. Within two deviations
// scores zero, six or more scores one.
func signalScore(values []float64) float64 {
	med := median(values)
	mad := meanAbsoluteDeviation(values, med)
	if mad == 0 {
		return 0
	}
	dev := math.Abs(values[len(values)-1]-med) / mad
	return clamp((dev-2)/4, 0, 1)
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += math.Abs(v - center)
	}
	return total / float64(len(values))
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
