package engine

import (
	"math"
	"testing"

	"github.com/meridianops/meridian-failover/internal/models"
)

func regionHealthWithScores(scores map[string]float64) models.RegionHealth {
	return models.RegionHealth{
		Region:         "eu-west-1",
		ServiceScores:  scores,
		CompositeScore: 0.5,
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAssessHealthyRegionCarriesNoRisk(t *testing.T) {
	edges := []models.DependencyEdge{{Upstream: "db", Downstream: "api", Weight: 0.9}}
	analyzer := NewCascadeAnalyzer(edges, 3, 0.7, nil)

	risks, aggregate := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{
		"db": 0.95, "api": 0.9,
	}))
	if len(risks) != 0 {
		t.Fatalf("expected no risks for healthy region, got %+v", risks)
	}
	if aggregate != 0 {
		t.Fatalf("expected zero aggregate, got %v", aggregate)
	}
}

func TestAssessSumsContributionsAcrossOrigins(t *testing.T) {
	edges := []models.DependencyEdge{
		{Upstream: "db", Downstream: "api", Weight: 0.9},
		{Upstream: "cache", Downstream: "api", Weight: 0.5},
		{Upstream: "api", Downstream: "web", Weight: 0.8},
		{Upstream: "web", Downstream: "edge", Weight: 0.5},
	}
	analyzer := NewCascadeAnalyzer(edges, 3, 0.7, nil)

	risks, aggregate := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{
		"db": 0.2, "cache": 0.4, "api": 0.9, "web": 0.9, "edge": 0.9,
	}))

	// db contributes 0.8*0.9 and cache 0.6*0.5 to api, summing past 1.
	if aggregate != 1 {
		t.Fatalf("expected aggregate clamped to 1, got %v", aggregate)
	}
	if len(risks) != 2 {
		t.Fatalf("expected risks for two origins, got %+v", risks)
	}
	if risks[0].Origin != "db" || !almostEqual(risks[0].Risk, 0.72) {
		t.Fatalf("expected db risk 0.72 first, got %+v", risks[0])
	}
	if risks[1].Origin != "cache" || !almostEqual(risks[1].Risk, 0.3) {
		t.Fatalf("expected cache risk 0.3 second, got %+v", risks[1])
	}
}

func TestAssessGrowsWithDeficiency(t *testing.T) {
	edges := []models.DependencyEdge{{Upstream: "db", Downstream: "api", Weight: 0.4}}
	analyzer := NewCascadeAnalyzer(edges, 3, 0.7, nil)

	_, mild := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{"db": 0.5, "api": 0.9}))
	_, severe := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{"db": 0.3, "api": 0.9}))
	if severe <= mild {
		t.Fatalf("expected aggregate to grow with deficiency: mild %v, severe %v", mild, severe)
	}
}

func TestAssessTerminatesOnCyclicGraph(t *testing.T) {
	edges := []models.DependencyEdge{
		{Upstream: "a", Downstream: "b", Weight: 1},
		{Upstream: "b", Downstream: "a", Weight: 1},
	}
	analyzer := NewCascadeAnalyzer(edges, 3, 0.7, nil)

	risks, aggregate := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{
		"a": 0, "b": 0.9,
	}))
	if aggregate != 1 {
		t.Fatalf("expected full risk through cycle, got %v", aggregate)
	}
	if len(risks) != 1 || risks[0].Origin != "a" {
		t.Fatalf("expected a single origin, got %+v", risks)
	}
}

func TestAssessIgnoresNegligiblePaths(t *testing.T) {
	edges := []models.DependencyEdge{{Upstream: "db", Downstream: "api", Weight: 0.00005}}
	analyzer := NewCascadeAnalyzer(edges, 3, 0.7, nil)

	risks, aggregate := analyzer.Assess("eu-west-1", regionHealthWithScores(map[string]float64{
		"db": 0.5, "api": 0.9,
	}))
	if len(risks) != 0 || aggregate != 0 {
		t.Fatalf("expected negligible path to be cut, got risks %+v aggregate %v", risks, aggregate)
	}
}
