package engine

import (
	"log/slog"
	"sort"

	"github.com/meridianops/meridian-failover/internal/models"
)

// CascadeAnalyzer walks the service dependency graph to estimate how much
// risk the unhealthy services in a region propagate to their dependents.
type CascadeAnalyzer struct {
	logger          *slog.Logger
	downstream      map[string][]models.DependencyEdge
	depth           int
	healthThreshold float64
}

// negligibleRisk cuts propagation paths whose contribution can no longer
// change a failover decision. It also bounds traversal on cyclic graphs.
const negligibleRisk = 1e-4

// NewCascadeAnalyzer indexes the dependency edges by upstream service.
// Traversal stops after depth hops from an unhealthy origin.
func NewCascadeAnalyzer(edges []models.DependencyEdge, depth int, healthThreshold float64, logger *slog.Logger) *CascadeAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if depth <= 0 {
		depth = 3
	}
	downstream := make(map[string][]models.DependencyEdge)
	for _, edge := range edges {
		downstream[edge.Upstream] = append(downstream[edge.Upstream], edge)
	}
	return &CascadeAnalyzer{
		logger:          logger,
		downstream:      downstream,
		depth:           depth,
		healthThreshold: healthThreshold,
	}
}

// Assess computes per-origin cascade risks for the region plus the aggregate
// region risk. The aggregate is the worst summed risk any single dependent
// accumulates across all origins, clamped to [0, 1]. Origins are services
// scoring below the health threshold; risk decays multiplicatively along
// dependency edges.
func (a *CascadeAnalyzer) Assess(region string, health models.RegionHealth) ([]models.CascadeRisk, float64) {
	accumulated := make(map[string]float64)
	perOrigin := make(map[string]float64)

	origins := make([]string, 0, len(health.ServiceScores))
	for service := range health.ServiceScores {
		origins = append(origins, service)
	}
	sort.Strings(origins)

	for _, service := range origins {
		score := health.ServiceScores[service]
		if score >= a.healthThreshold {
			continue
		}
		a.propagate(service, 1-score, accumulated, perOrigin)
	}

	risks := make([]models.CascadeRisk, 0, len(perOrigin))
	for origin, risk := range perOrigin {
		risks = append(risks, models.CascadeRisk{
			Region: region,
			Origin: origin,
			Risk:   clamp(risk, 0, 1),
		})
	}
	sort.Slice(risks, func(i, j int) bool {
		if risks[i].Risk != risks[j].Risk {
			return risks[i].Risk > risks[j].Risk
		}
		return risks[i].Origin < risks[j].Origin
	})

	aggregate := 0.0
	for _, total := range accumulated {
		if c := clamp(total, 0, 1); c > aggregate {
			aggregate = c
		}
	}
	return risks, aggregate
}

type hop struct {
	service string
	impact  float64
	depth   int
}

// propagate spreads an origin's deficiency breadth-first along downstream
// edges. Each dependent sums contributions from every path reaching it;
// perOrigin keeps the strongest single contribution for attribution.
func (a *CascadeAnalyzer) propagate(origin string, deficiency float64, accumulated, perOrigin map[string]float64) {
	queue := []hop{{service: origin, impact: deficiency, depth: 0}}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= a.depth {
			continue
		}
		for _, edge := range a.downstream[current.service] {
			contribution := current.impact * edge.Weight
			if contribution <= negligibleRisk {
				continue
			}
			accumulated[edge.Downstream] += contribution
			if contribution > perOrigin[origin] {
				perOrigin[origin] = contribution
			}
			queue = append(queue, hop{service: edge.Downstream, impact: contribution, depth: current.depth + 1})
		}
	}
}
