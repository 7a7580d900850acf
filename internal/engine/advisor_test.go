package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/meridianops/meridian-failover/internal/models"
)

const advisorRulesYAML = `rules:
  - id: degraded-composite
    match:
      state: degraded
      max_composite: 0.85
    recommendations:
      - "Check recent deploys in the primary region"
      - "Inspect upstream provider status pages"
  - id: cascade-pressure
    match:
      min_cascade: 0.5
    recommendations:
      - "Review dependency graph for shared bottlenecks"
      - "Check recent deploys in the primary region"
  - id: other-group
    match:
      group: search-flow
    recommendations:
      - "Rebuild the search index"
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestNewAdvisorMissingFileIsNil(t *testing.T) {
	advisor, err := NewAdvisor(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advisor != nil {
		t.Fatalf("expected nil advisor for missing file")
	}
	if recs := advisor.Advise(models.GroupStatus{}, models.RegionHealth{}, 0); recs != nil {
		t.Fatalf("nil advisor should recommend nothing, got %+v", recs)
	}
}

func TestNewAdvisorMalformedFileFails(t *testing.T) {
	path := writeRules(t, "rules: [odd\n  - broken")
	if _, err := NewAdvisor(path, nil); err == nil {
		t.Fatalf("expected parse error for malformed rule pack")
	}
}

func TestAdviseMatchesAndDeduplicates(t *testing.T) {
	advisor, err := NewAdvisor(writeRules(t, advisorRulesYAML), nil)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	status := models.GroupStatus{Group: "checkout-flow", State: models.StateDegraded}
	primary := models.RegionHealth{CompositeScore: 0.8}
	recs := advisor.Advise(status, primary, 0.6)

	want := []string{
		"Check recent deploys in the primary region",
		"Inspect upstream provider status pages",
		"Review dependency graph for shared bottlenecks",
	}
	if len(recs) != len(want) {
		t.Fatalf("recommendations = %+v, want %+v", recs, want)
	}
	for i := range want {
		if recs[i] != want[i] {
			t.Fatalf("recommendation %d = %q, want %q", i, recs[i], want[i])
		}
	}
}

func TestAdviseSkipsNonMatchingRules(t *testing.T) {
	advisor, err := NewAdvisor(writeRules(t, advisorRulesYAML), nil)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}

	status := models.GroupStatus{Group: "checkout-flow", State: models.StateStable}
	primary := models.RegionHealth{CompositeScore: 0.97}
	if recs := advisor.Advise(status, primary, 0.1); len(recs) != 0 {
		t.Fatalf("expected no recommendations for a healthy stable group, got %+v", recs)
	}
}
