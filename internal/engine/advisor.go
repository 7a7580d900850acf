package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meridianops/meridian-failover/internal/models"
)

// Advisor attaches operator guidance to group status responses based on a
// YAML rule pack. A nil Advisor is valid and recommends nothing.
type Advisor struct {
	rules  []AdvisorRule
	logger *slog.Logger
}

// AdvisorRule pairs match conditions with the recommendations they unlock.
type AdvisorRule struct {
	ID              string       `yaml:"id"`
	Match           AdvisorMatch `yaml:"match"`
	Recommendations []string     `yaml:"recommendations"`
}

// AdvisorMatch defines optional attributes for rule matching. Zero values
// leave a condition unset.
type AdvisorMatch struct {
	Group        string  `yaml:"group"`
	State        string  `yaml:"state"`
	MaxComposite float64 `yaml:"max_composite"`
	MinCascade   float64 `yaml:"min_cascade"`
	MinAnomaly   float64 `yaml:"min_anomaly"`
}

type advisorRuleFile struct {
	Rules []AdvisorRule `yaml:"rules"`
}

// NewAdvisor loads rules from the provided path. An empty or absent path
// yields a nil advisor; a malformed rule pack is a startup error.
func NewAdvisor(path string, logger *slog.Logger) (*Advisor, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file advisorRuleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{rules: file.Rules, logger: logger}, nil
}

// Advise returns deduplicated recommendations for the group given its
// primary region snapshot and aggregate cascade risk.
func (a *Advisor) Advise(status models.GroupStatus, primary models.RegionHealth, cascadeRisk float64) []string {
	if a == nil {
		return nil
	}

	matched := make([]string, 0)
	for _, rule := range a.rules {
		if rule.Match.Group != "" && !strings.EqualFold(rule.Match.Group, status.Group) {
			continue
		}
		if rule.Match.State != "" && !strings.EqualFold(rule.Match.State, string(status.State)) {
			continue
		}
		if rule.Match.MaxComposite > 0 && primary.CompositeScore > rule.Match.MaxComposite {
			continue
		}
		if rule.Match.MinCascade > 0 && cascadeRisk < rule.Match.MinCascade {
			continue
		}
		if rule.Match.MinAnomaly > 0 && primary.MaxAnomaly < rule.Match.MinAnomaly {
			continue
		}
		matched = appendRecommendations(matched, rule.Recommendations...)
	}
	return matched
}

func appendRecommendations(existing []string, additions ...string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, rec := range existing {
		seen[rec] = struct{}{}
	}
	for _, item := range additions {
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		existing = append(existing, item)
		seen[item] = struct{}{}
	}
	return existing
}
