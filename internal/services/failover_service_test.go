package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/meridianops/meridian-failover/internal/history"
	"github.com/meridianops/meridian-failover/internal/models"
)

type engineStub struct {
	status     models.EngineStatus
	regions    map[string]models.RegionHealth
	risks      map[string][]models.CascadeRisk
	totals     map[string]float64
	groups     map[string]models.GroupStatus
	decision   models.FailoverDecision
	triggerErr error
	triggered  *models.TriggerRequest
}

func (e *engineStub) Status() models.EngineStatus { return e.status }

func (e *engineStub) Regions() []models.RegionHealth {
	names := make([]string, 0, len(e.regions))
	for name := range e.regions {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.RegionHealth, 0, len(names))
	for _, name := range names {
		out = append(out, e.regions[name])
	}
	return out
}

func (e *engineStub) Region(name string) (models.RegionHealth, bool) {
	health, ok := e.regions[name]
	return health, ok
}

func (e *engineStub) CascadeRisks(region string) ([]models.CascadeRisk, float64) {
	return e.risks[region], e.totals[region]
}

func (e *engineStub) Groups() []models.GroupStatus {
	out := make([]models.GroupStatus, 0, len(e.groups))
	for _, status := range e.groups {
		out = append(out, status)
	}
	return out
}

func (e *engineStub) Group(name string) (models.GroupStatus, bool) {
	status, ok := e.groups[name]
	return status, ok
}

func (e *engineStub) Trigger(_ context.Context, req models.TriggerRequest) (models.FailoverDecision, error) {
	e.triggered = &req
	if e.triggerErr != nil {
		return models.FailoverDecision{}, e.triggerErr
	}
	return e.decision, nil
}

type decisionBookStub struct {
	records map[string]models.DecisionRecord
}

func (d *decisionBookStub) ListDecisions() []models.DecisionRecord {
	out := make([]models.DecisionRecord, 0, len(d.records))
	for _, record := range d.records {
		out = append(out, record)
	}
	return out
}

func (d *decisionBookStub) GetDecision(id string) (models.DecisionRecord, bool) {
	record, ok := d.records[id]
	return record, ok
}

func healthyEngineStub() *engineStub {
	return &engineStub{
		status: models.EngineStatus{Ready: true, Cycles: 42, PollInterval: 30 * time.Second},
		regions: map[string]models.RegionHealth{
			"eu-west-1": {Region: "eu-west-1", CompositeScore: 0.95},
			"us-east-1": {Region: "us-east-1", CompositeScore: 0.9},
		},
		risks: map[string][]models.CascadeRisk{
			"eu-west-1": {{Region: "eu-west-1", Origin: "api", Risk: 0.3}},
		},
		totals: map[string]float64{"eu-west-1": 0.3},
		groups: map[string]models.GroupStatus{
			"checkout-flow": {Group: "checkout-flow", State: models.StateStable, ActiveRegion: "eu-west-1"},
		},
		decision: models.FailoverDecision{ID: "d-1", Group: "checkout-flow", To: "us-east-1", Manual: true},
	}
}

func TestGetRegionReturnsDetail(t *testing.T) {
	service := NewFailoverService(nil, healthyEngineStub(), nil, nil)

	detail, err := service.GetRegion("eu-west-1")
	if err != nil {
		t.Fatalf("GetRegion: %v", err)
	}
	if detail.Health.CompositeScore != 0.95 {
		t.Fatalf("composite = %v, want 0.95", detail.Health.CompositeScore)
	}
	if len(detail.CascadeRisks) != 1 || detail.CascadeTotal != 0.3 {
		t.Fatalf("cascade detail = %+v", detail)
	}
}

func TestGetRegionUnknownIsNotFound(t *testing.T) {
	service := NewFailoverService(nil, healthyEngineStub(), nil, nil)

	_, err := service.GetRegion("mars-north-1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestTriggerFailoverValidatesRequest(t *testing.T) {
	engine := healthyEngineStub()
	service := NewFailoverService(nil, engine, nil, nil)

	cases := []struct {
		name string
		req  models.TriggerRequest
		want error
	}{
		{"missing group", models.TriggerRequest{ToRegion: "us-east-1"}, ErrInvalidRequest},
		{"missing target", models.TriggerRequest{Group: "checkout-flow"}, ErrInvalidRequest},
		{"unknown group", models.TriggerRequest{Group: "ghost", ToRegion: "us-east-1"}, ErrNotFound},
	}
	for _, tc := range cases {
		if _, err := service.TriggerFailover(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
	if engine.triggered != nil {
		t.Fatalf("invalid request reached the engine: %+v", engine.triggered)
	}
}

func TestTriggerFailoverPassesThrough(t *testing.T) {
	engine := healthyEngineStub()
	service := NewFailoverService(nil, engine, nil, nil)

	req := models.TriggerRequest{Group: "checkout-flow", ToRegion: "us-east-1", Reason: "drill"}
	decision, err := service.TriggerFailover(context.Background(), req)
	if err != nil {
		t.Fatalf("TriggerFailover: %v", err)
	}
	if decision.ID != "d-1" {
		t.Fatalf("decision = %+v", decision)
	}
	if engine.triggered == nil || engine.triggered.Reason != "drill" {
		t.Fatalf("engine saw request %+v", engine.triggered)
	}
}

func TestTriggerFailoverEngineRejectionIsInvalid(t *testing.T) {
	engine := healthyEngineStub()
	engine.triggerErr = errors.New("group \"checkout-flow\" already serves from \"us-east-1\"")
	service := NewFailoverService(nil, engine, nil, nil)

	_, err := service.TriggerFailover(context.Background(), models.TriggerRequest{
		Group:    "checkout-flow",
		ToRegion: "us-east-1",
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGetDecisionLookup(t *testing.T) {
	book := &decisionBookStub{records: map[string]models.DecisionRecord{
		"checkout-flow:123": {
			Decision: models.FailoverDecision{ID: "d-1", Group: "checkout-flow"},
			State:    models.DecisionApplied,
		},
	}}
	service := NewFailoverService(nil, nil, book, nil)

	record, err := service.GetDecision("checkout-flow:123")
	if err != nil {
		t.Fatalf("GetDecision: %v", err)
	}
	if record.State != models.DecisionApplied {
		t.Fatalf("state = %s", record.State)
	}

	if _, err := service.GetDecision("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListHistoryValidatesRange(t *testing.T) {
	log := history.NewLog(10)
	log.Append(models.StateTransition{
		ID:        "t-1",
		Group:     "checkout-flow",
		From:      models.StateStable,
		To:        models.StateDegraded,
		Timestamp: time.Unix(1700000000, 0).UTC(),
	})
	service := NewFailoverService(nil, nil, nil, log)

	_, err := service.ListHistory(models.ListHistoryRequest{
		Start: time.Unix(1700001000, 0),
		End:   time.Unix(1700000000, 0),
	})
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for inverted range, got %v", err)
	}

	transitions, err := service.ListHistory(models.ListHistoryRequest{Group: "checkout-flow"})
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(transitions) != 1 || transitions[0].ID != "t-1" {
		t.Fatalf("transitions = %+v", transitions)
	}
}

func TestQueriesWithoutEngineFail(t *testing.T) {
	service := NewFailoverService(nil, nil, nil, nil)

	if status := service.Status(); status.Ready {
		t.Fatalf("status without engine reports ready")
	}
	if _, err := service.ListRegions(); err == nil {
		t.Fatalf("expected error without engine")
	}
	if _, err := service.ListDecisions(); err == nil {
		t.Fatalf("expected error without executor")
	}
	if _, err := service.Recurrences(); err == nil {
		t.Fatalf("expected error without history log")
	}
}
