package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianops/meridian-failover/internal/history"
	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/utils"
)

// Sentinel errors the transport layer maps onto HTTP status codes.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
)

// EngineQuerier is the view of the evaluation loop the service layer needs.
// The engine runner implements it.
type EngineQuerier interface {
	Status() models.EngineStatus
	Regions() []models.RegionHealth
	Region(name string) (models.RegionHealth, bool)
	CascadeRisks(region string) ([]models.CascadeRisk, float64)
	Groups() []models.GroupStatus
	Group(name string) (models.GroupStatus, bool)
	Trigger(ctx context.Context, req models.TriggerRequest) (models.FailoverDecision, error)
}

// DecisionBook exposes the remediation executor's decision records.
type DecisionBook interface {
	ListDecisions() []models.DecisionRecord
	GetDecision(id string) (models.DecisionRecord, bool)
}

// RegionDetail pairs a region snapshot with its cascade assessment.
type RegionDetail struct {
	Health       models.RegionHealth
	CascadeRisks []models.CascadeRisk
	CascadeTotal float64
}

// FailoverService fronts the engine for the HTTP API: status, region and
// group queries, manual triggers, decision records and transition history.
type FailoverService struct {
	logger    *slog.Logger
	engine    EngineQuerier
	decisions DecisionBook
	log       *history.Log
}

// NewFailoverService constructs the service facade.
func NewFailoverService(logger *slog.Logger, engine EngineQuerier, decisions DecisionBook, log *history.Log) *FailoverService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverService{
		logger:    logger,
		engine:    engine,
		decisions: decisions,
		log:       log,
	}
}

// Status reports evaluation loop liveness. With no engine wired the status
// is permanently not ready.
func (s *FailoverService) Status() models.EngineStatus {
	if s.engine == nil {
		return models.EngineStatus{}
	}
	return s.engine.Status()
}

// LatencyP95 returns the current p95 cycle latency.
func (s *FailoverService) LatencyP95() time.Duration {
	return s.Status().CycleP95
}

// ListRegions returns the latest committed snapshot for every region.
func (s *FailoverService) ListRegions() ([]models.RegionHealth, error) {
	if s.engine == nil {
		return nil, utils.NewAppError("service.regions", "engine not configured", nil)
	}
	return s.engine.Regions(), nil
}

// GetRegion returns one region's snapshot with its cascade assessment.
func (s *FailoverService) GetRegion(name string) (RegionDetail, error) {
	if s.engine == nil {
		return RegionDetail{}, utils.NewAppError("service.region", "engine not configured", nil)
	}
	if name == "" {
		return RegionDetail{}, utils.NewAppError("service.region", "region name required", ErrInvalidRequest)
	}
	health, ok := s.engine.Region(name)
	if !ok {
		return RegionDetail{}, utils.NewAppError("service.region",
			fmt.Sprintf("region %q has no committed snapshot", name), ErrNotFound)
	}
	risks, total := s.engine.CascadeRisks(name)
	return RegionDetail{Health: health, CascadeRisks: risks, CascadeTotal: total}, nil
}

// ListGroups returns the status of every traffic group.
func (s *FailoverService) ListGroups() ([]models.GroupStatus, error) {
	if s.engine == nil {
		return nil, utils.NewAppError("service.groups", "engine not configured", nil)
	}
	return s.engine.Groups(), nil
}

// GetGroup returns one traffic group's status.
func (s *FailoverService) GetGroup(name string) (models.GroupStatus, error) {
	if s.engine == nil {
		return models.GroupStatus{}, utils.NewAppError("service.group", "engine not configured", nil)
	}
	if name == "" {
		return models.GroupStatus{}, utils.NewAppError("service.group", "group name required", ErrInvalidRequest)
	}
	status, ok := s.engine.Group(name)
	if !ok {
		return models.GroupStatus{}, utils.NewAppError("service.group",
			fmt.Sprintf("unknown traffic group %q", name), ErrNotFound)
	}
	return status, nil
}

// TriggerFailover validates and executes a manual traffic move.
func (s *FailoverService) TriggerFailover(ctx context.Context, req models.TriggerRequest) (models.FailoverDecision, error) {
	if s.engine == nil {
		return models.FailoverDecision{}, utils.NewAppError("service.trigger", "engine not configured", nil)
	}
	if req.Group == "" {
		return models.FailoverDecision{}, utils.NewAppError("service.trigger", "group required", ErrInvalidRequest)
	}
	if req.ToRegion == "" {
		return models.FailoverDecision{}, utils.NewAppError("service.trigger", "target region required", ErrInvalidRequest)
	}
	if _, ok := s.engine.Group(req.Group); !ok {
		return models.FailoverDecision{}, utils.NewAppError("service.trigger",
			fmt.Sprintf("unknown traffic group %q", req.Group), ErrNotFound)
	}

	decision, err := s.engine.Trigger(ctx, req)
	if err != nil {
		s.logger.Warn("manual failover rejected",
			slog.String("group", req.Group),
			slog.String("to", req.ToRegion),
			slog.Any("error", err))
		return models.FailoverDecision{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	s.logger.Info("manual failover triggered",
		slog.String("decision", decision.ID),
		slog.String("group", decision.Group),
		slog.String("from", decision.From),
		slog.String("to", decision.To),
		slog.String("reason", decision.Reason))
	return decision, nil
}

// ListDecisions returns every decision record, newest first.
func (s *FailoverService) ListDecisions() ([]models.DecisionRecord, error) {
	if s.decisions == nil {
		return nil, utils.NewAppError("service.decisions", "executor not configured", nil)
	}
	return s.decisions.ListDecisions(), nil
}

// GetDecision returns one decision record by id or idempotency key.
func (s *FailoverService) GetDecision(id string) (models.DecisionRecord, error) {
	if s.decisions == nil {
		return models.DecisionRecord{}, utils.NewAppError("service.decision", "executor not configured", nil)
	}
	if id == "" {
		return models.DecisionRecord{}, utils.NewAppError("service.decision", "decision id required", ErrInvalidRequest)
	}
	record, ok := s.decisions.GetDecision(id)
	if !ok {
		return models.DecisionRecord{}, utils.NewAppError("service.decision",
			fmt.Sprintf("unknown decision %q", id), ErrNotFound)
	}
	return record, nil
}

// ListHistory returns transitions matching the filter, newest first.
func (s *FailoverService) ListHistory(req models.ListHistoryRequest) ([]models.StateTransition, error) {
	if s.log == nil {
		return nil, utils.NewAppError("service.history", "history log not configured", nil)
	}
	if !req.Start.IsZero() && !req.End.IsZero() && req.End.Before(req.Start) {
		return nil, utils.NewAppError("service.history", "time range end precedes start", ErrInvalidRequest)
	}
	return s.log.List(req), nil
}

// Recurrences summarises repeating transition patterns across the history
// log.
func (s *FailoverService) Recurrences() ([]models.RecurrenceSummary, error) {
	if s.log == nil {
		return nil, utils.NewAppError("service.recurrences", "history log not configured", nil)
	}
	return s.log.Recurrences(), nil
}
