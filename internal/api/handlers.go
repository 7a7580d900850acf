package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/services"
	"github.com/meridianops/meridian-failover/internal/utils"
)

const (
	// triggerRateLimit caps manual failover requests per client IP
	// per triggerRateWindow.
	triggerRateLimit  = 5
	triggerRateWindow = time.Minute
)

// RouterConfig holds the dependencies for NewRouter.
type RouterConfig struct {
	Service *services.FailoverService
	Hub     *Hub
	Logger  *slog.Logger
}

// NewRouter builds the chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{svc: cfg.Service, logger: logger}

	r := chi.NewRouter()

	// Global middleware, order matters.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", h.healthz)
	r.Get("/readyz", h.readyz)

	// Triggers mutate routing state, so they carry a per-IP rate limit.
	triggerLimit := httprate.Limit(
		triggerRateLimit,
		triggerRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByRealIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "trigger rate limit exceeded")
		}),
	)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/regions", h.listRegions)
		r.Get("/regions/{region}", h.getRegion)
		r.Get("/groups", h.listGroups)
		r.Get("/groups/{group}", h.getGroup)
		r.With(triggerLimit).Post("/groups/{group}/failover", h.triggerFailover)
		r.Get("/decisions", h.listDecisions)
		r.Get("/decisions/{id}", h.getDecision)
		r.Get("/history", h.listHistory)
		r.Get("/history/recurrences", h.listRecurrences)
		if cfg.Hub != nil {
			r.Get("/stream", cfg.Hub.ServeHTTP)
		}
	})

	return r
}

// Handler serves the JSON API over the failover service facade.
type Handler struct {
	svc    *services.FailoverService
	logger *slog.Logger
}

// healthz reports process liveness only.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports readiness. The engine is ready once it has committed
// its first evaluation cycle.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	status := h.svc.Status()
	if !status.Ready {
		writeError(w, http.StatusServiceUnavailable, "engine has not completed a cycle yet")
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(status))
}

// listRegions returns GET /v1/regions, the committed per-region aggregates.
func (h *Handler) listRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.svc.ListRegions()
	if err != nil {
		h.fail(w, "list regions", err)
		return
	}
	out := make([]RegionResponse, 0, len(regions))
	for _, region := range regions {
		out = append(out, toRegionResponse(region))
	}
	writeJSON(w, http.StatusOK, out)
}

// getRegion returns GET /v1/regions/{region} including cascade attribution.
func (h *Handler) getRegion(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetRegion(chi.URLParam(r, "region"))
	if err != nil {
		h.fail(w, "get region", err)
		return
	}
	writeJSON(w, http.StatusOK, toRegionDetailResponse(detail))
}

// listGroups returns GET /v1/groups.
func (h *Handler) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.ListGroups()
	if err != nil {
		h.fail(w, "list groups", err)
		return
	}
	out := make([]GroupResponse, 0, len(groups))
	for _, group := range groups {
		out = append(out, toGroupResponse(group))
	}
	writeJSON(w, http.StatusOK, out)
}

// getGroup returns GET /v1/groups/{group}.
func (h *Handler) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.svc.GetGroup(chi.URLParam(r, "group"))
	if err != nil {
		h.fail(w, "get group", err)
		return
	}
	writeJSON(w, http.StatusOK, toGroupResponse(group))
}

// triggerFailover handles POST /v1/groups/{group}/failover. The decision
// is returned immediately; remediation steps apply asynchronously.
func (h *Handler) triggerFailover(w http.ResponseWriter, r *http.Request) {
	var body TriggerBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	decision, err := h.svc.TriggerFailover(r.Context(), models.TriggerRequest{
		Group:      chi.URLParam(r, "group"),
		FromRegion: body.FromRegion,
		ToRegion:   body.ToRegion,
		Reason:     body.Reason,
	})
	if err != nil {
		h.fail(w, "trigger failover", err)
		return
	}
	writeJSON(w, http.StatusAccepted, toDecisionResponse(decision))
}

// listDecisions returns GET /v1/decisions, newest first.
func (h *Handler) listDecisions(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.ListDecisions()
	if err != nil {
		h.fail(w, "list decisions", err)
		return
	}
	out := make([]DecisionRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toDecisionRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

// getDecision returns GET /v1/decisions/{id}. The id matches either the
// decision ID or its idempotency key.
func (h *Handler) getDecision(w http.ResponseWriter, r *http.Request) {
	record, err := h.svc.GetDecision(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get decision", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionRecordResponse(record))
}

// listHistory returns GET /v1/history filtered by the group, start, end
// and limit query parameters.
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	req := models.ListHistoryRequest{Group: r.URL.Query().Get("group")}

	start, err := utils.OptionalRFC3339(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	req.Start = start

	end, err := utils.OptionalRFC3339(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	req.End = end
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		req.Limit = n
	}

	transitions, err := h.svc.ListHistory(req)
	if err != nil {
		h.fail(w, "list history", err)
		return
	}
	out := make([]TransitionResponse, 0, len(transitions))
	for _, transition := range transitions {
		out = append(out, toTransitionResponse(transition))
	}
	writeJSON(w, http.StatusOK, out)
}

// listRecurrences returns GET /v1/history/recurrences.
func (h *Handler) listRecurrences(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.svc.Recurrences()
	if err != nil {
		h.fail(w, "list recurrences", err)
		return
	}
	out := make([]RecurrenceResponse, 0, len(summaries))
	for _, summary := range summaries {
		out = append(out, RecurrenceResponse{
			Group:      summary.Group,
			From:       string(summary.From),
			To:         string(summary.To),
			Reason:     summary.Reason,
			Count:      summary.Count,
			Prevalence: summary.Prevalence,
			LastSeen:   summary.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// fail maps service errors onto HTTP status codes.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// requestLogger emits one structured log line per completed request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}

// --- helpers ----------------------------------------------------------------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func toStatusResponse(status models.EngineStatus) StatusResponse {
	return StatusResponse{
		Ready:          status.Ready,
		Cycles:         status.Cycles,
		CycleP95Ms:     float64(status.CycleP95) / float64(time.Millisecond),
		LastCycleAt:    status.LastCycleAt.UTC().Format(time.RFC3339),
		PollIntervalMs: float64(status.PollInterval) / float64(time.Millisecond),
	}
}

func toRegionResponse(health models.RegionHealth) RegionResponse {
	return RegionResponse{
		Region:              health.Region,
		CompositeScore:      health.CompositeScore,
		ServiceScores:       health.ServiceScores,
		AnomalyScores:       health.AnomalyScores,
		MaxAnomaly:          health.MaxAnomaly,
		ConsecutiveFailures: health.ConsecutiveFailures,
		UpdatedAt:           health.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRegionDetailResponse(detail services.RegionDetail) RegionDetailResponse {
	risks := make([]CascadeRiskResponse, 0, len(detail.CascadeRisks))
	for _, risk := range detail.CascadeRisks {
		risks = append(risks, CascadeRiskResponse{
			Region: risk.Region,
			Origin: risk.Origin,
			Risk:   risk.Risk,
		})
	}
	return RegionDetailResponse{
		RegionResponse: toRegionResponse(detail.Health),
		CascadeRisks:   risks,
		CascadeTotal:   detail.CascadeTotal,
	}
}

func toGroupResponse(status models.GroupStatus) GroupResponse {
	out := GroupResponse{
		Group:           status.Group,
		State:           string(status.State),
		PrimaryRegion:   status.PrimaryRegion,
		ActiveRegion:    status.ActiveRegion,
		HealthyCycles:   status.HealthyCycles,
		Recommendations: status.Recommendations,
	}
	if out.Recommendations == nil {
		out.Recommendations = []string{}
	}
	if status.LastTransition != nil {
		last := toTransitionResponse(*status.LastTransition)
		out.LastTransition = &last
	}
	return out
}

func toTransitionResponse(transition models.StateTransition) TransitionResponse {
	return TransitionResponse{
		ID:                  transition.ID,
		Group:               transition.Group,
		From:                string(transition.From),
		To:                  string(transition.To),
		Timestamp:           transition.Timestamp.UTC().Format(time.RFC3339),
		CompositeScore:      transition.CompositeScore,
		AnomalyScore:        transition.AnomalyScore,
		CascadeRisk:         transition.CascadeRisk,
		ConsecutiveFailures: transition.ConsecutiveFailures,
		Reason:              transition.Reason,
	}
}

func toDecisionResponse(decision models.FailoverDecision) DecisionResponse {
	actions := make([]ActionStepResponse, 0, len(decision.Actions))
	for _, step := range decision.Actions {
		actions = append(actions, ActionStepResponse{
			Kind:           string(step.Kind),
			Zone:           step.Zone,
			Record:         step.Record,
			Target:         step.Target,
			DistributionID: step.DistributionID,
			Origin:         step.Origin,
			ScalingTarget:  step.ScalingTarget,
			Delta:          step.Delta,
		})
	}
	return DecisionResponse{
		ID:        decision.ID,
		Group:     decision.Group,
		From:      decision.From,
		To:        decision.To,
		Reason:    decision.Reason,
		Manual:    decision.Manual,
		Timestamp: decision.Timestamp.UTC().Format(time.RFC3339),
		Actions:   actions,
	}
}

func toDecisionRecordResponse(record models.DecisionRecord) DecisionRecordResponse {
	outcomes := make([]ActionOutcomeResponse, 0, len(record.Outcomes))
	for _, outcome := range record.Outcomes {
		outcomes = append(outcomes, ActionOutcomeResponse{
			Action:    string(outcome.Action),
			Attempt:   outcome.Attempt,
			Success:   outcome.Success,
			Error:     outcome.Error,
			Timestamp: outcome.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return DecisionRecordResponse{
		Decision:  toDecisionResponse(record.Decision),
		State:     string(record.State),
		Outcomes:  outcomes,
		UpdatedAt: record.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
