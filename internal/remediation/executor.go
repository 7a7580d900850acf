// Package remediation applies failover decisions against the cloud control
// plane with per-step retries, idempotent re-application and a durable
// outcome journal.
package remediation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meridianops/meridian-failover/internal/journal"
	"github.com/meridianops/meridian-failover/internal/metrics"
	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/utils"
)

// DNSClient repoints DNS records.
type DNSClient interface {
	UpdateRecord(ctx context.Context, zone, name, target string) error
}

// CDNClient repoints CDN origins.
type CDNClient interface {
	UpdateOrigin(ctx context.Context, distributionID, origin string) error
}

// ScalingClient adjusts capacity pools.
type ScalingClient interface {
	AdjustCapacity(ctx context.Context, target string, delta int) error
}

// Notifier delivers alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, severity models.Severity, message string, recommendations []string) error
}

// Config tunes retry and journal behaviour.
type Config struct {
	// MaxRetries is the number of retries per step after the first attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ClaimTTL       time.Duration
	RecordTTL      time.Duration
}

func (c *Config) normalise() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 10 * time.Minute
	}
	if c.RecordTTL <= 0 {
		c.RecordTTL = 24 * time.Hour
	}
}

// Executor owns the full lifecycle of a decision: claim, ordered step
// execution, outcome journaling and retry of partially applied decisions.
type Executor struct {
	dns     DNSClient
	cdn     CDNClient
	scaling ScalingClient
	alerts  Notifier
	store   journal.Store
	logger  *slog.Logger
	cfg     Config

	mu       sync.Mutex
	records  map[string]*models.DecisionRecord
	order    []string
	inflight map[string]bool
}

// NewExecutor constructs an executor. A nil store disables journaling; a nil
// notifier disables alerting.
func NewExecutor(dns DNSClient, cdn CDNClient, scaling ScalingClient, alerts Notifier, store journal.Store, cfg Config, logger *slog.Logger) *Executor {
	if store == nil {
		store = journal.NoopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.normalise()
	return &Executor{
		dns:      dns,
		cdn:      cdn,
		scaling:  scaling,
		alerts:   alerts,
		store:    store,
		logger:   logger,
		cfg:      cfg,
		records:  make(map[string]*models.DecisionRecord),
		inflight: make(map[string]bool),
	}
}

// Apply executes every action of a decision in order. Steps that already
// succeeded, in this run or in a journaled previous one, are skipped, so
// re-applying a decision never repeats a completed control-plane call. A
// step that exhausts its retries does not stop later steps; the decision is
// then marked partially applied, alerted, and retried on a later cycle.
func (e *Executor) Apply(ctx context.Context, decision models.FailoverDecision) error {
	key := decision.IdempotencyKey()

	e.mu.Lock()
	if e.inflight[key] {
		e.mu.Unlock()
		return nil
	}
	e.inflight[key] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, key)
		e.mu.Unlock()
		metrics.SetPendingDecisions(e.PendingCount())
	}()

	record := e.loadRecord(ctx, decision)
	prevState := e.recordState(key)
	if prevState == models.DecisionApplied {
		return nil
	}

	claimed, err := e.store.SetNX(ctx, claimKey(key), []byte(decision.ID), e.cfg.ClaimTTL)
	if err != nil {
		e.logger.Warn("journal claim failed, proceeding unclaimed",
			slog.String("decision", key), slog.Any("error", err))
	} else if !claimed {
		e.logger.Info("decision claimed by another replica", slog.String("decision", key))
		return nil
	}
	e.persist(ctx, key)

	var failed []string
	for _, step := range record.Decision.Actions {
		if e.stepSucceeded(key, step.Kind) {
			continue
		}
		if err := e.applyStep(ctx, key, step); err != nil {
			failed = append(failed, string(step.Kind))
		}
	}

	if len(failed) > 0 {
		e.setState(key, models.DecisionPartial)
		e.persist(ctx, key)
		_ = e.store.Del(ctx, claimKey(key))
		// Re-alert on every failed pass so the page stands until the
		// decision completes.
		e.alertPartial(ctx, key, record.Decision, failed)
		return utils.NewAppError("remediation.apply",
			fmt.Sprintf("decision %s partially applied, failed steps: %s", key, strings.Join(failed, ", ")), nil)
	}

	e.setState(key, models.DecisionApplied)
	e.persist(ctx, key)
	_ = e.store.Del(ctx, claimKey(key))
	e.logger.Info("decision applied",
		slog.String("decision", key),
		slog.String("group", record.Decision.Group),
		slog.String("from", record.Decision.From),
		slog.String("to", record.Decision.To),
		slog.Int("actions", len(record.Decision.Actions)))
	return nil
}

// ResumePending re-applies every decision whose actions have not all
// succeeded yet. It returns the number of decisions attempted.
func (e *Executor) ResumePending(ctx context.Context) int {
	e.mu.Lock()
	pending := make([]models.FailoverDecision, 0)
	for _, key := range e.order {
		record := e.records[key]
		if record.State == models.DecisionApplied || e.inflight[key] {
			continue
		}
		pending = append(pending, record.Decision)
	}
	e.mu.Unlock()

	for _, decision := range pending {
		if ctx.Err() != nil {
			break
		}
		_ = e.Apply(ctx, decision)
	}
	return len(pending)
}

// ListDecisions returns copies of all known decision records, newest first.
func (e *Executor) ListDecisions() []models.DecisionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.DecisionRecord, 0, len(e.order))
	for i := len(e.order) - 1; i >= 0; i-- {
		out = append(out, copyRecord(e.records[e.order[i]]))
	}
	return out
}

// GetDecision looks a decision up by its ID or idempotency key.
func (e *Executor) GetDecision(id string) (models.DecisionRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if record, ok := e.records[id]; ok {
		return copyRecord(record), true
	}
	for _, record := range e.records {
		if record.Decision.ID == id {
			return copyRecord(record), true
		}
	}
	return models.DecisionRecord{}, false
}

// PendingCount reports how many decisions still have unapplied actions.
func (e *Executor) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, record := range e.records {
		if record.State != models.DecisionApplied {
			n++
		}
	}
	return n
}

func (e *Executor) applyStep(ctx context.Context, key string, step models.ActionStep) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := e.execute(ctx, step)
		outcome := models.ActionOutcome{
			DecisionKey: key,
			Action:      step.Kind,
			Attempt:     attempt,
			Success:     err == nil,
			Timestamp:   time.Now().UTC(),
		}
		if err != nil {
			outcome.Error = err.Error()
			metrics.RecordActionAttempt(string(step.Kind), metrics.OutcomeFailure)
			e.logger.Warn("remediation step failed",
				slog.String("decision", key),
				slog.String("action", string(step.Kind)),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		} else {
			metrics.RecordActionAttempt(string(step.Kind), metrics.OutcomeSuccess)
		}
		e.appendOutcome(key, outcome)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.cfg.InitialBackoff
	policy.MaxInterval = e.cfg.MaxBackoff
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(e.cfg.MaxRetries)), ctx))
}

func (e *Executor) execute(ctx context.Context, step models.ActionStep) error {
	switch step.Kind {
	case models.ActionDNS:
		if e.dns == nil {
			return fmt.Errorf("dns client not configured")
		}
		return e.dns.UpdateRecord(ctx, step.Zone, step.Record, step.Target)
	case models.ActionCDN:
		if e.cdn == nil {
			return fmt.Errorf("cdn client not configured")
		}
		return e.cdn.UpdateOrigin(ctx, step.DistributionID, step.Origin)
	case models.ActionScaling:
		if e.scaling == nil {
			return fmt.Errorf("scaling client not configured")
		}
		return e.scaling.AdjustCapacity(ctx, step.ScalingTarget, step.Delta)
	default:
		return fmt.Errorf("unknown action kind %q", step.Kind)
	}
}

func (e *Executor) loadRecord(ctx context.Context, decision models.FailoverDecision) *models.DecisionRecord {
	key := decision.IdempotencyKey()

	e.mu.Lock()
	if record, ok := e.records[key]; ok {
		e.mu.Unlock()
		return record
	}
	e.mu.Unlock()

	record := &models.DecisionRecord{
		Decision:  decision,
		State:     models.DecisionPending,
		UpdatedAt: time.Now().UTC(),
	}
	if data, err := e.store.Get(ctx, recordKey(key)); err == nil {
		var stored models.DecisionRecord
		if jsonErr := json.Unmarshal(data, &stored); jsonErr == nil {
			record = &stored
			e.logger.Info("decision rehydrated from journal",
				slog.String("decision", key),
				slog.Int("outcomes", len(stored.Outcomes)))
		}
	} else if !errors.Is(err, journal.ErrNotFound) {
		e.logger.Warn("journal read failed", slog.String("decision", key), slog.Any("error", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if existing, ok := e.records[key]; ok {
		return existing
	}
	e.records[key] = record
	e.order = append(e.order, key)
	return record
}

func (e *Executor) stepSucceeded(key string, kind models.ActionKind) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.records[key]
	if !ok {
		return false
	}
	for _, outcome := range record.Outcomes {
		if outcome.Action == kind && outcome.Success {
			return true
		}
	}
	return false
}

func (e *Executor) appendOutcome(key string, outcome models.ActionOutcome) {
	e.mu.Lock()
	defer e.mu.Unlock()

	record, ok := e.records[key]
	if !ok {
		return
	}
	record.Outcomes = append(record.Outcomes, outcome)
	record.UpdatedAt = outcome.Timestamp
}

func (e *Executor) setState(key string, state models.DecisionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if record, ok := e.records[key]; ok {
		record.State = state
		record.UpdatedAt = time.Now().UTC()
	}
}

func (e *Executor) recordState(key string) models.DecisionState {
	e.mu.Lock()
	defer e.mu.Unlock()

	if record, ok := e.records[key]; ok {
		return record.State
	}
	return models.DecisionPending
}

func (e *Executor) persist(ctx context.Context, key string) {
	e.mu.Lock()
	record, ok := e.records[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	snapshot := copyRecord(record)
	e.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		e.logger.Warn("journal marshal failed", slog.String("decision", key), slog.Any("error", err))
		return
	}
	if err := e.store.Set(ctx, recordKey(key), data, e.cfg.RecordTTL); err != nil {
		e.logger.Warn("journal write failed", slog.String("decision", key), slog.Any("error", err))
	}
}

func (e *Executor) alertPartial(ctx context.Context, key string, decision models.FailoverDecision, failed []string) {
	if e.alerts == nil {
		return
	}
	message := fmt.Sprintf("decision %s for group %s partially applied, failed steps: %s",
		key, decision.Group, strings.Join(failed, ", "))
	recommendations := []string{
		"Inspect control plane availability",
		"Failed steps are retried automatically each cycle",
	}
	if err := e.alerts.Notify(ctx, models.SeverityCritical, message, recommendations); err != nil {
		e.logger.Warn("alert delivery failed", slog.String("decision", key), slog.Any("error", err))
	}
}

func copyRecord(record *models.DecisionRecord) models.DecisionRecord {
	out := *record
	out.Outcomes = append([]models.ActionOutcome(nil), record.Outcomes...)
	return out
}

func claimKey(key string) string {
	return "failover:claim:" + key
}

func recordKey(key string) string {
	return "failover:decision:" + key
}
