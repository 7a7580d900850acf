package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/meridianops/meridian-failover/internal/anomaly"
	"github.com/meridianops/meridian-failover/internal/history"
	"github.com/meridianops/meridian-failover/internal/metrics"
	"github.com/meridianops/meridian-failover/internal/models"
	"github.com/meridianops/meridian-failover/internal/providers"
	"github.com/meridianops/meridian-failover/internal/store"
	"github.com/meridianops/meridian-failover/internal/utils"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultProbeTimeout = 5 * time.Second
	defaultProbeWorkers = 8

	// latencyLogEvery is the number of committed cycles between p95 log lines.
	latencyLogEvery = 20
)

// Prober checks the health of one service in one region.
type Prober interface {
	CheckHealth(ctx context.Context, service, region string) (providers.ProbeResult, error)
}

// Applier carries issued decisions to the control plane.
type Applier interface {
	Apply(ctx context.Context, decision models.FailoverDecision) error
	ResumePending(ctx context.Context) int
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, severity models.Severity, message string, recommendations []string) error
}

// EventSink receives transitions and decisions as the engine produces them.
// Implementations must not block the caller.
type EventSink interface {
	TransitionOccurred(transition models.StateTransition)
	DecisionIssued(decision models.FailoverDecision)
}

// MultiSink fans events out to several sinks.
type MultiSink []EventSink

// TransitionOccurred implements EventSink.
func (m MultiSink) TransitionOccurred(transition models.StateTransition) {
	for _, sink := range m {
		sink.TransitionOccurred(transition)
	}
}

// DecisionIssued implements EventSink.
func (m MultiSink) DecisionIssued(decision models.FailoverDecision) {
	for _, sink := range m {
		sink.DecisionIssued(decision)
	}
}

// MeasurementSink publishes per-cycle health measurements.
type MeasurementSink interface {
	Publish(name string, value float64, dimensions map[string]string, at time.Time)
}

// RunnerConfig carries the evaluation loop tuning. Services and Regions
// together define the probe matrix; every pair is probed each cycle.
type RunnerConfig struct {
	PollInterval time.Duration
	ProbeTimeout time.Duration
	Workers      int
	Services     []string
	Regions      []string
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaultProbeTimeout
	}
	if c.Workers <= 0 {
		c.Workers = defaultProbeWorkers
	}
	return c
}

// Evaluators bundles the components that turn probe readings into decisions.
// Advisor may be nil; everything else is required.
type Evaluators struct {
	Prober     Prober
	Samples    *store.Samples
	Scorer     anomaly.Scorer
	Aggregator *Aggregator
	Cascade    *CascadeAnalyzer
	Machines   []*StateMachine
	Advisor    *Advisor
}

// Sinks bundles the destinations that receive what a cycle produces. Nil
// fields are skipped.
type Sinks struct {
	Transitions  *history.Log
	Applier      Applier
	Alerts       Notifier
	Events       EventSink
	Measurements MeasurementSink
}

// Runner drives the recurring evaluation cycle: probe every (service,
// region) pair on a bounded worker pool, score and aggregate the readings,
// advance each traffic group's state machine and hand any resulting
// decision to the applier. Queries are served from the latest committed
// cycle.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
	eval   Evaluators
	sinks  Sinks

	machines map[string]*StateMachine
	latency  *utils.LatencyTracker

	cycleSeq atomic.Uint64
	cycles   atomic.Uint64
	ready    atomic.Bool

	// mu orders commits. A cycle that finishes after a newer cycle has
	// already committed is discarded, never written over fresher state.
	mu            sync.Mutex
	lastCommitted uint64
	lastCycleAt   time.Time
	regionHealth  map[string]models.RegionHealth
	cascadeRisks  map[string][]models.CascadeRisk
	cascadeTotals map[string]float64
}

// NewRunner wires the evaluation loop. Machines are indexed by group name;
// duplicate group names keep the last machine.
func NewRunner(cfg RunnerConfig, eval Evaluators, sinks Sinks, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	machines := make(map[string]*StateMachine, len(eval.Machines))
	for _, machine := range eval.Machines {
		machines[machine.Group().Name] = machine
	}
	return &Runner{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		eval:     eval,
		sinks:    sinks,
		machines: machines,
		latency:  utils.NewLatencyTracker(1024),
	}
}

// Run executes cycles until ctx is cancelled. The first cycle starts
// immediately. A cycle still probing when the next tick fires is cancelled;
// its partial results are discarded by the commit sequence check.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("evaluation loop starting",
		slog.Duration("poll_interval", r.cfg.PollInterval),
		slog.Int("workers", r.cfg.Workers),
		slog.Int("services", len(r.cfg.Services)),
		slog.Int("regions", len(r.cfg.Regions)),
		slog.Int("groups", len(r.machines)))

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	var (
		wg         sync.WaitGroup
		prevCancel context.CancelFunc
	)
	launch := func() {
		if prevCancel != nil {
			prevCancel()
		}
		cycleCtx, cancel := context.WithCancel(ctx)
		prevCancel = cancel
		seq := r.cycleSeq.Add(1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cancel()
			r.runCycle(ctx, cycleCtx, seq)
		}()
	}

	launch()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			r.logger.Info("evaluation loop stopped", slog.Uint64("cycles", r.cycles.Load()))
			return nil
		case <-ticker.C:
			launch()
		}
	}
}

// runCycle executes one numbered cycle. cycleCtx bounds the probe phase;
// runCtx outlives the cycle and scopes decision application.
func (r *Runner) runCycle(runCtx, cycleCtx context.Context, seq uint64) {
	start := time.Now()

	failed := r.probeAll(cycleCtx)
	if cycleCtx.Err() != nil {
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeStale)
		r.logger.Debug("cycle cancelled before commit", slog.Uint64("cycle", seq))
		return
	}

	now := time.Now().UTC()

	r.mu.Lock()
	if seq <= r.lastCommitted {
		r.mu.Unlock()
		metrics.ObserveCycle(time.Since(start), metrics.OutcomeStale)
		r.logger.Debug("cycle superseded before commit", slog.Uint64("cycle", seq))
		return
	}
	snapshots := r.evaluateRegions(now)
	risks, totals := r.assessCascade(snapshots)
	r.regionHealth = snapshots
	r.cascadeRisks = risks
	r.cascadeTotals = totals
	r.evaluateGroups(runCtx, snapshots, totals, now)
	r.lastCommitted = seq
	r.lastCycleAt = now
	r.mu.Unlock()

	if r.sinks.Applier != nil {
		go func() {
			if n := r.sinks.Applier.ResumePending(runCtx); n > 0 {
				r.logger.Info("pending decisions retried", slog.Int("count", n))
			}
		}()
	}

	r.publishMeasurements(snapshots, totals, now)

	duration := time.Since(start)
	r.latency.Observe(duration)
	outcome := metrics.OutcomeSuccess
	if pairs := len(r.cfg.Services) * len(r.cfg.Regions); pairs > 0 && failed == pairs {
		outcome = metrics.OutcomeFailure
	}
	metrics.ObserveCycle(duration, outcome)

	r.ready.Store(true)
	if count := r.cycles.Add(1); count >= latencyLogEvery && count%latencyLogEvery == 0 {
		r.logger.Info("cycle latency",
			slog.Uint64("cycles", count),
			slog.Duration("p95", r.latency.Percentile(95)))
	}
}

type probeJob struct {
	service string
	region  string
}

// probeAll fans the probe matrix out over the worker pool and waits for
// every probe to finish or the cycle to be cancelled. It returns the number
// of pairs whose probe errored.
func (r *Runner) probeAll(ctx context.Context) int {
	jobs := make(chan probeJob)
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if !r.probeOne(ctx, job.service, job.region) {
					failed.Add(1)
				}
			}
		}()
	}

feed:
	for _, region := range r.cfg.Regions {
		for _, service := range r.cfg.Services {
			select {
			case <-ctx.Done():
				break feed
			case jobs <- probeJob{service: service, region: region}:
			}
		}
	}
	close(jobs)
	wg.Wait()
	return int(failed.Load())
}

// probeOne records one sample. A probe error yields a zero-score
// unreachable sample so the aggregate reflects the failure instead of going
// silent. Probes aborted by cycle cancellation record nothing.
func (r *Runner) probeOne(ctx context.Context, service, region string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	now := time.Now().UTC()
	result, err := r.eval.Prober.CheckHealth(probeCtx, service, region)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		metrics.RecordProbeFailure(service, region)
		r.logger.Warn("probe failed",
			slog.String("service", service),
			slog.String("region", region),
			slog.Any("error", err))
		r.eval.Samples.Record(models.HealthSample{
			Service:   service,
			Region:    region,
			Timestamp: now,
			Reachable: false,
		})
		return false
	}

	r.eval.Samples.Record(models.HealthSample{
		Service:      service,
		Region:       region,
		Timestamp:    now,
		SuccessRatio: result.SuccessRatio,
		Latency:      result.Latency,
		Reachable:    result.Reachable,
	})
	return true
}

// evaluateRegions closes the cycle for every region: score each service's
// window, feed the observations to the aggregator and collect the regional
// snapshots. Callers hold r.mu.
func (r *Runner) evaluateRegions(now time.Time) map[string]models.RegionHealth {
	snapshots := make(map[string]models.RegionHealth, len(r.cfg.Regions))
	for _, region := range r.cfg.Regions {
		for _, service := range r.cfg.Services {
			sample, ok := r.eval.Samples.Latest(service, region)
			if !ok {
				continue
			}
			score, err := r.eval.Scorer.Score(service, region, r.eval.Samples.Window(service, region), now)
			if err != nil {
				r.logger.Warn("anomaly scoring degraded",
					slog.String("service", service),
					slog.String("region", region),
					slog.Any("error", err))
			}
			r.eval.Aggregator.Observe(sample, score)
		}
		snapshots[region] = r.eval.Aggregator.Evaluate(region, now)
	}
	return snapshots
}

// assessCascade computes per-region propagation risk from the committed
// snapshots.
func (r *Runner) assessCascade(snapshots map[string]models.RegionHealth) (map[string][]models.CascadeRisk, map[string]float64) {
	risks := make(map[string][]models.CascadeRisk, len(snapshots))
	totals := make(map[string]float64, len(snapshots))
	for region, snapshot := range snapshots {
		regionRisks, total := r.eval.Cascade.Assess(region, snapshot)
		risks[region] = regionRisks
		totals[region] = total
	}
	return risks, totals
}

// evaluateGroups advances every state machine against the committed
// snapshots. Groups evaluate concurrently; the WaitGroup join keeps the
// whole group phase inside the commit, so transitions from superseded
// cycles can never interleave with fresher ones.
func (r *Runner) evaluateGroups(runCtx context.Context, snapshots map[string]models.RegionHealth, totals map[string]float64, now time.Time) {
	var wg sync.WaitGroup
	for _, machine := range r.machines {
		wg.Add(1)
		go func(m *StateMachine) {
			defer wg.Done()
			group := m.Group()
			in := EvalInput{
				Now:         now,
				Primary:     snapshots[group.Primary],
				CascadeRisk: totals[group.Primary],
				Secondaries: make(map[string]models.RegionHealth, len(group.Secondaries)),
			}
			for _, secondary := range group.Secondaries {
				if snapshot, ok := snapshots[secondary]; ok {
					in.Secondaries[secondary] = snapshot
				}
			}
			r.handleResult(runCtx, m, m.Evaluate(in), in.Primary, in.CascadeRisk)
		}(machine)
	}
	wg.Wait()
}

// handleResult records transitions, streams events and dispatches any
// decision. Alert delivery and decision application run on their own
// goroutines so control-plane latency never stalls evaluation.
func (r *Runner) handleResult(runCtx context.Context, m *StateMachine, result EvalResult, primary models.RegionHealth, cascadeTotal float64) {
	for _, transition := range result.Transitions {
		if r.sinks.Transitions != nil {
			r.sinks.Transitions.Append(transition)
		}
		if r.sinks.Events != nil {
			r.sinks.Events.TransitionOccurred(transition)
		}
		metrics.RecordTransition(transition.Group, string(transition.To))
		r.notifyTransition(runCtx, m, transition, primary, cascadeTotal)
	}

	if result.Decision == nil {
		return
	}
	decision := *result.Decision
	metrics.RecordDecision(decision.Group, decisionKind(m, decision))
	if r.sinks.Events != nil {
		r.sinks.Events.DecisionIssued(decision)
	}
	if r.sinks.Applier == nil {
		return
	}
	// Application survives the cycle and, for manual triggers, the request.
	applyCtx := context.WithoutCancel(runCtx)
	go func() {
		if err := r.sinks.Applier.Apply(applyCtx, decision); err != nil {
			r.logger.Error("decision application failed",
				slog.String("decision", decision.IdempotencyKey()),
				slog.String("group", decision.Group),
				slog.Any("error", err))
		}
	}()
}

// notifyTransition raises one alert per transition, carrying the advisor's
// recommendations for the group's new state.
func (r *Runner) notifyTransition(runCtx context.Context, m *StateMachine, transition models.StateTransition, primary models.RegionHealth, cascadeTotal float64) {
	if r.sinks.Alerts == nil {
		return
	}
	var recommendations []string
	if r.eval.Advisor != nil {
		recommendations = r.eval.Advisor.Advise(m.Status(), primary, cascadeTotal)
	}
	message := fmt.Sprintf("group %s moved %s -> %s: %s",
		transition.Group, transition.From, transition.To, transition.Reason)
	severity := severityFor(transition.To)
	alertCtx := context.WithoutCancel(runCtx)
	go func() {
		if err := r.sinks.Alerts.Notify(alertCtx, severity, message, recommendations); err != nil {
			r.logger.Warn("transition alert failed",
				slog.String("group", transition.Group), slog.Any("error", err))
		}
	}()
}

// severityFor maps a destination state to alert severity. Traffic on a
// secondary region pages; early-warning states notify.
func severityFor(to models.FailoverState) models.Severity {
	switch to {
	case models.StateFailedOver:
		return models.SeverityCritical
	case models.StateFailing:
		return models.SeverityHigh
	case models.StateDegraded:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// decisionKind labels a decision for metrics.
func decisionKind(m *StateMachine, decision models.FailoverDecision) string {
	switch {
	case decision.Manual:
		return "manual"
	case decision.To == m.Group().Primary:
		return "failback"
	default:
		return "failover"
	}
}

// publishMeasurements pushes the committed snapshots to the measurement
// sink.
func (r *Runner) publishMeasurements(snapshots map[string]models.RegionHealth, totals map[string]float64, at time.Time) {
	if r.sinks.Measurements == nil {
		return
	}
	for region, snapshot := range snapshots {
		r.sinks.Measurements.Publish("region_composite_score", snapshot.CompositeScore,
			map[string]string{"region": region}, at)
		r.sinks.Measurements.Publish("region_cascade_risk", totals[region],
			map[string]string{"region": region}, at)
		for service, score := range snapshot.ServiceScores {
			r.sinks.Measurements.Publish("service_health_score", score,
				map[string]string{"region": region, "service": service}, at)
		}
		for service, score := range snapshot.AnomalyScores {
			r.sinks.Measurements.Publish("service_anomaly_score", score,
				map[string]string{"region": region, "service": service}, at)
		}
	}
}

// Trigger routes a manual failover command through the group's state
// machine and dispatches the resulting decision exactly like an automatic
// one.
func (r *Runner) Trigger(ctx context.Context, req models.TriggerRequest) (models.FailoverDecision, error) {
	machine, ok := r.machines[req.Group]
	if !ok {
		return models.FailoverDecision{}, utils.NewAppError("engine.trigger",
			fmt.Sprintf("unknown traffic group %q", req.Group), nil)
	}

	group := machine.Group()
	r.mu.Lock()
	primary := r.regionHealth[group.Primary]
	cascadeTotal := r.cascadeTotals[group.Primary]
	r.mu.Unlock()

	result, err := machine.Trigger(req.FromRegion, req.ToRegion, req.Reason, time.Now().UTC())
	if err != nil {
		return models.FailoverDecision{}, err
	}
	r.handleResult(ctx, machine, result, primary, cascadeTotal)
	return *result.Decision, nil
}

// Ready reports whether at least one cycle has committed.
func (r *Runner) Ready() bool {
	return r.ready.Load()
}

// Status reports evaluation loop liveness.
func (r *Runner) Status() models.EngineStatus {
	r.mu.Lock()
	lastCycleAt := r.lastCycleAt
	r.mu.Unlock()
	return models.EngineStatus{
		Ready:        r.ready.Load(),
		Cycles:       r.cycles.Load(),
		CycleP95:     r.latency.Percentile(95),
		LastCycleAt:  lastCycleAt,
		PollInterval: r.cfg.PollInterval,
	}
}

// Regions returns the latest committed snapshot for every region, sorted by
// region name.
func (r *Runner) Regions() []models.RegionHealth {
	r.mu.Lock()
	out := make([]models.RegionHealth, 0, len(r.regionHealth))
	for _, snapshot := range r.regionHealth {
		out = append(out, snapshot.Clone())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Region < out[j].Region })
	return out
}

// Region returns the latest committed snapshot for one region.
func (r *Runner) Region(name string) (models.RegionHealth, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, ok := r.regionHealth[name]
	if !ok {
		return models.RegionHealth{}, false
	}
	return snapshot.Clone(), true
}

// CascadeRisks returns the per-origin propagation risks and the aggregate
// for one region, from the latest committed cycle.
func (r *Runner) CascadeRisks(region string) ([]models.CascadeRisk, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	risks := append([]models.CascadeRisk(nil), r.cascadeRisks[region]...)
	return risks, r.cascadeTotals[region]
}

// Groups returns the status of every traffic group, sorted by group name,
// with advisor recommendations attached.
func (r *Runner) Groups() []models.GroupStatus {
	names := make([]string, 0, len(r.machines))
	for name := range r.machines {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]models.GroupStatus, 0, len(names))
	for _, name := range names {
		status, _ := r.Group(name)
		out = append(out, status)
	}
	return out
}

// Group returns the status of one traffic group with advisor
// recommendations attached.
func (r *Runner) Group(name string) (models.GroupStatus, bool) {
	machine, ok := r.machines[name]
	if !ok {
		return models.GroupStatus{}, false
	}
	status := machine.Status()
	if r.eval.Advisor != nil {
		group := machine.Group()
		r.mu.Lock()
		primary := r.regionHealth[group.Primary]
		cascadeTotal := r.cascadeTotals[group.Primary]
		r.mu.Unlock()
		status.Recommendations = r.eval.Advisor.Advise(status, primary, cascadeTotal)
	}
	return status, true
}
