package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles and actions that completed.
	OutcomeSuccess = "success"
	// OutcomeFailure labels actions that failed after all retries in an attempt.
	OutcomeFailure = "failure"
	// OutcomeStale labels cycles abandoned because a newer cycle overtook them.
	OutcomeStale = "stale"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian_failover",
			Name:      "cycles_total",
			Help:      "Total number of evaluation cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "meridian_failover",
			Name:      "cycle_seconds",
			Help:      "Evaluation cycle duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	probeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian_failover",
			Name:      "probe_failures_total",
			Help:      "Total number of failed health probes, partitioned by service and region.",
		},
		[]string{"service", "region"},
	)

	stateTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian_failover",
			Name:      "state_transitions_total",
			Help:      "Total number of state machine transitions, partitioned by group and target state.",
		},
		[]string{"group", "to"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian_failover",
			Name:      "decisions_total",
			Help:      "Total number of failover decisions issued, partitioned by group and kind.",
		},
		[]string{"group", "kind"},
	)

	actionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meridian_failover",
			Name:      "action_attempts_total",
			Help:      "Total number of remediation action attempts, partitioned by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	pendingDecisions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "meridian_failover",
			Name:      "pending_decisions",
			Help:      "Number of decisions currently pending or partially applied.",
		},
	)
)

// Register attaches the engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		probeFailuresTotal,
		stateTransitionsTotal,
		decisionsTotal,
		actionAttemptsTotal,
		pendingDecisions,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records an evaluation cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	cyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeStale {
		return
	}
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// RecordProbeFailure counts one failed probe for the service in the region.
func RecordProbeFailure(service, region string) {
	probeFailuresTotal.WithLabelValues(service, region).Inc()
}

// RecordTransition counts one state machine transition.
func RecordTransition(group, to string) {
	stateTransitionsTotal.WithLabelValues(group, to).Inc()
}

// RecordDecision counts one issued decision. Kind is failover, failback or manual.
func RecordDecision(group, kind string) {
	decisionsTotal.WithLabelValues(group, kind).Inc()
}

// RecordActionAttempt counts one remediation attempt by action kind.
func RecordActionAttempt(action, outcome string) {
	actionAttemptsTotal.WithLabelValues(action, outcome).Inc()
}

// SetPendingDecisions publishes the current pending decision count.
func SetPendingDecisions(n int) {
	pendingDecisions.Set(float64(n))
}
