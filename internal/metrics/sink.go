package metrics

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromSink exposes published health measurements as Prometheus gauges.
// Gauge vectors are created on first use per metric name and label set. The
// sample timestamp is dropped because the scrape model supplies its own.
type PromSink struct {
	reg    prometheus.Registerer
	logger *slog.Logger

	mu     sync.Mutex
	gauges map[string]*prometheus.GaugeVec
	warned map[string]bool
}

// NewPromSink creates a sink registering its collectors with reg.
func NewPromSink(reg prometheus.Registerer, logger *slog.Logger) *PromSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PromSink{
		reg:    reg,
		logger: logger,
		gauges: make(map[string]*prometheus.GaugeVec),
		warned: make(map[string]bool),
	}
}

// Publish records one measurement under the engine namespace.
func (s *PromSink) Publish(name string, value float64, dimensions map[string]string, _ time.Time) {
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	id := name + "{" + strings.Join(keys, ",") + "}"

	s.mu.Lock()
	gauge, ok := s.gauges[id]
	if !ok {
		gauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "meridian_failover",
				Name:      name,
				Help:      "Published engine measurement " + name + ".",
			},
			keys,
		)
		if err := s.reg.Register(gauge); err != nil {
			if are, isDup := err.(prometheus.AlreadyRegisteredError); isDup {
				gauge = are.ExistingCollector.(*prometheus.GaugeVec)
			} else if !s.warned[id] {
				s.warned[id] = true
				s.logger.Warn("metric registration failed, measurement will not be scraped",
					slog.String("metric", name), slog.Any("error", err))
			}
		}
		s.gauges[id] = gauge
	}
	s.mu.Unlock()

	gauge.With(prometheus.Labels(dimensions)).Set(value)
}
