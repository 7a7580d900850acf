// Package providers holds the outbound clients: health probes, the cloud
// control-plane gateway and the alert webhook.
package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProbeResult is the normalized outcome of a single health probe.
type ProbeResult struct {
	SuccessRatio float64
	Latency      time.Duration
	Reachable    bool
}

// HTTPProber checks service health endpoints resolved from a URL template.
// Each (service, region) pair gets its own circuit breaker, so an endpoint
// that stops answering fails fast instead of eating the full probe timeout
// every cycle.
type HTTPProber struct {
	urlTemplate     string
	httpClient      *http.Client
	breakerFailures uint32
	breakerCooldown time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[ProbeResult]
}

// NewHTTPProber constructs a prober. The template must contain two %s verbs;
// the first is substituted with the service name, the second with the region.
func NewHTTPProber(urlTemplate string, timeout time.Duration, breakerFailures int, breakerCooldown time.Duration, logger *slog.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if breakerFailures <= 0 {
		breakerFailures = 3
	}
	if breakerCooldown <= 0 {
		breakerCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPProber{
		urlTemplate:     urlTemplate,
		httpClient:      &http.Client{Timeout: timeout},
		breakerFailures: uint32(breakerFailures),
		breakerCooldown: breakerCooldown,
		logger:          logger,
		breakers:        make(map[string]*gobreaker.CircuitBreaker[ProbeResult]),
	}
}

// CheckHealth probes one service in one region. An open breaker returns
// gobreaker.ErrOpenState without issuing the request.
func (p *HTTPProber) CheckHealth(ctx context.Context, service, region string) (ProbeResult, error) {
	return p.breaker(service, region).Execute(func() (ProbeResult, error) {
		return p.probe(ctx, service, region)
	})
}

func (p *HTTPProber) probe(ctx context.Context, service, region string) (ProbeResult, error) {
	endpoint := fmt.Sprintf(p.urlTemplate, service, region)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ProbeResult{}, err
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// The endpoint answered but reports itself unhealthy.
		return ProbeResult{SuccessRatio: 0, Latency: latency, Reachable: true}, nil
	}

	result := ProbeResult{SuccessRatio: 1, Latency: latency, Reachable: true}
	var doc struct {
		Status       string   `json:"status"`
		SuccessRatio *float64 `json:"success_ratio"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err == nil && doc.SuccessRatio != nil {
		result.SuccessRatio = *doc.SuccessRatio
	}
	return result, nil
}

func (p *HTTPProber) breaker(service, region string) *gobreaker.CircuitBreaker[ProbeResult] {
	key := service + "|" + region

	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[key]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker[ProbeResult](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     p.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.breakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("probe breaker state change",
				slog.String("probe", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	p.breakers[key] = cb
	return cb
}
