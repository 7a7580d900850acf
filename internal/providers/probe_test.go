package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestCheckHealthParsesHealthDocument(t *testing.T) {
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 3, time.Minute, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/health/checkout/eu-west-1" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"status": "degraded", "success_ratio": 0.42}), nil
	}))

	res, err := prober.CheckHealth(context.Background(), "checkout", "eu-west-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Reachable {
		t.Fatalf("expected reachable result")
	}
	if res.SuccessRatio != 0.42 {
		t.Fatalf("unexpected success ratio: %f", res.SuccessRatio)
	}
	if res.Latency < 0 {
		t.Fatalf("latency should not be negative: %v", res.Latency)
	}
}

func TestCheckHealthDefaultsRatioForBareBody(t *testing.T) {
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 3, time.Minute, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("OK")),
			Header:     make(http.Header),
		}, nil
	}))

	res, err := prober.CheckHealth(context.Background(), "checkout", "eu-west-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.SuccessRatio != 1 {
		t.Fatalf("expected default ratio 1 for non-JSON body, got %f", res.SuccessRatio)
	}
}

func TestCheckHealthErrorStatusIsReachableButUnhealthy(t *testing.T) {
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 3, time.Minute, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusServiceUnavailable, map[string]any{"status": "down"}), nil
	}))

	res, err := prober.CheckHealth(context.Background(), "checkout", "eu-west-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Reachable {
		t.Fatalf("expected reachable result for answered probe")
	}
	if res.SuccessRatio != 0 {
		t.Fatalf("expected zero ratio for error status, got %f", res.SuccessRatio)
	}
}

func TestCheckHealthBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	hits := 0
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 2, time.Minute, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		hits++
		return nil, fmt.Errorf("connection refused")
	}))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := prober.CheckHealth(ctx, "checkout", "eu-west-1"); err == nil {
			t.Fatalf("expected probe failure on attempt %d", i+1)
		}
	}
	if hits != 2 {
		t.Fatalf("expected 2 upstream attempts, got %d", hits)
	}

	_, err := prober.CheckHealth(ctx, "checkout", "eu-west-1")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker error, got %v", err)
	}
	if hits != 2 {
		t.Fatalf("open breaker should not issue requests; hits=%d", hits)
	}
}

func TestCheckHealthBreakerIsScopedPerServiceRegion(t *testing.T) {
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 1, time.Minute, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if strings.Contains(req.URL.Path, "eu-west-1") {
			return nil, fmt.Errorf("connection refused")
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"success_ratio": 0.99}), nil
	}))

	ctx := context.Background()
	if _, err := prober.CheckHealth(ctx, "checkout", "eu-west-1"); err == nil {
		t.Fatalf("expected failure for broken region")
	}
	if _, err := prober.CheckHealth(ctx, "checkout", "eu-west-1"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker for broken region, got %v", err)
	}

	res, err := prober.CheckHealth(ctx, "checkout", "us-east-1")
	if err != nil {
		t.Fatalf("healthy region should be unaffected: %v", err)
	}
	if res.SuccessRatio != 0.99 {
		t.Fatalf("unexpected ratio: %f", res.SuccessRatio)
	}
}

func TestCheckHealthBreakerRecoversAfterCooldown(t *testing.T) {
	healthy := false
	hits := 0
	prober := NewHTTPProber("http://cloud.local/health/%s/%s", time.Second, 1, 20*time.Millisecond, nil)
	prober.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		hits++
		if !healthy {
			return nil, fmt.Errorf("connection refused")
		}
		return jsonResponse(t, http.StatusOK, map[string]any{"success_ratio": 1.0}), nil
	}))

	ctx := context.Background()
	if _, err := prober.CheckHealth(ctx, "checkout", "eu-west-1"); err == nil {
		t.Fatalf("expected initial failure")
	}
	if _, err := prober.CheckHealth(ctx, "checkout", "eu-west-1"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}

	healthy = true
	time.Sleep(40 * time.Millisecond)

	res, err := prober.CheckHealth(ctx, "checkout", "eu-west-1")
	if err != nil {
		t.Fatalf("expected half-open probe to succeed: %v", err)
	}
	if res.SuccessRatio != 1 {
		t.Fatalf("unexpected ratio after recovery: %f", res.SuccessRatio)
	}
	if hits != 2 {
		t.Fatalf("expected exactly 2 upstream attempts, got %d", hits)
	}
}
