package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

func TestNotifyPostsWebhook(t *testing.T) {
	var got map[string]any
	client := NewAlertClient("https://hooks.example.com/ops", time.Second, nil)
	client.httpClient = newTestClient(roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", req.Method)
		}
		if err := json.NewDecoder(req.Body).Decode(&got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader("{}")),
			Header:     make(http.Header),
		}, nil
	}))

	err := client.Notify(context.Background(), models.SeverityCritical,
		"failover executed for checkout-flow", []string{"Verify traffic drained from eu-west-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["severity"] != "critical" {
		t.Fatalf("unexpected severity: %v", got["severity"])
	}
	if got["message"] != "failover executed for checkout-flow" {
		t.Fatalf("unexpected message: %v", got["message"])
	}
	recs, ok := got["recommendations"].([]any)
	if !ok || len(recs) != 1 {
		t.Fatalf("unexpected recommendations: %v", got["recommendations"])
	}
}

func TestNotifyLogOnlyWithoutWebhook(t *testing.T) {
	client := NewAlertClient("", time.Second, nil)
	client.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		t.Fatalf("log-only client must not call the webhook")
		return nil, nil
	}))

	if err := client.Notify(context.Background(), models.SeverityLow, "cycle completed", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNotifySurfacesWebhookFailure(t *testing.T) {
	client := NewAlertClient("https://hooks.example.com/ops", time.Second, nil)
	client.httpClient = newTestClient(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("connection reset")
	}))

	err := client.Notify(context.Background(), models.SeverityHigh, "cdn origin update failed", nil)
	if err == nil {
		t.Fatalf("expected webhook failure to surface")
	}
}
