package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridianops/meridian-failover/internal/models"
)

// AlertClient mirrors alerts to the structured log and, when a webhook is
// configured, forwards them to the operator channel.
type AlertClient struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAlertClient constructs an alert sink. An empty webhookURL selects
// log-only mode.
func NewAlertClient(webhookURL string, timeout time.Duration, logger *slog.Logger) *AlertClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertClient{
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Notify emits one alert. The log entry is always written first, so callers
// that treat alerting as best effort may ignore the webhook error.
func (a *AlertClient) Notify(ctx context.Context, severity models.Severity, message string, recommendations []string) error {
	logFn := a.logger.Info
	switch severity {
	case models.SeverityCritical:
		logFn = a.logger.Error
	case models.SeverityHigh, models.SeverityMedium:
		logFn = a.logger.Warn
	}
	logFn("alert",
		slog.String("severity", string(severity)),
		slog.String("message", message),
		slog.Any("recommendations", recommendations))

	if a.webhookURL == "" {
		return nil
	}

	payload := map[string]interface{}{
		"severity":        severity,
		"message":         message,
		"recommendations": recommendations,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned %s", resp.Status)
	}
	return nil
}
