package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ControlPlaneClient speaks JSON over HTTP to the cloud control-plane
// gateway fronting the DNS, CDN and capacity APIs. Retry policy lives in
// the remediation executor, not here.
type ControlPlaneClient struct {
	baseURL     string
	dnsPath     string
	cdnPath     string
	scalingPath string
	httpClient  *http.Client
}

// NewControlPlaneClient constructs a client targeting the configured gateway.
func NewControlPlaneClient(baseURL, dnsPath, cdnPath, scalingPath string, timeout time.Duration) *ControlPlaneClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ControlPlaneClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		dnsPath:     dnsPath,
		cdnPath:     cdnPath,
		scalingPath: scalingPath,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// UpdateRecord repoints a DNS record at a new target.
func (c *ControlPlaneClient) UpdateRecord(ctx context.Context, zone, name, target string) error {
	if c == nil {
		return fmt.Errorf("control plane client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("control plane base URL not configured")
	}

	payload := map[string]interface{}{
		"zone":   zone,
		"record": name,
		"target": target,
	}
	if err := c.postJSON(ctx, c.resolvePath(c.dnsPath), payload); err != nil {
		return fmt.Errorf("dns update failed: %w", err)
	}
	return nil
}

// UpdateOrigin repoints a CDN distribution at a new origin.
func (c *ControlPlaneClient) UpdateOrigin(ctx context.Context, distributionID, origin string) error {
	if c == nil {
		return fmt.Errorf("control plane client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("control plane base URL not configured")
	}

	payload := map[string]interface{}{
		"distribution_id": distributionID,
		"origin":          origin,
	}
	if err := c.postJSON(ctx, c.resolvePath(c.cdnPath), payload); err != nil {
		return fmt.Errorf("cdn update failed: %w", err)
	}
	return nil
}

// AdjustCapacity adds delta instances to a scaling target. Negative deltas
// shrink the pool.
func (c *ControlPlaneClient) AdjustCapacity(ctx context.Context, target string, delta int) error {
	if c == nil {
		return fmt.Errorf("control plane client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("control plane base URL not configured")
	}

	payload := map[string]interface{}{
		"target": target,
		"delta":  delta,
	}
	if err := c.postJSON(ctx, c.resolvePath(c.scalingPath), payload); err != nil {
		return fmt.Errorf("capacity adjustment failed: %w", err)
	}
	return nil
}

func (c *ControlPlaneClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *ControlPlaneClient) postJSON(ctx context.Context, endpoint string, payload any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("control plane returned %s", resp.Status)
	}
	return nil
}
