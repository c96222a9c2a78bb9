package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// HTTPHealthProbe checks a deployment's health endpoint. A reachable target is
// never an error, whatever its status code; only transport failure errors.
type HTTPHealthProbe struct {
	url        string
	httpClient *http.Client
}

// NewHTTPHealthProbe constructs a probe for one environment's health endpoint.
func NewHTTPHealthProbe(url string, timeout time.Duration) *HTTPHealthProbe {
	return &HTTPHealthProbe{
		url: strings.TrimSpace(url),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Check performs one health request and maps the response into a HealthSample.
func (p *HTTPHealthProbe) Check(ctx context.Context, environment string) (models.HealthSample, error) {
	if p.url == "" {
		return models.HealthSample{}, fmt.Errorf("health URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return models.HealthSample{}, err
	}

	observedAt := time.Now().UTC()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return models.HealthSample{}, fmt.Errorf("health probe %s: %w", environment, err)
	}
	defer resp.Body.Close()

	sample := models.HealthSample{ObservedAt: observedAt}
	if resp.StatusCode == http.StatusOK {
		sample.Healthy = true
	} else {
		sample.Detail = fmt.Sprintf("health endpoint returned %s", resp.Status)
	}
	return sample, nil
}

// HTTPMetricsProbe fetches current metric values from a deployment's metrics
// endpoint. The payload is a JSON object of metric name to numeric value;
// partial payloads are valid, missing names are simply absent data.
type HTTPMetricsProbe struct {
	url        string
	httpClient *http.Client
}

// NewHTTPMetricsProbe constructs a probe for one environment's metrics endpoint.
func NewHTTPMetricsProbe(url string, timeout time.Duration) *HTTPMetricsProbe {
	return &HTTPMetricsProbe{
		url: strings.TrimSpace(url),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch retrieves the metric mapping for the environment.
func (p *HTTPMetricsProbe) Fetch(ctx context.Context, environment string) (map[string]float64, error) {
	if p.url == "" {
		return nil, fmt.Errorf("metrics URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metrics probe %s: %w", environment, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metrics endpoint returned %s", resp.Status)
	}

	var payload struct {
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode metrics response: %w", err)
	}
	return payload.Metrics, nil
}
