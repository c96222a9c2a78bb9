package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"

	"github.com/guardrailstack/guardrail-monitor/internal/models"
)

// WebhookNotifier posts notifications to an operator webhook. Delivery is
// best-effort: a tripped breaker or failed request falls back to an
// append-only local file so no notification is silently lost.
type WebhookNotifier struct {
	logger       *slog.Logger
	url          string
	fallbackPath string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
}

type payload struct {
	Severity  models.Severity   `json:"severity"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewWebhookNotifier constructs a notifier targeting the given webhook URL.
// An empty URL yields a notifier that only writes the local fallback file.
func NewWebhookNotifier(logger *slog.Logger, url, fallbackPath string, timeout time.Duration) *WebhookNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "notifier-webhook",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	return &WebhookNotifier{
		logger:       logger,
		url:          url,
		fallbackPath: fallbackPath,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      breaker,
	}
}

// Send delivers one notification. Failures are recorded to the fallback file
// and returned so callers can log them; they must never abort monitoring.
func (n *WebhookNotifier) Send(ctx context.Context, severity models.Severity, message string, details map[string]string) error {
	p := payload{
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	if n.url == "" {
		return n.fallback(p)
	}

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, p)
	})
	if err != nil {
		n.logger.Warn("webhook delivery failed", slog.Any("error", err))
		if fbErr := n.fallback(p); fbErr != nil {
			return fmt.Errorf("webhook: %v; fallback: %w", err, fbErr)
		}
		return err
	}
	return nil
}

func (n *WebhookNotifier) post(ctx context.Context, p payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// fallback appends the notification as a JSON line to the local file.
func (n *WebhookNotifier) fallback(p payload) error {
	if n.fallbackPath == "" {
		return nil
	}
	line, err := json.Marshal(p)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(n.fallbackPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
