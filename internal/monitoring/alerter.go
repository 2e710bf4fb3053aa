package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/terms-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertTransferIntegrity AlertType = "transfer_integrity_failure"
	AlertRunFailure        AlertType = "run_failure"
	AlertProviderDown      AlertType = "provider_unavailable"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter delivers operator alerts via webhook. With no webhook configured it
// degrades to logging only, so callers never need to nil-check.
type Alerter struct {
	cfg    config.AlertingConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given alerting config.
func NewAlerter(cfg config.AlertingConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one alert. Failures are logged, not returned: alerting must
// never take the pipeline down with it.
func (a *Alerter) Send(ctx context.Context, alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}

	zap.L().Warn("monitoring: alert raised",
		zap.String("type", string(alert.Type)),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message),
	)

	if a.cfg.WebhookURL == "" {
		return
	}
	if err := a.sendWebhook(ctx, alert); err != nil {
		zap.L().Error("monitoring: failed to send alert",
			zap.String("type", string(alert.Type)),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("monitoring: alert sent", zap.String("type", string(alert.Type)))
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
