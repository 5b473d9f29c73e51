package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dost0092/web-scraper-atomic/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertFailureRate     AlertType = "failure_rate"
	AlertSchemaViolation AlertType = "schema_violation"
	AlertStalledRecords  AlertType = "stalled_records"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitor config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.Finalized + snap.Failed
	if finished >= a.cfg.MinFinished && finished > 0 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Extraction failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.Failed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate":    snap.FailRate,
				"threshold":       a.cfg.FailureRateThreshold,
				"failed":          snap.Failed,
				"finished":        finished,
				"failed_by_stage": snap.FailedByStage,
			},
			Timestamp: now,
		})
	}

	// Schema violations need a prompt or model fix; retries will not help.
	if snap.SchemaViolations > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertSchemaViolation,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d record(s) failed extraction with a non-retryable schema violation in last %dh",
				snap.SchemaViolations, snap.LookbackHours,
			),
			Details: map[string]any{
				"schema_violations": snap.SchemaViolations,
				"retryable_failed":  snap.RetryableFailed,
			},
			Timestamp: now,
		})
	}

	if snap.Stalled > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertStalledRecords,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d unfinished record(s) idle for more than %d minutes",
				snap.Stalled, a.cfg.StalledAfterMins,
			),
			Details: map[string]any{
				"stalled":     snap.Stalled,
				"in_progress": snap.InProgress,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

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
