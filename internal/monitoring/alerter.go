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

	"github.com/sells-group/permit-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSourceUnhealthy AlertType = "source_unhealthy"
	AlertFleetDegraded   AlertType = "fleet_degraded"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Source    string         `json:"source,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a health Snapshot into alerts and delivers them via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns one alert per unhealthy source, plus a fleet alert when
// the unhealthy share of at least five sources exceeds the threshold.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	for _, st := range snap.Statuses {
		if st.Healthy {
			continue
		}
		severity := "medium"
		if st.LastSuccess == nil {
			severity = "high"
		}
		details := map[string]any{"detail": st.Detail}
		if st.LastSuccess != nil {
			details["last_success"] = st.LastSuccess.UTC().Format(time.RFC3339)
		}
		alerts = append(alerts, Alert{
			Type:      AlertSourceUnhealthy,
			Severity:  severity,
			Source:    st.Source,
			Message:   fmt.Sprintf("Source %s is unhealthy: %s", st.Source, st.Detail),
			Details:   details,
			Timestamp: now,
		})
	}

	total := snap.Healthy + snap.Unhealthy
	if a.cfg.FailureRateThreshold > 0 && total >= 5 && snap.UnhealthyPc > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFleetDegraded,
			Severity: "high",
			Message: fmt.Sprintf(
				"%.1f%% of sources unhealthy exceeds threshold %.1f%% (%d of %d)",
				snap.UnhealthyPc*100, a.cfg.FailureRateThreshold*100, snap.Unhealthy, total,
			),
			Details: map[string]any{
				"unhealthy_pct": snap.UnhealthyPc,
				"threshold":     a.cfg.FailureRateThreshold,
				"unhealthy":     snap.Unhealthy,
				"total":         total,
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
				zap.String("source", alert.Source),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("source", alert.Source),
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
