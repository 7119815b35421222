package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"releasepulse/internal/queue"
	"releasepulse/internal/sessions"
	"releasepulse/internal/store"
)

type healthAlertNotifier struct {
	ledger     AlertLedger
	producer   queue.Producer
	webhookURL string
	authHeader string
	cooldown   time.Duration
	client     *http.Client
}

func newHealthAlertNotifier(
	ledger AlertLedger,
	producer queue.Producer,
	webhookURL string,
	authHeader string,
	cooldownMinutes int,
) *healthAlertNotifier {
	if cooldownMinutes < 0 {
		cooldownMinutes = 0
	}

	return &healthAlertNotifier{
		ledger:     ledger,
		producer:   producer,
		webhookURL: strings.TrimSpace(webhookURL),
		authHeader: strings.TrimSpace(authHeader),
		cooldown:   time.Duration(cooldownMinutes) * time.Minute,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notify sends one alert unless the release was alerted within the cooldown.
func (n *healthAlertNotifier) notify(ctx context.Context, alert queue.HealthAlert, threshold float64) (bool, error) {
	ref := store.ReleaseRef{ProjectID: alert.ProjectID, Release: alert.Release}
	if n.cooldown > 0 && n.ledger != nil {
		lastSentAt, found, err := n.ledger.LastHealthAlertAt(ctx, ref)
		if err != nil {
			return false, err
		}
		if found && alert.RaisedAt.Sub(lastSentAt) < n.cooldown {
			return false, nil
		}
	}

	if n.webhookURL != "" {
		if err := n.postWebhook(ctx, alert, threshold); err != nil {
			return false, err
		}
	}
	if err := n.producer.PublishHealthAlert(ctx, alert); err != nil {
		log.Printf("health alert publish failed project=%s release=%s err=%v", alert.ProjectID, alert.Release, err)
	}

	if n.ledger != nil {
		if err := n.ledger.RecordHealthAlert(ctx, ref, alert.CrashFreeRate, alert.RaisedAt); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (n *healthAlertNotifier) postWebhook(ctx context.Context, alert queue.HealthAlert, threshold float64) error {
	body, err := json.Marshal(map[string]any{
		"event":         "release_crash_free_below_threshold",
		"sentAt":        alert.RaisedAt.UTC().Format(time.RFC3339),
		"projectId":     alert.ProjectID,
		"release":       alert.Release,
		"crashFreeRate": alert.CrashFreeRate,
		"threshold":     threshold,
		"health":        alert.Health,
		"sessions":      alert.Sessions,
		"period":        alert.Period,
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	if n.authHeader != "" {
		request.Header.Set("Authorization", n.authHeader)
	}

	response, err := n.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		rawBody, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("webhook status=%d body=%s", response.StatusCode, strings.TrimSpace(string(rawBody)))
	}
	return nil
}

type HealthCheckResult struct {
	Checked int `json:"checked"`
	Alerted int `json:"alerted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// CheckReleaseHealth evaluates every release with sessions in the lookback
// period and alerts on crash-free rates below the danger threshold.
func (h *Handler) CheckReleaseHealth(ctx context.Context) (HealthCheckResult, error) {
	period := h.thresholds.AlertLookbackPeriod
	lookback, err := sessions.ParsePeriod(period)
	if err != nil {
		return HealthCheckResult{}, err
	}

	now := h.now()
	window, err := resolveWindow(url.Values{"statsPeriod": []string{period}}, now)
	if err != nil {
		return HealthCheckResult{}, err
	}

	refs, err := h.store.ListActiveReleases(ctx, now.Add(-lookback))
	if err != nil {
		return HealthCheckResult{}, fmt.Errorf("list active releases: %w", err)
	}
	h.metrics.healthChecksTotal.Add(1)

	result := HealthCheckResult{}
	for _, ref := range refs {
		health, err := h.releaseHealth(ctx, ref.ProjectID, ref.Release, "", window)
		if err != nil {
			result.Failed++
			log.Printf("health check failed project=%s release=%s err=%v", ref.ProjectID, ref.Release, err)
			continue
		}
		result.Checked++

		if health.CrashFreeSessions == nil || health.TotalSessions < float64(h.thresholds.AlertMinSessions) {
			result.Skipped++
			continue
		}
		crashFree := *health.CrashFreeSessions
		if crashFree >= h.thresholds.Health.Danger {
			continue
		}

		sent, err := h.alerts.notify(ctx, queue.HealthAlert{
			ProjectID:     ref.ProjectID,
			Release:       ref.Release,
			CrashFreeRate: crashFree,
			Health:        string(sessions.HealthDanger),
			Sessions:      health.TotalSessions,
			Period:        period,
			RaisedAt:      now.UTC(),
		}, h.thresholds.Health.Danger)
		if err != nil {
			result.Failed++
			log.Printf("health alert failed project=%s release=%s err=%v", ref.ProjectID, ref.Release, err)
			continue
		}
		if sent {
			result.Alerted++
			h.metrics.healthAlertsTotal.Add(1)
			log.Printf("health alert sent project=%s release=%s crashFree=%.3f", ref.ProjectID, ref.Release, crashFree)
		}
	}
	return result, nil
}
