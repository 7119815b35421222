package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"releasepulse/internal/sessions"
)

// Thresholds tunes release-health badges and alerting.
type Thresholds struct {
	Health                 sessions.HealthThresholds `yaml:",inline"`
	AlertCooldownMinutes   int                       `yaml:"alert_cooldown_minutes"`
	AlertMinSessions       int                       `yaml:"alert_min_sessions"`
	AlertLookbackPeriod    string                    `yaml:"alert_lookback_period"`
	AdoptionGuardZeroTotal bool                      `yaml:"adoption_guard_zero_total"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Health:               sessions.DefaultHealthThresholds,
		AlertCooldownMinutes: 60,
		AlertMinSessions:     100,
		AlertLookbackPeriod:  "24h",
	}
}

// LoadThresholds reads a yaml file. A missing path or file yields defaults.
func LoadThresholds(path string) (Thresholds, error) {
	if path == "" {
		return DefaultThresholds(), nil
	}

	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultThresholds(), nil
	}
	if err != nil {
		return Thresholds{}, fmt.Errorf("read thresholds: %w", err)
	}

	thresholds := DefaultThresholds()
	if err := yaml.Unmarshal(content, &thresholds); err != nil {
		return Thresholds{}, fmt.Errorf("parse thresholds: %w", err)
	}

	if thresholds.Health.Danger <= 0 || thresholds.Health.Danger > 100 {
		return Thresholds{}, fmt.Errorf("crash_free_danger must be within (0, 100], got %v", thresholds.Health.Danger)
	}
	if thresholds.Health.Warning < thresholds.Health.Danger || thresholds.Health.Warning > 100 {
		return Thresholds{}, fmt.Errorf("crash_free_warning must be within [danger, 100], got %v", thresholds.Health.Warning)
	}
	if thresholds.AlertCooldownMinutes < 0 {
		thresholds.AlertCooldownMinutes = 0
	}
	if thresholds.AlertMinSessions < 1 {
		thresholds.AlertMinSessions = 1
	}
	if _, err := sessions.ParsePeriod(thresholds.AlertLookbackPeriod); err != nil {
		return Thresholds{}, fmt.Errorf("alert_lookback_period: %w", err)
	}
	return thresholds, nil
}

func (t Thresholds) AdoptionPolicy() sessions.AdoptionPolicy {
	if t.AdoptionGuardZeroTotal {
		return sessions.AdoptionGuarded
	}
	return sessions.AdoptionUnguarded
}
