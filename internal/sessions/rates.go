package sessions

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	// Crash-free values above this threshold are shown with decimals.
	crashFreeDecimalThreshold = 95
	crashFreeDecimalPlaces    = 3
	statusPercentPlaces       = 3
	statusRatePlaces          = 1
)

type Health string

const (
	HealthHealthy Health = "healthy"
	HealthWarning Health = "warning"
	HealthDanger  Health = "danger"
)

type HealthThresholds struct {
	Danger  float64 `yaml:"crash_free_danger" json:"danger"`
	Warning float64 `yaml:"crash_free_warning" json:"warning"`
}

var DefaultHealthThresholds = HealthThresholds{Danger: 98, Warning: 99.5}

func CrashFreeHealth(crashFreePercent float64, thresholds HealthThresholds) Health {
	if crashFreePercent < thresholds.Danger {
		return HealthDanger
	}
	if crashFreePercent < thresholds.Warning {
		return HealthWarning
	}
	return HealthHealthy
}

// Percent does not guard against a zero denominator.
func Percent(numerator, denominator float64) float64 {
	return numerator / denominator * 100
}

func Count(groups []Group, field Field) float64 {
	total := 0.0
	for _, group := range groups {
		total += group.Totals[field]
	}
	return total
}

func CountAtIndex(groups []Group, field Field, index int) float64 {
	total := 0.0
	for _, group := range groups {
		total += group.valueAt(field, index)
	}
	return total
}

// SeriesAverage divides the total by the number of groups that contributed to
// it. It only protects against dividing by zero; it is not a weighted mean.
func SeriesAverage(groups []Group, field Field) (float64, bool) {
	total := Count(groups, field)

	dataPoints := 0
	for _, group := range groups {
		if group.Totals[field] != 0 {
			dataPoints++
		}
	}

	if total == 0 || dataPoints == 0 {
		return 0, false
	}
	return total / float64(dataPoints), true
}

func SessionStatusRate(groups []Group, field Field, status Status) (float64, bool) {
	rate, ok := statusRate(groups, field, status)
	if !ok {
		return 0, false
	}
	return roundTo(rate, statusRatePlaces), true
}

func CrashFreeRate(groups []Group, field Field) (float64, bool) {
	crashedRate, ok := statusRate(groups, field, StatusCrashed)
	if !ok {
		return 0, false
	}
	return CrashFreePercent(100 - crashedRate), true
}

func statusRate(groups []Group, field Field, status Status) (float64, bool) {
	total := Count(groups, field)
	if total == 0 {
		return 0, false
	}
	return Percent(Count(groupsWithStatus(groups, status), field), total), true
}

// CrashFreePercent applies the display rounding for crash-free values. A rate
// below 100 never displays as 100.
func CrashFreePercent(percent float64) float64 {
	if !finite(percent) {
		return percent
	}

	places := 0
	if percent > crashFreeDecimalThreshold {
		places = crashFreeDecimalPlaces
	}

	rounded := roundTo(percent, places)
	if rounded == 100 && percent < 100 {
		rounded = floorTo(percent, crashFreeDecimalPlaces)
	}
	return math.Min(100, math.Max(0, rounded))
}

func SessionStatusPercent(percent float64) float64 {
	return roundTo(math.Abs(percent), statusPercentPlaces)
}

func roundTo(value float64, places int) float64 {
	if !finite(value) {
		return value
	}
	rounded, _ := decimal.NewFromFloat(value).Round(int32(places)).Float64()
	return rounded
}

func floorTo(value float64, places int) float64 {
	if !finite(value) {
		return value
	}
	floored, _ := decimal.NewFromFloat(value).RoundFloor(int32(places)).Float64()
	return floored
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}
