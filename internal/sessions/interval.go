package sessions

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid period")

const (
	DefaultStatsPeriod = "14d"

	// At or below this many minutes, charts can show seconds.
	MinutesThresholdToDisplaySeconds = 10

	sixHoursMinutes   = 6 * 60
	thirtyDaysMinutes = 30 * 24 * 60
	sixtyDaysMinutes  = 60 * 24 * 60

	// The backend keeps sub-hour buckets for this long.
	highFidelityRetention = 30 * 24 * time.Hour
)

type DateRange struct {
	Start  time.Time
	End    time.Time
	Period string
}

type IntervalOptions struct {
	HighFidelity bool
	Now          time.Time
}

// SessionsInterval picks the bucket width for a date range.
func SessionsInterval(r DateRange, opts IntervalOptions) string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	diffInMinutes, start := r.span(now)
	highFidelity := opts.HighFidelity
	if !start.After(now.Add(-highFidelityRetention)) {
		highFidelity = false
	}

	if diffInMinutes >= sixtyDaysMinutes {
		return "1d"
	}
	if diffInMinutes >= thirtyDaysMinutes {
		return "4h"
	}
	if diffInMinutes >= sixHoursMinutes {
		return "1h"
	}

	// sub-hour resolution is only served for ranges under six hours
	if highFidelity {
		if diffInMinutes <= MinutesThresholdToDisplaySeconds {
			return "10s"
		}
		if diffInMinutes <= 30 {
			return "1m"
		}
		return "5m"
	}

	return "1h"
}

// span returns the range length in whole minutes and its effective start.
func (r DateRange) span(now time.Time) (int64, time.Time) {
	if !r.Start.IsZero() && !r.End.IsZero() {
		return int64(r.End.Sub(r.Start) / time.Minute), r.Start
	}

	period := r.Period
	if period == "" {
		period = DefaultStatsPeriod
	}
	length, err := ParsePeriod(period)
	if err != nil {
		length, _ = ParsePeriod(DefaultStatsPeriod)
	}
	return int64(length / time.Minute), now.Add(-length)
}

// ParsePeriod reads relative periods such as "90s", "30m", "24h", "14d", "2w".
func ParsePeriod(period string) (time.Duration, error) {
	trimmed := strings.TrimSpace(period)
	if len(trimmed) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	unit := trimmed[len(trimmed)-1]
	amount, err := strconv.Atoi(trimmed[:len(trimmed)-1])
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	var base time.Duration
	switch unit {
	case 's':
		base = time.Second
	case 'm':
		base = time.Minute
	case 'h':
		base = time.Hour
	case 'd':
		base = 24 * time.Hour
	case 'w':
		base = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	if int64(amount) > math.MaxInt64/int64(base) {
		return 0, fmt.Errorf("%w: %q is too long", ErrInvalidPeriod, period)
	}
	return time.Duration(amount) * base, nil
}

// IntervalDuration converts a bucket width such as "1d" or "10s".
func IntervalDuration(interval string) (time.Duration, error) {
	return ParsePeriod(interval)
}
