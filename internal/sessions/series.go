package sessions

import "math"

// AdoptionPolicy decides what an adoption point shows when the interval has
// no sessions at all.
type AdoptionPolicy int

const (
	// AdoptionUnguarded divides by the zero total, producing NaN or +Inf.
	AdoptionUnguarded AdoptionPolicy = iota
	// AdoptionGuarded reports zero adoption for an empty interval.
	AdoptionGuarded
)

type candidate struct {
	point   Point
	present bool
}

func present(name string, value float64) candidate {
	return candidate{point: Point{Name: name, Value: value}, present: true}
}

// compact drops absent candidates, keeping order.
func compact(candidates []candidate) []Point {
	points := make([]Point, 0, len(candidates))
	for _, c := range candidates {
		if c.present {
			points = append(points, c.point)
		}
	}
	return points
}

func ratioCandidates(
	groups []Group,
	intervals []string,
	field Field,
	status Status,
	format func(statusPercent float64) float64,
) []candidate {
	matching := groupsWithStatus(groups, status)
	candidates := make([]candidate, len(intervals))
	for i, interval := range intervals {
		total := CountAtIndex(groups, field, i)
		if total == 0 {
			continue
		}
		candidates[i] = present(interval, format(Percent(CountAtIndex(matching, field, i), total)))
	}
	return candidates
}

// CrashFreeRateSeries omits intervals without sessions.
func CrashFreeRateSeries(groups []Group, intervals []string, field Field) []Point {
	return compact(ratioCandidates(groups, intervals, field, StatusCrashed, func(crashed float64) float64 {
		return CrashFreePercent(100 - crashed)
	}))
}

func SessionStatusRateSeries(groups []Group, intervals []string, field Field, status Status) []Point {
	return compact(ratioCandidates(groups, intervals, field, status, SessionStatusPercent))
}

// SessionP50Series averages the non-zero, non-NaN group values of each
// interval.
// formatter may be nil.
func SessionP50Series(
	groups []Group,
	intervals []string,
	field Field,
	formatter func(float64) float64,
) []Point {
	candidates := make([]candidate, len(intervals))
	for i, interval := range intervals {
		sum := 0.0
		values := 0
		for _, group := range groups {
			if value := group.valueAt(field, i); value != 0 && !math.IsNaN(value) {
				sum += value
				values++
			}
		}
		if values == 0 {
			continue
		}

		mean := sum / float64(values)
		if mean == 0 || math.IsNaN(mean) {
			continue
		}
		if formatter != nil {
			mean = formatter(mean)
		}
		candidates[i] = present(interval, mean)
	}
	return compact(candidates)
}

func AdoptionSeries(
	releaseGroups []Group,
	allGroups []Group,
	intervals []string,
	field Field,
	policy AdoptionPolicy,
) []Point {
	points := make([]Point, 0, len(intervals))
	for i, interval := range intervals {
		releaseSessions := CountAtIndex(releaseGroups, field, i)
		totalSessions := CountAtIndex(allGroups, field, i)

		adoption := 0.0
		if totalSessions != 0 || policy == AdoptionUnguarded {
			adoption = math.Round(Percent(releaseSessions, totalSessions))
		}
		points = append(points, Point{Name: interval, Value: adoption})
	}
	return points
}

// CountSeries reads a single group; a nil group yields zeros.
func CountSeries(field Field, group *Group, intervals []string) []Point {
	points := make([]Point, 0, len(intervals))
	for i, interval := range intervals {
		value := 0.0
		if group != nil {
			value = group.valueAt(field, i)
		}
		points = append(points, Point{Name: interval, Value: value})
	}
	return points
}

func StatusCountSeries(groups []Group, intervals []string, field Field) map[Status][]Point {
	result := make(map[Status][]Point, len(AllStatuses))
	for _, status := range AllStatuses {
		matching := groupsWithStatus(groups, status)
		merged := Group{Series: map[Field][]float64{field: make([]float64, len(intervals))}}
		for i := range intervals {
			merged.Series[field][i] = CountAtIndex(matching, field, i)
		}
		result[status] = CountSeries(field, &merged, intervals)
	}
	return result
}
