package sessions

import (
	"maps"
	"time"
)

// FilterInTimeWindow narrows a response to the intervals inside [start, end].
// The sessions backend aligns buckets to the interval, so the first and last
// buckets can fall outside the requested range. Totals are rebuilt per field
// aggregation: sums are re-summed, means re-averaged from bucket values (an
// approximation), and distinct counts keep the unfiltered total.
//
// When either bound is empty the input is returned as is.
func FilterInTimeWindow(resp *Response, start, end string, fields Fields) *Response {
	if resp == nil || start == "" || end == "" {
		return resp
	}

	startTime, err := parseTimestamp(start)
	if err != nil {
		return resp
	}
	endTime, err := parseTimestamp(end)
	if err != nil {
		return resp
	}

	kept := make([]int, 0, len(resp.Intervals))
	intervals := make([]string, 0, len(resp.Intervals))
	for index, interval := range resp.Intervals {
		ts, err := parseTimestamp(interval)
		if err != nil {
			continue
		}
		if ts.Before(startTime) || ts.After(endTime) {
			continue
		}
		kept = append(kept, index)
		intervals = append(intervals, interval)
	}

	groups := make([]Group, 0, len(resp.Groups))
	for _, group := range resp.Groups {
		groups = append(groups, narrowGroup(group, kept, fields))
	}

	filtered := &Response{
		Query:     resp.Query,
		Intervals: intervals,
		Groups:    groups,
	}
	if len(intervals) > 0 {
		filtered.Start = intervals[0]
		filtered.End = intervals[len(intervals)-1]
	}
	return filtered
}

func narrowGroup(group Group, kept []int, fields Fields) Group {
	series := make(map[Field][]float64, len(group.Series))
	totals := make(map[Field]float64, len(group.Series))

	for field, values := range group.Series {
		narrowed := make([]float64, 0, len(kept))
		sum := 0.0
		for _, index := range kept {
			if index >= len(values) {
				continue
			}
			narrowed = append(narrowed, values[index])
			sum += values[index]
		}
		series[field] = narrowed

		switch fields.Aggregation(field) {
		case AggregateMean:
			if len(narrowed) > 0 {
				totals[field] = sum / float64(len(narrowed))
			} else {
				totals[field] = 0
			}
		case AggregateUnchanged:
			totals[field] = group.Totals[field]
		default:
			totals[field] = sum
		}
	}

	return Group{
		By:     maps.Clone(group.By),
		Series: series,
		Totals: totals,
	}
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
