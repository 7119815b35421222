package store

import (
	"errors"
	"fmt"
	"time"

	"releasepulse/internal/sessions"
)

var ErrUnsupportedField = errors.New("unsupported session field")

// bucketEpoch anchors every bucket so that widths of a day or less line up
// with UTC midnight.
var bucketEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

type aggregateRow struct {
	Sessions    float64
	Users       float64
	DurationP50 float64
}

func (r aggregateRow) value(field sessions.Field) float64 {
	switch field {
	case sessions.FieldSessions:
		return r.Sessions
	case sessions.FieldUsers:
		return r.Users
	case sessions.FieldDurationP50:
		return r.DurationP50
	default:
		return 0
	}
}

type bucketRow struct {
	Bucket time.Time
	Status sessions.Status
	aggregateRow
}

type totalRow struct {
	Status sessions.Status
	aggregateRow
}

func ValidateFields(fields sessions.Fields) error {
	for _, spec := range fields {
		switch spec.Name {
		case sessions.FieldSessions, sessions.FieldUsers, sessions.FieldDurationP50:
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedField, spec.Name)
		}
	}
	return nil
}

func alignBucket(ts time.Time, interval time.Duration) time.Time {
	offset := ts.UTC().Sub(bucketEpoch)
	return bucketEpoch.Add(offset - offset%interval)
}

// bucketRange returns the aligned [from, to) range that covers start..end.
func bucketRange(start, end time.Time, interval time.Duration) (time.Time, time.Time) {
	from := alignBucket(start, interval)
	to := alignBucket(end, interval).Add(interval)
	return from, to
}

// buildResponse lays bucket rows onto a zero-filled interval grid, one group
// per status that has data.
func buildResponse(q SessionQuery, buckets []bucketRow, totals []totalRow) *sessions.Response {
	from, to := bucketRange(q.Start, q.End, q.Interval)

	intervals := make([]string, 0)
	positions := make(map[int64]int)
	for ts := from; ts.Before(to); ts = ts.Add(q.Interval) {
		positions[ts.Unix()] = len(intervals)
		intervals = append(intervals, ts.Format(time.RFC3339))
	}

	byStatus := make(map[sessions.Status]*sessions.Group)
	groupFor := func(status sessions.Status) *sessions.Group {
		if group, ok := byStatus[status]; ok {
			return group
		}
		group := &sessions.Group{
			By:     map[string]string{sessions.StatusKey: string(status)},
			Series: make(map[sessions.Field][]float64, len(q.Fields)),
			Totals: make(map[sessions.Field]float64, len(q.Fields)),
		}
		for _, field := range q.Fields.Names() {
			group.Series[field] = make([]float64, len(intervals))
			group.Totals[field] = 0
		}
		byStatus[status] = group
		return group
	}

	for _, row := range buckets {
		index, ok := positions[alignBucket(row.Bucket, q.Interval).Unix()]
		if !ok {
			continue
		}
		group := groupFor(row.Status)
		for _, field := range q.Fields.Names() {
			group.Series[field][index] += row.value(field)
		}
	}
	for _, row := range totals {
		group := groupFor(row.Status)
		for _, field := range q.Fields.Names() {
			group.Totals[field] = row.value(field)
		}
	}

	resp := &sessions.Response{
		Query:     q.Query,
		Intervals: intervals,
		Groups:    make([]sessions.Group, 0, len(byStatus)),
	}
	if len(intervals) > 0 {
		resp.Start = intervals[0]
		resp.End = intervals[len(intervals)-1]
	}
	for _, status := range sessions.AllStatuses {
		if group, ok := byStatus[status]; ok {
			resp.Groups = append(resp.Groups, *group)
		}
	}
	return resp
}
