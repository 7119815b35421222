package replay

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
)

// replayTimestamps resolves the replay window in milliseconds from every
// timestamped input. Zero timestamps count as unknown. A side with no known
// timestamp falls back to the root event's own window.
func replayTimestamps(event Event, rrwebEvents []RecordingEvent, crumbs []Crumb, spans []Span) (float64, float64) {
	starts := make([]float64, 0, len(rrwebEvents)+len(crumbs)+len(spans))
	ends := make([]float64, 0, len(rrwebEvents)+len(crumbs)+len(spans))

	for _, e := range rrwebEvents {
		starts = append(starts, float64(e.Timestamp))
		ends = append(ends, float64(e.Timestamp))
	}
	for _, crumb := range crumbs {
		if crumb.Timestamp == 0 {
			continue
		}
		starts = append(starts, crumb.Timestamp*msPerSecond)
		ends = append(ends, crumb.Timestamp*msPerSecond)
	}
	for _, span := range spans {
		if span.StartTimestamp != 0 {
			starts = append(starts, span.StartTimestamp*msPerSecond)
		}
		if span.EndTimestamp != 0 {
			ends = append(ends, span.EndTimestamp*msPerSecond)
		}
	}

	start, end := event.StartTimestamp*msPerSecond, event.EndTimestamp*msPerSecond
	if len(starts) > 0 {
		start = slices.Min(starts)
	}
	if len(ends) > 0 {
		end = slices.Max(ends)
	}
	return start, end
}

func sortedSpans(spans []Span) []Span {
	sorted := cloneSpans(spans)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartTimestamp < sorted[j].StartTimestamp
	})
	return sorted
}

// breadcrumbList prepends the synthetic recording-start crumb, numbers every
// crumb and orders them by time.
func breadcrumbList(startMS float64, event Event, raw []Crumb) []Crumb {
	initialURL, _ := event.Tag(initialURLTagKey)

	crumbs := make([]Crumb, 0, len(raw)+1)
	crumbs = append(crumbs, Crumb{
		Type:      CrumbTypeInit,
		Level:     CrumbLevelInfo,
		Message:   initialURL,
		Timestamp: startMS / msPerSecond,
		Data: map[string]any{
			"action": CrumbActionInit,
			"label":  initialCrumbLabel,
			"url":    initialURL,
		},
	})
	for _, crumb := range raw {
		crumb.Data = cloneData(crumb.Data)
		if crumb.Type == "" {
			crumb.Type = CrumbTypeDefault
		}
		crumbs = append(crumbs, crumb)
	}

	for i := range crumbs {
		crumbs[i].ID = i
	}

	sort.SliceStable(crumbs, func(i, j int) bool {
		return crumbs[i].Timestamp < crumbs[j].Timestamp
	})
	return crumbs
}

// recordingEventList appends the replay-end marker and clips the first event
// to the replay start so playback covers the whole window.
func recordingEventList(startMS, endMS float64, raw []RecordingEvent) []RecordingEvent {
	events := make([]RecordingEvent, 0, len(raw)+1)
	events = append(events, cloneRecordingEvents(raw)...)

	endData, _ := json.Marshal(map[string]any{"tag": RecordingEndTag})
	events = append(events, RecordingEvent{
		Type:      EventTypeCustom,
		Timestamp: int64(math.Round(endMS)),
		Data:      endData,
	})

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp < events[j].Timestamp
	})

	events[0].Timestamp = int64(math.Round(startMS))
	return events
}
