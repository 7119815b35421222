// Package replay normalizes the independently fetched parts of a session
// replay into one timeline.
package replay

import (
	"bytes"
	"slices"
)

// Params holds the four replay parts. A nil field means that part has not been
// loaded; an empty, non-nil slice is a loaded part without entries.
type Params struct {
	Breadcrumbs []Crumb
	Event       *Event
	RRWebEvents []RecordingEvent
	Spans       []Span
}

func (p Params) complete() bool {
	return p.Breadcrumbs != nil && p.Event != nil && p.RRWebEvents != nil && p.Spans != nil
}

// Reader is immutable once built; accessors return copies.
type Reader struct {
	event       Event
	rrwebEvents []RecordingEvent
	breadcrumbs []Crumb
	spans       []Span
	startMS     float64
	endMS       float64
}

// NewReader returns false when any part is missing, so partial replays are
// never rendered.
func NewReader(p Params) (*Reader, bool) {
	if !p.complete() {
		return nil, false
	}

	startMS, endMS := replayTimestamps(*p.Event, p.RRWebEvents, p.Breadcrumbs, p.Spans)

	event := cloneEvent(*p.Event)
	event.StartTimestamp = startMS / msPerSecond
	event.EndTimestamp = endMS / msPerSecond

	return &Reader{
		event:       event,
		rrwebEvents: recordingEventList(startMS, endMS, p.RRWebEvents),
		breadcrumbs: breadcrumbList(startMS, *p.Event, p.Breadcrumbs),
		spans:       sortedSpans(p.Spans),
		startMS:     startMS,
		endMS:       endMS,
	}, true
}

func (r *Reader) Event() Event {
	return cloneEvent(r.event)
}

func (r *Reader) RRWebEvents() []RecordingEvent {
	return cloneRecordingEvents(r.rrwebEvents)
}

func (r *Reader) RawCrumbs() []Crumb {
	return cloneCrumbs(r.breadcrumbs)
}

func (r *Reader) RawSpans() []Span {
	return cloneSpans(r.spans)
}

func (r *Reader) MemorySpans() []Span {
	memory := make([]Span, 0)
	for _, span := range r.spans {
		if r.IsMemorySpan(span) {
			span.Data = cloneData(span.Data)
			memory = append(memory, span)
		}
	}
	return memory
}

func (r *Reader) DurationMs() float64 {
	return r.endMS - r.startMS
}

func (r *Reader) IsMemorySpan(span Span) bool {
	return span.Op == MemorySpanOp
}

func (r *Reader) IsNotMemorySpan(span Span) bool {
	return !r.IsMemorySpan(span)
}

func cloneEvent(event Event) Event {
	event.Tags = slices.Clone(event.Tags)
	event.Contexts = cloneData(event.Contexts)
	return event
}

func cloneRecordingEvents(events []RecordingEvent) []RecordingEvent {
	cloned := slices.Clone(events)
	for i := range cloned {
		cloned[i].Data = bytes.Clone(cloned[i].Data)
	}
	return cloned
}

func cloneCrumbs(crumbs []Crumb) []Crumb {
	cloned := slices.Clone(crumbs)
	for i := range cloned {
		cloned[i].Data = cloneData(cloned[i].Data)
	}
	return cloned
}

func cloneSpans(spans []Span) []Span {
	cloned := slices.Clone(spans)
	for i := range cloned {
		cloned[i].Data = cloneData(cloned[i].Data)
	}
	return cloned
}

// cloneData deep-copies decoded JSON objects and arrays.
func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cloned := make(map[string]any, len(data))
	for key, value := range data {
		cloned[key] = cloneValue(value)
	}
	return cloned
}

func cloneValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return cloneData(typed)
	case []any:
		cloned := make([]any, len(typed))
		for i, item := range typed {
			cloned[i] = cloneValue(item)
		}
		return cloned
	default:
		return value
	}
}
