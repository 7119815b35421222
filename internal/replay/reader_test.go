package replay

import (
	"encoding/json"
	"testing"
)

func completeParams() Params {
	return Params{
		Event: &Event{
			ID:             "replay-1",
			Tags:           []Tag{{Key: "url", Value: "https://shop.example.com/cart"}},
			StartTimestamp: 1,
			EndTimestamp:   2,
		},
		Breadcrumbs: []Crumb{
			{Category: "ui.click", Message: "button#pay", Timestamp: 1700000003.5},
			{Category: "navigation", Message: "/checkout", Timestamp: 1700000001.25},
		},
		RRWebEvents: []RecordingEvent{
			{Type: EventTypeFullSnapshot, Timestamp: 1700000002000},
			{Type: 3, Timestamp: 1700000004000},
		},
		Spans: []Span{
			{Op: "navigation.navigate", StartTimestamp: 1700000001.5, EndTimestamp: 1700000006},
			{Op: MemorySpanOp, StartTimestamp: 1700000000.5, EndTimestamp: 1700000000.5},
		},
	}
}

func TestNewReaderRequiresEveryPart(t *testing.T) {
	cases := map[string]func(*Params){
		"breadcrumbs": func(p *Params) { p.Breadcrumbs = nil },
		"event":       func(p *Params) { p.Event = nil },
		"rrweb":       func(p *Params) { p.RRWebEvents = nil },
		"spans":       func(p *Params) { p.Spans = nil },
	}

	for name, drop := range cases {
		params := completeParams()
		drop(&params)
		if reader, ok := NewReader(params); ok || reader != nil {
			t.Fatalf("expected no reader when %s is missing", name)
		}
	}
}

func TestNewReaderAcceptsEmptyParts(t *testing.T) {
	reader, ok := NewReader(Params{
		Event:       &Event{ID: "replay-2", StartTimestamp: 10, EndTimestamp: 12},
		Breadcrumbs: []Crumb{},
		RRWebEvents: []RecordingEvent{},
		Spans:       []Span{},
	})
	if !ok || reader == nil {
		t.Fatal("expected a reader for empty parts")
	}

	event := reader.Event()
	if event.StartTimestamp != 10 || event.EndTimestamp != 12 {
		t.Fatalf("expected event window fallback, got %v-%v", event.StartTimestamp, event.EndTimestamp)
	}
	if got := reader.RRWebEvents(); len(got) != 1 {
		t.Fatalf("expected only the end marker, got %d events", len(got))
	}
}

func TestReaderResolvesWindowFromAllParts(t *testing.T) {
	reader, ok := NewReader(completeParams())
	if !ok {
		t.Fatal("expected reader")
	}

	event := reader.Event()
	if event.StartTimestamp != 1700000000.5 {
		t.Fatalf("expected start from memory span, got %v", event.StartTimestamp)
	}
	if event.EndTimestamp != 1700000006 {
		t.Fatalf("expected end from navigation span, got %v", event.EndTimestamp)
	}
	if reader.DurationMs() != 5500 {
		t.Fatalf("expected 5500ms duration, got %v", reader.DurationMs())
	}
}

func TestReaderOrdersAndClipsRecordingEvents(t *testing.T) {
	reader, _ := NewReader(completeParams())

	events := reader.RRWebEvents()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Timestamp != 1700000000500 {
		t.Fatalf("expected first event clipped to start, got %d", events[0].Timestamp)
	}

	last := events[len(events)-1]
	if last.Type != EventTypeCustom || last.Timestamp != 1700000006000 {
		t.Fatalf("expected end marker at window end, got %+v", last)
	}
	var data map[string]string
	if err := json.Unmarshal(last.Data, &data); err != nil || data["tag"] != RecordingEndTag {
		t.Fatalf("expected replay-end tag, got %s", string(last.Data))
	}

	for i := 1; i < len(events); i++ {
		if events[i].Timestamp < events[i-1].Timestamp {
			t.Fatalf("events out of order at %d", i)
		}
	}
}

func TestReaderBreadcrumbsStartWithInitCrumb(t *testing.T) {
	params := completeParams()
	reader, _ := NewReader(params)

	crumbs := reader.RawCrumbs()
	if len(crumbs) != 3 {
		t.Fatalf("expected 3 crumbs, got %d", len(crumbs))
	}

	first := crumbs[0]
	if first.Type != CrumbTypeInit || first.Message != "https://shop.example.com/cart" {
		t.Fatalf("unexpected init crumb %+v", first)
	}
	if first.Data["action"] != CrumbActionInit {
		t.Fatalf("expected init action, got %v", first.Data["action"])
	}
	if crumbs[1].Category != "navigation" || crumbs[2].Category != "ui.click" {
		t.Fatalf("expected crumbs ordered by time, got %+v", crumbs)
	}
	if crumbs[1].ID != 2 || crumbs[2].ID != 1 {
		t.Fatalf("expected ids assigned before sorting, got %d and %d", crumbs[1].ID, crumbs[2].ID)
	}
	if crumbs[1].Type != CrumbTypeDefault {
		t.Fatalf("expected default crumb type, got %q", crumbs[1].Type)
	}

	if params.Breadcrumbs[0].Type != "" || params.Breadcrumbs[0].ID != 0 {
		t.Fatal("expected raw breadcrumbs to be left untouched")
	}
}

func TestReaderSpansSortedAndClassified(t *testing.T) {
	reader, _ := NewReader(completeParams())

	spans := reader.RawSpans()
	if spans[0].Op != MemorySpanOp {
		t.Fatalf("expected memory span first, got %s", spans[0].Op)
	}
	if !reader.IsMemorySpan(spans[0]) || reader.IsNotMemorySpan(spans[0]) {
		t.Fatal("expected memory span predicate to match")
	}
	if reader.IsMemorySpan(spans[1]) || !reader.IsNotMemorySpan(spans[1]) {
		t.Fatal("expected navigation span not to be a memory span")
	}
	if memory := reader.MemorySpans(); len(memory) != 1 {
		t.Fatalf("expected one memory span, got %d", len(memory))
	}
}

func TestReaderAccessorsReturnCopies(t *testing.T) {
	reader, _ := NewReader(completeParams())

	spans := reader.RawSpans()
	spans[0].Op = "changed"
	if reader.RawSpans()[0].Op != MemorySpanOp {
		t.Fatal("expected reader state to be immutable")
	}
}

func TestReaderIgnoresSpansWithoutTimestamps(t *testing.T) {
	params := completeParams()
	params.Spans = append(params.Spans, Span{Op: "resource.script"})

	reader, ok := NewReader(params)
	if !ok {
		t.Fatal("expected reader")
	}
	event := reader.Event()
	if event.StartTimestamp != 1700000000.5 || event.EndTimestamp != 1700000006 {
		t.Fatalf("expected untimed span to be ignored, got %v-%v", event.StartTimestamp, event.EndTimestamp)
	}

	onlyStart, _ := NewReader(Params{
		Event:       &Event{StartTimestamp: 10, EndTimestamp: 20},
		Breadcrumbs: []Crumb{},
		RRWebEvents: []RecordingEvent{},
		Spans:       []Span{{Op: "navigation", StartTimestamp: 12}},
	})
	if got := onlyStart.Event(); got.StartTimestamp != 12 || got.EndTimestamp != 20 {
		t.Fatalf("expected missing end to fall back to the event, got %v-%v", got.StartTimestamp, got.EndTimestamp)
	}
}

func TestReaderDoesNotShareNestedData(t *testing.T) {
	params := completeParams()
	params.Breadcrumbs[0].Data = map[string]any{"target": map[string]any{"id": "pay"}}
	params.Spans[0].Data = map[string]any{"size": 10.0}
	params.Event.Contexts = map[string]any{"browser": map[string]any{"name": "Firefox"}}
	params.RRWebEvents[0].Data = json.RawMessage(`{"node":1}`)

	reader, _ := NewReader(params)

	params.Breadcrumbs[0].Data["target"].(map[string]any)["id"] = "changed"
	params.Spans[0].Data["size"] = 99.0
	params.Event.Contexts["browser"].(map[string]any)["name"] = "changed"
	params.RRWebEvents[0].Data[2] = 'X'

	var crumbData map[string]any
	for _, crumb := range reader.RawCrumbs() {
		if crumb.Message == "button#pay" {
			crumbData = crumb.Data
		}
	}
	if crumbData["target"].(map[string]any)["id"] != "pay" {
		t.Fatalf("expected crumb data to be copied, got %v", crumbData)
	}
	for _, span := range reader.RawSpans() {
		if span.Op == "navigation.navigate" && span.Data["size"] != 10.0 {
			t.Fatalf("expected span data to be copied, got %v", span.Data)
		}
	}
	if reader.Event().Contexts["browser"].(map[string]any)["name"] != "Firefox" {
		t.Fatal("expected event contexts to be copied")
	}
	for _, event := range reader.RRWebEvents() {
		if event.Timestamp == 1700000000500 && string(event.Data) != `{"node":1}` {
			t.Fatalf("expected recording data to be copied, got %s", event.Data)
		}
	}

	spans := reader.RawSpans()
	spans[1].Data["size"] = 42.0
	if reader.RawSpans()[1].Data["size"] != 10.0 {
		t.Fatal("expected accessor results to be detached from reader state")
	}
}
