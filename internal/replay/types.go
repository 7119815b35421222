package replay

import "encoding/json"

// rrweb event types used when synthesizing events.
const (
	EventTypeFullSnapshot = 2
	EventTypeCustom       = 5
)

const (
	CrumbTypeInit     = "init"
	CrumbTypeDefault  = "default"
	CrumbLevelInfo    = "info"
	CrumbActionInit   = "replay-init"
	RecordingEndTag   = "replay-end"
	MemorySpanOp      = "memory"
	initialURLTagKey  = "url"
	initialCrumbLabel = "Start recording"
	msPerSecond       = 1000
)

type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Event is the root replay event. Timestamps are seconds since epoch.
type Event struct {
	ID             string         `json:"id"`
	Title          string         `json:"title,omitempty"`
	Platform       string         `json:"platform,omitempty"`
	DateCreated    string         `json:"dateCreated,omitempty"`
	Tags           []Tag          `json:"tags,omitempty"`
	Contexts       map[string]any `json:"contexts,omitempty"`
	StartTimestamp float64        `json:"startTimestamp"`
	EndTimestamp   float64        `json:"endTimestamp"`
}

func (e Event) Tag(key string) (string, bool) {
	for _, tag := range e.Tags {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Crumb timestamps are seconds since epoch; zero means unknown.
type Crumb struct {
	ID        int            `json:"id"`
	Type      string         `json:"type,omitempty"`
	Category  string         `json:"category,omitempty"`
	Level     string         `json:"level,omitempty"`
	Message   string         `json:"message,omitempty"`
	Timestamp float64        `json:"timestamp,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// RecordingEvent is a captured rrweb event. Timestamp is milliseconds.
type RecordingEvent struct {
	Type      int             `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Span timestamps are seconds since epoch.
type Span struct {
	Op             string         `json:"op"`
	Description    string         `json:"description,omitempty"`
	StartTimestamp float64        `json:"startTimestamp"`
	EndTimestamp   float64        `json:"endTimestamp"`
	Data           map[string]any `json:"data,omitempty"`
}
