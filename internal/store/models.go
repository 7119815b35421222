package store

import (
	"time"

	"releasepulse/internal/sessions"
)

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type SessionUpdate struct {
	SessionID   string          `json:"sessionId"`
	DistinctID  string          `json:"distinctId"`
	Release     string          `json:"release"`
	Environment string          `json:"environment"`
	Status      sessions.Status `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	DurationMs  *float64        `json:"durationMs"`
}

type IngestPayload struct {
	Sessions []SessionUpdate `json:"sessions"`
}

type IngestResult struct {
	Accepted int `json:"accepted"`
}

type SessionQuery struct {
	ProjectID   string
	Release     string
	Environment string
	Start       time.Time
	End         time.Time
	Interval    time.Duration
	Fields      sessions.Fields
	Query       string
}

type ReleaseRef struct {
	ProjectID string `json:"projectId"`
	Release   string `json:"release"`
}

type Replay struct {
	ID                 string    `json:"id"`
	ProjectID          string    `json:"projectId"`
	EventObjectKey     string    `json:"eventObjectKey"`
	BreadcrumbsKey     string    `json:"breadcrumbsObjectKey"`
	RecordingObjectKey string    `json:"recordingObjectKey"`
	SpansObjectKey     string    `json:"spansObjectKey"`
	CreatedAt          time.Time `json:"createdAt"`
}

func (r Replay) ObjectKeys() []string {
	return []string{r.EventObjectKey, r.BreadcrumbsKey, r.RecordingObjectKey, r.SpansObjectKey}
}

type CleanupResult struct {
	DeletedSessionUpdates int      `json:"deletedSessionUpdates"`
	DeletedReplays        int      `json:"deletedReplays"`
	DeletedObjectKeys     []string `json:"-"`
	DeletedObjects        int      `json:"deletedObjects"`
	FailedObjectDeletes   int      `json:"failedObjectDeletes"`
	RetentionDays         int      `json:"retentionDays"`
}
