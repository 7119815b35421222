package queue

import (
	"context"
	"time"
)

// ReplayJob is published after a replay upload so downstream workers can
// process the stored parts.
type ReplayJob struct {
	ProjectID  string            `json:"projectId"`
	ReplayID   string            `json:"replayId"`
	ObjectKeys map[string]string `json:"objectKeys"`
	DurationMs float64           `json:"durationMs"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

type HealthAlert struct {
	ProjectID     string    `json:"projectId"`
	Release       string    `json:"release"`
	CrashFreeRate float64   `json:"crashFreeRate"`
	Health        string    `json:"health"`
	Sessions      float64   `json:"sessions"`
	Period        string    `json:"period"`
	RaisedAt      time.Time `json:"raisedAt"`
}

type DeadLetterQueue string

const (
	DeadLetterQueueReplay DeadLetterQueue = "replay"
	DeadLetterQueueAlert  DeadLetterQueue = "alert"
)

type StreamStats struct {
	StreamDepth int64 `json:"streamDepth"`
	Pending     int64 `json:"pending"`
	FailedDepth int64 `json:"failedDepth"`
}

type QueueStats struct {
	Replay StreamStats `json:"replay"`
	Alert  StreamStats `json:"alert"`
}

type RedriveResult struct {
	Queue           DeadLetterQueue `json:"queue"`
	Redriven        int             `json:"redriven"`
	Skipped         int             `json:"skipped"`
	RemainingFailed int64           `json:"remainingFailed"`
}

type Producer interface {
	EnqueueReplayJob(ctx context.Context, job ReplayJob) error
	PublishHealthAlert(ctx context.Context, alert HealthAlert) error
	Close() error
}

type StatsProvider interface {
	QueueStats(ctx context.Context) (QueueStats, error)
}

type NoopProducer struct{}

func NewNoopProducer() *NoopProducer {
	return &NoopProducer{}
}

func (p *NoopProducer) EnqueueReplayJob(_ context.Context, _ ReplayJob) error {
	return nil
}

func (p *NoopProducer) PublishHealthAlert(_ context.Context, _ HealthAlert) error {
	return nil
}

func (p *NoopProducer) Close() error {
	return nil
}
