package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const payloadField = "payload"

type RedisProducer struct {
	client        *redis.Client
	replayQueue   string
	alertQueue    string
	ensureMu      sync.Mutex
	groupsEnsured bool
}

func NewRedisProducer(addr, replayQueue, alertQueue string) (*RedisProducer, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisProducer{
		client:      client,
		replayQueue: replayQueue,
		alertQueue:  alertQueue,
	}, nil
}

func groupName(queueName string) string {
	return queueName + ":group"
}

func failedName(queueName string) string {
	return queueName + ":failed"
}

func (p *RedisProducer) EnqueueReplayJob(ctx context.Context, job ReplayJob) error {
	if err := p.publish(ctx, p.replayQueue, job); err != nil {
		return fmt.Errorf("enqueue replay job: %w", err)
	}
	return nil
}

func (p *RedisProducer) PublishHealthAlert(ctx context.Context, alert HealthAlert) error {
	if err := p.publish(ctx, p.alertQueue, alert); err != nil {
		return fmt.Errorf("publish health alert: %w", err)
	}
	return nil
}

func (p *RedisProducer) publish(ctx context.Context, queueName string, message any) error {
	if err := p.ensureGroups(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queueName,
		Values: map[string]any{payloadField: string(payload)},
	}).Err()
}

func (p *RedisProducer) Close() error {
	return p.client.Close()
}

// ensureGroups creates the consumer group of each stream once per process.
func (p *RedisProducer) ensureGroups(ctx context.Context) error {
	p.ensureMu.Lock()
	defer p.ensureMu.Unlock()
	if p.groupsEnsured {
		return nil
	}

	for _, queueName := range []string{p.replayQueue, p.alertQueue} {
		err := p.client.XGroupCreateMkStream(ctx, queueName, groupName(queueName), "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("ensure consumer group queue=%s: %w", queueName, err)
		}
	}
	p.groupsEnsured = true
	return nil
}

func (p *RedisProducer) QueueStats(ctx context.Context) (QueueStats, error) {
	replay, err := p.streamStats(ctx, p.replayQueue)
	if err != nil {
		return QueueStats{}, err
	}
	alert, err := p.streamStats(ctx, p.alertQueue)
	if err != nil {
		return QueueStats{}, err
	}
	return QueueStats{Replay: replay, Alert: alert}, nil
}

func (p *RedisProducer) streamStats(ctx context.Context, queueName string) (StreamStats, error) {
	stats := StreamStats{}

	depth, err := p.client.XLen(ctx, queueName).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return StreamStats{}, fmt.Errorf("stream depth queue=%s: %w", queueName, err)
	}
	stats.StreamDepth = depth

	pending, err := p.client.XPending(ctx, queueName, groupName(queueName)).Result()
	switch {
	case err == nil:
		stats.Pending = pending.Count
	case errors.Is(err, redis.Nil), strings.Contains(err.Error(), "NOGROUP"):
	default:
		return StreamStats{}, fmt.Errorf("stream pending queue=%s: %w", queueName, err)
	}

	failed, err := p.client.LLen(ctx, failedName(queueName)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return StreamStats{}, fmt.Errorf("failed depth queue=%s: %w", queueName, err)
	}
	stats.FailedDepth = failed

	return stats, nil
}

type failedEntry struct {
	FailedAt string `json:"failedAt"`
	Error    string `json:"error"`
	Attempt  int    `json:"attempt"`
	Payload  string `json:"payload"`
}

// RedriveDeadLetters moves up to limit failed entries, oldest first, back onto
// their stream. Entries that cannot be decoded are parked in an unprocessable
// list.
func (p *RedisProducer) RedriveDeadLetters(ctx context.Context, queue DeadLetterQueue, limit int) (RedriveResult, error) {
	var queueName string
	switch queue {
	case DeadLetterQueueReplay:
		queueName = p.replayQueue
	case DeadLetterQueueAlert:
		queueName = p.alertQueue
	default:
		return RedriveResult{}, fmt.Errorf("unknown dead letter queue %q", queue)
	}
	if limit < 1 {
		limit = 1
	}

	failedKey := failedName(queueName)
	result := RedriveResult{Queue: queue}
	for range limit {
		raw, err := p.client.RPop(ctx, failedKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return RedriveResult{}, fmt.Errorf("read failed entry: %w", err)
		}

		var entry failedEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || !json.Valid([]byte(entry.Payload)) {
			if err := p.client.LPush(ctx, failedKey+":unprocessable", raw).Err(); err != nil {
				return RedriveResult{}, fmt.Errorf("park unprocessable entry: %w", err)
			}
			result.Skipped++
			continue
		}

		if err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: queueName,
			Values: map[string]any{payloadField: entry.Payload},
		}).Err(); err != nil {
			return RedriveResult{}, fmt.Errorf("redrive entry: %w", err)
		}
		result.Redriven++
	}

	remaining, err := p.client.LLen(ctx, failedKey).Result()
	if err != nil {
		return RedriveResult{}, err
	}
	result.RemainingFailed = remaining
	if result.Redriven > 0 || result.Skipped > 0 {
		log.Printf("redrove dead letters queue=%s redriven=%d skipped=%d remaining=%d", queueName, result.Redriven, result.Skipped, remaining)
	}
	return result, nil
}
