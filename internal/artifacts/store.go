package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConfigured = errors.New("artifact store not configured")
	ErrNotFound      = errors.New("artifact not found")
)

// ReplayPart names one of the four objects stored per replay.
type ReplayPart string

const (
	PartEvent       ReplayPart = "event"
	PartBreadcrumbs ReplayPart = "breadcrumbs"
	PartRecording   ReplayPart = "recording"
	PartSpans       ReplayPart = "spans"
)

var ReplayParts = []ReplayPart{PartEvent, PartBreadcrumbs, PartRecording, PartSpans}

const ReplayPrefix = "replays/"

func ReplayObjectKey(projectID, replayID string, part ReplayPart) string {
	return fmt.Sprintf("%s%s/%s/%s.json", ReplayPrefix, projectID, replayID, part)
}

type Store interface {
	StoreJSON(ctx context.Context, objectKey string, payload json.RawMessage) error
	LoadJSON(ctx context.Context, objectKey string) (json.RawMessage, error)
	DeleteObject(ctx context.Context, objectKey string) error
	Close() error
}

type LifecycleConfigurer interface {
	EnsureLifecyclePolicy(ctx context.Context, expirationDays int, prefixes []string) error
}

type NoopStore struct{}

func NewNoopStore() *NoopStore {
	return &NoopStore{}
}

func (s *NoopStore) StoreJSON(_ context.Context, _ string, _ json.RawMessage) error {
	return ErrNotConfigured
}

func (s *NoopStore) LoadJSON(_ context.Context, _ string) (json.RawMessage, error) {
	return nil, ErrNotConfigured
}

func (s *NoopStore) DeleteObject(_ context.Context, _ string) error {
	return ErrNotConfigured
}

func (s *NoopStore) Close() error {
	return nil
}

func (s *NoopStore) EnsureLifecyclePolicy(_ context.Context, _ int, _ []string) error {
	return ErrNotConfigured
}

// DeleteAll removes every key and reports how many deletes failed. Keys that
// are already gone count as deleted; nothing is counted without a store.
func DeleteAll(ctx context.Context, store Store, keys []string) (deleted, failed int) {
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			continue
		}
		err := store.DeleteObject(ctx, key)
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			failed++
			continue
		}
		deleted++
	}
	return deleted, failed
}
