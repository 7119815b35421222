package api

import (
	"context"
	"sync"
	"time"

	"releasepulse/internal/sessions"
	"releasepulse/internal/store"
)

type stubStore struct {
	mu           sync.Mutex
	healthErr    error
	apiKeys      map[string]string
	ingested     []store.IngestPayload
	ingestErr    error
	releaseResp  func() *sessions.Response
	allResp      func() *sessions.Response
	queryErr     error
	queries      []store.SessionQuery
	releases     []store.ReleaseRef
	replays      map[string]store.Replay
	cleanup      store.CleanupResult
	lastAlertAt  map[store.ReleaseRef]time.Time
	recordedRate []float64
}

func newStubStore() *stubStore {
	return &stubStore{
		apiKeys:     map[string]string{},
		replays:     map[string]store.Replay{},
		lastAlertAt: map[store.ReleaseRef]time.Time{},
		releaseResp: func() *sessions.Response { return &sessions.Response{} },
		allResp:     func() *sessions.Response { return &sessions.Response{} },
	}
}

func (s *stubStore) Health(context.Context) error {
	return s.healthErr
}

func (s *stubStore) ResolveProjectIDByAPIKey(_ context.Context, key string) (string, error) {
	projectID, ok := s.apiKeys[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return projectID, nil
}

func (s *stubStore) ListProjects(context.Context) ([]store.Project, error) {
	return []store.Project{{ID: store.DefaultProjectID, Name: "Default"}}, nil
}

func (s *stubStore) IngestSessions(_ context.Context, _ string, payload store.IngestPayload) (store.IngestResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ingestErr != nil {
		return store.IngestResult{}, s.ingestErr
	}
	s.ingested = append(s.ingested, payload)
	return store.IngestResult{Accepted: len(payload.Sessions)}, nil
}

func (s *stubStore) QuerySessions(_ context.Context, q store.SessionQuery) (*sessions.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	if q.Release == "" {
		return s.allResp(), nil
	}
	return s.releaseResp(), nil
}

func (s *stubStore) ListActiveReleases(context.Context, time.Time) ([]store.ReleaseRef, error) {
	return s.releases, nil
}

func (s *stubStore) InsertReplay(_ context.Context, replay store.Replay) (store.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.replays[replay.ID]; ok && existing.ProjectID != replay.ProjectID {
		return store.Replay{}, store.ErrNotFound
	}
	replay.CreatedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.replays[replay.ID] = replay
	return replay, nil
}

func (s *stubStore) GetReplay(_ context.Context, projectID, id string) (store.Replay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	replay, ok := s.replays[id]
	if !ok || replay.ProjectID != projectID {
		return store.Replay{}, store.ErrNotFound
	}
	return replay, nil
}

func (s *stubStore) CleanupExpiredData(_ context.Context, _ string, retentionDays int) (store.CleanupResult, error) {
	result := s.cleanup
	result.RetentionDays = retentionDays
	return result, nil
}

func (s *stubStore) LastHealthAlertAt(_ context.Context, ref store.ReleaseRef) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sentAt, ok := s.lastAlertAt[ref]
	return sentAt, ok, nil
}

func (s *stubStore) RecordHealthAlert(_ context.Context, ref store.ReleaseRef, crashFreeRate float64, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAlertAt[ref] = sentAt
	s.recordedRate = append(s.recordedRate, crashFreeRate)
	return nil
}

var fixtureIntervals = []string{"2024-03-01T10:00:00Z", "2024-03-01T11:00:00Z", "2024-03-01T12:00:00Z"}

func statusGroup(status sessions.Status, series map[sessions.Field][]float64, totals map[sessions.Field]float64) sessions.Group {
	return sessions.Group{
		By:     map[string]string{sessions.StatusKey: string(status)},
		Series: series,
		Totals: totals,
	}
}

// releaseFixture has 100 sessions: 90 healthy and 10 crashed.
func releaseFixture() *sessions.Response {
	return &sessions.Response{
		Start:     fixtureIntervals[0],
		End:       fixtureIntervals[2],
		Query:     "release:1.0.0",
		Intervals: append([]string(nil), fixtureIntervals...),
		Groups: []sessions.Group{
			statusGroup(sessions.StatusHealthy,
				map[sessions.Field][]float64{
					sessions.FieldSessions:    {40, 50, 0},
					sessions.FieldUsers:       {4, 5, 0},
					sessions.FieldDurationP50: {1000, 2000, 0},
				},
				map[sessions.Field]float64{
					sessions.FieldSessions:    90,
					sessions.FieldUsers:       8,
					sessions.FieldDurationP50: 1500,
				},
			),
			statusGroup(sessions.StatusCrashed,
				map[sessions.Field][]float64{
					sessions.FieldSessions:    {0, 10, 0},
					sessions.FieldUsers:       {0, 1, 0},
					sessions.FieldDurationP50: {0, 500, 0},
				},
				map[sessions.Field]float64{
					sessions.FieldSessions:    10,
					sessions.FieldUsers:       1,
					sessions.FieldDurationP50: 500,
				},
			),
		},
	}
}

// allReleasesFixture is twice the release on every bucket.
func allReleasesFixture() *sessions.Response {
	return &sessions.Response{
		Start:     fixtureIntervals[0],
		End:       fixtureIntervals[2],
		Intervals: append([]string(nil), fixtureIntervals...),
		Groups: []sessions.Group{
			statusGroup(sessions.StatusHealthy,
				map[sessions.Field][]float64{sessions.FieldSessions: {80, 100, 0}},
				map[sessions.Field]float64{sessions.FieldSessions: 180},
			),
			statusGroup(sessions.StatusCrashed,
				map[sessions.Field][]float64{sessions.FieldSessions: {0, 20, 0}},
				map[sessions.Field]float64{sessions.FieldSessions: 20},
			),
		},
	}
}
