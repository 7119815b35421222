package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"releasepulse/internal/artifacts"
	"releasepulse/internal/cache"
	"releasepulse/internal/config"
	"releasepulse/internal/sessions"
	"releasepulse/internal/store"
)

var fixedNow = time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, st *stubStore, mutate func(*Options)) (*Handler, *artifacts.MemoryStore) {
	t.Helper()
	objects := artifacts.NewMemoryStore()
	opts := Options{
		Store:                st,
		AlertLedger:          st,
		Artifacts:            objects,
		Thresholds:           config.DefaultThresholds(),
		CORSAllowedOrigins:   []string{"*"},
		RecordingTokenSecret: "test-secret",
		RetentionDays:        30,
	}
	if mutate != nil {
		mutate(&opts)
	}
	handler := NewHandler(opts)
	handler.now = func() time.Time { return fixedNow }
	return handler, objects
}

func serve(handler *Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, nil)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for key, value := range headers {
		request.Header.Set(key, value)
	}
	recorder := httptest.NewRecorder()
	handler.Router().ServeHTTP(recorder, request)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestHealthzReportsStoreState(t *testing.T) {
	st := newStubStore()
	handler, _ := newTestHandler(t, st, nil)

	if recorder := serve(handler, http.MethodGet, "/healthz", "", nil); recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	st.healthErr = errors.New("db down")
	if recorder := serve(handler, http.MethodGet, "/healthz", "", nil); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
	}
}

func TestIngestSessionsRequiresKeyWhenConfigured(t *testing.T) {
	st := newStubStore()
	st.apiKeys["rpk_project"] = "proj_a"
	handler, _ := newTestHandler(t, st, func(o *Options) { o.IngestAPIKey = "ingest-key" })

	body := `{"sessions":[{"sessionId":"s-1","release":"1.0.0","status":"crashed","startedAt":"2024-03-01T10:00:00Z"}]}`

	if recorder := serve(handler, http.MethodPost, "/v1/ingest/sessions", body, nil); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected anonymous write to be rejected, got %d", recorder.Code)
	}
	if recorder := serve(handler, http.MethodPost, "/v1/ingest/sessions", body, map[string]string{apiKeyHeader: "nope"}); recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unknown key to be rejected, got %d", recorder.Code)
	}

	recorder := serve(handler, http.MethodPost, "/v1/ingest/sessions", body, map[string]string{apiKeyHeader: "rpk_project"})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusAccepted, recorder.Code, recorder.Body.String())
	}
	var result store.IngestResult
	decodeBody(t, recorder, &result)
	if result.Accepted != 1 {
		t.Fatalf("expected 1 accepted, got %d", result.Accepted)
	}
	if st.ingested[0].Sessions[0].Status != sessions.StatusCrashed {
		t.Fatalf("unexpected ingested payload %+v", st.ingested[0])
	}
	if handler.metrics.ingestSessionsTotal.Load() != 1 {
		t.Fatal("expected ingest counter to increment")
	}
}

func TestIngestSessionsMapsValidationErrors(t *testing.T) {
	st := newStubStore()
	st.ingestErr = fmt.Errorf("sessions[0]: %w: unknown status", store.ErrInvalidUpdate)
	handler, _ := newTestHandler(t, st, nil)

	body := `{"sessions":[{"sessionId":"s-1","release":"1.0.0","status":"exited"}]}`
	if recorder := serve(handler, http.MethodPost, "/v1/ingest/sessions", body, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}
	if recorder := serve(handler, http.MethodPost, "/v1/ingest/sessions", `{"sessions":[]}`, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected empty batch to be rejected, got %d", recorder.Code)
	}
}

func TestGetSessionsNarrowsExplicitWindow(t *testing.T) {
	st := newStubStore()
	st.releaseResp = releaseFixture
	handler, _ := newTestHandler(t, st, nil)

	target := "/v1/sessions?" + url.Values{
		"field":   []string{"sum(session)", "count_unique(user)"},
		"start":   []string{"2024-03-01T10:30:00Z"},
		"end":     []string{"2024-03-01T12:30:00Z"},
		"release": []string{"1.0.0"},
	}.Encode()
	recorder := serve(handler, http.MethodGet, target, "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, recorder.Code, recorder.Body.String())
	}

	if len(st.queries) != 1 {
		t.Fatalf("expected 1 query, got %d", len(st.queries))
	}
	query := st.queries[0]
	if query.Release != "1.0.0" || query.Interval != time.Hour || query.ProjectID != store.DefaultProjectID {
		t.Fatalf("unexpected query %+v", query)
	}

	var resp sessions.Response
	decodeBody(t, recorder, &resp)
	if len(resp.Intervals) != 2 || resp.Start != "2024-03-01T11:00:00Z" || resp.End != "2024-03-01T12:00:00Z" {
		t.Fatalf("expected narrowed intervals, got %+v", resp.Intervals)
	}
	healthy := resp.Groups[0]
	if healthy.Totals[sessions.FieldSessions] != 50 {
		t.Fatalf("expected re-summed total 50, got %v", healthy.Totals[sessions.FieldSessions])
	}
	if healthy.Totals[sessions.FieldUsers] != 8 {
		t.Fatalf("expected distinct users to keep their total, got %v", healthy.Totals[sessions.FieldUsers])
	}
}

func TestGetSessionsRejectsBadInput(t *testing.T) {
	handler, _ := newTestHandler(t, newStubStore(), nil)

	cases := []string{
		"/v1/sessions?field=p95(session.duration)",
		"/v1/sessions?field=nonsense",
		"/v1/sessions?start=2024-03-01T10:00:00Z",
		"/v1/sessions?statsPeriod=fortnight",
		"/v1/sessions?statsPeriod=90d&interval=10s",
		"/v1/sessions?interval=1125899906842624d",
		"/v1/sessions?statsPeriod=106752d",
		"/v1/sessions?statsPeriod=9999999999999w",
	}
	for _, target := range cases {
		if recorder := serve(handler, http.MethodGet, target, "", nil); recorder.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status %d, got %d", target, http.StatusBadRequest, recorder.Code)
		}
	}
}

func TestResolveWindowPicksInterval(t *testing.T) {
	window, err := resolveWindow(url.Values{"statsPeriod": []string{"90d"}}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Interval != "1d" || window.Explicit || !window.End.Equal(fixedNow) {
		t.Fatalf("unexpected window %+v", window)
	}

	window, err = resolveWindow(url.Values{
		"start":        []string{"2024-03-01T12:00:00Z"},
		"end":          []string{"2024-03-01T12:20:00Z"},
		"highFidelity": []string{"true"},
	}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Interval != "1m" || window.Step != time.Minute || !window.Explicit {
		t.Fatalf("unexpected window %+v", window)
	}

	window, err = resolveWindow(url.Values{}, fixedNow)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if window.Period != sessions.DefaultStatsPeriod || window.Interval != "1h" {
		t.Fatalf("unexpected default window %+v", window)
	}
}

func TestGetReleaseHealthServesFromCache(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(mr.Addr(), "test:", time.Minute)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() {
		_ = redisCache.Close()
	})

	st := newStubStore()
	st.releaseResp = releaseFixture
	st.allResp = allReleasesFixture
	handler, _ := newTestHandler(t, st, func(o *Options) { o.Cache = redisCache })

	first := serve(handler, http.MethodGet, "/v1/releases/1.0.0/health?statsPeriod=24h", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, first.Code, first.Body.String())
	}
	if len(st.queries) != 2 {
		t.Fatalf("expected release and adoption queries, got %d", len(st.queries))
	}
	if st.queries[1].Release != "" || !st.queries[1].Fields.Has(sessions.FieldSessions) {
		t.Fatalf("unexpected adoption query %+v", st.queries[1])
	}

	second := serve(handler, http.MethodGet, "/v1/releases/1.0.0/health?statsPeriod=24h", "", nil)
	if second.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, second.Code)
	}
	if len(st.queries) != 2 {
		t.Fatalf("expected cached response, got %d queries", len(st.queries))
	}

	var health ReleaseHealth
	decodeBody(t, second, &health)
	if health.Release != "1.0.0" || health.CrashFreeSessions == nil || *health.CrashFreeSessions != 90 {
		t.Fatalf("unexpected cached health %+v", health)
	}
	if health.Interval != "1h" {
		t.Fatalf("expected 1h interval, got %s", health.Interval)
	}
	if handler.metrics.cacheHitsTotal.Load() != 1 || handler.metrics.cacheMissesTotal.Load() != 1 {
		t.Fatal("expected one cache hit and one miss")
	}
}

func TestGetReleaseHealthQueryFailure(t *testing.T) {
	st := newStubStore()
	st.queryErr = errors.New("db down")
	handler, _ := newTestHandler(t, st, nil)

	if recorder := serve(handler, http.MethodGet, "/v1/releases/1.0.0/health", "", nil); recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, recorder.Code)
	}
}

func TestCleanupDeletesReturnedObjects(t *testing.T) {
	st := newStubStore()
	st.cleanup = store.CleanupResult{
		DeletedReplays:    1,
		DeletedObjectKeys: []string{"replays/default/old/event.json", "replays/default/old/spans.json"},
	}
	handler, objects := newTestHandler(t, st, nil)
	if err := objects.StoreJSON(t.Context(), "replays/default/old/event.json", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("seed object: %v", err)
	}

	recorder := serve(handler, http.MethodPost, "/v1/maintenance/cleanup", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	var result store.CleanupResult
	decodeBody(t, recorder, &result)
	if result.DeletedObjects != 2 || result.FailedObjectDeletes != 0 || result.RetentionDays != 30 {
		t.Fatalf("unexpected cleanup result %+v", result)
	}
	if objects.Len() != 0 {
		t.Fatalf("expected objects to be deleted, %d left", objects.Len())
	}
}

const replayUploadBody = `{
  "event": {"id": "replay-1", "tags": [{"key": "url", "value": "https://shop.example.com/cart"}], "startTimestamp": 1, "endTimestamp": 2},
  "breadcrumbs": [
    {"category": "ui.click", "message": "button#pay", "timestamp": 1700000003.5},
    {"category": "console", "message": "login failed for jane@example.com", "timestamp": 1700000001.25}
  ],
  "rrwebEvents": [{"type": 2, "timestamp": 1700000002000}, {"type": 3, "timestamp": 1700000004000}],
  "spans": [
    {"op": "navigation.navigate", "startTimestamp": 1700000001.5, "endTimestamp": 1700000006},
    {"op": "memory", "startTimestamp": 1700000000.5, "endTimestamp": 1700000000.5}
  ]
}`

func TestReplayUploadAndRecordingLinkRoundTrip(t *testing.T) {
	st := newStubStore()
	handler, objects := newTestHandler(t, st, nil)

	upload := serve(handler, http.MethodPost, "/v1/replays", replayUploadBody, nil)
	if upload.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusCreated, upload.Code, upload.Body.String())
	}
	if objects.Len() != len(artifacts.ReplayParts) {
		t.Fatalf("expected %d stored parts, got %d", len(artifacts.ReplayParts), objects.Len())
	}
	stored, ok := st.replays["replay-1"]
	if !ok || stored.ProjectID != store.DefaultProjectID {
		t.Fatalf("expected replay row for default project, got %+v", st.replays)
	}
	if stored.RecordingObjectKey != "replays/default/replay-1/recording.json" {
		t.Fatalf("unexpected recording key %q", stored.RecordingObjectKey)
	}

	fetched := serve(handler, http.MethodGet, "/v1/replays/replay-1", "", nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, fetched.Code, fetched.Body.String())
	}
	var resp replayResponse
	decodeBody(t, fetched, &resp)
	if resp.DurationMs != 5500 || resp.Event.StartTimestamp != 1700000000.5 {
		t.Fatalf("unexpected replay window %+v", resp.Event)
	}
	if len(resp.Spans) != 1 || len(resp.MemorySpans) != 1 || len(resp.RRWebEvents) != 3 {
		t.Fatalf("unexpected replay parts spans=%d memory=%d rrweb=%d", len(resp.Spans), len(resp.MemorySpans), len(resp.RRWebEvents))
	}
	if len(resp.Breadcrumbs) != 3 || resp.Breadcrumbs[0].Type != "init" {
		t.Fatalf("expected init crumb first, got %+v", resp.Breadcrumbs)
	}
	for _, crumb := range resp.Breadcrumbs {
		if strings.Contains(crumb.Message, "jane@example.com") {
			t.Fatalf("expected email to be scrubbed, got %q", crumb.Message)
		}
	}

	link := serve(handler, http.MethodGet, "/v1/replays/replay-1/recording-link", "", nil)
	if link.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, link.Code)
	}
	var linkResp struct {
		URL       string    `json:"url"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	decodeBody(t, link, &linkResp)
	if !linkResp.ExpiresAt.Equal(fixedNow.Add(5 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", linkResp.ExpiresAt)
	}

	recording := serve(handler, http.MethodGet, linkResp.URL, "", nil)
	if recording.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body=%s", http.StatusOK, recording.Code, recording.Body.String())
	}
	if recording.Header().Get("Cache-Control") != "private, max-age=60" {
		t.Fatalf("unexpected cache header %q", recording.Header().Get("Cache-Control"))
	}

	tampered := serve(handler, http.MethodGet, "/v1/replays/replay-1/recording?token=abc.def", "", nil)
	if tampered.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, tampered.Code)
	}
}

func TestReplayUploadRejectsIncompleteAndForeignReplays(t *testing.T) {
	st := newStubStore()
	st.apiKeys["rpk_other"] = "proj_other"
	handler, _ := newTestHandler(t, st, nil)

	incomplete := `{"event": {"id": "replay-2"}, "breadcrumbs": [], "rrwebEvents": []}`
	if recorder := serve(handler, http.MethodPost, "/v1/replays", incomplete, nil); recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, recorder.Code)
	}

	if recorder := serve(handler, http.MethodPost, "/v1/replays", replayUploadBody, nil); recorder.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, recorder.Code)
	}
	foreign := serve(handler, http.MethodPost, "/v1/replays", replayUploadBody, map[string]string{apiKeyHeader: "rpk_other"})
	if foreign.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, foreign.Code)
	}

	if recorder := serve(handler, http.MethodGet, "/v1/replays/replay-1", "", map[string]string{apiKeyHeader: "rpk_other"}); recorder.Code != http.StatusNotFound {
		t.Fatalf("expected other project to miss, got %d", recorder.Code)
	}
}

func TestRecordingLinkDisabledWithoutSecret(t *testing.T) {
	st := newStubStore()
	handler, _ := newTestHandler(t, st, func(o *Options) { o.RecordingTokenSecret = "" })

	if recorder := serve(handler, http.MethodGet, "/v1/replays/replay-1/recording-link", "", nil); recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, recorder.Code)
	}
}
