package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"releasepulse/internal/cache"
	"releasepulse/internal/config"
	"releasepulse/internal/sessions"
)

var (
	releaseFields = sessions.MustParseFields(
		string(sessions.FieldSessions),
		string(sessions.FieldUsers),
		string(sessions.FieldDurationP50),
	)
	adoptionFields = sessions.MustParseFields(string(sessions.FieldSessions))
)

// chartPoint is a Point whose value encodes as null when it is not a finite
// number.
type chartPoint struct {
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

type ReleaseSeries struct {
	CrashFree    []chartPoint                     `json:"crashFree"`
	ErroredRate  []chartPoint                     `json:"erroredRate"`
	DurationP50  []chartPoint                     `json:"durationP50"`
	Adoption     []chartPoint                     `json:"adoption"`
	StatusCounts map[sessions.Status][]chartPoint `json:"statusCounts"`
}

type ReleaseHealth struct {
	ProjectID              string                       `json:"projectId"`
	Release                string                       `json:"release"`
	Environment            string                       `json:"environment,omitempty"`
	Start                  string                       `json:"start"`
	End                    string                       `json:"end"`
	Interval               string                       `json:"interval"`
	TotalSessions          float64                      `json:"totalSessions"`
	TotalUsers             float64                      `json:"totalUsers"`
	CrashFreeSessions      *float64                     `json:"crashFreeSessions"`
	CrashFreeUsers         *float64                     `json:"crashFreeUsers"`
	StatusRates            map[sessions.Status]*float64 `json:"statusRates"`
	AverageDurationSeconds *float64                     `json:"averageDurationSeconds"`
	Health                 *sessions.Health             `json:"health"`
	Series                 ReleaseSeries                `json:"series"`
}

func optional(value float64, ok bool) *float64 {
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func chartPoints(points []sessions.Point) []chartPoint {
	converted := make([]chartPoint, 0, len(points))
	for _, point := range points {
		converted = append(converted, chartPoint{Name: point.Name, Value: optional(point.Value, true)})
	}
	return converted
}

func msToSeconds(ms float64) float64 {
	return ms / 1000
}

// buildReleaseHealth summarizes one release. allResp covers every release over
// the same grid and feeds the adoption series.
func buildReleaseHealth(release string, releaseResp, allResp *sessions.Response, thresholds config.Thresholds) ReleaseHealth {
	groups := releaseResp.Groups
	intervals := releaseResp.Intervals

	health := ReleaseHealth{
		Release:       release,
		Start:         releaseResp.Start,
		End:           releaseResp.End,
		TotalSessions: sessions.Count(groups, sessions.FieldSessions),
		TotalUsers:    sessions.Count(groups, sessions.FieldUsers),
		StatusRates:   make(map[sessions.Status]*float64, len(sessions.AllStatuses)),
	}

	crashFree, ok := sessions.CrashFreeRate(groups, sessions.FieldSessions)
	health.CrashFreeSessions = optional(crashFree, ok)
	if ok {
		badge := sessions.CrashFreeHealth(crashFree, thresholds.Health)
		health.Health = &badge
	}
	health.CrashFreeUsers = optional(sessions.CrashFreeRate(groups, sessions.FieldUsers))

	for _, status := range sessions.AllStatuses {
		health.StatusRates[status] = optional(sessions.SessionStatusRate(groups, sessions.FieldSessions, status))
	}

	if average, ok := sessions.SeriesAverage(groups, sessions.FieldDurationP50); ok {
		health.AverageDurationSeconds = optional(msToSeconds(average), true)
	}

	var allGroups []sessions.Group
	if allResp != nil {
		allGroups = allResp.Groups
	}

	statusCounts := sessions.StatusCountSeries(groups, intervals, sessions.FieldSessions)
	health.Series = ReleaseSeries{
		CrashFree:    chartPoints(sessions.CrashFreeRateSeries(groups, intervals, sessions.FieldSessions)),
		ErroredRate:  chartPoints(sessions.SessionStatusRateSeries(groups, intervals, sessions.FieldSessions, sessions.StatusErrored)),
		DurationP50:  chartPoints(sessions.SessionP50Series(groups, intervals, sessions.FieldDurationP50, msToSeconds)),
		Adoption:     chartPoints(sessions.AdoptionSeries(groups, allGroups, intervals, sessions.FieldSessions, thresholds.AdoptionPolicy())),
		StatusCounts: make(map[sessions.Status][]chartPoint, len(statusCounts)),
	}
	for status, points := range statusCounts {
		health.Series.StatusCounts[status] = chartPoints(points)
	}

	return health
}

func (h *Handler) releaseHealth(ctx context.Context, projectID, release, environment string, window queryWindow) (ReleaseHealth, error) {
	ctx, span := tracer.Start(ctx, "releases.health")
	defer span.End()
	span.SetAttributes(
		attribute.String("release", release),
		attribute.String("sessions.interval", window.Interval),
	)

	releaseResp, err := h.store.QuerySessions(ctx, window.sessionQuery(projectID, release, environment, releaseFields))
	if err != nil {
		span.RecordError(err)
		return ReleaseHealth{}, fmt.Errorf("query release sessions: %w", err)
	}
	allResp, err := h.store.QuerySessions(ctx, window.sessionQuery(projectID, "", environment, adoptionFields))
	if err != nil {
		span.RecordError(err)
		return ReleaseHealth{}, fmt.Errorf("query all sessions: %w", err)
	}

	health := buildReleaseHealth(
		release,
		window.narrow(releaseResp, releaseFields),
		window.narrow(allResp, adoptionFields),
		h.thresholds,
	)
	health.ProjectID = projectID
	health.Environment = environment
	health.Interval = window.Interval
	return health, nil
}

func releaseHealthCacheKey(projectID, release, environment string, window queryWindow) string {
	return fmt.Sprintf(
		"release-health:%s:%s:%s:%d:%d:%s",
		projectID,
		release,
		environment,
		window.Start.Unix(),
		window.End.Unix(),
		window.Interval,
	)
}

func (h *Handler) getReleaseHealth(w http.ResponseWriter, r *http.Request) {
	release := strings.TrimSpace(chi.URLParam(r, "release"))
	if release == "" {
		writeError(w, http.StatusBadRequest, "release is required")
		return
	}
	window, err := resolveWindow(r.URL.Query(), h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	projectID := projectIDFromContext(r.Context())
	environment := strings.TrimSpace(r.URL.Query().Get("environment"))
	cacheKey := releaseHealthCacheKey(projectID, release, environment, window)

	var cached ReleaseHealth
	err = h.cache.GetJSON(r.Context(), cacheKey, &cached)
	if err == nil {
		h.metrics.cacheHitsTotal.Add(1)
		writeJSON(w, http.StatusOK, cached)
		return
	}
	if !errors.Is(err, cache.ErrMiss) {
		log.Printf("release health cache read failed key=%s err=%v", cacheKey, err)
	}
	h.metrics.cacheMissesTotal.Add(1)

	health, err := h.releaseHealth(r.Context(), projectID, release, environment, window)
	if err != nil {
		log.Printf("release health failed project=%s release=%s err=%v", projectID, release, err)
		writeError(w, http.StatusInternalServerError, "release health failed")
		return
	}

	if err := h.cache.SetJSON(r.Context(), cacheKey, health); err != nil {
		log.Printf("release health cache write failed key=%s err=%v", cacheKey, err)
	}
	writeJSON(w, http.StatusOK, health)
}
