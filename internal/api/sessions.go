package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"releasepulse/internal/sessions"
	"releasepulse/internal/store"
	"releasepulse/internal/telemetry"
)

const (
	maxIngestBatch = 1000
	maxBuckets     = 5000
)

var tracer = telemetry.Tracer("api")

// queryWindow is the resolved time range and bucket width of a sessions query.
type queryWindow struct {
	Start    time.Time
	End      time.Time
	Period   string
	Explicit bool
	Interval string
	Step     time.Duration
}

func resolveWindow(values url.Values, now time.Time) (queryWindow, error) {
	window := queryWindow{}

	rawStart := strings.TrimSpace(values.Get("start"))
	rawEnd := strings.TrimSpace(values.Get("end"))
	switch {
	case rawStart != "" && rawEnd != "":
		start, err := time.Parse(time.RFC3339, rawStart)
		if err != nil {
			return queryWindow{}, fmt.Errorf("start must be RFC3339 timestamp")
		}
		end, err := time.Parse(time.RFC3339, rawEnd)
		if err != nil {
			return queryWindow{}, fmt.Errorf("end must be RFC3339 timestamp")
		}
		if !end.After(start) {
			return queryWindow{}, fmt.Errorf("end must be after start")
		}
		window.Start, window.End, window.Explicit = start.UTC(), end.UTC(), true
	case rawStart != "" || rawEnd != "":
		return queryWindow{}, fmt.Errorf("start and end must be given together")
	default:
		period := strings.TrimSpace(values.Get("statsPeriod"))
		if period == "" {
			period = sessions.DefaultStatsPeriod
		}
		length, err := sessions.ParsePeriod(period)
		if err != nil {
			return queryWindow{}, err
		}
		end := now.UTC().Truncate(time.Minute)
		window.Start, window.End, window.Period = end.Add(-length), end, period
	}

	interval := strings.TrimSpace(values.Get("interval"))
	if interval == "" {
		highFidelity, _ := strconv.ParseBool(values.Get("highFidelity"))
		dateRange := sessions.DateRange{Period: window.Period}
		if window.Explicit {
			dateRange.Start, dateRange.End = window.Start, window.End
		}
		interval = sessions.SessionsInterval(dateRange, sessions.IntervalOptions{
			HighFidelity: highFidelity,
			Now:          now,
		})
	}
	step, err := sessions.IntervalDuration(interval)
	if err != nil || step <= 0 {
		return queryWindow{}, fmt.Errorf("invalid interval %q", interval)
	}
	if window.End.Sub(window.Start)/step > maxBuckets {
		return queryWindow{}, fmt.Errorf("interval %s is too small for the requested range", interval)
	}
	window.Interval, window.Step = interval, step

	return window, nil
}

func (w queryWindow) sessionQuery(projectID, release, environment string, fields sessions.Fields) store.SessionQuery {
	query := make([]string, 0, 2)
	if release != "" {
		query = append(query, "release:"+release)
	}
	if environment != "" {
		query = append(query, "environment:"+environment)
	}
	return store.SessionQuery{
		ProjectID:   projectID,
		Release:     release,
		Environment: environment,
		Start:       w.Start,
		End:         w.End,
		Interval:    w.Step,
		Fields:      fields,
		Query:       strings.Join(query, " "),
	}
}

// narrow trims bucket-aligned results back to explicit bounds.
func (w queryWindow) narrow(resp *sessions.Response, fields sessions.Fields) *sessions.Response {
	if !w.Explicit {
		return resp
	}
	return sessions.FilterInTimeWindow(resp, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339), fields)
}

func (h *Handler) ingestSessions(w http.ResponseWriter, r *http.Request) {
	payload := store.IngestPayload{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if len(payload.Sessions) == 0 {
		writeError(w, http.StatusBadRequest, "sessions must not be empty")
		return
	}
	if len(payload.Sessions) > maxIngestBatch {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("at most %d sessions per request", maxIngestBatch))
		return
	}

	projectID := projectIDFromContext(r.Context())
	result, err := h.store.IngestSessions(r.Context(), projectID, payload)
	if errors.Is(err, store.ErrInvalidUpdate) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("session ingest failed project=%s err=%v", projectID, err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	h.metrics.ingestSessionsTotal.Add(int64(result.Accepted))
	writeJSON(w, http.StatusAccepted, result)
}

func requestedFields(values url.Values) (sessions.Fields, error) {
	names := values["field"]
	if len(names) == 0 {
		names = []string{string(sessions.FieldSessions)}
	}
	fields, err := sessions.ParseFields(names)
	if err != nil {
		return nil, err
	}
	if err := store.ValidateFields(fields); err != nil {
		return nil, err
	}
	return fields, nil
}

func (h *Handler) getSessions(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	fields, err := requestedFields(values)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := resolveWindow(values, h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, span := tracer.Start(r.Context(), "sessions.query")
	defer span.End()
	span.SetAttributes(
		attribute.String("sessions.interval", window.Interval),
		attribute.StringSlice("sessions.fields", fieldStrings(fields)),
	)

	query := window.sessionQuery(
		projectIDFromContext(ctx),
		strings.TrimSpace(values.Get("release")),
		strings.TrimSpace(values.Get("environment")),
		fields,
	)
	resp, err := h.store.QuerySessions(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		log.Printf("sessions query failed project=%s err=%v", query.ProjectID, err)
		writeError(w, http.StatusInternalServerError, "sessions query failed")
		return
	}

	writeJSON(w, http.StatusOK, window.narrow(resp, fields))
}

func fieldStrings(fields sessions.Fields) []string {
	names := make([]string, 0, len(fields))
	for _, name := range fields.Names() {
		names = append(names, string(name))
	}
	return names
}
