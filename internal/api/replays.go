package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"releasepulse/internal/artifacts"
	"releasepulse/internal/queue"
	"releasepulse/internal/replay"
	"releasepulse/internal/store"
)

var errReplayIncomplete = errors.New("replay incomplete")

type uploadReplayRequest struct {
	ReplayID    string                  `json:"replayId"`
	Event       *replay.Event           `json:"event"`
	Breadcrumbs []replay.Crumb          `json:"breadcrumbs"`
	RRWebEvents []replay.RecordingEvent `json:"rrwebEvents"`
	Spans       []replay.Span           `json:"spans"`
}

type replayResponse struct {
	ReplayID    string                  `json:"replayId"`
	DurationMs  float64                 `json:"durationMs"`
	Event       replay.Event            `json:"event"`
	Breadcrumbs []replay.Crumb          `json:"breadcrumbs"`
	RRWebEvents []replay.RecordingEvent `json:"rrwebEvents"`
	Spans       []replay.Span           `json:"spans"`
	MemorySpans []replay.Span           `json:"memorySpans"`
}

func newReplayResponse(replayID string, reader *replay.Reader) replayResponse {
	spans := make([]replay.Span, 0)
	for _, span := range reader.RawSpans() {
		if reader.IsNotMemorySpan(span) {
			spans = append(spans, span)
		}
	}
	return replayResponse{
		ReplayID:    replayID,
		DurationMs:  reader.DurationMs(),
		Event:       reader.Event(),
		Breadcrumbs: reader.RawCrumbs(),
		RRWebEvents: reader.RRWebEvents(),
		Spans:       spans,
		MemorySpans: reader.MemorySpans(),
	}
}

func (p uploadReplayRequest) params() replay.Params {
	return replay.Params{
		Breadcrumbs: p.Breadcrumbs,
		Event:       p.Event,
		RRWebEvents: p.RRWebEvents,
		Spans:       p.Spans,
	}
}

func (h *Handler) uploadReplay(w http.ResponseWriter, r *http.Request) {
	payload := uploadReplayRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	reader, ok := replay.NewReader(payload.params())
	if !ok {
		writeError(w, http.StatusBadRequest, "event, breadcrumbs, rrwebEvents and spans are required")
		return
	}

	replayID := strings.TrimSpace(payload.ReplayID)
	if replayID == "" {
		replayID = strings.TrimSpace(payload.Event.ID)
	}
	if replayID == "" {
		replayID = uuid.NewString()
	}
	if strings.ContainsAny(replayID, "/\\") {
		writeError(w, http.StatusBadRequest, "replayId must not contain path separators")
		return
	}

	event := scrubEvent(*payload.Event)
	event.ID = replayID
	parts := map[artifacts.ReplayPart]any{
		artifacts.PartEvent:       event,
		artifacts.PartBreadcrumbs: scrubCrumbs(payload.Breadcrumbs),
		artifacts.PartRecording:   payload.RRWebEvents,
		artifacts.PartSpans:       payload.Spans,
	}

	projectID := projectIDFromContext(r.Context())
	objectKeys := make(map[string]string, len(parts))
	for _, part := range artifacts.ReplayParts {
		encoded, err := json.Marshal(parts[part])
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", part))
			return
		}
		objectKey := artifacts.ReplayObjectKey(projectID, replayID, part)
		if err := h.artifactStore.StoreJSON(r.Context(), objectKey, encoded); err != nil {
			if errors.Is(err, artifacts.ErrNotConfigured) {
				writeError(w, http.StatusServiceUnavailable, "artifact store unavailable")
				return
			}
			log.Printf("replay part upload failed replay=%s part=%s err=%v", replayID, part, err)
			writeError(w, http.StatusInternalServerError, "replay upload failed")
			return
		}
		objectKeys[string(part)] = objectKey
	}

	stored, err := h.store.InsertReplay(r.Context(), store.Replay{
		ID:                 replayID,
		ProjectID:          projectID,
		EventObjectKey:     objectKeys[string(artifacts.PartEvent)],
		BreadcrumbsKey:     objectKeys[string(artifacts.PartBreadcrumbs)],
		RecordingObjectKey: objectKeys[string(artifacts.PartRecording)],
		SpansObjectKey:     objectKeys[string(artifacts.PartSpans)],
	})
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusConflict, "replayId belongs to another project")
		return
	}
	if err != nil {
		log.Printf("replay insert failed replay=%s err=%v", replayID, err)
		writeError(w, http.StatusInternalServerError, "replay upload failed")
		return
	}
	h.metrics.replayUploadsTotal.Add(1)

	queueError := ""
	if err := h.producer.EnqueueReplayJob(r.Context(), queue.ReplayJob{
		ProjectID:  projectID,
		ReplayID:   replayID,
		ObjectKeys: objectKeys,
		DurationMs: reader.DurationMs(),
		EnqueuedAt: h.now().UTC(),
	}); err != nil {
		queueError = err.Error()
		h.metrics.replayQueueErrorsTotal.Add(1)
		log.Printf("replay job enqueue failed replay=%s err=%v", replayID, err)
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"replay":     stored,
		"durationMs": reader.DurationMs(),
		"queueError": queueError,
	})
}

// loadReplayPart decodes one stored part. A JSON null leaves dest nil, which
// the reader treats as a missing part.
func (h *Handler) loadReplayPart(ctx context.Context, objectKey string, dest any) error {
	if objectKey == "" {
		return errReplayIncomplete
	}
	raw, err := h.artifactStore.LoadJSON(ctx, objectKey)
	if errors.Is(err, artifacts.ErrNotFound) {
		return errReplayIncomplete
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", objectKey, err)
	}
	return nil
}

func (h *Handler) loadReplayReader(ctx context.Context, stored store.Replay) (*replay.Reader, error) {
	params := replay.Params{}
	if err := h.loadReplayPart(ctx, stored.EventObjectKey, &params.Event); err != nil {
		return nil, err
	}
	if err := h.loadReplayPart(ctx, stored.BreadcrumbsKey, &params.Breadcrumbs); err != nil {
		return nil, err
	}
	if err := h.loadReplayPart(ctx, stored.RecordingObjectKey, &params.RRWebEvents); err != nil {
		return nil, err
	}
	if err := h.loadReplayPart(ctx, stored.SpansObjectKey, &params.Spans); err != nil {
		return nil, err
	}

	reader, ok := replay.NewReader(params)
	if !ok {
		return nil, errReplayIncomplete
	}
	return reader, nil
}

func writeReplayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "replay not found")
	case errors.Is(err, errReplayIncomplete):
		writeError(w, http.StatusNotFound, "replay incomplete")
	case errors.Is(err, artifacts.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, "artifact store unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "replay lookup failed")
	}
}

func (h *Handler) getReplay(w http.ResponseWriter, r *http.Request) {
	replayID := chi.URLParam(r, "replayID")
	stored, err := h.store.GetReplay(r.Context(), projectIDFromContext(r.Context()), replayID)
	if err != nil {
		writeReplayError(w, err)
		return
	}

	reader, err := h.loadReplayReader(r.Context(), stored)
	if err != nil {
		if !errors.Is(err, errReplayIncomplete) {
			log.Printf("replay load failed replay=%s err=%v", replayID, err)
		}
		writeReplayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newReplayResponse(stored.ID, reader))
}

func (h *Handler) getRecordingLink(w http.ResponseWriter, r *http.Request) {
	if !h.hasRecordingTokenSecret() {
		writeError(w, http.StatusServiceUnavailable, "recording links disabled")
		return
	}

	replayID := chi.URLParam(r, "replayID")
	projectID := projectIDFromContext(r.Context())
	if _, err := h.store.GetReplay(r.Context(), projectID, replayID); err != nil {
		writeReplayError(w, err)
		return
	}

	expiresAt := h.now().UTC().Add(h.recordingTokenTTL)
	token, err := h.signRecordingToken(projectID, replayID, artifacts.PartRecording, expiresAt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token signing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"url":       "/v1/replays/" + url.PathEscape(replayID) + "/recording?token=" + url.QueryEscape(token),
		"expiresAt": expiresAt,
	})
}

func (h *Handler) getRecording(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifyRecordingToken(r.URL.Query().Get("token"))
	replayID := chi.URLParam(r, "replayID")
	if err != nil || claims.ReplayID != replayID || claims.Part != artifacts.PartRecording {
		writeError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	stored, err := h.store.GetReplay(r.Context(), claims.ProjectID, replayID)
	if err != nil {
		writeReplayError(w, err)
		return
	}

	raw, err := h.artifactStore.LoadJSON(r.Context(), stored.RecordingObjectKey)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeReplayError(w, errReplayIncomplete)
		return
	}
	if err != nil {
		writeReplayError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "private, max-age=60")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// CleanupProject deletes expired rows for a project and then their objects.
func (h *Handler) CleanupProject(ctx context.Context, projectID string) (store.CleanupResult, error) {
	result, err := h.store.CleanupExpiredData(ctx, projectID, h.retentionDays)
	if err != nil {
		return store.CleanupResult{}, err
	}

	result.DeletedObjects, result.FailedObjectDeletes = artifacts.DeleteAll(ctx, h.artifactStore, result.DeletedObjectKeys)
	h.metrics.cleanupRunsTotal.Add(1)
	h.metrics.cleanupObjectsTotal.Add(int64(result.DeletedObjects))
	if result.FailedObjectDeletes > 0 {
		log.Printf("cleanup object deletes failed project=%s failed=%d", projectID, result.FailedObjectDeletes)
	}
	return result, nil
}

func (h *Handler) cleanupExpiredData(w http.ResponseWriter, r *http.Request) {
	result, err := h.CleanupProject(r.Context(), projectIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
