package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"releasepulse/internal/queue"
)

const (
	queueWarningPending  = 100
	queueCriticalPending = 1000
	queueCriticalFailed  = 1
	maxRedriveLimit      = 500
)

func queueStatus(stats queue.QueueStats) string {
	status := "ok"
	for _, stream := range []queue.StreamStats{stats.Replay, stats.Alert} {
		if stream.FailedDepth >= queueCriticalFailed || stream.Pending >= queueCriticalPending {
			return "critical"
		}
		if stream.Pending >= queueWarningPending {
			status = "warning"
		}
	}
	return status
}

func (h *Handler) getQueueHealth(w http.ResponseWriter, r *http.Request) {
	if h.queueStatsProvider == nil {
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}

	stats, err := h.metrics.loadQueueStats(r.Context())
	if err != nil {
		log.Printf("queue health lookup failed err=%v", err)
		writeError(w, http.StatusServiceUnavailable, "queue stats unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": queueStatus(stats),
		"stats":  stats,
	})
}

type redriveRequest struct {
	Queue queue.DeadLetterQueue `json:"queue"`
	Limit int                   `json:"limit"`
}

func (h *Handler) redriveDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.queueRedriver == nil {
		writeError(w, http.StatusServiceUnavailable, "queue redrive unavailable")
		return
	}

	payload := redriveRequest{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	switch payload.Queue {
	case queue.DeadLetterQueueReplay, queue.DeadLetterQueueAlert:
	default:
		writeError(w, http.StatusBadRequest, "queue must be replay or alert")
		return
	}
	limit := min(max(payload.Limit, 1), maxRedriveLimit)

	result, err := h.queueRedriver.RedriveDeadLetters(r.Context(), payload.Queue, limit)
	if err != nil {
		log.Printf("queue redrive failed queue=%s err=%v", payload.Queue, err)
		writeError(w, http.StatusInternalServerError, "queue redrive failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
