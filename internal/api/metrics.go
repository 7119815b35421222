package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"releasepulse/internal/queue"
)

type apiMetrics struct {
	startedAtUnix          int64
	queueStatsProvider     queue.StatsProvider
	ingestSessionsTotal    atomic.Int64
	replayUploadsTotal     atomic.Int64
	replayQueueErrorsTotal atomic.Int64
	cacheHitsTotal         atomic.Int64
	cacheMissesTotal       atomic.Int64
	healthChecksTotal      atomic.Int64
	healthAlertsTotal      atomic.Int64
	cleanupRunsTotal       atomic.Int64
	cleanupObjectsTotal    atomic.Int64
	rateLimitedTotal       atomic.Int64
	queueMetricsErrors     atomic.Int64
}

func newAPIMetrics(queueStatsProvider queue.StatsProvider) *apiMetrics {
	return &apiMetrics{
		startedAtUnix:      time.Now().Unix(),
		queueStatsProvider: queueStatsProvider,
	}
}

func writeMetric(w io.Writer, name, kind, help string, value int64) {
	_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, kind)
	_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
}

func (m *apiMetrics) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)

	writeMetric(w, "releasepulse_uptime_seconds", "gauge", "Process uptime in seconds.", time.Now().Unix()-m.startedAtUnix)
	writeMetric(w, "releasepulse_ingest_sessions_total", "counter", "Accepted session updates.", m.ingestSessionsTotal.Load())
	writeMetric(w, "releasepulse_replay_uploads_total", "counter", "Stored replay uploads.", m.replayUploadsTotal.Load())
	writeMetric(w, "releasepulse_replay_queue_errors_total", "counter", "Replay job enqueue failures.", m.replayQueueErrorsTotal.Load())
	writeMetric(w, "releasepulse_release_health_cache_hits_total", "counter", "Release health responses served from cache.", m.cacheHitsTotal.Load())
	writeMetric(w, "releasepulse_release_health_cache_misses_total", "counter", "Release health responses computed.", m.cacheMissesTotal.Load())
	writeMetric(w, "releasepulse_health_checks_total", "counter", "Release health check cycles.", m.healthChecksTotal.Load())
	writeMetric(w, "releasepulse_health_alerts_total", "counter", "Crash-free alerts sent.", m.healthAlertsTotal.Load())
	writeMetric(w, "releasepulse_cleanup_runs_total", "counter", "Cleanup runs executed.", m.cleanupRunsTotal.Load())
	writeMetric(w, "releasepulse_cleanup_objects_total", "counter", "Replay objects deleted by cleanup.", m.cleanupObjectsTotal.Load())
	writeMetric(w, "releasepulse_rate_limited_total", "counter", "Requests rejected due to rate limiting.", m.rateLimitedTotal.Load())

	if m.queueStatsProvider != nil {
		stats, err := m.loadQueueStats(r.Context())
		if err != nil {
			m.queueMetricsErrors.Add(1)
		} else {
			writeStreamMetrics(w, "replay", stats.Replay)
			writeStreamMetrics(w, "alert", stats.Alert)
		}
	}

	writeMetric(w, "releasepulse_queue_metrics_errors_total", "counter", "Queue metrics collection errors.", m.queueMetricsErrors.Load())
}

func writeStreamMetrics(w io.Writer, name string, stats queue.StreamStats) {
	prefix := "releasepulse_" + name + "_queue_"
	writeMetric(w, prefix+"stream_depth", "gauge", "Entries retained in the "+name+" stream.", stats.StreamDepth)
	writeMetric(w, prefix+"pending_total", "gauge", "Entries pending for the "+name+" consumer group.", stats.Pending)
	writeMetric(w, prefix+"failed_depth", "gauge", "Dead-letter depth of the "+name+" queue.", stats.FailedDepth)
}

func (m *apiMetrics) loadQueueStats(parent context.Context) (queue.QueueStats, error) {
	ctx := parent
	cancel := func() {}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		ctx, cancel = context.WithTimeout(ctx, 1200*time.Millisecond)
	}
	defer cancel()

	return m.queueStatsProvider.QueueStats(ctx)
}
