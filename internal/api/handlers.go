package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"releasepulse/internal/artifacts"
	"releasepulse/internal/cache"
	"releasepulse/internal/config"
	"releasepulse/internal/queue"
	"releasepulse/internal/sessions"
	"releasepulse/internal/store"
)

// Store is the subset of the postgres store the handlers use.
type Store interface {
	Health(ctx context.Context) error
	ResolveProjectIDByAPIKey(ctx context.Context, key string) (string, error)
	ListProjects(ctx context.Context) ([]store.Project, error)
	IngestSessions(ctx context.Context, projectID string, payload store.IngestPayload) (store.IngestResult, error)
	QuerySessions(ctx context.Context, q store.SessionQuery) (*sessions.Response, error)
	ListActiveReleases(ctx context.Context, since time.Time) ([]store.ReleaseRef, error)
	InsertReplay(ctx context.Context, replay store.Replay) (store.Replay, error)
	GetReplay(ctx context.Context, projectID, id string) (store.Replay, error)
	CleanupExpiredData(ctx context.Context, projectID string, retentionDays int) (store.CleanupResult, error)
}

type AlertLedger interface {
	LastHealthAlertAt(ctx context.Context, ref store.ReleaseRef) (time.Time, bool, error)
	RecordHealthAlert(ctx context.Context, ref store.ReleaseRef, crashFreeRate float64, sentAt time.Time) error
}

type queueRedriver interface {
	RedriveDeadLetters(ctx context.Context, queue queue.DeadLetterQueue, limit int) (queue.RedriveResult, error)
}

type Options struct {
	Store                   Store
	AlertLedger             AlertLedger
	Artifacts               artifacts.Store
	Producer                queue.Producer
	QueueStats              queue.StatsProvider
	QueueRedriver           queueRedriver
	Cache                   cache.Cache
	Thresholds              config.Thresholds
	CORSAllowedOrigins      []string
	IngestAPIKey            string
	InternalAPIKey          string
	RecordingTokenSecret    string
	RecordingTokenTTL       time.Duration
	RateLimitRequestsPerSec float64
	RateLimitBurst          int
	RetentionDays           int
	AlertWebhookURL         string
	AlertWebhookAuthHeader  string
}

type Handler struct {
	store                Store
	artifactStore        artifacts.Store
	producer             queue.Producer
	queueStatsProvider   queue.StatsProvider
	queueRedriver        queueRedriver
	cache                cache.Cache
	thresholds           config.Thresholds
	corsAllowedOrigins   []string
	ingestAPIKey         string
	internalAPIKey       string
	recordingTokenSecret string
	recordingTokenTTL    time.Duration
	rateLimiter          *apiRateLimiter
	retentionDays        int
	metrics              *apiMetrics
	alerts               *healthAlertNotifier
	now                  func() time.Time
}

type requestContextKey string

const (
	projectIDContextKey     = requestContextKey("project_id")
	keyAuthenticatedContext = requestContextKey("key_authenticated")

	apiKeyHeader      = "X-Releasepulse-Key"
	internalKeyHeader = "X-Releasepulse-Internal"
)

func NewHandler(opts Options) *Handler {
	h := &Handler{
		store:                opts.Store,
		artifactStore:        opts.Artifacts,
		producer:             opts.Producer,
		queueStatsProvider:   opts.QueueStats,
		queueRedriver:        opts.QueueRedriver,
		cache:                opts.Cache,
		thresholds:           opts.Thresholds,
		corsAllowedOrigins:   opts.CORSAllowedOrigins,
		ingestAPIKey:         strings.TrimSpace(opts.IngestAPIKey),
		internalAPIKey:       strings.TrimSpace(opts.InternalAPIKey),
		recordingTokenSecret: strings.TrimSpace(opts.RecordingTokenSecret),
		recordingTokenTTL:    opts.RecordingTokenTTL,
		rateLimiter:          newAPIRateLimiter(opts.RateLimitRequestsPerSec, opts.RateLimitBurst),
		retentionDays:        opts.RetentionDays,
		metrics:              newAPIMetrics(opts.QueueStats),
		now:                  time.Now,
	}
	if h.artifactStore == nil {
		h.artifactStore = artifacts.NewNoopStore()
	}
	if h.producer == nil {
		h.producer = queue.NewNoopProducer()
	}
	if h.cache == nil {
		h.cache = cache.NoopCache{}
	}
	if h.recordingTokenTTL <= 0 {
		h.recordingTokenTTL = 5 * time.Minute
	}
	if h.thresholds == (config.Thresholds{}) {
		h.thresholds = config.DefaultThresholds()
	}
	h.alerts = newHealthAlertNotifier(
		opts.AlertLedger,
		h.producer,
		opts.AlertWebhookURL,
		opts.AlertWebhookAuthHeader,
		h.thresholds.AlertCooldownMinutes,
	)
	return h
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	if h.rateLimiter != nil {
		r.Use(h.rateLimiter.Middleware(h.metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", apiKeyHeader, internalKeyHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)
	r.Get("/metrics", h.metrics.handleMetrics)
	r.Route("/v1", func(r chi.Router) {
		r.Route("/internal", func(r chi.Router) {
			r.Use(h.requireInternalAccess)
			r.Get("/queue-health", h.getQueueHealth)
			r.Post("/queue-redrive", h.redriveDeadLetters)
		})
		r.Get("/replays/{replayID}/recording", h.getRecording)

		r.Group(func(r chi.Router) {
			r.Use(h.withProjectContext)

			r.With(h.requireWriteAccess).Post("/ingest/sessions", h.ingestSessions)
			r.Get("/sessions", h.getSessions)
			r.Get("/releases/{release}/health", h.getReleaseHealth)
			r.With(h.requireWriteAccess).Post("/replays", h.uploadReplay)
			r.Get("/replays/{replayID}", h.getReplay)
			r.Get("/replays/{replayID}/recording-link", h.getRecordingLink)
			r.With(h.requireWriteAccess).Post("/maintenance/cleanup", h.cleanupExpiredData)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) withProjectContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := strings.TrimSpace(r.Header.Get(apiKeyHeader))
		projectID := store.DefaultProjectID
		authenticated := false

		switch {
		case provided == "":
			// anonymous reads use the default project.
		case h.ingestAPIKey != "" && provided == h.ingestAPIKey:
			authenticated = true
		default:
			resolvedProjectID, err := h.store.ResolveProjectIDByAPIKey(r.Context(), provided)
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "api key lookup failed")
				return
			}
			projectID = resolvedProjectID
			authenticated = true
		}

		ctx := context.WithValue(r.Context(), projectIDContextKey, projectID)
		ctx = context.WithValue(ctx, keyAuthenticatedContext, authenticated)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireWriteAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.ingestAPIKey == "" || keyAuthenticatedFromContext(r.Context()) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (h *Handler) requireInternalAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.internalAPIKey == "" {
			writeError(w, http.StatusForbidden, "internal endpoints disabled")
			return
		}
		if strings.TrimSpace(r.Header.Get(internalKeyHeader)) == h.internalAPIKey {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func projectIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(projectIDContextKey).(string)
	if !ok || strings.TrimSpace(value) == "" {
		return store.DefaultProjectID
	}
	return value
}

func keyAuthenticatedFromContext(ctx context.Context) bool {
	value, ok := ctx.Value(keyAuthenticatedContext).(bool)
	return ok && value
}
