package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"releasepulse/internal/api"
	"releasepulse/internal/artifacts"
	"releasepulse/internal/cache"
	"releasepulse/internal/config"
	"releasepulse/internal/queue"
	"releasepulse/internal/store"
	"releasepulse/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	thresholds, err := config.LoadThresholds(cfg.ThresholdsFile)
	if err != nil {
		log.Fatalf("thresholds load failed: %v", err)
	}

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint)
	if err != nil {
		log.Printf("tracing unavailable (%v), continuing without export", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	db, err := store.NewPostgres(ctx, cfg.PostgresURL())
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}

	var (
		producer      queue.Producer = queue.NewNoopProducer()
		queueStats    queue.StatsProvider
		queueRedriver *queue.RedisProducer
	)
	redisProducer, err := queue.NewRedisProducer(cfg.RedisAddr(), cfg.ReplayQueueName, cfg.AlertQueueName)
	if err != nil {
		log.Printf("queues unavailable (%v), continuing with noop producer", err)
	} else {
		producer, queueStats, queueRedriver = redisProducer, redisProducer, redisProducer
	}
	defer producer.Close()

	var responseCache cache.Cache = cache.NoopCache{}
	redisCache, err := cache.NewRedisCache(cfg.RedisAddr(), "releasepulse:", time.Duration(cfg.CacheTTLSeconds)*time.Second)
	if err != nil {
		log.Printf("response cache unavailable (%v), continuing without cache", err)
	} else {
		responseCache = redisCache
		defer redisCache.Close()
	}

	artifactStore := newArtifactStore(ctx, cfg)
	defer artifactStore.Close()

	opts := api.Options{
		Store:                   db,
		AlertLedger:             db,
		Artifacts:               artifactStore,
		Producer:                producer,
		QueueStats:              queueStats,
		Cache:                   responseCache,
		Thresholds:              thresholds,
		CORSAllowedOrigins:      cfg.CORSAllowedOrigins,
		IngestAPIKey:            cfg.IngestAPIKey,
		InternalAPIKey:          cfg.InternalAPIKey,
		RecordingTokenSecret:    cfg.RecordingTokenSecret,
		RecordingTokenTTL:       time.Duration(cfg.RecordingTokenTTLSeconds) * time.Second,
		RateLimitRequestsPerSec: cfg.RateLimitRequestsPerSec,
		RateLimitBurst:          cfg.RateLimitBurst,
		RetentionDays:           cfg.RetentionDays,
		AlertWebhookURL:         cfg.AlertWebhookURL,
		AlertWebhookAuthHeader:  cfg.AlertWebhookAuthHeader,
	}
	if queueRedriver != nil {
		opts.QueueRedriver = queueRedriver
	}
	handler := api.NewHandler(opts)

	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMaintenanceLoops(
		shutdownCtx,
		db,
		handler,
		time.Duration(cfg.AutoCleanupIntervalMinutes)*time.Minute,
		time.Duration(cfg.HealthCheckIntervalMinutes)*time.Minute,
	)

	go func() {
		log.Printf("releasepulse listening on %s", cfg.ListenAddr())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxTimeout); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

func newArtifactStore(ctx context.Context, cfg config.Config) artifacts.Store {
	s3Config := artifacts.S3Config{
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
	}
	if !s3Config.Enabled() {
		log.Printf("artifact store not configured, replay uploads are disabled")
		return artifacts.NewNoopStore()
	}

	s3Store, err := artifacts.NewS3Store(ctx, s3Config)
	if err != nil {
		log.Printf("artifact store unavailable (%v), replay uploads are disabled", err)
		return artifacts.NewNoopStore()
	}
	if cfg.RetentionDays > 0 {
		if err := s3Store.EnsureLifecyclePolicy(ctx, cfg.RetentionDays, []string{artifacts.ReplayPrefix}); err != nil {
			log.Printf("artifact lifecycle policy failed bucket=%s err=%v", cfg.S3Bucket, err)
		}
	}
	return s3Store
}
