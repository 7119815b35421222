package main

import (
	"context"
	"log"
	"time"

	"releasepulse/internal/api"
	"releasepulse/internal/store"
)

func startMaintenanceLoops(
	ctx context.Context,
	db *store.Postgres,
	handler *api.Handler,
	cleanupInterval time.Duration,
	healthCheckInterval time.Duration,
) {
	if cleanupInterval > 0 {
		go runEvery(ctx, cleanupInterval, func(ctx context.Context) {
			runCleanupCycle(ctx, db, handler)
		})
	}
	if healthCheckInterval > 0 {
		go runEvery(ctx, healthCheckInterval, func(ctx context.Context) {
			runHealthCheckCycle(ctx, handler)
		})
	}
}

func runEvery(ctx context.Context, interval time.Duration, cycle func(context.Context)) {
	cycle(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cycle(ctx)
		}
	}
}

func runCleanupCycle(ctx context.Context, db *store.Postgres, handler *api.Handler) {
	cycleCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	projects, err := db.ListProjects(cycleCtx)
	if err != nil {
		log.Printf("auto-cleanup failed loading projects: %v", err)
		return
	}

	totalSessions := 0
	totalReplays := 0
	totalObjects := 0
	totalFailures := 0

	for _, project := range projects {
		result, err := handler.CleanupProject(cycleCtx, project.ID)
		if err != nil {
			log.Printf("auto-cleanup failed project=%s err=%v", project.ID, err)
			totalFailures++
			continue
		}

		totalSessions += result.DeletedSessionUpdates
		totalReplays += result.DeletedReplays
		totalObjects += result.DeletedObjects
		totalFailures += result.FailedObjectDeletes
	}

	log.Printf(
		"auto-cleanup completed sessions=%d replays=%d objects=%d failures=%d",
		totalSessions,
		totalReplays,
		totalObjects,
		totalFailures,
	)
}

func runHealthCheckCycle(ctx context.Context, handler *api.Handler) {
	cycleCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	result, err := handler.CheckReleaseHealth(cycleCtx)
	if err != nil {
		log.Printf("health check cycle failed: %v", err)
		return
	}
	log.Printf(
		"health check completed checked=%d alerted=%d skipped=%d failed=%d",
		result.Checked,
		result.Alerted,
		result.Skipped,
		result.Failed,
	)
}
