package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"releasepulse/internal/sessions"
)

const DefaultProjectID = "default"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidUpdate = errors.New("invalid session update")
)

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Health(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := p.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// HashAPIKey is the form in which API keys are stored.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func (p *Postgres) ResolveProjectIDByAPIKey(ctx context.Context, key string) (string, error) {
	var projectID string
	err := p.pool.QueryRow(
		ctx,
		`SELECT project_id
		 FROM project_api_keys
		 WHERE key_hash = $1 AND revoked_at IS NULL`,
		HashAPIKey(key),
	).Scan(&projectID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return projectID, nil
}

func (p *Postgres) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]Project, 0)
	for rows.Next() {
		var project Project
		if err := rows.Scan(&project.ID, &project.Name, &project.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return projects, nil
}

func validateUpdate(update SessionUpdate) error {
	if strings.TrimSpace(update.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidUpdate)
	}
	if strings.TrimSpace(update.Release) == "" {
		return fmt.Errorf("%w: release is required", ErrInvalidUpdate)
	}
	if !update.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, update.Status)
	}
	if update.StartedAt.IsZero() {
		return fmt.Errorf("%w: startedAt is required", ErrInvalidUpdate)
	}
	if update.DurationMs != nil && *update.DurationMs < 0 {
		return fmt.Errorf("%w: durationMs must be >= 0", ErrInvalidUpdate)
	}
	return nil
}

// IngestSessions upserts session outcomes. A later update for the same
// session replaces its status and duration.
func (p *Postgres) IngestSessions(ctx context.Context, projectID string, payload IngestPayload) (IngestResult, error) {
	for i, update := range payload.Sessions {
		if err := validateUpdate(update); err != nil {
			return IngestResult{}, fmt.Errorf("sessions[%d]: %w", i, err)
		}
	}

	batch := &pgx.Batch{}
	for _, update := range payload.Sessions {
		batch.Queue(
			`INSERT INTO session_updates (project_id, session_id, distinct_id, release, environment, status, started_at, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (project_id, session_id) DO UPDATE
			 SET distinct_id = EXCLUDED.distinct_id,
			     release = EXCLUDED.release,
			     environment = EXCLUDED.environment,
			     status = EXCLUDED.status,
			     duration_ms = EXCLUDED.duration_ms,
			     updated_at = NOW()`,
			projectID,
			update.SessionID,
			update.DistinctID,
			update.Release,
			update.Environment,
			string(update.Status),
			update.StartedAt.UTC(),
			update.DurationMs,
		)
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return IngestResult{}, err
	}
	defer tx.Rollback(ctx)

	results := tx.SendBatch(ctx, batch)
	for range payload.Sessions {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return IngestResult{}, err
		}
	}
	if err := results.Close(); err != nil {
		return IngestResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return IngestResult{}, err
	}
	return IngestResult{Accepted: len(payload.Sessions)}, nil
}

func (p *Postgres) QuerySessions(ctx context.Context, q SessionQuery) (*sessions.Response, error) {
	if q.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive")
	}
	if !q.End.After(q.Start) {
		return nil, fmt.Errorf("end must be after start")
	}
	if err := ValidateFields(q.Fields); err != nil {
		return nil, err
	}

	from, to := bucketRange(q.Start, q.End, q.Interval)
	filter, args := sessionFilter(q.ProjectID, q.Release, q.Environment, from, to)

	bucketArgs := append([]any{q.Interval.Seconds(), bucketEpoch}, args...)
	rows, err := p.pool.Query(
		ctx,
		`SELECT
		   date_bin(make_interval(secs => $1::float8), started_at, $2::timestamptz) AS bucket,
		   status,
		   COUNT(*)::float8,
		   COUNT(DISTINCT NULLIF(distinct_id, ''))::float8,
		   COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY duration_ms), 0)::float8
		 FROM session_updates
		 WHERE `+filter.shifted(2)+`
		 GROUP BY bucket, status
		 ORDER BY bucket`,
		bucketArgs...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make([]bucketRow, 0)
	for rows.Next() {
		var row bucketRow
		var status string
		if err := rows.Scan(&row.Bucket, &status, &row.Sessions, &row.Users, &row.DurationP50); err != nil {
			return nil, err
		}
		row.Status = sessions.Status(status)
		buckets = append(buckets, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	totalRows, err := p.pool.Query(
		ctx,
		`SELECT
		   status,
		   COUNT(*)::float8,
		   COUNT(DISTINCT NULLIF(distinct_id, ''))::float8,
		   COALESCE(percentile_cont(0.5) WITHIN GROUP (ORDER BY duration_ms), 0)::float8
		 FROM session_updates
		 WHERE `+filter.shifted(0)+`
		 GROUP BY status`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer totalRows.Close()

	totals := make([]totalRow, 0)
	for totalRows.Next() {
		var row totalRow
		var status string
		if err := totalRows.Scan(&status, &row.Sessions, &row.Users, &row.DurationP50); err != nil {
			return nil, err
		}
		row.Status = sessions.Status(status)
		totals = append(totals, row)
	}
	if totalRows.Err() != nil {
		return nil, totalRows.Err()
	}

	return buildResponse(q, buckets, totals), nil
}

// whereClause holds predicates with placeholders numbered from 1.
type whereClause []string

func (w whereClause) shifted(offset int) string {
	parts := make([]string, len(w))
	for i, predicate := range w {
		parts[i] = fmt.Sprintf(predicate, offset+i+1)
	}
	return strings.Join(parts, " AND ")
}

func sessionFilter(projectID, release, environment string, from, to time.Time) (whereClause, []any) {
	clause := whereClause{"project_id = $%d", "started_at >= $%d", "started_at < $%d"}
	args := []any{projectID, from, to}
	if release != "" {
		clause = append(clause, "release = $%d")
		args = append(args, release)
	}
	if environment != "" {
		clause = append(clause, "environment = $%d")
		args = append(args, environment)
	}
	return clause, args
}

func (p *Postgres) ListActiveReleases(ctx context.Context, since time.Time) ([]ReleaseRef, error) {
	rows, err := p.pool.Query(
		ctx,
		`SELECT DISTINCT project_id, release
		 FROM session_updates
		 WHERE started_at >= $1
		 ORDER BY project_id, release`,
		since.UTC(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	releases := make([]ReleaseRef, 0)
	for rows.Next() {
		var ref ReleaseRef
		if err := rows.Scan(&ref.ProjectID, &ref.Release); err != nil {
			return nil, err
		}
		releases = append(releases, ref)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return releases, nil
}

func (p *Postgres) InsertReplay(ctx context.Context, replay Replay) (Replay, error) {
	if replay.ID == "" {
		replay.ID = uuid.NewString()
	}

	stored := Replay{}
	err := p.pool.QueryRow(
		ctx,
		`INSERT INTO replays (id, project_id, event_object_key, breadcrumbs_object_key, recording_object_key, spans_object_key)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET event_object_key = EXCLUDED.event_object_key,
		     breadcrumbs_object_key = EXCLUDED.breadcrumbs_object_key,
		     recording_object_key = EXCLUDED.recording_object_key,
		     spans_object_key = EXCLUDED.spans_object_key
		 WHERE replays.project_id = EXCLUDED.project_id
		 RETURNING id, project_id, event_object_key, breadcrumbs_object_key, recording_object_key, spans_object_key, created_at`,
		replay.ID,
		replay.ProjectID,
		replay.EventObjectKey,
		replay.BreadcrumbsKey,
		replay.RecordingObjectKey,
		replay.SpansObjectKey,
	).Scan(
		&stored.ID,
		&stored.ProjectID,
		&stored.EventObjectKey,
		&stored.BreadcrumbsKey,
		&stored.RecordingObjectKey,
		&stored.SpansObjectKey,
		&stored.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		// The id belongs to another project.
		return Replay{}, ErrNotFound
	}
	if err != nil {
		return Replay{}, err
	}
	return stored, nil
}

func (p *Postgres) GetReplay(ctx context.Context, projectID, id string) (Replay, error) {
	replay := Replay{}
	err := p.pool.QueryRow(
		ctx,
		`SELECT id, project_id, event_object_key, breadcrumbs_object_key, recording_object_key, spans_object_key, created_at
		 FROM replays
		 WHERE project_id = $1 AND id = $2`,
		projectID,
		id,
	).Scan(
		&replay.ID,
		&replay.ProjectID,
		&replay.EventObjectKey,
		&replay.BreadcrumbsKey,
		&replay.RecordingObjectKey,
		&replay.SpansObjectKey,
		&replay.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Replay{}, ErrNotFound
	}
	if err != nil {
		return Replay{}, err
	}
	return replay, nil
}

// CleanupExpiredData removes rows older than the retention window. Object keys
// of deleted replays are returned for the caller to purge from storage.
func (p *Postgres) CleanupExpiredData(ctx context.Context, projectID string, retentionDays int) (CleanupResult, error) {
	if retentionDays < 1 {
		return CleanupResult{}, fmt.Errorf("retentionDays must be >= 1")
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return CleanupResult{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(
		ctx,
		`DELETE FROM session_updates WHERE project_id = $1 AND started_at < $2`,
		projectID,
		cutoff,
	)
	if err != nil {
		return CleanupResult{}, err
	}
	result := CleanupResult{
		DeletedSessionUpdates: int(tag.RowsAffected()),
		DeletedObjectKeys:     make([]string, 0),
		RetentionDays:         retentionDays,
	}

	rows, err := tx.Query(
		ctx,
		`DELETE FROM replays
		 WHERE project_id = $1 AND created_at < $2
		 RETURNING event_object_key, breadcrumbs_object_key, recording_object_key, spans_object_key`,
		projectID,
		cutoff,
	)
	if err != nil {
		return CleanupResult{}, err
	}
	for rows.Next() {
		var replay Replay
		if err := rows.Scan(&replay.EventObjectKey, &replay.BreadcrumbsKey, &replay.RecordingObjectKey, &replay.SpansObjectKey); err != nil {
			rows.Close()
			return CleanupResult{}, err
		}
		result.DeletedReplays++
		for _, key := range replay.ObjectKeys() {
			if key != "" {
				result.DeletedObjectKeys = append(result.DeletedObjectKeys, key)
			}
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return CleanupResult{}, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return CleanupResult{}, err
	}
	return result, nil
}

func (p *Postgres) LastHealthAlertAt(ctx context.Context, ref ReleaseRef) (time.Time, bool, error) {
	var sentAt time.Time
	err := p.pool.QueryRow(
		ctx,
		`SELECT sent_at
		 FROM health_alerts
		 WHERE project_id = $1 AND release = $2
		 ORDER BY sent_at DESC
		 LIMIT 1`,
		ref.ProjectID,
		ref.Release,
	).Scan(&sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return sentAt, true, nil
}

func (p *Postgres) RecordHealthAlert(ctx context.Context, ref ReleaseRef, crashFreeRate float64, sentAt time.Time) error {
	_, err := p.pool.Exec(
		ctx,
		`INSERT INTO health_alerts (id, project_id, release, crash_free_rate, sent_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(),
		ref.ProjectID,
		ref.Release,
		crashFreeRate,
		sentAt.UTC(),
	)
	return err
}
