package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"videoTriage/core"
)

// PostgresStore is the shared multi-node backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		video_path TEXT NOT NULL,
		audio_path TEXT NOT NULL DEFAULT '',
		duration_sec DOUBLE PRECISION NOT NULL DEFAULT 0,
		language TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		failure_code TEXT NOT NULL DEFAULT '',
		failure_message TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);

	CREATE TABLE IF NOT EXISTS jobs (
		request_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ,
		started_at TIMESTAMPTZ,
		result_ref TEXT NOT NULL DEFAULT '',
		last_error TEXT NOT NULL DEFAULT '',
		version BIGINT NOT NULL,
		PRIMARY KEY (request_id, modality)
	);

	CREATE TABLE IF NOT EXISTS reports (
		request_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		payload JSONB NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

func (s *PostgresStore) CreateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	req.Version = 1
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO requests (id, video_path, audio_path, duration_sec, language, state,
			failure_code, failure_message, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		req.ID, req.VideoPath, req.AudioPath, req.DurationSec, req.Language, string(req.State),
		req.FailureCode, req.FailureMessage, req.Version, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*core.AnalysisRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, video_path, audio_path, duration_sec, language, state,
			failure_code, failure_message, version, created_at, updated_at
		FROM requests WHERE id = $1`, id)

	var req core.AnalysisRequest
	var state string
	var updated time.Time
	err := row.Scan(&req.ID, &req.VideoPath, &req.AudioPath, &req.DurationSec, &req.Language,
		&state, &req.FailureCode, &req.FailureMessage, &req.Version, &req.CreatedAt, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.State = core.RequestState(state)
	req.UpdatedAt = updated
	return &req, nil
}

func (s *PostgresStore) UpdateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	req.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE requests SET audio_path = $1, duration_sec = $2, language = $3, state = $4,
			failure_code = $5, failure_message = $6, version = version + 1, updated_at = $7
		WHERE id = $8 AND version = $9`,
		req.AudioPath, req.DurationSec, req.Language, string(req.State),
		req.FailureCode, req.FailureMessage, req.UpdatedAt, req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, req.ID); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	req.Version++
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM requests WHERE state NOT IN ($1, $2, $3)`,
		string(core.StateCompleted), string(core.StateFailed), string(core.StateCancelled))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *core.ModalityJob) error {
	job.Version = 1
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (request_id, modality) DO NOTHING`,
		job.RequestID, string(job.Modality), job.Handle, string(job.State), job.Attempts,
		nullableTime(job.NextAttemptAt), nullableTime(job.StartedAt), job.ResultRef,
		job.LastError, job.Version)
	if err != nil {
		return fmt.Errorf("insert job %s/%s: %w", job.RequestID, job.Modality, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExists
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *PostgresStore) GetJob(ctx context.Context, requestID string, m core.Modality) (*core.ModalityJob, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version
		FROM jobs WHERE request_id = $1 AND modality = $2`, requestID, string(m))
	return scanPgJob(row)
}

func scanPgJob(row pgx.Row) (*core.ModalityJob, error) {
	var job core.ModalityJob
	var modality, state string
	var next, started *time.Time
	err := row.Scan(&job.RequestID, &modality, &job.Handle, &state, &job.Attempts,
		&next, &started, &job.ResultRef, &job.LastError, &job.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Modality = core.Modality(modality)
	job.State = core.JobState(state)
	if next != nil {
		job.NextAttemptAt = *next
	}
	if started != nil {
		job.StartedAt = *started
	}
	return &job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *core.ModalityJob) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET handle = $1, state = $2, attempts = $3, next_attempt_at = $4,
			started_at = $5, result_ref = $6, last_error = $7, version = version + 1
		WHERE request_id = $8 AND modality = $9 AND version = $10`,
		job.Handle, string(job.State), job.Attempts, nullableTime(job.NextAttemptAt),
		nullableTime(job.StartedAt), job.ResultRef, job.LastError,
		job.RequestID, string(job.Modality), job.Version)
	if err != nil {
		return fmt.Errorf("update job %s/%s: %w", job.RequestID, job.Modality, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, job.RequestID, job.Modality); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version++
	return nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, requestID string) ([]*core.ModalityJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version
		FROM jobs WHERE request_id = $1
		ORDER BY CASE modality WHEN 'visual' THEN 0 WHEN 'speech' THEN 1 ELSE 2 END`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.ModalityJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveReport(ctx context.Context, report *core.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO reports (request_id, id, payload, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (request_id) DO NOTHING`,
		report.RequestID, report.ID, payload, report.CompletedAt)
	return err
}

func (s *PostgresStore) GetReport(ctx context.Context, requestID string) (*core.Report, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM reports WHERE request_id = $1`, requestID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var report core.Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
