package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"videoTriage/core"
)

// SQLiteStore is the embedded single-node backend. WAL mode keeps the
// orchestrator runner and the HTTP handlers from blocking each other.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS requests (
		id TEXT PRIMARY KEY,
		video_path TEXT NOT NULL,
		audio_path TEXT,
		duration_sec REAL NOT NULL DEFAULT 0,
		language TEXT,
		state TEXT NOT NULL,
		failure_code TEXT,
		failure_message TEXT,
		version INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state);

	CREATE TABLE IF NOT EXISTS jobs (
		request_id TEXT NOT NULL,
		modality TEXT NOT NULL,
		handle TEXT,
		state TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		result_ref TEXT,
		last_error TEXT,
		version INTEGER NOT NULL,
		PRIMARY KEY (request_id, modality)
	);

	CREATE TABLE IF NOT EXISTS reports (
		request_id TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		payload TEXT NOT NULL,
		completed_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (s *SQLiteStore) CreateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	req.Version = 1
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, video_path, audio_path, duration_sec, language, state,
			failure_code, failure_message, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		req.ID, req.VideoPath, req.AudioPath, req.DurationSec, req.Language, string(req.State),
		req.FailureCode, req.FailureMessage, req.Version, nanos(req.CreatedAt), nanos(req.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert request %s: %w", req.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id string) (*core.AnalysisRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, video_path, audio_path, duration_sec, language, state,
			failure_code, failure_message, version, created_at, updated_at
		FROM requests WHERE id = ?`, id)
	return scanRequest(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*core.AnalysisRequest, error) {
	var req core.AnalysisRequest
	var state string
	var created, updated int64
	err := row.Scan(&req.ID, &req.VideoPath, &req.AudioPath, &req.DurationSec, &req.Language,
		&state, &req.FailureCode, &req.FailureMessage, &req.Version, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	req.State = core.RequestState(state)
	req.CreatedAt = fromNanos(created)
	req.UpdatedAt = fromNanos(updated)
	return &req, nil
}

func (s *SQLiteStore) UpdateRequest(ctx context.Context, req *core.AnalysisRequest) error {
	req.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET audio_path = ?, duration_sec = ?, language = ?, state = ?,
			failure_code = ?, failure_message = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		req.AudioPath, req.DurationSec, req.Language, string(req.State),
		req.FailureCode, req.FailureMessage, nanos(req.UpdatedAt), req.ID, req.Version)
	if err != nil {
		return fmt.Errorf("update request %s: %w", req.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRequest(ctx, req.ID); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	req.Version++
	return nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM requests WHERE state NOT IN (?, ?, ?)`,
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

func (s *SQLiteStore) CreateJob(ctx context.Context, job *core.ModalityJob) error {
	job.Version = 1
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (request_id, modality) DO NOTHING`,
		job.RequestID, string(job.Modality), job.Handle, string(job.State), job.Attempts,
		nanos(job.NextAttemptAt), nanos(job.StartedAt), job.ResultRef, job.LastError, job.Version)
	if err != nil {
		return fmt.Errorf("insert job %s/%s: %w", job.RequestID, job.Modality, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrExists
	}
	return nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, requestID string, m core.Modality) (*core.ModalityJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version
		FROM jobs WHERE request_id = ? AND modality = ?`, requestID, string(m))
	return scanJob(row)
}

func scanJob(row rowScanner) (*core.ModalityJob, error) {
	var job core.ModalityJob
	var modality, state string
	var next, started int64
	err := row.Scan(&job.RequestID, &modality, &job.Handle, &state, &job.Attempts,
		&next, &started, &job.ResultRef, &job.LastError, &job.Version)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	job.Modality = core.Modality(modality)
	job.State = core.JobState(state)
	job.NextAttemptAt = fromNanos(next)
	job.StartedAt = fromNanos(started)
	return &job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *core.ModalityJob) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET handle = ?, state = ?, attempts = ?, next_attempt_at = ?,
			started_at = ?, result_ref = ?, last_error = ?, version = version + 1
		WHERE request_id = ? AND modality = ? AND version = ?`,
		job.Handle, string(job.State), job.Attempts, nanos(job.NextAttemptAt),
		nanos(job.StartedAt), job.ResultRef, job.LastError,
		job.RequestID, string(job.Modality), job.Version)
	if err != nil {
		return fmt.Errorf("update job %s/%s: %w", job.RequestID, job.Modality, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetJob(ctx, job.RequestID, job.Modality); err == ErrNotFound {
			return ErrNotFound
		}
		return ErrConflict
	}
	job.Version++
	return nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, requestID string) ([]*core.ModalityJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT request_id, modality, handle, state, attempts, next_attempt_at,
			started_at, result_ref, last_error, version
		FROM jobs WHERE request_id = ?
		ORDER BY CASE modality WHEN 'visual' THEN 0 WHEN 'speech' THEN 1 ELSE 2 END`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*core.ModalityJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveReport(ctx context.Context, report *core.Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}
	// First write wins; re-assembly leaves the stored payload untouched.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (request_id, id, payload, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (request_id) DO NOTHING`,
		report.RequestID, report.ID, string(payload), nanos(report.CompletedAt))
	return err
}

func (s *SQLiteStore) GetReport(ctx context.Context, requestID string) (*core.Report, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM reports WHERE request_id = ?`, requestID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var report core.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
