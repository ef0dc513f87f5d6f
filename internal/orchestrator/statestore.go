package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"codestory.dev/ingest/internal/model"
)

// StateStore is the durable job-record mirror spec §6.5 requires: every
// job the Orchestrator creates is also persisted here so a job record
// survives an orchestrator process restart for its retention window.
// Grounded on the teacher's db.StateStore (PostgreSQL-backed, pgxpool),
// narrowed from its generic workflow/action/phase schema to one row per
// ingestion Job keyed by id.
type StateStore struct {
	pool *pgxpool.Pool
}

// NewStateStore wraps an already-connected pgxpool.Pool.
func NewStateStore(pool *pgxpool.Pool) *StateStore {
	return &StateStore{pool: pool}
}

// InitSchema creates the job-record table if absent, matching the
// teacher's own migration-free "CREATE TABLE IF NOT EXISTS" approach for
// this size of schema.
func (s *StateStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ingest_jobs (
			id               TEXT PRIMARY KEY,
			repo_path        TEXT NOT NULL,
			steps_requested  JSONB NOT NULL,
			deps             JSONB NOT NULL DEFAULT '[]',
			status           TEXT NOT NULL,
			progress_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			per_step         JSONB NOT NULL DEFAULT '{}',
			error            TEXT,
			failed_step      TEXT,
			started_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return model.New(model.KindSchemaError, "create ingest_jobs table", err)
	}
	return nil
}

// Upsert writes job's current state, overwriting any prior row with the
// same id.
func (s *StateStore) Upsert(ctx context.Context, job *model.Job) error {
	steps, err := json.Marshal(job.StepsRequested)
	if err != nil {
		return err
	}
	deps, err := json.Marshal(job.Deps)
	if err != nil {
		return err
	}
	perStep, err := json.Marshal(job.PerStep)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO ingest_jobs (id, repo_path, steps_requested, deps, status, progress_percent, per_step, error, failed_step, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			progress_percent = EXCLUDED.progress_percent,
			per_step = EXCLUDED.per_step,
			error = EXCLUDED.error,
			failed_step = EXCLUDED.failed_step,
			updated_at = now()`,
		job.ID, job.RepoPath, steps, deps, string(job.Status), job.ProgressPercent, perStep,
		nullIfEmpty(job.Error), nullIfEmpty(job.FailedStep), job.StartedAt)
	return err
}

// Get loads one job record by id.
func (s *StateStore) Get(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, repo_path, steps_requested, deps, status, progress_percent, per_step, error, failed_step, started_at
		FROM ingest_jobs WHERE id = $1`, jobID)
	return scanJob(row)
}

// PruneOlderThan deletes terminal job rows whose started_at precedes
// cutoff, implementing spec §6.5's retention window.
func (s *StateStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM ingest_jobs
		WHERE started_at < $1
		AND status IN ('COMPLETED', 'FAILED', 'STOPPED', 'CANCELLED')`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*model.Job, error) {
	var (
		job       model.Job
		steps     []byte
		deps      []byte
		perStep   []byte
		errText   *string
		failedTxt *string
	)
	if err := row.Scan(&job.ID, &job.RepoPath, &steps, &deps, &job.Status, &job.ProgressPercent, &perStep, &errText, &failedTxt, &job.StartedAt); err != nil {
		return nil, fmt.Errorf("scan job row: %w", err)
	}
	if err := json.Unmarshal(steps, &job.StepsRequested); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(deps, &job.Deps); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(perStep, &job.PerStep); err != nil {
		return nil, err
	}
	if errText != nil {
		job.Error = *errText
	}
	if failedTxt != nil {
		job.FailedStep = *failedTxt
	}
	return &job, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
