package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/airbyte-oss/scheduler-core/internal/models"
)

// PostgresStore is the Postgres-backed JobPersistence implementation.
type PostgresStore struct {
	db            *sqlx.DB
	workspaceRoot string
}

// Open connects to Postgres via pgx's database/sql driver and wraps it with
// sqlx, following the jordigilh-kubernaut pgx+sqlx pairing.
func Open(ctx context.Context, dsn, workspaceRoot string) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: ping: %w", err)
	}
	return &PostgresStore{db: db, workspaceRoot: workspaceRoot}, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for migration tooling.
func (s *PostgresStore) DB() *sql.DB {
	return s.db.DB
}

func (s *PostgresStore) EnqueueJob(ctx context.Context, scope string, cfg models.JobConfig) (int64, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	var existing int64
	err = tx.GetContext(ctx, &existing, `
		SELECT id FROM jobs
		WHERE scope = $1 AND config_type = $2 AND status NOT IN ('FAILED','SUCCEEDED','CANCELLED')
		LIMIT 1`, scope, cfg.ConfigType)
	switch {
	case err == nil:
		return 0, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return 0, false, err
	}

	now := time.Now().UTC()
	var jobID int64
	err = tx.GetContext(ctx, &jobID, `
		INSERT INTO jobs (scope, config_type, config_json, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`, scope, cfg.ConfigType, cfg.Payload, models.JobPending, now)
	if err != nil {
		return 0, false, err
	}
	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return jobID, true, nil
}

func (s *PostgresStore) CreateAttempt(ctx context.Context, jobID int64) (int, string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, "", err
	}
	defer tx.Rollback()

	var status models.JobStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, "", ErrNotFound
		}
		return 0, "", err
	}
	if status != models.JobPending && status != models.JobIncomplete {
		return 0, "", fmt.Errorf("%w: job %d is %s", ErrInvalidTransition, jobID, status)
	}

	var nextAttempt int
	if err := tx.GetContext(ctx, &nextAttempt, `SELECT COALESCE(MAX(attempt_number)+1, 0) FROM attempts WHERE job_id = $1`, jobID); err != nil {
		return 0, "", err
	}

	now := time.Now().UTC()
	workspacePath := filepath.Join(s.workspaceRoot, fmt.Sprintf("%d", jobID), fmt.Sprintf("%d", nextAttempt))

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (job_id, attempt_number, status, log_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`, jobID, nextAttempt, models.AttemptRunning, workspacePath, now); err != nil {
		return 0, "", err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`, models.JobRunning, now, jobID); err != nil {
		return 0, "", err
	}
	if err := tx.Commit(); err != nil {
		return 0, "", err
	}
	return nextAttempt, workspacePath, nil
}

func (s *PostgresStore) FailAttempt(ctx context.Context, jobID int64, attemptNumber int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts SET status = $1, updated_at = $2, ended_at = $2
		WHERE job_id = $3 AND attempt_number = $4 AND status = $5`,
		models.AttemptFailed, now, jobID, attemptNumber, models.AttemptRunning); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('FAILED','SUCCEEDED','CANCELLED')`,
		models.JobIncomplete, now, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) SucceedAttempt(ctx context.Context, jobID int64, attemptNumber int, output []byte) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts SET status = $1, output_json = $2, updated_at = $3, ended_at = $3
		WHERE job_id = $4 AND attempt_number = $5 AND status = $6`,
		models.AttemptSucceeded, output, now, jobID, attemptNumber, models.AttemptRunning); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('FAILED','SUCCEEDED','CANCELLED')`,
		models.JobSucceeded, now, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CancelJob(ctx context.Context, jobID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE attempts SET status = $1, updated_at = $2, ended_at = $2
		WHERE job_id = $3 AND status = $4`,
		models.AttemptFailed, now, jobID, models.AttemptRunning); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('FAILED','SUCCEEDED','CANCELLED')`,
		models.JobCancelled, now, jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ('FAILED','SUCCEEDED','CANCELLED')`,
		models.JobFailed, now, jobID)
	return err
}

func (s *PostgresStore) SetJobPending(ctx context.Context, jobID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		models.JobPending, now, jobID, models.JobIncomplete)
	return err
}

func (s *PostgresStore) ListJobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, scope, config_type, config_json, status, created_at, updated_at
		FROM jobs WHERE status = $1 ORDER BY created_at ASC`, status); err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rows)
}

func (s *PostgresStore) ListJobs(ctx context.Context, configType models.ConfigType, scope string, pageSize int) ([]models.Job, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, scope, config_type, config_json, status, created_at, updated_at
		FROM jobs WHERE config_type = $1 AND scope = $2
		ORDER BY created_at DESC LIMIT $3`, configType, scope, pageSize); err != nil {
		return nil, err
	}
	return s.hydrate(ctx, rows)
}

func (s *PostgresStore) GetNextJob(ctx context.Context) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row jobRow
	err = tx.GetContext(ctx, &row, `
		SELECT j.id, j.scope, j.config_type, j.config_json, j.status, j.created_at, j.updated_at
		FROM jobs j
		WHERE j.status = 'PENDING'
		  AND NOT EXISTS (SELECT 1 FROM jobs r WHERE r.scope = j.scope AND r.status = 'RUNNING')
		ORDER BY j.created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	jobs, err := s.hydrate(ctx, []jobRow{row})
	if err != nil {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *PostgresStore) GetLastReplicationJob(ctx context.Context, scope string) (*models.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, scope, config_type, config_json, status, created_at, updated_at
		FROM jobs
		WHERE scope = $1 AND config_type = $2 AND status IN ('SUCCEEDED','FAILED','CANCELLED')
		ORDER BY updated_at DESC LIMIT 1`, scope, models.ConfigTypeSync)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	jobs, err := s.hydrate(ctx, []jobRow{row})
	if err != nil {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *PostgresStore) GetVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT value FROM airbyte_metadata WHERE key = 'version'`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (s *PostgresStore) SetVersion(ctx context.Context, version string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO airbyte_metadata (key, value) VALUES ('version', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, version)
	return err
}

type jobRow struct {
	ID         int64             `db:"id"`
	Scope      string            `db:"scope"`
	ConfigType models.ConfigType `db:"config_type"`
	ConfigJSON []byte            `db:"config_json"`
	Status     models.JobStatus  `db:"status"`
	CreatedAt  time.Time         `db:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at"`
}

type attemptRow struct {
	JobID         int64                `db:"job_id"`
	AttemptNumber int                  `db:"attempt_number"`
	Status        models.AttemptStatus `db:"status"`
	LogPath       string               `db:"log_path"`
	OutputJSON    []byte               `db:"output_json"`
	CreatedAt     time.Time            `db:"created_at"`
	UpdatedAt     time.Time            `db:"updated_at"`
	EndedAt       sql.NullTime         `db:"ended_at"`
}

// hydrate fills in each job's Attempts slice with one query per batch.
func (s *PostgresStore) hydrate(ctx context.Context, rows []jobRow) ([]models.Job, error) {
	jobs := make([]models.Job, len(rows))
	for i, r := range rows {
		jobs[i] = models.Job{
			ID:         r.ID,
			Scope:      r.Scope,
			ConfigType: r.ConfigType,
			ConfigJSON: r.ConfigJSON,
			Status:     r.Status,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		}
		var arows []attemptRow
		if err := s.db.SelectContext(ctx, &arows, `
			SELECT job_id, attempt_number, status, log_path, output_json, created_at, updated_at, ended_at
			FROM attempts WHERE job_id = $1 ORDER BY attempt_number ASC`, r.ID); err != nil {
			return nil, err
		}
		for _, a := range arows {
			attempt := models.Attempt{
				JobID:         a.JobID,
				AttemptNumber: a.AttemptNumber,
				Status:        a.Status,
				WorkspacePath: a.LogPath,
				OutputJSON:    a.OutputJSON,
				CreatedAt:     a.CreatedAt,
				UpdatedAt:     a.UpdatedAt,
			}
			if a.EndedAt.Valid {
				t := a.EndedAt.Time
				attempt.EndedAt = &t
			}
			jobs[i].Attempts = append(jobs[i].Attempts, attempt)
		}
	}
	return jobs, nil
}

var _ JobPersistence = (*PostgresStore)(nil)
