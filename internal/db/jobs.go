package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const jobColumns = `
	id, connection_id, yacht_id, job_status, total_files_found,
	files_succeeded, files_failed, started_at, completed_at, created_at`

func scanJob(row pgx.Row) (*SyncJob, error) {
	job := &SyncJob{}
	err := row.Scan(
		&job.ID, &job.ConnectionID, &job.YachtID, &job.Status,
		&job.TotalFiles, &job.FilesSucceeded, &job.FilesFailed,
		&job.StartedAt, &job.CompletedAt, &job.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CreateSyncJob inserts a new pending job for a connection.
func (db *DB) CreateSyncJob(ctx context.Context, connectionID uuid.UUID, yachtID string) (*SyncJob, error) {
	row := db.Pool.QueryRow(ctx, `
		INSERT INTO onedrive_sync_jobs (connection_id, yacht_id, job_status)
		VALUES ($1, $2, 'pending')
		RETURNING `+jobColumns,
		connectionID, yachtID,
	)
	return scanJob(row)
}

// GetSyncJob retrieves a job by ID. Returns nil if not found.
func (db *DB) GetSyncJob(ctx context.Context, id uuid.UUID) (*SyncJob, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM onedrive_sync_jobs WHERE id = $1`, id)
	return scanJob(row)
}

// MarkJobRunning transitions a pending job to running and stamps the start.
func (db *DB) MarkJobRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_jobs
		SET job_status = 'running', started_at = $2
		WHERE id = $1`, id, startedAt)
	return err
}

// SetJobTotal records the number of files discovered by enumeration.
func (db *DB) SetJobTotal(ctx context.Context, id uuid.UUID, total int) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE onedrive_sync_jobs SET total_files_found = $2 WHERE id = $1`,
		id, total)
	return err
}

// UpdateJobProgress persists the running success/failure counters. Called
// after every file so progress survives a crash.
func (db *DB) UpdateJobProgress(ctx context.Context, id uuid.UUID, succeeded, failed int) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_jobs
		SET files_succeeded = $2, files_failed = $3
		WHERE id = $1`, id, succeeded, failed)
	return err
}

// CompleteJob moves a job to its terminal status and stamps completion.
func (db *DB) CompleteJob(ctx context.Context, id uuid.UUID, status string, completedAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE onedrive_sync_jobs
		SET job_status = $2, completed_at = $3
		WHERE id = $1`, id, status, completedAt)
	return err
}

// ListSyncJobs returns the most recent jobs for a connection.
func (db *DB) ListSyncJobs(ctx context.Context, connectionID uuid.UUID, limit int) ([]*SyncJob, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM onedrive_sync_jobs
		WHERE connection_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, connectionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*SyncJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
