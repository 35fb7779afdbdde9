// Package persistence implements the job/attempt/connection state machine
// described in spec.md §3-§4.1 on top of Postgres.
package persistence

import (
	"context"
	"errors"

	"github.com/airbyte-oss/scheduler-core/internal/models"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("persistence: not found")

// ErrInvalidTransition is returned when an operation would violate the job
// or attempt state machine (e.g. creating an attempt on a terminal job).
var ErrInvalidTransition = errors.New("persistence: invalid state transition")

// JobPersistence is the transactional store of connections, jobs, and
// attempts. Every method is a single database transaction; see
// SPEC_FULL.md §4.1.
type JobPersistence interface {
	// EnqueueJob creates a PENDING job for scope unless a non-terminal job
	// of the same ConfigType already exists for that scope, in which case
	// created is false and jobID is the zero value.
	EnqueueJob(ctx context.Context, scope string, cfg models.JobConfig) (jobID int64, created bool, err error)

	// CreateAttempt creates the next attempt for jobID and transitions the
	// job to RUNNING. Fails with ErrInvalidTransition if the job is not
	// PENDING or INCOMPLETE.
	CreateAttempt(ctx context.Context, jobID int64) (attemptNumber int, workspacePath string, err error)

	// FailAttempt marks the attempt FAILED and a non-terminal job INCOMPLETE.
	// The retrier later decides whether the job is retried or terminally FAILED.
	FailAttempt(ctx context.Context, jobID int64, attemptNumber int) error

	// SucceedAttempt marks the attempt SUCCEEDED and the job SUCCEEDED.
	SucceedAttempt(ctx context.Context, jobID int64, attemptNumber int, output []byte) error

	// CancelJob marks the job CANCELLED and any RUNNING attempt FAILED.
	// No-op if the job is already terminal.
	CancelJob(ctx context.Context, jobID int64) error

	// FailJob marks the job terminally FAILED. No-op if already terminal.
	FailJob(ctx context.Context, jobID int64) error

	// SetJobPending moves an INCOMPLETE job back to PENDING once the
	// retrier's backoff window has elapsed. No-op if the job is not
	// currently INCOMPLETE.
	SetJobPending(ctx context.Context, jobID int64) error

	// ListJobsWithStatus returns jobs in the given status, oldest first.
	ListJobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)

	// ListJobs returns a page of jobs matching configType and scope.
	ListJobs(ctx context.Context, configType models.ConfigType, scope string, pageSize int) ([]models.Job, error)

	// GetNextJob returns the oldest PENDING job whose scope has no RUNNING
	// job. The row is locked (SKIP LOCKED) only while it is read; a second
	// claimant of the same job is rejected by CreateAttempt's status check.
	GetNextJob(ctx context.Context) (*models.Job, error)

	// GetLastReplicationJob returns the most recent terminal SYNC job for
	// scope, or ErrNotFound if none exists.
	GetLastReplicationJob(ctx context.Context, scope string) (*models.Job, error)

	// GetVersion returns the persisted application/schema version.
	GetVersion(ctx context.Context) (string, error)

	// SetVersion persists the application/schema version.
	SetVersion(ctx context.Context, version string) error
}
