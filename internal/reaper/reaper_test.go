package reaper

import (
	"context"
	"testing"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
)

type fakeStore struct {
	running    []models.Job
	cancelled  []int64
}

func (s *fakeStore) ListJobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	if status != models.JobRunning {
		return nil, nil
	}
	return s.running, nil
}

func (s *fakeStore) CancelJob(ctx context.Context, jobID int64) error {
	s.cancelled = append(s.cancelled, jobID)
	return nil
}

func (s *fakeStore) EnqueueJob(ctx context.Context, scope string, cfg models.JobConfig) (int64, bool, error) {
	return 0, false, nil
}
func (s *fakeStore) CreateAttempt(ctx context.Context, jobID int64) (int, string, error) { return 0, "", nil }
func (s *fakeStore) FailAttempt(ctx context.Context, jobID int64, attemptNumber int) error { return nil }
func (s *fakeStore) SucceedAttempt(ctx context.Context, jobID int64, attemptNumber int, output []byte) error {
	return nil
}
func (s *fakeStore) FailJob(ctx context.Context, jobID int64) error       { return nil }
func (s *fakeStore) SetJobPending(ctx context.Context, jobID int64) error { return nil }
func (s *fakeStore) ListJobs(ctx context.Context, configType models.ConfigType, scope string, pageSize int) ([]models.Job, error) {
	return nil, nil
}
func (s *fakeStore) GetNextJob(ctx context.Context) (*models.Job, error) { return nil, persistence.ErrNotFound }
func (s *fakeStore) GetLastReplicationJob(ctx context.Context, scope string) (*models.Job, error) {
	return nil, persistence.ErrNotFound
}
func (s *fakeStore) GetVersion(ctx context.Context) (string, error)       { return "", persistence.ErrNotFound }
func (s *fakeStore) SetVersion(ctx context.Context, version string) error { return nil }

var _ persistence.JobPersistence = (*fakeStore)(nil)

func TestRunCancelsEveryRunningJob(t *testing.T) {
	store := &fakeStore{running: []models.Job{{ID: 1, Scope: "conn-1"}, {ID: 2, Scope: "conn-2"}}}
	r := New(store, logr.Discard(), nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.cancelled) != 2 {
		t.Fatalf("expected both running jobs to be cancelled, got %v", store.cancelled)
	}
}

func TestRunIsNoopWhenNothingRunning(t *testing.T) {
	store := &fakeStore{}
	r := New(store, logr.Discard(), nil)

	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.cancelled) != 0 {
		t.Fatalf("expected no cancellations, got %v", store.cancelled)
	}
}
