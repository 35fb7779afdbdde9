package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
)

type fakeStore struct {
	pending []int64
	failed  []int64
}

func (s *fakeStore) SetJobPending(ctx context.Context, jobID int64) error {
	s.pending = append(s.pending, jobID)
	return nil
}
func (s *fakeStore) FailJob(ctx context.Context, jobID int64) error {
	s.failed = append(s.failed, jobID)
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
func (s *fakeStore) CancelJob(ctx context.Context, jobID int64) error { return nil }
func (s *fakeStore) ListJobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	return nil, nil
}
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

func TestEvaluateFailsJobWhenRetryBudgetExhausted(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Policy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: time.Minute}, logr.Discard(), nil, nil)

	j := models.Job{ID: 7, Attempts: []models.Attempt{
		{Status: models.AttemptFailed}, {Status: models.AttemptFailed},
	}}
	if err := r.evaluate(context.Background(), j); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.failed) != 1 || store.failed[0] != 7 {
		t.Fatalf("expected job 7 to be failed, got failed=%v pending=%v", store.failed, store.pending)
	}
}

func TestEvaluateWaitsOutBackoffWindow(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour}, logr.Discard(), nil, nil)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }

	ended := fixedNow.Add(-30 * time.Second)
	j := models.Job{ID: 7, Attempts: []models.Attempt{{Status: models.AttemptFailed, EndedAt: &ended}}}
	if err := r.evaluate(context.Background(), j); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.pending) != 0 || len(store.failed) != 0 {
		t.Fatalf("expected job to remain INCOMPLETE during backoff, got pending=%v failed=%v", store.pending, store.failed)
	}
}

func TestEvaluateRequeuesAfterBackoffElapses(t *testing.T) {
	store := &fakeStore{}
	r := New(store, Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour}, logr.Discard(), nil, nil)
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixedNow }

	ended := fixedNow.Add(-2 * time.Minute)
	j := models.Job{ID: 7, Attempts: []models.Attempt{{Status: models.AttemptFailed, EndedAt: &ended}}}
	if err := r.evaluate(context.Background(), j); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.pending) != 1 || store.pending[0] != 7 {
		t.Fatalf("expected job 7 to be moved back to pending, got pending=%v failed=%v", store.pending, store.failed)
	}
}
