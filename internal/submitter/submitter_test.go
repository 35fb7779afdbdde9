package submitter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
	"github.com/airbyte-oss/scheduler-core/internal/workflow"
)

// fakeStore is a minimal in-memory persistence.JobPersistence for exercising
// the submitter's dispatch loop without a database.
type fakeStore struct {
	mu        sync.Mutex
	jobs      []*models.Job
	attempts  map[int64]int
	failed    map[string]bool
	succeeded map[string]bool
}

func newFakeStore(jobs ...*models.Job) *fakeStore {
	return &fakeStore{jobs: jobs, attempts: map[int64]int{}, failed: map[string]bool{}, succeeded: map[string]bool{}}
}

func attemptKey(jobID int64, attemptNumber int) string {
	return fmt.Sprintf("%d/%d", jobID, attemptNumber)
}

func (s *fakeStore) GetNextJob(ctx context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.jobs) == 0 {
		return nil, persistence.ErrNotFound
	}
	j := s.jobs[0]
	s.jobs = s.jobs[1:]
	return j, nil
}

func (s *fakeStore) CreateAttempt(ctx context.Context, jobID int64) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.attempts[jobID]
	s.attempts[jobID] = n + 1
	return n, "/tmp/workspace", nil
}

func (s *fakeStore) FailAttempt(ctx context.Context, jobID int64, attemptNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[attemptKey(jobID, attemptNumber)] = true
	return nil
}

func (s *fakeStore) SucceedAttempt(ctx context.Context, jobID int64, attemptNumber int, output []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded[attemptKey(jobID, attemptNumber)] = true
	return nil
}

func (s *fakeStore) EnqueueJob(ctx context.Context, scope string, cfg models.JobConfig) (int64, bool, error) {
	return 0, false, nil
}
func (s *fakeStore) CancelJob(ctx context.Context, jobID int64) error     { return nil }
func (s *fakeStore) FailJob(ctx context.Context, jobID int64) error      { return nil }
func (s *fakeStore) SetJobPending(ctx context.Context, jobID int64) error { return nil }
func (s *fakeStore) ListJobsWithStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	return nil, nil
}
func (s *fakeStore) ListJobs(ctx context.Context, configType models.ConfigType, scope string, pageSize int) ([]models.Job, error) {
	return nil, nil
}
func (s *fakeStore) GetLastReplicationJob(ctx context.Context, scope string) (*models.Job, error) {
	return nil, persistence.ErrNotFound
}
func (s *fakeStore) GetVersion(ctx context.Context) (string, error)       { return "", persistence.ErrNotFound }
func (s *fakeStore) SetVersion(ctx context.Context, version string) error { return nil }

var _ persistence.JobPersistence = (*fakeStore)(nil)

type noopTracker struct{}

func (noopTracker) TrackAttemptStarted(string, int64, int)                       {}
func (noopTracker) TrackAttemptFinished(string, int64, int, bool, time.Duration) {}

func (s *fakeStore) snapshot() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.succeeded), len(s.failed)
}

func TestTickDispatchesAPendingJobAndRecordsSuccess(t *testing.T) {
	store := newFakeStore(&models.Job{ID: 1, Scope: "conn-1", ConfigType: models.ConfigTypeSync})
	client := workflow.NewFakeClient(func(identity string, input workflow.Input) workflow.Result {
		return workflow.Result{Succeeded: true, Output: []byte("done")}
	})

	sub, err := New(store, client, noopTracker{}, logr.Discard(), 2, time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sub.Close(time.Second)

	sub.Tick(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if succeeded, _ := store.snapshot(); succeeded > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	succeeded, failed := store.snapshot()
	if succeeded != 1 {
		t.Fatalf("expected exactly one succeeded attempt, got %d", succeeded)
	}
	if failed != 0 {
		t.Fatalf("expected no failed attempts, got %d", failed)
	}
}

func TestTickRecordsFailureWhenWorkflowFails(t *testing.T) {
	store := newFakeStore(&models.Job{ID: 1, Scope: "conn-1", ConfigType: models.ConfigTypeSync})
	client := workflow.NewFakeClient(func(identity string, input workflow.Input) workflow.Result {
		return workflow.Result{Succeeded: false, Err: fmt.Errorf("boom")}
	})

	sub, err := New(store, client, noopTracker{}, logr.Discard(), 2, time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sub.Close(time.Second)

	sub.Tick(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, failed := store.snapshot(); failed > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	succeeded, failed := store.snapshot()
	if failed != 1 {
		t.Fatalf("expected exactly one failed attempt, got %d", failed)
	}
	if succeeded != 0 {
		t.Fatalf("expected no succeeded attempts, got %d", succeeded)
	}
}

func TestTickIsNoopWhenNoJobsPending(t *testing.T) {
	store := newFakeStore()
	client := workflow.NewFakeClient(func(identity string, input workflow.Input) workflow.Result {
		t.Fatalf("OnSubmit should not be called when there are no pending jobs")
		return workflow.Result{}
	})

	sub, err := New(store, client, noopTracker{}, logr.Discard(), 2, time.Second, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sub.Close(time.Second)

	sub.Tick(context.Background())
}
