package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/airbyte-oss/scheduler-core/internal/models"
	"github.com/airbyte-oss/scheduler-core/internal/persistence"
)

type fakeConnections struct {
	conns []models.Connection
}

func (f fakeConnections) ListActiveConnections(ctx context.Context) ([]models.Connection, error) {
	return f.conns, nil
}

type fakeStore struct {
	lastJob   *models.Job
	lastErr   error
	enqueued  []string
}

func (s *fakeStore) GetLastReplicationJob(ctx context.Context, scope string) (*models.Job, error) {
	if s.lastErr != nil {
		return nil, s.lastErr
	}
	return s.lastJob, nil
}

func (s *fakeStore) EnqueueJob(ctx context.Context, scope string, cfg models.JobConfig) (int64, bool, error) {
	s.enqueued = append(s.enqueued, scope)
	return 1, true, nil
}

func (s *fakeStore) CreateAttempt(ctx context.Context, jobID int64) (int, string, error) { return 0, "", nil }
func (s *fakeStore) FailAttempt(ctx context.Context, jobID int64, attemptNumber int) error { return nil }
func (s *fakeStore) SucceedAttempt(ctx context.Context, jobID int64, attemptNumber int, output []byte) error {
	return nil
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
func (s *fakeStore) GetNextJob(ctx context.Context) (*models.Job, error) { return nil, persistence.ErrNotFound }
func (s *fakeStore) GetVersion(ctx context.Context) (string, error)       { return "", persistence.ErrNotFound }
func (s *fakeStore) SetVersion(ctx context.Context, version string) error { return nil }

var _ persistence.JobPersistence = (*fakeStore)(nil)

func TestEvaluateSkipsManualSchedules(t *testing.T) {
	store := &fakeStore{lastErr: persistence.ErrNotFound}
	s := New(fakeConnections{}, store, logr.Discard())

	conn := models.Connection{ConnectionID: "conn-1", Schedule: models.Schedule{Kind: models.ScheduleManual}}
	if err := s.evaluate(context.Background(), conn); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.enqueued) != 0 {
		t.Fatalf("expected manual schedule to never enqueue, got %d", len(store.enqueued))
	}
}

func TestEvaluateEnqueuesWhenPeriodicDue(t *testing.T) {
	store := &fakeStore{lastErr: persistence.ErrNotFound}
	s := New(fakeConnections{}, store, logr.Discard())

	conn := models.Connection{
		ConnectionID: "conn-1",
		Schedule:     models.Schedule{Kind: models.SchedulePeriodic, Units: 1, Unit: models.TimeUnitHours},
	}
	if err := s.evaluate(context.Background(), conn); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("expected one enqueue for a connection with no prior sync, got %d", len(store.enqueued))
	}
}

func TestEvaluateSkipsWhenPeriodicNotYetDue(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ended := fixedNow.Add(-10 * time.Minute)
	store := &fakeStore{lastJob: &models.Job{
		ID: 1, Status: models.JobSucceeded,
		Attempts: []models.Attempt{{Status: models.AttemptSucceeded, EndedAt: &ended}},
	}}
	s := New(fakeConnections{}, store, logr.Discard())
	s.now = func() time.Time { return fixedNow }

	conn := models.Connection{
		ConnectionID: "conn-1",
		Schedule:     models.Schedule{Kind: models.SchedulePeriodic, Units: 1, Unit: models.TimeUnitHours},
	}
	if err := s.evaluate(context.Background(), conn); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.enqueued) != 0 {
		t.Fatalf("expected no enqueue before the periodic interval elapses, got %d", len(store.enqueued))
	}
}

func TestEvaluateEnqueuesOnDueCronExpression(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 0, 5, 0, 0, time.UTC)
	ended := fixedNow.Add(-2 * time.Hour)
	store := &fakeStore{lastJob: &models.Job{
		ID: 1, Status: models.JobSucceeded,
		Attempts: []models.Attempt{{Status: models.AttemptSucceeded, EndedAt: &ended}},
	}}
	s := New(fakeConnections{}, store, logr.Discard())
	s.now = func() time.Time { return fixedNow }

	conn := models.Connection{
		ConnectionID: "conn-1",
		Schedule:     models.Schedule{Kind: models.ScheduleCron, Expr: "0 * * * *"},
	}
	if err := s.evaluate(context.Background(), conn); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("expected the hourly cron expression to be due, got %d enqueues", len(store.enqueued))
	}
}

func TestTickAggregatesPerConnectionErrors(t *testing.T) {
	store := &fakeStore{lastErr: persistence.ErrNotFound}
	conns := fakeConnections{conns: []models.Connection{
		{ConnectionID: "conn-1", Schedule: models.Schedule{Kind: models.ScheduleCron, Expr: "not a cron expression"}},
	}}
	s := New(conns, store, logr.Discard())

	if err := s.Tick(context.Background()); err == nil {
		t.Fatalf("expected Tick to surface the invalid cron expression as an error")
	}
}
