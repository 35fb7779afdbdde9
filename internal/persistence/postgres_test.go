package persistence

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/airbyte-oss/scheduler-core/internal/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &PostgresStore{db: sqlx.NewDb(db, "pgx"), workspaceRoot: "/workspace"}, mock
}

func TestEnqueueJobSuppressesDuplicate(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectRollback()

	jobID, created, err := store.EnqueueJob(context.Background(), "conn-1", models.JobConfig{ConfigType: models.ConfigTypeSync})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if created {
		t.Fatalf("expected created=false when a non-terminal job already exists")
	}
	if jobID != 0 {
		t.Fatalf("expected jobID=0, got %d", jobID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnqueueJobCreatesWhenNoneExists(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM jobs`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
	mock.ExpectCommit()

	jobID, created, err := store.EnqueueJob(context.Background(), "conn-1", models.JobConfig{ConfigType: models.ConfigTypeSync})
	if err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if !created || jobID != 42 {
		t.Fatalf("expected created=true jobID=42, got created=%v jobID=%d", created, jobID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateAttemptRejectsTerminalJob(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM jobs WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(models.JobSucceeded)))
	mock.ExpectRollback()

	_, _, err := store.CreateAttempt(context.Background(), 1)
	if err == nil {
		t.Fatalf("expected ErrInvalidTransition, got nil")
	}
}

func TestGetNextJobReturnsNotFoundWhenEmpty(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT j.id, j.scope`).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := store.GetNextJob(context.Background())
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

