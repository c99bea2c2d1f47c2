package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}
	return db, mock
}

const (
	selectTaskForUpdate   = `SELECT \* FROM "retry_tasks" WHERE id = \$1 .*FOR UPDATE`
	selectRecordForUpdate = `SELECT \* FROM "bounce_records" WHERE id = \$1 .*FOR UPDATE`
	deleteTask            = `DELETE FROM "retry_tasks" WHERE id = \$1`
	updateRecordStatusSQL = `UPDATE "bounce_records" SET "status"=\$1,"updated_at"=\$2 WHERE id = \$3`
	countTasksForRecord   = `SELECT count\(\*\) FROM "retry_tasks" WHERE bounce_record_id = \$1`
)

func TestGormRetryRepoCompleteIsAtomic(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectTaskForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bounce_record_id"}).AddRow("task-1", "rec-1"))
	mock.ExpectExec(deleteTask).
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateRecordStatusSQL).
		WithArgs("PROCESSED", sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Complete(context.Background(), "task-1", domain.StatusProcessed); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRetryRepoCompleteRollsBackOnStatusFailure(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)
	statusErr := errors.New("connection reset")

	mock.ExpectBegin()
	mock.ExpectQuery(selectTaskForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bounce_record_id"}).AddRow("task-1", "rec-1"))
	mock.ExpectExec(deleteTask).
		WithArgs("task-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateRecordStatusSQL).
		WillReturnError(statusErr)
	mock.ExpectRollback()

	err := repo.Complete(context.Background(), "task-1", domain.StatusProblem)
	if !errors.Is(err, statusErr) {
		t.Fatalf("Complete() error = %v, want %v", err, statusErr)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRetryRepoCompleteMissingRecordRollsBack(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectTaskForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bounce_record_id"}).AddRow("task-1", "rec-1"))
	mock.ExpectExec(deleteTask).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateRecordStatusSQL).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Complete(context.Background(), "task-1", domain.StatusProcessed)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Complete() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRetryRepoCompleteUnknownTask(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectTaskForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id", "bounce_record_id"}))
	mock.ExpectRollback()

	err := repo.Complete(context.Background(), "gone", domain.StatusProcessed)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Complete() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRetryRepoEnqueueConflict(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectRecordForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}).AddRow("rec-1", "NOTIFY_FAILED"))
	mock.ExpectQuery(countTasksForRecord).
		WithArgs("rec-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := repo.Enqueue(context.Background(), &domain.RetryTask{
		ID:             "task-2",
		BounceRecordID: "rec-1",
		MaxAttempts:    3,
		To:             []string{"ops@ours.com"},
	})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Enqueue() error = %v, want ErrConflict", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRetryRepoEnqueueUnknownRecord(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRetryRepo(db)

	mock.ExpectBegin()
	mock.ExpectQuery(selectRecordForUpdate).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := repo.Enqueue(context.Background(), &domain.RetryTask{ID: "task-2", BounceRecordID: "missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Enqueue() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGormRecordRepoUpdateStatus(t *testing.T) {
	t.Parallel()

	db, mock := newMockDB(t)
	repo := NewGormRecordRepo(db)

	mock.ExpectExec(updateRecordStatusSQL).
		WithArgs("PROBLEM", sqlmock.AnyArg(), "rec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateRecordStatusSQL).
		WithArgs("PROBLEM", sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateStatus(context.Background(), "rec-1", domain.StatusProblem); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if err := repo.UpdateStatus(context.Background(), "missing", domain.StatusProblem); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("UpdateStatus() error = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
