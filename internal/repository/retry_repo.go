package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RetryRepository interface {
	CreateWithRecord(ctx context.Context, rec *domain.BounceRecord, task *domain.RetryTask) error
	Enqueue(ctx context.Context, task *domain.RetryTask) error
	ListPending(ctx context.Context, limit int) ([]domain.RetryTask, error)
	RecordFailure(ctx context.Context, id string, lastErr string, at time.Time) error
	Complete(ctx context.Context, taskID string, recordStatus domain.Status) error
}

type GormRetryRepo struct {
	db *gorm.DB
}

func NewGormRetryRepo(db *gorm.DB) *GormRetryRepo {
	return &GormRetryRepo{db: db}
}

// CreateWithRecord stores a new record and its retry task atomically.
func (r *GormRetryRepo) CreateWithRecord(ctx context.Context, rec *domain.BounceRecord, task *domain.RetryTask) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createRecord(tx, rec); err != nil {
			return err
		}
		task.BounceRecordID = rec.ID
		return createTask(tx, task)
	})
}

// Enqueue attaches a task to an existing record and marks the record RETRY_QUEUED.
// A record that already has a task yields domain.ErrConflict.
func (r *GormRetryRepo) Enqueue(ctx context.Context, task *domain.RetryTask) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec BounceRecordModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&rec, "id = ?", task.BounceRecordID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&RetryTaskModel{}).
			Where("bounce_record_id = ?", task.BounceRecordID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return domain.ErrConflict
		}

		if err := createTask(tx, task); err != nil {
			return err
		}
		return updateRecordStatus(tx, task.BounceRecordID, domain.StatusRetryQueued)
	})
}

func createTask(tx *gorm.DB, task *domain.RetryTask) error {
	if task == nil {
		return errors.New("retry task is required")
	}
	model := taskModelFromDomain(task)
	if err := tx.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	*task = *taskModelToDomain(model)
	return nil
}

// ListPending returns tasks that still have attempts left, oldest first.
func (r *GormRetryRepo) ListPending(ctx context.Context, limit int) ([]domain.RetryTask, error) {
	query := r.db.WithContext(ctx).
		Where("attempts < max_attempts").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []RetryTaskModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	tasks := make([]domain.RetryTask, 0, len(models))
	for i := range models {
		tasks = append(tasks, *taskModelToDomain(&models[i]))
	}
	return tasks, nil
}

func (r *GormRetryRepo) RecordFailure(ctx context.Context, id string, lastErr string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&RetryTaskModel{}).
		Where("id = ? AND attempts < max_attempts", id).
		Updates(map[string]any{
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      lastErr,
			"last_attempt_at": at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete deletes the task and sets the owning record status in one transaction.
// The task row is locked first so a concurrent completion finds it gone and gets domain.ErrNotFound.
func (r *GormRetryRepo) Complete(ctx context.Context, taskID string, recordStatus domain.Status) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task RetryTaskModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&task, "id = ?", taskID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}

		if err := tx.Delete(&RetryTaskModel{}, "id = ?", taskID).Error; err != nil {
			return err
		}
		return updateRecordStatus(tx, task.BounceRecordID, recordStatus)
	})
}
