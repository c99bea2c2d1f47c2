package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type RecordFilter struct {
	Status   *domain.Status
	Domain   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type DomainCount struct {
	Domain string `gorm:"column:domain" json:"domain"`
	Count  int64  `gorm:"column:count" json:"count"`
}

type StatusCount struct {
	Status domain.Status `gorm:"column:status" json:"status"`
	Count  int64         `gorm:"column:count" json:"count"`
}

type RecordRepository interface {
	Create(ctx context.Context, r *domain.BounceRecord) error
	GetByID(ctx context.Context, id string) (*domain.BounceRecord, error)
	// UpdateStatus sets a status outside any retry transaction. Retry outcomes go through
	// RetryRepository, which updates the record together with its task.
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	List(ctx context.Context, filter RecordFilter) ([]domain.BounceRecord, int64, error)
	CountByDomain(ctx context.Context, since *time.Time, limit int) ([]DomainCount, error)
	CountByStatus(ctx context.Context, since *time.Time) ([]StatusCount, error)
}

type GormRecordRepo struct {
	db *gorm.DB
}

func NewGormRecordRepo(db *gorm.DB) *GormRecordRepo {
	return &GormRecordRepo{db: db}
}

func (r *GormRecordRepo) Create(ctx context.Context, rec *domain.BounceRecord) error {
	return createRecord(r.db.WithContext(ctx), rec)
}

func createRecord(tx *gorm.DB, rec *domain.BounceRecord) error {
	if rec == nil {
		return errors.New("record is required")
	}
	model := recordModelFromDomain(rec)
	if err := tx.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrConflict
		}
		return err
	}
	*rec = *recordModelToDomain(model)
	return nil
}

func (r *GormRecordRepo) GetByID(ctx context.Context, id string) (*domain.BounceRecord, error) {
	var model BounceRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return recordModelToDomain(&model), nil
}

func (r *GormRecordRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	return updateRecordStatus(r.db.WithContext(ctx), id, status)
}

func updateRecordStatus(tx *gorm.DB, id string, status domain.Status) error {
	result := tx.Model(&BounceRecordModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormRecordRepo) List(ctx context.Context, filter RecordFilter) ([]domain.BounceRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&BounceRecordModel{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if d := strings.ToLower(strings.TrimSpace(filter.Domain)); d != "" {
		query = query.Where("domain = ?", d)
	}
	if filter.From != nil {
		query = query.Where("occurred_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("occurred_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(filter.Page, 1)
	pageSize := filter.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	var models []BounceRecordModel
	err := query.
		Order("occurred_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	records := make([]domain.BounceRecord, 0, len(models))
	for i := range models {
		records = append(records, *recordModelToDomain(&models[i]))
	}

	return records, total, nil
}

// CountByDomain returns the busiest domains first. A nil since counts every record.
func (r *GormRecordRepo) CountByDomain(ctx context.Context, since *time.Time, limit int) ([]DomainCount, error) {
	query := r.db.WithContext(ctx).
		Model(&BounceRecordModel{}).
		Select("domain, COUNT(*) as count")
	if since != nil {
		query = query.Where("occurred_at >= ?", *since)
	}
	query = query.Group("domain").Order("count DESC, domain ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var counts []DomainCount
	if err := query.Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *GormRecordRepo) CountByStatus(ctx context.Context, since *time.Time) ([]StatusCount, error) {
	query := r.db.WithContext(ctx).
		Model(&BounceRecordModel{}).
		Select("status, COUNT(*) as count")
	if since != nil {
		query = query.Where("occurred_at >= ?", *since)
	}

	var counts []StatusCount
	if err := query.Group("status").Order("status ASC").Scan(&counts).Error; err != nil {
		return nil, err
	}
	return counts, nil
}
