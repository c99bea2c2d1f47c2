package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultTopDomains = 5

// RecordService backs the admin API.
type RecordService struct {
	records repository.RecordRepository
	retries *RetryQueue
	logger  *zap.Logger
}

func NewRecordService(records repository.RecordRepository, retries *RetryQueue, logger *zap.Logger) (*RecordService, error) {
	if records == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecordService{records: records, retries: retries, logger: logger}, nil
}

func (s *RecordService) Get(ctx context.Context, id string) (*domain.BounceRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return s.records.GetByID(ctx, id)
}

func (s *RecordService) List(ctx context.Context, filter repository.RecordFilter) ([]domain.BounceRecord, int64, error) {
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, 0, fmt.Errorf("%w: from must not be after to", domain.ErrValidation)
	}
	return s.records.List(ctx, filter)
}

func (s *RecordService) TopDomains(ctx context.Context, since *time.Time, limit int) ([]repository.DomainCount, error) {
	if limit <= 0 {
		limit = defaultTopDomains
	}
	return s.records.CountByDomain(ctx, since, limit)
}

func (s *RecordService) StatusCounts(ctx context.Context, since *time.Time) ([]repository.StatusCount, error) {
	return s.records.CountByStatus(ctx, since)
}

// Requeue creates a retry task for a stored bounce record and returns the updated record.
func (s *RecordService) Requeue(ctx context.Context, id string) (*domain.BounceRecord, *domain.RetryTask, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	task, err := s.retries.Requeue(ctx, rec)
	if err != nil {
		return nil, nil, err
	}

	rec.Status = domain.StatusRetryQueued
	return rec, task, nil
}
