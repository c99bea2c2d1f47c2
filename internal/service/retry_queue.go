package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultRetryBatchLimit = 500

// RetryPassSummary counts the outcomes of one retry pass.
type RetryPassSummary struct {
	Scanned   int
	Succeeded int
	Retryable int
	Exhausted int
	Errors    int
}

// RetryQueue owns the retry task state machine.
// Each pass attempts every pending task exactly once; there is no backoff between passes.
type RetryQueue struct {
	retries  repository.RetryRepository
	notifier notifier.Notifier
	cfg      PassConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	limit    int
	now      func() time.Time
	newID    func() string
}

func NewRetryQueue(
	retries repository.RetryRepository,
	n notifier.Notifier,
	cfg PassConfig,
	logger *zap.Logger,
) (*RetryQueue, error) {
	if retries == nil {
		return nil, fmt.Errorf("retry repository is required")
	}
	if n == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryQueue{
		retries:  retries,
		notifier: n,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		limit:    defaultRetryBatchLimit,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

func (q *RetryQueue) SetMetrics(metrics *observability.Metrics) {
	q.metrics = metrics
}

// NewTask builds the retry task for rec. The notification text is fixed here and resent verbatim.
func (q *RetryQueue) NewTask(rec *domain.BounceRecord, notifyTo []string, subject string, source mailbox.RawMessage) *domain.RetryTask {
	notice := notifier.RetryNotice(notifyTo, nil, rec.Recipient, subject, rec.Classification.ReasonText)
	task := &domain.RetryTask{
		ID:             q.newID(),
		BounceRecordID: rec.ID,
		MaxAttempts:    q.cfg.MaxAttempts,
		To:             notice.To,
		Cc:             notice.Cc,
		Subject:        notice.Subject,
		Body:           notice.Body,
	}
	if source.Data != nil {
		task.SourceMessageID = source.MessageID()
		task.SourceFolder = q.cfg.ProcessedFolder
	}
	return task
}

// EnqueueNew stores a fresh record together with its retry task.
func (q *RetryQueue) EnqueueNew(ctx context.Context, rec *domain.BounceRecord, task *domain.RetryTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return q.retries.CreateWithRecord(ctx, rec, task)
}

// Requeue schedules another notification round for an already stored record.
func (q *RetryQueue) Requeue(ctx context.Context, rec *domain.BounceRecord) (*domain.RetryTask, error) {
	if !rec.Classification.IsBounce() {
		return nil, fmt.Errorf("%w: record %s is not a bounce", domain.ErrValidation, rec.ID)
	}

	notifyTo := q.cfg.NotifyRecipients(rec.CcList)
	if len(notifyTo) == 0 {
		return nil, fmt.Errorf("%w: no notification recipients configured", domain.ErrValidation)
	}

	task := q.NewTask(rec, notifyTo, "", mailbox.RawMessage{})
	if err := task.Validate(); err != nil {
		return nil, err
	}
	if err := q.retries.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	q.logger.Info("bounce record requeued",
		zap.String("recordId", rec.ID),
		zap.String("taskId", task.ID),
	)
	return task, nil
}

// ProcessPass attempts every pending task once. relocator may be nil, in which case exhausted
// tasks only change the record status.
func (q *RetryQueue) ProcessPass(ctx context.Context, relocator mailbox.Relocator) (RetryPassSummary, error) {
	var summary RetryPassSummary
	logger := observability.WithContextLogger(q.logger, ctx)
	start := q.now()
	defer func() { q.metrics.ObservePass("retry", q.now().Sub(start)) }()

	tasks, err := q.retries.ListPending(ctx, q.limit)
	if err != nil {
		return summary, fmt.Errorf("%w: list retry tasks: %w", domain.ErrPersistence, err)
	}

	for i := range tasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		task := &tasks[i]
		summary.Scanned++

		outcome, err := q.attempt(ctx, task, relocator, logger)
		if err != nil {
			summary.Errors++
			logger.Error("retry task update failed",
				zap.String("taskId", task.ID),
				zap.String("recordId", task.BounceRecordID),
				zap.Error(err),
			)
			continue
		}

		q.metrics.IncRetryOutcome(outcome.String())
		switch outcome {
		case domain.RetrySucceeded:
			summary.Succeeded++
		case domain.RetryRetryable:
			summary.Retryable++
		case domain.RetryExhausted:
			summary.Exhausted++
		}
	}

	logger.Info("retry pass finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("retryable", summary.Retryable),
		zap.Int("exhausted", summary.Exhausted),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

func (q *RetryQueue) attempt(ctx context.Context, task *domain.RetryTask, relocator mailbox.Relocator, logger *zap.Logger) (domain.RetryOutcome, error) {
	sendErr := q.notifier.Send(ctx, notifier.Message{
		To:      task.To,
		Cc:      task.Cc,
		Subject: task.Subject,
		Body:    task.Body,
	})
	outcome := task.NextOutcome(sendErr)

	switch outcome {
	case domain.RetrySucceeded:
		if err := q.retries.Complete(ctx, task.ID, domain.StatusProcessed); err != nil {
			return outcome, fmt.Errorf("complete task: %w", err)
		}
		logger.Info("retry notification delivered",
			zap.String("taskId", task.ID),
			zap.String("recordId", task.BounceRecordID),
			zap.Int("attempt", task.Attempts+1),
		)

	case domain.RetryRetryable:
		if err := q.retries.RecordFailure(ctx, task.ID, sendErr.Error(), q.now().UTC()); err != nil {
			return outcome, fmt.Errorf("record failure: %w", err)
		}
		logger.Warn("retry notification failed",
			zap.String("taskId", task.ID),
			zap.String("recordId", task.BounceRecordID),
			zap.Int("attempt", task.Attempts+1),
			zap.Int("maxAttempts", task.MaxAttempts),
			zap.Bool("transient", notifier.IsTransient(sendErr)),
			zap.Error(sendErr),
		)

	case domain.RetryExhausted:
		if err := q.retries.Complete(ctx, task.ID, domain.StatusProblem); err != nil {
			return outcome, fmt.Errorf("exhaust task: %w", err)
		}
		logger.Error("retry attempts exhausted",
			zap.String("taskId", task.ID),
			zap.String("recordId", task.BounceRecordID),
			zap.Int("attempts", task.Attempts+1),
			zap.Error(sendErr),
		)
		q.relocate(ctx, task, relocator, logger)
	}

	return outcome, nil
}

func (q *RetryQueue) relocate(ctx context.Context, task *domain.RetryTask, relocator mailbox.Relocator, logger *zap.Logger) {
	if relocator == nil || task.SourceMessageID == "" || task.SourceFolder == "" {
		return
	}

	err := relocator.Relocate(ctx, task.SourceMessageID, task.SourceFolder, q.cfg.ProblemFolder)
	switch {
	case errors.Is(err, mailbox.ErrMessageNotFound):
		logger.Warn("exhausted message no longer in folder",
			zap.String("messageId", task.SourceMessageID),
			zap.String("folder", task.SourceFolder),
		)
	case err != nil:
		logger.Error("failed to relocate exhausted message",
			zap.String("messageId", task.SourceMessageID),
			zap.String("folder", task.SourceFolder),
			zap.Error(err),
		)
	}
}
