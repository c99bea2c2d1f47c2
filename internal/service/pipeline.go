package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kursadbilgin/bounce-engine/internal/classifier"
	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/mailparse"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"github.com/kursadbilgin/bounce-engine/internal/queue"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"go.uber.org/zap"
)

const rawSnippetLimit = 500

// PassSummary describes one inbox pass.
type PassSummary struct {
	PassID       string
	Listed       int
	Records      int
	ByStatus     map[domain.Status]int
	Routed       map[string]int
	Errors       int
	MoveFailures int
	Expunged     int
	StartedAt    time.Time
	FinishedAt   time.Time
}

func newPassSummary(passID string, start time.Time) PassSummary {
	return PassSummary{
		PassID:    passID,
		ByStatus:  make(map[domain.Status]int),
		Routed:    make(map[string]int),
		StartedAt: start,
	}
}

// Orchestrator runs inbox passes: parse, classify, notify, persist, route, expunge.
type Orchestrator struct {
	cfg        PassConfig
	parser     mailparse.Parser
	classifier *classifier.Classifier
	retries    *RetryQueue
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	cfg PassConfig,
	parser mailparse.Parser,
	c *classifier.Classifier,
	retries *RetryQueue,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if strings.TrimSpace(cfg.InboxFolder) == "" {
		return nil, fmt.Errorf("inbox folder is required")
	}
	if cfg.ProcessedFolder == "" || cfg.SkippedFolder == "" || cfg.ProblemFolder == "" {
		return nil, fmt.Errorf("processed, skipped and problem folders are required")
	}
	if parser == nil {
		return nil, fmt.Errorf("parser is required")
	}
	if c == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		cfg:        cfg.withDefaults(),
		parser:     parser,
		classifier: c,
		retries:    retries,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
		sleep:      sleepWithContext,
	}, nil
}

// SetPublisher enables bounce event fan-out. Publishing is best effort.
func (o *Orchestrator) SetPublisher(publisher queue.Publisher) {
	o.publisher = publisher
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	o.metrics = metrics
}

// RunOnce processes every message in the inbox folder in listing order.
//
// Failures of a single message are contained: its records are written as PROBLEM where possible
// and the message goes to the problem folder. Listing, deletion or expunge failures abort the
// pass and are returned. Messages are only marked deleted after every disposition was persisted.
func (o *Orchestrator) RunOnce(ctx context.Context, source mailbox.Source, n notifier.Notifier, store repository.RecordRepository) (PassSummary, error) {
	if source == nil || n == nil || store == nil {
		return PassSummary{}, fmt.Errorf("source, notifier and store are required")
	}

	passID := o.newID()
	ctx = observability.WithPassID(ctx, passID)
	logger := observability.WithContextLogger(o.logger, ctx)
	summary := newPassSummary(passID, o.now())
	defer func() { o.metrics.ObservePass("inbox", o.now().Sub(summary.StartedAt)) }()

	messages, err := source.ListMessages(ctx, o.cfg.InboxFolder)
	if err != nil {
		return summary, fmt.Errorf("%w: list %s: %w", domain.ErrTransportTransient, o.cfg.InboxFolder, err)
	}
	summary.Listed = len(messages)
	logger.Info("inbox pass started",
		zap.String("folder", o.cfg.InboxFolder),
		zap.Int("messages", len(messages)),
		zap.Bool("testMode", o.cfg.TestMode),
	)

	handled := make([]string, 0, len(messages))
	for _, raw := range messages {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		dest := o.handleMessage(ctx, raw, n, store, &summary, logger)

		if err := source.MoveMessage(ctx, raw.ID, dest); err != nil {
			summary.MoveFailures++
			logger.Error("failed to route message, leaving it in the inbox",
				zap.String("messageId", raw.ID),
				zap.String("folder", dest),
				zap.Error(err),
			)
			continue
		}
		summary.Routed[dest]++
		handled = append(handled, raw.ID)
	}

	for _, id := range handled {
		if err := source.MarkDeleted(ctx, id); err != nil {
			return summary, fmt.Errorf("%w: mark %s deleted: %w", domain.ErrTransportTransient, id, err)
		}
	}
	if err := source.Expunge(ctx); err != nil {
		return summary, fmt.Errorf("%w: expunge %s: %w", domain.ErrTransportTransient, o.cfg.InboxFolder, err)
	}
	summary.Expunged = len(handled)
	summary.FinishedAt = o.now()

	logger.Info("inbox pass finished",
		zap.Int("messages", summary.Listed),
		zap.Int("records", summary.Records),
		zap.Int("errors", summary.Errors),
		zap.Int("moveFailures", summary.MoveFailures),
		zap.Duration("duration", summary.FinishedAt.Sub(summary.StartedAt)),
	)
	return summary, nil
}

// handleMessage persists the records of one message and returns its destination folder.
func (o *Orchestrator) handleMessage(
	ctx context.Context,
	raw mailbox.RawMessage,
	n notifier.Notifier,
	store repository.RecordRepository,
	summary *PassSummary,
	logger *zap.Logger,
) string {
	logger = logger.With(zap.String("messageId", raw.ID))

	msg, err := o.parser.Parse(raw.Data)
	if err != nil {
		summary.Errors++
		logger.Warn("unparseable message routed to problem folder", zap.Error(err))

		rec := o.newRecord("", nil, domain.Indeterminate(snippet(raw.Data), domain.UnknownDomain), domain.StatusProblem)
		if err := o.persist(ctx, func(ctx context.Context) error { return store.Create(ctx, rec) }); err != nil {
			logger.Error("failed to persist problem record", zap.Error(err))
		} else {
			o.recordStored(ctx, rec, summary, logger)
		}
		return o.cfg.ProblemFolder
	}

	subject := msg.SubjectText()
	classification := o.classifier.Classify(msg.Headers(), msg.BodyText(), subject)
	cc := msg.AddressList("Cc")
	notifyTo := o.cfg.NotifyRecipients(cc)

	recipients := dedupeAddresses(msg.AddressList("To"))
	if len(recipients) == 0 {
		recipients = []string{""}
	}

	failed := false
	for _, recipient := range recipients {
		rec := o.newRecord(recipient, cc, classification, domain.StatusSkipped)
		var task *domain.RetryTask

		if classification.IsBounce() {
			rec.Status = domain.StatusProcessed
			if len(notifyTo) > 0 {
				notice := notifier.BounceNotice(notifyTo, nil, recipient, subject, classification.ReasonText)
				if err := n.Send(ctx, notice); err != nil {
					if notifier.IsTransient(err) {
						rec.Status = domain.StatusRetryQueued
						task = o.retries.NewTask(rec, notifyTo, subject, raw)
					} else {
						rec.Status = domain.StatusNotifyFailed
					}
					logger.Warn("bounce notification failed",
						zap.String("recordId", rec.ID),
						zap.String("status", rec.Status.String()),
						zap.Error(err),
					)
				}
			}
		}

		err := o.persist(ctx, func(ctx context.Context) error {
			if task != nil {
				return o.retries.EnqueueNew(ctx, rec, task)
			}
			return store.Create(ctx, rec)
		})
		if err != nil {
			failed = true
			summary.Errors++
			logger.Error("failed to persist bounce record",
				zap.String("recordId", rec.ID),
				zap.String("recipient", recipient),
				zap.Error(err),
			)
			continue
		}
		o.recordStored(ctx, rec, summary, logger)
	}

	switch {
	case failed:
		return o.cfg.ProblemFolder
	case classification.IsBounce():
		return o.cfg.ProcessedFolder
	default:
		return o.cfg.SkippedFolder
	}
}

func (o *Orchestrator) newRecord(recipient string, cc []string, c domain.Classification, status domain.Status) *domain.BounceRecord {
	return &domain.BounceRecord{
		ID:             o.newID(),
		OccurredAt:     o.now().UTC(),
		Recipient:      recipient,
		CcList:         cc,
		Domain:         c.Domain,
		Classification: c,
		Status:         status,
	}
}

// persist retries write with a doubling delay. Validation and conflict errors are not retried.
func (o *Orchestrator) persist(ctx context.Context, write func(ctx context.Context) error) error {
	delay := o.cfg.PersistDelay
	var err error
	for attempt := 1; attempt <= o.cfg.PersistAttempts; attempt++ {
		if err = write(ctx); err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			break
		}
		if attempt == o.cfg.PersistAttempts {
			break
		}
		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w: %w", domain.ErrPersistence, sleepErr)
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %w", domain.ErrPersistence, err)
}

func (o *Orchestrator) recordStored(ctx context.Context, rec *domain.BounceRecord, summary *PassSummary, logger *zap.Logger) {
	summary.Records++
	summary.ByStatus[rec.Status]++
	o.metrics.IncRecord(rec.Status.String())

	logger.Info("bounce record stored",
		zap.String("recordId", rec.ID),
		zap.String("recipient", rec.Recipient),
		zap.String("domain", rec.Domain),
		zap.String("verdict", rec.Classification.Verdict.String()),
		zap.String("reason", rec.Classification.ReasonText),
		zap.String("status", rec.Status.String()),
	)

	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, queue.NewBounceEvent(rec, summary.PassID)); err != nil {
		logger.Warn("failed to publish bounce event",
			zap.String("recordId", rec.ID),
			zap.Error(err),
		)
	}
}

func snippet(data []byte) string {
	if len(data) > rawSnippetLimit {
		data = data[:rawSnippetLimit]
	}
	s := string(data)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "?")
	}
	return strings.TrimSpace(s)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
