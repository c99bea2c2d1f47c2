package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	summaryWindow     = 24 * time.Hour
	summaryTopDomains = 10
)

// DailySummary is the 24h report sent to the notify list.
type DailySummary struct {
	Since    time.Time
	Until    time.Time
	Total    int64
	ByStatus []repository.StatusCount
	Domains  []repository.DomainCount
	To       []string
	Subject  string
	Body     string
}

type SummaryService struct {
	store    repository.RecordRepository
	notifier notifier.Notifier
	cfg      PassConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewSummaryService(store repository.RecordRepository, n notifier.Notifier, cfg PassConfig, logger *zap.Logger) (*SummaryService, error) {
	if store == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if n == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SummaryService{store: store, notifier: n, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Build counts the records of the last 24 hours.
func (s *SummaryService) Build(ctx context.Context) (*DailySummary, error) {
	until := s.now().UTC()
	since := until.Add(-summaryWindow)

	byStatus, err := s.store.CountByStatus(ctx, &since)
	if err != nil {
		return nil, fmt.Errorf("failed to count records by status: %w", err)
	}
	domains, err := s.store.CountByDomain(ctx, &since, summaryTopDomains)
	if err != nil {
		return nil, fmt.Errorf("failed to count records by domain: %w", err)
	}

	summary := &DailySummary{
		Since:    since,
		Until:    until,
		ByStatus: byStatus,
		Domains:  domains,
		To:       s.cfg.NotifyRecipients(nil),
	}
	for _, c := range byStatus {
		summary.Total += c.Count
	}
	summary.Subject = fmt.Sprintf("[Bounce] Daily summary %s", until.Format("2006-01-02"))
	summary.Body = renderSummary(summary)
	return summary, nil
}

// Send builds the summary and mails it. The notify list must not be empty.
func (s *SummaryService) Send(ctx context.Context) (*DailySummary, error) {
	summary, err := s.Build(ctx)
	if err != nil {
		return nil, err
	}
	if len(summary.To) == 0 {
		return nil, fmt.Errorf("%w: no summary recipients configured", domain.ErrValidation)
	}

	err = s.notifier.Send(ctx, notifier.Message{To: summary.To, Subject: summary.Subject, Body: summary.Body})
	if err != nil {
		return nil, fmt.Errorf("failed to send daily summary: %w", err)
	}

	s.logger.Info("daily summary sent",
		zap.Int64("total", summary.Total),
		zap.Strings("to", summary.To),
	)
	return summary, nil
}

func renderSummary(s *DailySummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bounce summary from %s to %s\n\n",
		s.Since.Format("2006-01-02 15:04 MST"), s.Until.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Total records: %d\n", s.Total)

	b.WriteString("\nBy status:\n")
	if len(s.ByStatus) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range s.ByStatus {
		fmt.Fprintf(&b, "  %s: %d\n", c.Status, c.Count)
	}

	b.WriteString("\nTop domains:\n")
	if len(s.Domains) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, c := range s.Domains {
		fmt.Fprintf(&b, "  %s: %d\n", c.Domain, c.Count)
	}
	return b.String()
}
