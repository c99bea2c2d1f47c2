package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"github.com/kursadbilgin/bounce-engine/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100

	defaultDomainLimit = 5
	maxDomainLimit     = 100
)

type RecordService interface {
	Get(ctx context.Context, id string) (*domain.BounceRecord, error)
	List(ctx context.Context, filter repository.RecordFilter) ([]domain.BounceRecord, int64, error)
	TopDomains(ctx context.Context, since *time.Time, limit int) ([]repository.DomainCount, error)
	StatusCounts(ctx context.Context, since *time.Time) ([]repository.StatusCount, error)
	Requeue(ctx context.Context, id string) (*domain.BounceRecord, *domain.RetryTask, error)
}

type SummarySender interface {
	Send(ctx context.Context) (*service.DailySummary, error)
}

type RecordHandler struct {
	records RecordService
	summary SummarySender
}

func NewRecordHandler(records RecordService, summary SummarySender) (*RecordHandler, error) {
	if records == nil {
		return nil, fmt.Errorf("record service is required")
	}
	if summary == nil {
		return nil, fmt.Errorf("summary sender is required")
	}
	return &RecordHandler{records: records, summary: summary}, nil
}

func RegisterRecordRoutes(router fiber.Router, records RecordService, summary SummarySender) error {
	h, err := NewRecordHandler(records, summary)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/records", h.ListRecords)
	v1.Get("/records/:id", h.GetRecord)
	v1.Post("/records/:id/retry", h.RetryRecord)
	v1.Get("/stats/domains", h.TopDomains)
	v1.Get("/stats/statuses", h.StatusCounts)
	v1.Post("/summary", h.SendSummary)

	return nil
}

type recordResponse struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurredAt"`
	Recipient  string    `json:"recipient"`
	CcList     []string  `json:"ccList"`
	Domain     string    `json:"domain"`
	Verdict    string    `json:"verdict"`
	ReasonCode string    `json:"reasonCode,omitempty"`
	ReasonText string    `json:"reasonText"`
	RawSnippet string    `json:"rawSnippet,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt,omitempty"`
}

type listRecordsResponse struct {
	Data []recordResponse `json:"data"`
	Meta listMeta         `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type retryResponse struct {
	Record      recordResponse `json:"record"`
	TaskID      string         `json:"taskId"`
	MaxAttempts int            `json:"maxAttempts"`
}

type summaryResponse struct {
	Since    time.Time                `json:"since"`
	Until    time.Time                `json:"until"`
	Total    int64                    `json:"total"`
	Statuses []repository.StatusCount `json:"statuses"`
	Domains  []repository.DomainCount `json:"domains"`
	To       []string                 `json:"to"`
}

func (h *RecordHandler) ListRecords(c *fiber.Ctx) error {
	filter, err := parseRecordFilter(c)
	if err != nil {
		return err
	}

	records, total, err := h.records.List(c.Context(), filter)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(listRecordsResponse{
		Data: toRecordResponses(records),
		Meta: listMeta{
			Page:     filter.Page,
			PageSize: filter.PageSize,
			Total:    total,
		},
	})
}

func (h *RecordHandler) GetRecord(c *fiber.Ctx) error {
	rec, err := h.records.Get(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(toRecordResponse(rec))
}

func (h *RecordHandler) RetryRecord(c *fiber.Ctx) error {
	rec, task, err := h.records.Requeue(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusAccepted).JSON(retryResponse{
		Record:      toRecordResponse(rec),
		TaskID:      task.ID,
		MaxAttempts: task.MaxAttempts,
	})
}

func (h *RecordHandler) TopDomains(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultDomainLimit)
	if limit < 1 || limit > maxDomainLimit {
		return fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrValidation, maxDomainLimit)
	}
	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return err
	}

	counts, err := h.records.TopDomains(c.Context(), since, limit)
	if err != nil {
		return err
	}
	if counts == nil {
		counts = []repository.DomainCount{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": counts})
}

func (h *RecordHandler) StatusCounts(c *fiber.Ctx) error {
	since, err := parseRFC3339Query(c.Query("since"), "since")
	if err != nil {
		return err
	}

	counts, err := h.records.StatusCounts(c.Context(), since)
	if err != nil {
		return err
	}
	if counts == nil {
		counts = []repository.StatusCount{}
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"data": counts})
}

func (h *RecordHandler) SendSummary(c *fiber.Ctx) error {
	summary, err := h.summary.Send(c.Context())
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusOK).JSON(summaryResponse{
		Since:    summary.Since,
		Until:    summary.Until,
		Total:    summary.Total,
		Statuses: summary.ByStatus,
		Domains:  summary.Domains,
		To:       summary.To,
	})
}

func parseRecordFilter(c *fiber.Ctx) (repository.RecordFilter, error) {
	filter := repository.RecordFilter{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
		Domain:   strings.ToLower(strings.TrimSpace(c.Query("domain"))),
	}

	if filter.Page < 1 {
		return repository.RecordFilter{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if filter.PageSize < 1 || filter.PageSize > maxPageSize {
		return repository.RecordFilter{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.RecordFilter{}, err
		}
		filter.Status = &status
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.RecordFilter{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.RecordFilter{}, err
	}
	filter.From = from
	filter.To = to

	return filter, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toRecordResponses(records []domain.BounceRecord) []recordResponse {
	responses := make([]recordResponse, 0, len(records))
	for _, record := range records {
		r := record
		responses = append(responses, toRecordResponse(&r))
	}
	return responses
}

func toRecordResponse(r *domain.BounceRecord) recordResponse {
	if r == nil {
		return recordResponse{}
	}

	cc := r.CcList
	if cc == nil {
		cc = []string{}
	}
	return recordResponse{
		ID:         r.ID,
		OccurredAt: r.OccurredAt,
		Recipient:  r.Recipient,
		CcList:     cc,
		Domain:     r.Domain,
		Verdict:    r.Classification.Verdict.String(),
		ReasonCode: r.Classification.ReasonCode,
		ReasonText: r.Classification.ReasonText,
		RawSnippet: r.Classification.RawSnippet,
		Status:     r.Status.String(),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}
