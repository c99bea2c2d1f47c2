package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// BounceEvent is the broker payload announcing a persisted bounce record.
type BounceEvent struct {
	RecordID   string         `json:"recordId"`
	PassID     string         `json:"passId,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
	Recipient  string         `json:"recipient"`
	Domain     string         `json:"domain"`
	Verdict    domain.Verdict `json:"verdict"`
	ReasonCode string         `json:"reasonCode,omitempty"`
	ReasonText string         `json:"reasonText"`
	Status     domain.Status  `json:"status"`
}

// NewBounceEvent builds the event for a stored record.
func NewBounceEvent(rec *domain.BounceRecord, passID string) BounceEvent {
	return BounceEvent{
		RecordID:   rec.ID,
		PassID:     passID,
		OccurredAt: rec.OccurredAt,
		Recipient:  rec.Recipient,
		Domain:     rec.Domain,
		Verdict:    rec.Classification.Verdict,
		ReasonCode: rec.Classification.ReasonCode,
		ReasonText: rec.Classification.ReasonText,
		Status:     rec.Status,
	}
}

func (e BounceEvent) Validate() error {
	if strings.TrimSpace(e.RecordID) == "" {
		return fmt.Errorf("recordId is required")
	}
	if !e.Verdict.IsValid() {
		return fmt.Errorf("invalid verdict %q", e.Verdict)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}
