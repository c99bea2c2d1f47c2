package domain

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the disposition of a bounce record.
type Status string

const (
	StatusProcessed    Status = "PROCESSED"
	StatusSkipped      Status = "SKIPPED"
	StatusRetryQueued  Status = "RETRY_QUEUED"
	StatusNotifyFailed Status = "NOTIFY_FAILED"
	StatusProblem      Status = "PROBLEM"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusProcessed, StatusSkipped, StatusRetryQueued, StatusNotifyFailed, StatusProblem:
		return true
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// UnknownDomain is stored when no address-shaped token is available.
const UnknownDomain = "unknown"

// BounceRecord is one classified (message, recipient) pair. Records are never deleted.
type BounceRecord struct {
	ID             string
	OccurredAt     time.Time
	Recipient      string
	CcList         []string
	Domain         string
	Classification Classification
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (r *BounceRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurredAt is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, r.Status)
	}
	if !r.Classification.Verdict.IsValid() {
		return fmt.Errorf("%w: invalid verdict %q", ErrValidation, r.Classification.Verdict)
	}
	if strings.TrimSpace(r.Domain) == "" {
		return fmt.Errorf("%w: domain is required", ErrValidation)
	}
	return nil
}

// DomainOf returns the lower-cased part after the last '@' of address, or UnknownDomain.
func DomainOf(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndex(address, "@")
	if at < 0 || at == len(address)-1 {
		return UnknownDomain
	}
	domain := strings.ToLower(strings.Trim(address[at+1:], "<> \t"))
	if domain == "" {
		return UnknownDomain
	}
	return domain
}
