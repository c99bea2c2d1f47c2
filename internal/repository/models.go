package repository

import (
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// BounceRecordModel is the persistence model for the bounce_records table.
type BounceRecordModel struct {
	ID         string         `gorm:"type:uuid;primaryKey"`
	OccurredAt time.Time      `gorm:"type:timestamptz;not null"`
	Recipient  string         `gorm:"type:varchar(320);not null"`
	CcList     []string       `gorm:"type:jsonb;serializer:json;not null"`
	Domain     string         `gorm:"type:varchar(255);not null"`
	Verdict    domain.Verdict `gorm:"type:varchar(20);not null"`
	ReasonCode string         `gorm:"type:varchar(100);not null;default:''"`
	ReasonText string         `gorm:"type:text;not null;default:''"`
	RawSnippet string         `gorm:"type:text;not null;default:''"`
	Status     domain.Status  `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (BounceRecordModel) TableName() string {
	return "bounce_records"
}

// RetryTaskModel is the persistence model for retry_tasks.
type RetryTaskModel struct {
	ID              string     `gorm:"type:uuid;primaryKey"`
	BounceRecordID  string     `gorm:"type:uuid;not null;uniqueIndex"`
	Attempts        int        `gorm:"not null;default:0"`
	MaxAttempts     int        `gorm:"not null"`
	LastError       *string    `gorm:"type:text"`
	LastAttemptAt   *time.Time `gorm:"type:timestamptz"`
	To              []string   `gorm:"column:notify_to;type:jsonb;serializer:json;not null"`
	Cc              []string   `gorm:"column:notify_cc;type:jsonb;serializer:json;not null"`
	Subject         string     `gorm:"type:text;not null"`
	Body            string     `gorm:"type:text;not null"`
	SourceMessageID string     `gorm:"type:varchar(998);not null;default:''"`
	SourceFolder    string     `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (RetryTaskModel) TableName() string {
	return "retry_tasks"
}

func recordModelFromDomain(r *domain.BounceRecord) *BounceRecordModel {
	if r == nil {
		return nil
	}

	cc := r.CcList
	if cc == nil {
		cc = []string{}
	}

	return &BounceRecordModel{
		ID:         r.ID,
		OccurredAt: r.OccurredAt,
		Recipient:  r.Recipient,
		CcList:     cc,
		Domain:     r.Domain,
		Verdict:    r.Classification.Verdict,
		ReasonCode: r.Classification.ReasonCode,
		ReasonText: r.Classification.ReasonText,
		RawSnippet: r.Classification.RawSnippet,
		Status:     r.Status,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func recordModelToDomain(m *BounceRecordModel) *domain.BounceRecord {
	if m == nil {
		return nil
	}

	return &domain.BounceRecord{
		ID:         m.ID,
		OccurredAt: m.OccurredAt,
		Recipient:  m.Recipient,
		CcList:     m.CcList,
		Domain:     m.Domain,
		Classification: domain.Classification{
			Verdict:    m.Verdict,
			ReasonCode: m.ReasonCode,
			ReasonText: m.ReasonText,
			RawSnippet: m.RawSnippet,
			Domain:     m.Domain,
		},
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func taskModelFromDomain(t *domain.RetryTask) *RetryTaskModel {
	if t == nil {
		return nil
	}

	to, cc := t.To, t.Cc
	if to == nil {
		to = []string{}
	}
	if cc == nil {
		cc = []string{}
	}

	return &RetryTaskModel{
		ID:              t.ID,
		BounceRecordID:  t.BounceRecordID,
		Attempts:        t.Attempts,
		MaxAttempts:     t.MaxAttempts,
		LastError:       t.LastError,
		LastAttemptAt:   t.LastAttemptAt,
		To:              to,
		Cc:              cc,
		Subject:         t.Subject,
		Body:            t.Body,
		SourceMessageID: t.SourceMessageID,
		SourceFolder:    t.SourceFolder,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func taskModelToDomain(m *RetryTaskModel) *domain.RetryTask {
	if m == nil {
		return nil
	}

	return &domain.RetryTask{
		ID:              m.ID,
		BounceRecordID:  m.BounceRecordID,
		Attempts:        m.Attempts,
		MaxAttempts:     m.MaxAttempts,
		LastError:       m.LastError,
		LastAttemptAt:   m.LastAttemptAt,
		To:              m.To,
		Cc:              m.Cc,
		Subject:         m.Subject,
		Body:            m.Body,
		SourceMessageID: m.SourceMessageID,
		SourceFolder:    m.SourceFolder,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
