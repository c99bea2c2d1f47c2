package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
)

func newTestRecordService(t *testing.T) (*RecordService, *memStore, *memRetryRepo) {
	t.Helper()

	store := newMemStore(nil)
	retries := newMemRetryRepo(store)
	rq, err := NewRetryQueue(retries, &fakeNotifier{}, testPassConfig(), nil)
	if err != nil {
		t.Fatalf("NewRetryQueue() error = %v", err)
	}
	rq.newID = sequentialIDs("task")

	s, err := NewRecordService(store, rq, nil)
	if err != nil {
		t.Fatalf("NewRecordService() error = %v", err)
	}
	return s, store, retries
}

func seedRecord(t *testing.T, store *memStore, id string, c domain.Classification, status domain.Status) {
	t.Helper()

	err := store.Create(context.Background(), &domain.BounceRecord{
		ID:             id,
		OccurredAt:     testNow,
		Recipient:      "sender@ours.com",
		Domain:         c.Domain,
		Classification: c,
		Status:         status,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestRecordServiceGet(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestRecordService(t)
	seedRecord(t, store, "r1", domain.Bounced("5.1.1", "Invalid recipient address", "nowhere.com"), domain.StatusProcessed)

	rec, err := s.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if rec.Domain != "nowhere.com" {
		t.Fatalf("Domain = %q", rec.Domain)
	}

	if _, err := s.Get(context.Background(), " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Get() blank id error = %v, want ErrValidation", err)
	}
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get() missing error = %v, want ErrNotFound", err)
	}
}

func TestRecordServiceList(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestRecordService(t)
	seedRecord(t, store, "r1", domain.Bounced("5.1.1", "Invalid recipient address", "nowhere.com"), domain.StatusProcessed)
	seedRecord(t, store, "r2", domain.NotABounce("example.org"), domain.StatusSkipped)

	status := domain.StatusSkipped
	records, total, err := s.List(context.Background(), repository.RecordFilter{Status: &status})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || records[0].ID != "r2" {
		t.Fatalf("List() = %+v, total %d", records, total)
	}

	from := testNow
	to := testNow.Add(-time.Hour)
	if _, _, err := s.List(context.Background(), repository.RecordFilter{From: &from, To: &to}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("List() inverted range error = %v, want ErrValidation", err)
	}
}

func TestRecordServiceTopDomainsDefaultLimit(t *testing.T) {
	t.Parallel()

	s, store, _ := newTestRecordService(t)
	var gotLimit int
	store.countByDomainFn = func(ctx context.Context, since *time.Time, limit int) ([]repository.DomainCount, error) {
		gotLimit = limit
		return nil, nil
	}

	if _, err := s.TopDomains(context.Background(), nil, 0); err != nil {
		t.Fatalf("TopDomains() error = %v", err)
	}
	if gotLimit != defaultTopDomains {
		t.Fatalf("limit = %d, want %d", gotLimit, defaultTopDomains)
	}
}

func TestRecordServiceRequeue(t *testing.T) {
	t.Parallel()

	s, store, retries := newTestRecordService(t)
	seedRecord(t, store, "r1", domain.Bounced("5.2.2", "Mailbox full", "example.org"), domain.StatusNotifyFailed)
	seedRecord(t, store, "r2", domain.NotABounce("example.org"), domain.StatusSkipped)

	rec, task, err := s.Requeue(context.Background(), "r1")
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if rec.Status != domain.StatusRetryQueued || task.BounceRecordID != "r1" {
		t.Fatalf("Requeue() = %+v, %+v", rec, task)
	}
	if len(retries.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(retries.tasks))
	}

	if _, _, err := s.Requeue(context.Background(), "r1"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Requeue() error = %v, want ErrConflict", err)
	}
	if _, _, err := s.Requeue(context.Background(), "r2"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Requeue() of skipped record error = %v, want ErrValidation", err)
	}
	if _, _, err := s.Requeue(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Requeue() of missing record error = %v, want ErrNotFound", err)
	}
}
