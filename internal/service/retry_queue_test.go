package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
)

type retryFixture struct {
	queue    *RetryQueue
	store    *memStore
	retries  *memRetryRepo
	notifier *fakeNotifier
	source   *fakeSource
}

// newRetryFixture stores one RETRY_QUEUED record with a pending task, and its source message
// in the processed folder.
func newRetryFixture(t *testing.T, maxAttempts int) *retryFixture {
	t.Helper()

	cfg := testPassConfig()
	cfg.MaxAttempts = maxAttempts

	f := &retryFixture{notifier: &fakeNotifier{}}
	f.store = newMemStore(nil)
	f.retries = newMemRetryRepo(f.store)
	f.source = newFakeSource(nil)

	q, err := NewRetryQueue(f.retries, f.notifier, cfg, nil)
	if err != nil {
		t.Fatalf("NewRetryQueue() error = %v", err)
	}
	q.newID = sequentialIDs("task")
	q.now = func() time.Time { return testNow }
	f.queue = q

	raw := mailbox.RawMessage{ID: "7", Folder: "Processed", Data: testMail("orig@mx", "sender@ours.com", "", "Failure", "mailbox full")}
	f.source.folders["Processed"] = []mailbox.RawMessage{raw}

	rec := &domain.BounceRecord{
		ID:             "rec-1",
		OccurredAt:     testNow,
		Recipient:      "sender@ours.com",
		Domain:         "example.org",
		Classification: domain.Bounced("mailbox full", "Mailbox full", "example.org"),
		Status:         domain.StatusRetryQueued,
	}
	task := q.NewTask(rec, []string{"ops@ours.com"}, "Failure", raw)
	if err := q.EnqueueNew(context.Background(), rec, task); err != nil {
		t.Fatalf("EnqueueNew() error = %v", err)
	}
	return f
}

func (f *retryFixture) pass(t *testing.T) RetryPassSummary {
	t.Helper()

	summary, err := f.queue.ProcessPass(context.Background(), f.source)
	if err != nil {
		t.Fatalf("ProcessPass() error = %v", err)
	}
	return summary
}

func (f *retryFixture) status(t *testing.T) domain.Status {
	t.Helper()

	rec, err := f.store.GetByID(context.Background(), "rec-1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return rec.Status
}

func TestNewRetryQueueValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetryQueue(nil, &fakeNotifier{}, testPassConfig(), nil); err == nil {
		t.Fatal("expected error when retry repository is nil")
	}
	if _, err := NewRetryQueue(newMemRetryRepo(newMemStore(nil)), nil, testPassConfig(), nil); err == nil {
		t.Fatal("expected error when notifier is nil")
	}
}

func TestRetryQueueSucceedsBeforeCeiling(t *testing.T) {
	t.Parallel()

	f := newRetryFixture(t, 3)
	failuresLeft := 1
	f.notifier.sendFn = func(ctx context.Context, msg notifier.Message) error {
		if failuresLeft > 0 {
			failuresLeft--
			return transientErr()
		}
		return nil
	}

	first := f.pass(t)
	if first.Retryable != 1 || first.Succeeded != 0 {
		t.Fatalf("first pass = %+v", first)
	}
	task := f.retries.tasks["task-1"]
	if task == nil || task.Attempts != 1 || task.LastError == nil || task.LastAttemptAt == nil {
		t.Fatalf("task after failure = %+v", task)
	}
	if f.status(t) != domain.StatusRetryQueued {
		t.Fatalf("status = %s, want RETRY_QUEUED", f.status(t))
	}

	second := f.pass(t)
	if second.Succeeded != 1 {
		t.Fatalf("second pass = %+v", second)
	}
	if len(f.retries.tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(f.retries.tasks))
	}
	if f.status(t) != domain.StatusProcessed {
		t.Fatalf("status = %s, want PROCESSED", f.status(t))
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("delivered notifications = %d, want exactly 1", len(f.notifier.sent))
	}
	if f.notifier.sent[0].Subject != "[Retry] Delivery failed to sender@ours.com" {
		t.Fatalf("subject = %q", f.notifier.sent[0].Subject)
	}

	third := f.pass(t)
	if third.Scanned != 0 || f.notifier.calls != 2 {
		t.Fatalf("third pass = %+v, calls = %d", third, f.notifier.calls)
	}
	if len(f.source.relocated) != 0 {
		t.Fatal("successful task must not relocate the source message")
	}
}

func TestRetryQueueExhaustsAtCeiling(t *testing.T) {
	t.Parallel()

	const maxAttempts = 3
	f := newRetryFixture(t, maxAttempts)
	f.notifier.sendFn = func(ctx context.Context, msg notifier.Message) error { return transientErr() }

	for i := 1; i < maxAttempts; i++ {
		summary := f.pass(t)
		if summary.Retryable != 1 {
			t.Fatalf("pass %d = %+v, want retryable", i, summary)
		}
		if got := f.retries.tasks["task-1"].Attempts; got != i {
			t.Fatalf("attempts after pass %d = %d", i, got)
		}
	}

	last := f.pass(t)
	if last.Exhausted != 1 {
		t.Fatalf("last pass = %+v, want exhausted", last)
	}
	if f.notifier.calls != maxAttempts {
		t.Fatalf("attempts = %d, want exactly %d", f.notifier.calls, maxAttempts)
	}
	if len(f.retries.tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(f.retries.tasks))
	}
	if f.status(t) != domain.StatusProblem {
		t.Fatalf("status = %s, want PROBLEM", f.status(t))
	}
	if len(f.source.relocated) != 1 || f.source.relocated[0] != "<orig@mx>" {
		t.Fatalf("relocated = %v", f.source.relocated)
	}
	if f.source.count("Problem") != 1 || f.source.count("Processed") != 0 {
		t.Fatalf("Problem = %d, Processed = %d", f.source.count("Problem"), f.source.count("Processed"))
	}

	after := f.pass(t)
	if after.Scanned != 0 || f.notifier.calls != maxAttempts {
		t.Fatalf("pass after exhaustion = %+v, calls = %d", after, f.notifier.calls)
	}
}

func TestRetryQueueFatalErrorsCountAsAttempts(t *testing.T) {
	t.Parallel()

	f := newRetryFixture(t, 2)
	f.notifier.sendFn = func(ctx context.Context, msg notifier.Message) error { return fatalErr() }

	if s := f.pass(t); s.Retryable != 1 {
		t.Fatalf("first pass = %+v", s)
	}
	if s := f.pass(t); s.Exhausted != 1 {
		t.Fatalf("second pass = %+v", s)
	}
	if f.status(t) != domain.StatusProblem {
		t.Fatalf("status = %s, want PROBLEM", f.status(t))
	}
}

func TestRetryQueueSingleAttemptCeiling(t *testing.T) {
	t.Parallel()

	f := newRetryFixture(t, 1)
	f.notifier.sendFn = func(ctx context.Context, msg notifier.Message) error { return transientErr() }

	summary, err := f.queue.ProcessPass(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessPass() error = %v", err)
	}
	if summary.Exhausted != 1 || f.notifier.calls != 1 {
		t.Fatalf("summary = %+v, calls = %d", summary, f.notifier.calls)
	}
	if f.status(t) != domain.StatusProblem {
		t.Fatalf("status = %s, want PROBLEM", f.status(t))
	}
}

func TestRetryQueueCompletionFailureLeavesTaskPending(t *testing.T) {
	t.Parallel()

	f := newRetryFixture(t, 3)
	fail := true
	f.retries.completeFn = func(taskID string, status domain.Status) error {
		if fail {
			return errors.New("serialization failure")
		}
		return nil
	}

	first := f.pass(t)
	if first.Errors != 1 || first.Succeeded != 0 {
		t.Fatalf("first pass = %+v", first)
	}
	if f.retries.tasks["task-1"] == nil || f.status(t) != domain.StatusRetryQueued {
		t.Fatal("task and record must be unchanged when completion fails")
	}

	fail = false
	second := f.pass(t)
	if second.Succeeded != 1 || f.status(t) != domain.StatusProcessed {
		t.Fatalf("second pass = %+v, status = %s", second, f.status(t))
	}
}

func TestRetryQueueRequeue(t *testing.T) {
	t.Parallel()

	f := newRetryFixture(t, 3)
	ctx := context.Background()

	if _, err := f.queue.Requeue(ctx, &domain.BounceRecord{ID: "rec-1", Classification: domain.Bounced("x", "y", "z")}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Requeue() with pending task error = %v, want ErrConflict", err)
	}

	other := &domain.BounceRecord{
		ID:             "rec-2",
		OccurredAt:     testNow,
		Recipient:      "sender@ours.com",
		CcList:         []string{"team@ours.com"},
		Domain:         "example.org",
		Classification: domain.Bounced("5.2.2", "Mailbox full", "example.org"),
		Status:         domain.StatusNotifyFailed,
	}
	if err := f.store.Create(ctx, other); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	task, err := f.queue.Requeue(ctx, other)
	if err != nil {
		t.Fatalf("Requeue() error = %v", err)
	}
	if task.BounceRecordID != "rec-2" || task.SourceMessageID != "" {
		t.Fatalf("task = %+v", task)
	}
	if len(task.To) != 2 || task.To[0] != "ops@ours.com" || task.To[1] != "team@ours.com" {
		t.Fatalf("task.To = %v", task.To)
	}
	stored, _ := f.store.GetByID(ctx, "rec-2")
	if stored.Status != domain.StatusRetryQueued {
		t.Fatalf("status = %s, want RETRY_QUEUED", stored.Status)
	}

	skipped := &domain.BounceRecord{ID: "rec-3", Classification: domain.NotABounce(domain.UnknownDomain)}
	if _, err := f.queue.Requeue(ctx, skipped); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Requeue() of non-bounce error = %v, want ErrValidation", err)
	}
}
