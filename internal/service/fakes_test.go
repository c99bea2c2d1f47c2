package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/queue"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func testPassConfig() PassConfig {
	return PassConfig{
		InboxFolder:     "INBOX",
		ProcessedFolder: "Processed",
		SkippedFolder:   "Skipped",
		ProblemFolder:   "Problem",
		NotifyAlways:    []string{"ops@ours.com"},
		MaxAttempts:     3,
		PersistAttempts: 3,
		PersistDelay:    10 * time.Millisecond,
	}
}

func sequentialIDs(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
}

func testMail(messageID string, to string, cc string, subject string, body string) []byte {
	lines := []string{
		"From: MAILER-DAEMON@mx.example.net",
		"Message-ID: <" + messageID + ">",
	}
	if to != "" {
		lines = append(lines, "To: "+to)
	}
	if cc != "" {
		lines = append(lines, "Cc: "+cc)
	}
	lines = append(lines, "Subject: "+subject, "Content-Type: text/plain; charset=utf-8", "", body, "")
	return []byte(strings.Join(lines, "\r\n"))
}

// eventLog records the order of side effects across fakes.
type eventLog struct {
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) index(prefix string, last bool) int {
	found := -1
	for i, e := range l.events {
		if strings.HasPrefix(e, prefix) {
			found = i
			if !last {
				return found
			}
		}
	}
	return found
}

type memStore struct {
	records  map[string]*domain.BounceRecord
	order    []string
	log      *eventLog
	createFn func(ctx context.Context, rec *domain.BounceRecord) error

	countByStatusFn func(ctx context.Context, since *time.Time) ([]repository.StatusCount, error)
	countByDomainFn func(ctx context.Context, since *time.Time, limit int) ([]repository.DomainCount, error)
}

func newMemStore(log *eventLog) *memStore {
	return &memStore{records: make(map[string]*domain.BounceRecord), log: log}
}

func (s *memStore) Create(ctx context.Context, rec *domain.BounceRecord) error {
	if s.createFn != nil {
		if err := s.createFn(ctx, rec); err != nil {
			return err
		}
	}
	if _, ok := s.records[rec.ID]; ok {
		return domain.ErrConflict
	}
	cp := *rec
	s.records[rec.ID] = &cp
	s.order = append(s.order, rec.ID)
	s.log.add("create:%s", rec.ID)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.BounceRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	rec, ok := s.records[id]
	if !ok {
		return domain.ErrNotFound
	}
	rec.Status = status
	return nil
}

func (s *memStore) List(ctx context.Context, filter repository.RecordFilter) ([]domain.BounceRecord, int64, error) {
	var out []domain.BounceRecord
	for _, rec := range s.all() {
		if filter.Status != nil && rec.Status != *filter.Status {
			continue
		}
		if filter.Domain != "" && rec.Domain != filter.Domain {
			continue
		}
		out = append(out, rec)
	}
	return out, int64(len(out)), nil
}

func (s *memStore) CountByDomain(ctx context.Context, since *time.Time, limit int) ([]repository.DomainCount, error) {
	if s.countByDomainFn != nil {
		return s.countByDomainFn(ctx, since, limit)
	}
	return nil, nil
}

func (s *memStore) CountByStatus(ctx context.Context, since *time.Time) ([]repository.StatusCount, error) {
	if s.countByStatusFn != nil {
		return s.countByStatusFn(ctx, since)
	}
	return nil, nil
}

func (s *memStore) all() []domain.BounceRecord {
	out := make([]domain.BounceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.records[id])
	}
	return out
}

// memRetryRepo keeps tasks next to a memStore so record and task writes land together.
type memRetryRepo struct {
	store *memStore
	tasks map[string]*domain.RetryTask
	order []string

	completeFn      func(taskID string, status domain.Status) error
	recordFailureFn func(taskID string) error
}

func newMemRetryRepo(store *memStore) *memRetryRepo {
	return &memRetryRepo{store: store, tasks: make(map[string]*domain.RetryTask)}
}

func (r *memRetryRepo) CreateWithRecord(ctx context.Context, rec *domain.BounceRecord, task *domain.RetryTask) error {
	if err := r.store.Create(ctx, rec); err != nil {
		return err
	}
	task.BounceRecordID = rec.ID
	r.add(task)
	return nil
}

func (r *memRetryRepo) Enqueue(ctx context.Context, task *domain.RetryTask) error {
	if _, ok := r.store.records[task.BounceRecordID]; !ok {
		return domain.ErrNotFound
	}
	if r.forRecord(task.BounceRecordID) != nil {
		return domain.ErrConflict
	}
	r.add(task)
	return r.store.UpdateStatus(ctx, task.BounceRecordID, domain.StatusRetryQueued)
}

func (r *memRetryRepo) ListPending(ctx context.Context, limit int) ([]domain.RetryTask, error) {
	var out []domain.RetryTask
	for _, id := range r.order {
		task, ok := r.tasks[id]
		if !ok || task.Attempts >= task.MaxAttempts {
			continue
		}
		out = append(out, *task)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *memRetryRepo) RecordFailure(ctx context.Context, id string, lastErr string, at time.Time) error {
	if r.recordFailureFn != nil {
		if err := r.recordFailureFn(id); err != nil {
			return err
		}
	}
	task, ok := r.tasks[id]
	if !ok || task.Attempts >= task.MaxAttempts {
		return domain.ErrNotFound
	}
	task.Attempts++
	task.LastError = &lastErr
	task.LastAttemptAt = &at
	return nil
}

func (r *memRetryRepo) Complete(ctx context.Context, taskID string, status domain.Status) error {
	if r.completeFn != nil {
		if err := r.completeFn(taskID, status); err != nil {
			return err
		}
	}
	task, ok := r.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	delete(r.tasks, taskID)
	return r.store.UpdateStatus(ctx, task.BounceRecordID, status)
}

func (r *memRetryRepo) add(task *domain.RetryTask) {
	cp := *task
	r.tasks[task.ID] = &cp
	r.order = append(r.order, task.ID)
}

func (r *memRetryRepo) forRecord(recordID string) *domain.RetryTask {
	for _, task := range r.tasks {
		if task.BounceRecordID == recordID {
			return task
		}
	}
	return nil
}

type fakeSource struct {
	folders map[string][]mailbox.RawMessage
	log     *eventLog

	listErr    error
	expungeErr error
	moveFn     func(id string, dest string) error

	selected  string
	deleted   map[string]bool
	expunges  int
	relocated []string
	closed    bool
}

func newFakeSource(log *eventLog, inbox ...[]byte) *fakeSource {
	s := &fakeSource{
		folders: make(map[string][]mailbox.RawMessage),
		log:     log,
		deleted: make(map[string]bool),
	}
	for i, data := range inbox {
		s.folders["INBOX"] = append(s.folders["INBOX"], mailbox.RawMessage{
			ID:     fmt.Sprintf("%d", i+1),
			Folder: "INBOX",
			Data:   data,
		})
	}
	return s
}

func (s *fakeSource) ListMessages(ctx context.Context, folder string) ([]mailbox.RawMessage, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.selected = folder
	out := make([]mailbox.RawMessage, len(s.folders[folder]))
	copy(out, s.folders[folder])
	return out, nil
}

func (s *fakeSource) MoveMessage(ctx context.Context, id string, dest string) error {
	if s.moveFn != nil {
		if err := s.moveFn(id, dest); err != nil {
			return err
		}
	}
	for _, m := range s.folders[s.selected] {
		if m.ID == id {
			m.Folder = dest
			s.folders[dest] = append(s.folders[dest], m)
			s.log.add("move:%s:%s", id, dest)
			return nil
		}
	}
	return fmt.Errorf("unknown message %s", id)
}

func (s *fakeSource) MarkDeleted(ctx context.Context, id string) error {
	s.deleted[id] = true
	s.log.add("delete:%s", id)
	return nil
}

func (s *fakeSource) Expunge(ctx context.Context) error {
	if s.expungeErr != nil {
		return s.expungeErr
	}
	s.expunges++
	kept := s.folders[s.selected][:0]
	for _, m := range s.folders[s.selected] {
		if !s.deleted[m.ID] {
			kept = append(kept, m)
		}
	}
	s.folders[s.selected] = kept
	s.deleted = make(map[string]bool)
	s.log.add("expunge")
	return nil
}

func (s *fakeSource) Relocate(ctx context.Context, messageID string, from string, to string) error {
	for i, m := range s.folders[from] {
		if m.MessageID() == messageID {
			s.folders[from] = append(s.folders[from][:i], s.folders[from][i+1:]...)
			s.folders[to] = append(s.folders[to], m)
			s.relocated = append(s.relocated, messageID)
			return nil
		}
	}
	return mailbox.ErrMessageNotFound
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSource) count(folder string) int {
	return len(s.folders[folder])
}

type fakeNotifier struct {
	sendFn func(ctx context.Context, msg notifier.Message) error
	sent   []notifier.Message
	calls  int
}

func (f *fakeNotifier) Send(ctx context.Context, msg notifier.Message) error {
	f.calls++
	if f.sendFn != nil {
		if err := f.sendFn(ctx, msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakePublisher struct {
	publishFn func(ctx context.Context, event queue.BounceEvent) error
	events    []queue.BounceEvent
}

func (f *fakePublisher) Publish(ctx context.Context, event queue.BounceEvent) error {
	f.events = append(f.events, event)
	if f.publishFn != nil {
		return f.publishFn(ctx, event)
	}
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func transientErr() error {
	return &notifier.SendError{Transport: "smtp", StatusCode: 451, Message: "try later", Transient: true}
}

func fatalErr() error {
	return &notifier.SendError{Transport: "smtp", StatusCode: 550, Message: "relay denied"}
}
