package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/mailbox"
	"github.com/kursadbilgin/bounce-engine/internal/notifier"
	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"github.com/kursadbilgin/bounce-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultPassInterval = 5 * time.Minute

// ErrPassInProgress is returned when another pass holds the mailbox lock.
var ErrPassInProgress = errors.New("another pass is in progress")

// PassLocker grants exclusive use of a mailbox for the duration of a pass.
type PassLocker interface {
	TryLock(ctx context.Context, name string) (unlock func(context.Context) error, acquired bool, err error)
}

// SourceOpener connects to the mailbox for one pass. The runner closes the source afterwards.
type SourceOpener func(ctx context.Context) (mailbox.Source, error)

// Runner drives inbox and retry passes, either once or on an interval.
type Runner struct {
	pipeline *Orchestrator
	retries  *RetryQueue
	open     SourceOpener
	notifier notifier.Notifier
	store    repository.RecordRepository
	lock     PassLocker
	lockName string
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewRunner(
	pipeline *Orchestrator,
	retries *RetryQueue,
	open SourceOpener,
	n notifier.Notifier,
	store repository.RecordRepository,
	lock PassLocker,
	interval time.Duration,
	logger *zap.Logger,
) (*Runner, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry queue is required")
	}
	if open == nil {
		return nil, fmt.Errorf("source opener is required")
	}
	if n == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if store == nil {
		return nil, fmt.Errorf("record repository is required")
	}
	if lock == nil {
		lock = NewLocalPassLock()
	}
	if interval <= 0 {
		interval = defaultPassInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		pipeline: pipeline,
		retries:  retries,
		open:     open,
		notifier: n,
		store:    store,
		lock:     lock,
		lockName: "mailbox:" + pipeline.cfg.InboxFolder,
		interval: interval,
		logger:   logger,
	}, nil
}

func (r *Runner) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// Start runs a tick immediately and then every interval until ctx is canceled.
func (r *Runner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.tick(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("pass failed", zap.Error(err))
			}
		}
	}
}

// RunInbox runs a single inbox pass.
func (r *Runner) RunInbox(ctx context.Context) (PassSummary, error) {
	var summary PassSummary
	err := r.withLock(ctx, "inbox", func(ctx context.Context) error {
		source, err := r.open(ctx)
		if err != nil {
			return fmt.Errorf("failed to open mailbox: %w", err)
		}
		defer r.closeSource(source)

		summary, err = r.pipeline.RunOnce(ctx, source, r.notifier, r.store)
		return err
	})
	return summary, err
}

// RunRetry runs a single retry pass. When the mailbox cannot be opened the pass
// still sends, and exhausted tasks keep their message where it is.
func (r *Runner) RunRetry(ctx context.Context) (RetryPassSummary, error) {
	var summary RetryPassSummary
	err := r.withLock(ctx, "retry", func(ctx context.Context) error {
		var relocator mailbox.Relocator
		if source, err := r.open(ctx); err != nil {
			r.logger.Warn("mailbox unavailable, retrying without relocation", zap.Error(err))
		} else {
			defer r.closeSource(source)
			relocator = relocatorOf(source)
		}

		var err error
		summary, err = r.retries.ProcessPass(ctx, relocator)
		return err
	})
	return summary, err
}

// tick runs the inbox pass and then the retry pass under one lock and one connection.
// The retry pass runs even when the inbox pass fails or the mailbox is unreachable.
func (r *Runner) tick(ctx context.Context) error {
	err := r.withLock(ctx, "tick", func(ctx context.Context) error {
		source, err := r.open(ctx)
		if err != nil {
			r.logger.Warn("mailbox unavailable, running retry pass only", zap.Error(err))
			_, retryErr := r.retries.ProcessPass(ctx, nil)
			return errors.Join(fmt.Errorf("failed to open mailbox: %w", err), retryErr)
		}
		defer r.closeSource(source)

		_, inboxErr := r.pipeline.RunOnce(ctx, source, r.notifier, r.store)
		_, retryErr := r.retries.ProcessPass(ctx, relocatorOf(source))
		return errors.Join(inboxErr, retryErr)
	})
	if errors.Is(err, ErrPassInProgress) {
		r.logger.Info("pass skipped, lock held elsewhere", zap.String("lock", r.lockName))
		return nil
	}
	return err
}

func (r *Runner) withLock(ctx context.Context, pass string, fn func(ctx context.Context) error) error {
	unlock, acquired, err := r.lock.TryLock(ctx, r.lockName)
	if err != nil {
		return fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !acquired {
		r.metrics.IncPassSkipped(pass)
		return ErrPassInProgress
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("failed to release pass lock", zap.String("lock", r.lockName), zap.Error(err))
		}
	}()

	return fn(ctx)
}

func (r *Runner) closeSource(source mailbox.Source) {
	if err := source.Close(); err != nil {
		r.logger.Warn("failed to close mailbox", zap.Error(err))
	}
}

func relocatorOf(source mailbox.Source) mailbox.Relocator {
	if relocator, ok := source.(mailbox.Relocator); ok {
		return relocator
	}
	return nil
}

// LocalPassLock is an in-process PassLocker for single-instance deployments.
type LocalPassLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalPassLock() *LocalPassLock {
	return &LocalPassLock{held: make(map[string]struct{})}
}

func (l *LocalPassLock) TryLock(ctx context.Context, name string) (func(context.Context) error, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[name]; ok {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	var once sync.Once
	unlock := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
		return nil
	}
	return unlock, true, nil
}
