package domain

import (
	"fmt"
	"strings"
	"time"
)

// DefaultMaxAttempts is the retry ceiling used when none is configured.
const DefaultMaxAttempts = 3

// RetryOutcome is the result of one retry attempt.
type RetryOutcome string

const (
	RetrySucceeded RetryOutcome = "SUCCEEDED"
	RetryRetryable RetryOutcome = "RETRYABLE"
	RetryExhausted RetryOutcome = "EXHAUSTED"
)

func (o RetryOutcome) String() string { return string(o) }

// RetryTask tracks notification attempts for a bounce record whose first send failed.
type RetryTask struct {
	ID             string
	BounceRecordID string
	Attempts       int
	MaxAttempts    int
	LastError      *string
	LastAttemptAt  *time.Time

	To      []string
	Cc      []string
	Subject string
	Body    string

	// SourceMessageID and SourceFolder locate the original mail for problem relocation.
	SourceMessageID string
	SourceFolder    string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *RetryTask) Validate() error {
	if strings.TrimSpace(t.BounceRecordID) == "" {
		return fmt.Errorf("%w: bounceRecordId is required", ErrValidation)
	}
	if t.MaxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be >= 1", ErrValidation)
	}
	if t.Attempts < 0 || t.Attempts > t.MaxAttempts {
		return fmt.Errorf("%w: attempts must be between 0 and %d (got %d)", ErrValidation, t.MaxAttempts, t.Attempts)
	}
	if len(t.To) == 0 && len(t.Cc) == 0 {
		return fmt.Errorf("%w: at least one notification recipient is required", ErrValidation)
	}
	return nil
}

// Remaining reports whether the task may still be attempted.
func (t *RetryTask) Remaining() bool {
	return t.Attempts < t.MaxAttempts
}

// NextOutcome returns the transition for an attempt that failed or succeeded.
// A failure on the last allowed attempt is terminal.
func (t *RetryTask) NextOutcome(sendErr error) RetryOutcome {
	if sendErr == nil {
		return RetrySucceeded
	}
	if t.Attempts+1 >= t.MaxAttempts {
		return RetryExhausted
	}
	return RetryRetryable
}
