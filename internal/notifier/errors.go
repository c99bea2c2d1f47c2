package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
	"github.com/sony/gobreaker"
)

// SendError classifies notification transport failures as transient/fatal.
type SendError struct {
	Transport  string
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *SendError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	if e.Transport != "" {
		parts = append(parts, e.Transport+" send error")
	} else {
		parts = append(parts, "send error")
	}

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *SendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is maps the error onto the domain transport taxonomy.
func (e *SendError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case domain.ErrTransportTransient:
		return e.Transient
	case domain.ErrTransportFatal:
		return !e.Transient
	}
	return false
}

// IsTransient reports whether a failed send should be retried later.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return true
	}

	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Transient
	}
	if errors.Is(err, domain.ErrTransportTransient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
