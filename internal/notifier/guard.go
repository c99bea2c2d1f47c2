package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/bounce-engine/internal/observability"
	"github.com/kursadbilgin/bounce-engine/internal/ratelimit"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultLimiterWait = 5 * time.Second

// Guarded wraps a transport with a send rate limiter and a circuit breaker.
// Only transient failures count against the breaker.
type Guarded struct {
	next      Notifier
	name      string
	limiter   ratelimit.RateLimiter
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	metrics   *observability.Metrics
	limitWait time.Duration
	now       func() time.Time
}

func NewGuarded(name string, next Notifier, limiter ratelimit.RateLimiter, logger *zap.Logger) (*Guarded, error) {
	if next == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if name == "" {
		return nil, fmt.Errorf("notifier name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("notifier circuit state changed",
				zap.String("notifier", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Guarded{
		next:      next,
		name:      name,
		limiter:   limiter,
		breaker:   breaker,
		logger:    logger,
		limitWait: defaultLimiterWait,
		now:       time.Now,
	}, nil
}

func (g *Guarded) Send(ctx context.Context, msg Message) error {
	if g.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, g.limitWait)
		err := g.limiter.Wait(waitCtx, g.name)
		cancel()
		if err != nil {
			g.metrics.IncNotificationFailed(g.name, true)
			return &SendError{Transport: g.name, Message: "rate limited", Transient: true, Cause: err}
		}
	}

	start := g.now()
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.next.Send(ctx, msg)
	})
	g.metrics.ObserveNotificationSendDuration(g.name, g.now().Sub(start))

	if err != nil {
		g.metrics.IncNotificationFailed(g.name, IsTransient(err))
		return err
	}
	g.metrics.IncNotificationSent(g.name)
	return nil
}

func (g *Guarded) SetMetrics(metrics *observability.Metrics) {
	g.metrics = metrics
}

// State exposes the breaker state for health reporting.
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}
