// Package ratelimit paces outbound notification sends.
package ratelimit

import "context"

// RateLimiter controls send throughput per key, usually the notifier transport name.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
