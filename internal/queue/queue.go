package queue

import (
	"context"
	"strings"

	"github.com/kursadbilgin/bounce-engine/internal/domain"
)

// Publisher announces bounce records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event BounceEvent) error
	Close() error
}

const (
	// EventsExchange is the topic exchange every bounce event is published to.
	EventsExchange = "bounce.events"
	// RecordsQueue receives every event; other consumers bind their own queues.
	RecordsQueue = "bounce.records"
	// RecordsDLQ holds events rejected by RecordsQueue consumers.
	RecordsDLQ = "dlq.bounce.records"

	routingKeyPrefix = "bounce."
)

// RoutingKey returns the topic for a record status, e.g. bounce.retry_queued.
func RoutingKey(status domain.Status) string {
	return routingKeyPrefix + strings.ToLower(status.String())
}
