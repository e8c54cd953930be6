package ports

import "context"

// EventPublisher hands domain events to the broker.
//
// Publish is fire-and-forget: it returns before the message is sent, and
// delivery failures are logged and counted by the implementation, never
// reported to the caller. Key selects the partition and the ordering scope.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload any)
}
