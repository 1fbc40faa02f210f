// Package jobs defines the work-item queue used to fan recurring templates
// out to processors. Delivery is at-least-once; handlers must be idempotent.
package jobs

import (
	"context"
	"time"
)

// Publisher defines the interface for publishing work items to a queue.
// Implementations: inmemory.Queue for single-process runs, amqp.Client for
// RabbitMQ.
type Publisher interface {
	Publish(ctx context.Context, msg *RecurringMessage) error
	Close() error
}

// Consumer defines the interface for consuming work items from a queue.
type Consumer interface {
	// Consume returns a channel of deliveries that closes when ctx is done
	// or the underlying connection is gone for good.
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}

// Delivery is one received message plus its settlement actions. Exactly one
// of Ack, Reject, Retry or Defer must be called.
type Delivery struct {
	Message *RecurringMessage

	// Ack settles the message as done.
	Ack func() error
	// Reject drops the message without redelivery.
	Reject func() error
	// Retry redelivers after delay with Attempt incremented.
	Retry func(delay time.Duration) error
	// Defer redelivers after delay without counting an attempt. Used by the
	// per-user throttle.
	Defer func(delay time.Duration) error
}

// Backoff returns the retry delay for a zero-based attempt: 1s doubling up
// to a 30s cap.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return 30 * time.Second
	}
	return time.Duration(1<<attempt) * time.Second
}
