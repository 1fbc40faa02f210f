// Package inmemory provides a channel-backed jobs.Publisher and
// jobs.Consumer for single-process deployments and tests.
package inmemory

import (
	"context"
	"errors"
	"sync"
	"time"

	"fintrack/internal/jobs"
)

var ErrClosed = errors.New("queue is closed")

// Queue is safe for concurrent use. Retried and deferred messages are
// re-enqueued by timers, so they are lost if the process exits first.
type Queue struct {
	ch        chan *jobs.RecurringMessage
	closeChan chan struct{}
	mu        sync.RWMutex
	closed    bool
}

// NewQueue creates a queue; Publish blocks once bufferSize messages wait.
func NewQueue(bufferSize int) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		ch:        make(chan *jobs.RecurringMessage, bufferSize),
		closeChan: make(chan struct{}),
	}
}

// Publish enqueues msg, blocking while the buffer is full. The lock is not
// held while blocked, so Close always completes and wakes blocked publishers.
func (q *Queue) Publish(ctx context.Context, msg *jobs.RecurringMessage) error {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	select {
	case <-q.closeChan:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrClosed
	}
}

// Consume hands out deliveries until ctx is done or the queue is closed.
func (q *Queue) Consume(ctx context.Context) (<-chan jobs.Delivery, error) {
	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	out := make(chan jobs.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.closeChan:
				return
			case msg := <-q.ch:
				select {
				case out <- q.delivery(ctx, msg):
				case <-ctx.Done():
					return
				case <-q.closeChan:
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *Queue) delivery(ctx context.Context, msg *jobs.RecurringMessage) jobs.Delivery {
	var once sync.Once
	settle := func(fn func()) error {
		once.Do(fn)
		return nil
	}
	return jobs.Delivery{
		Message: msg,
		Ack:     func() error { return settle(func() {}) },
		Reject:  func() error { return settle(func() {}) },
		Retry: func(delay time.Duration) error {
			return settle(func() {
				next := *msg
				next.Attempt++
				q.later(ctx, &next, delay)
			})
		},
		Defer: func(delay time.Duration) error {
			return settle(func() {
				next := *msg
				q.later(ctx, &next, delay)
			})
		},
	}
}

func (q *Queue) later(ctx context.Context, msg *jobs.RecurringMessage, delay time.Duration) {
	time.AfterFunc(delay, func() {
		_ = q.Publish(context.WithoutCancel(ctx), msg)
	})
}

// Len reports how many messages are waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops consumers. Pending timers publish into a closed queue and
// are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.closeChan)
	return nil
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
