// Package worker drains the recurring work-item queue with a bounded pool of
// goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/core"
	"fintrack/internal/jobs"
)

// Handler processes one work item. Returning an error wrapping
// core.ErrInvalidInput drops the item; any other error retries it.
type Handler interface {
	ProcessMessage(ctx context.Context, item core.WorkItem) error
}

// Throttle reserves a slot for key, or says how long until one frees up.
type Throttle interface {
	Reserve(key string) time.Duration
}

// Config holds configuration for the pool
type Config struct {
	// Concurrency is the number of worker goroutines (default: 4)
	Concurrency int

	// MaxRetries is the number of attempts before an item is dropped (default: 5)
	MaxRetries int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MaxRetries:  5,
	}
}

// Stats counts delivery outcomes since the pool was created.
type Stats struct {
	Processed int64 `json:"processed"`
	Retried   int64 `json:"retried"`
	Deferred  int64 `json:"deferred"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
}

type Pool struct {
	consumer jobs.Consumer
	handler  Handler
	throttle Throttle
	config   Config

	processed atomic.Int64
	retried   atomic.Int64
	deferred  atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
}

// NewPool wires a consumer to a handler. throttle may be nil.
func NewPool(consumer jobs.Consumer, handler Handler, throttle Throttle, config Config) *Pool {
	def := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	return &Pool{
		consumer: consumer,
		handler:  handler,
		throttle: throttle,
		config:   config,
	}
}

// Run consumes until ctx is done or the consumer's channel closes.
func (p *Pool) Run(ctx context.Context) error {
	deliveries, err := p.consumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	slog.InfoContext(ctx, "Worker pool started",
		"concurrency", p.config.Concurrency,
		"max_retries", p.config.MaxRetries)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.config.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case d, ok := <-deliveries:
					if !ok {
						return nil
					}
					p.handle(gctx, d)
				}
			}
		})
	}
	err = g.Wait()

	slog.InfoContext(ctx, "Worker pool stopped", "stats", p.Stats())
	return err
}

func (p *Pool) handle(ctx context.Context, d jobs.Delivery) {
	msg := d.Message
	if err := msg.Validate(); err != nil {
		slog.WarnContext(ctx, "Rejecting invalid work item", "error", err)
		p.settle(ctx, msg, d.Reject())
		p.rejected.Add(1)
		return
	}

	if p.throttle != nil {
		if wait := p.throttle.Reserve(msg.UserID); wait > 0 {
			slog.DebugContext(ctx, "User throttled, deferring work item",
				"user_id", msg.UserID,
				"transaction_id", msg.TransactionID,
				"wait", wait)
			p.settle(ctx, msg, d.Defer(wait))
			p.deferred.Add(1)
			return
		}
	}

	err := p.handler.ProcessMessage(ctx, msg.WorkItem())
	switch {
	case err == nil:
		p.settle(ctx, msg, d.Ack())
		p.processed.Add(1)

	case errors.Is(err, core.ErrInvalidInput):
		slog.WarnContext(ctx, "Dropping work item with invalid input",
			"transaction_id", msg.TransactionID,
			"error", err)
		p.settle(ctx, msg, d.Reject())
		p.rejected.Add(1)

	case msg.Attempt+1 >= p.config.MaxRetries:
		slog.ErrorContext(ctx, "Work item failed permanently after max retries",
			"transaction_id", msg.TransactionID,
			"user_id", msg.UserID,
			"attempts", msg.Attempt+1,
			"error", err)
		p.settle(ctx, msg, d.Reject())
		p.failed.Add(1)

	default:
		delay := jobs.Backoff(msg.Attempt)
		slog.WarnContext(ctx, "Work item failed, scheduling retry",
			"transaction_id", msg.TransactionID,
			"attempt", msg.Attempt+1,
			"retry_in", delay,
			"error", err)
		p.settle(ctx, msg, d.Retry(delay))
		p.retried.Add(1)
	}
}

func (p *Pool) settle(ctx context.Context, msg *jobs.RecurringMessage, err error) {
	if err != nil {
		slog.ErrorContext(ctx, "Failed to settle delivery",
			"transaction_id", msg.TransactionID,
			"error", err)
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Retried:   p.retried.Load(),
		Deferred:  p.deferred.Load(),
		Rejected:  p.rejected.Load(),
		Failed:    p.failed.Load(),
	}
}
