// Package amqp carries recurring work items over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"fintrack/internal/jobs"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures          = 5
	openTimeout          = 30 * time.Second
	publishTimeout       = 5 * time.Second
	maxPublishAttempts   = 3
	maxReconnectAttempts = 10
	defaultPrefetch      = 10

	// Idle delay queues are deleted by the broker this long after their TTL.
	delayQueueIdle = time.Minute
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Client publishes and consumes RecurringMessages on a durable direct
// exchange. It reconnects on connection loss.
type Client struct {
	url          string
	exchangeName string
	queueName    string
	prefetch     int

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	failureCount int64
	state        int32
	lastFailure  time.Time

	// delayed parks a message until it is due; PublishDelayed outside tests.
	delayed func(ctx context.Context, msg *jobs.RecurringMessage, delay time.Duration) error
}

var (
	_ jobs.Publisher = (*Client)(nil)
	_ jobs.Consumer  = (*Client)(nil)
)

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	client := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		prefetch:     defaultPrefetch,
	}
	client.delayed = client.PublishDelayed
	if err := client.connect(); err != nil {
		return nil, err
	}
	return client, nil
}

// WithPrefetch bounds how many unacked deliveries the broker hands out.
func (c *Client) WithPrefetch(n int) *Client {
	if n > 0 {
		c.prefetch = n
	}
	return c
}

func (c *Client) connect() error {
	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := setup(channel, c.exchangeName, c.queueName); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn, c.channel = conn, channel
	c.mu.Unlock()
	return nil
}

func setup(ch *amqp091.Channel, exchangeName, queueName string) error {
	// Declare exchange
	err := ch.ExchangeDeclare(
		exchangeName, // name
		"direct",     // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	// Declare queue
	_, err = ch.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	// Bind queue to exchange
	err = ch.QueueBind(
		queueName,    // queue name
		queueName,    // routing key (same as queue name for direct exchange)
		exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// reconnect replaces a dead connection, backing off between dials.
func (c *Client) reconnect(ctx context.Context) error {
	c.closeConn()
	var err error
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		if err = c.connect(); err == nil {
			slog.InfoContext(ctx, "Reconnected to AMQP", "attempt", attempt+1)
			return nil
		}
		delay := exponentialBackoff(attempt)
		slog.WarnContext(ctx, "AMQP reconnect failed",
			"attempt", attempt+1,
			"retry_in", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("reconnect after %d attempts: %w", maxReconnectAttempts, err)
}

func (c *Client) currentChannel() *amqp091.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

// Publish sends msg as a persistent JSON message. Connection errors trigger a
// reconnect and another try.
func (c *Client) Publish(ctx context.Context, msg *jobs.RecurringMessage) error {
	return c.publish(ctx, msg, 0)
}

// PublishDelayed parks msg in a delay queue whose TTL is delay rounded up to
// whole seconds. Expired messages dead-letter back to the work exchange.
// A non-positive delay publishes straight to the work queue.
func (c *Client) PublishDelayed(ctx context.Context, msg *jobs.RecurringMessage, delay time.Duration) error {
	return c.publish(ctx, msg, delay)
}

func (c *Client) publish(ctx context.Context, msg *jobs.RecurringMessage, delay time.Duration) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("publish %s: %w", msg.TransactionID, ErrCircuitOpen)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	for attempt := 0; attempt < maxPublishAttempts; attempt++ {
		err = c.publishOnce(ctx, body, delay)
		if err == nil {
			c.recordSuccess()
			slog.DebugContext(ctx, "Published recurring work item",
				"transaction_id", msg.TransactionID,
				"user_id", msg.UserID,
				"attempt", msg.Attempt,
				"delay", delay,
				"exchange", c.exchangeName,
				"queue", c.queueName)
			return nil
		}

		c.recordFailure()
		if !isConnectionError(err) || c.isCircuitOpen() {
			break
		}
		if rerr := c.reconnect(ctx); rerr != nil {
			err = errors.Join(err, rerr)
			break
		}
	}
	return fmt.Errorf("publish message: %w", err)
}

func (c *Client) publishOnce(ctx context.Context, body []byte, delay time.Duration) error {
	ch := c.currentChannel()
	if ch == nil {
		return amqp091.ErrClosed
	}

	exchange, key := c.exchangeName, c.queueName
	if delay > 0 {
		name, ttl := delayQueueName(c.queueName, delay)
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			delayQueueArgs(c.exchangeName, c.queueName, ttl),
		)
		if err != nil {
			return fmt.Errorf("declare delay queue %s: %w", name, err)
		}
		// The default exchange routes by queue name.
		exchange, key = "", name
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	return ch.PublishWithContext(
		ctx,
		exchange, // exchange
		key,      // routing key
		false,    // mandatory
		false,    // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // make message persistent
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Consume starts manual-ack consumption. Malformed messages are rejected
// without requeue and never surface. The returned channel closes when ctx is
// done or reconnecting gives up.
func (c *Client) Consume(ctx context.Context) (<-chan jobs.Delivery, error) {
	msgs, err := c.startConsuming()
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Started consuming recurring work items", "queue", c.queueName)

	out := make(chan jobs.Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				slog.InfoContext(ctx, "Stopping message consumption", "reason", ctx.Err())
				return
			case d, ok := <-msgs:
				if !ok {
					slog.WarnContext(ctx, "AMQP delivery channel closed, reconnecting")
					if err := c.reconnect(ctx); err != nil {
						slog.ErrorContext(ctx, "Giving up on AMQP consumption", "error", err)
						return
					}
					if msgs, err = c.startConsuming(); err != nil {
						slog.ErrorContext(ctx, "Failed to restart consumption", "error", err)
						return
					}
					continue
				}

				msg, err := parseBody(d.Body)
				if err != nil {
					slog.ErrorContext(ctx, "Rejecting malformed message", "error", err)
					d.Nack(false, false) // reject and don't requeue
					continue
				}

				select {
				case out <- c.toDelivery(ctx, d, msg):
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Client) startConsuming() (<-chan amqp091.Delivery, error) {
	ch := c.currentChannel()
	if ch == nil {
		return nil, amqp091.ErrClosed
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack (we want manual ack)
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("start consuming: %w", err)
	}
	return msgs, nil
}

// toDelivery wraps d. Retry and Defer park a copy in a delay queue and ack
// the original at once, so waiting items never hold prefetch slots. If the
// copy cannot be parked, the original is requeued after the delay instead.
func (c *Client) toDelivery(ctx context.Context, d amqp091.Delivery, msg *jobs.RecurringMessage) jobs.Delivery {
	var once sync.Once
	settle := func(fn func() error) error {
		err := errors.New("delivery already settled")
		once.Do(func() { err = fn() })
		return err
	}
	later := func(delay time.Duration, countAttempt bool) error {
		return settle(func() error {
			next := redeliveryOf(msg, countAttempt)
			bg := context.WithoutCancel(ctx)
			if err := c.delayed(bg, next, delay); err != nil {
				slog.ErrorContext(bg, "Failed to park work item, requeueing original after delay",
					"transaction_id", msg.TransactionID,
					"delay", delay,
					"error", err)
				time.AfterFunc(delay, func() { d.Nack(false, true) })
				return nil
			}
			return d.Ack(false)
		})
	}

	return jobs.Delivery{
		Message: msg,
		Ack:     func() error { return settle(func() error { return d.Ack(false) }) },
		Reject:  func() error { return settle(func() error { return d.Nack(false, false) }) },
		Retry:   func(delay time.Duration) error { return later(delay, true) },
		Defer:   func(delay time.Duration) error { return later(delay, false) },
	}
}

func parseBody(body []byte) (*jobs.RecurringMessage, error) {
	msg, err := jobs.RecurringMessageFromJSON(body)
	if err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// delayQueueName buckets delays by whole seconds, so all messages in one
// delay queue share a TTL and expire in arrival order.
func delayQueueName(queueName string, delay time.Duration) (string, time.Duration) {
	secs := int64((delay + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%s.delay.%ds", queueName, secs), time.Duration(secs) * time.Second
}

func delayQueueArgs(exchangeName, queueName string, ttl time.Duration) amqp091.Table {
	return amqp091.Table{
		"x-message-ttl":             ttl.Milliseconds(),
		"x-dead-letter-exchange":    exchangeName,
		"x-dead-letter-routing-key": queueName,
		"x-expires":                 (ttl + delayQueueIdle).Milliseconds(),
	}
}

func redeliveryOf(msg *jobs.RecurringMessage, countAttempt bool) *jobs.RecurringMessage {
	next := *msg
	if countAttempt {
		next.Attempt++
	}
	next.Timestamp = time.Now()
	return &next
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.state) != StateOpen {
		return false
	}
	c.mu.Lock()
	last := c.lastFailure
	c.mu.Unlock()
	if time.Since(last) > openTimeout {
		atomic.CompareAndSwapInt32(&c.state, StateOpen, StateHalfOpen)
		return false
	}
	return true
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if atomic.AddInt64(&c.failureCount, 1) >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff is the reconnect delay for a zero-based attempt.
func exponentialBackoff(attempt int) time.Duration {
	return jobs.Backoff(attempt)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection", "eof", "broken pipe", "channel/connection is not open"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
