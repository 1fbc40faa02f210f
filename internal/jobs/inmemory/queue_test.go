package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/jobs"
)

func receive(t *testing.T, ch <-chan jobs.Delivery) jobs.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		if !ok {
			t.Fatal("delivery channel closed")
		}
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	return jobs.Delivery{}
}

func TestQueuePublishConsumeAck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewQueue(4)
	defer q.Close()

	msg := jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t1", UserID: "u1"})
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	d := receive(t, ch)
	if d.Message.TransactionID != "t1" || d.Message.Kind != jobs.KindProcessRecurring {
		t.Errorf("unexpected message %+v", d.Message)
	}
	if err := d.Ack(); err != nil {
		t.Errorf("Ack() error = %v", err)
	}
}

func TestQueueRetryIncrementsAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewQueue(4)
	defer q.Close()

	_ = q.Publish(ctx, jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t1", UserID: "u1"}))
	ch, _ := q.Consume(ctx)

	first := receive(t, ch)
	_ = first.Retry(10 * time.Millisecond)
	second := receive(t, ch)
	if second.Message.Attempt != 1 {
		t.Errorf("Attempt after Retry = %d, want 1", second.Message.Attempt)
	}

	_ = second.Defer(10 * time.Millisecond)
	third := receive(t, ch)
	if third.Message.Attempt != 1 {
		t.Errorf("Attempt after Defer = %d, want 1", third.Message.Attempt)
	}
	_ = third.Ack()
}

func TestQueueSettlesOnce(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q := NewQueue(4)
	defer q.Close()

	_ = q.Publish(ctx, jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t1", UserID: "u1"}))
	ch, _ := q.Consume(ctx)
	d := receive(t, ch)
	_ = d.Ack()
	_ = d.Retry(time.Millisecond)

	select {
	case d := <-ch:
		t.Errorf("unexpected redelivery of %+v after Ack", d.Message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1)
	_ = q.Close()
	err := q.Publish(context.Background(), jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t", UserID: "u"}))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Publish() after Close = %v, want ErrClosed", err)
	}
	if _, err := q.Consume(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Consume() after Close = %v, want ErrClosed", err)
	}
}

func TestQueueCloseUnblocksFullPublish(t *testing.T) {
	q := NewQueue(1)
	if err := q.Publish(context.Background(), jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t1", UserID: "u1"})); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	published := make(chan error, 1)
	go func() {
		// Same context shape as a retry timer firing after shutdown.
		ctx := context.WithoutCancel(context.Background())
		published <- q.Publish(ctx, jobs.NewRecurringMessage(core.WorkItem{TransactionID: "t2", UserID: "u1"}))
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- q.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return while a publisher was blocked")
	}

	select {
	case err := <-published:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Publish() = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Publish() not released by Close()")
	}
}
